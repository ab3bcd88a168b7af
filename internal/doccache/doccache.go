// Package doccache caches text extracted from study documents for the
// current session. It is emptied whenever the session ends so the next user
// starts clean.
package doccache

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// MaxDocumentSize bounds how much of a file is read.
const MaxDocumentSize = 8 << 20

// DefaultSize is the number of documents kept when no size is configured.
const DefaultSize = 64

// Document is the extracted form of a file.
type Document struct {
	Path        string
	Title       string
	Text        string
	Words       int
	Truncated   bool
	ExtractedAt time.Time
}

// Cache is an LRU of extracted documents keyed by path and modification
// time, so an edited file is extracted again.
type Cache struct {
	*lru.Cache[string, Document]
	now func() time.Time
}

func New(size int) (*Cache, error) {
	if size <= 0 {
		size = DefaultSize
	}
	c, err := lru.New[string, Document](size)
	if err != nil {
		return nil, err
	}
	return &Cache{Cache: c, now: time.Now}, nil
}

// Open returns the extracted document for path and whether it came from the
// cache.
func (c *Cache) Open(path string) (Document, bool, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return Document{}, false, err
	}

	info, err := os.Stat(abs)
	if err != nil {
		return Document{}, false, err
	}
	if info.IsDir() {
		return Document{}, false, fmt.Errorf("%s is a directory", path)
	}

	key := fmt.Sprintf("%s@%d:%d", abs, info.ModTime().UnixNano(), info.Size())
	if doc, ok := c.Get(key); ok {
		return doc, true, nil
	}

	f, err := os.Open(abs)
	if err != nil {
		return Document{}, false, err
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, MaxDocumentSize+1))
	if err != nil {
		return Document{}, false, fmt.Errorf("failed to read %s: %w", path, err)
	}

	truncated := len(data) > MaxDocumentSize
	if truncated {
		data = data[:MaxDocumentSize]
	}

	doc, err := Extract(abs, data)
	if err != nil {
		return Document{}, false, fmt.Errorf("failed to extract %s: %w", path, err)
	}
	doc.Truncated = truncated
	doc.ExtractedAt = c.now()

	_ = c.Add(key, doc)
	return doc, false, nil
}

// Extract normalises raw file content into a Document. The title is the first
// non-empty line with any markdown heading marker removed. A single line may
// be as long as MaxDocumentSize.
func Extract(path string, data []byte) (Document, error) {
	doc := Document{Path: path}

	var lines []string
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64<<10), MaxDocumentSize+1)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), " \t\r")
		if doc.Title == "" {
			if t := strings.TrimSpace(strings.TrimLeft(line, "#")); t != "" {
				doc.Title = t
			}
		}
		lines = append(lines, line)
	}
	if err := scanner.Err(); err != nil {
		return Document{}, err
	}

	doc.Text = strings.TrimSpace(strings.Join(lines, "\n"))
	doc.Words = len(strings.Fields(doc.Text))
	if doc.Title == "" {
		doc.Title = filepath.Base(path)
	}
	return doc, nil
}

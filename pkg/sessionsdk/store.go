package sessionsdk

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/aussiebroadwan/studyhall/pkg/slogx"
)

// Storage keys. KeyRecord holds the authoritative record; the others are
// convenience copies for collaborators that only need one field.
const (
	KeyRecord       = "auth-storage"
	KeyToken        = "token"
	KeySessionID    = "session_id"
	KeyRefreshToken = "refresh_token"
)

// allKeys is every key Clear removes.
var allKeys = []string{KeyRecord, KeyToken, KeySessionID, KeyRefreshToken}

// ErrNotFound is returned by a KV when a key does not exist.
var ErrNotFound = errors.New("kv: not found")

// KV is a durable byte store. Concrete drivers (memory, sqlite, file)
// implement this.
type KV interface {
	// Get returns the value for key or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set creates or replaces the value for key.
	Set(ctx context.Context, key string, value []byte) error

	// Delete removes keys. Missing keys are not an error.
	Delete(ctx context.Context, keys ...string) error
}

// Sealer encrypts values before they reach the KV. *cryptox.Sealer
// implements it.
type Sealer interface {
	Seal(plaintext []byte) ([]byte, error)
	Open(sealed []byte) ([]byte, error)
}

// SessionStore is the contract every component reads and writes the session
// through. Load returns a nil record when there is no session.
type SessionStore interface {
	Load(ctx context.Context) (*Record, error)
	Save(ctx context.Context, rec Record) error
	Clear(ctx context.Context) error
}

// Store is the persisted SessionStore. It serialises the record as JSON,
// optionally seals it, and repairs incomplete records on load.
type Store struct {
	kv     KV
	sealer Sealer
	now    func() time.Time
	logger *slog.Logger
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithSealer encrypts every persisted value with s.
func WithSealer(s Sealer) StoreOption {
	return func(st *Store) { st.sealer = s }
}

// WithStoreClock overrides time.Now, used when backfilling missing timestamps.
func WithStoreClock(now func() time.Time) StoreOption {
	return func(st *Store) { st.now = now }
}

// WithStoreLogger sets the logger used to report discarded records.
func WithStoreLogger(l *slog.Logger) StoreOption {
	return func(st *Store) { st.logger = l }
}

// NewStore creates a Store over kv.
func NewStore(kv KV, opts ...StoreOption) *Store {
	s := &Store{
		kv:     kv,
		now:    time.Now,
		logger: slogx.Discard(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Load returns the stored record, or nil when there is none.
//
// Unreadable data (bad JSON, failed unseal, a record without a token) is
// treated as "no session": the store is cleared and nil is returned. A
// record missing TokenExpiry or LastActivity is stamped with now and saved
// back.
func (s *Store) Load(ctx context.Context) (*Record, error) {
	raw, err := s.kv.Get(ctx, KeyRecord)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read session: %w", err)
	}

	rec, err := s.decode(raw)
	if err != nil {
		s.logger.Warn("discarding unreadable session record", "error", err)
		if clearErr := s.Clear(ctx); clearErr != nil {
			return nil, clearErr
		}
		return nil, nil
	}

	now := s.now()
	repaired := false
	if rec.TokenExpiry.IsZero() {
		rec.TokenExpiry = now
		repaired = true
	}
	if rec.LastActivity.IsZero() {
		rec.LastActivity = now
		repaired = true
	}
	if repaired {
		if err := s.Save(ctx, rec); err != nil {
			return nil, err
		}
	}

	return &rec, nil
}

// Save replaces the stored record and its convenience copies.
func (s *Store) Save(ctx context.Context, rec Record) error {
	if rec.AccessToken == "" {
		return fmt.Errorf("refusing to save session without access token")
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode session: %w", err)
	}

	if err := s.put(ctx, KeyRecord, data); err != nil {
		return err
	}

	copies := map[string]string{
		KeyToken:        rec.AccessToken,
		KeySessionID:    rec.SessionID,
		KeyRefreshToken: rec.RefreshToken,
	}
	var stale []string
	for key, value := range copies {
		if value == "" {
			stale = append(stale, key)
			continue
		}
		if err := s.put(ctx, key, []byte(value)); err != nil {
			return err
		}
	}
	if len(stale) > 0 {
		if err := s.kv.Delete(ctx, stale...); err != nil {
			return fmt.Errorf("failed to delete stale keys: %w", err)
		}
	}

	return nil
}

// Clear removes the record and every convenience copy.
func (s *Store) Clear(ctx context.Context) error {
	if err := s.kv.Delete(ctx, allKeys...); err != nil {
		return fmt.Errorf("failed to clear session: %w", err)
	}
	return nil
}

func (s *Store) put(ctx context.Context, key string, value []byte) error {
	if s.sealer != nil {
		sealed, err := s.sealer.Seal(value)
		if err != nil {
			return fmt.Errorf("failed to seal %s: %w", key, err)
		}
		value = sealed
	}
	if err := s.kv.Set(ctx, key, value); err != nil {
		return fmt.Errorf("failed to write %s: %w", key, err)
	}
	return nil
}

func (s *Store) decode(raw []byte) (Record, error) {
	if s.sealer != nil {
		opened, err := s.sealer.Open(raw)
		if err != nil {
			return Record{}, err
		}
		raw = opened
	}

	var rec Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return Record{}, err
	}
	if rec.AccessToken == "" {
		return Record{}, fmt.Errorf("record has no access token")
	}
	return rec, nil
}

// ============================================================================
// MemoryKV
// ============================================================================

// MemoryKV is an in-process KV. It does not survive restarts; use it in tests
// and for throwaway sessions.
type MemoryKV struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewMemoryKV creates an empty MemoryKV.
func NewMemoryKV() *MemoryKV {
	return &MemoryKV{data: make(map[string][]byte)}
}

func (m *MemoryKV) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	v, ok := m.data[key]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), v...), nil
}

func (m *MemoryKV) Set(_ context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.data[key] = append([]byte(nil), value...)
	return nil
}

func (m *MemoryKV) Delete(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, key := range keys {
		delete(m.data, key)
	}
	return nil
}

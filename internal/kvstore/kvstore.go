// Package kvstore holds the durable backends the session store persists
// through. Concrete drivers (sqlite, file) live under drivers/.
package kvstore

import (
	"context"

	"github.com/aussiebroadwan/studyhall/pkg/sessionsdk"
)

// Driver names accepted by STORE_DRIVER.
const (
	DriverMemory = "memory"
	DriverSQLite = "sqlite"
	DriverFile   = "file"
)

// Store is a sessionsdk.KV that owns resources.
type Store interface {
	sessionsdk.KV

	// Close releases any underlying resources.
	Close() error

	// Ping verifies the backend is still reachable.
	Ping(ctx context.Context) error
}

// Memory adapts sessionsdk.MemoryKV to Store. Nothing survives a restart.
type Memory struct {
	*sessionsdk.MemoryKV
}

// NewMemory creates an empty in-process Store.
func NewMemory() *Memory {
	return &Memory{MemoryKV: sessionsdk.NewMemoryKV()}
}

func (m *Memory) Close() error                   { return nil }
func (m *Memory) Ping(ctx context.Context) error { return nil }

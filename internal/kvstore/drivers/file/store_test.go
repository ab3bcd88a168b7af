package file

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/aussiebroadwan/studyhall/pkg/sessionsdk"
	"github.com/aussiebroadwan/studyhall/pkg/slogx"
)

func TestStore(t *testing.T) {
	t.Parallel()

	t.Run("round trip", func(t *testing.T) {
		t.Parallel()

		dir := filepath.Join(t.TempDir(), "nested", "session")
		store, err := NewStore(dir)
		require.NoError(t, err)
		require.NoError(t, store.Ping(t.Context()))

		_, err = store.Get(t.Context(), "token")
		require.ErrorIs(t, err, sessionsdk.ErrNotFound)

		require.NoError(t, store.Set(t.Context(), "token", []byte("T1")))
		require.NoError(t, store.Set(t.Context(), "token", []byte("T2")))

		got, err := store.Get(t.Context(), "token")
		require.NoError(t, err)
		require.Equal(t, []byte("T2"), got)

		raw, err := os.ReadFile(filepath.Join(dir, "token"))
		require.NoError(t, err)
		require.Equal(t, []byte("T2"), raw)

		require.NoError(t, store.Delete(t.Context(), "token", "missing"))
		_, err = store.Get(t.Context(), "token")
		require.ErrorIs(t, err, sessionsdk.ErrNotFound)
	})

	t.Run("rejects path keys", func(t *testing.T) {
		t.Parallel()

		store, err := NewStore(t.TempDir())
		require.NoError(t, err)

		for _, key := range []string{"", "..", "../escape", "a/b", `a\b`} {
			require.Error(t, store.Set(t.Context(), key, []byte("x")), key)
		}
	})

	t.Run("empty directory", func(t *testing.T) {
		t.Parallel()

		_, err := NewStore("")
		require.Error(t, err)
	})
}

func TestWatch(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	store, err := NewStore(dir)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()

	var changes atomic.Int32
	done := make(chan error, 1)
	go func() {
		done <- store.Watch(ctx, sessionsdk.KeyRecord, slogx.Discard(), func() {
			changes.Add(1)
		})
	}()

	// Another process writing through its own Store
	other, err := NewStore(dir)
	require.NoError(t, err)

	sessions := sessionsdk.NewStore(other)

	require.Eventually(t, func() bool {
		// Watcher setup races the first write, keep writing until seen
		_ = sessions.Save(t.Context(), sessionsdk.Record{AccessToken: "T1"})
		return changes.Load() >= 1
	}, 2*time.Second, 100*time.Millisecond)

	// Let the last burst settle
	time.Sleep(150 * time.Millisecond)
	before := changes.Load()
	require.NoError(t, other.Set(t.Context(), sessionsdk.KeyToken, []byte("unrelated")))
	time.Sleep(150 * time.Millisecond)
	require.Equal(t, before, changes.Load())

	require.NoError(t, sessions.Clear(t.Context()))
	require.Eventually(t, func() bool {
		return changes.Load() > before
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}

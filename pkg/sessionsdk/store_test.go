package sessionsdk

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/aussiebroadwan/studyhall/pkg/cryptox"
)

func testRecord(now time.Time) Record {
	return Record{
		AccessToken:  "T1",
		RefreshToken: "R1",
		SessionID:    "S1",
		User: User{
			ID:             "u-1",
			FirstName:      "Ada",
			LastName:       "Lovelace",
			Email:          "a@b.com",
			Role:           "teacher",
			OrganisationID: "org-7",
		},
		TokenExpiry:  now.Add(time.Hour),
		LastActivity: now,
	}
}

func TestStore(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	t.Run("empty store", func(t *testing.T) {
		t.Parallel()

		store := NewStore(NewMemoryKV())
		rec, err := store.Load(t.Context())
		require.NoError(t, err)
		require.Nil(t, rec)
	})

	t.Run("save and load", func(t *testing.T) {
		t.Parallel()

		kv := NewMemoryKV()
		store := NewStore(kv, WithStoreClock(clock))

		want := testRecord(now)
		require.NoError(t, store.Save(t.Context(), want))

		got, err := store.Load(t.Context())
		require.NoError(t, err)
		require.Equal(t, want, *got)

		for key, value := range map[string]string{
			KeyToken:        "T1",
			KeySessionID:    "S1",
			KeyRefreshToken: "R1",
		} {
			raw, err := kv.Get(t.Context(), key)
			require.NoError(t, err)
			require.Equal(t, value, string(raw))
		}

		raw, err := kv.Get(t.Context(), KeyRecord)
		require.NoError(t, err)
		require.Contains(t, string(raw), `"tokenExpiry"`)
		require.Contains(t, string(raw), `"lastActivity"`)
	})

	t.Run("empty optional fields drop their copies", func(t *testing.T) {
		t.Parallel()

		kv := NewMemoryKV()
		store := NewStore(kv)
		require.NoError(t, store.Save(t.Context(), testRecord(now)))

		rec := testRecord(now)
		rec.RefreshToken = ""
		rec.SessionID = ""
		require.NoError(t, store.Save(t.Context(), rec))

		_, err := kv.Get(t.Context(), KeyRefreshToken)
		require.ErrorIs(t, err, ErrNotFound)
		_, err = kv.Get(t.Context(), KeySessionID)
		require.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("refuses a record without a token", func(t *testing.T) {
		t.Parallel()

		store := NewStore(NewMemoryKV())
		require.Error(t, store.Save(t.Context(), Record{SessionID: "S1"}))
	})

	t.Run("backfills missing timestamps", func(t *testing.T) {
		t.Parallel()

		kv := NewMemoryKV()
		store := NewStore(kv, WithStoreClock(clock))
		require.NoError(t, kv.Set(t.Context(), KeyRecord, []byte(`{"token":"T1","user":{"id":"u-1","role":"student"}}`)))

		rec, err := store.Load(t.Context())
		require.NoError(t, err)
		require.NotNil(t, rec)
		require.Equal(t, now, rec.TokenExpiry)
		require.Equal(t, now, rec.LastActivity)

		// The repair is persisted
		raw, err := kv.Get(t.Context(), KeyRecord)
		require.NoError(t, err)
		require.Contains(t, string(raw), "2025-03-01T09:00:00Z")
	})

	t.Run("unreadable data is no session", func(t *testing.T) {
		t.Parallel()

		for name, raw := range map[string]string{
			"bad json":    `{"token":`,
			"no token":    `{"user":{"id":"u-1"}}`,
			"wrong shape": `[1,2,3]`,
		} {
			kv := NewMemoryKV()
			store := NewStore(kv)
			require.NoError(t, kv.Set(t.Context(), KeyRecord, []byte(raw)))
			require.NoError(t, kv.Set(t.Context(), KeyToken, []byte("T1")))

			rec, err := store.Load(t.Context())
			require.NoError(t, err, name)
			require.Nil(t, rec, name)

			_, err = kv.Get(t.Context(), KeyToken)
			require.ErrorIs(t, err, ErrNotFound, name)
		}
	})

	t.Run("clear", func(t *testing.T) {
		t.Parallel()

		kv := NewMemoryKV()
		store := NewStore(kv)
		require.NoError(t, store.Save(t.Context(), testRecord(now)))
		require.NoError(t, store.Clear(t.Context()))
		require.NoError(t, store.Clear(t.Context()))

		for _, key := range allKeys {
			_, err := kv.Get(t.Context(), key)
			require.ErrorIs(t, err, ErrNotFound, key)
		}
	})
}

func TestStoreSealed(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

	sealer, err := cryptox.NewSealer([]byte("device-secret"))
	require.NoError(t, err)

	kv := NewMemoryKV()
	store := NewStore(kv, WithSealer(sealer))
	require.NoError(t, store.Save(t.Context(), testRecord(now)))

	raw, err := kv.Get(t.Context(), KeyRecord)
	require.NoError(t, err)
	require.NotContains(t, string(raw), "T1")
	require.NotContains(t, string(raw), "a@b.com")

	token, err := kv.Get(t.Context(), KeyToken)
	require.NoError(t, err)
	require.NotEqual(t, "T1", string(token))

	rec, err := store.Load(t.Context())
	require.NoError(t, err)
	require.Equal(t, "T1", rec.AccessToken)

	t.Run("wrong key is no session", func(t *testing.T) {
		other, err := cryptox.NewSealer([]byte("another-device"))
		require.NoError(t, err)

		rec, err := NewStore(kv, WithSealer(other)).Load(t.Context())
		require.NoError(t, err)
		require.Nil(t, rec)

		_, err = kv.Get(t.Context(), KeyRecord)
		require.ErrorIs(t, err, ErrNotFound)
	})
}

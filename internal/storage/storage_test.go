package storage_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"minder/internal/models"
	"minder/internal/storage"
)

func TestSaveAndReload(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	store, err := storage.New(dir)
	require.NoError(t, err)

	user := &models.User{
		ID:    "8a9c1c2e-4a2e-4a1f-9a6a-1f2e3d4c5b6a",
		Email: "parent@example.com",
		Rules: []*models.Rule{
			{Domain: "youtube.com", DailyLimitMin: 30, UsedTodayMin: 12.5, LastResetAt: time.Now()},
		},
	}
	require.NoError(t, store.SaveUser(user))
	require.Equal(t, 1, store.UserCount())

	// A second Storage over the same directory sees the persisted data.
	reloaded, err := storage.New(dir)
	require.NoError(t, err)
	require.Len(t, reloaded.ListUsers(), 1)
	got := reloaded.GetUser(user.ID)
	require.NotNil(t, got)
	require.Equal(t, "parent@example.com", got.Email)
	require.Len(t, got.Rules, 1)
	require.Equal(t, "youtube.com", got.Rules[0].Domain)
	require.InDelta(t, 12.5, got.Rules[0].UsedTodayMin, 1e-9)
}

func TestSaveUserUpdatesInPlace(t *testing.T) {
	t.Parallel()

	store, err := storage.New(t.TempDir())
	require.NoError(t, err)

	user := &models.User{ID: "11111111-2222-3333-4444-555555555555"}
	require.NoError(t, store.SaveUser(user))

	user.Email = "changed@example.com"
	require.NoError(t, store.SaveUser(user))

	require.Equal(t, 1, store.UserCount())
	require.Equal(t, "changed@example.com", store.GetUser(user.ID).Email)
}

func TestGetUserReturnsIndependentCopy(t *testing.T) {
	t.Parallel()

	store, err := storage.New(t.TempDir())
	require.NoError(t, err)

	user := &models.User{
		ID:    "11111111-2222-3333-4444-555555555555",
		Rules: []*models.Rule{{Domain: "youtube.com", DailyLimitMin: 30}},
	}
	require.NoError(t, store.SaveUser(user))

	// Mutating a fetched copy must not leak into the cache.
	got := store.GetUser(user.ID)
	got.Email = "mutated@example.com"
	got.Rules[0].UsedTodayMin = 99
	fresh := store.GetUser(user.ID)
	require.Empty(t, fresh.Email)
	require.Zero(t, fresh.Rules[0].UsedTodayMin)

	// Neither must mutating the instance passed to SaveUser afterwards.
	user.Rules[0].DailyLimitMin = 1
	require.Equal(t, 30, store.GetUser(user.ID).Rules[0].DailyLimitMin)
}

func TestGetUserUnknown(t *testing.T) {
	t.Parallel()

	store, err := storage.New(t.TempDir())
	require.NoError(t, err)
	require.Nil(t, store.GetUser("missing"))
}

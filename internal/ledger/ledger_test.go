package ledger_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"cdr.dev/slog/sloggers/slogtest"
	"github.com/coder/quartz"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"golang.org/x/xerrors"

	"minder/internal/ledger"
	"minder/internal/models"
	"minder/internal/storage"
)

func newService(t *testing.T) (*ledger.Service, *quartz.Mock, *storage.Storage) {
	t.Helper()
	store, err := storage.New(t.TempDir())
	require.NoError(t, err)
	clock := quartz.NewMock(t)
	clock.Set(time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC))
	logger := slogtest.Make(t, nil)
	return ledger.New(store, clock, logger), clock, store
}

func newUser(t *testing.T, svc *ledger.Service, rules ...models.RuleSpec) string {
	t.Helper()
	ctx := context.Background()
	id := uuid.NewString()
	_, err := svc.Init(ctx, id)
	require.NoError(t, err)
	if len(rules) > 0 {
		_, err = svc.ReplaceRules(ctx, id, rules)
		require.NoError(t, err)
	}
	return id
}

func TestInit(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("MalformedUUID", func(t *testing.T) {
		svc, _, _ := newService(t)
		_, err := svc.Init(ctx, "not-a-uuid")
		require.ErrorIs(t, err, ledger.ErrValidation)
	})

	t.Run("Idempotent", func(t *testing.T) {
		svc, _, store := newService(t)
		id := uuid.NewString()
		first, err := svc.Init(ctx, id)
		require.NoError(t, err)
		second, err := svc.Init(ctx, id)
		require.NoError(t, err)
		require.Equal(t, first.ID, second.ID)
		require.Equal(t, 1, store.UserCount())
	})
}

func TestIngest(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("UnknownUser", func(t *testing.T) {
		svc, _, _ := newService(t)
		err := svc.Ingest(ctx, uuid.NewString(), "youtube.com", 30)
		require.ErrorIs(t, err, ledger.ErrNotFound)
	})

	t.Run("NegativeSecondsRejected", func(t *testing.T) {
		svc, _, _ := newService(t)
		id := newUser(t, svc, models.RuleSpec{Domain: "youtube.com", DailyLimitMin: 10})
		err := svc.Ingest(ctx, id, "youtube.com", -1)
		require.ErrorIs(t, err, ledger.ErrValidation)

		statuses, err := svc.Decisions(ctx, id)
		require.NoError(t, err)
		require.Zero(t, statuses[0].UsedTodayMin, "rejected input must not change state")
	})

	t.Run("UntrackedDomainIsAcknowledged", func(t *testing.T) {
		svc, _, _ := newService(t)
		id := newUser(t, svc, models.RuleSpec{Domain: "youtube.com", DailyLimitMin: 10})
		require.NoError(t, svc.Ingest(ctx, id, "example.org", 300))

		statuses, err := svc.Decisions(ctx, id)
		require.NoError(t, err)
		require.Zero(t, statuses[0].UsedTodayMin)
	})

	t.Run("SumsSecondsSameDay", func(t *testing.T) {
		svc, _, _ := newService(t)
		id := newUser(t, svc, models.RuleSpec{Domain: "youtube.com", DailyLimitMin: 60})

		// Duplicate reports double-count; that is correct behavior.
		for _, secs := range []float64{90, 90, 30} {
			require.NoError(t, svc.Ingest(ctx, id, "youtube.com", secs))
		}

		statuses, err := svc.Decisions(ctx, id)
		require.NoError(t, err)
		require.InDelta(t, 3.5, statuses[0].UsedTodayMin, 1e-9)
	})

	t.Run("NormalizesDomain", func(t *testing.T) {
		svc, _, _ := newService(t)
		id := newUser(t, svc, models.RuleSpec{Domain: "YouTube.com", DailyLimitMin: 60})
		require.NoError(t, svc.Ingest(ctx, id, "www.youtube.com", 60))

		statuses, err := svc.Decisions(ctx, id)
		require.NoError(t, err)
		require.Equal(t, "youtube.com", statuses[0].Domain)
		require.InDelta(t, 1.0, statuses[0].UsedTodayMin, 1e-9)
	})
}

func TestDailyReset(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	for _, tc := range []struct {
		name string
		gap  time.Duration
	}{
		{"NextDay", 24 * time.Hour},
		{"OneYearLater", 365 * 24 * time.Hour},
	} {
		t.Run(tc.name, func(t *testing.T) {
			svc, clock, _ := newService(t)
			id := newUser(t, svc, models.RuleSpec{Domain: "youtube.com", DailyLimitMin: 60})

			require.NoError(t, svc.Ingest(ctx, id, "youtube.com", 1800))
			clock.Advance(tc.gap)
			require.NoError(t, svc.Ingest(ctx, id, "youtube.com", 120))

			statuses, err := svc.Decisions(ctx, id)
			require.NoError(t, err)
			require.InDelta(t, 2.0, statuses[0].UsedTodayMin, 1e-9,
				"prior-day usage must be zeroed before the increment")
		})
	}

	t.Run("StaleDayReadsAsZeroWithoutWrite", func(t *testing.T) {
		svc, clock, _ := newService(t)
		id := newUser(t, svc, models.RuleSpec{Domain: "youtube.com", DailyLimitMin: 10})
		require.NoError(t, svc.Ingest(ctx, id, "youtube.com", 3600))

		// Over the limit today...
		statuses, err := svc.Decisions(ctx, id)
		require.NoError(t, err)
		require.True(t, statuses[0].Block)

		// ...but a decision read the next morning must not report
		// yesterday's usage, even though no ingest has reset it yet.
		clock.Advance(24 * time.Hour)
		statuses, err = svc.Decisions(ctx, id)
		require.NoError(t, err)
		require.Zero(t, statuses[0].UsedTodayMin)
		require.False(t, statuses[0].Block)
	})
}

func TestDecisions(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("UnknownUser", func(t *testing.T) {
		svc, _, _ := newService(t)
		_, err := svc.Decisions(ctx, uuid.NewString())
		require.ErrorIs(t, err, ledger.ErrNotFound)
	})

	t.Run("ZeroLimitNeverBlocks", func(t *testing.T) {
		svc, _, _ := newService(t)
		id := newUser(t, svc, models.RuleSpec{Domain: "youtube.com", DailyLimitMin: 0})
		require.NoError(t, svc.Ingest(ctx, id, "youtube.com", 100000))

		statuses, err := svc.Decisions(ctx, id)
		require.NoError(t, err)
		require.False(t, statuses[0].Block)
		require.Zero(t, statuses[0].RemainingMin)
	})

	t.Run("BlockFlipsAtLimit", func(t *testing.T) {
		svc, _, _ := newService(t)
		id := newUser(t, svc, models.RuleSpec{Domain: "youtube.com", DailyLimitMin: 1})

		// limit=1 minute; 30s + 20s leaves a sliver of budget.
		require.NoError(t, svc.Ingest(ctx, id, "youtube.com", 30))
		require.NoError(t, svc.Ingest(ctx, id, "youtube.com", 20))
		statuses, err := svc.Decisions(ctx, id)
		require.NoError(t, err)
		require.False(t, statuses[0].Block)

		// The third report tips it over: 70s = 1.1667 min.
		require.NoError(t, svc.Ingest(ctx, id, "youtube.com", 20))
		statuses, err = svc.Decisions(ctx, id)
		require.NoError(t, err)
		require.InDelta(t, 70.0/60.0, statuses[0].UsedTodayMin, 1e-9)
		require.True(t, statuses[0].Block)
		require.Zero(t, statuses[0].RemainingMin)
	})

	t.Run("OverrideSuppressesUntilExpiry", func(t *testing.T) {
		svc, clock, store := newService(t)
		id := newUser(t, svc, models.RuleSpec{Domain: "youtube.com", DailyLimitMin: 1})
		require.NoError(t, svc.Ingest(ctx, id, "youtube.com", 120))

		expiresAt := clock.Now().Add(15 * time.Minute)
		user := store.GetUser(id)
		user.Overrides = append(user.Overrides, models.Override{Domain: "youtube.com", ExpiresAt: expiresAt})
		require.NoError(t, store.SaveUser(user))

		statuses, err := svc.Decisions(ctx, id)
		require.NoError(t, err)
		require.False(t, statuses[0].Block)

		// One second before expiry the override still holds.
		clock.Advance(15*time.Minute - time.Second)
		statuses, err = svc.Decisions(ctx, id)
		require.NoError(t, err)
		require.False(t, statuses[0].Block)

		// At expiry it is gone: not a moment after.
		clock.Advance(time.Second)
		statuses, err = svc.Decisions(ctx, id)
		require.NoError(t, err)
		require.True(t, statuses[0].Block)

		// The expired override was purged lazily.
		require.Empty(t, store.GetUser(id).Overrides)
	})

	t.Run("LatestExpiryWins", func(t *testing.T) {
		svc, clock, store := newService(t)
		id := newUser(t, svc, models.RuleSpec{Domain: "youtube.com", DailyLimitMin: 1})
		require.NoError(t, svc.Ingest(ctx, id, "youtube.com", 120))

		user := store.GetUser(id)
		user.Overrides = append(user.Overrides,
			models.Override{Domain: "youtube.com", ExpiresAt: clock.Now().Add(time.Minute)},
			models.Override{Domain: "youtube.com", ExpiresAt: clock.Now().Add(10 * time.Minute)},
		)
		require.NoError(t, store.SaveUser(user))

		clock.Advance(5 * time.Minute)
		statuses, err := svc.Decisions(ctx, id)
		require.NoError(t, err)
		require.False(t, statuses[0].Block, "the longer override must still suppress")
	})
}

func TestReplaceRules(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("PreservesUsageForSurvivingDomain", func(t *testing.T) {
		svc, _, _ := newService(t)
		id := newUser(t, svc, models.RuleSpec{Domain: "youtube.com", DailyLimitMin: 30})
		require.NoError(t, svc.Ingest(ctx, id, "youtube.com", 600))

		rules, err := svc.ReplaceRules(ctx, id, []models.RuleSpec{
			{Domain: "youtube.com", DailyLimitMin: 90},
			{Domain: "reddit.com", DailyLimitMin: 15},
		})
		require.NoError(t, err)
		require.Len(t, rules, 2)
		require.Equal(t, 90, rules[0].DailyLimitMin)
		require.InDelta(t, 10.0, rules[0].UsedTodayMin, 1e-9, "usage continuity across edits")
		require.Zero(t, rules[1].UsedTodayMin)
	})

	t.Run("DroppedDomainStartsFresh", func(t *testing.T) {
		svc, _, _ := newService(t)
		id := newUser(t, svc, models.RuleSpec{Domain: "youtube.com", DailyLimitMin: 30})
		require.NoError(t, svc.Ingest(ctx, id, "youtube.com", 600))

		_, err := svc.ReplaceRules(ctx, id, nil)
		require.NoError(t, err)
		rules, err := svc.ReplaceRules(ctx, id, []models.RuleSpec{{Domain: "youtube.com", DailyLimitMin: 30}})
		require.NoError(t, err)
		require.Zero(t, rules[0].UsedTodayMin)
	})

	t.Run("DuplicateDomainFirstWins", func(t *testing.T) {
		svc, _, _ := newService(t)
		id := newUser(t, svc)
		rules, err := svc.ReplaceRules(ctx, id, []models.RuleSpec{
			{Domain: "youtube.com", DailyLimitMin: 10},
			{Domain: "www.youtube.com", DailyLimitMin: 99},
		})
		require.NoError(t, err)
		require.Len(t, rules, 1)
		require.Equal(t, 10, rules[0].DailyLimitMin)
	})

	t.Run("NegativeLimitRejected", func(t *testing.T) {
		svc, _, _ := newService(t)
		id := newUser(t, svc)
		_, err := svc.ReplaceRules(ctx, id, []models.RuleSpec{{Domain: "youtube.com", DailyLimitMin: -1}})
		require.True(t, xerrors.Is(err, ledger.ErrValidation))
	})
}

func TestIngestConcurrentHeartbeats(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	svc, _, _ := newService(t)
	id := newUser(t, svc, models.RuleSpec{Domain: "youtube.com", DailyLimitMin: 600})

	// Two tabs reporting the same domain at once. Storage hands each
	// call its own copy, so updates may be lost but never torn.
	var wg sync.WaitGroup
	for g := 0; g < 2; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				if err := svc.Ingest(ctx, id, "youtube.com", 60); err != nil {
					t.Error(err)
				}
			}
		}()
	}
	wg.Wait()

	statuses, err := svc.Decisions(ctx, id)
	require.NoError(t, err)
	used := statuses[0].UsedTodayMin
	require.GreaterOrEqual(t, used, 1.0)
	require.LessOrEqual(t, used, 100.0)
}

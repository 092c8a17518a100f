package enforce

import (
	"context"
	"sync"
	"time"

	"cdr.dev/slog"
	"github.com/coder/quartz"
	"github.com/google/uuid"

	"minder/internal/agentsdk"
	"minder/internal/models"
)

// Options configures an Engine.
type Options struct {
	Client *agentsdk.Client
	UserID uuid.UUID
	Store  Store
	Clock  quartz.Clock
	Logger slog.Logger

	// MinInterval rejects a remote refresh when the last request was
	// less than this long ago, no matter how many triggers fire.
	MinInterval time.Duration
	// CacheTTL reuses the snapshot instead of refreshing while its age
	// is below this.
	CacheTTL time.Duration
	// RefreshInterval drives the periodic refresh in Run.
	RefreshInterval time.Duration
	// BackoffBase and BackoffCap bound the throttle backoff.
	BackoffBase time.Duration
	BackoffCap  time.Duration
}

// Engine owns all client-side enforcement state: the persisted snapshot,
// the refresh gates and the backoff counters. Everything lives on the
// instance so a restarted context starts clean; Close is the explicit
// teardown entry point.
type Engine struct {
	client *agentsdk.Client
	userID uuid.UUID
	store  Store
	clock  quartz.Clock
	log    slog.Logger

	minInterval     time.Duration
	cacheTTL        time.Duration
	refreshInterval time.Duration

	mu            sync.Mutex
	snap          *Snapshot
	lastRequestAt time.Time
	backoff       *Backoff

	closeOnce sync.Once
	closed    chan struct{}
}

// New creates an Engine, loading any snapshot persisted by a previous
// context. A corrupt or missing snapshot starts the engine at Unknown.
func New(opts Options) *Engine {
	if opts.Clock == nil {
		opts.Clock = quartz.NewReal()
	}
	if opts.MinInterval <= 0 {
		opts.MinInterval = 10 * time.Second
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = 30 * time.Second
	}
	if opts.RefreshInterval <= 0 {
		opts.RefreshInterval = time.Minute
	}
	if opts.BackoffBase <= 0 {
		opts.BackoffBase = 5 * time.Second
	}
	if opts.BackoffCap <= 0 {
		opts.BackoffCap = 5 * time.Minute
	}

	e := &Engine{
		client:          opts.Client,
		userID:          opts.UserID,
		store:           opts.Store,
		clock:           opts.Clock,
		log:             opts.Logger.Named("enforce"),
		minInterval:     opts.MinInterval,
		cacheTTL:        opts.CacheTTL,
		refreshInterval: opts.RefreshInterval,
		backoff:         NewBackoff(opts.BackoffBase, opts.BackoffCap),
		closed:          make(chan struct{}),
	}
	if e.store != nil {
		if snap, err := e.store.Load(); err == nil {
			e.snap = snap
		} else {
			e.log.Warn(context.Background(), "failed to load persisted snapshot", slog.Error(err))
		}
	}
	return e
}

// Check is the synchronous page-load trigger: it decides from the local
// snapshot without waiting on any network call. A Blocked verdict
// short-circuits the refresh for this cycle; otherwise a refresh is
// kicked off in the background, gated as usual.
func (e *Engine) Check(ctx context.Context, hostname string) Verdict {
	e.mu.Lock()
	verdict := Decide(e.snap, hostname)
	e.mu.Unlock()

	if verdict != VerdictBlocked {
		go func() {
			if _, err := e.Refresh(ctx); err != nil {
				e.log.Debug(ctx, "background refresh failed", slog.Error(err))
			}
		}()
	}
	return verdict
}

// Snapshot returns the current snapshot, or nil before the first fetch.
func (e *Engine) Snapshot() *Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snap
}

// BackoffState returns the throttle counter and the hold deadline,
// zero when not holding.
func (e *Engine) BackoffState() (consecutive int, holdUntil time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.backoff.Consecutive(), e.backoff.HoldUntil()
}

// Refresh fetches the authoritative decision set unless one of the
// gates rejects the attempt: a backoff hold, a fresh-enough cache, or a
// request inside the minimum interval. Returns whether the snapshot was
// replaced. An unreachable server is not an error surfaced to the user;
// the engine silently keeps serving the cached snapshot.
func (e *Engine) Refresh(ctx context.Context) (bool, error) {
	e.mu.Lock()
	now := e.clock.Now()
	if e.backoff.Holding(now) {
		e.mu.Unlock()
		return false, nil
	}
	if e.snap != nil && now.Sub(e.snap.FetchedAt) < e.cacheTTL {
		e.mu.Unlock()
		return false, nil
	}
	if !e.lastRequestAt.IsZero() && now.Sub(e.lastRequestAt) < e.minInterval {
		e.mu.Unlock()
		return false, nil
	}
	e.lastRequestAt = now
	e.mu.Unlock()

	// No lock held across the network call.
	rules, err := e.client.Config(ctx, e.userID)

	e.mu.Lock()
	respAt := e.clock.Now()
	if err != nil {
		switch {
		case agentsdk.IsThrottled(err):
			e.backoff.Observe(OutcomeThrottled, respAt)
			e.log.Debug(ctx, "refresh throttled",
				slog.F("consecutive", e.backoff.Consecutive()),
				slog.F("hold_until", e.backoff.HoldUntil()),
			)
			e.mu.Unlock()
		case agentsdk.IsResponse(err):
			// The server answered; only 429 feeds the throttle state.
			e.backoff.Observe(OutcomeOK, respAt)
			e.log.Debug(ctx, "refresh rejected, keeping cached snapshot", slog.Error(err))
			e.mu.Unlock()
			if agentsdk.IsNotFound(err) {
				e.reinitialize(ctx)
			}
		default:
			e.backoff.Observe(OutcomeUnreachable, respAt)
			e.log.Debug(ctx, "server unreachable, keeping cached snapshot", slog.Error(err))
			e.mu.Unlock()
		}
		return false, nil
	}
	e.backoff.Observe(OutcomeOK, respAt)
	e.replaceLocked(ctx, rules, respAt)
	e.mu.Unlock()
	return true, nil
}

// reinitialize re-registers the user after the server reported it
// unknown, so the next refresh can succeed.
func (e *Engine) reinitialize(ctx context.Context) {
	if err := e.client.Init(ctx, e.userID); err != nil {
		e.log.Warn(ctx, "reinitialize failed", slog.Error(err))
		return
	}
	e.log.Info(ctx, "reinitialized with server")
}

// OnSnapshot is the externally pushed trigger: a full snapshot
// replacement from the watch stream or another context. The merge is
// idempotent and based on absolute values, so a late push is harmless.
func (e *Engine) OnSnapshot(ctx context.Context, rules []models.RuleStatus) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.replaceLocked(ctx, rules, e.clock.Now())
}

// replaceLocked swaps the snapshot wholesale and persists it.
func (e *Engine) replaceLocked(ctx context.Context, rules []models.RuleStatus, fetchedAt time.Time) {
	e.snap = &Snapshot{Rules: rules, FetchedAt: fetchedAt}
	if e.store != nil {
		if err := e.store.Save(e.snap); err != nil {
			e.log.Warn(ctx, "failed to persist snapshot", slog.Error(err))
		}
	}
}

// Run drives the engine: a periodic refresh ticker plus a watch
// subscription that applies pushed snapshots. It returns when the
// context is canceled or Close is called.
func (e *Engine) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-e.closed:
			cancel()
		case <-ctx.Done():
		}
	}()

	go e.watchLoop(ctx)

	tkr := e.clock.TickerFunc(ctx, e.refreshInterval, func() error {
		if _, err := e.Refresh(ctx); err != nil {
			e.log.Debug(ctx, "periodic refresh failed", slog.Error(err))
		}
		return nil
	}, "enforce", "refresh")
	return tkr.Wait()
}

// watchLoop keeps a watch subscription alive, reconnecting with a flat
// delay. Pushed snapshots land through OnSnapshot.
func (e *Engine) watchLoop(ctx context.Context) {
	const reconnectDelay = 15 * time.Second
	for ctx.Err() == nil {
		updates, err := e.client.Watch(ctx, e.userID)
		if err != nil {
			e.log.Debug(ctx, "watch connect failed", slog.Error(err))
			timer := e.clock.NewTimer(reconnectDelay, "enforce", "watch-retry")
			select {
			case <-ctx.Done():
				timer.Stop()
				return
			case <-timer.C:
			}
			continue
		}
		for rules := range updates {
			e.OnSnapshot(ctx, rules)
		}
	}
}

// Close tears the engine down. Timers stop; only the snapshot survives
// on disk for the next context.
func (e *Engine) Close() {
	e.closeOnce.Do(func() {
		close(e.closed)
	})
}

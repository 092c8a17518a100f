package ledger

import (
	"context"
	"math"
	"time"

	"cdr.dev/slog"
	"github.com/coder/quartz"
	"github.com/google/uuid"
	"golang.org/x/xerrors"

	"minder/internal/models"
	"minder/internal/storage"
)

// Service is the authoritative usage ledger: it folds heartbeats into
// per-rule daily usage and answers blocking decisions.
//
// Updates are read-modify-write over the copies storage hands out.
// Concurrent heartbeats for one user may lose an update; that drift is
// accepted since decisions only need to become eventually accurate.
type Service struct {
	store *storage.Storage
	clock quartz.Clock
	log   slog.Logger
}

// New creates a ledger Service.
func New(store *storage.Storage, clock quartz.Clock, log slog.Logger) *Service {
	return &Service{
		store: store,
		clock: clock,
		log:   log.Named("ledger"),
	}
}

// Init creates the user if it does not exist yet and returns it.
// Safe to call repeatedly with the same ID.
func (s *Service) Init(ctx context.Context, id string) (*models.User, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, xerrors.Errorf("parse user id: %w", ErrValidation)
	}

	if user := s.store.GetUser(id); user != nil {
		return user, nil
	}

	now := s.clock.Now()
	user := &models.User{
		ID:         id,
		Rules:      make([]*models.Rule, 0),
		LastSeenAt: now,
		CreatedAt:  now,
	}
	if err := s.store.SaveUser(user); err != nil {
		return nil, xerrors.Errorf("save user: %w", err)
	}

	s.log.Info(ctx, "created user", slog.F("user_id", id))
	return user, nil
}

// SetEmail configures the contact channel used for unlock code delivery.
func (s *Service) SetEmail(ctx context.Context, userID, email string) error {
	user := s.store.GetUser(userID)
	if user == nil {
		return ErrNotFound
	}
	user.Email = email
	return s.store.SaveUser(user)
}

// Ingest folds an elapsed-seconds heartbeat into the matching rule.
//
// Heartbeats for domains outside any rule are acknowledged as no-ops.
// The daily reset is applied lazily here: if the rule's last reset is not
// from the current calendar day, usage is zeroed before the increment.
// This is the only place UsedTodayMin changes. A single report is not
// clamped, so one pathological report can overshoot the limit; accepted.
func (s *Service) Ingest(ctx context.Context, userID, domain string, seconds float64) error {
	if seconds < 0 || math.IsNaN(seconds) || math.IsInf(seconds, 0) {
		return xerrors.Errorf("seconds must be a non-negative number: %w", ErrValidation)
	}

	user := s.store.GetUser(userID)
	if user == nil {
		return ErrNotFound
	}

	now := s.clock.Now()
	user.LastSeenAt = now // diagnostic only

	rule := user.RuleFor(models.NormalizeDomain(domain))
	if rule == nil {
		// Domains outside any rule are not errors.
		return s.store.SaveUser(user)
	}

	if !sameCalendarDay(rule.LastResetAt, now) {
		rule.UsedTodayMin = 0
		rule.LastResetAt = now
	}
	rule.UsedTodayMin += seconds / 60

	s.log.Debug(ctx, "ingested heartbeat",
		slog.F("user_id", userID),
		slog.F("domain", rule.Domain),
		slog.F("seconds", seconds),
		slog.F("used_today_min", rule.UsedTodayMin),
	)
	return s.store.SaveUser(user)
}

// Decisions returns the blocking decision for every rule of the user.
//
// Expired overrides are purged here (lazy GC); the write is skipped when
// nothing changed. Usage carried over from an earlier day reads as zero
// without writing; the authoritative reset happens on ingestion.
func (s *Service) Decisions(ctx context.Context, userID string) ([]models.RuleStatus, error) {
	user := s.store.GetUser(userID)
	if user == nil {
		return nil, ErrNotFound
	}

	now := s.clock.Now()
	if user.PurgeExpiredOverrides(now) {
		if err := s.store.SaveUser(user); err != nil {
			return nil, xerrors.Errorf("save user after override purge: %w", err)
		}
	}

	statuses := make([]models.RuleStatus, 0, len(user.Rules))
	for _, rule := range user.Rules {
		used := rule.UsedTodayMin
		if !sameCalendarDay(rule.LastResetAt, now) {
			used = 0
		}

		block := rule.OverLimit(used) && !user.HasActiveOverride(rule.Domain, now)

		remaining := float64(rule.DailyLimitMin) - used
		if remaining < 0 || rule.DailyLimitMin == 0 {
			remaining = 0
		}

		statuses = append(statuses, models.RuleStatus{
			Domain:        rule.Domain,
			DailyLimitMin: rule.DailyLimitMin,
			UsedTodayMin:  used,
			RemainingMin:  remaining,
			Block:         block,
		})
	}
	return statuses, nil
}

// ReplaceRules swaps the user's whole rule set. Usage continuity is
// preserved: a rule whose domain survives the replacement keeps its
// UsedTodayMin and LastResetAt from the prior rule.
func (s *Service) ReplaceRules(ctx context.Context, userID string, specs []models.RuleSpec) ([]*models.Rule, error) {
	user := s.store.GetUser(userID)
	if user == nil {
		return nil, ErrNotFound
	}

	now := s.clock.Now()
	rules := make([]*models.Rule, 0, len(specs))
	seen := make(map[string]bool, len(specs))
	for _, spec := range specs {
		domain := models.NormalizeDomain(spec.Domain)
		if domain == "" {
			return nil, xerrors.Errorf("empty domain: %w", ErrValidation)
		}
		if spec.DailyLimitMin < 0 {
			return nil, xerrors.Errorf("negative daily limit for %q: %w", domain, ErrValidation)
		}
		if seen[domain] {
			continue // first occurrence wins
		}
		seen[domain] = true

		rule := &models.Rule{
			Domain:        domain,
			DailyLimitMin: spec.DailyLimitMin,
			LastResetAt:   now,
		}
		if prior := user.RuleFor(domain); prior != nil {
			rule.UsedTodayMin = prior.UsedTodayMin
			rule.LastResetAt = prior.LastResetAt
		}
		rules = append(rules, rule)
	}

	user.Rules = rules
	if err := s.store.SaveUser(user); err != nil {
		return nil, xerrors.Errorf("save rules: %w", err)
	}

	s.log.Info(ctx, "replaced rules", slog.F("user_id", userID), slog.F("count", len(rules)))
	return rules, nil
}

// sameCalendarDay compares local calendar days; the gap length does not
// matter, one day and one year behind reset identically.
func sameCalendarDay(a, b time.Time) bool {
	return a.Year() == b.Year() && a.YearDay() == b.YearDay()
}

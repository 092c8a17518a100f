package unlock

import (
	"context"
	"crypto/rand"
	"math/big"
	"time"

	"cdr.dev/slog"
	"github.com/coder/quartz"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/xerrors"

	"minder/internal/ledger"
	"minder/internal/models"
	"minder/internal/storage"
)

// Service issues and verifies single-use unlock codes. A verified code
// installs a time-boxed override that suppresses blocking for its domain.
//
// Per user the state machine is: no pending code -> code issued ->
// (verify ok) override installed, or (expiry) discarded lazily at the
// next request or verify.
type Service struct {
	store  *storage.Storage
	clock  quartz.Clock
	log    slog.Logger
	sender Sender

	codeLength  int
	codeTTL     time.Duration
	overrideDur time.Duration
}

// Options configures the unlock Service.
type Options struct {
	Sender      Sender
	CodeLength  int
	CodeTTL     time.Duration
	OverrideDur time.Duration
}

// New creates an unlock Service.
func New(store *storage.Storage, clock quartz.Clock, log slog.Logger, opts Options) *Service {
	if opts.CodeLength <= 0 {
		opts.CodeLength = 6
	}
	if opts.CodeTTL <= 0 {
		opts.CodeTTL = 10 * time.Minute
	}
	if opts.OverrideDur <= 0 {
		opts.OverrideDur = 15 * time.Minute
	}
	return &Service{
		store:       store,
		clock:       clock,
		log:         log.Named("unlock"),
		sender:      opts.Sender,
		codeLength:  opts.CodeLength,
		codeTTL:     opts.CodeTTL,
		overrideDur: opts.OverrideDur,
	}
}

// Request issues an unlock code for a domain and attempts delivery.
//
// When a live code already exists the call is an idempotent no-op: it
// returns success without regenerating, so a double click cannot
// invalidate a just-issued code. Delivery failure is reported through
// sent=false but never rolls back the stored pending code.
//
// The plaintext code is returned so that non-production deployments can
// expose it as a debug convenience; production handlers must drop it.
func (s *Service) Request(ctx context.Context, userID, domain string) (code string, sent bool, err error) {
	user := s.store.GetUser(userID)
	if user == nil {
		return "", false, ledger.ErrNotFound
	}
	if user.Email == "" {
		return "", false, xerrors.Errorf("no contact email configured: %w", ledger.ErrPrecondition)
	}

	now := s.clock.Now()
	if p := user.Pending; p != nil && now.Sub(p.CreatedAt) < s.codeTTL {
		// Live code outstanding; keep it.
		return "", false, nil
	}

	code, err = generateCode(s.codeLength)
	if err != nil {
		return "", false, xerrors.Errorf("generate code: %w", err)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(code), 10)
	if err != nil {
		return "", false, xerrors.Errorf("hash code: %w", err)
	}

	norm := models.NormalizeDomain(domain)
	user.Pending = &models.PendingCode{
		CodeHash:  hash,
		Domain:    norm,
		CreatedAt: now,
	}
	if err := s.store.SaveUser(user); err != nil {
		return "", false, xerrors.Errorf("save pending code: %w", err)
	}

	if err := s.sender.Send(ctx, user.Email, code, norm); err != nil {
		// The code stays valid; the user may still obtain it out of band.
		s.log.Warn(ctx, "unlock code delivery failed",
			slog.F("user_id", userID),
			slog.F("domain", norm),
			slog.Error(err),
		)
		return code, false, nil
	}

	s.log.Info(ctx, "unlock code issued", slog.F("user_id", userID), slog.F("domain", norm))
	return code, true, nil
}

// Verify checks a submitted code against the pending one. On match it
// installs an override for the pending code's domain and clears the
// pending state. An expired pending code is discarded as a side effect.
func (s *Service) Verify(ctx context.Context, userID, code string) (*models.Override, error) {
	user := s.store.GetUser(userID)
	if user == nil {
		return nil, ledger.ErrNotFound
	}

	pending := user.Pending
	if pending == nil {
		return nil, xerrors.Errorf("no unlock code outstanding: %w", ledger.ErrForbidden)
	}

	now := s.clock.Now()
	if now.Sub(pending.CreatedAt) >= s.codeTTL {
		user.Pending = nil
		if err := s.store.SaveUser(user); err != nil {
			return nil, xerrors.Errorf("discard expired code: %w", err)
		}
		return nil, xerrors.Errorf("unlock code expired: %w", ledger.ErrForbidden)
	}

	if bcrypt.CompareHashAndPassword(pending.CodeHash, []byte(code)) != nil {
		return nil, xerrors.Errorf("unlock code mismatch: %w", ledger.ErrForbidden)
	}

	override := models.Override{
		Domain:    pending.Domain,
		ExpiresAt: now.Add(s.overrideDur),
	}
	user.Overrides = append(user.Overrides, override)
	user.Pending = nil
	if err := s.store.SaveUser(user); err != nil {
		return nil, xerrors.Errorf("save override: %w", err)
	}

	s.log.Info(ctx, "override installed",
		slog.F("user_id", userID),
		slog.F("domain", override.Domain),
		slog.F("expires_at", override.ExpiresAt),
	)
	return &override, nil
}

// generateCode produces a fixed-length numeric code.
func generateCode(length int) (string, error) {
	digits := make([]byte, length)
	for i := range digits {
		n, err := rand.Int(rand.Reader, big.NewInt(10))
		if err != nil {
			return "", err
		}
		digits[i] = byte('0' + n.Int64())
	}
	return string(digits), nil
}

package unlock_test

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
	"minder/internal/unlock"
)

// recordingSender captures deliveries instead of sending them.
type recordingSender struct {
	mu    sync.Mutex
	sent  []string
	fail  bool
	codes []string
}

func (s *recordingSender) Send(_ context.Context, to, code, _ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return xerrors.New("relay down")
	}
	s.sent = append(s.sent, to)
	s.codes = append(s.codes, code)
	return nil
}

func (s *recordingSender) lastCode() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.codes) == 0 {
		return ""
	}
	return s.codes[len(s.codes)-1]
}

func newService(t *testing.T, sender unlock.Sender) (*unlock.Service, *quartz.Mock, *storage.Storage, string) {
	t.Helper()
	store, err := storage.New(t.TempDir())
	require.NoError(t, err)
	clock := quartz.NewMock(t)
	clock.Set(time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC))
	logger := slogtest.Make(t, nil)

	svc := unlock.New(store, clock, logger, unlock.Options{
		Sender:      sender,
		CodeLength:  6,
		CodeTTL:     10 * time.Minute,
		OverrideDur: 15 * time.Minute,
	})

	id := uuid.NewString()
	user := &models.User{ID: id, Email: "parent@example.com"}
	require.NoError(t, store.SaveUser(user))
	return svc, clock, store, id
}

func TestRequest(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("UnknownUser", func(t *testing.T) {
		svc, _, _, _ := newService(t, &recordingSender{})
		_, _, err := svc.Request(ctx, uuid.NewString(), "youtube.com")
		require.ErrorIs(t, err, ledger.ErrNotFound)
	})

	t.Run("NoEmailConfigured", func(t *testing.T) {
		sender := &recordingSender{}
		svc, _, store, id := newService(t, sender)
		user := store.GetUser(id)
		user.Email = ""
		require.NoError(t, store.SaveUser(user))

		_, _, err := svc.Request(ctx, id, "youtube.com")
		require.ErrorIs(t, err, ledger.ErrPrecondition)
	})

	t.Run("IssuesAndDelivers", func(t *testing.T) {
		sender := &recordingSender{}
		svc, _, store, id := newService(t, sender)

		code, sent, err := svc.Request(ctx, id, "www.YouTube.com")
		require.NoError(t, err)
		require.True(t, sent)
		require.Len(t, code, 6)
		require.Equal(t, []string{"parent@example.com"}, sender.sent)

		pending := store.GetUser(id).Pending
		require.NotNil(t, pending)
		require.Equal(t, "youtube.com", pending.Domain)
		require.NotContains(t, string(pending.CodeHash), code, "code must not be stored in the clear")
	})

	t.Run("IdempotentWhileCodeLive", func(t *testing.T) {
		sender := &recordingSender{}
		svc, clock, _, id := newService(t, sender)

		first, sent, err := svc.Request(ctx, id, "youtube.com")
		require.NoError(t, err)
		require.True(t, sent)

		// A double click must not invalidate the just-issued code.
		clock.Advance(time.Second)
		second, sent, err := svc.Request(ctx, id, "youtube.com")
		require.NoError(t, err)
		require.False(t, sent)
		require.Empty(t, second)
		require.Len(t, sender.codes, 1)

		// The original code still verifies.
		override, err := svc.Verify(ctx, id, first)
		require.NoError(t, err)
		require.Equal(t, "youtube.com", override.Domain)
	})

	t.Run("ExpiredCodeIsReplaced", func(t *testing.T) {
		sender := &recordingSender{}
		svc, clock, _, id := newService(t, sender)

		_, _, err := svc.Request(ctx, id, "youtube.com")
		require.NoError(t, err)

		clock.Advance(10 * time.Minute)
		code, sent, err := svc.Request(ctx, id, "youtube.com")
		require.NoError(t, err)
		require.True(t, sent)
		require.NotEmpty(t, code)
		require.Len(t, sender.codes, 2)
	})

	t.Run("DeliveryFailureKeepsCode", func(t *testing.T) {
		sender := &recordingSender{fail: true}
		svc, _, store, id := newService(t, sender)

		code, sent, err := svc.Request(ctx, id, "youtube.com")
		require.NoError(t, err)
		require.False(t, sent)
		require.NotEmpty(t, code)
		require.NotNil(t, store.GetUser(id).Pending, "pending code survives delivery failure")

		override, err := svc.Verify(ctx, id, code)
		require.NoError(t, err)
		require.Equal(t, "youtube.com", override.Domain)
	})
}

func TestVerify(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("NoPendingCode", func(t *testing.T) {
		svc, _, _, id := newService(t, &recordingSender{})
		_, err := svc.Verify(ctx, id, "123456")
		require.ErrorIs(t, err, ledger.ErrForbidden)
	})

	t.Run("WrongCodeKeepsPending", func(t *testing.T) {
		sender := &recordingSender{}
		svc, _, store, id := newService(t, sender)
		_, _, err := svc.Request(ctx, id, "youtube.com")
		require.NoError(t, err)

		_, err = svc.Verify(ctx, id, "000000")
		if sender.lastCode() == "000000" {
			t.Skip("generated code collided with the guess")
		}
		require.ErrorIs(t, err, ledger.ErrForbidden)
		require.NotNil(t, store.GetUser(id).Pending, "retry within the window stays possible")
	})

	t.Run("ExpiredCodeDiscarded", func(t *testing.T) {
		sender := &recordingSender{}
		svc, clock, store, id := newService(t, sender)
		_, _, err := svc.Request(ctx, id, "youtube.com")
		require.NoError(t, err)

		clock.Advance(10 * time.Minute)
		_, err = svc.Verify(ctx, id, sender.lastCode())
		require.ErrorIs(t, err, ledger.ErrForbidden)
		require.Nil(t, store.GetUser(id).Pending, "expired code is discarded as a side effect")
	})

	t.Run("SuccessInstallsOverride", func(t *testing.T) {
		sender := &recordingSender{}
		svc, clock, store, id := newService(t, sender)
		_, _, err := svc.Request(ctx, id, "youtube.com")
		require.NoError(t, err)

		clock.Advance(time.Second)
		override, err := svc.Verify(ctx, id, sender.lastCode())
		require.NoError(t, err)
		require.Equal(t, "youtube.com", override.Domain)
		require.Equal(t, clock.Now().Add(15*time.Minute), override.ExpiresAt)

		user := store.GetUser(id)
		require.Nil(t, user.Pending, "code is single use")
		require.Len(t, user.Overrides, 1)

		// Single use: the same code cannot verify twice.
		_, err = svc.Verify(ctx, id, sender.lastCode())
		require.ErrorIs(t, err, ledger.ErrForbidden)
	})
}

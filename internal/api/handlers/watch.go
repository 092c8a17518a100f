package handlers

import (
	"net/http"

	"cdr.dev/slog"
	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"minder/internal/ledger"
	"minder/internal/models"
)

// WatchHandler streams decision-set updates over a websocket so clients
// can replace their snapshot without polling.
type WatchHandler struct {
	ledger      *ledger.Service
	broadcaster *Broadcaster
	log         slog.Logger
}

// NewWatchHandler creates a new WatchHandler
func NewWatchHandler(ledgerSvc *ledger.Service, broadcaster *Broadcaster, log slog.Logger) *WatchHandler {
	return &WatchHandler{
		ledger:      ledgerSvc,
		broadcaster: broadcaster,
		log:         log.Named("watch"),
	}
}

// ConfigPush is one pushed snapshot update.
type ConfigPush struct {
	Rules []models.RuleStatus `json:"rules"`
}

// HandleWatch handles GET /api/v1/watch?uuid=
func (h *WatchHandler) HandleWatch(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("uuid")

	// Resolve the user before upgrading so unknown IDs still get a
	// regular 404 envelope.
	statuses, err := h.ledger.Decisions(r.Context(), userID)
	if err != nil {
		ServiceError(w, err)
		return
	}

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		h.log.Debug(r.Context(), "websocket accept failed", slog.Error(err))
		return
	}
	defer conn.Close(websocket.StatusInternalError, "unexpected close")

	updates, cancel := h.broadcaster.Subscribe(userID)
	defer cancel()

	// CloseRead cancels the context when the peer goes away.
	ctx := conn.CloseRead(r.Context())

	// Initial push so the client starts from the current state.
	if err := wsjson.Write(ctx, conn, ConfigPush{Rules: statuses}); err != nil {
		return
	}

	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusGoingAway, "")
			return
		case statuses := <-updates:
			if err := wsjson.Write(ctx, conn, ConfigPush{Rules: statuses}); err != nil {
				return
			}
		}
	}
}

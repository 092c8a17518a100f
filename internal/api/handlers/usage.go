package handlers

import (
	"net/http"

	"minder/internal/ledger"
)

// UsageHandler handles heartbeat ingestion and decision reads
type UsageHandler struct {
	ledger      *ledger.Service
	broadcaster *Broadcaster
	metrics     *Metrics
}

// NewUsageHandler creates a new UsageHandler
func NewUsageHandler(ledgerSvc *ledger.Service, broadcaster *Broadcaster, metrics *Metrics) *UsageHandler {
	return &UsageHandler{
		ledger:      ledgerSvc,
		broadcaster: broadcaster,
		metrics:     metrics,
	}
}

// HeartbeatRequest is an incremental usage report in elapsed seconds
type HeartbeatRequest struct {
	UUID    string   `json:"uuid"`
	Domain  string   `json:"domain"`
	Seconds *float64 `json:"seconds"`
}

// HandleHeartbeat handles POST /api/v1/heartbeat
func (h *UsageHandler) HandleHeartbeat(w http.ResponseWriter, r *http.Request) {
	var req HeartbeatRequest
	if err := ParseJSON(r, &req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Domain == "" || req.Seconds == nil {
		Error(w, http.StatusBadRequest, "domain and seconds are required")
		return
	}

	if err := h.ledger.Ingest(r.Context(), req.UUID, req.Domain, *req.Seconds); err != nil {
		ServiceError(w, err)
		return
	}
	h.metrics.Heartbeats.Inc()

	// Push the updated decision set to any connected watchers so a
	// just-exhausted budget blocks other tabs without a poll cycle.
	if statuses, err := h.ledger.Decisions(r.Context(), req.UUID); err == nil {
		h.broadcaster.Notify(req.UUID, statuses)
	}

	JSON(w, http.StatusOK, map[string]interface{}{"success": true})
}

// ConfigRequest asks for the decision set of a user
type ConfigRequest struct {
	UUID string `json:"uuid"`
}

// HandleConfig handles POST /api/v1/config
func (h *UsageHandler) HandleConfig(w http.ResponseWriter, r *http.Request) {
	var req ConfigRequest
	if err := ParseJSON(r, &req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	statuses, err := h.ledger.Decisions(r.Context(), req.UUID)
	if err != nil {
		ServiceError(w, err)
		return
	}
	h.metrics.Decisions.Inc()
	for _, st := range statuses {
		if st.Block {
			h.metrics.BlockedRules.Inc()
		}
	}

	JSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"rules":   statuses,
	})
}

package handlers

import (
	"net/http"

	"minder/internal/ledger"
	"minder/internal/unlock"
)

// UnlockHandler handles unlock code issuance and verification
type UnlockHandler struct {
	unlock      *unlock.Service
	ledger      *ledger.Service
	broadcaster *Broadcaster
	metrics     *Metrics
	// exposeCode includes the plaintext code in responses; never set in
	// production.
	exposeCode bool
}

// NewUnlockHandler creates a new UnlockHandler
func NewUnlockHandler(unlockSvc *unlock.Service, ledgerSvc *ledger.Service, broadcaster *Broadcaster, metrics *Metrics, exposeCode bool) *UnlockHandler {
	return &UnlockHandler{
		unlock:      unlockSvc,
		ledger:      ledgerSvc,
		broadcaster: broadcaster,
		metrics:     metrics,
		exposeCode:  exposeCode,
	}
}

// UnlockRequest asks for a new unlock code for a domain
type UnlockRequest struct {
	UUID   string `json:"uuid"`
	Domain string `json:"domain"`
}

// HandleRequest handles POST /api/v1/unlock/request
func (h *UnlockHandler) HandleRequest(w http.ResponseWriter, r *http.Request) {
	var req UnlockRequest
	if err := ParseJSON(r, &req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Domain == "" {
		Error(w, http.StatusBadRequest, "domain is required")
		return
	}

	code, sent, err := h.unlock.Request(r.Context(), req.UUID, req.Domain)
	if err != nil {
		ServiceError(w, err)
		return
	}
	h.metrics.UnlockRequests.Inc()

	resp := map[string]interface{}{
		"success": true,
		"sent":    sent,
	}
	if h.exposeCode && code != "" {
		resp["otp"] = code
	}
	JSON(w, http.StatusOK, resp)
}

// VerifyRequest submits a received unlock code
type VerifyRequest struct {
	UUID string `json:"uuid"`
	OTP  string `json:"otp"`
}

// HandleVerify handles POST /api/v1/unlock/verify
func (h *UnlockHandler) HandleVerify(w http.ResponseWriter, r *http.Request) {
	var req VerifyRequest
	if err := ParseJSON(r, &req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.OTP == "" {
		Error(w, http.StatusBadRequest, "otp is required")
		return
	}

	override, err := h.unlock.Verify(r.Context(), req.UUID, req.OTP)
	if err != nil {
		h.metrics.UnlockVerifies.WithLabelValues("failure").Inc()
		ServiceError(w, err)
		return
	}
	h.metrics.UnlockVerifies.WithLabelValues("success").Inc()

	// A fresh override changes decisions; let watchers unblock promptly.
	if statuses, err := h.ledger.Decisions(r.Context(), req.UUID); err == nil {
		h.broadcaster.Notify(req.UUID, statuses)
	}

	JSON(w, http.StatusOK, map[string]interface{}{
		"success":    true,
		"unlocked":   true,
		"domain":     override.Domain,
		"expires_at": override.ExpiresAt,
	})
}

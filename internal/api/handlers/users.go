package handlers

import (
	"net/http"

	"minder/internal/ledger"
	"minder/internal/models"
)

// UsersHandler handles user bootstrap and rule management endpoints
type UsersHandler struct {
	ledger      *ledger.Service
	broadcaster *Broadcaster
}

// NewUsersHandler creates a new UsersHandler
func NewUsersHandler(ledgerSvc *ledger.Service, broadcaster *Broadcaster) *UsersHandler {
	return &UsersHandler{
		ledger:      ledgerSvc,
		broadcaster: broadcaster,
	}
}

// InitRequest represents the idempotent create/lookup request
type InitRequest struct {
	UUID string `json:"uuid"`
}

// HandleInit handles POST /api/v1/init
func (h *UsersHandler) HandleInit(w http.ResponseWriter, r *http.Request) {
	var req InitRequest
	if err := ParseJSON(r, &req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	user, err := h.ledger.Init(r.Context(), req.UUID)
	if err != nil {
		ServiceError(w, err)
		return
	}

	JSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"uuid":    user.ID,
	})
}

// EmailRequest sets the contact channel for unlock code delivery
type EmailRequest struct {
	UUID  string `json:"uuid"`
	Email string `json:"email"`
}

// HandleEmail handles POST /api/v1/email
func (h *UsersHandler) HandleEmail(w http.ResponseWriter, r *http.Request) {
	var req EmailRequest
	if err := ParseJSON(r, &req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := h.ledger.SetEmail(r.Context(), req.UUID, req.Email); err != nil {
		ServiceError(w, err)
		return
	}

	JSON(w, http.StatusOK, map[string]interface{}{"success": true})
}

// RulesRequest represents a full rule-set replacement
type RulesRequest struct {
	UUID  string            `json:"uuid"`
	Rules []models.RuleSpec `json:"rules"`
}

// HandleRules handles POST /api/v1/rules
func (h *UsersHandler) HandleRules(w http.ResponseWriter, r *http.Request) {
	var req RulesRequest
	if err := ParseJSON(r, &req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	rules, err := h.ledger.ReplaceRules(r.Context(), req.UUID, req.Rules)
	if err != nil {
		ServiceError(w, err)
		return
	}

	// Watchers get the fresh decision set right away.
	if statuses, err := h.ledger.Decisions(r.Context(), req.UUID); err == nil {
		h.broadcaster.Notify(req.UUID, statuses)
	}

	JSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"rules":   rules,
	})
}

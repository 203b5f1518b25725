package handler

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/kitabu/swapcycle/internal/repository"
	"github.com/kitabu/swapcycle/internal/service"
)

// CycleHandler serves the cycle read model and the participant action
// endpoints that drive the lifecycle state machine.
type CycleHandler struct {
	lifecycle *service.Lifecycle
	views     *repository.CycleViewRepository
}

// NewCycleHandler creates a cycle handler.
func NewCycleHandler(lifecycle *service.Lifecycle, views *repository.CycleViewRepository) *CycleHandler {
	return &CycleHandler{lifecycle: lifecycle, views: views}
}

// GetCycle handles GET /api/v1/cycles/{id}
//
// Returns the cycle with its drop point and ordered participant ring.
func (h *CycleHandler) GetCycle(w http.ResponseWriter, r *http.Request) {
	cycleID, ok := pathID(w, r)
	if !ok {
		return
	}

	detail, err := h.views.GetCycleDetail(r.Context(), cycleID)
	if err != nil {
		if errors.Is(err, service.ErrCycleNotFound) {
			writeJSON(w, http.StatusNotFound, errorBody("not_found", "Swap cycle not found."))
			return
		}
		log.Printf("[handler] get cycle error: %v", err)
		writeJSON(w, http.StatusInternalServerError, errorBody("internal_error", "Could not load cycle."))
		return
	}

	writeJSON(w, http.StatusOK, detail)
}

// actionRequest is the shared body for participant actions. Auth lives in
// the gateway; the engine trusts user_id from the already-authenticated
// request context.
type actionRequest struct {
	UserID   int64  `json:"user_id"`
	PhotoURL string `json:"photo_url,omitempty"`
	QRToken  string `json:"qr_token,omitempty"`
	Reason   string `json:"reason,omitempty"`
	Details  string `json:"details,omitempty"`
}

// Confirm handles POST /api/v1/cycles/{id}/confirm
func (h *CycleHandler) Confirm(w http.ResponseWriter, r *http.Request) {
	cycleID, req, ok := actionInput(w, r, true)
	if !ok {
		return
	}
	h.respond(w, "confirm", h.lifecycle.Confirm(r.Context(), cycleID, req.UserID))
}

// DropOff handles POST /api/v1/cycles/{id}/dropoff
//
// The optional photo_url is a verification photo taken at the drop point.
func (h *CycleHandler) DropOff(w http.ResponseWriter, r *http.Request) {
	cycleID, req, ok := actionInput(w, r, true)
	if !ok {
		return
	}
	h.respond(w, "dropoff", h.lifecycle.DropOff(r.Context(), cycleID, req.UserID, req.PhotoURL))
}

// Collect handles POST /api/v1/cycles/{id}/collect
//
// Requires the participant's collection QR token.
func (h *CycleHandler) Collect(w http.ResponseWriter, r *http.Request) {
	cycleID, req, ok := actionInput(w, r, true)
	if !ok {
		return
	}
	if req.QRToken == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("missing_qr_token", "qr_token is required."))
		return
	}
	h.respond(w, "collect", h.lifecycle.Collect(r.Context(), cycleID, req.UserID, req.QRToken))
}

// Cancel handles POST /api/v1/cycles/{id}/cancel
//
// Requires a reason; valid from any non-terminal state.
func (h *CycleHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	cycleID, req, ok := actionInput(w, r, false)
	if !ok {
		return
	}
	if req.Reason == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("missing_reason", "reason is required."))
		return
	}
	h.respond(w, "cancel", h.lifecycle.Cancel(r.Context(), cycleID, req.Reason))
}

// ReportCondition handles POST /api/v1/cycles/{id}/report-condition
//
// Flags the received book as worse than listed; penalizes the giver.
func (h *CycleHandler) ReportCondition(w http.ResponseWriter, r *http.Request) {
	cycleID, req, ok := actionInput(w, r, true)
	if !ok {
		return
	}
	h.respond(w, "report-condition", h.lifecycle.ReportConditionMismatch(r.Context(), cycleID, req.UserID, req.Details))
}

// ─── Error mapping ──────────────────────────────────────────

// respond maps lifecycle errors onto HTTP responses.
//
// Response codes:
//
//	200 — action applied
//	403 — wrong QR token
//	404 — unknown cycle or acting user is not a participant
//	409 — action not valid in the cycle's current status (message carries
//	      the status), repeat action, or expired confirmation window
func (h *CycleHandler) respond(w http.ResponseWriter, action string, err error) {
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]interface{}{"success": true})
	case errors.Is(err, service.ErrCycleNotFound):
		writeJSON(w, http.StatusNotFound, errorBody("not_found", "Swap cycle not found."))
	case errors.Is(err, service.ErrParticipantNotFound):
		writeJSON(w, http.StatusNotFound, errorBody("not_participant", "You are not part of this swap cycle."))
	case errors.Is(err, service.ErrInvalidTransition):
		writeJSON(w, http.StatusConflict, errorBody("invalid_state", err.Error()))
	case errors.Is(err, service.ErrConfirmationExpired):
		writeJSON(w, http.StatusConflict, errorBody("confirmation_expired",
			"The confirmation window has closed; the cycle timed out."))
	case errors.Is(err, service.ErrAlreadyConfirmed),
		errors.Is(err, service.ErrAlreadyDropped),
		errors.Is(err, service.ErrAlreadyCollected):
		writeJSON(w, http.StatusConflict, errorBody("already_done", err.Error()))
	case errors.Is(err, service.ErrWrongQRToken):
		writeJSON(w, http.StatusForbidden, errorBody("wrong_qr_token", "The QR token does not match."))
	default:
		log.Printf("[handler] %s error: %v", action, err)
		writeJSON(w, http.StatusInternalServerError, errorBody("internal_error", "Something went wrong."))
	}
}

// ─── Parsing helpers ────────────────────────────────────────

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid_id", "Cycle id must be an integer."))
		return 0, false
	}
	return id, true
}

func actionInput(w http.ResponseWriter, r *http.Request, needUser bool) (int64, *actionRequest, bool) {
	cycleID, ok := pathID(w, r)
	if !ok {
		return 0, nil, false
	}

	var req actionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid_body", "Request body must be JSON."))
		return 0, nil, false
	}
	if needUser && req.UserID == 0 {
		writeJSON(w, http.StatusBadRequest, errorBody("missing_user_id", "user_id is required."))
		return 0, nil, false
	}
	return cycleID, &req, true
}

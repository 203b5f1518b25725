package handler

import (
	"errors"
	"log"
	"net/http"

	"github.com/kitabu/swapcycle/internal/service"
)

// DetectHandler exposes the admin trigger for a detection run.
type DetectHandler struct {
	runner *service.JobRunner
}

// NewDetectHandler creates a handler wired to the job runner.
func NewDetectHandler(runner *service.JobRunner) *DetectHandler {
	return &DetectHandler{runner: runner}
}

// RunDetection handles POST /api/v1/swaps/detect
//
// Kicks off one detection batch. Returns 200 with the saved-cycle count, or
// 409 if a run is already in progress (the trigger is skipped, not queued).
func (h *DetectHandler) RunDetection(w http.ResponseWriter, r *http.Request) {
	saved, err := h.runner.TriggerDetection(r.Context())
	if err != nil {
		if errors.Is(err, service.ErrDetectionRunning) {
			writeJSON(w, http.StatusConflict, errorBody("detection_running",
				"A detection run is already in progress. Try again shortly."))
			return
		}
		log.Printf("[handler] detect error: %v", err)
		writeJSON(w, http.StatusInternalServerError, errorBody("internal_error",
			"Detection run failed."))
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"cycles_saved": saved,
	})
}

package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/mhrdina/narrator/internal/generation"
)

// handleRequestGeneration starts (or joins) a generation for an identifier
// and voice. The response kind tells the client whether to play immediately,
// poll, or top up credits.
func (r *Router) handleRequestGeneration(w http.ResponseWriter, req *http.Request) {
	user := getAuthUser(req.Context())

	var body struct {
		Identifier string `json:"identifier"`
		VoiceID    string `json:"voice_id"`
	}
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		http.Error(w, `{"error": "invalid request body"}`, http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(body.Identifier) == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "identifier is required"})
		return
	}
	if strings.TrimSpace(body.VoiceID) == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "voice_id is required"})
		return
	}

	out, err := r.gen.RequestGeneration(req.Context(), generation.Request{
		Identifier: body.Identifier,
		VoiceID:    body.VoiceID,
		UserID:     user.ID,
	})
	if err != nil {
		if errors.Is(err, generation.ErrDraining) {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "shutting down, retry shortly"})
			return
		}
		r.logger.Printf("generation: request failed: %v", err)
		captureError(req, err, "generation request failed")
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": "generation failed"})
		return
	}

	status := http.StatusOK
	switch out.Kind {
	case generation.OutcomeInsufficientCredits:
		status = http.StatusPaymentRequired
	case generation.OutcomeInProgress:
		status = http.StatusAccepted
	}
	writeJSON(w, status, out)
}

// handlePreviewCost estimates the charge for a word count without
// reserving anything.
func (r *Router) handlePreviewCost(w http.ResponseWriter, req *http.Request) {
	user := getAuthUser(req.Context())

	var body struct {
		WordCount int `json:"word_count"`
	}
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		http.Error(w, `{"error": "invalid request body"}`, http.StatusBadRequest)
		return
	}
	if body.WordCount <= 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "word_count must be positive"})
		return
	}

	preview, err := r.gen.PreviewCost(req.Context(), user.ID, body.WordCount)
	if err != nil {
		r.logger.Printf("generation: preview failed: %v", err)
		captureError(req, err, "cost preview failed")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "preview failed"})
		return
	}
	writeJSON(w, http.StatusOK, preview)
}

// handlePollCache returns the cache entry snapshot for a fingerprint.
func (r *Router) handlePollCache(w http.ResponseWriter, req *http.Request) {
	fp := req.PathValue("fingerprint")
	entry, err := r.gen.PollCache(req.Context(), fp)
	if err != nil {
		r.logger.Printf("generation: poll cache %s failed: %v", fp, err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "lookup failed"})
		return
	}
	if entry == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

// handlePollStream returns the stream snapshot, with progress.
func (r *Router) handlePollStream(w http.ResponseWriter, req *http.Request) {
	streamID := req.PathValue("streamId")
	st, err := r.gen.PollStream(req.Context(), streamID)
	if err != nil {
		r.logger.Printf("generation: poll stream %s failed: %v", streamID, err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "lookup failed"})
		return
	}
	if st == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
		return
	}
	writeJSON(w, http.StatusOK, streamSnapshot(st))
}

// handleListEvents returns the recorded lifecycle events for a fingerprint,
// for debugging generation issues.
func (r *Router) handleListEvents(w http.ResponseWriter, req *http.Request) {
	fp := req.PathValue("fingerprint")
	events, err := r.eventLog.ListEvents(req.Context(), fp, 200)
	if err != nil {
		r.logger.Printf("generation: list events %s failed: %v", fp, err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "lookup failed"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}

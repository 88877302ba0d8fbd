package httpapi

import (
	"encoding/json"
	"net/http"
	"strings"
)

// handleGetCredits returns the caller's balance, creating it with the free
// starting credits on first sight.
func (r *Router) handleGetCredits(w http.ResponseWriter, req *http.Request) {
	user := getAuthUser(req.Context())

	balance, err := r.store.EnsureBalance(req.Context(), user.ID, r.cfg.FreeStartingCredits)
	if err != nil {
		r.logger.Printf("credits: get balance for %s failed: %v", user.ID, err)
		captureError(req, err, "get balance failed")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "balance lookup failed"})
		return
	}
	writeJSON(w, http.StatusOK, balance)
}

// handleGrantCredits adds credits to a user. This is the boundary the
// verified payment flow (and support) calls into; nothing here talks to a
// payment provider.
func (r *Router) handleGrantCredits(w http.ResponseWriter, req *http.Request) {
	var body struct {
		UserID  string `json:"user_id"`
		Credits int    `json:"credits"`
	}
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		http.Error(w, `{"error": "invalid request body"}`, http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(body.UserID) == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "user_id is required"})
		return
	}
	if body.Credits <= 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "credits must be positive"})
		return
	}

	balance, err := r.store.AddCredits(req.Context(), body.UserID, body.Credits)
	if err != nil {
		r.logger.Printf("credits: grant %d to %s failed: %v", body.Credits, body.UserID, err)
		captureError(req, err, "credit grant failed")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "grant failed"})
		return
	}

	r.logger.Printf("credits: granted %d to %s", body.Credits, body.UserID)
	writeJSON(w, http.StatusOK, balance)
}

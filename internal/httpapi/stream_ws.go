package httpapi

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mhrdina/narrator/internal/store"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // CORS is handled at the HTTP layer
	},
}

// streamPushInterval is how often a connected client gets a fresh snapshot.
const streamPushInterval = 500 * time.Millisecond

// streamSnapshotMsg is the wire format pushed to websocket clients and
// returned by the polling endpoint.
type streamSnapshotMsg struct {
	StreamID             string   `json:"stream_id"`
	Status               string   `json:"status"`
	ManifestLocation     string   `json:"manifest_location"`
	TotalChunks          int      `json:"total_chunks"`
	ChunksCompleted      int      `json:"chunks_completed"`
	Progress             float64  `json:"progress"`
	TotalDurationSeconds float64  `json:"total_duration_seconds"`
	FailedChunkIndex     *int     `json:"failed_chunk_index,omitempty"`
	ErrorMessage         *string  `json:"error_message,omitempty"`
}

func streamSnapshot(st *store.StreamState) streamSnapshotMsg {
	return streamSnapshotMsg{
		StreamID:             st.StreamID,
		Status:               st.Status,
		ManifestLocation:     st.ManifestLocation,
		TotalChunks:          st.TotalChunks,
		ChunksCompleted:      st.ChunksCompleted,
		Progress:             st.Progress(),
		TotalDurationSeconds: st.TotalDurationSeconds,
		FailedChunkIndex:     st.FailedChunkIndex,
		ErrorMessage:         st.ErrorMessage,
	}
}

// handleStreamWS pushes stream progress snapshots over a websocket until
// the stream reaches a terminal state. Browsers cannot set an Authorization
// header on websocket connects, so the token rides in a query parameter.
func (r *Router) handleStreamWS(w http.ResponseWriter, req *http.Request) {
	if token := req.URL.Query().Get("token"); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if _, ok := r.authenticate(req); !ok {
		http.Error(w, `{"error": "invalid token"}`, http.StatusUnauthorized)
		return
	}

	streamID := req.PathValue("streamId")
	st, err := r.gen.PollStream(req.Context(), streamID)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "lookup failed"})
		return
	}
	if st == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
		return
	}

	conn, err := upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.logger.Printf("streamws: upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	if err := conn.WriteJSON(streamSnapshot(st)); err != nil {
		return
	}
	if st.Status != store.StreamStatusStreaming {
		return
	}

	ticker := time.NewTicker(streamPushInterval)
	defer ticker.Stop()

	lastCompleted := st.ChunksCompleted
	for {
		select {
		case <-req.Context().Done():
			return
		case <-ticker.C:
		}

		st, err := r.gen.PollStream(req.Context(), streamID)
		if err != nil || st == nil {
			return
		}
		// Push on every change and on every terminal transition; silence
		// between unchanged ticks keeps idle connections cheap.
		if st.ChunksCompleted != lastCompleted || st.Status != store.StreamStatusStreaming {
			if err := conn.WriteJSON(streamSnapshot(st)); err != nil {
				return
			}
			lastCompleted = st.ChunksCompleted
		}
		if st.Status != store.StreamStatusStreaming {
			return
		}
	}
}

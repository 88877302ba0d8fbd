package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// Stream lifecycle states.
const (
	StreamStatusStreaming = "streaming"
	StreamStatusReady     = "ready"
	StreamStatusFailed    = "failed"
)

// StreamState is the pollable progress record for one in-flight streaming
// generation. It is written only by the single worker that owns the stream
// and read by any number of polling clients. Once status leaves "streaming"
// the record is terminal.
type StreamState struct {
	StreamID             string    `json:"stream_id"`
	CacheFingerprint     string    `json:"cache_fingerprint"`
	Status               string    `json:"status"`
	ManifestLocation     string    `json:"manifest_location"`
	TotalChunks          int       `json:"total_chunks"`
	ChunksCompleted      int       `json:"chunks_completed"`
	TotalDurationSeconds float64   `json:"total_duration_seconds"`
	FailedChunkIndex     *int      `json:"failed_chunk_index,omitempty"`
	ErrorMessage         *string   `json:"error_message,omitempty"`
	CreatedAt            time.Time `json:"created_at"`
	UpdatedAt            time.Time `json:"updated_at"`
}

// Progress returns completion as a fraction in [0, 1].
func (s *StreamState) Progress() float64 {
	if s.TotalChunks <= 0 {
		return 0
	}
	p := float64(s.ChunksCompleted) / float64(s.TotalChunks)
	if p > 1 {
		p = 1
	}
	return p
}

const streamStateColumns = `stream_id, cache_fingerprint, status, manifest_location,
       total_chunks, chunks_completed, total_duration_seconds,
       failed_chunk_index, error_message, created_at, updated_at`

func scanStreamState(row pgx.Row) (*StreamState, error) {
	var st StreamState
	err := row.Scan(
		&st.StreamID, &st.CacheFingerprint, &st.Status, &st.ManifestLocation,
		&st.TotalChunks, &st.ChunksCompleted, &st.TotalDurationSeconds,
		&st.FailedChunkIndex, &st.ErrorMessage, &st.CreatedAt, &st.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &st, nil
}

// CreateStreamState inserts a fresh stream record with status=streaming and
// zero completed chunks.
func (s *Store) CreateStreamState(ctx context.Context, streamID, fingerprint, manifestLocation string, totalChunks int) (*StreamState, error) {
	return scanStreamState(s.db.QueryRow(ctx, `
		INSERT INTO stream_states (stream_id, cache_fingerprint, status, manifest_location, total_chunks)
		VALUES ($1, $2, 'streaming', $3, $4)
		RETURNING `+streamStateColumns+`
	`, streamID, fingerprint, manifestLocation, totalChunks))
}

// GetStreamState returns the stream record, or nil if the ID is unknown.
func (s *Store) GetStreamState(ctx context.Context, streamID string) (*StreamState, error) {
	st, err := scanStreamState(s.db.QueryRow(ctx, `
		SELECT `+streamStateColumns+`
		FROM stream_states
		WHERE stream_id = $1
	`, streamID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return st, nil
}

// RecordChunkCompleted advances progress by one chunk and accumulates its
// duration. chunks_completed only ever grows, and only while streaming.
func (s *Store) RecordChunkCompleted(ctx context.Context, streamID string, chunkDurationSeconds float64) (*StreamState, error) {
	st, err := scanStreamState(s.db.QueryRow(ctx, `
		UPDATE stream_states
		SET chunks_completed = chunks_completed + 1,
		    total_duration_seconds = total_duration_seconds + $2,
		    updated_at = NOW()
		WHERE stream_id = $1 AND status = 'streaming'
		RETURNING `+streamStateColumns+`
	`, streamID, chunkDurationSeconds))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("record chunk for %s: stream missing or terminal", streamID)
	}
	return st, err
}

// MarkStreamReady finalizes a stream after its last chunk completes.
func (s *Store) MarkStreamReady(ctx context.Context, streamID string) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE stream_states
		SET status = 'ready', updated_at = NOW()
		WHERE stream_id = $1 AND status = 'streaming'
	`, streamID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("mark stream ready %s: stream missing or terminal", streamID)
	}
	return nil
}

// MarkStreamFailed records a terminal chunk failure. Already-published chunks
// stay playable, but the artifact as a whole is failed; a gapped manifest is
// not a deliverable.
func (s *Store) MarkStreamFailed(ctx context.Context, streamID string, failedChunkIndex int, errorMessage string) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE stream_states
		SET status = 'failed', failed_chunk_index = $2, error_message = $3, updated_at = NOW()
		WHERE stream_id = $1 AND status = 'streaming'
	`, streamID, failedChunkIndex, errorMessage)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("mark stream failed %s: stream missing or terminal", streamID)
	}
	return nil
}

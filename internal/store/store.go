// Package store provides the Postgres-backed state for the generation cache,
// stream progress, and credit balances. All cross-process safety in the
// service comes from this package: the cache claim rides on a unique index,
// and credit reservations ride on a guarded compare-and-swap.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// uniqueViolation is the Postgres error code for a unique constraint breach.
const uniqueViolation = "23505"

type Store struct {
	db *pgxpool.Pool
}

func New(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

// Cache entry lifecycle states.
const (
	StatusProcessing = "processing"
	StatusReady      = "ready"
	StatusFailed     = "failed"
)

// CacheEntry is one row per (normalized content, voice) pair. At most one
// exists per fingerprint at any instant; the unique index on fingerprint is
// what makes Claim atomic.
type CacheEntry struct {
	Fingerprint          string    `json:"fingerprint"`
	OriginalIdentifier   string    `json:"original_identifier"`
	NormalizedIdentifier string    `json:"normalized_identifier"`
	VoiceID              string    `json:"voice_id"`
	Status               string    `json:"status"`
	Title                *string   `json:"title,omitempty"`
	AudioLocation        *string   `json:"audio_location,omitempty"`
	DurationSeconds      *float64  `json:"duration_seconds,omitempty"`
	WordCount            *int      `json:"word_count,omitempty"`
	ArtifactSizeBytes    *int64    `json:"artifact_size_bytes,omitempty"`
	ErrorMessage         *string   `json:"error_message,omitempty"`
	CreatedBy            *string   `json:"created_by,omitempty"`
	CreatedAt            time.Time `json:"created_at"`
	UpdatedAt            time.Time `json:"updated_at"`
}

// ClaimMetadata is the request context recorded on a freshly claimed entry.
type ClaimMetadata struct {
	Fingerprint          string
	OriginalIdentifier   string
	NormalizedIdentifier string
	VoiceID              string
	CreatedBy            *string
}

// GenerationResult is the terminal payload written by MarkReady.
type GenerationResult struct {
	Title             string
	AudioLocation     string
	DurationSeconds   float64
	WordCount         int
	ArtifactSizeBytes int64
}

const cacheEntryColumns = `fingerprint, original_identifier, normalized_identifier, voice_id,
       status, title, audio_location, duration_seconds, word_count, artifact_size_bytes,
       error_message, created_by, created_at, updated_at`

func scanCacheEntry(row pgx.Row) (*CacheEntry, error) {
	var e CacheEntry
	err := row.Scan(
		&e.Fingerprint, &e.OriginalIdentifier, &e.NormalizedIdentifier, &e.VoiceID,
		&e.Status, &e.Title, &e.AudioLocation, &e.DurationSeconds, &e.WordCount,
		&e.ArtifactSizeBytes, &e.ErrorMessage, &e.CreatedBy, &e.CreatedAt, &e.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// Claim attempts to atomically create the cache entry for a fingerprint with
// status=processing. Exactly one concurrent caller wins; the rest observe
// acquired=false, which is an expected outcome and not an error. The winner
// is responsible for eventually calling MarkReady or MarkFailed.
func (s *Store) Claim(ctx context.Context, m ClaimMetadata) (*CacheEntry, bool, error) {
	row := s.db.QueryRow(ctx, `
		INSERT INTO generation_cache (fingerprint, original_identifier, normalized_identifier, voice_id, status, created_by)
		VALUES ($1, $2, $3, $4, 'processing', $5)
		ON CONFLICT (fingerprint) DO NOTHING
		RETURNING `+cacheEntryColumns+`
	`, m.Fingerprint, m.OriginalIdentifier, m.NormalizedIdentifier, m.VoiceID, m.CreatedBy)

	entry, err := scanCacheEntry(row)
	if err == nil {
		return entry, true, nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		// Lost the race; someone else holds (or held) this fingerprint.
		return nil, false, nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		// ON CONFLICT normally swallows this, but a concurrent insert between
		// planning and execution can still surface it. Same meaning: lost.
		return nil, false, nil
	}
	return nil, false, fmt.Errorf("claim %s: %w", m.Fingerprint, err)
}

// GetCacheEntry returns the entry for a fingerprint, or nil if absent.
func (s *Store) GetCacheEntry(ctx context.Context, fp string) (*CacheEntry, error) {
	entry, err := scanCacheEntry(s.db.QueryRow(ctx, `
		SELECT `+cacheEntryColumns+`
		FROM generation_cache
		WHERE fingerprint = $1
	`, fp))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// MarkReady transitions the owned entry to ready with the final artifact
// metadata. Only the claim owner calls this.
func (s *Store) MarkReady(ctx context.Context, fp string, r GenerationResult) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE generation_cache
		SET status = 'ready',
		    title = $2,
		    audio_location = $3,
		    duration_seconds = $4,
		    word_count = $5,
		    artifact_size_bytes = $6,
		    error_message = NULL,
		    updated_at = NOW()
		WHERE fingerprint = $1 AND status = 'processing'
	`, fp, r.Title, r.AudioLocation, r.DurationSeconds, r.WordCount, r.ArtifactSizeBytes)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("mark ready %s: entry missing or not processing", fp)
	}
	return nil
}

// MarkFailed transitions the owned entry to failed. Only the claim owner
// calls this; the next caller for the fingerprint deletes it and retries.
func (s *Store) MarkFailed(ctx context.Context, fp string, errorMessage string) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE generation_cache
		SET status = 'failed', error_message = $2, updated_at = NOW()
		WHERE fingerprint = $1 AND status = 'processing'
	`, fp, errorMessage)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("mark failed %s: entry missing or not processing", fp)
	}
	return nil
}

// TouchCacheEntry refreshes updated_at on a processing entry. The streaming
// worker calls this after every chunk so a healthy long-running generation is
// never mistaken for an abandoned one.
func (s *Store) TouchCacheEntry(ctx context.Context, fp string) error {
	_, err := s.db.Exec(ctx, `
		UPDATE generation_cache
		SET updated_at = NOW()
		WHERE fingerprint = $1 AND status = 'processing'
	`, fp)
	return err
}

// ReleaseClaim removes an entry still held by its owner, e.g. when the credit
// reservation fails right after claiming. The status guard keeps a racing
// MarkReady from being undone.
func (s *Store) ReleaseClaim(ctx context.Context, fp string) error {
	_, err := s.db.Exec(ctx, `
		DELETE FROM generation_cache
		WHERE fingerprint = $1 AND status = 'processing'
	`, fp)
	return err
}

// IsStale reports whether a processing entry has gone without updates for at
// least timeout and is presumed abandoned. Pure predicate; staleness is
// detected lazily by the next caller for the fingerprint, not by a sweeper.
func IsStale(e *CacheEntry, timeout time.Duration) bool {
	if e == nil || e.Status != StatusProcessing {
		return false
	}
	return time.Since(e.UpdatedAt) >= timeout
}

// DeleteStaleEntry deletes a processing entry only if it is still stale at
// the time of the delete. The SQL-side recheck means a worker that woke up
// and touched its entry between our read and this delete keeps its claim.
// Returns true if the entry was reclaimed.
func (s *Store) DeleteStaleEntry(ctx context.Context, fp string, timeout time.Duration) (bool, error) {
	cutoff := time.Now().UTC().Add(-timeout)
	tag, err := s.db.Exec(ctx, `
		DELETE FROM generation_cache
		WHERE fingerprint = $1 AND status = 'processing' AND updated_at <= $2
	`, fp, cutoff)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// DeleteAllStaleEntries reclaims every stale processing entry in one sweep
// and returns their fingerprints. Lazy per-fingerprint reclaim in the lookup
// path is what guarantees correctness; this is an optimization so abandoned
// claims nobody re-requests don't linger.
func (s *Store) DeleteAllStaleEntries(ctx context.Context, timeout time.Duration) ([]string, error) {
	cutoff := time.Now().UTC().Add(-timeout)
	rows, err := s.db.Query(ctx, `
		DELETE FROM generation_cache
		WHERE status = 'processing' AND updated_at <= $1
		RETURNING fingerprint
	`, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var fingerprints []string
	for rows.Next() {
		var fp string
		if err := rows.Scan(&fp); err != nil {
			return nil, err
		}
		fingerprints = append(fingerprints, fp)
	}
	return fingerprints, rows.Err()
}

// DeleteFailedEntry deletes a failed entry so the next caller gets a fresh
// claim. Failures are never permanently cached. Returns true if deleted.
func (s *Store) DeleteFailedEntry(ctx context.Context, fp string) (bool, error) {
	tag, err := s.db.Exec(ctx, `
		DELETE FROM generation_cache
		WHERE fingerprint = $1 AND status = 'failed'
	`, fp)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

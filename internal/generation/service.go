// Package generation orchestrates text-to-audio generation: fingerprint
// lookup, cache claims, credit reservation, and the synchronous and
// streaming synthesis paths. All cross-process coordination goes through
// the store; this package never holds a lock across processes.
package generation

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/google/uuid"

	"github.com/mhrdina/narrator/internal/credits"
	"github.com/mhrdina/narrator/internal/eventlog"
	"github.com/mhrdina/narrator/internal/extract"
	"github.com/mhrdina/narrator/internal/fingerprint"
	"github.com/mhrdina/narrator/internal/storage"
	"github.com/mhrdina/narrator/internal/store"
	"github.com/mhrdina/narrator/internal/tts"
)

// ErrDraining is returned when a new generation would need a background
// continuation but the service is shutting down.
var ErrDraining = errors.New("service is draining, try again later")

// claimMaxAttempts bounds the lookup/claim/reclaim loop. Each retry means
// another caller changed the entry underneath us.
const claimMaxAttempts = 3

// Extractor resolves a content identifier to readable text.
type Extractor interface {
	Extract(ctx context.Context, identifier string) (*extract.Document, error)
}

// Synthesizer converts one chunk of text to audio in a given voice.
type Synthesizer interface {
	Synthesize(ctx context.Context, text, voiceID string) (*tts.Audio, error)
}

// ArtifactStore persists audio chunks and playlist manifests.
type ArtifactStore interface {
	UploadAudio(ctx context.Context, key string, data []byte) (string, int64, error)
	UploadManifest(ctx context.Context, key, manifest string) (string, error)
}

// Config holds the generation policy knobs.
type Config struct {
	// StreamingThresholdWords decides between the synchronous and the
	// streaming path. At or above the threshold, stream.
	StreamingThresholdWords int
	// ChunkTargetWords is the per-chunk packing target for streaming.
	ChunkTargetWords int
	// StaleTimeout is how long a processing entry may go without updates
	// before the next caller may reclaim it.
	StaleTimeout time.Duration
	// FreeStartingCredits is granted to an identity on first sight.
	FreeStartingCredits int
}

// Service is the generation orchestrator.
type Service struct {
	store     *store.Store
	extractor Extractor
	synth     Synthesizer
	artifacts ArtifactStore
	events    *eventlog.Logger
	registry  *JobRegistry
	logger    *log.Logger
	cfg       Config
}

// NewService wires the orchestrator. A nil logger falls back to the
// standard logger.
func NewService(st *store.Store, ex Extractor, sy Synthesizer, ar ArtifactStore, ev *eventlog.Logger, reg *JobRegistry, logger *log.Logger, cfg Config) *Service {
	if logger == nil {
		logger = log.Default()
	}
	if cfg.StreamingThresholdWords <= 0 {
		cfg.StreamingThresholdWords = 500
	}
	if cfg.ChunkTargetWords <= 0 {
		cfg.ChunkTargetWords = DefaultChunkTargetWords
	}
	if cfg.StaleTimeout <= 0 {
		cfg.StaleTimeout = 5 * time.Minute
	}
	return &Service{
		store:     st,
		extractor: ex,
		synth:     sy,
		artifacts: ar,
		events:    ev,
		registry:  reg,
		logger:    logger,
		cfg:       cfg,
	}
}

// Request is one generation request.
type Request struct {
	Identifier string
	VoiceID    string
	UserID     string
}

// Outcome kinds for RequestGeneration.
const (
	OutcomeCacheHit            = "cache_hit"
	OutcomeGenerated           = "generated"
	OutcomeStreaming           = "streaming"
	OutcomeInProgress          = "in_progress"
	OutcomeInsufficientCredits = "insufficient_credits"
)

// StreamStart is what a caller on the streaming path gets back while the
// rest of the audio is still being generated.
type StreamStart struct {
	StreamID                      string  `json:"stream_id"`
	ManifestLocation              string  `json:"manifest_location"`
	TotalChunks                   int     `json:"total_chunks"`
	FirstChunkDurationSeconds     float64 `json:"first_chunk_duration_seconds"`
	EstimatedTotalDurationSeconds float64 `json:"estimated_total_duration_seconds"`
}

// Outcome is the result of a generation request. Exactly one of Entry and
// Stream is set, depending on Kind; neither is set for in_progress and
// insufficient_credits.
type Outcome struct {
	Kind        string            `json:"kind"`
	Fingerprint string            `json:"fingerprint"`
	Entry       *store.CacheEntry `json:"entry,omitempty"`
	Stream      *StreamStart      `json:"stream,omitempty"`
}

// CostPreview is a read-only cost estimate; nothing is reserved.
type CostPreview struct {
	CreditsNeeded            int  `json:"credits_needed"`
	HasSufficientCredits     bool `json:"has_sufficient_credits"`
	EffectiveDurationMinutes int  `json:"effective_duration_minutes"`
}

// PreviewCost estimates what a generation of the given word count would
// charge the identity, against its current balance. Read-only.
func (s *Service) PreviewCost(ctx context.Context, userID string, wordCount int) (*CostPreview, error) {
	balance, err := s.store.EnsureBalance(ctx, userID, s.cfg.FreeStartingCredits)
	if err != nil {
		return nil, fmt.Errorf("preview cost: %w", err)
	}
	duration := credits.EstimateDuration(wordCount)
	charge := credits.ComputeCharge(duration, balance.TimeBankMinutes())
	return &CostPreview{
		CreditsNeeded:            charge.CreditsNeeded,
		HasSufficientCredits:     balance.Credits >= charge.CreditsNeeded,
		EffectiveDurationMinutes: charge.EffectiveDurationMinutes,
	}, nil
}

// RequestGeneration is the main entry point. It derives the fingerprint,
// consults the cache, and either short-circuits on a hit, reports work in
// progress, or wins the claim and generates.
//
// Claim conflicts and stale reclaims are handled internally; they are never
// surfaced as errors, only as in_progress outcomes or retried claims.
func (s *Service) RequestGeneration(ctx context.Context, req Request) (*Outcome, error) {
	normalized := fingerprint.NormalizeIdentifier(req.Identifier)
	fp := fingerprint.Derive(normalized, req.VoiceID)

	for attempt := 0; attempt < claimMaxAttempts; attempt++ {
		entry, err := s.store.GetCacheEntry(ctx, fp)
		if err != nil {
			return nil, fmt.Errorf("lookup %s: %w", fp, err)
		}

		switch {
		case entry == nil:
			meta := store.ClaimMetadata{
				Fingerprint:          fp,
				OriginalIdentifier:   req.Identifier,
				NormalizedIdentifier: normalized,
				VoiceID:              req.VoiceID,
			}
			if req.UserID != "" {
				meta.CreatedBy = &req.UserID
			}
			claimed, acquired, err := s.store.Claim(ctx, meta)
			if err != nil {
				return nil, err
			}
			if !acquired {
				// Someone else won the race; re-read and follow their entry.
				continue
			}
			s.events.LogAsync(fp, eventlog.EventClaimAcquired, map[string]any{
				"voice_id": req.VoiceID,
			})
			return s.generate(ctx, claimed, req)

		case entry.Status == store.StatusReady:
			return &Outcome{Kind: OutcomeCacheHit, Fingerprint: fp, Entry: entry}, nil

		case entry.Status == store.StatusProcessing:
			if !store.IsStale(entry, s.cfg.StaleTimeout) {
				return &Outcome{Kind: OutcomeInProgress, Fingerprint: fp, Entry: entry}, nil
			}
			reclaimed, err := s.store.DeleteStaleEntry(ctx, fp, s.cfg.StaleTimeout)
			if err != nil {
				return nil, fmt.Errorf("reclaim %s: %w", fp, err)
			}
			if reclaimed {
				s.logger.Printf("[generation] reclaimed stale entry %s", fp)
				s.events.LogAsync(fp, eventlog.EventEntryReclaimed, nil)
			}
			continue

		case entry.Status == store.StatusFailed:
			// Failures are transient; clear and retry the claim.
			if _, err := s.store.DeleteFailedEntry(ctx, fp); err != nil {
				return nil, fmt.Errorf("clear failed entry %s: %w", fp, err)
			}
			continue

		default:
			return nil, fmt.Errorf("entry %s has unknown status %q", fp, entry.Status)
		}
	}

	// Exhausted retries: the entry kept changing under us, which means
	// someone is actively working on it.
	entry, err := s.store.GetCacheEntry(ctx, fp)
	if err != nil {
		return nil, err
	}
	return &Outcome{Kind: OutcomeInProgress, Fingerprint: fp, Entry: entry}, nil
}

// generate runs after a won claim: extract, reserve credits, then pick
// the synchronous or streaming path.
func (s *Service) generate(ctx context.Context, entry *store.CacheEntry, req Request) (*Outcome, error) {
	fp := entry.Fingerprint

	doc, err := s.extractor.Extract(ctx, req.Identifier)
	if err != nil {
		s.failGeneration(ctx, fp, fmt.Sprintf("extraction failed: %v", err))
		return nil, fmt.Errorf("extract %s: %w", req.Identifier, err)
	}
	s.events.LogAsync(fp, eventlog.EventExtractCompleted, map[string]any{
		"word_count": doc.WordCount,
		"title":      doc.Title,
	})

	duration := credits.EstimateDuration(doc.WordCount)
	if _, err := s.store.EnsureBalance(ctx, req.UserID, s.cfg.FreeStartingCredits); err != nil {
		s.releaseClaim(ctx, fp)
		return nil, fmt.Errorf("ensure balance for %s: %w", req.UserID, err)
	}
	if _, err := s.store.ReserveCredits(ctx, req.UserID, duration); err != nil {
		// No charge happened; the claim must not outlive the rejection.
		s.releaseClaim(ctx, fp)
		if errors.Is(err, store.ErrInsufficientCredits) {
			s.events.LogAsync(fp, eventlog.EventCreditsRejected, map[string]any{
				"duration_minutes": duration,
			})
			return &Outcome{Kind: OutcomeInsufficientCredits, Fingerprint: fp}, nil
		}
		return nil, fmt.Errorf("reserve credits for %s: %w", req.UserID, err)
	}
	s.events.LogAsync(fp, eventlog.EventCreditsReserved, map[string]any{
		"duration_minutes": duration,
	})

	if doc.WordCount >= s.cfg.StreamingThresholdWords {
		return s.startStreaming(ctx, fp, doc, req.VoiceID, duration)
	}
	return s.generateSync(ctx, fp, doc, req.VoiceID)
}

// generateSync is the short-content path: one synthesis call, one upload,
// mark ready. The caller blocks for the whole thing.
func (s *Service) generateSync(ctx context.Context, fp string, doc *extract.Document, voiceID string) (*Outcome, error) {
	audio, err := s.synth.Synthesize(ctx, doc.Text, voiceID)
	if err != nil {
		s.failGeneration(ctx, fp, fmt.Sprintf("synthesis failed: %v", err))
		return nil, fmt.Errorf("synthesize %s: %w", fp, err)
	}

	location, size, err := s.artifacts.UploadAudio(ctx, audioKey(fp), audio.Data)
	if err != nil {
		s.failGeneration(ctx, fp, fmt.Sprintf("upload failed: %v", err))
		return nil, fmt.Errorf("upload %s: %w", fp, err)
	}

	result := store.GenerationResult{
		Title:             doc.Title,
		AudioLocation:     location,
		DurationSeconds:   audio.DurationSeconds,
		WordCount:         doc.WordCount,
		ArtifactSizeBytes: size,
	}
	if err := s.store.MarkReady(ctx, fp, result); err != nil {
		return nil, fmt.Errorf("mark ready %s: %w", fp, err)
	}
	s.events.LogAsync(fp, eventlog.EventGenerationReady, map[string]any{
		"duration_seconds": audio.DurationSeconds,
		"path":             "sync",
	})

	entry, err := s.store.GetCacheEntry(ctx, fp)
	if err != nil {
		return nil, err
	}
	return &Outcome{Kind: OutcomeGenerated, Fingerprint: fp, Entry: entry}, nil
}

// startStreaming is the long-content path: split into chunks, synthesize
// the first one synchronously so the caller gets a playable manifest within
// seconds, then hand the rest to a detached continuation.
func (s *Service) startStreaming(ctx context.Context, fp string, doc *extract.Document, voiceID string, estimatedMinutes int) (*Outcome, error) {
	chunks := SplitChunks(doc.Text, s.cfg.ChunkTargetWords)
	if len(chunks) == 0 {
		s.failGeneration(ctx, fp, "no synthesizable text after splitting")
		return nil, fmt.Errorf("split %s: no chunks", fp)
	}
	streamID := uuid.NewString()

	// The continuation must be registered before anything is published,
	// so a drain started mid-setup cannot strand a half-created stream.
	if !s.registry.Add() {
		s.releaseClaim(ctx, fp)
		return nil, ErrDraining
	}

	first, err := s.synth.Synthesize(ctx, chunks[0], voiceID)
	if err != nil {
		s.registry.Done()
		s.failGeneration(ctx, fp, fmt.Sprintf("synthesis failed at chunk 0: %v", err))
		return nil, fmt.Errorf("synthesize first chunk of %s: %w", fp, err)
	}

	chunkLocation, chunkSize, err := s.artifacts.UploadAudio(ctx, chunkKey(streamID, 0), first.Data)
	if err != nil {
		s.registry.Done()
		s.failGeneration(ctx, fp, fmt.Sprintf("upload failed at chunk 0: %v", err))
		return nil, fmt.Errorf("upload first chunk of %s: %w", fp, err)
	}

	segments := []storage.Segment{{Location: chunkLocation, DurationSeconds: first.DurationSeconds}}
	manifestLocation, err := s.artifacts.UploadManifest(ctx, manifestKey(streamID), storage.BuildManifest(segments, len(chunks) == 1))
	if err != nil {
		s.registry.Done()
		s.failGeneration(ctx, fp, fmt.Sprintf("manifest publish failed: %v", err))
		return nil, fmt.Errorf("publish manifest for %s: %w", fp, err)
	}

	if _, err := s.store.CreateStreamState(ctx, streamID, fp, manifestLocation, len(chunks)); err != nil {
		s.registry.Done()
		s.failGeneration(ctx, fp, fmt.Sprintf("stream state create failed: %v", err))
		return nil, fmt.Errorf("create stream state for %s: %w", fp, err)
	}
	if _, err := s.store.RecordChunkCompleted(ctx, streamID, first.DurationSeconds); err != nil {
		s.registry.Done()
		s.failGeneration(ctx, fp, fmt.Sprintf("stream progress write failed: %v", err))
		return nil, fmt.Errorf("record first chunk of %s: %w", fp, err)
	}
	s.events.LogAsync(fp, eventlog.EventStreamStarted, map[string]any{
		"stream_id":    streamID,
		"total_chunks": len(chunks),
	})
	s.events.LogAsync(fp, eventlog.EventChunkCompleted, map[string]any{
		"stream_id":        streamID,
		"chunk_index":      0,
		"duration_seconds": first.DurationSeconds,
	})

	job := &streamJob{
		fingerprint:      fp,
		streamID:         streamID,
		title:            doc.Title,
		wordCount:        doc.WordCount,
		voiceID:          voiceID,
		chunks:           chunks,
		segments:         segments,
		manifestLocation: manifestLocation,
		totalBytes:       chunkSize,
		totalDuration:    first.DurationSeconds,
	}
	// Detached from the request's context on purpose: the continuation
	// outlives the response.
	go s.continueStream(context.Background(), job)

	return &Outcome{
		Kind:        OutcomeStreaming,
		Fingerprint: fp,
		Stream: &StreamStart{
			StreamID:                      streamID,
			ManifestLocation:              manifestLocation,
			TotalChunks:                   len(chunks),
			FirstChunkDurationSeconds:     first.DurationSeconds,
			EstimatedTotalDurationSeconds: float64(estimatedMinutes) * 60,
		},
	}, nil
}

// streamJob carries the continuation state for one stream. Owned by a
// single goroutine; never shared.
type streamJob struct {
	fingerprint      string
	streamID         string
	title            string
	wordCount        int
	voiceID          string
	chunks           []string
	segments         []storage.Segment
	manifestLocation string
	totalBytes       int64
	totalDuration    float64
}

// continueStream synthesizes chunks 1..n-1 strictly in order, extending the
// manifest after each, then resolves both the stream state and the cache
// entry. Any chunk failure is terminal for the whole artifact.
func (s *Service) continueStream(ctx context.Context, job *streamJob) {
	defer s.registry.Done()
	defer func() {
		if r := recover(); r != nil {
			sentry.CurrentHub().Recover(r)
			sentry.Flush(2 * time.Second)
			s.logger.Printf("[generation] panic in stream %s: %v", job.streamID, r)
			s.failStream(ctx, job, len(job.segments), fmt.Sprintf("internal error: %v", r))
		}
	}()

	for i := len(job.segments); i < len(job.chunks); i++ {
		audio, err := s.synth.Synthesize(ctx, job.chunks[i], job.voiceID)
		if err != nil {
			s.failStream(ctx, job, i, fmt.Sprintf("synthesis failed at chunk %d: %v", i, err))
			return
		}

		location, size, err := s.artifacts.UploadAudio(ctx, chunkKey(job.streamID, i), audio.Data)
		if err != nil {
			s.failStream(ctx, job, i, fmt.Sprintf("upload failed at chunk %d: %v", i, err))
			return
		}

		job.segments = append(job.segments, storage.Segment{Location: location, DurationSeconds: audio.DurationSeconds})
		job.totalBytes += size
		job.totalDuration += audio.DurationSeconds

		final := i == len(job.chunks)-1
		if _, err := s.artifacts.UploadManifest(ctx, manifestKey(job.streamID), storage.BuildManifest(job.segments, final)); err != nil {
			s.failStream(ctx, job, i, fmt.Sprintf("manifest publish failed at chunk %d: %v", i, err))
			return
		}

		if _, err := s.store.RecordChunkCompleted(ctx, job.streamID, audio.DurationSeconds); err != nil {
			s.failStream(ctx, job, i, fmt.Sprintf("stream progress write failed at chunk %d: %v", i, err))
			return
		}
		// Keep the claim visibly alive so a long stream is never mistaken
		// for an abandoned one.
		if err := s.store.TouchCacheEntry(ctx, job.fingerprint); err != nil {
			s.logger.Printf("[generation] touch %s failed: %v", job.fingerprint, err)
		}
		s.events.LogAsync(job.fingerprint, eventlog.EventChunkCompleted, map[string]any{
			"stream_id":        job.streamID,
			"chunk_index":      i,
			"duration_seconds": audio.DurationSeconds,
		})
	}

	if err := s.store.MarkStreamReady(ctx, job.streamID); err != nil {
		s.logger.Printf("[generation] mark stream ready %s failed: %v", job.streamID, err)
	}
	result := store.GenerationResult{
		Title:             job.title,
		AudioLocation:     job.manifestLocation,
		DurationSeconds:   job.totalDuration,
		WordCount:         job.wordCount,
		ArtifactSizeBytes: job.totalBytes,
	}
	if err := s.store.MarkReady(ctx, job.fingerprint, result); err != nil {
		s.logger.Printf("[generation] mark ready %s failed: %v", job.fingerprint, err)
		return
	}
	s.events.LogAsync(job.fingerprint, eventlog.EventStreamReady, map[string]any{
		"stream_id":        job.streamID,
		"duration_seconds": job.totalDuration,
	})
	s.events.LogAsync(job.fingerprint, eventlog.EventGenerationReady, map[string]any{
		"duration_seconds": job.totalDuration,
		"path":             "streaming",
	})
	s.logger.Printf("[generation] stream %s complete: %d chunks, %.1fs", job.streamID, len(job.chunks), job.totalDuration)
}

// failStream records a terminal chunk failure on both the stream state and
// the cache entry; the two always fail together.
func (s *Service) failStream(ctx context.Context, job *streamJob, chunkIndex int, message string) {
	s.logger.Printf("[generation] stream %s failed: %s", job.streamID, message)
	if err := s.store.MarkStreamFailed(ctx, job.streamID, chunkIndex, message); err != nil {
		s.logger.Printf("[generation] mark stream failed %s: %v", job.streamID, err)
	}
	if err := s.store.MarkFailed(ctx, job.fingerprint, message); err != nil {
		s.logger.Printf("[generation] mark failed %s: %v", job.fingerprint, err)
	}
	s.events.LogAsync(job.fingerprint, eventlog.EventStreamFailed, map[string]any{
		"stream_id":          job.streamID,
		"failed_chunk_index": chunkIndex,
		"error":              message,
	})
	s.events.LogAsync(job.fingerprint, eventlog.EventGenerationFailed, map[string]any{
		"error": message,
	})
}

// failGeneration records a pre-stream failure on the cache entry only.
func (s *Service) failGeneration(ctx context.Context, fp, message string) {
	s.logger.Printf("[generation] %s failed: %s", fp, message)
	if err := s.store.MarkFailed(ctx, fp, message); err != nil {
		s.logger.Printf("[generation] mark failed %s: %v", fp, err)
	}
	s.events.LogAsync(fp, eventlog.EventGenerationFailed, map[string]any{
		"error": message,
	})
}

func (s *Service) releaseClaim(ctx context.Context, fp string) {
	if err := s.store.ReleaseClaim(ctx, fp); err != nil {
		s.logger.Printf("[generation] release claim %s failed: %v", fp, err)
	}
	s.events.LogAsync(fp, eventlog.EventClaimReleased, nil)
}

// PollStream returns the current stream snapshot, or nil for an unknown ID.
func (s *Service) PollStream(ctx context.Context, streamID string) (*store.StreamState, error) {
	return s.store.GetStreamState(ctx, streamID)
}

// PollCache returns the current cache snapshot, or nil for an unknown
// fingerprint.
func (s *Service) PollCache(ctx context.Context, fp string) (*store.CacheEntry, error) {
	return s.store.GetCacheEntry(ctx, fp)
}

func audioKey(fp string) string {
	return fmt.Sprintf("audio/%s.ulaw", fp)
}

func chunkKey(streamID string, index int) string {
	return fmt.Sprintf("streams/%s/%03d.ulaw", streamID, index)
}

func manifestKey(streamID string) string {
	return fmt.Sprintf("streams/%s/playlist.m3u8", streamID)
}

package eventlog

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// EventType represents the type of generation event
type EventType string

const (
	EventClaimAcquired    EventType = "claim_acquired"
	EventClaimReleased    EventType = "claim_released"
	EventEntryReclaimed   EventType = "entry_reclaimed"
	EventCreditsReserved  EventType = "credits_reserved"
	EventCreditsRejected  EventType = "credits_rejected"
	EventExtractCompleted EventType = "extract_completed"
	EventStreamStarted    EventType = "stream_started"
	EventChunkCompleted   EventType = "chunk_completed"
	EventStreamReady      EventType = "stream_ready"
	EventStreamFailed     EventType = "stream_failed"
	EventGenerationReady  EventType = "generation_ready"
	EventGenerationFailed EventType = "generation_failed"
)

// Logger provides async event logging to the database
type Logger struct {
	db *pgxpool.Pool
}

// New creates a new event logger
func New(db *pgxpool.Pool) *Logger {
	return &Logger{db: db}
}

// Log writes an event to the database synchronously
func (l *Logger) Log(ctx context.Context, fingerprint string, eventType EventType, data map[string]any) error {
	if l.db == nil || fingerprint == "" {
		return nil // Silently skip if no DB or fingerprint
	}

	dataJSON, err := json.Marshal(data)
	if err != nil {
		dataJSON = []byte("{}")
	}

	_, err = l.db.Exec(ctx, `
		INSERT INTO generation_events (fingerprint, event_type, event_data)
		VALUES ($1, $2, $3)
	`, fingerprint, string(eventType), dataJSON)

	return err
}

// LogAsync logs an event without blocking the caller
func (l *Logger) LogAsync(fingerprint string, eventType EventType, data map[string]any) {
	if l.db == nil || fingerprint == "" {
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = l.Log(ctx, fingerprint, eventType, data)
	}()
}

// Event is a logged generation event read back for debugging.
type Event struct {
	ID          string          `json:"id"`
	Fingerprint string          `json:"fingerprint"`
	EventType   string          `json:"event_type"`
	EventData   json.RawMessage `json:"event_data"`
	CreatedAt   time.Time       `json:"created_at"`
}

// ListEvents retrieves events for a fingerprint, oldest first.
func (l *Logger) ListEvents(ctx context.Context, fingerprint string, limit int) ([]Event, error) {
	rows, err := l.db.Query(ctx, `
		SELECT id, fingerprint, event_type, event_data, created_at
		FROM generation_events
		WHERE fingerprint = $1
		ORDER BY created_at ASC
		LIMIT $2
	`, fingerprint, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var e Event
		var data []byte
		if err := rows.Scan(&e.ID, &e.Fingerprint, &e.EventType, &data, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.EventData = json.RawMessage(data)
		events = append(events, e)
	}
	return events, rows.Err()
}

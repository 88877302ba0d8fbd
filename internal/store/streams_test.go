package store

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
)

// getTestDB is defined in store_test.go

func TestStreamStateProgress(t *testing.T) {
	tests := []struct {
		name  string
		state StreamState
		want  float64
	}{
		{"zero total chunks", StreamState{TotalChunks: 0, ChunksCompleted: 0}, 0},
		{"nothing done", StreamState{TotalChunks: 10, ChunksCompleted: 0}, 0},
		{"halfway", StreamState{TotalChunks: 10, ChunksCompleted: 5}, 0.5},
		{"complete", StreamState{TotalChunks: 10, ChunksCompleted: 10}, 1},
		{"over-count clamps to 1", StreamState{TotalChunks: 10, ChunksCompleted: 12}, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.state.Progress(); got != tt.want {
				t.Errorf("Progress() = %f, want %f", got, tt.want)
			}
		})
	}
}

func TestStreamLifecycle(t *testing.T) {
	db := getTestDB(t)
	defer db.Close()

	s := New(db)
	ctx := context.Background()
	fp := fmt.Sprintf("test-stream-%d", time.Now().UnixNano())
	defer cleanupEntry(t, db, fp)

	if _, acquired, err := s.Claim(ctx, testClaimMetadata(fp)); err != nil || !acquired {
		t.Fatalf("Claim failed: acquired=%v err=%v", acquired, err)
	}

	streamID := uuid.NewString()
	st, err := s.CreateStreamState(ctx, streamID, fp, "https://cdn.example.com/streams/x.m3u8", 4)
	if err != nil {
		t.Fatalf("CreateStreamState failed: %v", err)
	}
	if st.Status != StreamStatusStreaming {
		t.Errorf("status = %q, want %q", st.Status, StreamStatusStreaming)
	}
	if st.ChunksCompleted != 0 {
		t.Errorf("ChunksCompleted = %d, want 0", st.ChunksCompleted)
	}

	// Progress is monotonically non-decreasing as chunks complete.
	prev := 0
	for i := 0; i < 4; i++ {
		st, err = s.RecordChunkCompleted(ctx, streamID, 30.5)
		if err != nil {
			t.Fatalf("RecordChunkCompleted(%d) failed: %v", i, err)
		}
		if st.ChunksCompleted < prev {
			t.Errorf("ChunksCompleted decreased: %d -> %d", prev, st.ChunksCompleted)
		}
		if st.ChunksCompleted > st.TotalChunks {
			t.Errorf("ChunksCompleted %d exceeds TotalChunks %d", st.ChunksCompleted, st.TotalChunks)
		}
		prev = st.ChunksCompleted
	}
	if st.TotalDurationSeconds != 122 {
		t.Errorf("TotalDurationSeconds = %f, want 122", st.TotalDurationSeconds)
	}

	if err := s.MarkStreamReady(ctx, streamID); err != nil {
		t.Fatalf("MarkStreamReady failed: %v", err)
	}

	st, err = s.GetStreamState(ctx, streamID)
	if err != nil {
		t.Fatalf("GetStreamState failed: %v", err)
	}
	if st.Status != StreamStatusReady {
		t.Errorf("status = %q, want %q", st.Status, StreamStatusReady)
	}

	t.Run("terminal stream rejects further writes", func(t *testing.T) {
		if _, err := s.RecordChunkCompleted(ctx, streamID, 10); err == nil {
			t.Error("RecordChunkCompleted on a ready stream should fail")
		}
		if err := s.MarkStreamFailed(ctx, streamID, 2, "late failure"); err == nil {
			t.Error("MarkStreamFailed on a ready stream should fail")
		}
	})
}

func TestMarkStreamFailed(t *testing.T) {
	db := getTestDB(t)
	defer db.Close()

	s := New(db)
	ctx := context.Background()
	fp := fmt.Sprintf("test-stream-fail-%d", time.Now().UnixNano())
	defer cleanupEntry(t, db, fp)

	if _, acquired, err := s.Claim(ctx, testClaimMetadata(fp)); err != nil || !acquired {
		t.Fatalf("Claim failed: acquired=%v err=%v", acquired, err)
	}

	streamID := uuid.NewString()
	if _, err := s.CreateStreamState(ctx, streamID, fp, "https://cdn.example.com/streams/y.m3u8", 6); err != nil {
		t.Fatalf("CreateStreamState failed: %v", err)
	}

	if _, err := s.RecordChunkCompleted(ctx, streamID, 20); err != nil {
		t.Fatalf("RecordChunkCompleted failed: %v", err)
	}

	if err := s.MarkStreamFailed(ctx, streamID, 1, "voice service returned 500"); err != nil {
		t.Fatalf("MarkStreamFailed failed: %v", err)
	}

	st, err := s.GetStreamState(ctx, streamID)
	if err != nil {
		t.Fatalf("GetStreamState failed: %v", err)
	}
	if st.Status != StreamStatusFailed {
		t.Errorf("status = %q, want %q", st.Status, StreamStatusFailed)
	}
	if st.FailedChunkIndex == nil || *st.FailedChunkIndex != 1 {
		t.Errorf("FailedChunkIndex = %v, want 1", st.FailedChunkIndex)
	}
	if st.ErrorMessage == nil || *st.ErrorMessage != "voice service returned 500" {
		t.Errorf("ErrorMessage = %v, want voice service returned 500", st.ErrorMessage)
	}
}

func TestGetStreamState_NotFound(t *testing.T) {
	db := getTestDB(t)
	defer db.Close()

	s := New(db)
	st, err := s.GetStreamState(context.Background(), uuid.NewString())
	if err != nil {
		t.Fatalf("GetStreamState failed: %v", err)
	}
	if st != nil {
		t.Error("unknown stream ID should return nil")
	}
}

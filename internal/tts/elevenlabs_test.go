package tts

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestNewElevenLabsClient_DefaultValues(t *testing.T) {
	// Test that default values are used when -1 (sentinel) is specified
	// This signals "use defaults" since 0.0 is a valid value
	client := NewElevenLabsClient(ElevenLabsConfig{
		APIKey:     "test-key",
		Stability:  -1,
		Similarity: -1,
	})

	if client.modelID != "eleven_flash_v2_5" {
		t.Errorf("modelID = %q, want %q", client.modelID, "eleven_flash_v2_5")
	}
	if client.stability != 0.5 {
		t.Errorf("stability = %f, want %f", client.stability, 0.5)
	}
	if client.similarity != 0.75 {
		t.Errorf("similarity = %f, want %f", client.similarity, 0.75)
	}
}

func TestNewElevenLabsClient_ZeroValuesAreValid(t *testing.T) {
	// Test that zero values are valid (0.0 is a valid ElevenLabs setting)
	client := NewElevenLabsClient(ElevenLabsConfig{
		APIKey:     "test-key",
		Stability:  0,
		Similarity: 0,
	})

	if client.stability != 0 {
		t.Errorf("stability = %f, want 0 (zero is valid)", client.stability)
	}
	if client.similarity != 0 {
		t.Errorf("similarity = %f, want 0 (zero is valid)", client.similarity)
	}
}

func TestSynthesize(t *testing.T) {
	// 16000 bytes of μ-law at 8kHz is exactly 2 seconds.
	audioPayload := make([]byte, 16000)

	var gotPath, gotKey string
	var gotReq ttsRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotKey = r.Header.Get("xi-api-key")
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &gotReq)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(audioPayload)
	}))
	defer server.Close()

	client := NewElevenLabsClient(ElevenLabsConfig{
		APIKey:     "test-key",
		BaseURL:    server.URL,
		Stability:  -1,
		Similarity: -1,
	})

	audio, err := client.Synthesize(context.Background(), "Hello world", "voice-abc")
	if err != nil {
		t.Fatalf("Synthesize failed: %v", err)
	}

	if gotPath != "/voice-abc" {
		t.Errorf("request path = %q, want /voice-abc", gotPath)
	}
	if gotKey != "test-key" {
		t.Errorf("xi-api-key = %q, want test-key", gotKey)
	}
	if gotReq.Text != "Hello world" {
		t.Errorf("request text = %q, want Hello world", gotReq.Text)
	}
	if len(audio.Data) != 16000 {
		t.Errorf("audio bytes = %d, want 16000", len(audio.Data))
	}
	if audio.DurationSeconds != 2 {
		t.Errorf("DurationSeconds = %f, want 2", audio.DurationSeconds)
	}
}

func TestSynthesize_APIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"detail":"rate limited"}`))
	}))
	defer server.Close()

	client := NewElevenLabsClient(ElevenLabsConfig{
		APIKey:  "test-key",
		BaseURL: server.URL,
	})

	_, err := client.Synthesize(context.Background(), "Hello", "voice-abc")
	if err == nil {
		t.Fatal("Synthesize should fail on non-200 response")
	}
	if !strings.Contains(err.Error(), "rate limited") {
		t.Errorf("error should include API response body, got %v", err)
	}
}

func TestSynthesize_EmptyVoiceID(t *testing.T) {
	client := NewElevenLabsClient(ElevenLabsConfig{APIKey: "test-key"})
	if _, err := client.Synthesize(context.Background(), "Hello", ""); err == nil {
		t.Fatal("Synthesize without a voice ID should fail")
	}
}

func TestSynthesize_EmptyAudio(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := NewElevenLabsClient(ElevenLabsConfig{
		APIKey:  "test-key",
		BaseURL: server.URL,
	})

	if _, err := client.Synthesize(context.Background(), "Hello", "voice-abc"); err == nil {
		t.Fatal("Synthesize should fail on empty audio body")
	}
}

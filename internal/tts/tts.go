package tts

import "context"

// Audio is one synthesized piece of speech.
type Audio struct {
	// Data is raw μ-law 8kHz audio.
	Data []byte
	// DurationSeconds is derived from the sample count.
	DurationSeconds float64
}

// Client defines the interface for text-to-speech providers.
type Client interface {
	// Synthesize converts text to speech with the given voice and returns
	// the audio. The voice is chosen per request, not per client.
	Synthesize(ctx context.Context, text, voiceID string) (*Audio, error)
}

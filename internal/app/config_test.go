package app

import (
	"os"
	"testing"
	"time"
)

func TestGetenv(t *testing.T) {
	tests := []struct {
		name     string
		envKey   string
		envValue string
		defValue string
		want     string
	}{
		{
			name:     "env set",
			envKey:   "TEST_ENV_VAR",
			envValue: "custom_value",
			defValue: "default",
			want:     "custom_value",
		},
		{
			name:     "env not set",
			envKey:   "TEST_ENV_VAR_NOTSET",
			envValue: "",
			defValue: "default",
			want:     "default",
		},
		{
			name:     "empty default",
			envKey:   "TEST_ENV_VAR_EMPTY",
			envValue: "",
			defValue: "",
			want:     "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.envValue != "" {
				os.Setenv(tt.envKey, tt.envValue)
				defer os.Unsetenv(tt.envKey)
			}

			got := getenv(tt.envKey, tt.defValue)
			if got != tt.want {
				t.Errorf("getenv(%q, %q) = %q, want %q", tt.envKey, tt.defValue, got, tt.want)
			}
		})
	}
}

func TestGetenvInt(t *testing.T) {
	tests := []struct {
		name     string
		envKey   string
		envValue string
		def      int
		want     int
	}{
		{
			name:     "value set",
			envKey:   "TEST_INT_NORMAL",
			envValue: "500",
			def:      100,
			want:     500,
		},
		{
			name:     "env not set - use default",
			envKey:   "TEST_INT_NOTSET",
			envValue: "",
			def:      100,
			want:     100,
		},
		{
			name:     "invalid value - use default",
			envKey:   "TEST_INT_INVALID",
			envValue: "not_a_number",
			def:      100,
			want:     100,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.envValue != "" {
				os.Setenv(tt.envKey, tt.envValue)
				defer os.Unsetenv(tt.envKey)
			}

			got := getenvInt(tt.envKey, tt.def)
			if got != tt.want {
				t.Errorf("getenvInt(%q, %d) = %d, want %d", tt.envKey, tt.def, got, tt.want)
			}
		})
	}
}

func TestGetenvBool(t *testing.T) {
	tests := []struct {
		name     string
		envValue string
		def      bool
		want     bool
	}{
		{"one is true", "1", false, true},
		{"true is true", "true", false, true},
		{"mixed case true", "True", false, true},
		{"false is false", "false", true, false},
		{"unset uses default", "", true, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.envValue != "" {
				os.Setenv("TEST_BOOL_VAR", tt.envValue)
				defer os.Unsetenv("TEST_BOOL_VAR")
			}

			if got := getenvBool("TEST_BOOL_VAR", tt.def); got != tt.want {
				t.Errorf("getenvBool(%q, %v) = %v, want %v", tt.envValue, tt.def, got, tt.want)
			}
		})
	}
}

func TestParseList(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  []string
	}{
		{
			name:  "single entry",
			input: "user-1",
			want:  []string{"user-1"},
		},
		{
			name:  "multiple entries",
			input: "user-1,user-2",
			want:  []string{"user-1", "user-2"},
		},
		{
			name:  "entries with spaces",
			input: "user-1, user-2, user-3",
			want:  []string{"user-1", "user-2", "user-3"},
		},
		{
			name:  "empty string",
			input: "",
			want:  nil,
		},
		{
			name:  "trailing comma",
			input: "user-1,",
			want:  []string{"user-1"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := parseList(tt.input)

			if len(got) != len(tt.want) {
				t.Errorf("parseList(%q) returned %d entries, want %d", tt.input, len(got), len(tt.want))
				return
			}

			for i, v := range got {
				if v != tt.want[i] {
					t.Errorf("parseList(%q)[%d] = %q, want %q", tt.input, i, v, tt.want[i])
				}
			}
		})
	}
}

func TestLoadConfigFromEnvDefaults(t *testing.T) {
	// Clear any existing env vars that might interfere
	keysToClean := []string{
		"HTTP_ADDR", "DATABASE_URL", "MINIO_BUCKET",
		"STREAMING_THRESHOLD_WORDS", "CHUNK_TARGET_WORDS",
		"STALE_TIMEOUT", "STALE_SWEEP_INTERVAL", "FREE_STARTING_CREDITS",
		"TTS_STABILITY", "TTS_SIMILARITY", "JWT_EXPIRY",
	}
	for _, key := range keysToClean {
		os.Unsetenv(key)
	}

	cfg := LoadConfigFromEnv()

	if cfg.HTTPAddr != ":8080" {
		t.Errorf("HTTPAddr = %q, want %q", cfg.HTTPAddr, ":8080")
	}
	if cfg.MinioBucket != "narrator-audio" {
		t.Errorf("MinioBucket = %q, want %q", cfg.MinioBucket, "narrator-audio")
	}
	if cfg.StreamingThresholdWords != 500 {
		t.Errorf("StreamingThresholdWords = %d, want 500", cfg.StreamingThresholdWords)
	}
	if cfg.ChunkTargetWords != 150 {
		t.Errorf("ChunkTargetWords = %d, want 150", cfg.ChunkTargetWords)
	}
	if cfg.StaleTimeout != 5*time.Minute {
		t.Errorf("StaleTimeout = %v, want 5m", cfg.StaleTimeout)
	}
	if cfg.SweepInterval != 10*time.Minute {
		t.Errorf("SweepInterval = %v, want 10m", cfg.SweepInterval)
	}
	if cfg.FreeStartingCredits != 1 {
		t.Errorf("FreeStartingCredits = %d, want 1", cfg.FreeStartingCredits)
	}
	if cfg.JWTExpiry != 24*time.Hour {
		t.Errorf("JWTExpiry = %v, want 24h", cfg.JWTExpiry)
	}

	// Sentinel values signal "use provider defaults".
	if cfg.TTSStability != -1 {
		t.Errorf("TTSStability = %f, want -1", cfg.TTSStability)
	}
	if cfg.TTSSimilarity != -1 {
		t.Errorf("TTSSimilarity = %f, want -1", cfg.TTSSimilarity)
	}
}

func TestLoadConfigFromEnvCustomValues(t *testing.T) {
	os.Setenv("HTTP_ADDR", ":9090")
	os.Setenv("STREAMING_THRESHOLD_WORDS", "800")
	os.Setenv("CHUNK_TARGET_WORDS", "120")
	os.Setenv("STALE_TIMEOUT", "10m")
	os.Setenv("FREE_STARTING_CREDITS", "3")
	os.Setenv("TTS_STABILITY", "0.7")
	os.Setenv("TTS_SIMILARITY", "0.85")
	os.Setenv("ADMIN_USER_IDS", "admin-1,admin-2")

	defer func() {
		os.Unsetenv("HTTP_ADDR")
		os.Unsetenv("STREAMING_THRESHOLD_WORDS")
		os.Unsetenv("CHUNK_TARGET_WORDS")
		os.Unsetenv("STALE_TIMEOUT")
		os.Unsetenv("FREE_STARTING_CREDITS")
		os.Unsetenv("TTS_STABILITY")
		os.Unsetenv("TTS_SIMILARITY")
		os.Unsetenv("ADMIN_USER_IDS")
	}()

	cfg := LoadConfigFromEnv()

	if cfg.HTTPAddr != ":9090" {
		t.Errorf("HTTPAddr = %q, want %q", cfg.HTTPAddr, ":9090")
	}
	if cfg.StreamingThresholdWords != 800 {
		t.Errorf("StreamingThresholdWords = %d, want 800", cfg.StreamingThresholdWords)
	}
	if cfg.ChunkTargetWords != 120 {
		t.Errorf("ChunkTargetWords = %d, want 120", cfg.ChunkTargetWords)
	}
	if cfg.StaleTimeout != 10*time.Minute {
		t.Errorf("StaleTimeout = %v, want 10m", cfg.StaleTimeout)
	}
	if cfg.FreeStartingCredits != 3 {
		t.Errorf("FreeStartingCredits = %d, want 3", cfg.FreeStartingCredits)
	}
	if cfg.TTSStability != 0.7 {
		t.Errorf("TTSStability = %f, want %f", cfg.TTSStability, 0.7)
	}
	if cfg.TTSSimilarity != 0.85 {
		t.Errorf("TTSSimilarity = %f, want %f", cfg.TTSSimilarity, 0.85)
	}
	if len(cfg.AdminUserIDs) != 2 {
		t.Errorf("AdminUserIDs length = %d, want 2", len(cfg.AdminUserIDs))
	}
}

package app

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	HTTPAddr    string
	DatabaseURL string
	SentryDSN   string

	// Content extraction service
	ExtractorBaseURL string
	ExtractorAPIKey  string

	// Speech synthesis
	ElevenLabsAPIKey string
	TTSModelID       string
	TTSStability     float64
	TTSSimilarity    float64

	// Artifact storage
	MinioEndpoint      string
	MinioAccessKey     string
	MinioSecretKey     string
	MinioBucket        string
	MinioUseSSL        bool
	MinioPublicBaseURL string

	// Generation policy
	StreamingThresholdWords int
	ChunkTargetWords        int
	StaleTimeout            time.Duration
	SweepInterval           time.Duration
	FreeStartingCredits     int

	// JWT Authentication
	JWTSecret string
	JWTExpiry time.Duration

	// Admin access
	AdminUserIDs []string
}

func LoadConfigFromEnv() Config {
	jwtExpiry, err := time.ParseDuration(getenv("JWT_EXPIRY", "24h"))
	if err != nil {
		jwtExpiry = 24 * time.Hour
	}
	staleTimeout, err := time.ParseDuration(getenv("STALE_TIMEOUT", "5m"))
	if err != nil {
		staleTimeout = 5 * time.Minute
	}
	sweepInterval, err := time.ParseDuration(getenv("STALE_SWEEP_INTERVAL", "10m"))
	if err != nil {
		sweepInterval = 10 * time.Minute
	}

	return Config{
		HTTPAddr:    getenv("HTTP_ADDR", ":8080"),
		DatabaseURL: getenv("DATABASE_URL", ""),
		SentryDSN:   getenv("SENTRY_DSN", ""),

		ExtractorBaseURL: getenv("EXTRACTOR_BASE_URL", ""),
		ExtractorAPIKey:  getenv("EXTRACTOR_API_KEY", ""),

		ElevenLabsAPIKey: getenv("ELEVENLABS_API_KEY", ""),
		TTSModelID:       getenv("TTS_MODEL_ID", ""),
		TTSStability:     getenvFloat("TTS_STABILITY", -1),
		TTSSimilarity:    getenvFloat("TTS_SIMILARITY", -1),

		MinioEndpoint:      getenv("MINIO_ENDPOINT", ""),
		MinioAccessKey:     getenv("MINIO_ACCESS_KEY", ""),
		MinioSecretKey:     getenv("MINIO_SECRET_KEY", ""),
		MinioBucket:        getenv("MINIO_BUCKET", "narrator-audio"),
		MinioUseSSL:        getenvBool("MINIO_USE_SSL", false),
		MinioPublicBaseURL: getenv("MINIO_PUBLIC_BASE_URL", ""),

		StreamingThresholdWords: getenvInt("STREAMING_THRESHOLD_WORDS", 500),
		ChunkTargetWords:        getenvInt("CHUNK_TARGET_WORDS", 150),
		StaleTimeout:            staleTimeout,
		SweepInterval:           sweepInterval,
		FreeStartingCredits:     getenvInt("FREE_STARTING_CREDITS", 1),

		JWTSecret: os.Getenv("JWT_SECRET"), // Required - no fallback for security
		JWTExpiry: jwtExpiry,

		AdminUserIDs: parseList(os.Getenv("ADMIN_USER_IDS")),
	}
}

func parseList(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getenvInt(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getenvFloat(k string, def float64) float64 {
	if v := os.Getenv(k); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getenvBool(k string, def bool) bool {
	v := strings.ToLower(os.Getenv(k))
	if v == "" {
		return def
	}
	return v == "1" || v == "true" || v == "yes"
}

package app

import (
	"context"
	"errors"
	"log"
	"net"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mhrdina/narrator/internal/eventlog"
	"github.com/mhrdina/narrator/internal/extract"
	"github.com/mhrdina/narrator/internal/generation"
	"github.com/mhrdina/narrator/internal/httpapi"
	"github.com/mhrdina/narrator/internal/jobs"
	"github.com/mhrdina/narrator/internal/storage"
	"github.com/mhrdina/narrator/internal/store"
	"github.com/mhrdina/narrator/internal/tts"
)

type App struct {
	cfg      Config
	logger   *log.Logger
	db       *pgxpool.Pool
	store    *store.Store
	eventLog *eventlog.Logger
	gen      *generation.Service
	jobs     *generation.JobRegistry
	sweeper  *jobs.StaleSweeper
}

func New(cfg Config, logger *log.Logger) (*App, error) {
	if cfg.DatabaseURL == "" {
		return nil, errors.New("DATABASE_URL is required")
	}
	if cfg.MinioEndpoint == "" {
		return nil, errors.New("MINIO_ENDPOINT is required")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	db, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(ctx); err != nil {
		db.Close()
		return nil, err
	}

	s := store.New(db)
	el := eventlog.New(db)

	// Migrations are applied externally by the CI deploy job (docker exec psql).
	// No automatic migration runner at startup.

	// Shared HTTP client with connection pooling for the extraction and
	// synthesis providers. Keeps TCP connections alive across chunks.
	httpClient := &http.Client{
		Timeout: 60 * time.Second,
		Transport: &http.Transport{
			DialContext: (&net.Dialer{
				Timeout:   5 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			MaxIdleConns:          100,
			MaxIdleConnsPerHost:   10,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   5 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
		},
	}

	artifacts, err := storage.NewMinioStore(ctx, storage.MinioConfig{
		Endpoint:      cfg.MinioEndpoint,
		AccessKey:     cfg.MinioAccessKey,
		SecretKey:     cfg.MinioSecretKey,
		Bucket:        cfg.MinioBucket,
		UseSSL:        cfg.MinioUseSSL,
		PublicBaseURL: cfg.MinioPublicBaseURL,
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	extractor := extract.NewClient(extract.Config{
		BaseURL:    cfg.ExtractorBaseURL,
		APIKey:     cfg.ExtractorAPIKey,
		HTTPClient: httpClient,
	})
	synth := tts.NewElevenLabsClient(tts.ElevenLabsConfig{
		APIKey:     cfg.ElevenLabsAPIKey,
		ModelID:    cfg.TTSModelID,
		Stability:  cfg.TTSStability,
		Similarity: cfg.TTSSimilarity,
		HTTPClient: httpClient,
	})

	registry := generation.NewJobRegistry()
	gen := generation.NewService(s, extractor, synth, artifacts, el, registry, logger, generation.Config{
		StreamingThresholdWords: cfg.StreamingThresholdWords,
		ChunkTargetWords:        cfg.ChunkTargetWords,
		StaleTimeout:            cfg.StaleTimeout,
		FreeStartingCredits:     cfg.FreeStartingCredits,
	})

	sweeper := jobs.NewStaleSweeper(s, el, logger, cfg.StaleTimeout, cfg.SweepInterval)
	sweeper.Start()

	return &App{
		cfg:      cfg,
		logger:   logger,
		db:       db,
		store:    s,
		eventLog: el,
		gen:      gen,
		jobs:     registry,
		sweeper:  sweeper,
	}, nil
}

func (a *App) Router() http.Handler {
	routerCfg := httpapi.RouterConfig{
		JWTSecret:           a.cfg.JWTSecret,
		JWTExpiry:           a.cfg.JWTExpiry,
		AdminUserIDs:        a.cfg.AdminUserIDs,
		FreeStartingCredits: a.cfg.FreeStartingCredits,
	}
	return httpapi.NewRouter(routerCfg, a.logger, a.store, a.gen, a.jobs, a.eventLog)
}

// Jobs exposes the registry so main can drain it on shutdown.
func (a *App) Jobs() *generation.JobRegistry {
	return a.jobs
}

func (a *App) Close() error {
	if a.sweeper != nil {
		a.sweeper.Stop()
	}
	if a.db != nil {
		a.db.Close()
	}
	return nil
}

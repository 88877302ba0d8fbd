package httpapi

import (
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/getsentry/sentry-go"

	"github.com/mhrdina/narrator/internal/eventlog"
	"github.com/mhrdina/narrator/internal/generation"
	"github.com/mhrdina/narrator/internal/store"
)

type RouterConfig struct {
	// JWT Authentication
	JWTSecret string
	JWTExpiry time.Duration

	// Admin access (user IDs with admin privileges)
	AdminUserIDs []string

	// FreeStartingCredits mirrors the generation config so the credits
	// endpoint can lazily create a balance on first read.
	FreeStartingCredits int
}

type Router struct {
	cfg      RouterConfig
	logger   *log.Logger
	store    *store.Store
	gen      *generation.Service
	jobs     *generation.JobRegistry
	eventLog *eventlog.Logger
	mux      *http.ServeMux
}

func NewRouter(cfg RouterConfig, logger *log.Logger, s *store.Store, gen *generation.Service, jobs *generation.JobRegistry, eventLog *eventlog.Logger) http.Handler {
	r := &Router{
		cfg:      cfg,
		logger:   logger,
		store:    s,
		gen:      gen,
		jobs:     jobs,
		eventLog: eventLog,
		mux:      http.NewServeMux(),
	}

	r.routes()
	return withSentryRecovery(withCORS(r.mux))
}

func (r *Router) routes() {
	// Health and readiness
	r.mux.HandleFunc("GET /healthz", r.handleHealthz)
	r.mux.HandleFunc("GET /readyz", r.handleReadyz)

	// Generation endpoints (protected)
	r.mux.HandleFunc("POST /api/generations", r.withAuth(r.handleRequestGeneration))
	r.mux.HandleFunc("POST /api/generations/preview", r.withAuth(r.handlePreviewCost))
	r.mux.HandleFunc("GET /api/generations/{fingerprint}", r.withAuth(r.handlePollCache))

	// Stream progress (protected)
	r.mux.HandleFunc("GET /api/streams/{streamId}", r.withAuth(r.handlePollStream))
	r.mux.HandleFunc("GET /api/streams/{streamId}/ws", r.handleStreamWS)

	// Credits (protected)
	r.mux.HandleFunc("GET /api/credits", r.withAuth(r.handleGetCredits))

	// Admin endpoints (requires admin user)
	r.mux.HandleFunc("POST /admin/credits/grant", r.withAdmin(r.handleGrantCredits))
	r.mux.HandleFunc("GET /admin/generations/{fingerprint}/events", r.withAdmin(r.handleListEvents))
}

func (r *Router) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// handleReadyz reports 503 once draining starts so the load balancer stops
// sending new work while in-flight streams finish.
func (r *Router) handleReadyz(w http.ResponseWriter, _ *http.Request) {
	if r.jobs.IsDraining() {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("draining"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func withSentryRecovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				hub := sentry.CurrentHub().Clone()
				hub.Scope().SetRequest(req)
				hub.RecoverWithContext(req.Context(), err)
				hub.Flush(2 * time.Second)
				http.Error(w, `{"error": "internal server error"}`, http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, req)
	})
}

func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,PATCH,DELETE,OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type,Authorization")
		if req.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, req)
	})
}

// captureError sends an error to Sentry with request context
func captureError(req *http.Request, err error, msg string) {
	sentry.WithScope(func(scope *sentry.Scope) {
		scope.SetRequest(req)
		scope.SetExtra("message", msg)
		sentry.CaptureException(err)
	})
}

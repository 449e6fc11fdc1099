package web

import (
	"context"
	"net/http"
	"time"

	"academy/internal/adapters/http/middleware"
	"academy/internal/adapters/http/perf"
	"academy/internal/adapters/push"
	outboxStore "academy/internal/adapters/storage/outbox"
	"academy/internal/application/clientstore"
	"academy/internal/application/orchestrators"
	"academy/internal/application/projections"
	"academy/internal/application/reconcile"
	"academy/internal/application/selection"
)

// Services holds everything the handlers call into.
type Services struct {
	Store       *clientstore.Store
	Feed        projections.SessionFeed
	Fetcher     projections.RecordFetcher
	Coordinator *orchestrators.Coordinator
	Selections  *selection.Registry

	// Optional. Reported by /debug/perf when set.
	Listener   *reconcile.Listener
	Subscriber *push.Subscriber

	// Optional. Enables /debug/outbox.
	Outbox    outboxStore.Store
	Processor *orchestrators.OutboxProcessor

	Location *time.Location
}

// Options configures the middleware stack.
type Options struct {
	// Context bounds background work started by NewMux. Defaults to
	// context.Background.
	Context        context.Context
	CSRFKey        []byte
	Secure         bool
	TrustedOrigins []string
	RatePerSecond  int
	SlowRequest    time.Duration
}

// DefaultRatePerSecond is the per-IP limit when Options leaves it unset.
const DefaultRatePerSecond = 20

// Global services instance (set by NewMux)
var services *Services

// Global perf collector (set by NewMux)
var perfCollector *perf.Collector

// timeNow is a variable for testability.
var timeNow = time.Now

// NewMux wires the local JSON API the UI shell talks to.
// PRE: s.Store, s.Feed, s.Fetcher, s.Coordinator and s.Selections are set; opts.CSRFKey is 32 bytes
func NewMux(s *Services, collector *perf.Collector, opts Options) http.Handler {
	services = s
	perfCollector = collector

	mux := http.NewServeMux()
	registerRoutes(mux)

	rate := opts.RatePerSecond
	if rate <= 0 {
		rate = DefaultRatePerSecond
	}
	limiter := middleware.NewRateLimiter(rate, time.Second)
	ctx := opts.Context
	if ctx == nil {
		ctx = context.Background()
	}
	go limiter.Sweep(ctx, middleware.DefaultVisitorIdle)

	// Order of execution: Recover -> Timing -> RateLimit -> SecurityHeaders -> CSRF -> Mux
	return middleware.Chain(mux,
		middleware.CSRF(opts.CSRFKey, middleware.CSRFOptions{Secure: opts.Secure, TrustedOrigins: opts.TrustedOrigins}),
		middleware.SecurityHeaders,
		middleware.RateLimit(limiter),
		middleware.Timing(collector, opts.SlowRequest),
		middleware.Recover,
	)
}

func registerRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", handleHealthz)
	mux.HandleFunc("GET /api/csrf", handleCSRFToken)
	mux.HandleFunc("GET /debug/perf", handleDebugPerf)
	mux.HandleFunc("GET /debug/outbox", handleDebugOutbox)
	mux.HandleFunc("POST /debug/outbox/{id}/retry", handleDebugOutboxRetry)

	mux.HandleFunc("GET /api/sessions", handleGetSessions)

	mux.HandleFunc("GET /api/selection", handleGetSelection)
	mux.HandleFunc("POST /api/selection/toggle", handleSelectionToggle)
	mux.HandleFunc("POST /api/selection/toggle-date", handleSelectionToggleDate)
	mux.HandleFunc("POST /api/selection/select-all", handleSelectionSelectAll)
	mux.HandleFunc("POST /api/selection/deselect-all", handleSelectionDeselectAll)
	mux.HandleFunc("POST /api/selection/submit", handleSelectionSubmit)

	mux.HandleFunc("POST /api/refunds", handleCreateRefund)
	mux.HandleFunc("GET /api/records/{collection...}", handleGetRecords)
}

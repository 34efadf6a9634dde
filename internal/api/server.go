// Package api exposes the HTTP surface: synchronous and streaming chat, the
// cross-chain intent endpoints, health, and metrics.
package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/quantbay/agentd/internal/agent"
	"github.com/quantbay/agentd/internal/config"
	"github.com/quantbay/agentd/internal/crosschain"
	"github.com/quantbay/agentd/internal/market"
	"github.com/quantbay/agentd/internal/observability"
	"github.com/quantbay/agentd/internal/sessions"
	"github.com/quantbay/agentd/internal/strategy"
	"github.com/quantbay/agentd/pkg/models"
)

// Planner is the slice of agent.Planner the handlers need; narrowed to an
// interface so tests can stub the model loop.
type Planner interface {
	Plan(ctx context.Context, in agent.PlanInput) (*models.Plan, error)
}

// Deps carries everything the server composes.
type Deps struct {
	Config     *config.Config
	Logger     *observability.Logger
	Metrics    *observability.Metrics
	Tracer     *observability.Tracer
	Sessions   *sessions.Store
	Planner    Planner
	Market     *market.Client
	Normalizer *strategy.Normalizer
	Intents    *crosschain.Service
}

// Server is the HTTP front end.
type Server struct {
	cfg        *config.Config
	log        *observability.Logger
	metrics    *observability.Metrics
	tracer     *observability.Tracer
	store      *sessions.Store
	planner    Planner
	market     *market.Client
	normalizer *strategy.Normalizer
	intents    *crosschain.Service

	httpServer *http.Server
	listener   net.Listener
}

// NewServer wires the handlers. Planner may be nil before startup completes;
// chat then answers 503 not_ready.
func NewServer(deps Deps) *Server {
	s := &Server{
		cfg:        deps.Config,
		log:        deps.Logger,
		metrics:    deps.Metrics,
		tracer:     deps.Tracer,
		store:      deps.Sessions,
		planner:    deps.Planner,
		market:     deps.Market,
		normalizer: deps.Normalizer,
		intents:    deps.Intents,
	}
	if s.normalizer == nil {
		s.normalizer = strategy.NewNormalizer(nil)
	}
	return s
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", s.handleHealth)
	mux.Handle("GET /metrics", promhttp.Handler())

	mux.HandleFunc("POST /chat", s.handleChat)
	mux.HandleFunc("POST /chat/stream", s.handleChatStream)

	mux.HandleFunc("POST /cross-chain/intents", s.handleIntentCreate)
	mux.HandleFunc("GET /cross-chain/intents/{id}", s.handleIntentGet)
	mux.HandleFunc("POST /cross-chain/intents/{id}/cancel", s.handleIntentCancel)
	mux.HandleFunc("POST /cross-chain/intents/{id}/refund", s.handleIntentRefund)
	mux.HandleFunc("POST /cross-chain/inbound", s.handleInbound)

	return s.instrument(mux)
}

// Start listens and serves in the background.
func (s *Server) Start(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.cfg.HTTPAddr)
	if err != nil {
		return fmt.Errorf("api: listen %s: %w", s.cfg.HTTPAddr, err)
	}
	s.listener = listener
	s.httpServer = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			if s.log != nil {
				s.log.Error(ctx, "http server error", "error", err)
			}
		}
	}()

	if s.log != nil {
		s.log.Info(ctx, "http server listening", "addr", listener.Addr().String())
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// statusRecorder captures the response code for the request metric.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// instrument attaches a request id to the context and records per-request
// metrics.
func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := observability.WithRequestID(r.Context(), uuid.NewString())
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		next.ServeHTTP(rec, r.WithContext(ctx))

		if s.metrics != nil {
			s.metrics.RecordHTTPRequest(r.Method, r.URL.Path, strconv.Itoa(rec.status), time.Since(start).Seconds())
		}
	})
}

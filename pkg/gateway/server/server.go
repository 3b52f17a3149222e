package server

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/vango-go/vai-phone/pkg/gateway/calltracker"
	"github.com/vango-go/vai-phone/pkg/gateway/config"
	"github.com/vango-go/vai-phone/pkg/gateway/handlers"
	"github.com/vango-go/vai-phone/pkg/gateway/metrics"
	"github.com/vango-go/vai-phone/pkg/gateway/mw"
	"github.com/vango-go/vai-phone/pkg/gateway/streamtoken"
)

type Dependencies struct {
	Calls   handlers.CallRunner
	Signer  *streamtoken.Signer
	Tracker *calltracker.Tracker
	Metrics *metrics.Metrics
	Logger  *slog.Logger
}

type Server struct {
	cfg    config.Config
	deps   Dependencies
	logger *slog.Logger
	router *mux.Router
}

func New(cfg config.Config, deps Dependencies) *Server {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Tracker == nil {
		deps.Tracker = calltracker.NewTracker(cfg.MaxCallsPerTenant)
	}

	s := &Server{
		cfg:    cfg,
		deps:   deps,
		logger: deps.Logger,
		router: mux.NewRouter(),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	r := s.router
	// Runs after route matching so the access log can label by template.
	r.Use(func(next http.Handler) http.Handler {
		return mw.AccessLog(s.logger, s.deps.Metrics, next)
	})

	r.Handle("/healthz", handlers.HealthHandler{}).Methods(http.MethodGet)
	r.Handle("/readyz", handlers.ReadyHandler{Config: s.cfg, Tracker: s.deps.Tracker}).Methods(http.MethodGet)
	if s.deps.Metrics != nil {
		r.Handle("/metrics", s.deps.Metrics.Handler()).Methods(http.MethodGet)
	}

	r.Handle("/webhooks/answer", handlers.AnswerHandler{
		PublicURL:  s.cfg.PublicURL,
		SampleRate: s.cfg.TransportSampleRate,
		Signer:     s.deps.Signer,
		Logger:     s.logger,
	}).Methods(http.MethodGet, http.MethodPost)
	r.Handle("/webhooks/event", handlers.EventHandler{Logger: s.logger}).Methods(http.MethodPost)

	r.Handle("/voice/stream", handlers.StreamHandler{
		Calls:   s.deps.Calls,
		Signer:  s.deps.Signer,
		Tracker: s.deps.Tracker,
		Logger:  s.logger,
	}).Methods(http.MethodGet)

	r.NotFoundHandler = mw.AccessLog(s.logger, s.deps.Metrics, handlers.NotFoundHandler{})
}

// Tracker returns the call tracker shared with the stream handler.
func (s *Server) Tracker() *calltracker.Tracker { return s.deps.Tracker }

func (s *Server) Handler() http.Handler {
	var h http.Handler = s.router
	h = mw.Recover(s.logger, h)
	h = mw.RequestID(h)
	return h
}

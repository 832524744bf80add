// Package viewer serves the context viewer page, the document read
// endpoints and the feedback submission endpoint.
package viewer

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"
	"github.com/thebtf/ctxview/internal/classifier"
	"github.com/thebtf/ctxview/internal/config"
	"github.com/thebtf/ctxview/internal/metrics"
	"github.com/thebtf/ctxview/internal/mutator"
	"github.com/thebtf/ctxview/internal/store"
	"github.com/thebtf/ctxview/internal/viewer/sse"
	"github.com/thebtf/ctxview/pkg/models"
)

const (
	// DefaultHTTPTimeout is the default timeout for HTTP requests.
	DefaultHTTPTimeout = 30 * time.Second

	// MaxRequestBody limits submission bodies.
	MaxRequestBody = 64 << 10

	// EventDocumentsChanged is the SSE event sent when documents change on disk.
	EventDocumentsChanged = "documents_changed"
)

// Modes reported by /api/health.
const (
	ModeDirect = "direct"
	ModePush   = "push"
)

// Publisher hands a submission to the push agent.
type Publisher interface {
	PublishFeedback(ctx context.Context, entry models.FeedbackEntry) error
}

// StatsReader reads the TTI summary kept by the push agent.
type StatsReader interface {
	LoadStats(ctx context.Context) (metrics.Stats, bool, error)
}

// Options are the optional collaborators of a Service.
type Options struct {
	Version string

	// Publisher switches submissions to push mode when set.
	Publisher Publisher

	// Stats backs /api/tti. Without it the endpoint reports zeros.
	Stats StatsReader

	// SubmitRate and SubmitBurst limit submissions per client. Zero disables the limit.
	SubmitRate  float64
	SubmitBurst int
}

// Service is the viewer HTTP front door.
type Service struct {
	version    string
	config     *config.Config
	docs       *store.Documents
	mutator    *mutator.Mutator
	classifier *classifier.Classifier
	publisher  Publisher
	stats      StatsReader

	sseBroadcaster *sse.Broadcaster
	submitLimiter  *PerClientRateLimiter

	router    *chi.Mux
	server    *http.Server
	addr      net.Addr
	startTime time.Time

	wg sync.WaitGroup
}

// NewService wires the router. Call Start to listen.
func NewService(cfg *config.Config, m *mutator.Mutator, c *classifier.Classifier, opts Options) *Service {
	s := &Service{
		version:        opts.Version,
		config:         cfg,
		docs:           m.Documents(),
		mutator:        m,
		classifier:     c,
		publisher:      opts.Publisher,
		stats:          opts.Stats,
		sseBroadcaster: sse.NewBroadcaster(log.Logger),
		router:         chi.NewRouter(),
		startTime:      time.Now(),
	}
	if opts.SubmitRate > 0 {
		s.submitLimiter = NewPerClientRateLimiter(opts.SubmitRate, max(opts.SubmitBurst, 1))
	}

	s.setupMiddleware()
	s.setupRoutes()
	return s
}

func (s *Service) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(RequestLogger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.RealIP)
	s.router.Use(SecurityHeaders)
}

func (s *Service) setupRoutes() {
	s.router.Get("/", serveIndex)
	s.router.Get("/index.html", serveIndex)

	// The SSE stream stays open, so it is outside the request timeout.
	s.router.Get("/api/events", s.sseBroadcaster.HandleSSE)

	s.router.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(DefaultHTTPTimeout))

		r.Get("/api/health", s.handleHealth)
		r.Get("/api/context", s.handleDocument(store.Context))
		r.Get("/api/feedback", s.handleDocument(store.Feedback))
		r.Get("/api/ux_config", s.handleDocument(store.UXConfig))
		r.Get("/api/memory", s.handleMemory)
		r.Get("/api/tti", s.handleTTI)

		r.Group(func(r chi.Router) {
			r.Use(MaxBodySize(MaxRequestBody))
			r.Use(RequireJSONContentType)
			if s.submitLimiter != nil {
				r.Use(PerClientRateLimitMiddleware(s.submitLimiter))
			}
			r.Post("/api/feedback", s.handlePostFeedback)
		})
	})
}

// Handler returns the router.
func (s *Service) Handler() http.Handler {
	return s.router
}

// Mode reports whether submissions are written directly or published.
func (s *Service) Mode() string {
	if s.publisher != nil {
		return ModePush
	}
	return ModeDirect
}

// NotifyChanged tells connected viewers which documents changed.
func (s *Service) NotifyChanged(names []store.Name) {
	s.sseBroadcaster.Broadcast(EventDocumentsChanged, map[string]any{
		"documents": names,
		"timestamp": models.Timestamp(time.Now()),
	})
}

// Start binds the configured address and serves in the background.
// A bind failure is returned immediately.
func (s *Service) Start() error {
	ln, err := net.Listen("tcp", s.config.Addr())
	if err != nil {
		return err
	}
	s.addr = ln.Addr()

	s.server = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.server.RegisterOnShutdown(s.sseBroadcaster.Close)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("HTTP server error")
		}
	}()

	log.Info().
		Str("addr", s.addr.String()).
		Str("mode", s.Mode()).
		Str("path", s.config.BasePath).
		Msg("Viewer started")
	return nil
}

// URL is the address viewers should open. Valid after Start.
func (s *Service) URL() string {
	if s.addr == nil {
		return "http://" + s.config.Addr()
	}
	_, port, _ := net.SplitHostPort(s.addr.String())
	return "http://" + net.JoinHostPort(s.config.Host, port)
}

// Shutdown stops the server and waits for it to exit.
func (s *Service) Shutdown(ctx context.Context) error {
	var err error
	if s.server != nil {
		if err = s.server.Shutdown(ctx); err != nil {
			log.Error().Err(err).Msg("HTTP server shutdown error")
		}
	}
	s.wg.Wait()

	log.Info().Dur("uptime", time.Since(s.startTime)).Msg("Viewer shutdown complete")
	return err
}

package webhook

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	contractx "github.com/tanpawarit/Chative-Booking-Agent/agent/contract"
)

// writeSlack covers history, journal and response encoding after the agent returns.
const writeSlack = 30 * time.Second

type Config struct {
	Addr            string        `envconfig:"ADDR" default:":8000"`
	RateLimit       float64       `envconfig:"RATE_LIMIT" split_words:"true" default:"20"`
	RateBurst       int           `envconfig:"RATE_BURST" split_words:"true" default:"40"`
	MaxBodyBytes    int64         `envconfig:"MAX_BODY_BYTES" split_words:"true" default:"1048576"`
	ReadTimeout     time.Duration `envconfig:"READ_TIMEOUT" split_words:"true" default:"15s"`
	WriteTimeout    time.Duration `envconfig:"WRITE_TIMEOUT" split_words:"true" default:"15m"`
	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" split_words:"true" default:"30s"`
}

// TurnHandler runs one conversational turn.
type TurnHandler interface {
	HandleMessage(ctx context.Context, in contractx.Inbound) (contractx.Reply, error)
}

// SignatureVerifier authenticates replayed deliveries from the queue.
type SignatureVerifier interface {
	Verify(signature string, body []byte, destination string) error
}

type HealthCheck func(ctx context.Context) error

type Option func(*Server)

// WithReplay enables POST /webhook/replay. destination is the public URL the queue signs for.
func WithReplay(verifier SignatureVerifier, destination string) Option {
	return func(s *Server) {
		s.verifier = verifier
		s.replayDestination = destination
	}
}

// WithTurnBudget raises the write timeout so a reply can still be written after the
// slowest possible turn. A zero write timeout stays unbounded.
func WithTurnBudget(budget time.Duration) Option {
	return func(s *Server) {
		floor := budget + writeSlack
		if s.cfg.WriteTimeout > 0 && s.cfg.WriteTimeout < floor {
			log.Warn().
				Dur("configured", s.cfg.WriteTimeout).
				Dur("turn_budget", budget).
				Dur("write_timeout", floor).
				Msg("write_timeout_raised_to_turn_budget")
			s.cfg.WriteTimeout = floor
		}
	}
}

func WithHealthCheck(name string, check HealthCheck) Option {
	return func(s *Server) {
		if check != nil {
			s.checks[name] = check
		}
	}
}

type Server struct {
	cfg      Config
	turns    TurnHandler
	limiter  *rate.Limiter
	verifier SignatureVerifier
	checks   map[string]HealthCheck

	replayDestination string
	httpServer        *http.Server
}

func New(cfg Config, turns TurnHandler, opts ...Option) (*Server, error) {
	if turns == nil {
		return nil, fmt.Errorf("%w: turn handler is required", contractx.ErrValidation)
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 1 << 20
	}

	s := &Server{
		cfg:    cfg,
		turns:  turns,
		checks: make(map[string]HealthCheck),
	}
	if cfg.RateLimit > 0 {
		burst := cfg.RateBurst
		if burst <= 0 {
			burst = 1
		}
		s.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("POST /webhook/whatsapp", s.handleWhatsApp)
	mux.HandleFunc("POST /webhook/instagram", s.handleInstagram)
	if s.verifier != nil {
		mux.HandleFunc("POST /webhook/replay", s.handleReplay)
	}

	return recoveryMiddleware(logMiddleware(s.rateLimitMiddleware(s.bodySizeMiddleware(mux))))
}

// Run serves until ctx is cancelled, then drains in-flight turns.
func (s *Server) Run(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:         s.cfg.Addr,
		Handler:      s.Handler(),
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("webhook_shutdown_failed")
		}
	}()

	log.Info().Str("addr", s.cfg.Addr).Msg("webhook_server_starting")
	if err := s.httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("webhook server: %w", err)
	}
	return nil
}

func (s *Server) rateLimitMiddleware(next http.Handler) http.Handler {
	if s.limiter == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/healthz" {
			next.ServeHTTP(w, r)
			return
		}
		if !s.limiter.Allow() {
			w.Header().Set("Retry-After", "1")
			writeJSON(w, http.StatusTooManyRequests, errorResponse{Status: "error", Error: "rate limit exceeded"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) bodySizeMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Body != nil {
			r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes)
		}
		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func logMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", rec.status).
			Dur("duration", time.Since(started)).
			Msg("http_request")
	})
}

func recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rv := recover(); rv != nil {
				log.Error().
					Str("path", r.URL.Path).
					Str("panic", fmt.Sprint(rv)).
					Bytes("stack", debug.Stack()).
					Msg("http_handler_panic")
				writeJSON(w, http.StatusInternalServerError, errorResponse{Status: "error", Error: "internal server error"})
			}
		}()
		next.ServeHTTP(w, r)
	})
}

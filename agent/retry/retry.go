package retry

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"net/http"
	"regexp"
	"strings"
	"time"

	goopenai "github.com/meguminnnnnnnnn/go-openai"
	openaisdk "github.com/openai/openai-go"
	"github.com/rs/zerolog/log"

	contractx "github.com/tanpawarit/Chative-Booking-Agent/agent/contract"
)

type Config struct {
	MaxAttempts int           `envconfig:"MAX_ATTEMPTS" split_words:"true" default:"3"`
	BaseDelay   time.Duration `envconfig:"BASE_DELAY" split_words:"true" default:"2s"`
}

type Class string

const (
	ClassEmptyResponse Class = "empty_response"
	ClassServer        Class = "server_error"
	ClassRateLimit     Class = "rate_limit"
	ClassDeadline      Class = "deadline_exceeded"
	ClassFatal         Class = "fatal"
)

// Rule maps a failure predicate to a backoff policy:
// delay = base*(attempt+1)*Factor + uniform(JitterMin, JitterMax) seconds.
type Rule struct {
	Class     Class
	Transient bool
	Match     func(err error) bool
	Factor    float64
	JitterMin float64
	JitterMax float64
}

func (r Rule) Backoff(base time.Duration, attempt int, jitter func(lo, hi float64) float64) time.Duration {
	d := time.Duration(float64(base) * float64(attempt+1) * r.Factor)
	if r.JitterMax > 0 && jitter != nil {
		d += time.Duration(jitter(r.JitterMin, r.JitterMax) * float64(time.Second))
	}
	return d
}

// Status codes only count as whole words, so "max_tokens 1500" is not a server error.
var (
	serverPattern = regexp.MustCompile(`\b50[03]\b|internal (server )?error|service unavailable|bad gateway`)
	ratePattern   = regexp.MustCompile(`\b429\b|rate ?limit|quota|resource[ _]exhausted|too many requests`)
)

// DefaultRules is the classification table. First match wins; no match is fatal.
func DefaultRules() []Rule {
	return []Rule{
		{
			Class: ClassFatal,
			Match: func(err error) bool {
				return errors.Is(err, contractx.ErrValidation) || errors.Is(err, context.Canceled)
			},
		},
		{
			Class:     ClassEmptyResponse,
			Transient: true,
			Match:     func(err error) bool { return errors.Is(err, contractx.ErrEmptyResponse) },
			Factor:    1,
			JitterMin: 0.5,
			JitterMax: 2,
		},
		{
			Class:     ClassServer,
			Transient: true,
			Match:     matches(serverPattern, http.StatusInternalServerError, http.StatusBadGateway, http.StatusServiceUnavailable),
			Factor:    1,
			JitterMin: 0,
			JitterMax: 1,
		},
		{
			Class:     ClassRateLimit,
			Transient: true,
			Match:     matches(ratePattern, http.StatusTooManyRequests),
			Factor:    2,
			JitterMin: 1,
			JitterMax: 3,
		},
		{
			Class:     ClassDeadline,
			Transient: true,
			Match: func(err error) bool {
				return errors.Is(err, contractx.ErrDeadlineExceeded) || errors.Is(err, context.DeadlineExceeded)
			},
			Factor: 1,
		},
	}
}

// matches prefers the provider's typed HTTP status and falls back to the message text.
func matches(pattern *regexp.Regexp, statuses ...int) func(error) bool {
	return func(err error) bool {
		if code := statusCode(err); code != 0 {
			for _, s := range statuses {
				if code == s {
					return true
				}
			}
			return false
		}
		return pattern.MatchString(strings.ToLower(err.Error()))
	}
}

func statusCode(err error) int {
	var apiErr *goopenai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode
	}
	var reqErr *goopenai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode
	}
	var sdkErr *openaisdk.Error
	if errors.As(err, &sdkErr) {
		return sdkErr.StatusCode
	}
	return 0
}

type Task func(ctx context.Context) (string, error)

type Result struct {
	Text     string
	Attempts int
	// Settled is set when retrying stopped because the side effect was already observed.
	Settled bool
}

type Controller struct {
	maxAttempts int
	baseDelay   time.Duration
	rules       []Rule
	jitter      func(lo, hi float64) float64
	sleep       func(ctx context.Context, d time.Duration) error
}

type Option func(*Controller)

func WithRules(rules []Rule) Option {
	return func(c *Controller) {
		if len(rules) > 0 {
			c.rules = rules
		}
	}
}

func WithJitter(fn func(lo, hi float64) float64) Option {
	return func(c *Controller) {
		if fn != nil {
			c.jitter = fn
		}
	}
}

func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(c *Controller) {
		if fn != nil {
			c.sleep = fn
		}
	}
}

func New(cfg Config, opts ...Option) (*Controller, error) {
	if cfg.MaxAttempts <= 0 {
		return nil, fmt.Errorf("%w: max attempts must be > 0", contractx.ErrValidation)
	}
	if cfg.BaseDelay < 0 {
		return nil, fmt.Errorf("%w: base delay must be >= 0", contractx.ErrValidation)
	}
	c := &Controller{
		maxAttempts: cfg.MaxAttempts,
		baseDelay:   cfg.BaseDelay,
		rules:       DefaultRules(),
		jitter:      uniform,
		sleep:       sleepCtx,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c, nil
}

func MustNew(cfg Config, opts ...Option) *Controller {
	c, err := New(cfg, opts...)
	if err != nil {
		panic(err)
	}
	return c
}

// Budget is the longest Do can run when every attempt uses its full attemptTimeout and
// every backoff draws the slowest transient rule at its largest jitter.
func (cfg Config) Budget(attemptTimeout time.Duration) time.Duration {
	var worst Rule
	for _, r := range DefaultRules() {
		if r.Transient {
			worst.Factor = max(worst.Factor, r.Factor)
			worst.JitterMax = max(worst.JitterMax, r.JitterMax)
		}
	}
	total := time.Duration(cfg.MaxAttempts) * attemptTimeout
	for attempt := 0; attempt < cfg.MaxAttempts-1; attempt++ {
		total += worst.Backoff(cfg.BaseDelay, attempt, func(_, hi float64) float64 { return hi })
	}
	return total
}

// Classify returns the first rule matching err. A nil error never reaches the table.
func (c *Controller) Classify(err error) Rule {
	for _, r := range c.rules {
		if r.Match != nil && r.Match(err) {
			return r
		}
	}
	return Rule{Class: ClassFatal}
}

type doOptions struct {
	settled func() bool
	label   string
}

type DoOption func(*doOptions)

// WithSettled stops retrying as soon as fn reports true, e.g. once the reply was sent.
func WithSettled(fn func() bool) DoOption {
	return func(o *doOptions) { o.settled = fn }
}

func WithLabel(label string) DoOption {
	return func(o *doOptions) { o.label = label }
}

// Do runs task up to MaxAttempts times. Blank text counts as ErrEmptyResponse. Fatal
// failures return on the first occurrence; exhausted transient failures are wrapped in
// ErrRetriesExhausted.
func (c *Controller) Do(ctx context.Context, task Task, opts ...DoOption) (Result, error) {
	var o doOptions
	for _, opt := range opts {
		opt(&o)
	}

	var lastErr error
	for attempt := 0; attempt < c.maxAttempts; attempt++ {
		text, err := task(ctx)
		if err == nil && strings.TrimSpace(text) == "" {
			err = fmt.Errorf("%w: attempt %d", contractx.ErrEmptyResponse, attempt+1)
		}
		if err == nil {
			return Result{Text: text, Attempts: attempt + 1}, nil
		}
		lastErr = err

		if o.settled != nil && o.settled() {
			log.Debug().Str("label", o.label).Int("attempt", attempt+1).Err(err).Msg("retry_settled_by_side_effect")
			return Result{Text: text, Attempts: attempt + 1, Settled: true}, nil
		}

		rule := c.Classify(err)
		if !rule.Transient {
			return Result{Attempts: attempt + 1}, err
		}
		if attempt+1 >= c.maxAttempts {
			break
		}

		backoff := rule.Backoff(c.baseDelay, attempt, c.jitter)
		log.Warn().
			Str("label", o.label).
			Int("attempt", attempt+1).
			Str("class", string(rule.Class)).
			Dur("backoff", backoff).
			Err(err).
			Msg("transient_failure_retrying")

		if err := c.sleep(ctx, backoff); err != nil {
			return Result{Attempts: attempt + 1}, err
		}
		// A send may have landed during the backoff from a call that timed out earlier.
		if o.settled != nil && o.settled() {
			return Result{Attempts: attempt + 1, Settled: true}, nil
		}
	}

	return Result{Attempts: c.maxAttempts}, fmt.Errorf("%w: after %d attempts: %w", contractx.ErrRetriesExhausted, c.maxAttempts, lastErr)
}

func uniform(lo, hi float64) float64 {
	if hi <= lo {
		return lo
	}
	return lo + rand.Float64()*(hi-lo)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

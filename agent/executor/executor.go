package executor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/semaphore"

	contractx "github.com/tanpawarit/Chative-Booking-Agent/agent/contract"
)

type Config struct {
	Timeout time.Duration `envconfig:"INVOKE_TIMEOUT" split_words:"true" default:"120s"`
	Workers int64         `envconfig:"WORKERS" split_words:"true" default:"16"`
}

type Task func(ctx context.Context) (string, error)

// Executor runs agent invocations on a bounded pool of worker goroutines. A worker slot is
// held until the task really returns, so timed-out calls still count against capacity.
type Executor struct {
	timeout time.Duration
	workers *semaphore.Weighted
}

func New(cfg Config) (*Executor, error) {
	if cfg.Timeout <= 0 {
		return nil, fmt.Errorf("%w: executor timeout must be > 0", contractx.ErrValidation)
	}
	if cfg.Workers <= 0 {
		return nil, fmt.Errorf("%w: executor workers must be > 0", contractx.ErrValidation)
	}
	return &Executor{
		timeout: cfg.Timeout,
		workers: semaphore.NewWeighted(cfg.Workers),
	}, nil
}

func MustNew(cfg Config) *Executor {
	e, err := New(cfg)
	if err != nil {
		panic(err)
	}
	return e
}

func (e *Executor) Timeout() time.Duration {
	return e.timeout
}

// Run waits at most the configured timeout for task. On expiry it returns ErrDeadlineExceeded
// without stopping the task; the task keeps ctx and may still finish (and send) later.
func (e *Executor) Run(ctx context.Context, task Task) (string, error) {
	waitCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	if err := e.workers.Acquire(waitCtx, 1); err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", fmt.Errorf("%w: no free worker within %s", contractx.ErrDeadlineExceeded, e.timeout)
	}

	done := make(chan result, 1)
	go func() {
		defer e.workers.Release(1)
		done <- runGuarded(ctx, task)
	}()

	select {
	case r := <-done:
		return r.text, r.err
	case <-waitCtx.Done():
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		log.Warn().Dur("timeout", e.timeout).Msg("agent_invocation_timed_out")
		return "", fmt.Errorf("%w: after %s", contractx.ErrDeadlineExceeded, e.timeout)
	}
}

type result struct {
	text string
	err  error
}

func runGuarded(ctx context.Context, task Task) (r result) {
	defer func() {
		if p := recover(); p != nil {
			r = result{err: fmt.Errorf("agent task panicked: %v", p)}
		}
	}()
	text, err := task(ctx)
	if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
		err = fmt.Errorf("%w: %v", contractx.ErrDeadlineExceeded, err)
	}
	return result{text: text, err: err}
}

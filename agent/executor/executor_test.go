package executor

import (
	"context"
	"errors"
	"testing"
	"time"

	contractx "github.com/tanpawarit/Chative-Booking-Agent/agent/contract"
)

func TestExecutorRunReturnsResult(t *testing.T) {
	t.Parallel()

	e := MustNew(Config{Timeout: time.Second, Workers: 2})
	out, err := e.Run(context.Background(), func(ctx context.Context) (string, error) {
		return "olá", nil
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if out != "olá" {
		t.Fatalf("unexpected result: %q", out)
	}
}

func TestExecutorRunTimeoutDoesNotWaitForTask(t *testing.T) {
	t.Parallel()

	e := MustNew(Config{Timeout: 20 * time.Millisecond, Workers: 1})
	release := make(chan struct{})
	finished := make(chan struct{})

	start := time.Now()
	_, err := e.Run(context.Background(), func(ctx context.Context) (string, error) {
		<-release
		close(finished)
		return "late", nil
	})
	if !errors.Is(err, contractx.ErrDeadlineExceeded) {
		t.Fatalf("expected ErrDeadlineExceeded, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("Run() blocked for %s", elapsed)
	}

	// The underlying task is still running and completes afterwards.
	close(release)
	select {
	case <-finished:
	case <-time.After(time.Second):
		t.Fatal("task did not complete after timeout")
	}
}

func TestExecutorRunTimedOutTaskHoldsWorker(t *testing.T) {
	t.Parallel()

	e := MustNew(Config{Timeout: 20 * time.Millisecond, Workers: 1})
	release := make(chan struct{})
	defer close(release)

	_, _ = e.Run(context.Background(), func(ctx context.Context) (string, error) {
		<-release
		return "", nil
	})

	_, err := e.Run(context.Background(), func(ctx context.Context) (string, error) {
		return "never", nil
	})
	if !errors.Is(err, contractx.ErrDeadlineExceeded) {
		t.Fatalf("expected ErrDeadlineExceeded while worker busy, got %v", err)
	}
}

func TestExecutorRunPropagatesTaskError(t *testing.T) {
	t.Parallel()

	e := MustNew(Config{Timeout: time.Second, Workers: 1})
	taskErr := errors.New("boom")
	_, err := e.Run(context.Background(), func(ctx context.Context) (string, error) {
		return "", taskErr
	})
	if !errors.Is(err, taskErr) {
		t.Fatalf("expected task error, got %v", err)
	}
}

func TestExecutorRunRecoversPanic(t *testing.T) {
	t.Parallel()

	e := MustNew(Config{Timeout: time.Second, Workers: 1})
	_, err := e.Run(context.Background(), func(ctx context.Context) (string, error) {
		panic("tool exploded")
	})
	if err == nil {
		t.Fatal("expected error from panicking task")
	}
	if errors.Is(err, contractx.ErrDeadlineExceeded) {
		t.Fatalf("panic must not be reported as a timeout: %v", err)
	}
}

func TestExecutorRunParentCancel(t *testing.T) {
	t.Parallel()

	e := MustNew(Config{Timeout: time.Second, Workers: 1})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := e.Run(ctx, func(ctx context.Context) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestNewValidatesConfig(t *testing.T) {
	t.Parallel()

	if _, err := New(Config{Timeout: 0, Workers: 1}); !errors.Is(err, contractx.ErrValidation) {
		t.Fatalf("expected ErrValidation for zero timeout, got %v", err)
	}
	if _, err := New(Config{Timeout: time.Second}); !errors.Is(err, contractx.ErrValidation) {
		t.Fatalf("expected ErrValidation for zero workers, got %v", err)
	}
}

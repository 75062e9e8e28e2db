package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cloudwego/eino/compose"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	contractx "github.com/tanpawarit/Chative-Booking-Agent/agent/contract"
	"github.com/tanpawarit/Chative-Booking-Agent/agent/delivery"
	"github.com/tanpawarit/Chative-Booking-Agent/agent/executor"
	"github.com/tanpawarit/Chative-Booking-Agent/agent/history"
	"github.com/tanpawarit/Chative-Booking-Agent/agent/journal"
	nodex "github.com/tanpawarit/Chative-Booking-Agent/agent/nodes/orchestrator"
	promptx "github.com/tanpawarit/Chative-Booking-Agent/agent/prompt"
	"github.com/tanpawarit/Chative-Booking-Agent/agent/retry"
)

var (
	ErrInvalidMessage   = nodex.ErrInvalidMessage
	ErrInvalidOwner     = nodex.ErrInvalidOwner
	ErrInvalidRecipient = nodex.ErrInvalidRecipient
)

const (
	OutcomeDelivered = "delivered"
	OutcomeForced    = "forced"
	OutcomeRejected  = "rejected"
	OutcomeFailed    = "failed"

	journalTimeout = 5 * time.Second
)

type Deps struct {
	Models   contractx.Registry
	Tracker  *delivery.Tracker
	Executor *executor.Executor
	Retry    *retry.Controller

	// Optional.
	History    contractx.HistoryStore
	Journal    contractx.Journal
	DeadLetter contractx.DeadLetter
	Prompts    *promptx.PromptSet
}

type Option func(*Orchestrator)

func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		if now != nil {
			o.now = now
		}
	}
}

func WithTracer(tracer trace.Tracer) Option {
	return func(o *Orchestrator) {
		if tracer != nil {
			o.tracer = tracer
		}
	}
}

// Orchestrator runs one conversational turn per inbound event and owns the delivery
// tracker entry for it.
type Orchestrator struct {
	runtime    nodex.Runtime
	tracker    *delivery.Tracker
	history    contractx.HistoryStore
	journal    contractx.Journal
	deadLetter contractx.DeadLetter

	graphRunner compose.Runnable[nodex.GraphInput, nodex.GraphOutput]

	tracer trace.Tracer
	now    func() time.Time
}

func New(deps Deps, opts ...Option) (*Orchestrator, error) {
	if deps.Models == nil {
		return nil, fmt.Errorf("%w: model registry is required", contractx.ErrValidation)
	}
	if deps.Tracker == nil {
		return nil, fmt.Errorf("%w: delivery tracker is required", contractx.ErrValidation)
	}
	if deps.Executor == nil {
		return nil, fmt.Errorf("%w: executor is required", contractx.ErrValidation)
	}
	if deps.Retry == nil {
		return nil, fmt.Errorf("%w: retry controller is required", contractx.ErrValidation)
	}
	if deps.History == nil {
		deps.History = history.Noop{}
	}
	if deps.Journal == nil {
		deps.Journal = journal.Noop{}
	}
	prompts := promptx.LoadPromptSet()
	if deps.Prompts != nil {
		prompts = *deps.Prompts
	}

	o := &Orchestrator{
		tracker:    deps.Tracker,
		history:    deps.History,
		journal:    deps.Journal,
		deadLetter: deps.DeadLetter,
		tracer:     otel.Tracer("github.com/tanpawarit/Chative-Booking-Agent/agent/agents/orchestrator"),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	o.runtime = nodex.Runtime{
		Models:   deps.Models,
		Prompts:  prompts,
		Tracker:  deps.Tracker,
		Executor: deps.Executor,
		Retry:    deps.Retry,
		Tracer:   o.tracer,
	}

	graphRunner, err := o.compileHandleMessageGraph(context.Background())
	if err != nil {
		return nil, err
	}
	o.graphRunner = graphRunner

	return o, nil
}

// HandleMessage runs one turn. The tracker entry for the request is removed on every exit
// path, so a call still running after a timeout cannot send for it later.
func (o *Orchestrator) HandleMessage(ctx context.Context, in contractx.Inbound) (contractx.Reply, error) {
	in.RequestID = strings.TrimSpace(in.RequestID)
	if in.RequestID == "" {
		in.RequestID = uuid.NewString()
	}
	if in.ReceivedAt.IsZero() {
		in.ReceivedAt = o.now()
	}

	ctx, span := o.tracer.Start(ctx, "orchestrator.handle_message", trace.WithAttributes(
		attribute.String("request_id", in.RequestID),
		attribute.String("channel", string(in.Channel)),
		attribute.Bool("replay", in.Replay),
	))
	defer span.End()

	started := o.now()
	stats := &nodex.Stats{}

	release, err := o.tracker.Begin(in.RequestID)
	if err != nil {
		o.record(ctx, in, contractx.Reply{RequestID: in.RequestID}, stats, err, started)
		return contractx.Reply{RequestID: in.RequestID}, err
	}
	defer release()

	out, err := o.graphRunner.Invoke(ctx, nodex.GraphInput{Inbound: in, Stats: stats})
	if err != nil {
		sent := o.tracker.Sent(in.RequestID)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		log.Error().
			Err(err).
			Str("request_id", in.RequestID).
			Str("channel", string(in.Channel)).
			Int("attempts", stats.Attempts).
			Bool("sent", sent).
			Msg("turn_failed")

		o.record(ctx, in, contractx.Reply{RequestID: in.RequestID}, stats, err, started)
		if !sent {
			o.publishDeadLetter(ctx, in, err)
		}
		return contractx.Reply{RequestID: in.RequestID, Attempts: stats.Attempts, Forced: stats.Forced}, err
	}

	span.SetAttributes(
		attribute.Int("attempts", out.Reply.Attempts),
		attribute.Bool("forced", out.Reply.Forced),
	)
	o.record(ctx, in, out.Reply, stats, nil, started)
	return out.Reply, nil
}

func (o *Orchestrator) record(
	ctx context.Context,
	in contractx.Inbound,
	reply contractx.Reply,
	stats *nodex.Stats,
	cause error,
	started time.Time,
) {
	rec := contractx.DeliveryRecord{
		RequestID:   in.RequestID,
		Channel:     in.Channel,
		OwnerID:     in.OwnerID,
		RecipientID: in.RecipientID,
		Delivered:   reply.Delivered,
		Forced:      stats.Forced,
		Attempts:    stats.Attempts,
		StartedAt:   started.UTC(),
		Duration:    o.now().Sub(started),
	}
	switch {
	case cause == nil && stats.Forced:
		rec.Outcome = OutcomeForced
	case cause == nil:
		rec.Outcome = OutcomeDelivered
	case errors.Is(cause, contractx.ErrValidation),
		errors.Is(cause, contractx.ErrUnsupportedChannel),
		errors.Is(cause, contractx.ErrDuplicateRequest):
		rec.Outcome = OutcomeRejected
		rec.Error = cause.Error()
	default:
		rec.Outcome = OutcomeFailed
		rec.Error = cause.Error()
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), journalTimeout)
	defer cancel()
	if err := o.journal.Record(ctx, rec); err != nil {
		log.Warn().Err(err).Str("request_id", in.RequestID).Msg("journal_record_failed")
	}
}

// publishDeadLetter hands a turn that failed on transient errors to the replay queue.
// Replayed turns are not re-queued.
func (o *Orchestrator) publishDeadLetter(ctx context.Context, in contractx.Inbound, cause error) {
	if o.deadLetter == nil || in.Replay {
		return
	}
	if !errors.Is(cause, contractx.ErrRetriesExhausted) && !errors.Is(cause, contractx.ErrDeadlineExceeded) {
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), journalTimeout)
	defer cancel()
	if err := o.deadLetter.Publish(ctx, in, cause); err != nil {
		log.Error().Err(err).Str("request_id", in.RequestID).Msg("dead_letter_publish_failed")
		return
	}
	log.Info().Str("request_id", in.RequestID).Msg("dead_letter_published")
}

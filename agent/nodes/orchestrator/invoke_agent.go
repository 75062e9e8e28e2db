package orchestratornode

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	contractx "github.com/tanpawarit/Chative-Booking-Agent/agent/contract"
	"github.com/tanpawarit/Chative-Booking-Agent/agent/delivery"
	"github.com/tanpawarit/Chative-Booking-Agent/agent/executor"
	promptx "github.com/tanpawarit/Chative-Booking-Agent/agent/prompt"
	"github.com/tanpawarit/Chative-Booking-Agent/agent/retry"
	toolx "github.com/tanpawarit/Chative-Booking-Agent/agent/tool"
)

const tracerName = "github.com/tanpawarit/Chative-Booking-Agent/agent/nodes/orchestrator"

// Runtime is what the agent nodes need to run one bounded, retried invocation.
type Runtime struct {
	Models   contractx.Registry
	Prompts  promptx.PromptSet
	Tracker  *delivery.Tracker
	Executor *executor.Executor
	Retry    *retry.Controller
	Tracer   trace.Tracer
}

func InvokeAgent(ctx context.Context, in *GraphState, rt Runtime) (*GraphState, error) {
	if in == nil {
		return nil, fmt.Errorf("%w: graph state is nil", contractx.ErrValidation)
	}

	inv, err := rt.Models.For(in.Inbound.Channel)
	if err != nil {
		return nil, err
	}

	in.SystemPrompt = rt.Prompts.System(in.Inbound.Channel, in.Inbound.SystemPrompt)
	res, err := rt.invoke(ctx, inv, contractx.AgentRequest{
		Channel:      in.Inbound.Channel,
		SystemPrompt: in.SystemPrompt,
		History:      in.History,
		Message:      in.Inbound.Message,
	}, toolx.ScopeFor(in.Inbound), "primary")
	in.Stats.Attempts += res.Attempts
	if err != nil {
		return nil, err
	}

	in.Text = res.Text
	return in, nil
}

// invoke runs the agent under the retry controller, each attempt bounded by the executor.
// Retrying stops as soon as the tracker observes a send for the request.
func (rt Runtime) invoke(
	ctx context.Context,
	inv contractx.Invoker,
	req contractx.AgentRequest,
	scope toolx.Scope,
	label string,
) (retry.Result, error) {
	ctx = toolx.WithScope(ctx, scope)
	requestID := scope.RequestID

	attempt := 0
	task := func(ctx context.Context) (string, error) {
		attempt++
		ctx, span := rt.tracer().Start(ctx, "agent.invoke", trace.WithAttributes(
			attribute.String("request_id", requestID),
			attribute.String("channel", string(req.Channel)),
			attribute.String("label", label),
			attribute.Int("attempt", attempt),
		))
		defer span.End()

		text, err := rt.Executor.Run(ctx, func(ctx context.Context) (string, error) {
			return inv.Invoke(ctx, req)
		})
		if err != nil {
			span.RecordError(err)
		}
		return text, err
	}

	return rt.Retry.Do(ctx, task,
		retry.WithSettled(func() bool { return rt.Tracker.Sent(requestID) }),
		retry.WithLabel(label),
	)
}

func (rt Runtime) tracer() trace.Tracer {
	if rt.Tracer == nil {
		return otel.Tracer(tracerName)
	}
	return rt.Tracer
}

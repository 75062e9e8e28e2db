package orchestratornode

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	contractx "github.com/tanpawarit/Chative-Booking-Agent/agent/contract"
	toolx "github.com/tanpawarit/Chative-Booking-Agent/agent/tool"
)

var nullMarkers = map[string]struct{}{
	"null":      {},
	"none":      {},
	"nil":       {},
	"undefined": {},
}

// IsNullText reports whether the agent's text carries nothing that could be re-sent.
func IsNullText(text string) bool {
	t := strings.TrimSpace(text)
	t = strings.Trim(t, `"'`+"`")
	t = strings.TrimSpace(t)
	if t == "" {
		return true
	}
	_, ok := nullMarkers[strings.ToLower(t)]
	return ok
}

// EnsureDelivery makes sure the generated reply reached the customer. When the agent
// produced text without sending it, one corrective invocation re-sends that exact text.
func EnsureDelivery(ctx context.Context, in *GraphState, rt Runtime) (*GraphState, error) {
	if in == nil {
		return nil, fmt.Errorf("%w: graph state is nil", contractx.ErrValidation)
	}
	requestID := in.Inbound.RequestID

	if rt.Tracker.Sent(requestID) {
		return markDelivered(in, rt), nil
	}
	if IsNullText(in.Text) {
		return nil, fmt.Errorf("%w: agent returned %q without sending a reply", contractx.ErrEmptyResponse, strings.TrimSpace(in.Text))
	}

	inv, err := rt.Models.For(in.Inbound.Channel)
	if err != nil {
		return nil, err
	}

	log.Warn().
		Str("request_id", requestID).
		Str("channel", string(in.Inbound.Channel)).
		Int("text_len", len(in.Text)).
		Msg("forced_delivery")

	scope := toolx.ScopeFor(in.Inbound)
	scope.ForcedText = in.Text
	in.Stats.Forced = true

	res, err := rt.invoke(ctx, inv, contractx.AgentRequest{
		Channel:      in.Inbound.Channel,
		SystemPrompt: in.SystemPrompt,
		History:      in.History,
		Message:      rt.Prompts.ForcedDeliveryMessage(in.Text),
	}, scope, "forced_delivery")
	in.Stats.Attempts += res.Attempts

	if rt.Tracker.Sent(requestID) {
		return markDelivered(in, rt), nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: forced delivery: %w", contractx.ErrNotDelivered, err)
	}
	return nil, fmt.Errorf("%w: agent did not send the reply after a forced retry", contractx.ErrNotDelivered)
}

func markDelivered(in *GraphState, rt Runtime) *GraphState {
	in.Delivered = true
	if text, ok := rt.Tracker.DeliveredText(in.Inbound.RequestID); ok {
		in.DeliveredText = text
	}
	return in
}

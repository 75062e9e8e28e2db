package orchestratornode

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	contractx "github.com/tanpawarit/Chative-Booking-Agent/agent/contract"
)

// WriteHistory appends the delivered turn. Failures are logged; the reply already went out.
func WriteHistory(
	ctx context.Context,
	in *GraphState,
	store contractx.HistoryStore,
) (*GraphState, error) {
	if in == nil {
		return nil, fmt.Errorf("%w: graph state is nil", contractx.ErrValidation)
	}
	if !in.Delivered {
		return in, nil
	}

	turns := []contractx.Turn{{Role: contractx.RoleUser, Text: in.Inbound.Message}}
	if text := strings.TrimSpace(in.DeliveredText); text != "" {
		turns = append(turns, contractx.Turn{Role: contractx.RoleAssistant, Text: text})
	}

	if err := store.Append(ctx, in.Key, turns...); err != nil {
		log.Warn().
			Err(err).
			Str("request_id", in.Inbound.RequestID).
			Str("channel", string(in.Inbound.Channel)).
			Msg("history_append_failed")
	}
	return in, nil
}

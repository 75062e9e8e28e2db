package orchestratornode

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	contractx "github.com/tanpawarit/Chative-Booking-Agent/agent/contract"
)

// LoadHistory prefers the history sent with the webhook and falls back to the store.
// A store failure degrades to an empty history.
func LoadHistory(
	ctx context.Context,
	in *GraphState,
	store contractx.HistoryStore,
) (*GraphState, error) {
	if in == nil {
		return nil, fmt.Errorf("%w: graph state is nil", contractx.ErrValidation)
	}

	in.Key = contractx.HistoryKey{
		Channel: in.Inbound.Channel,
		OwnerID: in.Inbound.OwnerID,
		PeerID:  in.Inbound.RecipientID,
	}

	if len(in.Inbound.History) > 0 {
		in.History = append([]contractx.Turn(nil), in.Inbound.History...)
		return in, nil
	}

	turns, err := store.Load(ctx, in.Key)
	if err != nil {
		log.Warn().
			Err(err).
			Str("request_id", in.Inbound.RequestID).
			Str("channel", string(in.Inbound.Channel)).
			Msg("history_load_failed")
		return in, nil
	}
	in.History = turns
	return in, nil
}

package orchestratornode

import (
	"fmt"

	contractx "github.com/tanpawarit/Chative-Booking-Agent/agent/contract"
)

func FinalizeReply(in *GraphState) (GraphOutput, error) {
	if in == nil {
		return GraphOutput{}, fmt.Errorf("%w: graph state is nil", contractx.ErrValidation)
	}
	if !in.Delivered {
		return GraphOutput{}, fmt.Errorf("%w: turn finished without a send", contractx.ErrNotDelivered)
	}

	return GraphOutput{Reply: contractx.Reply{
		RequestID: in.Inbound.RequestID,
		Text:      in.DeliveredText,
		Delivered: true,
		Forced:    in.Stats.Forced,
		Attempts:  in.Stats.Attempts,
	}}, nil
}

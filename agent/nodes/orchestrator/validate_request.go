package orchestratornode

import (
	"fmt"
	"strings"
	"time"

	contractx "github.com/tanpawarit/Chative-Booking-Agent/agent/contract"
)

var (
	ErrInvalidMessage   = fmt.Errorf("%w: message is empty", contractx.ErrValidation)
	ErrInvalidOwner     = fmt.Errorf("%w: owner id is empty", contractx.ErrValidation)
	ErrInvalidRecipient = fmt.Errorf("%w: recipient id is empty", contractx.ErrValidation)
	ErrInvalidRequestID = fmt.Errorf("%w: request id is empty", contractx.ErrValidation)
)

// Stats is filled in as the turn runs so the caller can journal attempts even when the
// graph fails.
type Stats struct {
	Attempts int
	Forced   bool
}

type GraphInput struct {
	Inbound contractx.Inbound
	Stats   *Stats
}

type GraphOutput struct {
	Reply contractx.Reply
}

type GraphState struct {
	Inbound contractx.Inbound
	Now     time.Time
	Stats   *Stats

	Key          contractx.HistoryKey
	History      []contractx.Turn
	SystemPrompt string

	// Text is the agent's final content; DeliveredText is what send_message actually sent.
	Text          string
	Delivered     bool
	DeliveredText string
}

func ValidateRequest(in GraphInput, nowFn func() time.Time) (*GraphState, error) {
	inbound := in.Inbound
	inbound.OwnerID = strings.TrimSpace(inbound.OwnerID)
	inbound.RecipientID = strings.TrimSpace(inbound.RecipientID)
	inbound.ServiceType = contractx.ServiceType(strings.TrimSpace(string(inbound.ServiceType)))
	inbound.Address = strings.TrimSpace(inbound.Address)

	switch {
	case strings.TrimSpace(inbound.RequestID) == "":
		return nil, ErrInvalidRequestID
	case !inbound.Channel.Valid():
		return nil, fmt.Errorf("%w: %q", contractx.ErrUnsupportedChannel, inbound.Channel)
	case inbound.OwnerID == "":
		return nil, ErrInvalidOwner
	case inbound.RecipientID == "":
		return nil, ErrInvalidRecipient
	case strings.TrimSpace(inbound.Message) == "":
		return nil, ErrInvalidMessage
	}

	switch inbound.ServiceType {
	case "", contractx.ServiceOnline, contractx.ServiceInPerson:
	default:
		return nil, fmt.Errorf("%w: unknown service type %q", contractx.ErrValidation, inbound.ServiceType)
	}

	stats := in.Stats
	if stats == nil {
		stats = &Stats{}
	}

	return &GraphState{
		Inbound: inbound,
		Now:     nowFn().UTC(),
		Stats:   stats,
	}, nil
}

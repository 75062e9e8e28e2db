package tool

import (
	"context"

	contractx "github.com/tanpawarit/Chative-Booking-Agent/agent/contract"
)

// Scope identifies the conversation turn a tool call belongs to. The agent runtime only
// passes a context to tools, so the orchestrator injects it there.
type Scope struct {
	RequestID   string
	Channel     contractx.Channel
	OwnerID     string
	RecipientID string
	ServiceType contractx.ServiceType
	Address     string
	// ForcedText, when set, replaces whatever text the model passes to send_message.
	ForcedText string
}

type scopeContextKey struct{}

func WithScope(ctx context.Context, scope Scope) context.Context {
	return context.WithValue(ctx, scopeContextKey{}, scope)
}

func ScopeFromCtx(ctx context.Context) (Scope, bool) {
	v, ok := ctx.Value(scopeContextKey{}).(Scope)
	return v, ok && v.RequestID != ""
}

func ScopeFor(in contractx.Inbound) Scope {
	return Scope{
		RequestID:   in.RequestID,
		Channel:     in.Channel,
		OwnerID:     in.OwnerID,
		RecipientID: in.RecipientID,
		ServiceType: in.ServiceType,
		Address:     in.Address,
	}
}

package contract

import (
	"context"
	"time"
)

// Invoker is the opaque language-model capability. Its only contracted failure modes are
// errors (transient or fatal) and empty text.
type Invoker interface {
	Invoke(ctx context.Context, req AgentRequest) (string, error)
}

type Registry interface {
	For(channel Channel) (Invoker, error)
}

type Messenger interface {
	Send(ctx context.Context, req SendRequest) (SendResult, error)
}

type Calendar interface {
	CheckAvailability(ctx context.Context, ownerID string, start time.Time) (Verdict, error)
	Schedule(ctx context.Context, ownerID string, req SchedulingRequest) (Booking, Verdict, error)
	SearchBySubjectEmail(ctx context.Context, ownerID string, email string) ([]CandidateRecord, error)
	Reschedule(ctx context.Context, ownerID string, eventID string, start, end time.Time) (Booking, Verdict, error)
	Cancel(ctx context.Context, ownerID string, eventID string) error
}

type HistoryStore interface {
	Load(ctx context.Context, key HistoryKey) ([]Turn, error)
	Append(ctx context.Context, key HistoryKey, turns ...Turn) error
}

type Journal interface {
	Record(ctx context.Context, rec DeliveryRecord) error
}

type DeadLetter interface {
	Publish(ctx context.Context, in Inbound, cause error) error
}

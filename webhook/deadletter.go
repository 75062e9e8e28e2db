package webhook

import (
	"context"
	"fmt"
	"strings"

	contractx "github.com/tanpawarit/Chative-Booking-Agent/agent/contract"
)

const maxCauseLen = 256

// Publisher enqueues a JSON body for later delivery.
type Publisher interface {
	Publish(ctx context.Context, body any, headers map[string]string) (string, error)
}

// DeadLetter queues failed turns so the queue can call /webhook/replay with them.
type DeadLetter struct {
	publisher Publisher
}

var _ contractx.DeadLetter = (*DeadLetter)(nil)

func NewDeadLetter(publisher Publisher) *DeadLetter {
	return &DeadLetter{publisher: publisher}
}

func (d *DeadLetter) Publish(ctx context.Context, in contractx.Inbound, cause error) error {
	headers := map[string]string{requestIDHeader: in.RequestID}
	if cause != nil {
		msg := strings.Join(strings.Fields(cause.Error()), " ")
		if len(msg) > maxCauseLen {
			msg = msg[:maxCauseLen]
		}
		headers["X-Dead-Letter-Cause"] = msg
	}

	if _, err := d.publisher.Publish(ctx, in, headers); err != nil {
		return fmt.Errorf("%w: dead letter request_id=%s: %w", contractx.ErrCollaborator, in.RequestID, err)
	}
	return nil
}

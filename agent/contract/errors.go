package contract

import "errors"

var (
	ErrModelInvoke   = errors.New("model invoke failed")
	ErrPromptMissing = errors.New("required prompt is missing")
	ErrValidation    = errors.New("validation failed")

	ErrEmptyResponse      = errors.New("model returned an empty response")
	ErrDeadlineExceeded   = errors.New("agent invocation deadline exceeded")
	ErrRetriesExhausted   = errors.New("retries exhausted")
	ErrNotDelivered       = errors.New("reply was generated but not delivered")
	ErrAlreadyDelivered   = errors.New("reply already delivered for this request")
	ErrUntrackedRequest   = errors.New("request is not tracked")
	ErrDuplicateRequest   = errors.New("request id already in flight")
	ErrCollaborator       = errors.New("collaborator request failed")
	ErrUnsupportedChannel = errors.New("unsupported channel")
)

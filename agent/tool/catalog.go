package tool

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/cloudwego/eino/schema"
	"github.com/rs/zerolog/log"

	contractx "github.com/tanpawarit/Chative-Booking-Agent/agent/contract"
)

const (
	ToolSendMessage           = "send_message"
	ToolCheckAvailability     = "check_availability"
	ToolScheduleAppointment   = "schedule_appointment"
	ToolListAppointments      = "list_appointments"
	ToolRescheduleAppointment = "reschedule_appointment"
	ToolCancelAppointment     = "cancel_appointment"
)

// Result is what a handler hands back to the agent. Error is set for failures the agent
// should read and react to; it is not a Go error.
type Result struct {
	Tool  string `json:"tool"`
	Text  string `json:"text,omitempty"`
	Error string `json:"error,omitempty"`
}

func (r Result) String() string {
	if r.Error != "" {
		return "ERROR: " + r.Error
	}
	return r.Text
}

// handler is one entry of the dispatch table. Arguments are decoded into a typed struct
// before the handler body runs.
type handler interface {
	info() *schema.ToolInfo
	run(ctx context.Context, scope Scope, rawArgs string) (string, error)
}

type typedHandler[A any] struct {
	tool *schema.ToolInfo
	fn   func(ctx context.Context, scope Scope, args A) (string, error)
}

func (h typedHandler[A]) info() *schema.ToolInfo {
	return h.tool
}

func (h typedHandler[A]) run(ctx context.Context, scope Scope, rawArgs string) (string, error) {
	var args A
	if trimmed := strings.TrimSpace(rawArgs); trimmed != "" {
		if err := json.Unmarshal([]byte(trimmed), &args); err != nil {
			return "", fmt.Errorf("%w: invalid arguments for %s: %v", contractx.ErrValidation, h.tool.Name, err)
		}
	}
	return h.fn(ctx, scope, args)
}

type Catalog struct {
	handlers map[string]handler
	tracker  Deliverer
}

func newCatalog(tracker Deliverer) *Catalog {
	return &Catalog{handlers: make(map[string]handler), tracker: tracker}
}

func register[A any](c *Catalog, info *schema.ToolInfo, fn func(ctx context.Context, scope Scope, args A) (string, error)) {
	c.handlers[info.Name] = typedHandler[A]{tool: info, fn: fn}
}

// Infos returns the tool schemas sorted by name.
func (c *Catalog) Infos() []*schema.ToolInfo {
	names := c.Names()
	out := make([]*schema.ToolInfo, 0, len(names))
	for _, name := range names {
		out = append(out, c.handlers[name].info())
	}
	return out
}

func (c *Catalog) Names() []string {
	names := make([]string, 0, len(c.handlers))
	for name := range c.handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Execute dispatches by tool name. Business and collaborator failures come back in
// Result.Error so the conversation can continue; only cancellation is returned as an error.
func (c *Catalog) Execute(ctx context.Context, name string, rawArgs string) (Result, error) {
	h, ok := c.handlers[name]
	if !ok {
		return Result{Tool: name, Error: fmt.Sprintf("tool=%s is not available", name)}, nil
	}

	scope, ok := ScopeFromCtx(ctx)
	if !ok {
		return Result{Tool: name, Error: "no active conversation for this tool call"}, nil
	}
	// A late call from a timed-out attempt must not act on a finished turn.
	if !c.tracker.Tracked(scope.RequestID) {
		log.Warn().Str("tool", name).Str("request_id", scope.RequestID).Msg("tool_call_after_turn_ended")
		return Result{Tool: name, Error: "this conversation turn already ended, no action was taken"}, nil
	}

	logger := log.With().Str("tool", name).Str("request_id", scope.RequestID).Logger()
	text, err := h.run(ctx, scope, rawArgs)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
			return Result{Tool: name}, err
		}
		logger.Warn().Err(err).Msg("tool_failed")
		return Result{Tool: name, Error: describeError(err)}, nil
	}
	logger.Debug().Msg("tool_succeeded")
	return Result{Tool: name, Text: text}, nil
}

func describeError(err error) string {
	switch {
	case errors.Is(err, contractx.ErrValidation):
		return err.Error() + ". Ask the customer for the missing or corrected information."
	case errors.Is(err, contractx.ErrCollaborator):
		return err.Error() + ". The system could not complete this action right now."
	default:
		return err.Error()
	}
}

package tool

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cloudwego/eino/schema"

	contractx "github.com/tanpawarit/Chative-Booking-Agent/agent/contract"
	"github.com/tanpawarit/Chative-Booking-Agent/agent/scheduling"
)

const defaultDurationMinutes = 60

// Deliverer runs a send at most once per request id and knows which requests are in flight.
type Deliverer interface {
	Deliver(requestID, text string, send func() error) error
	Tracked(requestID string) bool
}

type Deps struct {
	Tracker   Deliverer
	Messenger contractx.Messenger
	Scheduler *scheduling.Scheduler
}

// New builds the dispatch table. Calendar tools are only registered when a scheduler is given.
func New(deps Deps) (*Catalog, error) {
	if deps.Tracker == nil || deps.Messenger == nil {
		return nil, fmt.Errorf("%w: tracker and messenger are required", contractx.ErrValidation)
	}

	c := newCatalog(deps.Tracker)
	register(c, sendMessageInfo, sendMessage(deps.Tracker, deps.Messenger))

	if s := deps.Scheduler; s != nil {
		register(c, checkAvailabilityInfo, checkAvailability(s))
		register(c, scheduleAppointmentInfo, scheduleAppointment(s))
		register(c, listAppointmentsInfo, listAppointments(s))
		register(c, rescheduleAppointmentInfo, rescheduleAppointment(s))
		register(c, cancelAppointmentInfo, cancelAppointment(s))
	}
	return c, nil
}

/* ------------------------------ send_message ----------------------------- */

type SendMessageArgs struct {
	Message string `json:"message"`
}

var sendMessageInfo = &schema.ToolInfo{
	Name: ToolSendMessage,
	Desc: "Send a text message to the customer in the current conversation. Call it exactly once per turn with the final reply.",
	ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
		"message": {Type: schema.String, Desc: "Exact text to send", Required: true},
	}),
}

func sendMessage(tracker Deliverer, messenger contractx.Messenger) func(context.Context, Scope, SendMessageArgs) (string, error) {
	return func(ctx context.Context, scope Scope, args SendMessageArgs) (string, error) {
		text := args.Message
		if scope.ForcedText != "" {
			text = scope.ForcedText
		}
		if strings.TrimSpace(text) == "" {
			return "", fmt.Errorf("%w: message is empty", contractx.ErrValidation)
		}

		err := tracker.Deliver(scope.RequestID, text, func() error {
			_, err := messenger.Send(ctx, contractx.SendRequest{
				Channel:     scope.Channel,
				SessionID:   scope.OwnerID,
				RecipientID: scope.RecipientID,
				Text:        text,
			})
			return err
		})
		switch {
		case errors.Is(err, contractx.ErrAlreadyDelivered):
			return "The reply for this turn was already sent. Do not send it again.", nil
		case errors.Is(err, contractx.ErrUntrackedRequest):
			return "", fmt.Errorf("%w: this conversation turn already ended, the message was not sent", contractx.ErrCollaborator)
		case err != nil:
			return "", err
		}
		return fmt.Sprintf("Message sent successfully to %s.", scope.RecipientID), nil
	}
}

/* ---------------------------- calendar tools ---------------------------- */

var (
	dateParam = &schema.ParameterInfo{Type: schema.String, Desc: "Date as YYYY-MM-DD", Required: true}
	timeParam = &schema.ParameterInfo{Type: schema.String, Desc: "Start time as HH:MM (24h, local time)", Required: true}
)

type CheckAvailabilityArgs struct {
	Date string `json:"date"`
	Time string `json:"time"`
}

var checkAvailabilityInfo = &schema.ToolInfo{
	Name: ToolCheckAvailability,
	Desc: "Check whether a date and time is free and inside business hours. Never books anything.",
	ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
		"date": dateParam,
		"time": timeParam,
	}),
}

func checkAvailability(s *scheduling.Scheduler) func(context.Context, Scope, CheckAvailabilityArgs) (string, error) {
	return func(ctx context.Context, scope Scope, args CheckAvailabilityArgs) (string, error) {
		start, err := parseLocal(args.Date, args.Time, s.Location())
		if err != nil {
			return "", err
		}
		out, err := s.CheckAvailability(ctx, scope.OwnerID, start)
		if err != nil {
			return "", err
		}
		return out.Text, nil
	}
}

type ScheduleAppointmentArgs struct {
	Name            string `json:"name"`
	Email           string `json:"email"`
	Date            string `json:"date"`
	Time            string `json:"time"`
	DurationMinutes int    `json:"duration_minutes,omitempty"`
	Description     string `json:"description,omitempty"`
}

var scheduleAppointmentInfo = &schema.ToolInfo{
	Name: ToolScheduleAppointment,
	Desc: "Book an appointment. Only call after check_availability reported the slot free AND the customer explicitly confirmed it.",
	ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
		"name":             {Type: schema.String, Desc: "Customer full name", Required: true},
		"email":            {Type: schema.String, Desc: "Customer email", Required: true},
		"date":             dateParam,
		"time":             timeParam,
		"duration_minutes": {Type: schema.Integer, Desc: "Duration in minutes, default 60"},
		"description":      {Type: schema.String, Desc: "Short reason for the appointment"},
	}),
}

func scheduleAppointment(s *scheduling.Scheduler) func(context.Context, Scope, ScheduleAppointmentArgs) (string, error) {
	return func(ctx context.Context, scope Scope, args ScheduleAppointmentArgs) (string, error) {
		start, err := parseLocal(args.Date, args.Time, s.Location())
		if err != nil {
			return "", err
		}
		out, err := s.Book(ctx, scope.OwnerID, contractx.SchedulingRequest{
			SubjectName:  strings.TrimSpace(args.Name),
			SubjectEmail: strings.TrimSpace(args.Email),
			Start:        start,
			End:          start.Add(duration(args.DurationMinutes)),
			Description:  strings.TrimSpace(args.Description),
			ServiceType:  scope.ServiceType,
			Address:      scope.Address,
		})
		if err != nil {
			return "", err
		}
		return out.Text, nil
	}
}

type ListAppointmentsArgs struct {
	Email string `json:"email"`
}

var listAppointmentsInfo = &schema.ToolInfo{
	Name: ToolListAppointments,
	Desc: "List the customer's upcoming appointments, numbered.",
	ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
		"email": {Type: schema.String, Desc: "Customer email used when booking", Required: true},
	}),
}

func listAppointments(s *scheduling.Scheduler) func(context.Context, Scope, ListAppointmentsArgs) (string, error) {
	return func(ctx context.Context, scope Scope, args ListAppointmentsArgs) (string, error) {
		out, err := s.Search(ctx, scope.OwnerID, args.Email)
		if err != nil {
			return "", err
		}
		return out.Text, nil
	}
}

type RescheduleAppointmentArgs struct {
	Email           string `json:"email"`
	Date            string `json:"date"`
	Time            string `json:"time"`
	DurationMinutes int    `json:"duration_minutes,omitempty"`
	Option          int    `json:"option,omitempty"`
}

var rescheduleAppointmentInfo = &schema.ToolInfo{
	Name: ToolRescheduleAppointment,
	Desc: "Move an existing appointment to a new date and time. If the customer has several appointments the tool lists them; ask which number and call again with option.",
	ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
		"email":            {Type: schema.String, Desc: "Customer email used when booking", Required: true},
		"date":             dateParam,
		"time":             timeParam,
		"duration_minutes": {Type: schema.Integer, Desc: "Duration in minutes, default 60"},
		"option":           {Type: schema.Integer, Desc: "Number of the appointment chosen from the latest list"},
	}),
}

func rescheduleAppointment(s *scheduling.Scheduler) func(context.Context, Scope, RescheduleAppointmentArgs) (string, error) {
	return func(ctx context.Context, scope Scope, args RescheduleAppointmentArgs) (string, error) {
		start, err := parseLocal(args.Date, args.Time, s.Location())
		if err != nil {
			return "", err
		}
		out, err := s.Reschedule(ctx, scope.OwnerID, scheduling.RescheduleRequest{
			SubjectEmail: args.Email,
			Ordinal:      args.Option,
			Start:        start,
			End:          start.Add(duration(args.DurationMinutes)),
			ServiceType:  scope.ServiceType,
			Address:      scope.Address,
		})
		if err != nil {
			return "", err
		}
		return out.Text, nil
	}
}

type CancelAppointmentArgs struct {
	Email  string `json:"email"`
	Option int    `json:"option,omitempty"`
}

var cancelAppointmentInfo = &schema.ToolInfo{
	Name: ToolCancelAppointment,
	Desc: "Cancel an existing appointment. If the customer has several appointments the tool lists them; ask which number and call again with option.",
	ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
		"email":  {Type: schema.String, Desc: "Customer email used when booking", Required: true},
		"option": {Type: schema.Integer, Desc: "Number of the appointment chosen from the latest list"},
	}),
}

func cancelAppointment(s *scheduling.Scheduler) func(context.Context, Scope, CancelAppointmentArgs) (string, error) {
	return func(ctx context.Context, scope Scope, args CancelAppointmentArgs) (string, error) {
		out, err := s.Cancel(ctx, scope.OwnerID, args.Email, args.Option)
		if err != nil {
			return "", err
		}
		return out.Text, nil
	}
}

var dateLayouts = []string{"2006-01-02", "02/01/2006"}

func parseLocal(date, clock string, loc *time.Location) (time.Time, error) {
	date = strings.TrimSpace(date)
	clock = strings.TrimSpace(clock)
	if date == "" || clock == "" {
		return time.Time{}, fmt.Errorf("%w: date and time are required", contractx.ErrValidation)
	}
	for _, layout := range dateLayouts {
		if t, err := time.ParseInLocation(layout+" 15:04", date+" "+clock, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: cannot read date %q and time %q, use YYYY-MM-DD and HH:MM", contractx.ErrValidation, date, clock)
}

func duration(minutes int) time.Duration {
	if minutes <= 0 {
		minutes = defaultDurationMinutes
	}
	return time.Duration(minutes) * time.Minute
}

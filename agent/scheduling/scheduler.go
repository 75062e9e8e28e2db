package scheduling

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	contractx "github.com/tanpawarit/Chative-Booking-Agent/agent/contract"
	"github.com/tanpawarit/Chative-Booking-Agent/agent/disambiguation"
)

const (
	dateLayout = "02/01/2006"
	timeLayout = "15:04"
)

type Config struct {
	MinLeadTime time.Duration `envconfig:"MIN_LEAD_TIME" split_words:"true" default:"2h"`
	Timezone    string        `envconfig:"TIMEZONE" split_words:"true" default:"America/Sao_Paulo"`
}

func (c Config) Location() (*time.Location, error) {
	name := strings.TrimSpace(c.Timezone)
	if name == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("%w: timezone %q: %v", contractx.ErrValidation, name, err)
	}
	return loc, nil
}

// Outcome is what a scheduling step hands back to the agent. Business-rule failures are
// carried in Verdict, never as errors.
type Outcome struct {
	Verdict    contractx.Verdict
	Booking    *contractx.Booking
	Resolution *disambiguation.Resolution
	Text       string
}

type Scheduler struct {
	calendar contractx.Calendar
	minLead  time.Duration
	loc      *time.Location
	now      func() time.Time
}

type Option func(*Scheduler)

func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) {
		if now != nil {
			s.now = now
		}
	}
}

func New(calendar contractx.Calendar, cfg Config, opts ...Option) (*Scheduler, error) {
	if calendar == nil {
		return nil, fmt.Errorf("%w: calendar is required", contractx.ErrValidation)
	}
	if cfg.MinLeadTime < 0 {
		return nil, fmt.Errorf("%w: min lead time must be >= 0", contractx.ErrValidation)
	}
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	s := &Scheduler{
		calendar: calendar,
		minLead:  cfg.MinLeadTime,
		loc:      loc,
		now:      time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s, nil
}

func (s *Scheduler) Location() *time.Location {
	return s.loc
}

// leadCheck is the local fast-fail guard. The backend re-validates lead time on its own.
func (s *Scheduler) leadCheck(start time.Time) (contractx.Verdict, bool) {
	minimum := s.now().Add(s.minLead)
	if start.Before(minimum) {
		return contractx.TooSoon(minimum), false
	}
	return contractx.Available(), true
}

// CheckAvailability is the verify step. It never mutates the calendar.
func (s *Scheduler) CheckAvailability(ctx context.Context, ownerID string, start time.Time) (Outcome, error) {
	if err := requireOwner(ownerID); err != nil {
		return Outcome{}, err
	}
	if v, ok := s.leadCheck(start); !ok {
		return s.verdictOutcome(v, start), nil
	}

	v, err := s.calendar.CheckAvailability(ctx, ownerID, start)
	if err != nil {
		return Outcome{}, err
	}
	return s.verdictOutcome(v, start), nil
}

// Book commits a slot the customer already confirmed. A conflict found at commit time is
// reported with the same verdict vocabulary as the verify step.
func (s *Scheduler) Book(ctx context.Context, ownerID string, req contractx.SchedulingRequest) (Outcome, error) {
	if err := requireOwner(ownerID); err != nil {
		return Outcome{}, err
	}
	if err := validateRequest(req); err != nil {
		return Outcome{}, err
	}
	if v, ok := s.leadCheck(req.Start); !ok {
		return s.verdictOutcome(v, req.Start), nil
	}

	booking, v, err := s.calendar.Schedule(ctx, ownerID, req)
	if err != nil {
		return Outcome{}, err
	}
	if !v.OK() {
		return s.verdictOutcome(v, req.Start), nil
	}

	if booking.Address == "" && req.ServiceType == contractx.ServiceInPerson {
		booking.Address = strings.TrimSpace(req.Address)
	}
	log.Info().Str("owner_id", ownerID).Str("event_id", booking.EventID).Msg("appointment_booked")
	return Outcome{
		Verdict: v,
		Booking: &booking,
		Text:    s.bookedText("Appointment booked", req.ServiceType, booking, req.Start),
	}, nil
}

// Search lists the subject's appointments, numbered for a later selection.
func (s *Scheduler) Search(ctx context.Context, ownerID, email string) (Outcome, error) {
	if err := requireOwner(ownerID); err != nil {
		return Outcome{}, err
	}
	email = strings.TrimSpace(email)
	if email == "" {
		return Outcome{}, fmt.Errorf("%w: email is required", contractx.ErrValidation)
	}
	candidates, err := s.calendar.SearchBySubjectEmail(ctx, ownerID, email)
	if err != nil {
		return Outcome{}, err
	}
	res := disambiguation.Resolve(email, candidates, 0)
	if res.State == disambiguation.StateZeroMatch {
		return Outcome{Resolution: &res, Text: res.Message(s.loc)}, nil
	}
	text := fmt.Sprintf("Appointments for %s:\n%s", email, strings.TrimRight(disambiguation.List(res.Candidates, s.loc), "\n"))
	return Outcome{Resolution: &res, Text: text}, nil
}

type RescheduleRequest struct {
	SubjectEmail string
	Ordinal      int
	Start        time.Time
	End          time.Time
	ServiceType  contractx.ServiceType
	Address      string
}

// Reschedule runs the lead-time guard, then disambiguation, then the commit.
func (s *Scheduler) Reschedule(ctx context.Context, ownerID string, req RescheduleRequest) (Outcome, error) {
	if err := requireOwner(ownerID); err != nil {
		return Outcome{}, err
	}
	if !req.End.After(req.Start) {
		return Outcome{}, fmt.Errorf("%w: end must be after start", contractx.ErrValidation)
	}
	if v, ok := s.leadCheck(req.Start); !ok {
		return s.verdictOutcome(v, req.Start), nil
	}

	var out Outcome
	search := func(ctx context.Context, key string) ([]contractx.CandidateRecord, error) {
		return s.calendar.SearchBySubjectEmail(ctx, ownerID, key)
	}
	act := func(ctx context.Context, target contractx.CandidateRecord) (string, error) {
		booking, v, err := s.calendar.Reschedule(ctx, ownerID, target.ID, req.Start, req.End)
		if err != nil {
			return "", err
		}
		if !v.OK() {
			out = s.verdictOutcome(v, req.Start)
			return out.Text, nil
		}
		if booking.Address == "" && req.ServiceType == contractx.ServiceInPerson {
			booking.Address = strings.TrimSpace(req.Address)
		}
		log.Info().Str("owner_id", ownerID).Str("event_id", target.ID).Msg("appointment_rescheduled")
		out = Outcome{Verdict: v, Booking: &booking, Text: s.bookedText("Appointment rescheduled", req.ServiceType, booking, req.Start)}
		return out.Text, nil
	}

	res, text, err := disambiguation.Run(ctx, search, req.SubjectEmail, req.Ordinal, act, s.loc)
	if err != nil {
		return Outcome{}, err
	}
	out.Resolution = &res
	out.Text = text
	return out, nil
}

func (s *Scheduler) Cancel(ctx context.Context, ownerID, email string, ordinal int) (Outcome, error) {
	if err := requireOwner(ownerID); err != nil {
		return Outcome{}, err
	}
	act := func(ctx context.Context, target contractx.CandidateRecord) (string, error) {
		if err := s.calendar.Cancel(ctx, ownerID, target.ID); err != nil {
			return "", err
		}
		log.Info().Str("owner_id", ownerID).Str("event_id", target.ID).Msg("appointment_cancelled")
		return fmt.Sprintf("Appointment cancelled: %s.", s.describe(target)), nil
	}
	search := func(ctx context.Context, key string) ([]contractx.CandidateRecord, error) {
		return s.calendar.SearchBySubjectEmail(ctx, ownerID, key)
	}

	res, text, err := disambiguation.Run(ctx, search, email, ordinal, act, s.loc)
	if err != nil {
		return Outcome{}, err
	}
	return Outcome{Resolution: &res, Text: text}, nil
}

func (s *Scheduler) verdictOutcome(v contractx.Verdict, start time.Time) Outcome {
	return Outcome{Verdict: v, Text: s.RenderVerdict(v, start)}
}

// RenderVerdict turns a verdict into text the agent can act on.
func (s *Scheduler) RenderVerdict(v contractx.Verdict, start time.Time) string {
	switch v.Kind {
	case contractx.VerdictAvailable:
		return fmt.Sprintf("The slot on %s is available. Confirm it with the customer before booking.", s.stamp(start))
	case contractx.VerdictOutsideBusinessHours:
		hours := v.BusinessHours
		if hours == "" {
			hours = "not informed"
		}
		return fmt.Sprintf("%s is outside business hours. Business hours: %s. Offer a time inside these hours.", s.stamp(start), hours)
	case contractx.VerdictConflict:
		if len(v.Suggestions) == 0 {
			return fmt.Sprintf("%s is already taken and no alternative slots were returned. Ask the customer for another day or time.", s.stamp(start))
		}
		var b strings.Builder
		fmt.Fprintf(&b, "%s is already taken. Available alternatives:", s.stamp(start))
		for i, slot := range v.Suggestions {
			fmt.Fprintf(&b, "\n%d. %s", i+1, s.stamp(slot.Start))
		}
		return b.String()
	case contractx.VerdictTooSoon:
		return fmt.Sprintf("Appointments need at least %s notice. The earliest allowed time is %s.", formatLead(s.minLead), s.stamp(v.MinimumAllowed))
	default:
		return fmt.Sprintf("Unknown availability result %q.", v.Kind)
	}
}

func (s *Scheduler) bookedText(prefix string, service contractx.ServiceType, booking contractx.Booking, start time.Time) string {
	text := fmt.Sprintf("%s for %s.", prefix, s.stamp(start))
	switch {
	case service == contractx.ServiceInPerson && booking.Address != "":
		text += " Address: " + booking.Address
	case booking.MeetingLink != "":
		text += " Meeting link: " + booking.MeetingLink
	case booking.Address != "":
		text += " Address: " + booking.Address
	}
	return text
}

func (s *Scheduler) stamp(t time.Time) string {
	local := t.In(s.loc)
	return local.Format(dateLayout) + " at " + local.Format(timeLayout)
}

func (s *Scheduler) describe(c contractx.CandidateRecord) string {
	summary := strings.TrimSpace(c.Summary)
	if summary == "" {
		summary = "Appointment"
	}
	if c.Start.IsZero() {
		return summary
	}
	return summary + " on " + s.stamp(c.Start)
}

func formatLead(d time.Duration) string {
	if d%time.Hour == 0 {
		return fmt.Sprintf("%dh", int(d/time.Hour))
	}
	return d.String()
}

func requireOwner(ownerID string) error {
	if strings.TrimSpace(ownerID) == "" {
		return fmt.Errorf("%w: owner id is required", contractx.ErrValidation)
	}
	return nil
}

func validateRequest(req contractx.SchedulingRequest) error {
	if strings.TrimSpace(req.SubjectName) == "" {
		return fmt.Errorf("%w: customer name is required", contractx.ErrValidation)
	}
	if strings.TrimSpace(req.SubjectEmail) == "" {
		return fmt.Errorf("%w: customer email is required", contractx.ErrValidation)
	}
	if !req.End.After(req.Start) {
		return fmt.Errorf("%w: end must be after start", contractx.ErrValidation)
	}
	return nil
}

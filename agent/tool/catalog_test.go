package tool

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	contractx "github.com/tanpawarit/Chative-Booking-Agent/agent/contract"
	"github.com/tanpawarit/Chative-Booking-Agent/agent/delivery"
	"github.com/tanpawarit/Chative-Booking-Agent/agent/scheduling"
)

type fakeMessenger struct {
	mu   sync.Mutex
	sent []contractx.SendRequest
	err  error
}

func (f *fakeMessenger) Send(_ context.Context, req contractx.SendRequest) (contractx.SendResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return contractx.SendResult{}, f.err
	}
	f.sent = append(f.sent, req)
	return contractx.SendResult{MessageID: "m-1"}, nil
}

type fakeCalendar struct {
	verdict    contractx.Verdict
	booking    contractx.Booking
	candidates []contractx.CandidateRecord
	scheduled  []contractx.SchedulingRequest
	checkedAt  []time.Time
	cancelled  []string
}

func (f *fakeCalendar) CheckAvailability(_ context.Context, _ string, start time.Time) (contractx.Verdict, error) {
	f.checkedAt = append(f.checkedAt, start)
	return f.verdict, nil
}

func (f *fakeCalendar) Schedule(_ context.Context, _ string, req contractx.SchedulingRequest) (contractx.Booking, contractx.Verdict, error) {
	f.scheduled = append(f.scheduled, req)
	return f.booking, f.verdict, nil
}

func (f *fakeCalendar) SearchBySubjectEmail(context.Context, string, string) ([]contractx.CandidateRecord, error) {
	return f.candidates, nil
}

func (f *fakeCalendar) Reschedule(context.Context, string, string, time.Time, time.Time) (contractx.Booking, contractx.Verdict, error) {
	return f.booking, f.verdict, nil
}

func (f *fakeCalendar) Cancel(_ context.Context, _ string, eventID string) error {
	f.cancelled = append(f.cancelled, eventID)
	return nil
}

var testNow = time.Date(2026, 3, 9, 12, 0, 0, 0, time.UTC)

func newTestCatalog(t *testing.T, tracker *delivery.Tracker, messenger *fakeMessenger, cal *fakeCalendar) *Catalog {
	t.Helper()
	deps := Deps{Tracker: tracker, Messenger: messenger}
	if cal != nil {
		s, err := scheduling.New(cal, scheduling.Config{MinLeadTime: 2 * time.Hour, Timezone: "UTC"},
			scheduling.WithClock(func() time.Time { return testNow }))
		if err != nil {
			t.Fatalf("scheduling.New() error = %v", err)
		}
		deps.Scheduler = s
	}
	c, err := New(deps)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return c
}

// newTrackedCatalog builds a catalog whose tracker already has req-1 in flight.
func newTrackedCatalog(t *testing.T, messenger *fakeMessenger, cal *fakeCalendar) *Catalog {
	t.Helper()
	tracker := delivery.NewTracker()
	release, err := tracker.Begin("req-1")
	if err != nil {
		t.Fatalf("Begin() error = %v", err)
	}
	t.Cleanup(release)
	return newTestCatalog(t, tracker, messenger, cal)
}

func scopedCtx(requestID string) context.Context {
	return WithScope(context.Background(), Scope{
		RequestID:   requestID,
		Channel:     contractx.ChannelWhatsApp,
		OwnerID:     "instance_1",
		RecipientID: "5531@s.whatsapp.net",
		ServiceType: contractx.ServiceInPerson,
		Address:     "Rua das Flores, 100",
	})
}

func TestNewRegistersCalendarToolsOnlyWithScheduler(t *testing.T) {
	t.Parallel()

	c := newTestCatalog(t, delivery.NewTracker(), &fakeMessenger{}, nil)
	if names := c.Names(); len(names) != 1 || names[0] != ToolSendMessage {
		t.Fatalf("unexpected tools: %v", names)
	}

	c = newTestCatalog(t, delivery.NewTracker(), &fakeMessenger{}, &fakeCalendar{})
	infos := c.Infos()
	if len(infos) != 6 {
		t.Fatalf("expected 6 tool infos, got %d", len(infos))
	}
	if infos[0].Name != ToolCancelAppointment {
		t.Fatalf("infos must be sorted by name, first=%s", infos[0].Name)
	}
	if len(c.EinoTools()) != 6 {
		t.Fatalf("expected 6 eino tools")
	}
}

func TestNewRequiresDeps(t *testing.T) {
	t.Parallel()

	if _, err := New(Deps{}); !errors.Is(err, contractx.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}

func TestExecuteUnknownTool(t *testing.T) {
	t.Parallel()

	c := newTestCatalog(t, delivery.NewTracker(), &fakeMessenger{}, nil)
	out, err := c.Execute(scopedCtx("req-1"), "math.evaluate", `{}`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Error == "" {
		t.Fatal("expected non-empty error message")
	}
}

func TestExecuteWithoutScope(t *testing.T) {
	t.Parallel()

	messenger := &fakeMessenger{}
	c := newTestCatalog(t, delivery.NewTracker(), messenger, nil)
	out, err := c.Execute(context.Background(), ToolSendMessage, `{"message":"oi"}`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Error == "" || len(messenger.sent) != 0 {
		t.Fatalf("expected refusal without scope, got %+v sent=%d", out, len(messenger.sent))
	}
}

func TestSendMessageFlipsTrackerAndSendsOnce(t *testing.T) {
	t.Parallel()

	tracker := delivery.NewTracker()
	release, err := tracker.Begin("req-1")
	if err != nil {
		t.Fatalf("Begin() error = %v", err)
	}
	defer release()

	messenger := &fakeMessenger{}
	c := newTestCatalog(t, tracker, messenger, nil)
	ctx := scopedCtx("req-1")

	text := "  Olá Ana!\nSeu horário está confirmado.  "
	args := `{"message":"  Olá Ana!\nSeu horário está confirmado.  "}`
	out, err := c.Execute(ctx, ToolSendMessage, args)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if out.Error != "" {
		t.Fatalf("unexpected tool error: %s", out.Error)
	}
	if !tracker.Sent("req-1") {
		t.Fatal("tracker must record the send")
	}

	out, err = c.Execute(ctx, ToolSendMessage, args)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if !strings.Contains(out.Text, "already sent") {
		t.Fatalf("second send must be refused, got %+v", out)
	}

	if len(messenger.sent) != 1 {
		t.Fatalf("sent=%d, want 1", len(messenger.sent))
	}
	got := messenger.sent[0]
	if got.Text != text {
		t.Fatalf("text must be sent verbatim, got %q", got.Text)
	}
	if got.SessionID != "instance_1" || got.RecipientID != "5531@s.whatsapp.net" || got.Channel != contractx.ChannelWhatsApp {
		t.Fatalf("unexpected send request: %+v", got)
	}
}

func TestSendMessageForcedTextOverridesModelText(t *testing.T) {
	t.Parallel()

	tracker := delivery.NewTracker()
	release, _ := tracker.Begin("req-1")
	defer release()

	messenger := &fakeMessenger{}
	c := newTestCatalog(t, tracker, messenger, nil)
	ctx := WithScope(context.Background(), Scope{
		RequestID:   "req-1",
		Channel:     contractx.ChannelInstagram,
		OwnerID:     "ig_1",
		RecipientID: "178414",
		ForcedText:  "Perfeito, até amanhã!",
	})

	out, err := c.Execute(ctx, ToolSendMessage, `{"message":"Perfeito, ate amanha"}`)
	if err != nil || out.Error != "" {
		t.Fatalf("Execute() = %+v, %v", out, err)
	}
	if len(messenger.sent) != 1 || messenger.sent[0].Text != "Perfeito, até amanhã!" {
		t.Fatalf("forced text must be sent verbatim, got %+v", messenger.sent)
	}
}

func TestSendMessageRelayFailureIsToolError(t *testing.T) {
	t.Parallel()

	tracker := delivery.NewTracker()
	release, _ := tracker.Begin("req-1")
	defer release()

	messenger := &fakeMessenger{err: errors.New("relay 500")}
	c := newTestCatalog(t, tracker, messenger, nil)

	out, err := c.Execute(scopedCtx("req-1"), ToolSendMessage, `{"message":"oi"}`)
	if err != nil {
		t.Fatalf("relay failures must not abort the agent: %v", err)
	}
	if out.Error == "" {
		t.Fatal("expected tool error")
	}
	if tracker.Sent("req-1") {
		t.Fatal("failed send must not flip the tracker")
	}
}

func TestSendMessageAfterTurnEndedIsRefused(t *testing.T) {
	t.Parallel()

	tracker := delivery.NewTracker()
	release, _ := tracker.Begin("req-1")
	release()

	messenger := &fakeMessenger{}
	c := newTestCatalog(t, tracker, messenger, nil)

	out, _ := c.Execute(scopedCtx("req-1"), ToolSendMessage, `{"message":"late reply"}`)
	if out.Error == "" || len(messenger.sent) != 0 {
		t.Fatalf("late send must be refused, out=%+v sent=%d", out, len(messenger.sent))
	}
}

func TestSendMessageRejectsInvalidArgs(t *testing.T) {
	t.Parallel()

	tracker := delivery.NewTracker()
	release, _ := tracker.Begin("req-1")
	defer release()
	c := newTestCatalog(t, tracker, &fakeMessenger{}, nil)

	for _, args := range []string{`{"message":"   "}`, `{"message":`} {
		out, err := c.Execute(scopedCtx("req-1"), ToolSendMessage, args)
		if err != nil {
			t.Fatalf("Execute(%s) error = %v", args, err)
		}
		if out.Error == "" {
			t.Fatalf("Execute(%s) expected tool error", args)
		}
	}
}

func TestCheckAvailabilityParsesLocalTime(t *testing.T) {
	t.Parallel()

	cal := &fakeCalendar{verdict: contractx.Available()}
	c := newTrackedCatalog(t, &fakeMessenger{}, cal)

	out, err := c.Execute(scopedCtx("req-1"), ToolCheckAvailability, `{"date":"2026-03-10","time":"14:30"}`)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if out.Error != "" || !strings.Contains(out.Text, "available") {
		t.Fatalf("unexpected result: %+v", out)
	}
	want := time.Date(2026, 3, 10, 14, 30, 0, 0, time.UTC)
	if len(cal.checkedAt) != 1 || !cal.checkedAt[0].Equal(want) {
		t.Fatalf("checkedAt=%v, want %s", cal.checkedAt, want)
	}
}

func TestCheckAvailabilityBadDateIsToolError(t *testing.T) {
	t.Parallel()

	cal := &fakeCalendar{verdict: contractx.Available()}
	c := newTrackedCatalog(t, &fakeMessenger{}, cal)

	out, err := c.Execute(scopedCtx("req-1"), ToolCheckAvailability, `{"date":"tomorrow","time":"14h"}`)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if out.Error == "" || len(cal.checkedAt) != 0 {
		t.Fatalf("expected tool error without network call, out=%+v", out)
	}
}

func TestScheduleAppointmentUsesScopeServiceAndDefaultDuration(t *testing.T) {
	t.Parallel()

	cal := &fakeCalendar{verdict: contractx.Available(), booking: contractx.Booking{EventID: "evt-1"}}
	c := newTrackedCatalog(t, &fakeMessenger{}, cal)

	out, err := c.Execute(scopedCtx("req-1"), ToolScheduleAppointment,
		`{"name":"Ana","email":"ana@example.com","date":"2026-03-10","time":"14:00"}`)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if !strings.Contains(out.Text, "Rua das Flores, 100") {
		t.Fatalf("in-person booking must return the address: %+v", out)
	}
	if len(cal.scheduled) != 1 {
		t.Fatalf("scheduled=%d, want 1", len(cal.scheduled))
	}
	req := cal.scheduled[0]
	if req.End.Sub(req.Start) != time.Hour || req.ServiceType != contractx.ServiceInPerson {
		t.Fatalf("unexpected request: %+v", req)
	}
}

func TestCancelAppointmentAwaitsSelection(t *testing.T) {
	t.Parallel()

	cal := &fakeCalendar{candidates: []contractx.CandidateRecord{{ID: "a"}, {ID: "b"}, {ID: "c"}}}
	c := newTrackedCatalog(t, &fakeMessenger{}, cal)

	out, err := c.Execute(scopedCtx("req-1"), ToolCancelAppointment, `{"email":"ana@example.com"}`)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if !strings.Contains(out.Text, "3. ") || len(cal.cancelled) != 0 {
		t.Fatalf("expected enumerated list without mutation, out=%+v", out)
	}

	out, err = c.Execute(scopedCtx("req-1"), ToolCancelAppointment, `{"email":"ana@example.com","option":2}`)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if len(cal.cancelled) != 1 || cal.cancelled[0] != "b" {
		t.Fatalf("cancelled=%v, want [b]", cal.cancelled)
	}
}

func TestEinoToolInvokableRun(t *testing.T) {
	t.Parallel()

	tracker := delivery.NewTracker()
	release, _ := tracker.Begin("req-1")
	defer release()
	messenger := &fakeMessenger{}
	c := newTestCatalog(t, tracker, messenger, nil)

	tools := c.EinoTools()
	it, ok := tools[0].(*einoTool)
	if !ok {
		t.Fatalf("unexpected tool type %T", tools[0])
	}
	info, err := it.Info(context.Background())
	if err != nil || info.Name != ToolSendMessage {
		t.Fatalf("Info() = %v, %v", info, err)
	}
	out, err := it.InvokableRun(scopedCtx("req-1"), `{"message":"oi"}`)
	if err != nil {
		t.Fatalf("InvokableRun() error = %v", err)
	}
	if !strings.Contains(out, "sent successfully") || len(messenger.sent) != 1 {
		t.Fatalf("unexpected output %q", out)
	}
}

func TestCalendarToolAfterTurnEndedIsRefused(t *testing.T) {
	t.Parallel()

	tracker := delivery.NewTracker()
	release, _ := tracker.Begin("req-1")
	release()

	cal := &fakeCalendar{verdict: contractx.Available(), booking: contractx.Booking{EventID: "evt-1"}}
	c := newTestCatalog(t, tracker, &fakeMessenger{}, cal)

	out, err := c.Execute(scopedCtx("req-1"), ToolScheduleAppointment,
		`{"name":"Ana","email":"ana@example.com","date":"2026-03-10","time":"14:00"}`)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if out.Error == "" || len(cal.scheduled) != 0 || len(cal.checkedAt) != 0 {
		t.Fatalf("late booking must be refused without calendar calls, out=%+v", out)
	}
}

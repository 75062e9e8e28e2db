package calendar

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	contractx "github.com/tanpawarit/Chative-Booking-Agent/agent/contract"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := New(Config{URL: server.URL}, WithHTTPClient(server.Client()))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return client
}

func TestCheckAvailabilityMapsVerdicts(t *testing.T) {
	t.Parallel()

	cases := []struct {
		body    string
		want    contractx.VerdictKind
		wantErr bool
	}{
		{body: `{"success":true,"available":true}`, want: contractx.VerdictAvailable},
		{body: `{"success":false,"available":false,"reason":"outside_business_hours","businessHours":"09:00-18:00"}`, want: contractx.VerdictOutsideBusinessHours},
		{body: `{"success":false,"available":false,"reason":"conflict","suggestions":[{"start":"2026-03-10T14:00:00Z","end":"2026-03-10T15:00:00Z"}]}`, want: contractx.VerdictConflict},
		{body: `{"success":false,"reason":"too_soon","minimumTime":"2026-03-09T14:00:00Z"}`, want: contractx.VerdictTooSoon},
		{body: `{"success":false,"available":false}`, want: contractx.VerdictConflict},
		{body: `{"success":false,"error":"Google Calendar not connected"}`, wantErr: true},
		{body: `{"success":false,"available":false,"error":"Google Calendar not connected"}`, wantErr: true},
		{body: `{"success":false}`, wantErr: true},
	}

	for _, tc := range cases {
		body := tc.body
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path != availabilityPath {
				t.Errorf("path=%q", r.URL.Path)
			}
			fmt.Fprint(w, body)
		})
		v, err := client.CheckAvailability(context.Background(), "owner-1", time.Now().Add(24*time.Hour))
		if tc.wantErr {
			if !errors.Is(err, contractx.ErrCollaborator) {
				t.Fatalf("body=%s error = %v, want ErrCollaborator", tc.body, err)
			}
			if v.Kind == contractx.VerdictAvailable {
				t.Fatalf("body=%s mapped to available", tc.body)
			}
			continue
		}
		if err != nil {
			t.Fatalf("CheckAvailability() error = %v", err)
		}
		if v.Kind != tc.want {
			t.Fatalf("body=%s kind=%s, want %s", tc.body, v.Kind, tc.want)
		}
	}
}

func TestScheduleReturnsBooking(t *testing.T) {
	t.Parallel()

	var got map[string]any
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		defer r.Body.Close()
		_ = json.NewDecoder(r.Body).Decode(&got)
		fmt.Fprint(w, `{"success":true,"eventId":"evt-1","meetLink":"https://meet.example/x"}`)
	})

	start := time.Date(2026, 3, 10, 14, 0, 0, 0, time.UTC)
	booking, v, err := client.Schedule(context.Background(), "owner-1", contractx.SchedulingRequest{
		SubjectName:  "Ana",
		SubjectEmail: "ana@example.com",
		Start:        start,
		End:          start.Add(time.Hour),
		ServiceType:  contractx.ServiceOnline,
	})
	if err != nil {
		t.Fatalf("Schedule() error = %v", err)
	}
	if !v.OK() || booking.EventID != "evt-1" || booking.MeetingLink != "https://meet.example/x" {
		t.Fatalf("booking=%+v verdict=%+v", booking, v)
	}
	if got["email"] != "ana@example.com" || got["ownerId"] != "owner-1" {
		t.Fatalf("unexpected payload: %#v", got)
	}
}

func TestScheduleConflictStatusCarriesVerdict(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		fmt.Fprint(w, `{"success":false,"reason":"conflict"}`)
	})

	start := time.Date(2026, 3, 10, 14, 0, 0, 0, time.UTC)
	_, v, err := client.Schedule(context.Background(), "owner-1", contractx.SchedulingRequest{Start: start, End: start.Add(time.Hour)})
	if err != nil {
		t.Fatalf("Schedule() error = %v", err)
	}
	if v.Kind != contractx.VerdictConflict || len(v.Suggestions) != 0 {
		t.Fatalf("verdict=%+v", v)
	}
}

func TestSearchBySubjectEmailNumbersResults(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("email") != "ana@example.com" || r.URL.Query().Get("ownerId") != "owner-1" {
			t.Errorf("query=%q", r.URL.RawQuery)
		}
		fmt.Fprint(w, `{"success":true,"events":[{"id":"a","summary":"Consulta","start":"2026-03-10T14:00:00Z"},{"id":"b","summary":"Retorno","start":"2026-03-11T14:00:00Z"}]}`)
	})

	got, err := client.SearchBySubjectEmail(context.Background(), "owner-1", "ana@example.com")
	if err != nil {
		t.Fatalf("SearchBySubjectEmail() error = %v", err)
	}
	if len(got) != 2 || got[0].Ordinal != 1 || got[1].Ordinal != 2 || got[1].ID != "b" {
		t.Fatalf("unexpected candidates: %+v", got)
	}
}

func TestCancelFailure(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"success":false,"error":"event not found"}`)
	})

	err := client.Cancel(context.Background(), "owner-1", "evt-x")
	if !errors.Is(err, contractx.ErrCollaborator) {
		t.Fatalf("expected ErrCollaborator, got %v", err)
	}
}

func TestServerErrorIsCollaboratorError(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusBadGateway)
	})

	_, err := client.CheckAvailability(context.Background(), "owner-1", time.Now())
	if !errors.Is(err, contractx.ErrCollaborator) {
		t.Fatalf("expected ErrCollaborator, got %v", err)
	}
}

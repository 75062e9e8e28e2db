package calendar

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	contractx "github.com/tanpawarit/Chative-Booking-Agent/agent/contract"
)

const (
	availabilityPath     = "/api/internal/calendar/availability"
	schedulePath         = "/api/internal/calendar/schedule"
	eventsPath           = "/api/internal/calendar/events"
	reschedulePath       = "/api/internal/calendar/reschedule"
	cancelPath           = "/api/internal/calendar/cancel"
	maxResponseSizeBytes = 2 << 20
)

const (
	reasonOutsideBusinessHours = "outside_business_hours"
	reasonConflict             = "conflict"
	reasonTooSoon              = "too_soon"
)

type Config struct {
	URL     string        `envconfig:"URL" split_words:"true" default:"http://localhost:3003"`
	Token   string        `envconfig:"TOKEN" split_words:"true"`
	Timeout time.Duration `envconfig:"TIMEOUT" split_words:"true" default:"15s"`
}

type Option func(*Client)

func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// Client talks to the backend calendar endpoints. Business outcomes come back as
// verdicts; only transport or malformed responses are errors.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

var _ contractx.Calendar = (*Client)(nil)

type slotBody struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

type verdictBody struct {
	Success       bool       `json:"success"`
	Available     *bool      `json:"available,omitempty"`
	Reason        string     `json:"reason,omitempty"`
	BusinessHours string     `json:"businessHours,omitempty"`
	Suggestions   []slotBody `json:"suggestions,omitempty"`
	MinimumTime   time.Time  `json:"minimumTime,omitempty"`
	EventID       string     `json:"eventId,omitempty"`
	MeetLink      string     `json:"meetLink,omitempty"`
	Address       string     `json:"address,omitempty"`
	Error         string     `json:"error,omitempty"`
}

type eventBody struct {
	ID      string    `json:"id"`
	Summary string    `json:"summary"`
	Start   time.Time `json:"start"`
}

type eventsBody struct {
	Success bool        `json:"success"`
	Events  []eventBody `json:"events"`
	Error   string      `json:"error,omitempty"`
}

func New(cfg Config, opts ...Option) (*Client, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.URL), "/")
	if baseURL == "" {
		return nil, errors.New("backend url is required")
	}
	if _, err := url.ParseRequestURI(baseURL); err != nil {
		return nil, fmt.Errorf("invalid backend url: %w", err)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	c := &Client{
		baseURL:    baseURL,
		token:      strings.TrimSpace(cfg.Token),
		httpClient: &http.Client{Timeout: timeout},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c, nil
}

func MustNew(cfg Config, opts ...Option) *Client {
	c, err := New(cfg, opts...)
	if err != nil {
		panic(err)
	}
	return c
}

func (c *Client) CheckAvailability(ctx context.Context, ownerID string, start time.Time) (contractx.Verdict, error) {
	var body verdictBody
	err := c.exec(ctx, http.MethodPost, availabilityPath, map[string]any{
		"ownerId": ownerID,
		"start":   start.UTC(),
	}, &body)
	if err != nil {
		return contractx.Verdict{}, err
	}
	if body.failed() {
		return contractx.Verdict{}, fmt.Errorf("%w: check availability: %s", contractx.ErrCollaborator, body.failure())
	}
	return body.verdict(), nil
}

func (c *Client) Schedule(ctx context.Context, ownerID string, req contractx.SchedulingRequest) (contractx.Booking, contractx.Verdict, error) {
	var body verdictBody
	err := c.exec(ctx, http.MethodPost, schedulePath, map[string]any{
		"ownerId":     ownerID,
		"name":        req.SubjectName,
		"email":       req.SubjectEmail,
		"start":       req.Start.UTC(),
		"end":         req.End.UTC(),
		"description": req.Description,
		"serviceType": req.ServiceType,
	}, &body)
	if err != nil {
		return contractx.Booking{}, contractx.Verdict{}, err
	}
	return body.booking()
}

func (c *Client) SearchBySubjectEmail(ctx context.Context, ownerID string, email string) ([]contractx.CandidateRecord, error) {
	q := url.Values{}
	q.Set("ownerId", ownerID)
	q.Set("email", email)

	var body eventsBody
	if err := c.exec(ctx, http.MethodGet, eventsPath+"?"+q.Encode(), nil, &body); err != nil {
		return nil, err
	}
	if body.Error != "" {
		return nil, fmt.Errorf("%w: search events: %s", contractx.ErrCollaborator, body.Error)
	}

	out := make([]contractx.CandidateRecord, 0, len(body.Events))
	for i, ev := range body.Events {
		out = append(out, contractx.CandidateRecord{
			ID:      ev.ID,
			Ordinal: i + 1,
			Summary: ev.Summary,
			Start:   ev.Start,
		})
	}
	return out, nil
}

func (c *Client) Reschedule(ctx context.Context, ownerID string, eventID string, start, end time.Time) (contractx.Booking, contractx.Verdict, error) {
	var body verdictBody
	err := c.exec(ctx, http.MethodPost, reschedulePath, map[string]any{
		"ownerId": ownerID,
		"eventId": eventID,
		"start":   start.UTC(),
		"end":     end.UTC(),
	}, &body)
	if err != nil {
		return contractx.Booking{}, contractx.Verdict{}, err
	}
	return body.booking()
}

func (c *Client) Cancel(ctx context.Context, ownerID string, eventID string) error {
	var body verdictBody
	err := c.exec(ctx, http.MethodPost, cancelPath, map[string]any{
		"ownerId": ownerID,
		"eventId": eventID,
	}, &body)
	if err != nil {
		return err
	}
	if !body.Success {
		return fmt.Errorf("%w: cancel event %s: %s", contractx.ErrCollaborator, eventID, body.Error)
	}
	return nil
}

// failed reports a body that carries no business outcome at all, such as
// {"success":false,"error":"Google Calendar not connected"}.
func (b verdictBody) failed() bool {
	if b.Success || b.Reason != "" {
		return false
	}
	return b.Available == nil || strings.TrimSpace(b.Error) != ""
}

func (b verdictBody) failure() string {
	if msg := strings.TrimSpace(b.Error); msg != "" {
		return msg
	}
	return "unsuccessful response without a verdict"
}

func (b verdictBody) verdict() contractx.Verdict {
	switch b.Reason {
	case reasonOutsideBusinessHours:
		return contractx.OutsideBusinessHours(b.BusinessHours)
	case reasonConflict:
		return contractx.Conflict(b.slots()...)
	case reasonTooSoon:
		return contractx.TooSoon(b.MinimumTime)
	}
	if b.Available != nil && !*b.Available {
		return contractx.Conflict(b.slots()...)
	}
	return contractx.Available()
}

func (b verdictBody) booking() (contractx.Booking, contractx.Verdict, error) {
	if b.failed() {
		return contractx.Booking{}, contractx.Verdict{}, fmt.Errorf("%w: %s", contractx.ErrCollaborator, b.failure())
	}
	v := b.verdict()
	if !v.OK() {
		return contractx.Booking{}, v, nil
	}
	if !b.Success {
		return contractx.Booking{}, contractx.Verdict{}, fmt.Errorf("%w: %s", contractx.ErrCollaborator, b.failure())
	}
	return contractx.Booking{EventID: b.EventID, MeetingLink: b.MeetLink, Address: b.Address}, v, nil
}

func (b verdictBody) slots() []contractx.Slot {
	out := make([]contractx.Slot, 0, len(b.Suggestions))
	for _, s := range b.Suggestions {
		out = append(out, contractx.Slot{Start: s.Start, End: s.End})
	}
	return out
}

func (c *Client) exec(ctx context.Context, method, path string, payload any, out any) error {
	var reader io.Reader
	if payload != nil {
		body, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal calendar payload: %w", err)
		}
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build calendar request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: execute calendar request: %v", contractx.ErrCollaborator, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSizeBytes))
	if err != nil {
		return fmt.Errorf("read calendar response: %w", err)
	}

	// 409 and 422 carry verdict bodies.
	if resp.StatusCode != http.StatusConflict && resp.StatusCode != http.StatusUnprocessableEntity &&
		(resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices) {
		return fmt.Errorf("%w: calendar http status=%d body=%s", contractx.ErrCollaborator, resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode calendar response: %w", err)
	}
	return nil
}

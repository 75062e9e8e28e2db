package contract

import (
	"strings"
	"time"
)

type Channel string

const (
	ChannelWhatsApp  Channel = "whatsapp"
	ChannelInstagram Channel = "instagram"
)

func (c Channel) Valid() bool {
	return c == ChannelWhatsApp || c == ChannelInstagram
}

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

type Turn struct {
	Role Role   `json:"role"`
	Text string `json:"text"`
}

type ServiceType string

const (
	ServiceOnline   ServiceType = "online"
	ServiceInPerson ServiceType = "in_person"
)

// Inbound is one webhook invocation. It is owned by a single request and never shared.
type Inbound struct {
	RequestID    string      `json:"request_id,omitempty"`
	Channel      Channel     `json:"channel"`
	OwnerID      string      `json:"owner_id"`
	RecipientID  string      `json:"recipient_id"`
	Message      string      `json:"message"`
	SystemPrompt string      `json:"system_prompt,omitempty"`
	History      []Turn      `json:"history,omitempty"`
	ServiceType  ServiceType `json:"service_type,omitempty"`
	Address      string      `json:"address,omitempty"`
	ReceivedAt   time.Time   `json:"received_at"`
	// Replay marks a turn re-delivered from the dead-letter queue.
	Replay bool `json:"replay,omitempty"`
}

type Reply struct {
	RequestID string `json:"request_id"`
	Text      string `json:"text"`
	Delivered bool   `json:"delivered"`
	Forced    bool   `json:"forced"`
	Attempts  int    `json:"attempts"`
}

type AgentRequest struct {
	Channel      Channel `json:"channel"`
	SystemPrompt string  `json:"system_prompt"`
	History      []Turn  `json:"history,omitempty"`
	Message      string  `json:"message"`
}

type SendRequest struct {
	Channel     Channel
	SessionID   string
	RecipientID string
	Text        string
}

type SendResult struct {
	MessageID string `json:"message_id,omitempty"`
	Detail    string `json:"detail,omitempty"`
}

/* ------------------------------- Calendar ------------------------------- */

type VerdictKind string

const (
	VerdictAvailable            VerdictKind = "available"
	VerdictOutsideBusinessHours VerdictKind = "outside_business_hours"
	VerdictConflict             VerdictKind = "conflict"
	VerdictTooSoon              VerdictKind = "too_soon"
)

type Slot struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Verdict is the tagged availability result. Only the fields of its Kind are meaningful.
type Verdict struct {
	Kind           VerdictKind `json:"kind"`
	BusinessHours  string      `json:"business_hours,omitempty"`
	Suggestions    []Slot      `json:"suggestions,omitempty"`
	MinimumAllowed time.Time   `json:"minimum_allowed,omitempty"`
}

func Available() Verdict {
	return Verdict{Kind: VerdictAvailable}
}

func OutsideBusinessHours(hours string) Verdict {
	return Verdict{Kind: VerdictOutsideBusinessHours, BusinessHours: strings.TrimSpace(hours)}
}

func Conflict(suggestions ...Slot) Verdict {
	return Verdict{Kind: VerdictConflict, Suggestions: suggestions}
}

func TooSoon(minimum time.Time) Verdict {
	return Verdict{Kind: VerdictTooSoon, MinimumAllowed: minimum}
}

func (v Verdict) OK() bool {
	return v.Kind == VerdictAvailable
}

// CandidateRecord is one search hit. Ordinal is only meaningful within the result it came from.
type CandidateRecord struct {
	ID      string    `json:"id"`
	Ordinal int       `json:"ordinal"`
	Summary string    `json:"summary"`
	Start   time.Time `json:"start"`
}

type SchedulingRequest struct {
	SubjectName  string      `json:"subject_name"`
	SubjectEmail string      `json:"subject_email"`
	Start        time.Time   `json:"start"`
	End          time.Time   `json:"end"`
	Description  string      `json:"description,omitempty"`
	ServiceType  ServiceType `json:"service_type,omitempty"`
	// Address is the owner's in-person location, used when the backend returns none.
	Address string `json:"address,omitempty"`
}

type Booking struct {
	EventID     string `json:"event_id,omitempty"`
	MeetingLink string `json:"meeting_link,omitempty"`
	Address     string `json:"address,omitempty"`
}

/* -------------------------------- Journal ------------------------------- */

type DeliveryRecord struct {
	RequestID   string
	Channel     Channel
	OwnerID     string
	RecipientID string
	Outcome     string
	Delivered   bool
	Forced      bool
	Attempts    int
	Error       string
	StartedAt   time.Time
	Duration    time.Duration
}

type HistoryKey struct {
	Channel Channel
	OwnerID string
	PeerID  string
}

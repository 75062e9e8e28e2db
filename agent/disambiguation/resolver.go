package disambiguation

import (
	"context"
	"fmt"
	"strings"
	"time"

	contractx "github.com/tanpawarit/Chative-Booking-Agent/agent/contract"
)

type State string

const (
	StateZeroMatch         State = "zero_match"
	StateSingleMatch       State = "single_match"
	StateAwaitingSelection State = "awaiting_selection"
	StateOrdinalOutOfRange State = "ordinal_out_of_range"
	StateSelected          State = "selected"
)

// Resolution is the outcome of resolving one freshly searched candidate list. Only
// StateSingleMatch and StateSelected carry a Target; the others mean no action may run.
type Resolution struct {
	State      State
	Key        string
	Candidates []contractx.CandidateRecord
	Target     *contractx.CandidateRecord
	Ordinal    int
}

func (r Resolution) Actionable() bool {
	return r.Target != nil && (r.State == StateSingleMatch || r.State == StateSelected)
}

// Resolve decides whether an operation over candidates can proceed. ordinal==0 means none
// was supplied. A supplied ordinal is always validated against 1..len(candidates), even
// when a single candidate would otherwise be picked implicitly.
func Resolve(key string, candidates []contractx.CandidateRecord, ordinal int) Resolution {
	list := renumber(candidates)
	res := Resolution{Key: key, Candidates: list, Ordinal: ordinal}

	switch {
	case len(list) == 0:
		res.State = StateZeroMatch
	case ordinal != 0 && (ordinal < 1 || ordinal > len(list)):
		res.State = StateOrdinalOutOfRange
	case ordinal != 0:
		res.State = StateSelected
		res.Target = &list[ordinal-1]
	case len(list) == 1:
		res.State = StateSingleMatch
		res.Target = &list[0]
	default:
		res.State = StateAwaitingSelection
	}
	return res
}

func renumber(candidates []contractx.CandidateRecord) []contractx.CandidateRecord {
	out := make([]contractx.CandidateRecord, len(candidates))
	for i, c := range candidates {
		c.Ordinal = i + 1
		out[i] = c
	}
	return out
}

type SearchFunc func(ctx context.Context, key string) ([]contractx.CandidateRecord, error)

type ActFunc func(ctx context.Context, target contractx.CandidateRecord) (string, error)

// Run searches afresh, resolves, and calls act only for an unambiguous target. Non-actionable
// outcomes are returned as text with a nil error.
func Run(ctx context.Context, search SearchFunc, key string, ordinal int, act ActFunc, loc *time.Location) (Resolution, string, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return Resolution{}, "", fmt.Errorf("%w: search key is required", contractx.ErrValidation)
	}

	candidates, err := search(ctx, key)
	if err != nil {
		return Resolution{}, "", err
	}

	res := Resolve(key, candidates, ordinal)
	if !res.Actionable() {
		return res, res.Message(loc), nil
	}

	text, err := act(ctx, *res.Target)
	if err != nil {
		return res, "", err
	}
	return res, text, nil
}

// Message renders non-actionable outcomes for the agent.
func (r Resolution) Message(loc *time.Location) string {
	switch r.State {
	case StateZeroMatch:
		return fmt.Sprintf("No appointment found for %s. Nothing was changed.", r.Key)
	case StateAwaitingSelection:
		var b strings.Builder
		fmt.Fprintf(&b, "Found %d appointments for %s. Ask the customer which one by number, then call again with that number. Nothing was changed yet.\n", len(r.Candidates), r.Key)
		b.WriteString(List(r.Candidates, loc))
		return strings.TrimRight(b.String(), "\n")
	case StateOrdinalOutOfRange:
		return fmt.Sprintf("Option %d is not valid. Choose a number between 1 and %d (valid range 1..%d). Nothing was changed.\n%s",
			r.Ordinal, len(r.Candidates), len(r.Candidates), strings.TrimRight(List(r.Candidates, loc), "\n"))
	case StateSingleMatch, StateSelected:
		if r.Target != nil {
			return fmt.Sprintf("Selected %d. %s", r.Target.Ordinal, describe(*r.Target, loc))
		}
	}
	return ""
}

// List enumerates candidates 1-based, one per line.
func List(candidates []contractx.CandidateRecord, loc *time.Location) string {
	var b strings.Builder
	for i, c := range candidates {
		fmt.Fprintf(&b, "%d. %s\n", i+1, describe(c, loc))
	}
	return b.String()
}

func describe(c contractx.CandidateRecord, loc *time.Location) string {
	summary := strings.TrimSpace(c.Summary)
	if summary == "" {
		summary = "Appointment"
	}
	if c.Start.IsZero() {
		return summary
	}
	if loc != nil {
		return fmt.Sprintf("%s on %s", summary, c.Start.In(loc).Format("02/01/2006 15:04"))
	}
	return fmt.Sprintf("%s on %s", summary, c.Start.Format("02/01/2006 15:04"))
}

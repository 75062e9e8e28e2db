package delivery

import (
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	contractx "github.com/tanpawarit/Chative-Booking-Agent/agent/contract"
)

type entry struct {
	// sendMu serialises sends for one request, including a late send from a timed-out attempt.
	sendMu sync.Mutex
	sent   atomic.Bool
	text   atomic.Pointer[string]
}

// Tracker records, per request id, whether the externally observable send already happened.
// Entries are independent; only insert/delete of a key takes the map lock.
type Tracker struct {
	mu      sync.Mutex
	entries map[string]*entry
}

func NewTracker() *Tracker {
	return &Tracker{entries: make(map[string]*entry, 64)}
}

// Begin registers requestID with sent=false. The returned release must be deferred by the
// caller; it removes the entry and is safe to call more than once.
func (t *Tracker) Begin(requestID string) (func(), error) {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return func() {}, fmt.Errorf("%w: request id is empty", contractx.ErrValidation)
	}

	t.mu.Lock()
	if _, exists := t.entries[requestID]; exists {
		t.mu.Unlock()
		return func() {}, fmt.Errorf("%w: request_id=%s", contractx.ErrDuplicateRequest, requestID)
	}
	e := &entry{}
	t.entries[requestID] = e
	t.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			t.mu.Lock()
			if cur, ok := t.entries[requestID]; ok && cur == e {
				delete(t.entries, requestID)
			}
			t.mu.Unlock()
		})
	}, nil
}

// Deliver runs send at most once per request id and remembers text as what was delivered.
// It fails with ErrAlreadyDelivered when a previous send succeeded and with
// ErrUntrackedRequest when the request already ended.
func (t *Tracker) Deliver(requestID, text string, send func() error) error {
	e, ok := t.lookup(requestID)
	if !ok {
		return fmt.Errorf("%w: request_id=%s", contractx.ErrUntrackedRequest, requestID)
	}

	e.sendMu.Lock()
	defer e.sendMu.Unlock()

	if e.sent.Load() {
		return fmt.Errorf("%w: request_id=%s", contractx.ErrAlreadyDelivered, requestID)
	}
	if err := send(); err != nil {
		return err
	}
	e.text.Store(&text)
	e.sent.Store(true)
	return nil
}

func (t *Tracker) Sent(requestID string) bool {
	e, ok := t.lookup(requestID)
	return ok && e.sent.Load()
}

// DeliveredText returns the text of the successful send, if one happened.
func (t *Tracker) DeliveredText(requestID string) (string, bool) {
	e, ok := t.lookup(requestID)
	if !ok || !e.sent.Load() {
		return "", false
	}
	if text := e.text.Load(); text != nil {
		return *text, true
	}
	return "", false
}

// Tracked reports whether the request is still in flight.
func (t *Tracker) Tracked(requestID string) bool {
	_, ok := t.lookup(requestID)
	return ok
}

func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

func (t *Tracker) lookup(requestID string) (*entry, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[strings.TrimSpace(requestID)]
	return e, ok
}

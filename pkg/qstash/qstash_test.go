package qstash

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

var fixedNow = time.Date(2026, 3, 9, 12, 0, 0, 0, time.UTC)

func newTestClient(t *testing.T, baseURL string) *Client {
	t.Helper()
	c, err := NewClient(Config{
		URL:               baseURL,
		Token:             "qstash-token",
		CurrentSigningKey: "sig_current",
		NextSigningKey:    "sig_next",
		Destination:       "https://agent.example.com/webhook/replay",
		Retries:           2,
	}, WithClock(func() time.Time { return fixedNow }))
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}
	return c
}

func TestPublish(t *testing.T) {
	t.Parallel()

	var gotPath, gotAuth, gotRetries, gotForward string
	var gotBody map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		gotRetries = r.Header.Get("Upstash-Retries")
		gotForward = r.Header.Get("Upstash-Forward-X-Request-Id")
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &gotBody)
		_, _ = w.Write([]byte(`{"messageId":"msg_123"}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	id, err := c.Publish(context.Background(), map[string]string{"message": "oi"}, map[string]string{"X-Request-Id": "req-1"})
	if err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	if id != "msg_123" {
		t.Fatalf("message id = %q", id)
	}
	if gotPath != "/v2/publish/https://agent.example.com/webhook/replay" {
		t.Fatalf("unexpected path: %s", gotPath)
	}
	if gotAuth != "Bearer qstash-token" || gotRetries != "2" || gotForward != "req-1" {
		t.Fatalf("unexpected headers: auth=%q retries=%q forward=%q", gotAuth, gotRetries, gotForward)
	}
	if gotBody["message"] != "oi" {
		t.Fatalf("unexpected body: %v", gotBody)
	}
}

func TestPublishFailure(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":"invalid token"}`))
	}))
	defer srv.Close()

	_, err := newTestClient(t, srv.URL).Publish(context.Background(), map[string]string{}, nil)
	if !errors.Is(err, ErrPublish) {
		t.Fatalf("expected ErrPublish, got %v", err)
	}
}

func TestVerify(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, "https://qstash.upstash.io")
	body := []byte(`{"request_id":"req-1"}`)
	dest := c.Destination()

	current, err := Sign("sig_current", dest, body, fixedNow)
	if err != nil {
		t.Fatalf("Sign() error = %v", err)
	}
	if err := c.Verify(current, body, dest); err != nil {
		t.Fatalf("Verify(current) error = %v", err)
	}

	next, _ := Sign("sig_next", dest, body, fixedNow)
	if err := c.Verify(next, body, dest); err != nil {
		t.Fatalf("Verify(next) error = %v", err)
	}

	cases := map[string]struct {
		signature string
		body      []byte
		dest      string
	}{
		"tampered body": {signature: current, body: []byte(`{"request_id":"req-2"}`), dest: dest},
		"wrong subject": {signature: current, body: body, dest: "https://evil.example.com"},
		"missing":       {signature: "", body: body, dest: dest},
	}
	for name, tc := range cases {
		if err := c.Verify(tc.signature, tc.body, tc.dest); !errors.Is(err, ErrInvalidSignature) {
			t.Fatalf("%s: expected ErrInvalidSignature, got %v", name, err)
		}
	}

	foreign, _ := Sign("other_key", dest, body, fixedNow)
	if err := c.Verify(foreign, body, dest); !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("foreign key: expected ErrInvalidSignature, got %v", err)
	}

	expired, _ := Sign("sig_current", dest, body, fixedNow.Add(-time.Hour))
	if err := c.Verify(expired, body, dest); !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("expired: expected ErrInvalidSignature, got %v", err)
	}
}

func TestNewClientRequiresURL(t *testing.T) {
	t.Parallel()

	if _, err := NewClient(Config{}); err == nil {
		t.Fatal("expected error for empty url")
	}
	if (Config{Token: "t"}).Enabled() {
		t.Fatal("config without destination must not be enabled")
	}
}

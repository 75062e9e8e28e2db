package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	contractx "github.com/tanpawarit/Chative-Booking-Agent/agent/contract"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := New(Config{URL: server.URL, Token: "secret"}, WithHTTPClient(server.Client()))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return client
}

func TestSendWhatsAppPayload(t *testing.T) {
	t.Parallel()

	var gotPath string
	var got map[string]string
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		defer r.Body.Close()
		gotPath = r.URL.Path
		if r.Header.Get("Authorization") != "Bearer secret" {
			t.Errorf("missing bearer token")
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode payload: %v", err)
		}
		fmt.Fprint(w, `{"success":true,"messageId":"wamid-1"}`)
	})

	res, err := client.Send(context.Background(), contractx.SendRequest{
		Channel:     contractx.ChannelWhatsApp,
		SessionID:   "instance_1",
		RecipientID: "5531999527076@s.whatsapp.net",
		Text:        "Olá!",
	})
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if gotPath != defaultWhatsAppPath {
		t.Fatalf("path=%q, want %q", gotPath, defaultWhatsAppPath)
	}
	if got["userId"] != "instance_1" || got["phoneNumber"] != "5531999527076@s.whatsapp.net" || got["message"] != "Olá!" {
		t.Fatalf("unexpected payload: %#v", got)
	}
	if res.MessageID != "wamid-1" {
		t.Fatalf("message id=%q", res.MessageID)
	}
}

func TestSendInstagramPayload(t *testing.T) {
	t.Parallel()

	var gotPath string
	var got map[string]string
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		defer r.Body.Close()
		gotPath = r.URL.Path
		_ = json.NewDecoder(r.Body).Decode(&got)
		fmt.Fprint(w, `{"success":true}`)
	})

	_, err := client.Send(context.Background(), contractx.SendRequest{
		Channel:     contractx.ChannelInstagram,
		SessionID:   "user-9",
		RecipientID: "ig-123",
		Text:        "Oi",
	})
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if gotPath != "/api/instagram/send-dm" {
		t.Fatalf("path=%q, want /api/instagram/send-dm", gotPath)
	}
	if got["recipientId"] != "ig-123" || got["userId"] != "user-9" || got["text"] != "Oi" {
		t.Fatalf("unexpected payload: %#v", got)
	}
	if _, ok := got["message"]; ok {
		t.Fatalf("instagram payload must carry text, not message: %#v", got)
	}
}

func TestSendUsesConfiguredPaths(t *testing.T) {
	t.Parallel()

	var gotPath string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		fmt.Fprint(w, `{"success":true}`)
	}))
	t.Cleanup(server.Close)

	client, err := New(Config{URL: server.URL, InstagramPath: "api/internal/instagram/send-dm"}, WithHTTPClient(server.Client()))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	_, err = client.Send(context.Background(), contractx.SendRequest{
		Channel: contractx.ChannelInstagram, SessionID: "user-9", RecipientID: "ig-123", Text: "Oi",
	})
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if gotPath != "/api/internal/instagram/send-dm" {
		t.Fatalf("path=%q, want /api/internal/instagram/send-dm", gotPath)
	}
}

func TestSendReportsFailure(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"success":false,"error":"session disconnected"}`)
	})

	res, err := client.Send(context.Background(), contractx.SendRequest{
		Channel: contractx.ChannelWhatsApp, SessionID: "s", RecipientID: "r", Text: "x",
	})
	if !errors.Is(err, contractx.ErrCollaborator) {
		t.Fatalf("expected ErrCollaborator, got %v", err)
	}
	if res.Detail != "session disconnected" {
		t.Fatalf("detail=%q", res.Detail)
	}
}

func TestSendHTTPError(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	})

	_, err := client.Send(context.Background(), contractx.SendRequest{
		Channel: contractx.ChannelWhatsApp, SessionID: "s", RecipientID: "r", Text: "x",
	})
	if !errors.Is(err, contractx.ErrCollaborator) {
		t.Fatalf("expected ErrCollaborator, got %v", err)
	}
}

func TestSendValidatesInput(t *testing.T) {
	t.Parallel()

	calls := 0
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
	})

	if _, err := client.Send(context.Background(), contractx.SendRequest{Channel: contractx.ChannelWhatsApp, SessionID: "s", RecipientID: "r", Text: "  "}); !errors.Is(err, contractx.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
	if _, err := client.Send(context.Background(), contractx.SendRequest{Channel: "telegram", SessionID: "s", RecipientID: "r", Text: "x"}); !errors.Is(err, contractx.ErrUnsupportedChannel) {
		t.Fatalf("expected ErrUnsupportedChannel, got %v", err)
	}
	if calls != 0 {
		t.Fatalf("no request expected, got %d", calls)
	}
}

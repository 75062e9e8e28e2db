package relay

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
	defaultWhatsAppPath  = "/api/internal/whatsapp/send-text"
	defaultInstagramPath = "/api/instagram/send-dm"
	maxResponseSizeBytes = 1 << 20
)

type Config struct {
	URL           string        `envconfig:"URL" split_words:"true" default:"http://localhost:3003"`
	Token         string        `envconfig:"TOKEN" split_words:"true"`
	Timeout       time.Duration `envconfig:"TIMEOUT" split_words:"true" default:"15s"`
	WhatsAppPath  string        `envconfig:"WHATSAPP_PATH" split_words:"true" default:"/api/internal/whatsapp/send-text"`
	InstagramPath string        `envconfig:"INSTAGRAM_PATH" split_words:"true" default:"/api/instagram/send-dm"`
}

type Option func(*Client)

func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// Client posts replies to the messaging backend. Each call sends once; at-most-once per
// request is enforced by the caller.
type Client struct {
	baseURL       string
	token         string
	whatsAppPath  string
	instagramPath string
	httpClient    *http.Client
}

var _ contractx.Messenger = (*Client)(nil)

type whatsAppPayload struct {
	UserID      string `json:"userId"`
	PhoneNumber string `json:"phoneNumber"`
	Message     string `json:"message"`
}

type instagramPayload struct {
	UserID      string `json:"userId"`
	RecipientID string `json:"recipientId"`
	Text        string `json:"text"`
}

type sendResponse struct {
	Success   bool   `json:"success"`
	MessageID string `json:"messageId,omitempty"`
	Error     string `json:"error,omitempty"`
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
		baseURL:       baseURL,
		token:         strings.TrimSpace(cfg.Token),
		whatsAppPath:  sendPath(cfg.WhatsAppPath, defaultWhatsAppPath),
		instagramPath: sendPath(cfg.InstagramPath, defaultInstagramPath),
		httpClient:    &http.Client{Timeout: timeout},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c, nil
}

func sendPath(path, fallback string) string {
	path = strings.TrimSpace(path)
	if path == "" {
		return fallback
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return path
}

func MustNew(cfg Config, opts ...Option) *Client {
	c, err := New(cfg, opts...)
	if err != nil {
		panic(err)
	}
	return c
}

func (c *Client) Send(ctx context.Context, req contractx.SendRequest) (contractx.SendResult, error) {
	if strings.TrimSpace(req.SessionID) == "" || strings.TrimSpace(req.RecipientID) == "" {
		return contractx.SendResult{}, fmt.Errorf("%w: session and recipient are required", contractx.ErrValidation)
	}
	if strings.TrimSpace(req.Text) == "" {
		return contractx.SendResult{}, fmt.Errorf("%w: message is empty", contractx.ErrValidation)
	}

	var (
		path    string
		payload any
	)
	switch req.Channel {
	case contractx.ChannelWhatsApp:
		path = c.whatsAppPath
		payload = whatsAppPayload{UserID: req.SessionID, PhoneNumber: req.RecipientID, Message: req.Text}
	case contractx.ChannelInstagram:
		path = c.instagramPath
		payload = instagramPayload{UserID: req.SessionID, RecipientID: req.RecipientID, Text: req.Text}
	default:
		return contractx.SendResult{}, fmt.Errorf("%w: %q", contractx.ErrUnsupportedChannel, req.Channel)
	}

	resp, err := c.post(ctx, path, payload)
	if err != nil {
		return contractx.SendResult{}, err
	}
	if !resp.Success {
		detail := resp.Error
		if detail == "" {
			detail = "relay reported failure"
		}
		return contractx.SendResult{Detail: detail}, fmt.Errorf("%w: send %s: %s", contractx.ErrCollaborator, req.Channel, detail)
	}
	return contractx.SendResult{MessageID: resp.MessageID, Detail: "sent"}, nil
}

func (c *Client) post(ctx context.Context, path string, payload any) (*sendResponse, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal relay payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build relay request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: execute relay request: %v", contractx.ErrCollaborator, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSizeBytes))
	if err != nil {
		return nil, fmt.Errorf("read relay response: %w", err)
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return nil, fmt.Errorf("%w: relay http status=%d body=%s", contractx.ErrCollaborator, resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	parsed := sendResponse{Success: true}
	if len(bytes.TrimSpace(raw)) == 0 {
		return &parsed, nil
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("decode relay response: %w", err)
	}
	return &parsed, nil
}

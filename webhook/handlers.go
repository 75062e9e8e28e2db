package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"

	contractx "github.com/tanpawarit/Chative-Booking-Agent/agent/contract"
	qstashx "github.com/tanpawarit/Chative-Booking-Agent/pkg/qstash"
)

const requestIDHeader = "X-Request-Id"

type historyTurn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type whatsAppRequest struct {
	SessionID    string        `json:"sessionId"`
	RemoteJID    string        `json:"remoteJid"`
	Message      string        `json:"message"`
	SystemPrompt string        `json:"systemPrompt,omitempty"`
	History      []historyTurn `json:"history,omitempty"`
	ServiceType  string        `json:"serviceType,omitempty"`
	Address      string        `json:"address,omitempty"`
}

type instagramRequest struct {
	UserID       string        `json:"userId"`
	SenderID     string        `json:"senderId"`
	Message      string        `json:"message"`
	SystemPrompt string        `json:"systemPrompt,omitempty"`
	History      []historyTurn `json:"history,omitempty"`
	ServiceType  string        `json:"serviceType,omitempty"`
	Address      string        `json:"address,omitempty"`
}

type successResponse struct {
	Status    string `json:"status"`
	Result    string `json:"result"`
	RequestID string `json:"requestId"`
	Delivered bool   `json:"delivered"`
	Forced    bool   `json:"forced,omitempty"`
}

type errorResponse struct {
	Status    string `json:"status"`
	Error     string `json:"error"`
	RequestID string `json:"requestId,omitempty"`
}

func (s *Server) handleWhatsApp(w http.ResponseWriter, r *http.Request) {
	var req whatsAppRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	s.runTurn(w, r, contractx.Inbound{
		RequestID:    r.Header.Get(requestIDHeader),
		Channel:      contractx.ChannelWhatsApp,
		OwnerID:      req.SessionID,
		RecipientID:  req.RemoteJID,
		Message:      req.Message,
		SystemPrompt: req.SystemPrompt,
		History:      toTurns(req.History),
		ServiceType:  contractx.ServiceType(req.ServiceType),
		Address:      req.Address,
	})
}

func (s *Server) handleInstagram(w http.ResponseWriter, r *http.Request) {
	var req instagramRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	s.runTurn(w, r, contractx.Inbound{
		RequestID:    r.Header.Get(requestIDHeader),
		Channel:      contractx.ChannelInstagram,
		OwnerID:      req.UserID,
		RecipientID:  req.SenderID,
		Message:      req.Message,
		SystemPrompt: req.SystemPrompt,
		History:      toTurns(req.History),
		ServiceType:  contractx.ServiceType(req.ServiceType),
		Address:      req.Address,
	})
}

// handleReplay re-runs a dead-lettered turn. The body is the original inbound event.
func (s *Server) handleReplay(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Status: "error", Error: "could not read body"})
		return
	}
	if err := s.verifier.Verify(r.Header.Get(qstashx.SignatureHeader), body, s.replayDestination); err != nil {
		log.Warn().Err(err).Msg("replay_signature_rejected")
		writeJSON(w, http.StatusUnauthorized, errorResponse{Status: "error", Error: "invalid signature"})
		return
	}

	var in contractx.Inbound
	if err := json.Unmarshal(body, &in); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Status: "error", Error: "invalid JSON"})
		return
	}
	in.Replay = true
	s.runTurn(w, r, in)
}

func (s *Server) runTurn(w http.ResponseWriter, r *http.Request, in contractx.Inbound) {
	reply, err := s.turns.HandleMessage(r.Context(), in)
	if err != nil {
		status := StatusFor(err)
		if status >= http.StatusInternalServerError {
			log.Error().Err(err).Str("request_id", reply.RequestID).Str("channel", string(in.Channel)).Int("status", status).Msg("webhook_turn_failed")
		}
		writeJSON(w, status, errorResponse{Status: "error", Error: publicMessage(err, status), RequestID: reply.RequestID})
		return
	}

	writeJSON(w, http.StatusOK, successResponse{
		Status:    "success",
		Result:    reply.Text,
		RequestID: reply.RequestID,
		Delivered: reply.Delivered,
		Forced:    reply.Forced,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	checks := make(map[string]string, len(s.checks))
	status := http.StatusOK
	for name, check := range s.checks {
		if err := check(r.Context()); err != nil {
			checks[name] = err.Error()
			status = http.StatusServiceUnavailable
			continue
		}
		checks[name] = "ok"
	}

	overall := "ok"
	if status != http.StatusOK {
		overall = "degraded"
	}
	writeJSON(w, status, map[string]any{"status": overall, "checks": checks})
}

// StatusFor maps a turn failure to an HTTP status.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, contractx.ErrValidation), errors.Is(err, contractx.ErrUnsupportedChannel):
		return http.StatusBadRequest
	case errors.Is(err, contractx.ErrDuplicateRequest):
		return http.StatusConflict
	case errors.Is(err, contractx.ErrNotDelivered), errors.Is(err, contractx.ErrEmptyResponse):
		return http.StatusBadGateway
	case errors.Is(err, contractx.ErrRetriesExhausted),
		errors.Is(err, contractx.ErrDeadlineExceeded),
		errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func publicMessage(err error, status int) string {
	switch status {
	case http.StatusBadRequest, http.StatusConflict:
		return err.Error()
	case http.StatusBadGateway:
		return "the reply could not be delivered"
	case http.StatusServiceUnavailable:
		return "the assistant is temporarily unavailable"
	default:
		return "internal server error"
	}
}

func toTurns(history []historyTurn) []contractx.Turn {
	if len(history) == 0 {
		return nil
	}
	turns := make([]contractx.Turn, 0, len(history))
	for _, h := range history {
		text := strings.TrimSpace(h.Content)
		if text == "" {
			continue
		}
		role := contractx.RoleUser
		switch strings.ToLower(strings.TrimSpace(h.Role)) {
		case "assistant", "model", "ai", "bot":
			role = contractx.RoleAssistant
		}
		turns = append(turns, contractx.Turn{Role: role, Text: text})
	}
	return turns
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(dst); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeJSON(w, http.StatusRequestEntityTooLarge, errorResponse{Status: "error", Error: "body too large"})
			return false
		}
		writeJSON(w, http.StatusBadRequest, errorResponse{Status: "error", Error: fmt.Sprintf("invalid JSON: %v", err)})
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"relaybot/internal/domain"
	"relaybot/internal/metrics"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 500
	healthProbeTimeout  = 5 * time.Second
)

type chatRequest struct {
	Message string `json:"message"`
}

type sendRequest struct {
	To      string `json:"to"`
	Message string `json:"message"`
}

type sendResponse struct {
	Success bool    `json:"success"`
	Error   *string `json:"error"`
}

type healthResponse struct {
	Status             string `json:"status"`
	TransportAvailable bool   `json:"transport_available"`
	DatabaseConnected  bool   `json:"database_connected"`
	Transport          string `json:"transport"`
	Address            string `json:"address"`
}

type messagesResponse struct {
	Messages []domain.Message `json:"messages"`
	Count    int              `json:"count"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, domain.NewError(domain.KindValidation, "invalid request body", err))
		return
	}

	reply, err := s.chat.Chat(r.Context(), req.Message)
	if err != nil {
		s.logger.Error("chat failed", "err", err)
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, reply)
}

func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	var req sendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, domain.NewError(domain.KindValidation, "invalid request body", err))
		return
	}
	if err := s.validateSend(req); err != nil {
		respondError(w, err)
		return
	}

	metrics.ManualSends.Inc()
	if err := s.transport.Send(r.Context(), req.To, req.Message); err != nil {
		s.logger.Warn("manual send failed", "to", req.To, "err", err)
		msg := err.Error()
		respondJSON(w, http.StatusOK, sendResponse{Success: false, Error: &msg})
		return
	}
	respondJSON(w, http.StatusOK, sendResponse{Success: true})
}

func (s *Server) validateSend(req sendRequest) error {
	if strings.TrimSpace(req.To) == "" {
		return domain.NewError(domain.KindValidation, "to: recipient cannot be empty", nil)
	}
	if v, ok := s.transport.(domain.AddressValidator); ok {
		if err := v.ValidateAddress(req.To); err != nil {
			return err
		}
	}
	if strings.TrimSpace(req.Message) == "" {
		return domain.NewError(domain.KindValidation, "message: cannot be empty", nil)
	}
	if utf8.RuneCountInString(req.Message) > s.maxSendLength {
		return domain.NewError(domain.KindValidation,
			fmt.Sprintf("message: too long (max %d characters)", s.maxSendLength), nil)
	}
	return nil
}

func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	limit := defaultHistoryLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > maxHistoryLimit {
			respondError(w, domain.NewError(domain.KindValidation,
				fmt.Sprintf("limit must be between 1 and %d", maxHistoryLimit), nil))
			return
		}
		limit = n
	}

	msgs, err := s.store.ListMessages(r.Context(), limit)
	if err != nil {
		respondError(w, err)
		return
	}
	if msgs == nil {
		msgs = []domain.Message{}
	}
	respondJSON(w, http.StatusOK, messagesResponse{Messages: msgs, Count: len(msgs)})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthProbeTimeout)
	defer cancel()

	resp := healthResponse{
		Transport: s.transport.Name(),
		Address:   s.address,
	}
	if resp.Address == "" {
		resp.Address = "not configured"
	}

	resp.TransportAvailable = true
	if hc, ok := s.transport.(domain.HealthChecker); ok {
		if err := hc.Healthy(ctx); err != nil {
			s.logger.Warn("transport health check failed", "err", err)
			resp.TransportAvailable = false
		}
	}
	if err := s.store.Ping(ctx); err != nil {
		s.logger.Warn("database health check failed", "err", err)
	} else {
		resp.DatabaseConnected = true
	}

	resp.Status = "healthy"
	if !resp.TransportAvailable || !resp.DatabaseConnected {
		resp.Status = "degraded"
	}
	respondJSON(w, http.StatusOK, resp)
}

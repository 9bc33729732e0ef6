package transport

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"relaybot/internal/domain"
)

const signatureHeader = "X-Signature-256"

type WebhookConfig struct {
	Path        string // inbound URL path
	Secret      string // HMAC secret for inbound and outbound signatures
	OutboundURL string // replies are POSTed here
	BufferSize  int
	Client      *http.Client
	Logger      *slog.Logger
}

// Webhook receives messages as HTTP POSTs and delivers replies by POSTing
// to a configured URL. Inbound requests are buffered until polled.
type Webhook struct {
	path        string
	secret      string
	outboundURL string
	inbox       *Inbox
	client      *http.Client
	logger      *slog.Logger
}

// WebhookPayload is the JSON body accepted on the inbound path.
type WebhookPayload struct {
	From    string `json:"from"`
	To      string `json:"to,omitempty"`
	Message string `json:"message"`
}

// outboundPayload is the JSON body POSTed for every reply.
type outboundPayload struct {
	To      string `json:"to"`
	Message string `json:"message"`
}

func NewWebhook(cfg WebhookConfig) *Webhook {
	if cfg.Path == "" {
		cfg.Path = "/transport/webhook"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Client == nil {
		cfg.Client = &http.Client{Timeout: 30 * time.Second}
	}
	return &Webhook{
		path:        cfg.Path,
		secret:      cfg.Secret,
		outboundURL: cfg.OutboundURL,
		inbox:       NewInbox(cfg.BufferSize, cfg.Logger),
		client:      cfg.Client,
		logger:      cfg.Logger,
	}
}

func (w *Webhook) Name() string { return "webhook" }

// Path is where Handler expects to be mounted.
func (w *Webhook) Path() string { return w.path }

func (w *Webhook) Poll(ctx context.Context) ([]domain.InboundEvent, error) {
	return w.inbox.Drain(), nil
}

func (w *Webhook) Send(ctx context.Context, address, text string) error {
	if w.outboundURL == "" {
		return domain.NewError(domain.KindTransportUnavailable, "webhook send", fmt.Errorf("no outbound URL configured"))
	}
	body, err := json.Marshal(outboundPayload{To: address, Message: text})
	if err != nil {
		return domain.NewError(domain.KindTransportProtocol, "webhook send", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.outboundURL, bytes.NewReader(body))
	if err != nil {
		return domain.NewError(domain.KindTransportUnavailable, "webhook send", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if w.secret != "" {
		req.Header.Set(signatureHeader, sign(body, w.secret))
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return domain.NewError(domain.KindTransportUnavailable, "webhook send", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return domain.NewError(domain.KindTransportUnavailable, "webhook send",
			fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody))))
	}
	return nil
}

func (w *Webhook) Healthy(ctx context.Context) error {
	if w.outboundURL == "" {
		return domain.NewError(domain.KindTransportUnavailable, "webhook health", fmt.Errorf("no outbound URL configured"))
	}
	return nil
}

// Close stops accepting inbound messages. Events already queued are still
// returned by Poll.
func (w *Webhook) Close() error {
	w.inbox.Close()
	return nil
}

// Handler accepts inbound messages.
func (w *Webhook) Handler() http.HandlerFunc {
	return w.handleInbound
}

func (w *Webhook) handleInbound(rw http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(rw, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20)) // 1MB max
	if err != nil {
		http.Error(rw, "Bad Request", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	if w.secret != "" {
		sig := r.Header.Get(signatureHeader)
		if sig == "" {
			http.Error(rw, "Missing signature", http.StatusUnauthorized)
			return
		}
		if !verifyHMAC(body, w.secret, sig) {
			http.Error(rw, "Invalid signature", http.StatusForbidden)
			return
		}
	}

	var payload WebhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		http.Error(rw, "Invalid JSON", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(payload.From) == "" || strings.TrimSpace(payload.Message) == "" {
		http.Error(rw, "from and message are required", http.StatusBadRequest)
		return
	}

	w.logger.Info("webhook received", "from", payload.From, "content_len", len(payload.Message))

	if !w.inbox.Publish(domain.InboundEvent{Sender: payload.From, Recipient: payload.To, Content: payload.Message}) {
		http.Error(rw, "Inbox full", http.StatusServiceUnavailable)
		return
	}

	w.logger.Debug("webhook queued", "from", payload.From, "queued", w.inbox.Len())

	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(http.StatusAccepted)
	json.NewEncoder(rw).Encode(map[string]string{"status": "accepted"})
}

func sign(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// verifyHMAC verifies the HMAC-SHA256 signature of the body.
func verifyHMAC(body []byte, secret, signature string) bool {
	return hmac.Equal([]byte(sign(body, secret)), []byte(signature))
}

package server

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jonboulle/clockwork"

	"github.com/zulandar/cosense-bridge/internal/metrics"
	"github.com/zulandar/cosense-bridge/internal/payload"
	"github.com/zulandar/cosense-bridge/internal/share"
	"github.com/zulandar/cosense-bridge/internal/signature"
)

var (
	errMissingHeaders = errors.New("missing signature headers")
	errBadSignature   = errors.New("invalid signature")
	errBodyTimeout    = errors.New("request body read timeout")
)

// ActionHandler runs a message action registered under a callback ID.
type ActionHandler interface {
	Handle(ctx context.Context, action payload.MessageAction) share.Result
}

// Webhook serves the Slack events and interactivity endpoints.
type Webhook struct {
	secret      string
	clock       clockwork.Clock
	bodyTimeout time.Duration
	maxAge      time.Duration
	actions     map[string]ActionHandler
	log         *slog.Logger
}

// WebhookOpts holds parameters for creating a Webhook.
type WebhookOpts struct {
	SigningSecret   string
	Clock           clockwork.Clock // defaults to the real clock
	BodyReadTimeout time.Duration   // defaults to 5s
	RequestMaxAge   time.Duration   // zero disables the freshness check
	Actions         map[string]ActionHandler
	Logger          *slog.Logger
}

// NewWebhook creates a Webhook.
func NewWebhook(opts WebhookOpts) *Webhook {
	w := &Webhook{
		secret:      opts.SigningSecret,
		clock:       opts.Clock,
		bodyTimeout: opts.BodyReadTimeout,
		maxAge:      opts.RequestMaxAge,
		actions:     opts.Actions,
		log:         opts.Logger,
	}
	if w.clock == nil {
		w.clock = clockwork.NewRealClock()
	}
	if w.bodyTimeout <= 0 {
		w.bodyTimeout = 5 * time.Second
	}
	if w.log == nil {
		w.log = slog.Default()
	}
	return w
}

// handleLiveness answers GET probes from Slack's app configuration page.
func (w *Webhook) handleLiveness(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"message":   "Slack Events API endpoint is working",
		"timestamp": w.clock.Now().UTC().Format("2006-01-02T15:04:05.000Z07:00"),
	})
}

// handlePost authenticates, decodes and dispatches one webhook delivery.
func (w *Webhook) handlePost(c *gin.Context) {
	body, err := w.authenticate(c.Request)
	if err != nil {
		w.reject(c, err)
		return
	}

	p, err := payload.Decode(body)
	if err != nil {
		w.reject(c, err)
		return
	}
	metrics.RequestsTotal.WithLabelValues(string(p.Kind())).Inc()

	switch p := p.(type) {
	case payload.URLVerification:
		c.JSON(http.StatusOK, gin.H{"challenge": p.Challenge})
	case payload.EventCallback:
		w.log.Debug("event callback received", "event", p.InnerType)
		c.JSON(http.StatusOK, gin.H{"status": "received"})
	case payload.MessageAction:
		w.handleAction(c, p)
	case payload.Shortcut:
		w.log.Info("shortcut received", "callback_id", p.CallbackID)
		c.JSON(http.StatusOK, gin.H{"status": "shortcut received"})
	case payload.Unknown:
		w.log.Info("unknown request type", "type", p.Type)
		c.JSON(http.StatusOK, gin.H{"status": "unknown_request"})
	}
}

func (w *Webhook) handleAction(c *gin.Context, action payload.MessageAction) {
	h, ok := w.actions[action.CallbackID]
	if !ok {
		w.log.Info("unknown callback_id", "callback_id", action.CallbackID)
		c.JSON(http.StatusOK, gin.H{"status": "unknown_request"})
		return
	}

	res := h.Handle(c.Request.Context(), action)
	if !res.Success {
		c.JSON(http.StatusInternalServerError, gin.H{"error": res.Error})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success"})
}

// authenticate reads the body and checks the request signature. Headers are
// checked before the body is read.
func (w *Webhook) authenticate(r *http.Request) ([]byte, error) {
	ts := r.Header.Get(signature.TimestampHeader)
	sig := r.Header.Get(signature.SignatureHeader)
	if ts == "" || sig == "" {
		return nil, errMissingHeaders
	}

	body, err := readBody(r.Body, w.bodyTimeout)
	if err != nil {
		return nil, err
	}

	if err := signature.CheckFreshness(w.clock.Now(), ts, w.maxAge); err != nil {
		return nil, err
	}
	if !signature.Verify(w.secret, body, ts, sig) {
		return nil, errBadSignature
	}
	return body, nil
}

// reject maps a pre-dispatch failure to its HTTP status.
func (w *Webhook) reject(c *gin.Context, err error) {
	status, reason, msg := http.StatusBadRequest, "read_error", "Failed to read request body"

	var verr *payload.ValidationError
	switch {
	case errors.Is(err, errMissingHeaders):
		status, reason, msg = http.StatusUnauthorized, "missing_headers", "Missing signature headers"
	case errors.Is(err, errBadSignature):
		status, reason, msg = http.StatusUnauthorized, "bad_signature", "Invalid signature"
	case errors.Is(err, signature.ErrStaleTimestamp), errors.Is(err, signature.ErrInvalidTimestamp):
		status, reason, msg = http.StatusUnauthorized, "stale_timestamp", "Invalid request timestamp"
	case errors.Is(err, errBodyTimeout):
		status, reason, msg = http.StatusRequestTimeout, "body_timeout", "Request body read timeout"
	case errors.As(err, &verr):
		reason, msg = "invalid_payload", verr.Error()
	}

	metrics.RejectedTotal.WithLabelValues(reason).Inc()
	w.log.Warn("request rejected", "reason", reason, "path", c.Request.URL.Path, "error", err)
	c.JSON(status, gin.H{"error": msg})
}

// readBody reads r fully, giving up after timeout. A timed-out read is
// abandoned; the server closes the body when the handler returns.
func readBody(r io.Reader, timeout time.Duration) ([]byte, error) {
	type result struct {
		body []byte
		err  error
	}
	done := make(chan result, 1)
	go func() {
		b, err := io.ReadAll(r)
		done <- result{b, err}
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case res := <-done:
		return res.body, res.err
	case <-timer.C:
		return nil, errBodyTimeout
	}
}

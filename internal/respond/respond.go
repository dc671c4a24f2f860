// Package respond posts share results back to Slack through an action's
// response_url.
package respond

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	slackapi "github.com/slack-go/slack"

	"github.com/zulandar/cosense-bridge/internal/cosense"
	"github.com/zulandar/cosense-bridge/internal/metrics"
)

const defaultTimeout = 10 * time.Second

// Dispatcher delivers messages to response URLs. Each post is attempted once.
type Dispatcher struct {
	client *http.Client
	log    *slog.Logger
}

// DispatcherOpts holds parameters for creating a Dispatcher.
type DispatcherOpts struct {
	HTTPClient *http.Client // defaults to a client with a 10s timeout
	Logger     *slog.Logger
}

// NewDispatcher creates a Dispatcher.
func NewDispatcher(opts DispatcherOpts) *Dispatcher {
	d := &Dispatcher{client: opts.HTTPClient, log: opts.Logger}
	if d.client == nil {
		d.client = &http.Client{Timeout: defaultTimeout}
	}
	if d.log == nil {
		d.log = slog.Default()
	}
	return d
}

// PostSuccess posts an optional summary section followed by one section per
// link. It reports whether Slack accepted the message.
func (d *Dispatcher) PostSuccess(ctx context.Context, responseURL, summary string, links []cosense.LinkBlock) bool {
	return d.post(ctx, "success", responseURL, SuccessMessage(summary, links))
}

// PostError posts an error section. It reports whether Slack accepted the
// message.
func (d *Dispatcher) PostError(ctx context.Context, responseURL, message string) bool {
	return d.post(ctx, "error", responseURL, ErrorMessage(message))
}

func (d *Dispatcher) post(ctx context.Context, kind, responseURL string, msg *slackapi.WebhookMessage) bool {
	if err := slackapi.PostWebhookCustomHTTPContext(ctx, responseURL, d.client, msg); err != nil {
		metrics.ResponsesPostedTotal.WithLabelValues(kind, "failed").Inc()
		d.log.Error("failed to send response to Slack", "kind", kind, "error", err)
		return false
	}
	metrics.ResponsesPostedTotal.WithLabelValues(kind, "ok").Inc()
	return true
}

// SuccessMessage builds the payload for PostSuccess. The summary section is
// left out when summary is empty; Slack rejects empty text sections.
func SuccessMessage(summary string, links []cosense.LinkBlock) *slackapi.WebhookMessage {
	var blocks []slackapi.Block
	if summary != "" {
		blocks = append(blocks, section(summary))
	}
	for _, l := range links {
		blocks = append(blocks, section(l.Markdown()))
	}
	return &slackapi.WebhookMessage{
		Text:   summary,
		Blocks: &slackapi.Blocks{BlockSet: blocks},
	}
}

// ErrorMessage builds the payload for PostError.
func ErrorMessage(message string) *slackapi.WebhookMessage {
	text := "❌ *Error occurred*\n\n" + message
	return &slackapi.WebhookMessage{
		Text:   message,
		Blocks: &slackapi.Blocks{BlockSet: []slackapi.Block{section(text)}},
	}
}

func section(text string) *slackapi.SectionBlock {
	return slackapi.NewSectionBlock(slackapi.NewTextBlockObject(slackapi.MarkdownType, text, false, false), nil, nil)
}

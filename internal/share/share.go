// Package share runs the share pipeline for a message action: fetch the
// thread, build Cosense links, and post them back to Slack.
package share

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/zulandar/cosense-bridge/internal/cosense"
	"github.com/zulandar/cosense-bridge/internal/metrics"
	"github.com/zulandar/cosense-bridge/internal/payload"
	"github.com/zulandar/cosense-bridge/internal/thread"
)

// User-facing failure messages. Raw errors are only logged.
const (
	MsgDeliveryFailed = "failed to send response to Slack"
	MsgBuildFailed    = "failed to generate Cosense page URL"
	MsgFetchFailed    = "failed to fetch the thread"
)

// Fetcher retrieves a thread with author names resolved.
type Fetcher interface {
	FetchThread(ctx context.Context, channelID, rootTS string) ([]thread.Message, error)
}

// LinkBuilder turns a thread into Cosense links.
type LinkBuilder interface {
	BuildLinks(msgs []thread.Message, rootTS, teamDomain, channelID string) ([]cosense.LinkBlock, error)
}

// Responder posts results to a response URL.
type Responder interface {
	PostSuccess(ctx context.Context, responseURL, summary string, links []cosense.LinkBlock) bool
	PostError(ctx context.Context, responseURL, message string) bool
}

// Result is the outcome reported to the webhook caller.
type Result struct {
	Success bool
	Error   string
}

// Sharer wires the pipeline stages together.
type Sharer struct {
	fetcher   Fetcher
	builder   LinkBuilder
	responder Responder
	log       *slog.Logger
}

// SharerOpts holds parameters for creating a Sharer.
type SharerOpts struct {
	Fetcher   Fetcher
	Builder   LinkBuilder
	Responder Responder
	Logger    *slog.Logger
}

// NewSharer creates a Sharer.
func NewSharer(opts SharerOpts) (*Sharer, error) {
	if opts.Fetcher == nil {
		return nil, fmt.Errorf("share: fetcher is required")
	}
	if opts.Builder == nil {
		return nil, fmt.Errorf("share: builder is required")
	}
	if opts.Responder == nil {
		return nil, fmt.Errorf("share: responder is required")
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Sharer{
		fetcher:   opts.Fetcher,
		builder:   opts.Builder,
		responder: opts.Responder,
		log:       log,
	}, nil
}

// Handle runs the pipeline for one action. Failures are reported to Slack
// through the action's response URL and never returned as errors.
func (s *Sharer) Handle(ctx context.Context, action payload.MessageAction) Result {
	timer := prometheus.NewTimer(metrics.ShareDuration)
	defer timer.ObserveDuration()

	log := s.log.With("channel", action.ChannelID, "callback_id", action.CallbackID, "user", action.UserID)
	rootTS := action.Message.RootTimestamp()

	links, err := s.links(ctx, action, rootTS)
	if err != nil {
		log.Error("share failed", "root_ts", rootTS, "error", err)
		return s.fail(ctx, action.ResponseURL, userMessage(err))
	}

	if !s.responder.PostSuccess(ctx, action.ResponseURL, Summary(action), links) {
		return s.fail(ctx, action.ResponseURL, MsgDeliveryFailed)
	}

	metrics.ShareResultsTotal.WithLabelValues("success").Inc()
	log.Info("share completed", "root_ts", rootTS, "links", len(links))
	return Result{Success: true}
}

func (s *Sharer) links(ctx context.Context, action payload.MessageAction, rootTS string) ([]cosense.LinkBlock, error) {
	msgs, err := s.fetcher.FetchThread(ctx, action.ChannelID, rootTS)
	if err != nil {
		return nil, err
	}
	return s.builder.BuildLinks(msgs, rootTS, action.TeamDomain, action.ChannelID)
}

// fail posts an error block and returns the failed Result. A failed error
// post is logged by the responder and does not change the Result.
func (s *Sharer) fail(ctx context.Context, responseURL, message string) Result {
	metrics.ShareResultsTotal.WithLabelValues("failure").Inc()
	s.responder.PostError(ctx, responseURL, message)
	return Result{Success: false, Error: message}
}

// userMessage maps a pipeline error to the text shown in Slack.
func userMessage(err error) string {
	var upstream *thread.UpstreamError
	if errors.As(err, &upstream) {
		return upstream.Code
	}
	var budget *cosense.BudgetError
	if errors.As(err, &budget) || errors.Is(err, cosense.ErrBodyBudget) {
		return MsgBuildFailed
	}
	return MsgFetchFailed
}

// Summary renders the section posted above the links.
func Summary(action payload.MessageAction) string {
	var b strings.Builder
	b.WriteString("✅ *Generated Cosense page URL!*\n\n")
	b.WriteString("*Original message:*\n")
	b.WriteString("> " + strings.ReplaceAll(action.Message.Text, "\n", "\n> ") + "\n\n")
	b.WriteString("*Channel:* #" + action.ChannelName + "\n")
	b.WriteString("*User:* " + action.UserName)
	return b.String()
}

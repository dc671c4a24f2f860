// Package thread fetches a Slack thread and resolves author display names.
package thread

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	slackapi "github.com/slack-go/slack"
	"golang.org/x/sync/errgroup"

	"github.com/zulandar/cosense-bridge/internal/metrics"
)

// UnknownUser is the author name used when a lookup fails.
const UnknownUser = "Unknown User"

const (
	methodReplies  = "conversations.replies"
	methodUserInfo = "users.info"

	// pageSize is the per-request limit for conversations.replies.
	pageSize = 200
)

// Message is a single Slack message in a thread.
type Message struct {
	Timestamp       string // "1700000000.123456"
	AuthorID        string
	Username        string // set on bot messages that carry no AuthorID
	Text            string
	ThreadTimestamp string // root timestamp, empty for unthreaded messages
	AuthorName      string // filled in by FetchThread
}

// UpstreamError is returned when the Slack API reports a failure, either as
// an "ok": false response or a non-2xx status.
type UpstreamError struct {
	Method string // Slack API method, e.g. "conversations.replies"
	Code   string // Slack error code, e.g. "channel_not_found"
}

func (e *UpstreamError) Error() string {
	return e.Code
}

// repliesClient abstracts conversations.replies, enabling test mocks.
type repliesClient interface {
	GetConversationRepliesContext(ctx context.Context, params *slackapi.GetConversationRepliesParameters) ([]slackapi.Message, bool, string, error)
}

// usersClient abstracts users.info, enabling test mocks.
type usersClient interface {
	GetUserInfoContext(ctx context.Context, user string) (*slackapi.User, error)
}

// FetcherOpts holds parameters for creating a Fetcher.
type FetcherOpts struct {
	UserToken  string // xoxp-... used for conversations.replies
	BotToken   string // xoxb-... used for users.info
	APIURL     string // e.g. https://slack.com/api
	HTTPClient *http.Client
	Cache      NameCache
	Logger     *slog.Logger
	// For testing: inject mock clients instead of real Slack API.
	Replies repliesClient
	Users   usersClient
}

// Fetcher retrieves threads via the Slack Web API.
type Fetcher struct {
	replies repliesClient
	users   usersClient
	cache   NameCache
	log     *slog.Logger
}

// NewFetcher creates a Fetcher.
func NewFetcher(opts FetcherOpts) (*Fetcher, error) {
	if opts.Replies == nil && opts.UserToken == "" {
		return nil, fmt.Errorf("thread: user token is required")
	}
	if opts.Users == nil && opts.BotToken == "" {
		return nil, fmt.Errorf("thread: bot token is required")
	}
	if opts.Cache == nil {
		return nil, fmt.Errorf("thread: name cache is required")
	}

	f := &Fetcher{
		replies: opts.Replies,
		users:   opts.Users,
		cache:   opts.Cache,
		log:     opts.Logger,
	}
	if f.log == nil {
		f.log = slog.Default()
	}

	var clientOpts []slackapi.Option
	if opts.APIURL != "" {
		// slack-go joins method names onto the URL directly.
		clientOpts = append(clientOpts, slackapi.OptionAPIURL(strings.TrimSuffix(opts.APIURL, "/")+"/"))
	}
	if opts.HTTPClient != nil {
		clientOpts = append(clientOpts, slackapi.OptionHTTPClient(opts.HTTPClient))
	}
	if f.replies == nil {
		f.replies = slackapi.New(opts.UserToken, clientOpts...)
	}
	if f.users == nil {
		f.users = slackapi.New(opts.BotToken, clientOpts...)
	}
	return f, nil
}

// FetchThread returns the root message identified by rootTS and its replies,
// in the order Slack returns them, each with AuthorName resolved.
func (f *Fetcher) FetchThread(ctx context.Context, channelID, rootTS string) ([]Message, error) {
	var msgs []Message
	cursor := ""

	for {
		params := &slackapi.GetConversationRepliesParameters{
			ChannelID: channelID,
			Timestamp: rootTS,
			Limit:     pageSize,
			Cursor:    cursor,
		}

		page, hasMore, nextCursor, err := f.replies.GetConversationRepliesContext(ctx, params)
		if err != nil {
			metrics.SlackAPIErrorsTotal.WithLabelValues(methodReplies).Inc()
			return nil, upstreamError(methodReplies, err)
		}

		for _, m := range page {
			msgs = append(msgs, Message{
				Timestamp:       m.Timestamp,
				AuthorID:        m.User,
				Username:        m.Username,
				Text:            m.Text,
				ThreadTimestamp: m.ThreadTimestamp,
			})
		}

		if !hasMore || nextCursor == "" {
			break
		}
		cursor = nextCursor
	}

	f.resolveAuthors(ctx, msgs)
	return msgs, nil
}

// resolveAuthors looks up each distinct author once, concurrently, and writes
// the names back by ID.
func (f *Fetcher) resolveAuthors(ctx context.Context, msgs []Message) {
	var ids []string
	index := make(map[string]int)
	for _, m := range msgs {
		if m.AuthorID == "" {
			continue
		}
		if _, ok := index[m.AuthorID]; !ok {
			index[m.AuthorID] = len(ids)
			ids = append(ids, m.AuthorID)
		}
	}

	names := make([]string, len(ids))
	var g errgroup.Group
	for i, id := range ids {
		i, id := i, id
		g.Go(func() error {
			names[i] = f.resolveUserName(ctx, id)
			return nil
		})
	}
	_ = g.Wait()

	for i := range msgs {
		switch {
		case msgs[i].AuthorID != "":
			msgs[i].AuthorName = names[index[msgs[i].AuthorID]]
		case msgs[i].Username != "":
			msgs[i].AuthorName = msgs[i].Username
		default:
			msgs[i].AuthorName = UnknownUser
		}
	}
}

// resolveUserName looks up a user's display name, consulting the cache
// first. Failures degrade to UnknownUser and are not cached.
func (f *Fetcher) resolveUserName(ctx context.Context, userID string) string {
	if name, ok := f.cache.Get(userID); ok {
		return name
	}

	user, err := f.users.GetUserInfoContext(ctx, userID)
	if err != nil {
		metrics.SlackAPIErrorsTotal.WithLabelValues(methodUserInfo).Inc()
		f.log.Warn("failed to get user info", "user", userID, "error", err)
		return UnknownUser
	}

	name := UnknownUser
	switch {
	case user == nil:
	case user.RealName != "":
		name = user.RealName
	case user.Name != "":
		name = user.Name
	}
	f.cache.Set(userID, name)
	return name
}

// upstreamError converts a slack-go error into an UpstreamError where Slack
// supplied an error code or status.
func upstreamError(method string, err error) error {
	var apiErr slackapi.SlackErrorResponse
	if errors.As(err, &apiErr) {
		return &UpstreamError{Method: method, Code: apiErr.Err}
	}
	var statusErr slackapi.StatusCodeError
	if errors.As(err, &statusErr) {
		return &UpstreamError{Method: method, Code: "http_" + strconv.Itoa(statusErr.Code)}
	}
	var rle *slackapi.RateLimitedError
	if errors.As(err, &rle) {
		return &UpstreamError{Method: method, Code: "ratelimited"}
	}
	return fmt.Errorf("thread: %s: %w", method, err)
}

// ParseTimestamp converts a Slack timestamp (e.g., "1234567890.123456")
// to a time.Time truncated to whole seconds.
func ParseTimestamp(ts string) time.Time {
	sec, _, _ := strings.Cut(ts, ".")
	n, err := strconv.ParseInt(sec, 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.Unix(n, 0)
}

// Package cosense turns a Slack thread into Cosense "new page" links that
// fit inside a Slack section block.
package cosense

import (
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/zulandar/cosense-bridge/internal/thread"
	"github.com/zulandar/cosense-bridge/internal/transcript"
)

// linkOverhead is the punctuation Slack adds around a titled link: "<", "|"
// and ">".
const linkOverhead = 3

// minBodyLen is the smallest chunk that can always hold a whole %XX escape.
const minBodyLen = 3

// ErrBodyBudget is returned by Split when maxLen cannot hold an escape triplet.
var ErrBodyBudget = errors.New("cosense: body budget too small")

// LinkBlock is one rendered link to a Cosense page.
type LinkBlock struct {
	DisplayText string
	TargetURL   string
}

// Markdown renders the link in Slack mrkdwn: <url|text>.
func (l LinkBlock) Markdown() string {
	return "<" + l.TargetURL + "|" + l.DisplayText + ">"
}

// BudgetError reports a configuration that leaves no room for the page body.
type BudgetError struct {
	MaxBlockChars int
	BodyLen       int
}

func (e *BudgetError) Error() string {
	return fmt.Sprintf("cosense: max block chars %d leaves %d characters for the page body (need at least %d)",
		e.MaxBlockChars, e.BodyLen, minBodyLen)
}

// BuilderOpts holds parameters for creating a Builder.
type BuilderOpts struct {
	BaseURL       string // e.g. https://cosense.io
	Project       string
	LinkText      string
	MaxBlockChars int
	Location      *time.Location
}

// Builder assembles paginated Cosense links.
type Builder struct {
	baseURL       string
	project       string
	linkText      string
	maxBlockChars int
	loc           *time.Location
}

// titleLen is the rune length of a rendered page title.
var titleLen = utf8.RuneCountInString(transcript.TimeLayout)

// NewBuilder creates a Builder. It fails when the static parts of the link
// already exhaust MaxBlockChars.
func NewBuilder(opts BuilderOpts) (*Builder, error) {
	if opts.Project == "" {
		return nil, fmt.Errorf("cosense: project is required")
	}
	b := &Builder{
		baseURL:       strings.TrimSuffix(opts.BaseURL, "/"),
		project:       opts.Project,
		linkText:      opts.LinkText,
		maxBlockChars: opts.MaxBlockChars,
		loc:           opts.Location,
	}
	if b.loc == nil {
		b.loc = time.UTC
	}
	// Page titles have a fixed width, so the budget is known up front.
	static := b.baseURL + "/" + b.project + "/" + "?body="
	if n := b.bodyBudget(utf8.RuneCountInString(static) + titleLen); n < minBodyLen {
		return nil, &BudgetError{MaxBlockChars: b.maxBlockChars, BodyLen: n}
	}
	return b, nil
}

// URLBase returns the link prefix for a thread rooted at rootTS.
func (b *Builder) URLBase(rootTS string) string {
	return b.baseURL + "/" + b.project + "/" + transcript.FormatTime(rootTS, b.loc) + "?body="
}

// MaxBodyLen returns how many body characters fit in one link for urlBase.
func (b *Builder) MaxBodyLen(urlBase string) int {
	return b.bodyBudget(utf8.RuneCountInString(urlBase))
}

func (b *Builder) bodyBudget(urlBaseLen int) int {
	return b.maxBlockChars - urlBaseLen - utf8.RuneCountInString(b.linkText) - linkOverhead
}

// Transcript renders msgs as the page body before encoding: formatted
// messages joined by newlines, followed by a blank line.
func (b *Builder) Transcript(msgs []thread.Message, teamDomain, channelID string) string {
	parts := make([]string, len(msgs))
	for i, m := range msgs {
		parts[i] = transcript.Format(m, teamDomain, channelID, b.loc)
	}
	return strings.Join(parts, "\n") + "\n\n"
}

// BuildLinks formats msgs, encodes the transcript and splits it across as
// many links as needed to keep each rendered link within MaxBlockChars.
// An empty thread still yields one link.
func (b *Builder) BuildLinks(msgs []thread.Message, rootTS, teamDomain, channelID string) ([]LinkBlock, error) {
	body := Encode(b.Transcript(msgs, teamDomain, channelID))
	urlBase := b.URLBase(rootTS)

	maxBodyLen := b.MaxBodyLen(urlBase)
	chunks, err := Split(body, maxBodyLen)
	if err != nil {
		return nil, &BudgetError{MaxBlockChars: b.maxBlockChars, BodyLen: maxBodyLen}
	}

	links := make([]LinkBlock, len(chunks))
	for i, c := range chunks {
		links[i] = LinkBlock{DisplayText: b.linkText, TargetURL: urlBase + c}
	}
	return links, nil
}

// Split cuts an encoded body into chunks of at most maxLen characters
// without separating a %XX escape. Each cut starts at maxLen and moves left
// while either of the two preceding characters is '%'.
func Split(body string, maxLen int) ([]string, error) {
	if maxLen < minBodyLen {
		return nil, ErrBodyBudget
	}

	rest := []rune(body)
	var chunks []string
	for len(rest) > maxLen {
		idx := maxLen
		for idx > 0 && insideEscape(rest[:idx]) {
			idx--
		}
		if idx == 0 {
			return nil, ErrBodyBudget
		}
		chunks = append(chunks, string(rest[:idx]))
		rest = rest[idx:]
	}
	return append(chunks, string(rest)), nil
}

// insideEscape reports whether a cut after prefix would land inside a %XX
// escape, i.e. one of its last two characters is '%'.
func insideEscape(prefix []rune) bool {
	n := len(prefix)
	return prefix[n-1] == '%' || (n > 1 && prefix[n-2] == '%')
}

// Package transcript renders Slack messages as quoted Cosense text.
package transcript

import (
	"regexp"
	"strings"
	"time"

	"github.com/zulandar/cosense-bridge/internal/thread"
)

// TimeLayout is the timestamp format used in metadata lines and page titles.
const TimeLayout = "2006-01-02 15:04:05"

// linkPattern matches Slack link markup: <https://x> or <https://x|title>.
var linkPattern = regexp.MustCompile(`<(https?://[^>|]+)(?:\|([^>]+))?>`)

// entities undoes Slack's HTML escaping in a single pass, so "&amp;lt;"
// becomes "&lt;" and not "<".
var entities = strings.NewReplacer(
	"&lt;", "<",
	"&gt;", ">",
	"&amp;", "&",
	"&quot;", `"`,
	"&apos;", "'",
	"&nbsp;", " ",
)

// Format renders msg as a metadata line followed by its quoted body.
func Format(msg thread.Message, teamDomain, channelID string, loc *time.Location) string {
	var b strings.Builder
	b.WriteString(metadata(msg, teamDomain, channelID, loc))
	b.WriteByte('\n')
	b.WriteString(quote(Unescape(RewriteLinks(msg.Text))))
	return b.String()
}

// Permalink returns the Slack archive URL of the message at ts.
func Permalink(teamDomain, channelID, ts string) string {
	return "https://" + teamDomain + ".slack.com/archives/" + channelID + "/p" + strings.ReplaceAll(ts, ".", "")
}

// FormatTime renders a Slack timestamp in loc, truncated to whole seconds.
func FormatTime(ts string, loc *time.Location) string {
	return thread.ParseTimestamp(ts).In(loc).Format(TimeLayout)
}

// RewriteLinks converts Slack link markup into "title url", or the bare url
// when no title is given.
func RewriteLinks(text string) string {
	return linkPattern.ReplaceAllStringFunc(text, func(m string) string {
		sub := linkPattern.FindStringSubmatch(m)
		if sub[2] == "" {
			return sub[1]
		}
		return sub[2] + " " + sub[1]
	})
}

// Unescape replaces the HTML entities Slack uses in message text.
func Unescape(text string) string {
	return entities.Replace(text)
}

func metadata(msg thread.Message, teamDomain, channelID string, loc *time.Location) string {
	name := msg.AuthorName
	if name == "" {
		name = thread.UnknownUser
	}
	return "[" + name + ".icon] [" + FormatTime(msg.Timestamp, loc) + " " + Permalink(teamDomain, channelID, msg.Timestamp) + "]"
}

func quote(text string) string {
	lines := strings.Split(text, "\n")
	for i, l := range lines {
		lines[i] = "> " + l
	}
	return strings.Join(lines, "\n")
}

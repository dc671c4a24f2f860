// Package payload decodes inbound Slack webhook bodies into a closed set of
// variants.
package payload

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	slackapi "github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
)

// Kind names a decoded variant. It doubles as the metrics label.
type Kind string

const (
	KindURLVerification Kind = "url_verification"
	KindEventCallback   Kind = "event_callback"
	KindMessageAction   Kind = "message_action"
	KindShortcut        Kind = "shortcut"
	KindUnknown         Kind = "unknown"
)

// Payload is one of URLVerification, EventCallback, MessageAction, Shortcut
// or Unknown.
type Payload interface {
	Kind() Kind
	sealed()
}

// URLVerification is Slack's endpoint handshake.
type URLVerification struct {
	Challenge string
}

// EventCallback is an Events API delivery. Only the inner event type is kept.
type EventCallback struct {
	InnerType string
}

// MessageAction is a message shortcut invocation.
type MessageAction struct {
	CallbackID  string
	TeamID      string
	TeamDomain  string
	ChannelID   string
	ChannelName string
	UserID      string
	UserName    string
	ResponseURL string
	TriggerID   string
	Message     ActionMessage
}

// ActionMessage is the message a MessageAction was invoked on.
type ActionMessage struct {
	Timestamp       string
	ThreadTimestamp string
	UserID          string
	Text            string
}

// RootTimestamp returns the thread root: thread_ts when the message is a
// reply, otherwise its own ts.
func (m ActionMessage) RootTimestamp() string {
	if m.ThreadTimestamp != "" {
		return m.ThreadTimestamp
	}
	return m.Timestamp
}

// Shortcut is a global shortcut invocation. It is acknowledged, not handled.
type Shortcut struct {
	CallbackID string
}

// Unknown is any other request shape.
type Unknown struct {
	Type string
}

func (URLVerification) Kind() Kind { return KindURLVerification }
func (EventCallback) Kind() Kind   { return KindEventCallback }
func (MessageAction) Kind() Kind   { return KindMessageAction }
func (Shortcut) Kind() Kind        { return KindShortcut }
func (Unknown) Kind() Kind         { return KindUnknown }

func (URLVerification) sealed() {}
func (EventCallback) sealed()   {}
func (MessageAction) sealed()   {}
func (Shortcut) sealed()        {}
func (Unknown) sealed()         {}

// ValidationError reports a malformed body or a payload missing required
// fields.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "payload: " + e.Reason
}

func invalid(format string, args ...any) *ValidationError {
	return &ValidationError{Reason: fmt.Sprintf(format, args...)}
}

// envelope is the outer shape shared by Events API bodies and form fields.
type envelope struct {
	Type      string `json:"type"`
	Challenge string `json:"challenge"`
	Event     struct {
		Type string `json:"type"`
	} `json:"event"`
}

// Decode classifies a raw request body. JSON bodies are Events API
// deliveries; anything else is parsed as a form.
func Decode(body []byte) (Payload, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		return decodeEvent(trimmed)
	}
	return decodeForm(string(trimmed))
}

func decodeEvent(body []byte) (Payload, error) {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, invalid("malformed JSON body: %v", err)
	}
	switch env.Type {
	case slackevents.URLVerification:
		return URLVerification{Challenge: env.Challenge}, nil
	case slackevents.CallbackEvent:
		// ParseEvent rejects inner types it has no mapping for, so the
		// envelope's own event.type is the fallback.
		inner := env.Event.Type
		if ev, err := slackevents.ParseEvent(json.RawMessage(body), slackevents.OptionNoVerifyToken()); err == nil && ev.InnerEvent.Type != "" {
			inner = ev.InnerEvent.Type
		}
		return EventCallback{InnerType: inner}, nil
	}
	return Unknown{Type: env.Type}, nil
}

func decodeForm(body string) (Payload, error) {
	values, err := url.ParseQuery(body)
	if err != nil {
		return nil, invalid("malformed form body: %v", err)
	}
	if raw := values.Get("payload"); raw != "" {
		return decodeInteraction([]byte(raw))
	}
	switch typ := values.Get("type"); typ {
	case slackevents.URLVerification:
		return URLVerification{Challenge: values.Get("challenge")}, nil
	case slackevents.CallbackEvent:
		return EventCallback{}, nil
	default:
		return Unknown{Type: typ}, nil
	}
}

// interactionUser carries the fields of the interaction's user object that
// slack.User does not model.
type interactionUser struct {
	User struct {
		Username string `json:"username"`
	} `json:"user"`
}

func decodeInteraction(raw []byte) (Payload, error) {
	var cb slackapi.InteractionCallback
	if err := json.Unmarshal(raw, &cb); err != nil {
		return nil, invalid("invalid payload format: %v", err)
	}
	switch cb.Type {
	case slackapi.InteractionTypeMessageAction:
		var u interactionUser
		_ = json.Unmarshal(raw, &u)
		return messageAction(cb, u.User.Username)
	case slackapi.InteractionTypeShortcut:
		return Shortcut{CallbackID: cb.CallbackID}, nil
	default:
		return Unknown{Type: string(cb.Type)}, nil
	}
}

func messageAction(cb slackapi.InteractionCallback, username string) (MessageAction, error) {
	if username == "" {
		username = cb.User.Name
	}
	a := MessageAction{
		CallbackID:  cb.CallbackID,
		TeamID:      cb.Team.ID,
		TeamDomain:  cb.Team.Domain,
		ChannelID:   cb.Channel.ID,
		ChannelName: cb.Channel.Name,
		UserID:      cb.User.ID,
		UserName:    username,
		ResponseURL: cb.ResponseURL,
		TriggerID:   cb.TriggerID,
		Message: ActionMessage{
			Timestamp:       cb.Message.Timestamp,
			ThreadTimestamp: cb.Message.ThreadTimestamp,
			UserID:          cb.Message.User,
			Text:            cb.Message.Text,
		},
	}

	var missing []string
	for _, f := range []struct {
		name, value string
	}{
		{"callback_id", a.CallbackID},
		{"team.domain", a.TeamDomain},
		{"channel.id", a.ChannelID},
		{"message.ts", a.Message.Timestamp},
		{"response_url", a.ResponseURL},
	} {
		if f.value == "" {
			missing = append(missing, f.name)
		}
	}
	if len(missing) > 0 {
		return MessageAction{}, invalid("message_action missing %s", strings.Join(missing, ", "))
	}
	return a, nil
}

package payload

import (
	"errors"
	"net/url"
	"testing"

	"github.com/stretchr/testify/require"
)

const actionJSON = `{
  "type": "message_action",
  "callback_id": "share",
  "trigger_id": "13345224609.738474920.8088930838d88f008e0",
  "response_url": "https://hooks.slack.com/app/T1/1/abc",
  "team": {"id": "T1", "domain": "acme"},
  "channel": {"id": "C1", "name": "general"},
  "user": {"id": "U1", "username": "alice", "name": "alice.w"},
  "message": {"type": "message", "user": "U2", "ts": "1700000000.000200", "thread_ts": "1700000000.000100", "text": "hello"}
}`

func formBody(fields map[string]string) []byte {
	v := url.Values{}
	for k, val := range fields {
		v.Set(k, val)
	}
	return []byte(v.Encode())
}

func TestDecode_MessageAction(t *testing.T) {
	p, err := Decode(formBody(map[string]string{"payload": actionJSON}))
	require.NoError(t, err)

	a, ok := p.(MessageAction)
	require.True(t, ok, "payload type = %T", p)
	require.Equal(t, KindMessageAction, a.Kind())
	require.Equal(t, MessageAction{
		CallbackID:  "share",
		TeamID:      "T1",
		TeamDomain:  "acme",
		ChannelID:   "C1",
		ChannelName: "general",
		UserID:      "U1",
		UserName:    "alice",
		ResponseURL: "https://hooks.slack.com/app/T1/1/abc",
		TriggerID:   "13345224609.738474920.8088930838d88f008e0",
		Message: ActionMessage{
			Timestamp:       "1700000000.000200",
			ThreadTimestamp: "1700000000.000100",
			UserID:          "U2",
			Text:            "hello",
		},
	}, a)
	require.Equal(t, "1700000000.000100", a.Message.RootTimestamp())
}

func TestDecode_MessageActionUsernameFallback(t *testing.T) {
	body := `{"type":"message_action","callback_id":"share","response_url":"https://r",
	  "team":{"domain":"acme"},"channel":{"id":"C1"},"user":{"id":"U1","name":"bob"},
	  "message":{"ts":"1.2","text":"x"}}`
	p, err := Decode(formBody(map[string]string{"payload": body}))
	require.NoError(t, err)
	a := p.(MessageAction)
	require.Equal(t, "bob", a.UserName)
	require.Equal(t, "1.2", a.Message.RootTimestamp())
}

func TestDecode_MessageActionMissingFields(t *testing.T) {
	body := `{"type":"message_action","callback_id":"share","team":{"domain":"acme"},"channel":{},"message":{}}`
	_, err := Decode(formBody(map[string]string{"payload": body}))
	require.Error(t, err)

	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	require.Contains(t, verr.Reason, "channel.id")
	require.Contains(t, verr.Reason, "message.ts")
	require.Contains(t, verr.Reason, "response_url")
	require.NotContains(t, verr.Reason, "callback_id")
}

func TestDecode_MalformedPayload(t *testing.T) {
	_, err := Decode(formBody(map[string]string{"payload": "{not json"}))
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	require.Contains(t, err.Error(), "invalid payload format")
}

func TestDecode_Variants(t *testing.T) {
	tests := []struct {
		name string
		body []byte
		want Payload
	}{
		{
			name: "json url verification",
			body: []byte(`{"token":"t","challenge":"3eZbrw1aBm2rZgRNFdxV2595E9CY3gmdALWMmHkvFXO7tYXAYM8P","type":"url_verification"}`),
			want: URLVerification{Challenge: "3eZbrw1aBm2rZgRNFdxV2595E9CY3gmdALWMmHkvFXO7tYXAYM8P"},
		},
		{
			name: "form url verification",
			body: formBody(map[string]string{"type": "url_verification", "challenge": "abc"}),
			want: URLVerification{Challenge: "abc"},
		},
		{
			name: "json event callback",
			body: []byte(`{"token":"t","team_id":"T1","api_app_id":"A1","type":"event_callback","event":{"type":"app_mention","user":"U1","text":"hi","ts":"1.1","channel":"C1","event_ts":"1.1"}}`),
			want: EventCallback{InnerType: "app_mention"},
		},
		{
			name: "json event callback with unmapped inner type",
			body: []byte(`{"token":"t","type":"event_callback","event":{"type":"no_such_event"}}`),
			want: EventCallback{InnerType: "no_such_event"},
		},
		{
			name: "form event callback",
			body: formBody(map[string]string{"type": "event_callback"}),
			want: EventCallback{},
		},
		{
			name: "shortcut",
			body: formBody(map[string]string{"payload": `{"type":"shortcut","callback_id":"open"}`}),
			want: Shortcut{CallbackID: "open"},
		},
		{
			name: "unknown interaction",
			body: formBody(map[string]string{"payload": `{"type":"block_actions"}`}),
			want: Unknown{Type: "block_actions"},
		},
		{
			name: "unknown json type",
			body: []byte(`{"type":"app_rate_limited"}`),
			want: Unknown{Type: "app_rate_limited"},
		},
		{
			name: "empty form",
			body: nil,
			want: Unknown{},
		},
		{
			name: "unrelated form",
			body: formBody(map[string]string{"foo": "bar"}),
			want: Unknown{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Decode(tt.body)
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
			require.Equal(t, tt.want.Kind(), got.Kind())
		})
	}
}

func TestDecode_MalformedBodies(t *testing.T) {
	for name, body := range map[string]string{
		"json": `{"type":`,
		"form": "a=%zz",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := Decode([]byte(body))
			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
		})
	}
}

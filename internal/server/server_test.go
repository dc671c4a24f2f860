package server

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/zulandar/cosense-bridge/internal/metrics"
	"github.com/zulandar/cosense-bridge/internal/payload"
	"github.com/zulandar/cosense-bridge/internal/share"
	"github.com/zulandar/cosense-bridge/internal/signature"
)

const testSecret = "8f742231b10e8888abcd99yyyzzz85a5"

var testNow = time.Date(2023, 11, 14, 22, 13, 20, 0, time.UTC)

type stubAction struct {
	result share.Result
	panics bool
	got    []payload.MessageAction
}

func (s *stubAction) Handle(_ context.Context, a payload.MessageAction) share.Result {
	if s.panics {
		panic("boom")
	}
	s.got = append(s.got, a)
	return s.result
}

func newTestRouter(t *testing.T, actions map[string]ActionHandler) (*gin.Engine, *clockwork.FakeClock) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	clock := clockwork.NewFakeClockAt(testNow)
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	w := NewWebhook(WebhookOpts{
		SigningSecret:   testSecret,
		Clock:           clock,
		BodyReadTimeout: 100 * time.Millisecond,
		RequestMaxAge:   5 * time.Minute,
		Actions:         actions,
		Logger:          log,
	})
	return NewRouter(w, log), clock
}

func signedRequest(t *testing.T, path, body string, ts time.Time) *http.Request {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	stamp := strconv.FormatInt(ts.Unix(), 10)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set(signature.TimestampHeader, stamp)
	req.Header.Set(signature.SignatureHeader, signature.Compute(testSecret, []byte(body), stamp))
	return req
}

func serve(router http.Handler, req *http.Request) (int, map[string]any) {
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	var out map[string]any
	_ = json.Unmarshal(rec.Body.Bytes(), &out)
	return rec.Code, out
}

func actionBody(callbackID string) string {
	raw := `{"type":"message_action","callback_id":"` + callbackID + `",` +
		`"response_url":"https://hooks.slack.test/r","team":{"id":"T1","domain":"acme"},` +
		`"channel":{"id":"C1","name":"general"},"user":{"id":"U1","username":"alice"},` +
		`"message":{"ts":"1700000000.000100","text":"hello"}}`
	return url.Values{"payload": {raw}}.Encode()
}

func TestLiveness(t *testing.T) {
	router, _ := newTestRouter(t, nil)
	for _, path := range []string{"/", "/slack/events", "/slack/actions"} {
		code, out := serve(router, httptest.NewRequest(http.MethodGet, path, nil))
		require.Equal(t, http.StatusOK, code, path)
		require.Equal(t, "Slack Events API endpoint is working", out["message"])
		require.Equal(t, "2023-11-14T22:13:20.000Z", out["timestamp"])
	}
}

func TestMethodNotAllowed(t *testing.T) {
	router, _ := newTestRouter(t, nil)
	for _, m := range []string{http.MethodPut, http.MethodDelete, http.MethodPatch} {
		code, out := serve(router, httptest.NewRequest(m, "/slack/events", nil))
		require.Equal(t, http.StatusMethodNotAllowed, code, m)
		require.Equal(t, "Method not allowed", out["error"])
	}
}

func TestURLVerification(t *testing.T) {
	router, _ := newTestRouter(t, nil)

	body := `{"token":"t","challenge":"abc123","type":"url_verification"}`
	code, out := serve(router, signedRequest(t, "/slack/events", body, testNow))
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "abc123", out["challenge"])

	form := "type=url_verification&challenge=xyz"
	code, out = serve(router, signedRequest(t, "/slack/actions", form, testNow))
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "xyz", out["challenge"])
}

func TestEventCallback(t *testing.T) {
	router, _ := newTestRouter(t, nil)
	body := `{"token":"t","type":"event_callback","event":{"type":"app_mention","user":"U1","text":"hi","ts":"1.1","channel":"C1","event_ts":"1.1"}}`
	code, out := serve(router, signedRequest(t, "/slack/events", body, testNow))
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "received", out["status"])
}

func TestMessageAction(t *testing.T) {
	tests := []struct {
		name       string
		callbackID string
		result     share.Result
		wantCode   int
		wantKey    string
		wantValue  string
		wantCalls  int
	}{
		{"success", "share", share.Result{Success: true}, http.StatusOK, "status", "success", 1},
		{"pipeline failure", "share", share.Result{Error: "channel_not_found"}, http.StatusInternalServerError, "error", "channel_not_found", 1},
		{"unregistered callback", "other", share.Result{}, http.StatusOK, "status", "unknown_request", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stub := &stubAction{result: tt.result}
			router, _ := newTestRouter(t, map[string]ActionHandler{"share": stub})

			code, out := serve(router, signedRequest(t, "/slack/actions", actionBody(tt.callbackID), testNow))
			require.Equal(t, tt.wantCode, code)
			require.Equal(t, tt.wantValue, out[tt.wantKey])
			require.Len(t, stub.got, tt.wantCalls)
			if tt.wantCalls > 0 {
				require.Equal(t, "C1", stub.got[0].ChannelID)
				require.Equal(t, "acme", stub.got[0].TeamDomain)
			}
		})
	}
}

func TestShortcutAndUnknown(t *testing.T) {
	router, _ := newTestRouter(t, nil)

	shortcut := url.Values{"payload": {`{"type":"shortcut","callback_id":"open"}`}}.Encode()
	code, out := serve(router, signedRequest(t, "/slack/actions", shortcut, testNow))
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "shortcut received", out["status"])

	code, out = serve(router, signedRequest(t, "/slack/actions", "foo=bar", testNow))
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "unknown_request", out["status"])
}

func TestInvalidPayload(t *testing.T) {
	router, _ := newTestRouter(t, nil)

	body := url.Values{"payload": {"{not json"}}.Encode()
	code, out := serve(router, signedRequest(t, "/slack/actions", body, testNow))
	require.Equal(t, http.StatusBadRequest, code)
	require.Contains(t, out["error"], "invalid payload format")

	missing := url.Values{"payload": {`{"type":"message_action","callback_id":"share"}`}}.Encode()
	code, _ = serve(router, signedRequest(t, "/slack/actions", missing, testNow))
	require.Equal(t, http.StatusBadRequest, code)
}

func TestAuthentication(t *testing.T) {
	router, _ := newTestRouter(t, nil)
	body := "type=url_verification&challenge=xyz"

	t.Run("missing headers", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/slack/events", strings.NewReader(body))
		code, out := serve(router, req)
		require.Equal(t, http.StatusUnauthorized, code)
		require.Equal(t, "Missing signature headers", out["error"])
	})

	t.Run("missing signature only", func(t *testing.T) {
		req := signedRequest(t, "/slack/events", body, testNow)
		req.Header.Del(signature.SignatureHeader)
		code, _ := serve(router, req)
		require.Equal(t, http.StatusUnauthorized, code)
	})

	t.Run("bad signature", func(t *testing.T) {
		rejected := metrics.RejectedTotal.WithLabelValues("bad_signature")
		before := testutil.ToFloat64(rejected)

		req := signedRequest(t, "/slack/events", body, testNow)
		req.Header.Set(signature.SignatureHeader, "v0=deadbeef")
		code, out := serve(router, req)
		require.Equal(t, http.StatusUnauthorized, code)
		require.Equal(t, "Invalid signature", out["error"])
		require.Equal(t, before+1, testutil.ToFloat64(rejected))
	})

	t.Run("tampered body", func(t *testing.T) {
		req := signedRequest(t, "/slack/events", body, testNow)
		req.Body = io.NopCloser(strings.NewReader(body + "x"))
		code, _ := serve(router, req)
		require.Equal(t, http.StatusUnauthorized, code)
	})

	t.Run("stale timestamp", func(t *testing.T) {
		code, out := serve(router, signedRequest(t, "/slack/events", body, testNow.Add(-10*time.Minute)))
		require.Equal(t, http.StatusUnauthorized, code)
		require.Equal(t, "Invalid request timestamp", out["error"])
	})

	t.Run("non-numeric timestamp", func(t *testing.T) {
		req := signedRequest(t, "/slack/events", body, testNow)
		req.Header.Set(signature.TimestampHeader, "yesterday")
		code, _ := serve(router, req)
		require.Equal(t, http.StatusUnauthorized, code)
	})
}

func TestFreshnessFollowsClock(t *testing.T) {
	router, clock := newTestRouter(t, nil)
	body := "type=url_verification&challenge=xyz"

	req := signedRequest(t, "/slack/events", body, testNow)
	clock.Advance(4 * time.Minute)
	code, _ := serve(router, req)
	require.Equal(t, http.StatusOK, code)

	req = signedRequest(t, "/slack/events", body, testNow)
	clock.Advance(2 * time.Minute)
	code, _ = serve(router, req)
	require.Equal(t, http.StatusUnauthorized, code)
}

func TestBodyReadTimeout(t *testing.T) {
	router, _ := newTestRouter(t, nil)

	pr, pw := io.Pipe()
	t.Cleanup(func() { pw.Close() })

	req := httptest.NewRequest(http.MethodPost, "/slack/events", pr)
	req.Header.Set(signature.TimestampHeader, strconv.FormatInt(testNow.Unix(), 10))
	req.Header.Set(signature.SignatureHeader, "v0=00")

	code, out := serve(router, req)
	require.Equal(t, http.StatusRequestTimeout, code)
	require.Equal(t, "Request body read timeout", out["error"])
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, io.ErrUnexpectedEOF }

func TestBodyReadError(t *testing.T) {
	router, _ := newTestRouter(t, nil)

	req := httptest.NewRequest(http.MethodPost, "/slack/events", failingReader{})
	req.Header.Set(signature.TimestampHeader, strconv.FormatInt(testNow.Unix(), 10))
	req.Header.Set(signature.SignatureHeader, "v0=00")

	code, _ := serve(router, req)
	require.Equal(t, http.StatusBadRequest, code)
}

func TestPanicRecovery(t *testing.T) {
	router, _ := newTestRouter(t, map[string]ActionHandler{"share": &stubAction{panics: true}})

	code, out := serve(router, signedRequest(t, "/slack/actions", actionBody("share"), testNow))
	require.Equal(t, http.StatusInternalServerError, code)
	require.Equal(t, "internal server error", out["error"])
}

func TestOperationalRoutes(t *testing.T) {
	router, _ := newTestRouter(t, nil)

	code, out := serve(router, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "ok", out["status"])

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestStart_NilWebhook(t *testing.T) {
	err := Start(context.Background(), StartOpts{})
	require.ErrorContains(t, err, "webhook is required")
}

func TestStart_ShutsDownOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		errCh <- Start(ctx, StartOpts{
			Webhook: NewWebhook(WebhookOpts{SigningSecret: testSecret}),
			Addr:    "127.0.0.1:0",
			Logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
		})
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}

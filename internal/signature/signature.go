// Package signature verifies Slack request signatures.
//
// Slack signs each request with HMAC-SHA256 over "v0:<timestamp>:<body>"
// using the app's signing secret and sends the hex digest, prefixed with
// "v0=", in the X-Slack-Signature header.
package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strconv"
	"time"
)

const (
	// TimestampHeader carries the request timestamp in Unix seconds.
	TimestampHeader = "X-Slack-Request-Timestamp"

	// SignatureHeader carries the "v0=" prefixed HMAC signature.
	SignatureHeader = "X-Slack-Signature"

	version = "v0"
)

var (
	// ErrInvalidTimestamp is returned when the timestamp header is not an integer.
	ErrInvalidTimestamp = errors.New("invalid request timestamp")

	// ErrStaleTimestamp is returned when the timestamp is outside the allowed window.
	ErrStaleTimestamp = errors.New("request timestamp outside allowed window")
)

// Compute returns the signature Slack would send for body at timestamp.
func Compute(secret string, body []byte, timestamp string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(version + ":" + timestamp + ":"))
	mac.Write(body)
	return version + "=" + hex.EncodeToString(mac.Sum(nil))
}

// Verify reports whether signature is valid for body and timestamp.
// The comparison is constant time for equal-length inputs; a length mismatch
// returns false.
func Verify(secret string, body []byte, timestamp, signature string) bool {
	expected := Compute(secret, body, timestamp)
	return hmac.Equal([]byte(expected), []byte(signature))
}

// CheckFreshness rejects timestamps more than maxAge away from now in either
// direction. A zero maxAge disables the check but the timestamp must still
// parse.
func CheckFreshness(now time.Time, timestamp string, maxAge time.Duration) error {
	sec, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return ErrInvalidTimestamp
	}
	if maxAge <= 0 {
		return nil
	}
	delta := now.Sub(time.Unix(sec, 0))
	if delta > maxAge || delta < -maxAge {
		return ErrStaleTimestamp
	}
	return nil
}

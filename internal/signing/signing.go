// Package signing implements the keyed MAC that proves a notification's
// origin to its recipient. The signature covers both the payload bytes and
// the timestamp they were signed at, so a captured request cannot be
// replayed outside the recipient's tolerance window.
package signing

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"time"
)

// Delimiter joins the timestamp and payload in the signature input.
const Delimiter = "."

// Sign computes the hex-encoded HMAC-SHA256 of "timestamp.payload" keyed by
// the recipient secret. The timestamp is epoch milliseconds.
func Sign(secret string, timestamp int64, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(strconv.FormatInt(timestamp, 10)))
	mac.Write([]byte(Delimiter))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify recomputes the signature and compares it in constant time.
func Verify(secret string, timestamp int64, payload []byte, signature string) bool {
	want := Sign(secret, timestamp, payload)
	return hmac.Equal([]byte(signature), []byte(want))
}

// VerifyRequest validates an incoming signed request the way a recipient
// should: constant-time signature comparison plus a timestamp tolerance
// check. It returns false with a diagnostic message on any failure. This is
// the reference behavior published to webhook consumers; the engine itself
// only uses it in the fake receiver and in tests.
func VerifyRequest(secret, tsHeader string, body []byte, signature string, leeway time.Duration, now time.Time) (bool, string) {
	if tsHeader == "" || signature == "" {
		return false, "missing headers"
	}
	millis, err := strconv.ParseInt(tsHeader, 10, 64)
	if err != nil {
		return false, "invalid timestamp"
	}
	signedAt := time.UnixMilli(millis)
	skew := now.Sub(signedAt)
	if skew < 0 {
		skew = -skew
	}
	if skew > leeway {
		return false, "timestamp too far from now (outside leeway)"
	}
	if !Verify(secret, millis, body, signature) {
		return false, "sig mismatch"
	}
	return true, ""
}

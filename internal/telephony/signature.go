package telephony

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strconv"
	"time"
)

// MaxTimestampSkew bounds how stale a webhook timestamp may be before the
// request is rejected as a possible replay.
const MaxTimestampSkew = 300 * time.Second

var (
	ErrMissingSignature = errors.New("telephony: missing signature or timestamp header")
	ErrBadTimestamp     = errors.New("telephony: malformed signature timestamp")
	ErrStaleTimestamp   = errors.New("telephony: signature timestamp outside tolerance")
	ErrBadSignature     = errors.New("telephony: signature mismatch")
)

// VerifyWebhookSignature checks the provider's HMAC-SHA256 signature over
// "<timestamp>.<body>". The comparison is constant-time regardless of which
// part of the check fails first.
func VerifyWebhookSignature(secret string, body []byte, timestamp, signature string, now time.Time) error {
	if timestamp == "" || signature == "" {
		return ErrMissingSignature
	}
	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return ErrBadTimestamp
	}
	sent := time.Unix(ts, 0)
	skew := now.Sub(sent)
	if skew < 0 {
		skew = -skew
	}
	if skew > MaxTimestampSkew {
		return ErrStaleTimestamp
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp))
	mac.Write([]byte("."))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return ErrBadSignature
	}
	return nil
}

// SignWebhookPayload produces the signature the provider would send for the
// given body and timestamp. Used by the bulk importer's replay path and tests.
func SignWebhookPayload(secret string, body []byte, timestamp string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp))
	mac.Write([]byte("."))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

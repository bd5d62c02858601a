// Package webhook receives out-of-band approval decisions: a signed Slack
// interaction endpoint that writes decision files for the approval
// protocol's poller, plus a health endpoint.
package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"time"
)

// signatureVersion prefixes every signature base string.
const signatureVersion = "v0"

// MaxTimestampSkew is how stale a signed request may be.
const MaxTimestampSkew = 300 * time.Second

// ComputeSignature builds the expected signature for a request:
// lowercase hex HMAC-SHA256 over "v0:{timestamp}:{body}".
func ComputeSignature(secret, timestamp string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%s:%s:", signatureVersion, timestamp)
	mac.Write(body)
	return signatureVersion + "=" + hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks timestamp freshness and compares the presented
// signature in constant time.
func VerifySignature(secret, timestamp, signature string, body []byte, now time.Time) error {
	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid timestamp %q", timestamp)
	}
	age := now.Unix() - ts
	if age < 0 {
		age = -age
	}
	if time.Duration(age)*time.Second > MaxTimestampSkew {
		return fmt.Errorf("timestamp outside the %s freshness window", MaxTimestampSkew)
	}

	expected := ComputeSignature(secret, timestamp, body)
	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return fmt.Errorf("signature mismatch")
	}
	return nil
}

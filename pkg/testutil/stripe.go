package testutil

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// StripeSignature builds a Stripe-Signature header for payload signed with
// secret at time at.
func StripeSignature(secret string, payload []byte, at time.Time) string {
	ts := at.Unix()
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = fmt.Fprintf(mac, "%d.", ts)
	_, _ = mac.Write(payload)
	return fmt.Sprintf("t=%d,v1=%s", ts, hex.EncodeToString(mac.Sum(nil)))
}

// StripeEvent renders a minimal event envelope around object.
func StripeEvent(eventID, eventType, object string) []byte {
	return []byte(fmt.Sprintf(
		`{"id":%q,"object":"event","api_version":"2023-10-16","type":%q,"data":{"object":%s}}`,
		eventID, eventType, object,
	))
}

// Package testutil builds requests for the HTTP surfaces and decodes their
// responses in handler tests.
package testutil

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// NewJSONRequest marshals body and sets the JSON content type. A non-empty
// bearer is sent as the Authorization header.
func NewJSONRequest(t *testing.T, method, path, bearer string, body any) *http.Request {
	t.Helper()

	raw, err := json.Marshal(body)
	require.NoError(t, err, "marshal request body")

	req := httptest.NewRequest(method, path, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	return req
}

// NewWebhookRequest posts payload to path signed with secret at the given time.
// An empty secret leaves the Stripe-Signature header off.
func NewWebhookRequest(path, secret string, payload []byte, at time.Time) *http.Request {
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(payload))
	if secret != "" {
		req.Header.Set("Stripe-Signature", StripeSignature(secret, payload, at))
	}
	return req
}

// DoRequest runs req against handler.
func DoRequest(handler http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	return rr
}

// DecodeResponse unmarshals the recorded body into T.
func DecodeResponse[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &out), "decode response: %s", rr.Body.String())
	return out
}

// AssertStatus fails the test with the response body when the code differs.
func AssertStatus(t *testing.T, rr *httptest.ResponseRecorder, expected int) bool {
	t.Helper()
	return assert.Equal(t, expected, rr.Code, "unexpected status, body: %s", rr.Body.String())
}

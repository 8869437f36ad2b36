// Package security implements webhook authentication and log hygiene:
// Twilio-style HMAC-SHA1 request signatures, SID format checks, and masking
// of sensitive values before they reach the logs.
package security

import (
	"crypto/hmac"
	"crypto/sha1"
	"crypto/subtle"
	"encoding/base64"
	"net/url"
	"sort"
	"strings"
)

// ComputeSignature computes the webhook signature for a form-encoded POST:
// HMAC-SHA1 over the full URL concatenated with the form's key/value pairs
// sorted by key, base64-encoded.
func ComputeSignature(rawURL string, form url.Values, authToken string) string {
	keys := make([]string, 0, len(form))
	for k := range form {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	sb.WriteString(rawURL)
	for _, k := range keys {
		for _, v := range form[k] {
			sb.WriteString(k)
			sb.WriteString(v)
		}
	}

	mac := hmac.New(sha1.New, []byte(authToken))
	mac.Write([]byte(sb.String()))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// ValidateSignature checks a webhook signature in constant time.
// An empty signature never validates.
func ValidateSignature(rawURL string, form url.Values, authToken, signature string) bool {
	if signature == "" || authToken == "" {
		return false
	}
	expected := ComputeSignature(rawURL, form, authToken)
	return subtle.ConstantTimeCompare([]byte(signature), []byte(expected)) == 1
}

package security

import (
	"net/url"
	"strings"
	"testing"
)

func TestSignatureRoundTrip(t *testing.T) {
	form := url.Values{}
	form.Set("ConversationSid", "CH"+strings.Repeat("0", 32))
	form.Set("Body", "Hello")
	form.Set("Author", "cust1")

	rawURL := "https://bot.example.com/webhook/message-added"
	sig := ComputeSignature(rawURL, form, "auth-token")

	if !ValidateSignature(rawURL, form, "auth-token", sig) {
		t.Error("valid signature rejected")
	}
	if ValidateSignature(rawURL, form, "other-token", sig) {
		t.Error("signature accepted with wrong token")
	}
	if ValidateSignature("https://bot.example.com/other", form, "auth-token", sig) {
		t.Error("signature accepted for different URL")
	}

	tampered := url.Values{}
	for k, v := range form {
		tampered[k] = v
	}
	tampered.Set("Body", "Hacked")
	if ValidateSignature(rawURL, tampered, "auth-token", sig) {
		t.Error("signature accepted with tampered form")
	}
}

func TestSignatureKeyOrdering(t *testing.T) {
	// Parameters must be concatenated sorted by key regardless of insertion
	// order, so two forms with the same pairs produce the same signature.
	a := url.Values{}
	a.Set("Zebra", "1")
	a.Set("Alpha", "2")

	b := url.Values{}
	b.Set("Alpha", "2")
	b.Set("Zebra", "1")

	rawURL := "https://bot.example.com/webhook"
	if ComputeSignature(rawURL, a, "tok") != ComputeSignature(rawURL, b, "tok") {
		t.Error("signature depends on insertion order")
	}
}

func TestValidateSignatureEmpty(t *testing.T) {
	form := url.Values{"A": {"1"}}
	if ValidateSignature("https://x", form, "tok", "") {
		t.Error("empty signature validated")
	}
	if ValidateSignature("https://x", form, "", "sig") {
		t.Error("empty token validated")
	}
}

func TestSIDValidation(t *testing.T) {
	tests := []struct {
		sid   string
		check func(string) bool
		want  bool
	}{
		{"CH" + strings.Repeat("a", 32), ValidConversationSID, true},
		{"CH" + strings.Repeat("a", 31), ValidConversationSID, false},
		{"IS" + strings.Repeat("a", 32), ValidConversationSID, false},
		{"CH" + strings.Repeat("a", 31) + "!", ValidConversationSID, false},
		{"IS" + strings.Repeat("0", 32), ValidServiceSID, true},
		{"IM" + strings.Repeat("F", 32), ValidMessageSID, true},
		{"", ValidMessageSID, false},
	}
	for _, tt := range tests {
		if got := tt.check(tt.sid); got != tt.want {
			t.Errorf("valid(%q) = %v, want %v", tt.sid, got, tt.want)
		}
	}
}

func TestMask(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"", "[REDACTED]"},
		{"abcd", "[REDACTED]"},
		{"abcdef", "******"},
		{"AC1234567890", "AC********90"},
	}
	for _, tt := range tests {
		if got := Mask(tt.in); got != tt.want {
			t.Errorf("Mask(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

package bridge

import (
	"errors"
	"fmt"
	"testing"
)

func TestMessageForClassifiedErrors(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{ErrInvalidCaptcha, "Invalid captcha. Please try again."},
		{ErrInvalidCredentials, "Invalid username or password."},
		{ErrSessionExpired, "Session expired. Please login again."},
		{ErrInvalidUpstreamResponse, "Invalid response from server. Session may have expired."},
		{ErrMissingField, "Missing required fields"},
	}

	for _, tt := range tests {
		if got := Message(tt.err); got != tt.want {
			t.Errorf("Message(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}

func TestMessageSurvivesWrapping(t *testing.T) {
	wrapped := fmt.Errorf("%w: token %q", ErrSessionMissing, "ABC")
	if got := Message(wrapped); got != "Session not found. Please fetch a new captcha." {
		t.Errorf("Message(wrapped) = %q", got)
	}
}

func TestMessageGenericFallback(t *testing.T) {
	if got := Message(errors.New("raw upstream text we must not surface")); got != "Something went wrong. Please try again." {
		t.Errorf("Unclassified errors must map to the generic message, got %q", got)
	}
}

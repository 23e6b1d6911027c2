package authcode

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"testing"

	"golang.org/x/oauth2"
)

func TestAuthenticationError_IsMatchesByType(t *testing.T) {
	err := fmt.Errorf("run: %w", NewAuthenticationError(ErrCsrfMismatch, errors.New("state mismatch")))
	if !errors.Is(err, ErrCsrfMismatch) {
		t.Fatal("errors.Is did not match the prototype")
	}
	if errors.Is(err, ErrBindFailed) {
		t.Fatal("errors.Is matched an unrelated prototype")
	}
	if !IsAuthenticationError(err) || IsOAuthError(err) {
		t.Fatal("classification helpers disagree")
	}
}

func TestProviderErrorCode(t *testing.T) {
	withCode := NewAuthenticationError(ErrCodeExchangeFailed, &oauth2.RetrieveError{ErrorCode: "invalid_grant"})
	if got := ProviderErrorCode(withCode); got != "invalid_grant" {
		t.Fatalf("ProviderErrorCode = %q", got)
	}

	statusOnly := &oauth2.RetrieveError{Response: &http.Response{Status: "502 Bad Gateway"}}
	if got := ProviderErrorCode(statusOnly); got != "502 Bad Gateway" {
		t.Fatalf("ProviderErrorCode = %q", got)
	}

	if got := ProviderErrorCode(errors.New("boom")); got != "" {
		t.Fatalf("ProviderErrorCode = %q, want empty", got)
	}
}

func TestGetUserFriendlyMessage(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"denied", NewOAuthError("access_denied", "user said no"), "user said no (access_denied)"},
		{"bind", NewAuthenticationError(ErrBindFailed, errors.New("address already in use")), "redirect listener could not start"},
		{"timeout", NewAuthenticationError(ErrRedirectTimeout, nil), "no valid redirect"},
		{"csrf", NewAuthenticationError(ErrCsrfMismatch, nil), "security reasons"},
		{"exchange", NewAuthenticationError(ErrCodeExchangeFailed, &oauth2.RetrieveError{ErrorCode: "invalid_client"}), "invalid_client"},
		{"unknown", errors.New("boom"), "unexpected error"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := GetUserFriendlyMessage(tt.err); !strings.Contains(got, tt.want) {
				t.Fatalf("GetUserFriendlyMessage = %q, want it to contain %q", got, tt.want)
			}
		})
	}
}

package authcode

import (
	"errors"
	"fmt"

	"golang.org/x/oauth2"
)

// OAuthError is an error reported by the identity provider on the redirect,
// for example when the user denies consent.
type OAuthError struct {
	// Code is the OAuth error code.
	Code string `json:"error"`
	// Description is the provider's human-readable reason, if any.
	Description string `json:"error_description,omitempty"`
}

// Error returns a string representation of the OAuth error.
func (e *OAuthError) Error() string {
	if e.Description != "" {
		return fmt.Sprintf("OAuth error %s: %s", e.Code, e.Description)
	}
	return fmt.Sprintf("OAuth error: %s", e.Code)
}

// NewOAuthError creates a new OAuth error with the specified code and description.
func NewOAuthError(code, description string) *OAuthError {
	return &OAuthError{
		Code:        code,
		Description: description,
	}
}

// AuthenticationError represents a failure of the local authorization flow.
type AuthenticationError struct {
	// Type is the type of authentication error.
	Type string `json:"type"`
	// Message is a human-readable message describing the error.
	Message string `json:"message"`
	// Code is the process exit code associated with the error.
	Code int `json:"code"`
	// Cause is the underlying error that caused this authentication error.
	Cause error `json:"-"`
}

// Error returns a string representation of the authentication error.
func (e *AuthenticationError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap exposes the underlying cause.
func (e *AuthenticationError) Unwrap() error {
	return e.Cause
}

// Is matches authentication errors by Type so callers can compare against the
// package-level prototypes with errors.Is.
func (e *AuthenticationError) Is(target error) bool {
	t, ok := target.(*AuthenticationError)
	return ok && t.Type == e.Type
}

// Common authentication error types.
var (
	// ErrBindFailed is returned when the redirect listener cannot claim its address.
	ErrBindFailed = &AuthenticationError{
		Type:    "bind_failed",
		Message: "Failed to bind the OAuth redirect listener",
		Code:    13,
	}

	// ErrRedirectTimeout is returned when no redirect arrives within the wait budget.
	ErrRedirectTimeout = &AuthenticationError{
		Type:    "redirect_timeout",
		Message: "Timeout waiting for OAuth redirect",
		Code:    1,
	}

	// ErrMalformedRedirect is returned when the listener keeps receiving requests
	// that do not carry an authorization response.
	ErrMalformedRedirect = &AuthenticationError{
		Type:    "malformed_redirect",
		Message: "OAuth redirect did not carry an authorization response",
		Code:    1,
	}

	// ErrCsrfMismatch is returned when the redirect state differs from the one sent.
	ErrCsrfMismatch = &AuthenticationError{
		Type:    "csrf_mismatch",
		Message: "OAuth state parameter is invalid",
		Code:    1,
	}

	// ErrCodeExchangeFailed is returned when exchanging the authorization code fails.
	ErrCodeExchangeFailed = &AuthenticationError{
		Type:    "code_exchange_failed",
		Message: "Failed to exchange authorization code for tokens",
		Code:    1,
	}

	// ErrInvalidEndpoint is returned when the endpoint configuration is unusable.
	ErrInvalidEndpoint = &AuthenticationError{
		Type:    "invalid_endpoint",
		Message: "OAuth endpoint configuration is invalid",
		Code:    1,
	}

	// ErrInvalidTransition is returned when a flow method is called in the wrong state.
	ErrInvalidTransition = &AuthenticationError{
		Type:    "invalid_transition",
		Message: "OAuth flow is not in the required state",
		Code:    1,
	}
)

// NewAuthenticationError creates a new authentication error with a cause based on a base error.
func NewAuthenticationError(baseErr *AuthenticationError, cause error) *AuthenticationError {
	return &AuthenticationError{
		Type:    baseErr.Type,
		Message: baseErr.Message,
		Code:    baseErr.Code,
		Cause:   cause,
	}
}

// IsAuthenticationError checks if an error is an authentication error.
func IsAuthenticationError(err error) bool {
	var authenticationError *AuthenticationError
	return errors.As(err, &authenticationError)
}

// IsOAuthError checks if an error is an OAuth error.
func IsOAuthError(err error) bool {
	var oAuthError *OAuthError
	return errors.As(err, &oAuthError)
}

// ProviderErrorCode returns the error code reported by the token endpoint, if err
// carries one.
func ProviderErrorCode(err error) string {
	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) {
		if retrieveErr.ErrorCode != "" {
			return retrieveErr.ErrorCode
		}
		if retrieveErr.Response != nil {
			return retrieveErr.Response.Status
		}
	}
	return ""
}

// GetUserFriendlyMessage returns a user-friendly error message based on the error type.
// It never includes state values or tokens.
func GetUserFriendlyMessage(err error) string {
	var oauthErr *OAuthError
	if errors.As(err, &oauthErr) {
		if oauthErr.Description != "" {
			return fmt.Sprintf("Authorization denied by the provider: %s (%s)", oauthErr.Description, oauthErr.Code)
		}
		return fmt.Sprintf("Authorization denied by the provider: %s", oauthErr.Code)
	}

	var authErr *AuthenticationError
	if !errors.As(err, &authErr) {
		return "An unexpected error occurred. Please try again."
	}
	switch authErr.Type {
	case ErrBindFailed.Type:
		return fmt.Sprintf("Could not complete sign-in: the redirect listener could not start (%v).", authErr.Cause)
	case ErrRedirectTimeout.Type, ErrMalformedRedirect.Type:
		return "Could not complete sign-in: no valid redirect was received. Please try again."
	case ErrCsrfMismatch.Type:
		return "Sign-in rejected for security reasons: the redirect did not belong to this request."
	case ErrCodeExchangeFailed.Type:
		if code := ProviderErrorCode(err); code != "" {
			return fmt.Sprintf("Token exchange failed: %s", code)
		}
		return fmt.Sprintf("Token exchange failed: %v", authErr.Cause)
	case ErrInvalidEndpoint.Type:
		return fmt.Sprintf("Invalid OAuth 2.0 configuration: %v", authErr.Cause)
	default:
		return "Authentication failed. Please try again."
	}
}

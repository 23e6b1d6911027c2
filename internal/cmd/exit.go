package cmd

import (
	"context"
	"errors"

	"github.com/router-for-me/mailsetup/internal/auth/authcode"
	"github.com/router-for-me/mailsetup/internal/wizard"
)

// ExitCode maps the result of a command to the process exit status.
// Aborting the wizard, including with Ctrl-C, is a normal way out and exits with 0.
func ExitCode(err error) int {
	switch {
	case err == nil, isAbort(err):
		return 0
	case errors.Is(err, authcode.ErrBindFailed):
		return authcode.ErrBindFailed.Code
	default:
		return 1
	}
}

// UserMessage returns the text shown to the user for a failed command.
func UserMessage(err error) string {
	switch {
	case err == nil:
		return ""
	case isAbort(err):
		return "Setup aborted, nothing was changed."
	case authcode.IsAuthenticationError(err), authcode.IsOAuthError(err):
		return authcode.GetUserFriendlyMessage(err)
	default:
		return err.Error()
	}
}

func isAbort(err error) bool {
	return errors.Is(err, wizard.ErrUserAborted) || errors.Is(err, context.Canceled)
}

package wizard

import (
	"context"
	"errors"
	"fmt"
)

// ErrUserAborted is returned when the user cancels any prompt. It unwinds the whole
// wizard; the caller decides how to exit.
var ErrUserAborted = errors.New("setup aborted by user")

// Prompter asks the user questions. Implementations return ErrUserAborted when the
// user cancels a prompt or ctx is cancelled while a prompt is open.
type Prompter interface {
	// Input asks for a line of text. def is offered as the default answer and
	// validate, when non-nil, must accept the answer.
	Input(ctx context.Context, prompt, def string, validate func(string) error) (string, error)
	// Password asks for a hidden line of text.
	Password(ctx context.Context, prompt string, validate func(string) error) (string, error)
	// Select asks the user to pick one option and returns its index.
	Select(ctx context.Context, prompt string, options []string, def int) (int, error)
	// Confirm asks a yes/no question.
	Confirm(ctx context.Context, prompt string, def bool) (bool, error)
}

// selectOne presents options by their String form and returns the chosen value.
func selectOne[T fmt.Stringer](ctx context.Context, p Prompter, prompt string, options []T, def int) (T, error) {
	var zero T
	labels := make([]string, len(options))
	for i, o := range options {
		labels[i] = o.String()
	}
	idx, err := p.Select(ctx, prompt, labels, def)
	if err != nil {
		return zero, err
	}
	if idx < 0 || idx >= len(options) {
		return zero, fmt.Errorf("%s: choice %d out of range", prompt, idx)
	}
	return options[idx], nil
}

// abortOnCancel reports an error caused by a cancelled context (Ctrl-C, SIGTERM) as
// ErrUserAborted, keeping the original error in the chain.
func abortOnCancel(ctx context.Context, err error) error {
	if err == nil || errors.Is(err, ErrUserAborted) {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(ctx.Err(), context.Canceled) {
		return fmt.Errorf("%w: %w", ErrUserAborted, err)
	}
	return err
}

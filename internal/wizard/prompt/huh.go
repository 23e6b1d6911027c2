// Package prompt implements the wizard's Prompter on top of charmbracelet/huh.
package prompt

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/router-for-me/mailsetup/internal/wizard"
)

// Huh asks questions in the terminal, one form per question.
type Huh struct {
	accessible bool

	// input and output replace the terminal when set.
	input  io.Reader
	output io.Writer
}

// NewHuh returns a terminal prompter. Accessible mode renders plain line-based
// prompts for screen readers and dumb terminals.
func NewHuh(accessible bool) *Huh {
	return &Huh{accessible: accessible}
}

var _ wizard.Prompter = (*Huh)(nil)

// run shows one field and returns once it is answered, the user aborts, or ctx is
// cancelled.
func (h *Huh) run(ctx context.Context, field huh.Field) error {
	form := huh.NewForm(huh.NewGroup(field)).
		WithAccessible(h.accessible).
		WithShowHelp(false)
	if h.input != nil {
		form = form.WithInput(h.input)
	}
	if h.output != nil {
		form = form.WithOutput(h.output)
	}
	err := form.RunWithContext(ctx)
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("%w: %w", wizard.ErrUserAborted, ctxErr)
	}
	if errors.Is(err, huh.ErrUserAborted) {
		return wizard.ErrUserAborted
	}
	return err
}

// Input asks for a line of text prefilled with def.
func (h *Huh) Input(ctx context.Context, prompt, def string, validate func(string) error) (string, error) {
	value := def
	field := huh.NewInput().
		Title(prompt).
		Value(&value)
	if validate != nil {
		field = field.Validate(validate)
	}
	if err := h.run(ctx, field); err != nil {
		return "", err
	}
	return strings.TrimSpace(value), nil
}

// Password asks for a line of text without echoing it.
func (h *Huh) Password(ctx context.Context, prompt string, validate func(string) error) (string, error) {
	var value string
	field := huh.NewInput().
		Title(prompt).
		EchoMode(huh.EchoModePassword).
		Value(&value)
	if validate != nil {
		field = field.Validate(validate)
	}
	if err := h.run(ctx, field); err != nil {
		return "", err
	}
	return value, nil
}

// Select asks the user to pick one of options and returns its index.
func (h *Huh) Select(ctx context.Context, prompt string, options []string, def int) (int, error) {
	choices := make([]huh.Option[int], len(options))
	for i, label := range options {
		choices[i] = huh.NewOption(label, i)
	}
	selected := def
	field := huh.NewSelect[int]().
		Title(prompt).
		Options(choices...).
		Value(&selected)
	if err := h.run(ctx, field); err != nil {
		return 0, err
	}
	return selected, nil
}

// Confirm asks a yes/no question.
func (h *Huh) Confirm(ctx context.Context, prompt string, def bool) (bool, error) {
	value := def
	field := huh.NewConfirm().
		Title(prompt).
		Affirmative("Yes").
		Negative("No").
		Value(&value)
	if err := h.run(ctx, field); err != nil {
		return false, err
	}
	return value, nil
}

package secret

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"runtime"
	"strings"
)

// shellCommand returns the interpreter invocation for a command line.
func shellCommand(ctx context.Context, line string) *exec.Cmd {
	if runtime.GOOS == "windows" {
		return exec.CommandContext(ctx, "cmd", "/C", line)
	}
	return exec.CommandContext(ctx, "sh", "-c", line)
}

// runCommand executes line and returns its standard output without the trailing
// line ending. Standard error is discarded so it can never end up in logs.
func runCommand(ctx context.Context, line string) (string, error) {
	cmd := shellCommand(ctx, line)
	var stdout bytes.Buffer
	cmd.Stdout = &stdout

	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return "", &CommandFailedError{ExitCode: exitErr.ExitCode()}
		}
		return "", fmt.Errorf("running command: %w", err)
	}

	out := strings.TrimSuffix(stdout.String(), "\n")
	return strings.TrimSuffix(out, "\r"), nil
}

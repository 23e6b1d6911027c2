// Package browser hands the authorization URL to the user: it opens the default web
// browser and copies the URL to the clipboard when either is available.
package browser

import (
	"context"
	"fmt"
	"io"
	"os/exec"
	"runtime"

	"github.com/atotto/clipboard"
	log "github.com/sirupsen/logrus"
	"github.com/skratchdot/open-golang/open"
)

// linuxBrowsers are tried in order when open-golang cannot launch a browser.
var linuxBrowsers = []string{"xdg-open", "x-www-browser", "www-browser", "firefox", "chromium", "google-chrome"}

// Hooks replaced in tests.
var (
	openRun       = open.Run
	clipboardCopy = clipboard.WriteAll
	lookPath      = exec.LookPath
)

// OpenURL opens the specified URL in the default web browser.
// It first attempts to use a platform-agnostic library and falls back to
// platform-specific commands if that fails.
func OpenURL(url string) error {
	err := openRun(url)
	if err == nil {
		log.Debug("Successfully opened URL using open-golang library")
		return nil
	}

	log.Debugf("open-golang failed: %v, trying platform-specific commands", err)
	return openURLPlatformSpecific(url)
}

func openURLPlatformSpecific(url string) error {
	var cmd *exec.Cmd

	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", url)
	case "windows":
		cmd = exec.Command("rundll32", "url.dll,FileProtocolHandler", url)
	case "linux":
		for _, b := range linuxBrowsers {
			if _, err := lookPath(b); err == nil {
				cmd = exec.Command(b, url)
				break
			}
		}
		if cmd == nil {
			return fmt.Errorf("no suitable browser found on Linux system")
		}
	default:
		return fmt.Errorf("unsupported operating system: %s", runtime.GOOS)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start browser command: %w", err)
	}
	go func() { _ = cmd.Wait() }()
	return nil
}

// IsAvailable reports whether a browser launcher exists on this system.
// It only looks up commands and never opens anything.
func IsAvailable() bool {
	switch runtime.GOOS {
	case "darwin":
		_, err := lookPath("open")
		return err == nil
	case "windows":
		_, err := lookPath("rundll32")
		return err == nil
	case "linux":
		for _, b := range linuxBrowsers {
			if _, err := lookPath(b); err == nil {
				return true
			}
		}
		return false
	default:
		return false
	}
}

// CopyToClipboard places text on the system clipboard.
func CopyToClipboard(text string) error {
	if clipboard.Unsupported {
		return fmt.Errorf("clipboard is not supported on this system")
	}
	return clipboardCopy(text)
}

// Publisher prints the authorization URL to w as one plain line and, when
// openBrowser is set, also copies it to the clipboard and opens the browser if a
// launcher is available.
// Clipboard and browser failures are logged and never fail the sign-in, since the
// printed URL is always enough to continue.
func Publisher(w io.Writer, openBrowser bool) func(ctx context.Context, authURL string) error {
	return func(ctx context.Context, authURL string) error {
		if _, err := fmt.Fprintln(w, authURL); err != nil {
			return err
		}
		if !openBrowser {
			return nil
		}
		if err := CopyToClipboard(authURL); err != nil {
			log.Debugf("Could not copy the authorization URL to the clipboard: %v", err)
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if !IsAvailable() {
			log.Debug("No browser launcher found; the URL has to be opened manually")
			return nil
		}
		if err := OpenURL(authURL); err != nil {
			log.Warnf("Could not open the browser, open the URL above manually: %v", err)
		}
		return nil
	}
}

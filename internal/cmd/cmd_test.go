package cmd

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/router-for-me/mailsetup/internal/auth/authcode"
	"github.com/router-for-me/mailsetup/internal/config"
	"github.com/router-for-me/mailsetup/internal/secret"
	"github.com/router-for-me/mailsetup/internal/wizard"
)

// answers is a Prompter replying from a fixed table; unanswered prompts take their default.
type answers struct {
	text    map[string]string
	choice  map[string]string
	abortOn string
}

func (a *answers) Input(_ context.Context, prompt, def string, validate func(string) error) (string, error) {
	if prompt == a.abortOn {
		return "", wizard.ErrUserAborted
	}
	value, ok := a.text[prompt]
	if !ok {
		value = def
	}
	if validate != nil {
		if err := validate(value); err != nil {
			return "", fmt.Errorf("%s: %w", prompt, err)
		}
	}
	return value, nil
}

func (a *answers) Password(_ context.Context, prompt string, _ func(string) error) (string, error) {
	value, ok := a.text[prompt]
	if !ok {
		return "", fmt.Errorf("%s: no answer", prompt)
	}
	return value, nil
}

func (a *answers) Select(_ context.Context, prompt string, options []string, def int) (int, error) {
	label, ok := a.choice[prompt]
	if !ok {
		return def, nil
	}
	for i, o := range options {
		if strings.HasPrefix(o, label) {
			return i, nil
		}
	}
	return 0, fmt.Errorf("%s: no option %q", prompt, label)
}

func (a *answers) Confirm(_ context.Context, _ string, def bool) (bool, error) {
	return def, nil
}

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"success", nil, 0},
		{"aborted", fmt.Errorf("wrapped: %w", wizard.ErrUserAborted), 0},
		{"interrupted", fmt.Errorf("configure smtp: %w", context.Canceled), 0},
		{"port in use", authcode.NewAuthenticationError(authcode.ErrBindFailed, errors.New("address in use")), 13},
		{"timeout", authcode.NewAuthenticationError(authcode.ErrRedirectTimeout, nil), 1},
		{"other", errors.New("boom"), 1},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			if got := ExitCode(tt.err); got != tt.want {
				t.Fatalf("ExitCode(%v) = %d, want %d", tt.err, got, tt.want)
			}
		})
	}
}

func TestUserMessageAbort(t *testing.T) {
	if msg := UserMessage(wizard.ErrUserAborted); !strings.Contains(msg, "aborted") {
		t.Fatalf("UserMessage = %q", msg)
	}
}

func TestDoAccountSetup_RawPassword(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	cfg := config.DefaultConfig()
	p := &answers{
		text: map[string]string{
			"Account name":  "home",
			"Email address": "me@example.org",
			"IMAP password": "hunter2",
		},
		choice: map[string]string{
			"IMAP authentication strategy": "Ask the password, then save it in the configuration file",
		},
	}
	var out bytes.Buffer

	err := DoAccountSetup(context.Background(), cfg, path, &SetupOptions{Service: "imap", Prompter: p, Out: &out})
	if err != nil {
		t.Fatalf("DoAccountSetup: %v", err)
	}

	loaded, err := config.LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	home := loaded.Accounts["home"]
	if home == nil || home.IMAP == nil || home.SMTP != nil {
		t.Fatalf("account = %+v", home)
	}
	if home.Email != "me@example.org" || home.IMAP.Port != 993 || !home.Default {
		t.Fatalf("imap = %+v, email %q", home.IMAP, home.Email)
	}
	if home.IMAP.Auth.Passwd == nil || home.IMAP.Auth.Passwd.Kind() != secret.KindRaw {
		t.Fatalf("passwd = %v", home.IMAP.Auth.Passwd)
	}
	if strings.Contains(out.String(), "hunter2") {
		t.Fatal("setup output leaks the password")
	}
}

func TestDoAccountSetup_AbortWritesNothing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	p := &answers{
		text:    map[string]string{"Email address": "me@example.org"},
		abortOn: "SMTP host",
	}

	err := DoAccountSetup(context.Background(), config.DefaultConfig(), path,
		&SetupOptions{Account: "home", Service: "smtp", Prompter: p, Out: &bytes.Buffer{}})
	if !errors.Is(err, wizard.ErrUserAborted) {
		t.Fatalf("DoAccountSetup error = %v, want ErrUserAborted", err)
	}
	if _, errStat := os.Stat(path); !os.IsNotExist(errStat) {
		t.Fatalf("config written after abort: %v", errStat)
	}
}

func TestDoAccountSetup_InterruptWhileAwaitingRedirect(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("reserve port: %v", err)
	}
	port := l.Addr().(*net.TCPAddr).Port
	_ = l.Close()

	path := filepath.Join(t.TempDir(), "config.yaml")
	p := &answers{
		text: map[string]string{
			"Email address":                    "me@example.com",
			"SMTP OAuth 2.0 client id":         "client-123",
			"SMTP OAuth 2.0 client secret":     "s3cret",
			"SMTP OAuth 2.0 authorization URL": "https://idp.example.com/authorize",
			"SMTP OAuth 2.0 token URL":         "https://idp.example.com/token",
			"SMTP OAuth 2.0 main scope":        "mail",
		},
		choice: map[string]string{"SMTP authentication mechanism": "OAuth 2.0"},
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		time.Sleep(100 * time.Millisecond)
		cancel()
	}()

	err = DoAccountSetup(ctx, config.DefaultConfig(), path, &SetupOptions{
		Account:      "work",
		Service:      "smtp",
		NoBrowser:    true,
		RedirectPort: port,
		Prompter:     p,
		Out:          &bytes.Buffer{},
	})
	if code := ExitCode(err); code != 0 {
		t.Fatalf("ExitCode = %d for %v, want 0", code, err)
	}
	if msg := UserMessage(err); !strings.Contains(msg, "aborted") {
		t.Fatalf("UserMessage = %q", msg)
	}
	if _, errStat := os.Stat(path); !os.IsNotExist(errStat) {
		t.Fatalf("config written after interrupt: %v", errStat)
	}
}

func TestDoAccountSetup_RejectsUnknownService(t *testing.T) {
	err := DoAccountSetup(context.Background(), config.DefaultConfig(), filepath.Join(t.TempDir(), "c.yaml"),
		&SetupOptions{Service: "pop3", Prompter: &answers{}, Out: &bytes.Buffer{}})
	if err == nil {
		t.Fatal("unknown service accepted")
	}
}

func TestCheckAccount(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("command secrets use POSIX sh")
	}

	passwd := secret.Command("exit 4")
	cfg := config.DefaultConfig()
	account := cfg.Account("work")
	account.Email = "me@example.com"
	account.SMTP = &config.ServerConfig{
		Host: "smtp.example.com", Port: 587, Login: "me",
		Auth: config.AuthConfig{OAuth2: &config.OAuth2Config{
			ClientID:     "id",
			ClientSecret: secret.Raw("client-s3cret"),
			AuthURL:      "https://a.example.com",
			TokenURL:     "https://t.example.com",
			AccessToken:  secret.Raw("access-t0ken"),
		}},
	}
	account.IMAP = &config.ServerConfig{
		Host: "imap.example.com", Port: 993, Login: "me",
		Auth: config.AuthConfig{Passwd: &passwd},
	}

	var out bytes.Buffer
	err := checkAccount(context.Background(), cfg, "", secret.NewStore(nil), &out)
	if err == nil {
		t.Fatal("check passed although the imap command fails")
	}

	report := out.String()
	for _, want := range []string{
		"smtp oauth2-access-token: ok (raw)",
		"smtp oauth2-client-secret: ok (raw)",
		"imap passwd: failed",
		"status 4",
	} {
		if !strings.Contains(report, want) {
			t.Fatalf("report missing %q:\n%s", want, report)
		}
	}
	for _, leaked := range []string{"client-s3cret", "access-t0ken"} {
		if strings.Contains(report, leaked) {
			t.Fatalf("report leaks %q", leaked)
		}
	}

	if err = checkAccount(context.Background(), cfg, "missing", secret.NewStore(nil), &out); err == nil {
		t.Fatal("unknown account accepted")
	}
}

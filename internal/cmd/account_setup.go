package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/router-for-me/mailsetup/internal/auth/authcode"
	"github.com/router-for-me/mailsetup/internal/browser"
	"github.com/router-for-me/mailsetup/internal/config"
	"github.com/router-for-me/mailsetup/internal/util"
	"github.com/router-for-me/mailsetup/internal/wizard"
	"github.com/router-for-me/mailsetup/internal/wizard/prompt"
	log "github.com/sirupsen/logrus"
)

// SetupOptions contains options for the account setup command.
type SetupOptions struct {
	// Account is the account name. Asked interactively when empty.
	Account string

	// Email is the account address. Asked interactively when empty.
	Email string

	// Service limits the setup to "smtp" or "imap". Both are offered when empty.
	Service string

	// NoBrowser indicates whether to skip opening the browser automatically.
	NoBrowser bool

	// RedirectPort overrides the local OAuth redirect port when set (>0).
	RedirectPort int

	// Accessible renders plain line-based prompts.
	Accessible bool

	// Prompter replaces the terminal prompter.
	Prompter wizard.Prompter

	// Out receives the authorization URL and wizard messages. Defaults to stdout.
	Out io.Writer
}

// DoAccountSetup runs the account wizard and saves the result to configFile.
// When the run fails or the configuration cannot be saved, keyring entries written
// by the wizard are restored to what they held before, so an existing account keeps
// working.
func DoAccountSetup(ctx context.Context, cfg *config.Config, configFile string, options *SetupOptions) error {
	if options == nil {
		options = &SetupOptions{}
	}
	out := options.Out
	if out == nil {
		out = os.Stdout
	}
	prompter := options.Prompter
	if prompter == nil {
		prompter = prompt.NewHuh(options.Accessible)
	}

	services := wizard.Services
	if options.Service != "" {
		service, err := wizard.ParseService(options.Service)
		if err != nil {
			return err
		}
		services = []wizard.Service{service}
	}

	name := strings.TrimSpace(options.Account)
	if name == "" {
		def, _ := cfg.DefaultAccount()
		answer, err := prompter.Input(ctx, "Account name", def, validateAccountName)
		if err != nil {
			return err
		}
		name = strings.TrimSpace(answer)
	} else if err := validateAccountName(name); err != nil {
		return err
	}

	existing := cfg.Accounts[name]
	email := strings.TrimSpace(options.Email)
	if email == "" {
		def := ""
		if existing != nil {
			def = existing.Email
		}
		answer, err := prompter.Input(ctx, "Email address", def, validateEmail)
		if err != nil {
			return err
		}
		email = strings.TrimSpace(answer)
	}

	httpClient, err := util.NewHTTPClient(cfg.ProxyURL)
	if err != nil {
		return err
	}
	redirectPort := cfg.RedirectPort
	if options.RedirectPort > 0 {
		redirectPort = options.RedirectPort
	}

	w := wizard.New(prompter, newSecretStore(cfg),
		wizard.WithOutput(out),
		wizard.WithRedirect(cfg.RedirectHost, redirectPort),
		wizard.WithFlowOptions(
			authcode.WithHTTPClient(httpClient),
			authcode.WithPublisher(browser.Publisher(out, !options.NoBrowser)),
		),
	)

	configured := make(map[wizard.Service]*config.ServerConfig)
	for _, service := range services {
		if len(services) > 1 {
			ok, errConfirm := prompter.Confirm(ctx, fmt.Sprintf("Configure %s for %s?", service.Label(), name), true)
			if errConfirm != nil {
				restore(w)
				return errConfirm
			}
			if !ok {
				continue
			}
		}
		server, errConfigure := w.Configure(ctx, service, name, email)
		if errConfigure != nil {
			restore(w)
			return errConfigure
		}
		configured[service] = server
	}
	if len(configured) == 0 {
		restore(w)
		return fmt.Errorf("nothing to configure for account %s", name)
	}

	account := cfg.Account(name)
	account.Email = email
	for service, server := range configured {
		switch service {
		case wizard.ServiceSMTP:
			account.SMTP = server
		case wizard.ServiceIMAP:
			account.IMAP = server
		}
	}

	if err = config.SaveConfig(configFile, cfg); err != nil {
		restore(w)
		return fmt.Errorf("saving configuration: %w", err)
	}
	w.Commit()

	log.WithField("account", name).Info("Account configuration saved")
	_, _ = fmt.Fprintf(out, "Account %s saved to %s\n", name, configFile)
	return nil
}

// restore puts back the keyring entries of a run whose configuration is not saved.
func restore(w *wizard.Wizard) {
	if err := w.Rollback(); err != nil {
		log.WithError(err).Warn("Failed to restore keyring entries")
	}
}

func validateAccountName(s string) error {
	s = strings.TrimSpace(s)
	if s == "" {
		return fmt.Errorf("account name is required")
	}
	if strings.ContainsAny(s, " \t/\\") {
		return fmt.Errorf("account name must not contain spaces or slashes")
	}
	return nil
}

func validateEmail(s string) error {
	s = strings.TrimSpace(s)
	at := strings.LastIndex(s, "@")
	if at <= 0 || at == len(s)-1 {
		return fmt.Errorf("enter an address like me@example.com")
	}
	return nil
}

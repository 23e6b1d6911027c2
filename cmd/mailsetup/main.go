// Package main provides the entry point of mailsetup, the interactive provisioning
// tool that configures the SMTP and IMAP servers of a mail account and stores their
// passwords or OAuth 2.0 credentials in a secret backend.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/router-for-me/mailsetup/internal/buildinfo"
	"github.com/router-for-me/mailsetup/internal/cmd"
	"github.com/router-for-me/mailsetup/internal/config"
	"github.com/router-for-me/mailsetup/internal/logging"
	log "github.com/sirupsen/logrus"
)

var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

// init initializes the shared logger setup.
func init() {
	logging.SetupBaseLogger()
	buildinfo.Version = Version
	buildinfo.Commit = Commit
	buildinfo.BuildDate = BuildDate
}

func main() {
	os.Exit(run())
}

func run() int {
	var (
		configPath   string
		account      string
		email        string
		service      string
		noBrowser    bool
		redirectPort int
		check        bool
		debug        bool
		accessible   bool
		showVersion  bool
	)

	flag.StringVar(&configPath, "config", "", "Configuration file path (default $MAILSETUP_CONFIG or the user config directory)")
	flag.StringVar(&configPath, "c", "", "Shorthand for -config")
	flag.StringVar(&account, "account", "", "Account name to configure or check")
	flag.StringVar(&email, "email", "", "Email address of the account")
	flag.StringVar(&service, "service", "", "Configure only smtp or imap")
	flag.BoolVar(&noBrowser, "no-browser", false, "Don't open browser automatically for OAuth")
	flag.IntVar(&redirectPort, "redirect-port", 0, "Override the local OAuth redirect port")
	flag.BoolVar(&check, "check", false, "Resolve the stored secrets of an account instead of running the wizard")
	flag.BoolVar(&debug, "debug", false, "Enable debug logging")
	flag.BoolVar(&accessible, "accessible", false, "Use plain line-based prompts")
	flag.BoolVar(&showVersion, "version", false, "Print version and exit")
	flag.Parse()

	if showVersion {
		fmt.Println(buildinfo.String())
		return 0
	}

	// Load environment variables from .env if present.
	if wd, err := os.Getwd(); err == nil {
		if errLoad := godotenv.Load(filepath.Join(wd, ".env")); errLoad != nil && !errors.Is(errLoad, os.ErrNotExist) {
			log.WithError(errLoad).Warn("failed to load .env file")
		}
	}

	configFile := config.ResolveConfigPath(configPath)
	cfg, err := config.LoadConfigOptional(configFile, true)
	if err != nil {
		log.Errorf("failed to load config: %v", err)
		return 1
	}
	if debug {
		cfg.Debug = true
	}
	if err = logging.ConfigureLogOutput(cfg, configFile); err != nil {
		log.Errorf("failed to configure log output: %v", err)
		return 1
	}
	defer logging.CloseLogOutputs()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if check {
		err = cmd.DoAccountCheck(ctx, cfg, account, os.Stdout)
	} else {
		err = cmd.DoAccountSetup(ctx, cfg, configFile, &cmd.SetupOptions{
			Account:      account,
			Email:        email,
			Service:      service,
			NoBrowser:    noBrowser,
			RedirectPort: redirectPort,
			Accessible:   accessible || os.Getenv("ACCESSIBLE") != "",
		})
	}
	if err != nil {
		_, _ = fmt.Fprintln(os.Stderr, cmd.UserMessage(err))
		log.WithError(err).Debug("command failed")
	}
	return cmd.ExitCode(err)
}

package cmd

import (
	"context"
	"fmt"
	"io"
	"sort"

	"github.com/router-for-me/mailsetup/internal/config"
	"github.com/router-for-me/mailsetup/internal/secret"
	log "github.com/sirupsen/logrus"
)

// secretResolver resolves descriptors; *secret.Store satisfies it.
type secretResolver interface {
	Resolve(ctx context.Context, d secret.Descriptor) (string, error)
}

// DoAccountCheck resolves every secret referenced by the account and reports, per
// secret, whether it could be read. Secret values are never printed.
func DoAccountCheck(ctx context.Context, cfg *config.Config, name string, out io.Writer) error {
	return checkAccount(ctx, cfg, name, newSecretStore(cfg), out)
}

func checkAccount(ctx context.Context, cfg *config.Config, name string, resolver secretResolver, out io.Writer) error {
	if name == "" {
		var ok bool
		if name, ok = cfg.DefaultAccount(); !ok {
			return fmt.Errorf("no account given and no default account configured")
		}
	}
	account := cfg.Accounts[name]
	if account == nil {
		return fmt.Errorf("account %s not found", name)
	}

	servers := []struct {
		service string
		server  *config.ServerConfig
	}{
		{"smtp", account.SMTP},
		{"imap", account.IMAP},
	}

	failed := 0
	for _, entry := range servers {
		if entry.server == nil {
			continue
		}
		secrets := entry.server.Secrets()
		purposes := make([]string, 0, len(secrets))
		for purpose := range secrets {
			purposes = append(purposes, purpose)
		}
		sort.Strings(purposes)

		for _, purpose := range purposes {
			d := secrets[purpose]
			_, err := resolver.Resolve(ctx, d)
			if err != nil {
				failed++
				log.WithFields(log.Fields{"account": name, "service": entry.service, "backend": d.Kind().String()}).WithError(err).Debug("Secret check failed")
				_, _ = fmt.Fprintf(out, "%s %s: failed (%v)\n", entry.service, purpose, err)
				continue
			}
			_, _ = fmt.Fprintf(out, "%s %s: ok (%s)\n", entry.service, purpose, d.Kind())
		}
	}

	if failed > 0 {
		return fmt.Errorf("%d secret(s) of account %s could not be resolved", failed, name)
	}
	return nil
}

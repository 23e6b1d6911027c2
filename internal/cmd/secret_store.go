package cmd

import (
	"github.com/router-for-me/mailsetup/internal/config"
	"github.com/router-for-me/mailsetup/internal/secret"
)

// newSecretStore creates the secret store for cfg, backed by the OS credential
// vault restricted to the configured keyring backends.
func newSecretStore(cfg *config.Config) *secret.Store {
	return secret.NewStore(secret.NewKeyringVault(cfg.Keyring.ServiceName, cfg.Keyring.Backends))
}

package secret

import (
	"context"
	"fmt"
	"strings"

	log "github.com/sirupsen/logrus"
)

// EntryKey builds the conventional vault entry key {account}-{service}-{purpose},
// for example work-smtp-passwd.
func EntryKey(account, service, purpose string) string {
	return strings.Join([]string{account, service, purpose}, "-")
}

// Store persists and resolves secrets across all backends.
type Store struct {
	vault Vault
}

// NewStore returns a store using vault for keyring descriptors. A nil vault makes
// every keyring operation fail with ErrBackendUnavailable.
func NewStore(vault Vault) *Store {
	return &Store{vault: vault}
}

// Persist places value in the backend of the given kind and returns the
// descriptor to record in the configuration. Command backends are read-only.
func (s *Store) Persist(kind Kind, entryKey, value string) (Descriptor, error) {
	switch kind {
	case KindKeyring:
		if entryKey == "" {
			return Descriptor{}, &Error{Backend: kind, Op: "set", Cause: fmt.Errorf("%w: empty entry key", ErrMalformed)}
		}
		if s.vault == nil {
			return Descriptor{}, &Error{Backend: kind, Op: "set", Key: entryKey, Cause: ErrBackendUnavailable}
		}
		if err := s.vault.Set(entryKey, value); err != nil {
			return Descriptor{}, &Error{Backend: kind, Op: "set", Key: entryKey, Cause: err}
		}
		log.WithFields(log.Fields{"backend": kind.String(), "key": entryKey}).Debug("Secret stored")
		return Keyring(entryKey), nil
	case KindRaw:
		return Raw(value), nil
	case KindCommand:
		return Descriptor{}, &Error{Backend: kind, Op: "set", Key: entryKey, Cause: ErrNotWritable}
	default:
		return Descriptor{}, &Error{Backend: kind, Op: "set", Key: entryKey, Cause: ErrMalformed}
	}
}

// Resolve returns the secret a descriptor points to.
func (s *Store) Resolve(ctx context.Context, d Descriptor) (string, error) {
	switch d.kind {
	case KindKeyring:
		if s.vault == nil {
			return "", &Error{Backend: d.kind, Op: "get", Key: d.value, Cause: ErrBackendUnavailable}
		}
		value, err := s.vault.Get(d.value)
		if err != nil {
			return "", &Error{Backend: d.kind, Op: "get", Key: d.value, Cause: err}
		}
		return value, nil
	case KindRaw:
		return d.value, nil
	case KindCommand:
		if strings.TrimSpace(d.value) == "" {
			return "", &Error{Backend: d.kind, Op: "run", Cause: fmt.Errorf("%w: empty command", ErrMalformed)}
		}
		value, err := runCommand(ctx, d.value)
		if err != nil {
			return "", &Error{Backend: d.kind, Op: "run", Cause: err}
		}
		return value, nil
	default:
		return "", &Error{Backend: d.kind, Op: "get", Cause: ErrMalformed}
	}
}

// Delete removes the stored value of a keyring descriptor. Raw and command
// descriptors own no external state, so deleting them is a no-op.
func (s *Store) Delete(d Descriptor) error {
	if d.kind != KindKeyring {
		return nil
	}
	if s.vault == nil {
		return &Error{Backend: d.kind, Op: "delete", Key: d.value, Cause: ErrBackendUnavailable}
	}
	if err := s.vault.Remove(d.value); err != nil {
		return &Error{Backend: d.kind, Op: "delete", Key: d.value, Cause: err}
	}
	return nil
}

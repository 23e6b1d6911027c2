// Package wizard interactively builds the configuration of one mail server: host,
// transport security, port, login and authentication. Passwords and OAuth 2.0
// credentials are handed to the secret store; only their descriptors end up in the
// returned configuration.
package wizard

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/router-for-me/mailsetup/internal/auth/authcode"
	"github.com/router-for-me/mailsetup/internal/config"
	"github.com/router-for-me/mailsetup/internal/secret"
	log "github.com/sirupsen/logrus"
)

// Authorizer runs an OAuth 2.0 authorization for endpoint and returns the tokens.
type Authorizer func(ctx context.Context, endpoint authcode.Endpoint) (*authcode.TokenPair, error)

// Option customizes a Wizard.
type Option func(*Wizard)

// WithOutput sets where wizard messages are written. Defaults to stderr.
func WithOutput(out io.Writer) Option {
	return func(w *Wizard) {
		if out != nil {
			w.out = out
		}
	}
}

// WithRedirect sets the loopback address the OAuth 2.0 redirect is captured on.
func WithRedirect(host string, port int) Option {
	return func(w *Wizard) {
		w.redirectHost = host
		w.redirectPort = port
	}
}

// WithFlowOptions passes options to every authorization flow the wizard starts.
func WithFlowOptions(opts ...authcode.Option) Option {
	return func(w *Wizard) {
		w.flowOpts = append(w.flowOpts, opts...)
	}
}

// WithAuthorizer replaces the default authorizer, which runs authcode.Run.
func WithAuthorizer(authorize Authorizer) Option {
	return func(w *Wizard) {
		w.authorize = authorize
	}
}

// Wizard collects the settings of a mail server.
type Wizard struct {
	prompter Prompter
	journal  *secret.Journal
	out      io.Writer

	redirectHost string
	redirectPort int
	flowOpts     []authcode.Option
	authorize    Authorizer
}

// New returns a wizard asking questions through prompter and storing secrets in store.
func New(prompter Prompter, store *secret.Store, opts ...Option) *Wizard {
	if store == nil {
		store = secret.NewStore(nil)
	}
	w := &Wizard{
		prompter:     prompter,
		journal:      store.NewJournal(),
		out:          os.Stderr,
		redirectHost: config.DefaultRedirectHost,
		redirectPort: config.DefaultRedirectPort,
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.authorize == nil {
		w.authorize = func(ctx context.Context, endpoint authcode.Endpoint) (*authcode.TokenPair, error) {
			return authcode.Run(ctx, endpoint, w.flowOpts...)
		}
	}
	return w
}

// session is one Configure call.
type session struct {
	*Wizard
	service Service
	account string
}

// Configure asks for the settings of service for account. On failure the keyring
// entries written during the call are restored to what they held before and nothing
// is returned. A cancelled ctx is reported as ErrUserAborted.
func (w *Wizard) Configure(ctx context.Context, service Service, account, email string) (*config.ServerConfig, error) {
	if strings.TrimSpace(account) == "" {
		return nil, errors.New("account name is required")
	}
	s := &session{Wizard: w, service: service, account: account}

	mark := w.journal.Mark()
	server, err := s.configure(ctx, email)
	if err != nil {
		if errRollback := w.journal.RollbackTo(mark); errRollback != nil {
			w.warnf("Could not restore the keyring: %v", errRollback)
		}
		return nil, abortOnCancel(ctx, err)
	}
	return server, nil
}

// Rollback restores every keyring entry written by the wizard since the last
// Commit. Callers use it when the configuration built by several Configure calls
// is not going to be saved.
func (w *Wizard) Rollback() error {
	return w.journal.Rollback()
}

// Commit keeps the keyring entries written so far, once the configuration that
// refers to them has been saved.
func (w *Wizard) Commit() {
	w.journal.Commit()
}

func (s *session) configure(ctx context.Context, email string) (*config.ServerConfig, error) {
	label := s.service.Label()
	server := &config.ServerConfig{}

	host, err := s.prompter.Input(ctx, label+" host", s.service.String()+"."+emailDomain(email), validateHost)
	if err != nil {
		return nil, err
	}
	server.Host = strings.TrimSpace(host)

	protocol, err := selectOne(ctx, s.prompter, label+" security protocol", Protocols, 0)
	if err != nil {
		return nil, err
	}
	enabled := true
	switch protocol {
	case ProtocolSSL:
		server.SSL = &enabled
	case ProtocolStartTLS:
		server.StartTLS = &enabled
	case ProtocolNone:
	}
	defaultPort, err := protocol.DefaultPort(s.service)
	if err != nil {
		return nil, err
	}

	port, err := s.prompter.Input(ctx, label+" port", fmt.Sprint(defaultPort), validatePort)
	if err != nil {
		return nil, err
	}
	if server.Port, err = parsePort(port); err != nil {
		return nil, err
	}

	login, err := s.prompter.Input(ctx, label+" login", email, validateRequired("login"))
	if err != nil {
		return nil, err
	}
	server.Login = strings.TrimSpace(login)

	mechanism, err := selectOne(ctx, s.prompter, label+" authentication mechanism", AuthMechanisms, 0)
	if err != nil {
		return nil, err
	}
	switch mechanism {
	case AuthPasswd:
		passwd, errPasswd := s.configurePasswd(ctx)
		if errPasswd != nil {
			return nil, errPasswd
		}
		server.Auth.Passwd = &passwd
	case AuthOAuth2:
		oauth, errOAuth := s.configureOAuth2(ctx)
		if errOAuth != nil {
			return nil, errOAuth
		}
		server.Auth.OAuth2 = oauth
	default:
		return nil, fmt.Errorf("unsupported authentication mechanism %s", mechanism)
	}

	log.WithFields(log.Fields{
		"account": s.account,
		"service": s.service.String(),
		"host":    server.Host,
		"port":    server.Port,
	}).Debug("Server configured")
	return server, nil
}

func (s *session) configurePasswd(ctx context.Context) (secret.Descriptor, error) {
	label := s.service.Label()
	choice, err := selectOne(ctx, s.prompter, label+" authentication strategy", passwdStorage, 0)
	if err != nil {
		return secret.Descriptor{}, err
	}

	key := secret.EntryKey(s.account, s.service.String(), "passwd")
	switch choice.kind {
	case secret.KindKeyring, secret.KindRaw:
		passwd, errPasswd := s.prompter.Password(ctx, label+" password", validateRequired("password"))
		if errPasswd != nil {
			return secret.Descriptor{}, errPasswd
		}
		return s.persist(ctx, choice.kind, key, passwd, "password")
	case secret.KindCommand:
		shell, errShell := s.prompter.Input(ctx, "Shell command", "pass show "+key, validateRequired("command"))
		if errShell != nil {
			return secret.Descriptor{}, errShell
		}
		return secret.Command(strings.TrimSpace(shell)), nil
	default:
		return secret.Descriptor{}, fmt.Errorf("unsupported password storage %s", choice.kind)
	}
}

// persist stores value, letting the user pick another writable backend when the
// chosen one fails. The returned descriptor's Kind is the backend finally used.
func (s *session) persist(ctx context.Context, kind secret.Kind, key, value, what string) (secret.Descriptor, error) {
	tried := make(map[secret.Kind]bool)
	for {
		d, err := s.journal.Persist(kind, key, value)
		if err == nil {
			return d, nil
		}
		tried[kind] = true
		s.warnf("Could not store the %s: %v", what, err)
		log.WithFields(log.Fields{"account": s.account, "backend": kind.String()}).WithError(err).Warn("Secret persistence failed")

		alternatives := fallbackStorage(tried)
		if len(alternatives) == 0 {
			return secret.Descriptor{}, err
		}
		retry, errConfirm := s.prompter.Confirm(ctx, fmt.Sprintf("Store the %s somewhere else?", what), true)
		if errConfirm != nil {
			return secret.Descriptor{}, errConfirm
		}
		if !retry {
			return secret.Descriptor{}, err
		}
		choice, errSelect := selectOne(ctx, s.prompter, fmt.Sprintf("Where should the %s be stored?", what), alternatives, 0)
		if errSelect != nil {
			return secret.Descriptor{}, errSelect
		}
		kind = choice.kind
	}
}

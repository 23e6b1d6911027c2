// Package authcode implements the native OAuth 2.0 Authorization Code Grant used to
// provision mail accounts: it builds the authorization URL (with optional PKCE),
// captures the browser redirect on a loopback listener, validates the CSRF state,
// and exchanges the authorization code for tokens.
package authcode

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/router-for-me/mailsetup/internal/auth/pkce"
	log "github.com/sirupsen/logrus"
	"golang.org/x/oauth2"
	"golang.org/x/sync/errgroup"
)

// Method is the SASL mechanism that will carry the OAuth 2.0 access token.
type Method int

const (
	// MethodXOAuth2 is the XOAUTH2 SASL mechanism.
	MethodXOAuth2 Method = iota
	// MethodOAuthBearer is the OAUTHBEARER SASL mechanism (RFC 7628).
	MethodOAuthBearer
)

// String returns the configuration name of the method.
func (m Method) String() string {
	switch m {
	case MethodXOAuth2:
		return "xoauth2"
	case MethodOAuthBearer:
		return "oauthbearer"
	default:
		return "method(" + strconv.Itoa(int(m)) + ")"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (m Method) MarshalText() ([]byte, error) {
	switch m {
	case MethodXOAuth2, MethodOAuthBearer:
		return []byte(m.String()), nil
	default:
		return nil, fmt.Errorf("unknown OAuth 2.0 method %d", int(m))
	}
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (m *Method) UnmarshalText(text []byte) error {
	switch strings.ToLower(strings.TrimSpace(string(text))) {
	case "xoauth2":
		*m = MethodXOAuth2
	case "oauthbearer":
		*m = MethodOAuthBearer
	default:
		return fmt.Errorf("unknown OAuth 2.0 method %q", string(text))
	}
	return nil
}

// Endpoint describes the identity provider and the local redirect target.
type Endpoint struct {
	ClientID     string
	ClientSecret string
	AuthURL      string
	TokenURL     string
	RedirectHost string
	RedirectPort int
	Scopes       []string
	PKCE         bool
	Method       Method
}

// RedirectURL returns the redirect_uri sent to the provider.
func (e Endpoint) RedirectURL() string {
	return "http://" + net.JoinHostPort(e.RedirectHost, strconv.Itoa(e.RedirectPort))
}

func (e Endpoint) validate() error {
	if strings.TrimSpace(e.ClientID) == "" {
		return fmt.Errorf("client id is required")
	}
	if err := validateHTTPURL("authorization URL", e.AuthURL); err != nil {
		return err
	}
	if err := validateHTTPURL("token URL", e.TokenURL); err != nil {
		return err
	}
	if _, err := loopbackHosts(e.RedirectHost); err != nil {
		return err
	}
	if e.RedirectPort < 1 || e.RedirectPort > 65535 {
		return fmt.Errorf("redirect port %d is out of range", e.RedirectPort)
	}
	if _, err := e.Method.MarshalText(); err != nil {
		return err
	}
	return nil
}

func validateHTTPURL(name, raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	if (u.Scheme != "https" && u.Scheme != "http") || u.Host == "" {
		return fmt.Errorf("%s %q must be an absolute http(s) URL", name, raw)
	}
	return nil
}

// State is a step of the authorization flow.
type State int

const (
	StateBuilt State = iota
	StateAwaitingRedirect
	StateExchanging
	StateComplete
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateBuilt:
		return "built"
	case StateAwaitingRedirect:
		return "awaiting_redirect"
	case StateExchanging:
		return "exchanging"
	case StateComplete:
		return "complete"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// TokenPair is the result of a successful code exchange.
type TokenPair struct {
	// AccessToken is always present.
	AccessToken string
	// RefreshToken is empty when the provider did not issue one.
	RefreshToken string
	// ExpiresIn is zero when the provider did not report a lifetime.
	ExpiresIn time.Duration
}

// HasRefreshToken reports whether the provider issued a refresh token.
func (t *TokenPair) HasRefreshToken() bool {
	return t.RefreshToken != ""
}

// String redacts both tokens.
func (t *TokenPair) String() string {
	return fmt.Sprintf("TokenPair{access:[redacted] refresh:%t expires_in:%s}", t.HasRefreshToken(), t.ExpiresIn)
}

// GoString redacts both tokens.
func (t *TokenPair) GoString() string {
	return t.String()
}

// Publisher surfaces the authorization URL to the user.
type Publisher func(ctx context.Context, authURL string) error

// PrintURL returns a Publisher writing the URL as a single line to w.
func PrintURL(w io.Writer) Publisher {
	return func(_ context.Context, authURL string) error {
		_, err := fmt.Fprintln(w, authURL)
		return err
	}
}

// Option customizes a Flow.
type Option func(*Flow)

// WithHTTPClient sets the client used for the token exchange.
func WithHTTPClient(client *http.Client) Option {
	return func(f *Flow) {
		f.httpClient = client
	}
}

// WithTimeout bounds the redirect wait. Non-positive values use DefaultRedirectTimeout.
func WithTimeout(timeout time.Duration) Option {
	return func(f *Flow) {
		f.timeout = timeout
	}
}

// WithPublisher replaces the default publisher, which prints the URL to stdout.
func WithPublisher(publisher Publisher) Option {
	return func(f *Flow) {
		if publisher != nil {
			f.publisher = publisher
		}
	}
}

// Flow is one authorization attempt. A Flow cannot be restarted; retries build a
// new Flow so that state and PKCE codes are never reused.
type Flow struct {
	endpoint    Endpoint
	oauthConfig *oauth2.Config
	csrfState   string
	pkceCodes   *pkce.Codes
	authURL     string

	httpClient *http.Client
	timeout    time.Duration
	publisher  Publisher
	logger     *log.Entry

	mu     sync.Mutex
	state  State
	server *OAuthServer
}

// NewFlow validates the endpoint and prepares the authorization request.
func NewFlow(endpoint Endpoint, opts ...Option) (*Flow, error) {
	if err := endpoint.validate(); err != nil {
		return nil, NewAuthenticationError(ErrInvalidEndpoint, err)
	}
	endpoint.Scopes = append([]string(nil), endpoint.Scopes...)

	f := &Flow{
		endpoint:  endpoint,
		csrfState: generateState(),
		timeout:   DefaultRedirectTimeout,
		publisher: PrintURL(os.Stdout),
		state:     StateBuilt,
		logger:    log.WithField("attempt_id", uuid.NewString()[:8]),
	}
	for _, opt := range opts {
		opt(f)
	}

	f.oauthConfig = &oauth2.Config{
		ClientID:     endpoint.ClientID,
		ClientSecret: endpoint.ClientSecret,
		Endpoint: oauth2.Endpoint{
			AuthURL:  endpoint.AuthURL,
			TokenURL: endpoint.TokenURL,
			// Credentials go in the form body; auto-detection would retry the exchange.
			AuthStyle: oauth2.AuthStyleInParams,
		},
		RedirectURL: endpoint.RedirectURL(),
		Scopes:      endpoint.Scopes,
	}

	var authOpts []oauth2.AuthCodeOption
	if endpoint.PKCE {
		codes := pkce.Generate()
		f.pkceCodes = &codes
		authOpts = append(authOpts,
			oauth2.SetAuthURLParam("code_challenge", codes.Challenge),
			oauth2.SetAuthURLParam("code_challenge_method", codes.Method),
		)
	}
	f.authURL = f.oauthConfig.AuthCodeURL(f.csrfState, authOpts...)

	f.logger.WithField("pkce", endpoint.PKCE).Debug("OAuth authorization request built")
	return f, nil
}

// AuthorizationURL returns the URL the user must visit.
func (f *Flow) AuthorizationURL() string {
	return f.authURL
}

// State returns the current step of the flow.
func (f *Flow) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// Start binds the redirect listener and moves the flow to StateAwaitingRedirect.
func (f *Flow) Start() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.state != StateBuilt {
		return NewAuthenticationError(ErrInvalidTransition, fmt.Errorf("start from %s", f.state))
	}
	server, err := Listen(f.endpoint.RedirectHost, f.endpoint.RedirectPort)
	if err != nil {
		f.state = StateFailed
		return err
	}
	f.server = server
	f.state = StateAwaitingRedirect
	return nil
}

// Wait blocks for the redirect, validates it and exchanges the code for tokens.
func (f *Flow) Wait(ctx context.Context) (*TokenPair, error) {
	result, err := f.awaitRedirect(ctx)
	if err != nil {
		return nil, err
	}
	return f.complete(ctx, result)
}

// Close releases the listener. A flow closed before completion ends up failed.
func (f *Flow) Close() error {
	f.mu.Lock()
	server := f.server
	f.server = nil
	if f.state != StateComplete {
		f.state = StateFailed
	}
	f.mu.Unlock()

	if server == nil {
		return nil
	}
	return server.Close()
}

// Run drives a complete attempt: it starts the listener, publishes the URL while the
// redirect wait runs, then validates and exchanges.
func Run(ctx context.Context, endpoint Endpoint, opts ...Option) (*TokenPair, error) {
	flow, err := NewFlow(endpoint, opts...)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = flow.Close()
	}()

	if err = flow.Start(); err != nil {
		return nil, err
	}

	var result *RedirectResult
	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		var errWait error
		result, errWait = flow.awaitRedirect(groupCtx)
		return errWait
	})
	group.Go(func() error {
		if errPublish := flow.publisher(groupCtx, flow.authURL); errPublish != nil {
			return fmt.Errorf("publish authorization URL: %w", errPublish)
		}
		return nil
	})
	if err = group.Wait(); err != nil {
		flow.fail()
		return nil, err
	}

	return flow.complete(ctx, result)
}

func (f *Flow) awaitRedirect(ctx context.Context) (*RedirectResult, error) {
	f.mu.Lock()
	if f.state != StateAwaitingRedirect || f.server == nil {
		state := f.state
		f.mu.Unlock()
		return nil, NewAuthenticationError(ErrInvalidTransition, fmt.Errorf("wait from %s", state))
	}
	server := f.server
	f.mu.Unlock()

	f.logger.Info("Waiting for OAuth redirect")
	result, err := server.Wait(ctx, f.timeout)
	if err != nil {
		f.fail()
		return nil, err
	}
	return result, nil
}

// complete validates the redirect and only then exchanges the code.
func (f *Flow) complete(ctx context.Context, result *RedirectResult) (*TokenPair, error) {
	if result.IsError() {
		f.fail()
		f.logger.WithField("error", result.Error).Warn("OAuth provider denied the authorization request")
		return nil, NewOAuthError(result.Error, result.ErrorDescription)
	}
	if !stateMatches(f.csrfState, result.State) {
		f.fail()
		f.logger.Warn("OAuth redirect state does not match this request; rejecting it")
		return nil, NewAuthenticationError(ErrCsrfMismatch, fmt.Errorf("state mismatch"))
	}

	f.mu.Lock()
	if f.state != StateAwaitingRedirect {
		state := f.state
		f.mu.Unlock()
		return nil, NewAuthenticationError(ErrInvalidTransition, fmt.Errorf("exchange from %s", state))
	}
	f.state = StateExchanging
	f.mu.Unlock()

	f.logger.Debug("OAuth authorization code received; exchanging for tokens")

	var exchangeOpts []oauth2.AuthCodeOption
	if f.pkceCodes != nil {
		exchangeOpts = append(exchangeOpts, oauth2.VerifierOption(f.pkceCodes.Verifier))
	}
	if f.httpClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, f.httpClient)
	}

	token, err := f.oauthConfig.Exchange(ctx, result.Code, exchangeOpts...)
	if err != nil {
		f.fail()
		return nil, NewAuthenticationError(ErrCodeExchangeFailed, err)
	}

	pair := &TokenPair{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		ExpiresIn:    tokenLifetime(token),
	}

	f.mu.Lock()
	f.state = StateComplete
	f.mu.Unlock()

	f.logger.WithField("refresh", pair.HasRefreshToken()).Info("OAuth token exchange complete")
	return pair, nil
}

func (f *Flow) fail() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state != StateComplete {
		f.state = StateFailed
	}
}

func tokenLifetime(token *oauth2.Token) time.Duration {
	if token.ExpiresIn > 0 {
		return time.Duration(token.ExpiresIn) * time.Second
	}
	if !token.Expiry.IsZero() {
		return time.Until(token.Expiry).Round(time.Second)
	}
	return 0
}

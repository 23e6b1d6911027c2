package authcode

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/router-for-me/mailsetup/internal/auth/pkce"
	"github.com/sirupsen/logrus/hooks/test"
)

// tokenEndpoint is a fake provider token endpoint recording every form it receives.
type tokenEndpoint struct {
	server *httptest.Server
	calls  atomic.Int32

	mu    sync.Mutex
	forms []url.Values
}

func newTokenEndpoint(t *testing.T, status int, body string) *tokenEndpoint {
	t.Helper()
	te := &tokenEndpoint{}
	te.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		te.calls.Add(1)
		if err := r.ParseForm(); err != nil {
			t.Errorf("parse token form: %v", err)
		}
		te.mu.Lock()
		te.forms = append(te.forms, r.PostForm)
		te.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(te.server.Close)
	return te
}

func (te *tokenEndpoint) lastForm(t *testing.T) url.Values {
	t.Helper()
	te.mu.Lock()
	defer te.mu.Unlock()
	if len(te.forms) == 0 {
		t.Fatal("token endpoint was never called")
	}
	return te.forms[len(te.forms)-1]
}

func testEndpoint(t *testing.T, tokenURL string, usePKCE bool) Endpoint {
	t.Helper()
	return Endpoint{
		ClientID:     "client-123",
		ClientSecret: "s3cret",
		AuthURL:      "https://idp.example.com/authorize",
		TokenURL:     tokenURL,
		RedirectHost: "localhost",
		RedirectPort: freePort(t),
		Scopes:       []string{"https://mail.example.com/", "offline_access"},
		PKCE:         usePKCE,
		Method:       MethodXOAuth2,
	}
}

// browserFor returns a Publisher acting like a browser that completes the consent
// screen and follows the redirect with the given query mutator applied.
func browserFor(t *testing.T, port int, mutate func(url.Values)) Publisher {
	return func(_ context.Context, authURL string) error {
		u, err := url.Parse(authURL)
		if err != nil {
			return err
		}
		query := url.Values{
			"code":  {"auth-code-1"},
			"state": {u.Query().Get("state")},
		}
		if mutate != nil {
			mutate(query)
		}
		go redirectGet(t, port, "/?"+query.Encode())
		return nil
	}
}

func TestNewFlow_AuthorizationURLWithPKCE(t *testing.T) {
	t.Parallel()

	endpoint := testEndpoint(t, "https://idp.example.com/token", true)
	flow, err := NewFlow(endpoint)
	if err != nil {
		t.Fatalf("NewFlow: %v", err)
	}
	if flow.State() != StateBuilt {
		t.Fatalf("state = %s, want built", flow.State())
	}

	u, err := url.Parse(flow.AuthorizationURL())
	if err != nil {
		t.Fatalf("parse authorization URL: %v", err)
	}
	if got := u.Scheme + "://" + u.Host + u.Path; got != endpoint.AuthURL {
		t.Fatalf("authorization base = %q, want %q", got, endpoint.AuthURL)
	}

	q := u.Query()
	want := map[string]string{
		"response_type":         "code",
		"client_id":             "client-123",
		"redirect_uri":          endpoint.RedirectURL(),
		"scope":                 "https://mail.example.com/ offline_access",
		"code_challenge":        pkce.Challenge(flow.pkceCodes.Verifier),
		"code_challenge_method": "S256",
	}
	for key, value := range want {
		if q.Get(key) != value {
			t.Errorf("%s = %q, want %q", key, q.Get(key), value)
		}
	}
	if q.Get("state") != flow.csrfState || len(flow.csrfState) != 32 {
		t.Errorf("state = %q, want the 32 char flow state", q.Get("state"))
	}
	if strings.Contains(flow.AuthorizationURL(), flow.pkceCodes.Verifier) {
		t.Error("authorization URL leaks the PKCE verifier")
	}
	if strings.Contains(flow.AuthorizationURL(), "s3cret") {
		t.Error("authorization URL leaks the client secret")
	}
}

func TestNewFlow_AuthorizationURLWithoutPKCE(t *testing.T) {
	t.Parallel()

	flow, err := NewFlow(testEndpoint(t, "https://idp.example.com/token", false))
	if err != nil {
		t.Fatalf("NewFlow: %v", err)
	}
	q, _ := url.ParseQuery(strings.SplitN(flow.AuthorizationURL(), "?", 2)[1])
	if q.Has("code_challenge") || q.Has("code_challenge_method") {
		t.Fatalf("PKCE parameters present without PKCE: %v", q)
	}
	if flow.pkceCodes != nil {
		t.Fatal("PKCE codes generated although PKCE is disabled")
	}
}

func TestNewFlow_FreshMaterialPerAttempt(t *testing.T) {
	t.Parallel()

	endpoint := testEndpoint(t, "https://idp.example.com/token", true)
	first, err := NewFlow(endpoint)
	if err != nil {
		t.Fatalf("NewFlow: %v", err)
	}
	second, err := NewFlow(endpoint)
	if err != nil {
		t.Fatalf("NewFlow: %v", err)
	}
	if first.csrfState == second.csrfState {
		t.Error("CSRF state reused across attempts")
	}
	if first.pkceCodes.Verifier == second.pkceCodes.Verifier {
		t.Error("PKCE verifier reused across attempts")
	}
}

func TestNewFlow_InvalidEndpoint(t *testing.T) {
	t.Parallel()

	valid := Endpoint{
		ClientID:     "id",
		AuthURL:      "https://idp.example.com/authorize",
		TokenURL:     "https://idp.example.com/token",
		RedirectHost: "localhost",
		RedirectPort: 49152,
	}

	tests := []struct {
		name   string
		mutate func(*Endpoint)
	}{
		{"missing client id", func(e *Endpoint) { e.ClientID = " " }},
		{"relative auth url", func(e *Endpoint) { e.AuthURL = "/authorize" }},
		{"non http token url", func(e *Endpoint) { e.TokenURL = "ftp://idp.example.com/token" }},
		{"public redirect host", func(e *Endpoint) { e.RedirectHost = "0.0.0.0" }},
		{"port zero", func(e *Endpoint) { e.RedirectPort = 0 }},
		{"port too large", func(e *Endpoint) { e.RedirectPort = 70000 }},
		{"unknown method", func(e *Endpoint) { e.Method = Method(9) }},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			endpoint := valid
			tt.mutate(&endpoint)
			if _, err := NewFlow(endpoint); !errors.Is(err, ErrInvalidEndpoint) {
				t.Fatalf("NewFlow error = %v, want ErrInvalidEndpoint", err)
			}
		})
	}
}

func TestRun_CompletesWithPKCE(t *testing.T) {
	te := newTokenEndpoint(t, http.StatusOK, `{"access_token":"A","refresh_token":"R","token_type":"Bearer","expires_in":3600}`)
	endpoint := testEndpoint(t, te.server.URL, true)

	var verifier string
	flow, err := NewFlow(endpoint, WithPublisher(browserFor(t, endpoint.RedirectPort, nil)), WithTimeout(5*time.Second))
	if err != nil {
		t.Fatalf("NewFlow: %v", err)
	}
	verifier = flow.pkceCodes.Verifier
	if err = flow.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if flow.State() != StateAwaitingRedirect {
		t.Fatalf("state = %s, want awaiting_redirect", flow.State())
	}
	if err = flow.publisher(context.Background(), flow.AuthorizationURL()); err != nil {
		t.Fatalf("publish: %v", err)
	}

	pair, err := flow.Wait(context.Background())
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if pair.AccessToken != "A" || pair.RefreshToken != "R" || pair.ExpiresIn != time.Hour {
		t.Fatalf("unexpected pair %#v (access=%q refresh=%q)", pair, pair.AccessToken, pair.RefreshToken)
	}
	if flow.State() != StateComplete {
		t.Fatalf("state = %s, want complete", flow.State())
	}

	form := te.lastForm(t)
	want := map[string]string{
		"grant_type":    "authorization_code",
		"code":          "auth-code-1",
		"redirect_uri":  endpoint.RedirectURL(),
		"client_id":     "client-123",
		"client_secret": "s3cret",
		"code_verifier": verifier,
	}
	for key, value := range want {
		if form.Get(key) != value {
			t.Errorf("token form %s = %q, want %q", key, form.Get(key), value)
		}
	}
	if form.Has("code_challenge") {
		t.Error("token exchange must not send the challenge")
	}
	assertPortReleased(t, endpoint.RedirectPort)
}

func TestRun_WithoutPKCEOmitsVerifier(t *testing.T) {
	te := newTokenEndpoint(t, http.StatusOK, `{"access_token":"A","token_type":"Bearer"}`)
	endpoint := testEndpoint(t, te.server.URL, false)

	pair, err := Run(context.Background(), endpoint,
		WithPublisher(browserFor(t, endpoint.RedirectPort, nil)),
		WithTimeout(5*time.Second),
		WithHTTPClient(te.server.Client()),
	)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if pair.AccessToken != "A" {
		t.Fatalf("access token = %q, want A", pair.AccessToken)
	}
	if pair.HasRefreshToken() {
		t.Fatal("refresh token must be optional and absent here")
	}
	if te.lastForm(t).Has("code_verifier") {
		t.Fatal("token exchange sent a verifier without PKCE")
	}
}

func TestRun_CsrfMismatch(t *testing.T) {
	hook := test.NewGlobal()
	defer hook.Reset()

	tests := []struct {
		name   string
		mutate func(url.Values)
	}{
		{"last character changed", func(q url.Values) {
			s := q.Get("state")
			last := s[len(s)-1]
			repl := byte('0')
			if last == '0' {
				repl = '1'
			}
			q.Set("state", s[:len(s)-1]+string(repl))
		}},
		{"extra character", func(q url.Values) { q.Set("state", q.Get("state")+"a") }},
		{"truncated", func(q url.Values) { q.Set("state", q.Get("state")[1:]) }},
		{"missing", func(q url.Values) { q.Del("state") }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			te := newTokenEndpoint(t, http.StatusOK, `{"access_token":"A","refresh_token":"R"}`)
			endpoint := testEndpoint(t, te.server.URL, true)

			var sentState string
			mutate := func(q url.Values) {
				sentState = q.Get("state")
				tt.mutate(q)
			}

			flow, err := NewFlow(endpoint, WithPublisher(browserFor(t, endpoint.RedirectPort, mutate)), WithTimeout(5*time.Second))
			if err != nil {
				t.Fatalf("NewFlow: %v", err)
			}
			if err = flow.Start(); err != nil {
				t.Fatalf("Start: %v", err)
			}
			if err = flow.publisher(context.Background(), flow.AuthorizationURL()); err != nil {
				t.Fatalf("publish: %v", err)
			}

			pair, err := flow.Wait(context.Background())
			if !errors.Is(err, ErrCsrfMismatch) {
				t.Fatalf("Wait error = %v, want ErrCsrfMismatch", err)
			}
			if pair != nil {
				t.Fatal("a token pair was returned for a forged redirect")
			}
			if flow.State() != StateFailed {
				t.Fatalf("state = %s, want failed", flow.State())
			}
			if calls := te.calls.Load(); calls != 0 {
				t.Fatalf("token endpoint called %d times before CSRF validation", calls)
			}
			if strings.Contains(err.Error(), sentState) {
				t.Fatal("error message leaks the expected state")
			}
			for _, entry := range hook.AllEntries() {
				line, _ := entry.String()
				if strings.Contains(line, sentState) {
					t.Fatalf("log entry leaks the state: %q", line)
				}
			}
		})
	}
}

func TestRun_AuthorizationDenied(t *testing.T) {
	te := newTokenEndpoint(t, http.StatusOK, `{"access_token":"A"}`)
	endpoint := testEndpoint(t, te.server.URL, true)

	deny := func(q url.Values) {
		q.Del("code")
		q.Del("state")
		q.Set("error", "access_denied")
		q.Set("error_description", "The user denied access")
	}
	_, err := Run(context.Background(), endpoint, WithPublisher(browserFor(t, endpoint.RedirectPort, deny)), WithTimeout(5*time.Second))

	var oauthErr *OAuthError
	if !errors.As(err, &oauthErr) {
		t.Fatalf("Run error = %v, want *OAuthError", err)
	}
	if oauthErr.Code != "access_denied" || oauthErr.Description != "The user denied access" {
		t.Fatalf("unexpected OAuth error %+v", oauthErr)
	}
	if te.calls.Load() != 0 {
		t.Fatal("token endpoint called after a denial")
	}
	if msg := GetUserFriendlyMessage(err); !strings.Contains(msg, "The user denied access") {
		t.Fatalf("friendly message %q lost the provider reason", msg)
	}
}

func TestRun_TokenExchangeErrorIsNotRetried(t *testing.T) {
	te := newTokenEndpoint(t, http.StatusBadRequest, `{"error":"invalid_grant","error_description":"code expired"}`)
	endpoint := testEndpoint(t, te.server.URL, true)

	_, err := Run(context.Background(), endpoint, WithPublisher(browserFor(t, endpoint.RedirectPort, nil)), WithTimeout(5*time.Second))
	if !errors.Is(err, ErrCodeExchangeFailed) {
		t.Fatalf("Run error = %v, want ErrCodeExchangeFailed", err)
	}
	if code := ProviderErrorCode(err); code != "invalid_grant" {
		t.Fatalf("provider error code = %q, want invalid_grant", code)
	}
	if calls := te.calls.Load(); calls != 1 {
		t.Fatalf("token endpoint called %d times, want exactly 1", calls)
	}
	if msg := GetUserFriendlyMessage(err); !strings.Contains(msg, "invalid_grant") {
		t.Fatalf("friendly message %q misses the provider code", msg)
	}
	assertPortReleased(t, endpoint.RedirectPort)
}

func TestRun_MissingAccessTokenFails(t *testing.T) {
	te := newTokenEndpoint(t, http.StatusOK, `{"refresh_token":"R","token_type":"Bearer"}`)
	endpoint := testEndpoint(t, te.server.URL, false)

	_, err := Run(context.Background(), endpoint, WithPublisher(browserFor(t, endpoint.RedirectPort, nil)), WithTimeout(5*time.Second))
	if !errors.Is(err, ErrCodeExchangeFailed) {
		t.Fatalf("Run error = %v, want ErrCodeExchangeFailed", err)
	}
}

func TestRun_CancelWhileAwaitingReleasesPort(t *testing.T) {
	te := newTokenEndpoint(t, http.StatusOK, `{"access_token":"A"}`)
	endpoint := testEndpoint(t, te.server.URL, true)

	ctx, cancel := context.WithCancel(context.Background())
	publisher := func(context.Context, string) error {
		go func() {
			time.Sleep(50 * time.Millisecond)
			cancel()
		}()
		return nil
	}

	_, err := Run(ctx, endpoint, WithPublisher(publisher), WithTimeout(time.Minute))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Run error = %v, want context.Canceled", err)
	}
	if te.calls.Load() != 0 {
		t.Fatal("token endpoint called after cancellation")
	}
	assertPortReleased(t, endpoint.RedirectPort)
}

func TestRun_BindErrorSurfacesImmediately(t *testing.T) {
	te := newTokenEndpoint(t, http.StatusOK, `{"access_token":"A"}`)
	endpoint := testEndpoint(t, te.server.URL, true)

	busy, err := Listen("localhost", endpoint.RedirectPort)
	if err != nil {
		t.Fatalf("occupy port: %v", err)
	}
	defer func() { _ = busy.Close() }()

	published := false
	_, err = Run(context.Background(), endpoint, WithPublisher(func(context.Context, string) error {
		published = true
		return nil
	}))
	if !errors.Is(err, ErrBindFailed) {
		t.Fatalf("Run error = %v, want ErrBindFailed", err)
	}
	if published {
		t.Fatal("authorization URL published although the listener could not bind")
	}
}

func TestFlow_StartTwiceIsRejected(t *testing.T) {
	flow, err := NewFlow(testEndpoint(t, "https://idp.example.com/token", true))
	if err != nil {
		t.Fatalf("NewFlow: %v", err)
	}
	if err = flow.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer func() { _ = flow.Close() }()

	if err = flow.Start(); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("second Start error = %v, want ErrInvalidTransition", err)
	}
}

func TestTokenPair_StringRedactsTokens(t *testing.T) {
	t.Parallel()

	pair := &TokenPair{AccessToken: "access-value", RefreshToken: "refresh-value"}
	for _, s := range []string{pair.String(), pair.GoString()} {
		if strings.Contains(s, "access-value") || strings.Contains(s, "refresh-value") {
			t.Fatalf("token pair string leaks tokens: %q", s)
		}
	}
}

func TestMethod_TextRoundTrip(t *testing.T) {
	t.Parallel()

	var m Method
	if err := m.UnmarshalText([]byte("OAUTHBEARER")); err != nil || m != MethodOAuthBearer {
		t.Fatalf("UnmarshalText = %v, %v", m, err)
	}
	if err := m.UnmarshalText([]byte("plain")); err == nil {
		t.Fatal("unknown method accepted")
	}
}

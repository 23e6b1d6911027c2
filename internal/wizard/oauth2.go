package wizard

import (
	"context"
	"fmt"
	"strings"

	"github.com/router-for-me/mailsetup/internal/auth/authcode"
	"github.com/router-for-me/mailsetup/internal/config"
	"github.com/router-for-me/mailsetup/internal/secret"
)

// methodChoice displays a SASL mechanism by its protocol name, e.g. XOAUTH2.
type methodChoice authcode.Method

func (m methodChoice) String() string {
	return strings.ToUpper(authcode.Method(m).String())
}

var oauthMethods = []methodChoice{
	methodChoice(authcode.MethodXOAuth2),
	methodChoice(authcode.MethodOAuthBearer),
}

func (s *session) configureOAuth2(ctx context.Context) (*config.OAuth2Config, error) {
	label := s.service.Label() + " OAuth 2.0"
	cfg := &config.OAuth2Config{
		RedirectHost: s.redirectHost,
		RedirectPort: s.redirectPort,
	}

	method, err := selectOne(ctx, s.prompter, label+" mechanism", oauthMethods, 0)
	if err != nil {
		return nil, err
	}
	cfg.Method = authcode.Method(method)

	clientID, err := s.prompter.Input(ctx, label+" client id", "", validateRequired("client id"))
	if err != nil {
		return nil, err
	}
	cfg.ClientID = strings.TrimSpace(clientID)

	clientSecret, err := s.prompter.Password(ctx, label+" client secret", validateRequired("client secret"))
	if err != nil {
		return nil, err
	}

	authURL, err := s.prompter.Input(ctx, label+" authorization URL", "", validateURL)
	if err != nil {
		return nil, err
	}
	cfg.AuthURL = strings.TrimSpace(authURL)

	tokenURL, err := s.prompter.Input(ctx, label+" token URL", "", validateURL)
	if err != nil {
		return nil, err
	}
	cfg.TokenURL = strings.TrimSpace(tokenURL)

	if cfg.Scopes, err = s.promptScopes(ctx, label); err != nil {
		return nil, err
	}

	if cfg.PKCE, err = s.prompter.Confirm(ctx, "Would you like to enable PKCE verification?", true); err != nil {
		return nil, err
	}

	storage, err := selectOne(ctx, s.prompter, "Where should the OAuth 2.0 credentials be stored?", tokenStorage, 0)
	if err != nil {
		return nil, err
	}

	s.logf("To complete your OAuth 2.0 setup, click on the following link:")
	tokens, err := s.authorize(ctx, cfg.Endpoint(clientSecret))
	if err != nil {
		return nil, err
	}
	if tokens == nil || tokens.AccessToken == "" {
		return nil, authcode.NewAuthenticationError(authcode.ErrCodeExchangeFailed, fmt.Errorf("no access token issued"))
	}
	defer func() {
		*tokens = authcode.TokenPair{}
	}()
	s.logf("Authorization granted")

	kind := storage.kind
	if cfg.ClientSecret, err = s.persist(ctx, kind, s.entryKey("oauth2-client-secret"), clientSecret, "client secret"); err != nil {
		return nil, err
	}
	kind = cfg.ClientSecret.Kind()
	if cfg.AccessToken, err = s.persist(ctx, kind, s.entryKey("oauth2-access-token"), tokens.AccessToken, "access token"); err != nil {
		return nil, err
	}
	kind = cfg.AccessToken.Kind()
	if tokens.HasRefreshToken() {
		if cfg.RefreshToken, err = s.persist(ctx, kind, s.entryKey("oauth2-refresh-token"), tokens.RefreshToken, "refresh token"); err != nil {
			return nil, err
		}
	} else {
		s.notef("The provider did not issue a refresh token; you will need to sign in again when the access token expires.")
	}
	return cfg, nil
}

// promptScopes asks for the main scope, then for more until the user declines or
// the limit is reached. Duplicates are ignored.
func (s *session) promptScopes(ctx context.Context, label string) ([]string, error) {
	main, err := s.prompter.Input(ctx, label+" main scope", "", validateScope)
	if err != nil {
		return nil, err
	}
	scopes := []string{strings.TrimSpace(main)}
	seen := map[string]bool{scopes[0]: true}

	for len(scopes) < maxScopes {
		more, errConfirm := s.prompter.Confirm(ctx, fmt.Sprintf("Would you like to add more %s scopes?", label), false)
		if errConfirm != nil {
			return nil, errConfirm
		}
		if !more {
			return scopes, nil
		}
		scope, errInput := s.prompter.Input(ctx, "Additional "+label+" scope", "", validateScope)
		if errInput != nil {
			return nil, errInput
		}
		scope = strings.TrimSpace(scope)
		if seen[scope] {
			s.notef("Scope %s already added", scope)
			continue
		}
		seen[scope] = true
		scopes = append(scopes, scope)
	}
	s.notef("Scope limit of %d reached", maxScopes)
	return scopes, nil
}

func (s *session) entryKey(purpose string) string {
	return secret.EntryKey(s.account, s.service.String(), purpose)
}

// Package util provides helpers shared by the mailsetup commands.
// It currently covers outbound HTTP proxy configuration for the token exchange.
package util

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/net/proxy"
)

// DefaultHTTPTimeout bounds a single token endpoint request.
const DefaultHTTPTimeout = 30 * time.Second

// NewHTTPClient returns a client routed through proxyURL when it is set.
func NewHTTPClient(proxyURL string) (*http.Client, error) {
	return SetProxy(proxyURL, &http.Client{Timeout: DefaultHTTPTimeout})
}

// SetProxy configures the provided HTTP client with the given proxy URL.
// It supports SOCKS5, HTTP, and HTTPS proxies. An empty URL leaves the client untouched.
func SetProxy(proxyURL string, httpClient *http.Client) (*http.Client, error) {
	raw := strings.TrimSpace(proxyURL)
	if raw == "" {
		return httpClient, nil
	}

	parsed, errParse := url.Parse(raw)
	if errParse != nil {
		return httpClient, fmt.Errorf("invalid proxy-url: %w", errParse)
	}

	var transport *http.Transport
	switch parsed.Scheme {
	case "socks5", "socks5h":
		var proxyAuth *proxy.Auth
		if parsed.User != nil {
			username := parsed.User.Username()
			password, _ := parsed.User.Password()
			proxyAuth = &proxy.Auth{User: username, Password: password}
		}
		dialer, errSOCKS5 := proxy.SOCKS5("tcp", parsed.Host, proxyAuth, proxy.Direct)
		if errSOCKS5 != nil {
			return httpClient, fmt.Errorf("create SOCKS5 dialer failed: %w", errSOCKS5)
		}
		transport = &http.Transport{
			DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
				if cd, ok := dialer.(proxy.ContextDialer); ok {
					return cd.DialContext(ctx, network, addr)
				}
				return dialer.Dial(network, addr)
			},
		}
	case "http", "https":
		transport = &http.Transport{Proxy: http.ProxyURL(parsed)}
	default:
		return httpClient, fmt.Errorf("unsupported proxy scheme %q", parsed.Scheme)
	}

	log.WithField("host", parsed.Hostname()).Debug("Using outbound proxy")
	httpClient.Transport = transport
	return httpClient, nil
}

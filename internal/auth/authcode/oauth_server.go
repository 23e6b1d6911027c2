package authcode

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// DefaultRedirectTimeout bounds how long the listener waits for the browser.
const DefaultRedirectTimeout = 5 * time.Minute

// maxMalformedRequests is the number of unexpected requests tolerated before the
// listener gives up. The first one gets an error page and the wait continues.
const maxMalformedRequests = 2

// RedirectResult is the authorization response carried by the browser redirect.
// Either Code and State are set, or Error (and optionally ErrorDescription).
type RedirectResult struct {
	// Code is the authorization code issued by the provider.
	Code string
	// State is the CSRF state echoed back by the provider.
	State string
	// Error is the OAuth error code when the provider denied the request.
	Error string
	// ErrorDescription is the provider's optional reason for Error.
	ErrorDescription string
}

// IsError reports whether the redirect carried the error variant.
func (r *RedirectResult) IsError() bool {
	return r.Error != ""
}

// OAuthServer is a short-lived loopback HTTP listener that captures exactly one
// OAuth redirect and then stops accepting requests.
type OAuthServer struct {
	// server is the underlying HTTP server instance
	server *http.Server
	// listeners are the bound loopback sockets; the first one is always present
	listeners []net.Listener
	// resultChan receives the single accepted redirect
	resultChan chan *RedirectResult
	// errorChan receives serve failures and malformed-request exhaustion
	errorChan chan error
	// mu protects the fields below
	mu sync.Mutex
	// running indicates whether the socket is still bound
	running bool
	// delivered is set once a redirect has been accepted
	delivered bool
	// malformed counts rejected requests
	malformed int
}

// Listen binds a redirect listener on host:port. Only loopback hosts are accepted.
// localhost is bound on both 127.0.0.1 and ::1 so the redirect arrives whichever
// address the browser resolves it to; the IPv6 socket is skipped when it cannot be
// bound. A bind failure on the first address is reported immediately as
// ErrBindFailed and never retried.
func Listen(host string, port int) (*OAuthServer, error) {
	bindHosts, err := loopbackHosts(host)
	if err != nil {
		return nil, NewAuthenticationError(ErrBindFailed, err)
	}
	if port < 0 || port > 65535 {
		return nil, NewAuthenticationError(ErrBindFailed, fmt.Errorf("invalid redirect port %d", port))
	}

	primary, err := net.Listen("tcp", net.JoinHostPort(bindHosts[0], strconv.Itoa(port)))
	if err != nil {
		return nil, NewAuthenticationError(ErrBindFailed, err)
	}
	boundPort := primary.Addr().(*net.TCPAddr).Port
	listeners := []net.Listener{primary}
	for _, bindHost := range bindHosts[1:] {
		extra, errExtra := net.Listen("tcp", net.JoinHostPort(bindHost, strconv.Itoa(boundPort)))
		if errExtra != nil {
			log.WithError(errExtra).Debugf("OAuth redirect listener not bound on %s", bindHost)
			continue
		}
		listeners = append(listeners, extra)
	}

	s := &OAuthServer{
		listeners:  listeners,
		resultChan: make(chan *RedirectResult, 1),
		errorChan:  make(chan error, 1),
		running:    true,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleRedirect)

	s.server = &http.Server{
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	for _, l := range listeners {
		go func(l net.Listener) {
			if errServe := s.server.Serve(l); errServe != nil && !errors.Is(errServe, http.ErrServerClosed) {
				s.sendError(fmt.Errorf("redirect listener stopped: %w", errServe))
			}
		}(l)
	}

	log.WithField("port", boundPort).Debugf("OAuth redirect listener started on %d address(es)", len(listeners))
	return s, nil
}

// Capture binds a listener, waits for one redirect and releases the port.
func Capture(ctx context.Context, host string, port int, timeout time.Duration) (*RedirectResult, error) {
	s, err := Listen(host, port)
	if err != nil {
		return nil, err
	}
	return s.Wait(ctx, timeout)
}

// Addr returns the bound address.
func (s *OAuthServer) Addr() net.Addr {
	return s.listeners[0].Addr()
}

// Wait blocks until a redirect arrives, the timeout elapses, or ctx is cancelled.
// The listener is closed and its port released before Wait returns, whatever the outcome.
func (s *OAuthServer) Wait(ctx context.Context, timeout time.Duration) (*RedirectResult, error) {
	defer func() {
		if errClose := s.Close(); errClose != nil {
			log.Warnf("OAuth redirect listener close error: %v", errClose)
		}
	}()

	if timeout <= 0 {
		timeout = DefaultRedirectTimeout
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case result := <-s.resultChan:
		return result, nil
	case err := <-s.errorChan:
		return nil, err
	case <-timer.C:
		return nil, NewAuthenticationError(ErrRedirectTimeout, fmt.Errorf("no redirect within %s", timeout))
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close stops the listener. It is safe to call more than once.
func (s *OAuthServer) Close() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	s.delivered = true
	s.mu.Unlock()

	log.Debug("Stopping OAuth redirect listener")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	// Shutdown closes the listening sockets before waiting for in-flight responses.
	err := s.server.Shutdown(shutdownCtx)
	if err != nil {
		err = s.server.Close()
	}
	// A Serve goroutine that has not started yet would close its socket late.
	for _, l := range s.listeners {
		_ = l.Close()
	}
	return err
}

// IsRunning returns whether the listener still holds its port.
func (s *OAuthServer) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// handleRedirect accepts the first well-formed redirect and rejects everything else.
func (s *OAuthServer) handleRedirect(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path == "/favicon.ico" {
		http.NotFound(w, r)
		return
	}

	s.mu.Lock()
	if s.delivered {
		s.mu.Unlock()
		writePage(w, http.StatusGone, closedTitle, closedBody)
		return
	}

	result, ok := parseRedirect(r)
	if !ok {
		s.malformed++
		attempts := s.malformed
		s.mu.Unlock()

		// The query may carry a code; only the method and path are logged.
		log.Warnf("Unexpected request on OAuth redirect listener: %s %s", r.Method, r.URL.Path)
		writePage(w, http.StatusBadRequest, malformedTitle, malformedBody)
		if attempts >= maxMalformedRequests {
			s.sendError(NewAuthenticationError(ErrMalformedRedirect, fmt.Errorf("%d unexpected requests", attempts)))
		}
		return
	}
	s.delivered = true
	s.mu.Unlock()

	if result.IsError() {
		log.Debug("OAuth redirect carried an error response")
		writePage(w, http.StatusOK, deniedTitle, deniedBody)
	} else {
		log.Debug("OAuth redirect carried an authorization code")
		writePage(w, http.StatusOK, successTitle, successBody)
	}
	s.sendResult(result)
}

// sendResult hands the result to Wait without blocking the handler.
func (s *OAuthServer) sendResult(result *RedirectResult) {
	select {
	case s.resultChan <- result:
	default:
		log.Warn("OAuth redirect result channel is full, result dropped")
	}
}

func (s *OAuthServer) sendError(err error) {
	select {
	case s.errorChan <- err:
	default:
	}
}

// parseRedirect extracts the authorization response from GET /?... requests.
func parseRedirect(r *http.Request) (*RedirectResult, bool) {
	if r.Method != http.MethodGet || (r.URL.Path != "/" && r.URL.Path != "") {
		return nil, false
	}

	query := r.URL.Query()
	if errCode := strings.TrimSpace(query.Get("error")); errCode != "" {
		return &RedirectResult{
			Error:            errCode,
			ErrorDescription: strings.TrimSpace(query.Get("error_description")),
		}, true
	}

	code := strings.TrimSpace(query.Get("code"))
	if code == "" {
		return nil, false
	}
	return &RedirectResult{
		Code:  code,
		State: query.Get("state"),
	}, true
}

func writePage(w http.ResponseWriter, status int, title, body string) {
	page := strings.ReplaceAll(pageTemplate, "{{TITLE}}", title)
	page = strings.Replace(page, "{{BODY}}", body, 1)

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	if _, err := w.Write([]byte(page)); err != nil {
		log.Errorf("Failed to write redirect page: %v", err)
	}
}

// loopbackHosts maps the configured redirect host to the loopback addresses to bind.
// The redirect_uri keeps the configured host, so localhost needs both families.
func loopbackHosts(host string) ([]string, error) {
	trimmed := strings.Trim(strings.TrimSpace(host), "[]")
	if strings.EqualFold(trimmed, "localhost") {
		return []string{"127.0.0.1", "::1"}, nil
	}
	ip := net.ParseIP(trimmed)
	if ip == nil || !ip.IsLoopback() {
		return nil, fmt.Errorf("redirect host %q is not a loopback address", host)
	}
	return []string{ip.String()}, nil
}

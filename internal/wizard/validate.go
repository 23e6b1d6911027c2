package wizard

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"unicode"
)

const (
	maxScopes      = 32
	maxScopeLength = 256
)

func validateRequired(name string) func(string) error {
	return func(s string) error {
		if strings.TrimSpace(s) == "" {
			return fmt.Errorf("%s is required", name)
		}
		return nil
	}
}

func validateHost(s string) error {
	s = strings.TrimSpace(s)
	if s == "" {
		return errors.New("host is required")
	}
	if strings.ContainsFunc(s, unicode.IsSpace) || strings.Contains(s, "/") {
		return errors.New("host must be a bare hostname or address")
	}
	return nil
}

func validatePort(s string) error {
	_, err := parsePort(s)
	return err
}

func parsePort(s string) (int, error) {
	port, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, errors.New("port must be a number")
	}
	if port < 1 || port > 65535 {
		return 0, errors.New("port must be between 1 and 65535")
	}
	return port, nil
}

func validateURL(s string) error {
	u, err := url.Parse(strings.TrimSpace(s))
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return errors.New("enter an absolute http(s) URL")
	}
	return nil
}

func validateScope(s string) error {
	s = strings.TrimSpace(s)
	switch {
	case s == "":
		return errors.New("scope is required")
	case len(s) > maxScopeLength:
		return fmt.Errorf("scope must be at most %d characters", maxScopeLength)
	case strings.ContainsFunc(s, unicode.IsSpace):
		return errors.New("enter one scope at a time, without spaces")
	}
	return nil
}

// emailDomain returns the part after the last @, or the whole string without one.
func emailDomain(email string) string {
	if i := strings.LastIndex(email, "@"); i >= 0 {
		return email[i+1:]
	}
	return email
}

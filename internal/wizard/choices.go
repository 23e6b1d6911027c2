package wizard

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/router-for-me/mailsetup/internal/secret"
)

// Service is the mail server role being configured.
type Service int

const (
	// ServiceSMTP configures the sending server.
	ServiceSMTP Service = iota
	// ServiceIMAP configures the receiving server.
	ServiceIMAP
)

// Services lists every service in display order.
var Services = []Service{ServiceSMTP, ServiceIMAP}

// String returns the lowercase key used in entry keys and configuration.
func (s Service) String() string {
	switch s {
	case ServiceSMTP:
		return "smtp"
	case ServiceIMAP:
		return "imap"
	default:
		return "service(" + strconv.Itoa(int(s)) + ")"
	}
}

// Label returns the display name used in prompts.
func (s Service) Label() string {
	return strings.ToUpper(s.String())
}

// ParseService parses "smtp" or "imap".
func ParseService(value string) (Service, error) {
	for _, s := range Services {
		if strings.EqualFold(strings.TrimSpace(value), s.String()) {
			return s, nil
		}
	}
	return 0, fmt.Errorf("unknown service %q (want smtp or imap)", value)
}

// Protocol is the transport security of a mail server connection.
type Protocol int

const (
	ProtocolSSL Protocol = iota
	ProtocolStartTLS
	ProtocolNone
)

// Protocols lists every protocol in display order.
var Protocols = []Protocol{ProtocolSSL, ProtocolStartTLS, ProtocolNone}

func (p Protocol) String() string {
	switch p {
	case ProtocolSSL:
		return "SSL/TLS"
	case ProtocolStartTLS:
		return "STARTTLS"
	case ProtocolNone:
		return "None"
	default:
		return "protocol(" + strconv.Itoa(int(p)) + ")"
	}
}

// DefaultPort returns the well-known port of the protocol for service.
func (p Protocol) DefaultPort(s Service) (int, error) {
	switch s {
	case ServiceSMTP:
		switch p {
		case ProtocolSSL:
			return 465, nil
		case ProtocolStartTLS:
			return 587, nil
		case ProtocolNone:
			return 25, nil
		}
	case ServiceIMAP:
		switch p {
		case ProtocolSSL:
			return 993, nil
		case ProtocolStartTLS, ProtocolNone:
			return 143, nil
		}
	}
	return 0, fmt.Errorf("no default port for %s over %s", s, p)
}

// AuthMechanism is how the client authenticates against the server.
type AuthMechanism int

const (
	AuthPasswd AuthMechanism = iota
	AuthOAuth2
)

// AuthMechanisms lists every mechanism in display order.
var AuthMechanisms = []AuthMechanism{AuthPasswd, AuthOAuth2}

func (a AuthMechanism) String() string {
	switch a {
	case AuthPasswd:
		return "Password"
	case AuthOAuth2:
		return "OAuth 2.0"
	default:
		return "auth(" + strconv.Itoa(int(a)) + ")"
	}
}

// storageChoice labels a secret backend for a selection prompt.
type storageChoice struct {
	kind  secret.Kind
	label string
}

func (c storageChoice) String() string { return c.label }

var passwdStorage = []storageChoice{
	{secret.KindKeyring, "Ask the password, then save it in my system's global keyring"},
	{secret.KindRaw, "Ask the password, then save it in the configuration file (not safe)"},
	{secret.KindCommand, "Use a shell command that exposes the password"},
}

var tokenStorage = []storageChoice{
	{secret.KindKeyring, "Save them in my system's global keyring"},
	{secret.KindRaw, "Save them in the configuration file (not safe)"},
}

// fallbackStorage lists the writable backends not tried yet.
func fallbackStorage(tried map[secret.Kind]bool) []storageChoice {
	var out []storageChoice
	for _, k := range secret.Kinds {
		if !k.Writable() || tried[k] {
			continue
		}
		switch k {
		case secret.KindKeyring:
			out = append(out, storageChoice{k, "System keyring"})
		case secret.KindRaw:
			out = append(out, storageChoice{k, "Configuration file (not safe)"})
		}
	}
	return out
}

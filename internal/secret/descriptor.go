// Package secret stores and resolves sensitive strings (passwords, OAuth 2.0 tokens,
// client secrets) through one of three backends: the operating system credential
// vault, an inline raw value kept in the configuration, or a shell command that
// prints the secret on demand.
package secret

import (
	"fmt"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Kind identifies a secret backend.
type Kind int

const (
	// KindKeyring keeps the secret in the OS credential vault under an entry key.
	KindKeyring Kind = iota + 1
	// KindRaw keeps the secret verbatim in the configuration file.
	KindRaw
	// KindCommand obtains the secret by running a shell command.
	KindCommand
)

// Kinds lists every backend in display order.
var Kinds = []Kind{KindKeyring, KindRaw, KindCommand}

// String returns the configuration key of the backend.
func (k Kind) String() string {
	switch k {
	case KindKeyring:
		return "keyring"
	case KindRaw:
		return "raw"
	case KindCommand:
		return "cmd"
	default:
		return "kind(" + strconv.Itoa(int(k)) + ")"
	}
}

// Writable reports whether Store.Persist can place a value in this backend.
func (k Kind) Writable() bool {
	switch k {
	case KindKeyring, KindRaw:
		return true
	default:
		return false
	}
}

func parseKind(s string) (Kind, bool) {
	for _, k := range Kinds {
		if k.String() == s {
			return k, true
		}
	}
	return 0, false
}

// Descriptor says where a secret lives or how to obtain it. The configuration
// stores descriptors only; keyring and command descriptors never hold the secret.
type Descriptor struct {
	kind  Kind
	value string
}

// Keyring returns a descriptor for a vault entry.
func Keyring(entryKey string) Descriptor {
	return Descriptor{kind: KindKeyring, value: entryKey}
}

// Raw returns a descriptor holding the secret itself.
func Raw(value string) Descriptor {
	return Descriptor{kind: KindRaw, value: value}
}

// Command returns a descriptor for a shell command printing the secret.
func Command(shell string) Descriptor {
	return Descriptor{kind: KindCommand, value: shell}
}

// Kind returns the backend of the descriptor, or zero for an empty descriptor.
func (d Descriptor) Kind() Kind {
	return d.kind
}

// IsZero reports whether the descriptor is unset.
func (d Descriptor) IsZero() bool {
	return d.kind == 0
}

// EntryKey returns the vault entry key of a keyring descriptor.
func (d Descriptor) EntryKey() string {
	if d.kind != KindKeyring {
		return ""
	}
	return d.value
}

// Shell returns the command line of a command descriptor.
func (d Descriptor) Shell() string {
	if d.kind != KindCommand {
		return ""
	}
	return d.value
}

// String describes the descriptor without revealing raw values.
func (d Descriptor) String() string {
	switch d.kind {
	case KindKeyring:
		return "keyring:" + d.value
	case KindRaw:
		return "raw:[redacted]"
	case KindCommand:
		return "cmd:" + d.value
	default:
		return "unset"
	}
}

// GoString redacts raw values as String does.
func (d Descriptor) GoString() string {
	return d.String()
}

// MarshalYAML encodes the descriptor as a single-key mapping, for example
// {keyring: work-smtp-passwd}.
func (d Descriptor) MarshalYAML() (interface{}, error) {
	if d.IsZero() {
		return nil, nil
	}
	return map[string]string{d.kind.String(): d.value}, nil
}

// UnmarshalYAML decodes the single-key mapping written by MarshalYAML.
func (d *Descriptor) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode && node.Tag == "!!null" {
		*d = Descriptor{}
		return nil
	}
	if node.Kind != yaml.MappingNode || len(node.Content) != 2 {
		return fmt.Errorf("line %d: secret must be one of {keyring: ...}, {raw: ...} or {cmd: ...}", node.Line)
	}
	keyNode, valueNode := node.Content[0], node.Content[1]
	kind, ok := parseKind(keyNode.Value)
	if !ok {
		return fmt.Errorf("line %d: unknown secret backend %q", keyNode.Line, keyNode.Value)
	}
	if valueNode.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: secret %s value must be a string", valueNode.Line, kind)
	}
	if kind != KindRaw && valueNode.Value == "" {
		return fmt.Errorf("line %d: secret %s value is empty", valueNode.Line, kind)
	}
	*d = Descriptor{kind: kind, value: valueNode.Value}
	return nil
}

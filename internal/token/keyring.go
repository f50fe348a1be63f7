package token

import (
	"errors"
	"fmt"
	"strings"
)

// Key is a signing secret identified by the kid header
type Key struct {
	ID     string
	Secret []byte
}

// Keyring holds the current signing key of one token family plus the explicit
// accept-list of retired keys. Verification picks one key by kid and never
// iterates over secrets.
type Keyring struct {
	current  Key
	accepted map[string][]byte
}

// NewKeyring creates a keyring signing with current and also accepting previous
func NewKeyring(current Key, previous ...Key) (*Keyring, error) {
	if current.ID == "" {
		return nil, errors.New("current key id is required")
	}
	if len(current.Secret) == 0 {
		return nil, errors.New("current key secret is required")
	}

	accepted := map[string][]byte{current.ID: current.Secret}
	for _, k := range previous {
		if k.ID == "" || len(k.Secret) == 0 {
			return nil, fmt.Errorf("previous key %q is incomplete", k.ID)
		}
		if _, dup := accepted[k.ID]; dup {
			return nil, fmt.Errorf("duplicate key id %q", k.ID)
		}
		accepted[k.ID] = k.Secret
	}

	return &Keyring{current: current, accepted: accepted}, nil
}

// Current returns the signing key
func (k *Keyring) Current() Key {
	return k.current
}

// Lookup returns the secret for kid. Tokens minted before kid headers were
// introduced carry none and resolve to the current key.
func (k *Keyring) Lookup(kid string) ([]byte, bool) {
	if kid == "" {
		return k.current.Secret, true
	}
	secret, ok := k.accepted[kid]
	return secret, ok
}

// Shares reports whether any secret is present in both keyrings
func (k *Keyring) Shares(other *Keyring) bool {
	for _, a := range k.accepted {
		for _, b := range other.accepted {
			if string(a) == string(b) {
				return true
			}
		}
	}
	return false
}

// ParseKeyList parses "kid:secret,kid:secret". Empty input yields no keys.
func ParseKeyList(s string) ([]Key, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}

	var keys []Key
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, secret, ok := strings.Cut(part, ":")
		id = strings.TrimSpace(id)
		if !ok || id == "" || secret == "" {
			return nil, fmt.Errorf("invalid key entry %q, want kid:secret", part)
		}
		keys = append(keys, Key{ID: id, Secret: []byte(secret)})
	}
	return keys, nil
}

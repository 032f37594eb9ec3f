// Package secrets holds the process-wide macaroon signing keys.
//
// Keys are loaded once at startup from configuration and are never logged or
// serialized. Each key carries a short version identifier which is embedded
// in issued macaroons, so verification can select the right key after a
// rotation without invalidating tokens signed by an older key.
package secrets

import (
	"crypto/hmac"
	"crypto/sha256"
	"errors"
	"fmt"
)

// ErrUnknownKey is returned when a macaroon names a key ID the keyring does
// not hold.
var ErrUnknownKey = errors.New("unknown signing key id")

// Keyring is an immutable set of versioned HMAC-SHA256 signing keys.
type Keyring struct {
	keys    map[string][]byte
	current string
}

// NewKeyring builds a keyring from key-ID → secret material. currentID names
// the key used for newly issued macaroons; it must be present in keys.
func NewKeyring(keys map[string]string, currentID string) (*Keyring, error) {
	if len(keys) == 0 {
		return nil, errors.New("keyring requires at least one key")
	}
	m := make(map[string][]byte, len(keys))
	for id, secret := range keys {
		if id == "" || secret == "" {
			return nil, errors.New("key id and secret must not be empty")
		}
		m[id] = []byte(secret)
	}
	if _, ok := m[currentID]; !ok {
		return nil, fmt.Errorf("current key %q not present in keyring", currentID)
	}
	return &Keyring{keys: m, current: currentID}, nil
}

// CurrentKeyID returns the version identifier of the active signing key.
func (k *Keyring) CurrentKeyID() string {
	return k.current
}

// Sign computes the chained HMAC tag over the identifier and each caveat in
// order, using the key named by keyID. The chaining allows caveats to be
// appended without re-signing from the root secret.
func (k *Keyring) Sign(keyID, identifier string, caveats []string) ([]byte, error) {
	key, ok := k.keys[keyID]
	if !ok {
		return nil, ErrUnknownKey
	}
	tag := hmacSum(key, []byte(identifier))
	for _, cav := range caveats {
		tag = hmacSum(tag, []byte(cav))
	}
	return tag, nil
}

// Verify recomputes the tag for the given caveats and compares it against
// the presented tag in constant time.
func (k *Keyring) Verify(keyID, identifier string, caveats []string, tag []byte) bool {
	want, err := k.Sign(keyID, identifier, caveats)
	if err != nil {
		return false
	}
	return hmac.Equal(want, tag)
}

func hmacSum(key, msg []byte) []byte {
	h := hmac.New(sha256.New, key)
	h.Write(msg)
	return h.Sum(nil)
}

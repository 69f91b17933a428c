package launch

import (
	"crypto/ed25519"
	"fmt"
)

const redacted = "[redacted]"

// OneTimeSecret holds the asset keypair returned by the creation service. It
// renders as [redacted] in every formatting path and is wiped after signing.
type OneTimeSecret struct {
	key ed25519.PrivateKey
}

// NewOneTimeSecret takes ownership of key
func NewOneTimeSecret(key ed25519.PrivateKey) *OneTimeSecret {
	return &OneTimeSecret{key: key}
}

// PrivateKey returns the key, or nil once wiped
func (s *OneTimeSecret) PrivateKey() ed25519.PrivateKey {
	if s == nil {
		return nil
	}
	return s.key
}

// Public returns the asset public key, or nil once wiped
func (s *OneTimeSecret) Public() ed25519.PublicKey {
	if s == nil || len(s.key) != ed25519.PrivateKeySize {
		return nil
	}
	return s.key.Public().(ed25519.PublicKey)
}

// Wipe zeroes the key material
func (s *OneTimeSecret) Wipe() {
	if s == nil {
		return
	}
	for i := range s.key {
		s.key[i] = 0
	}
	s.key = nil
}

// Wiped reports whether the key has been destroyed
func (s *OneTimeSecret) Wiped() bool {
	return s == nil || s.key == nil
}

func (s *OneTimeSecret) String() string   { return redacted }
func (s *OneTimeSecret) GoString() string { return redacted }

func (s *OneTimeSecret) Format(f fmt.State, verb rune) {
	_, _ = f.Write([]byte(redacted))
}

func (s *OneTimeSecret) MarshalJSON() ([]byte, error) {
	return []byte(`"` + redacted + `"`), nil
}

func (s *OneTimeSecret) MarshalText() ([]byte, error) {
	return []byte(redacted), nil
}

package signer

import (
	"bytes"
	"crypto/ed25519"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/mr-tron/base58"
)

// ParseKey reads a requester key in one of three forms: a base58 64-byte
// keypair, a solana-keygen JSON byte array, or a PKCS#8 PEM block.
func ParseKey(raw []byte) (ed25519.PrivateKey, error) {
	text := strings.TrimSpace(string(raw))
	switch {
	case text == "":
		return nil, errors.New("empty key")
	case strings.HasPrefix(text, "-----BEGIN"):
		return parsePEM([]byte(text))
	case strings.HasPrefix(text, "["):
		var b []byte
		var ints []int
		if err := json.Unmarshal([]byte(text), &ints); err != nil {
			return nil, fmt.Errorf("keypair file: %w", err)
		}
		for _, v := range ints {
			if v < 0 || v > 255 {
				return nil, errors.New("keypair file: byte out of range")
			}
			b = append(b, byte(v))
		}
		return fromKeypair(b)
	default:
		b, err := base58.Decode(text)
		if err != nil {
			return nil, fmt.Errorf("base58 key: %w", err)
		}
		return fromKeypair(b)
	}
}

// LoadKeyFile reads and parses a key file
func LoadKeyFile(path string) (ed25519.PrivateKey, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read key file: %w", err)
	}
	return ParseKey(raw)
}

func parsePEM(raw []byte) (ed25519.PrivateKey, error) {
	block, _ := pem.Decode(raw)
	if block == nil {
		return nil, errors.New("invalid PEM block")
	}
	key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("pkcs8: %w", err)
	}
	ed, ok := key.(ed25519.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("pkcs8 key is %T, not ed25519", key)
	}
	return ed, nil
}

// fromKeypair accepts seed||public and checks the halves agree
func fromKeypair(b []byte) (ed25519.PrivateKey, error) {
	if len(b) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("keypair is %d bytes, want %d", len(b), ed25519.PrivateKeySize)
	}
	key := ed25519.NewKeyFromSeed(b[:ed25519.SeedSize])
	if !bytes.Equal(key[ed25519.SeedSize:], b[ed25519.SeedSize:]) {
		return nil, errors.New("keypair public half does not match seed")
	}
	return key, nil
}

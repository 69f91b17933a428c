// Package signer signs creation templates with the service's long-lived key
// and the one-time asset key, producing wire-format transactions.
package signer

import (
	"bytes"
	"crypto/ed25519"
	"fmt"

	"github.com/mr-tron/base58"

	"github.com/sawpanic/postlaunch/internal/domain/launch"
)

// Signer holds the requester key
type Signer struct {
	requester ed25519.PrivateKey
}

func New(requester ed25519.PrivateKey) *Signer {
	return &Signer{requester: requester}
}

// PublicKey is the requester address sent to the creation service
func (s *Signer) PublicKey() ed25519.PublicKey {
	return s.requester.Public().(ed25519.PublicKey)
}

// Address is the base58 form of PublicKey
func (s *Signer) Address() string {
	return base58.Encode(s.PublicKey())
}

// Sign signs every template in order. The one-time secret is wiped before
// Sign returns, whether or not signing succeeded.
func (s *Signer) Sign(templates []launch.Template, secret *launch.OneTimeSecret) ([]launch.SignedTx, error) {
	defer secret.Wipe()

	if len(templates) == 0 {
		return nil, launch.Errorf(launch.KindSigning, "no transactions to sign")
	}

	out := make([]launch.SignedTx, 0, len(templates))
	for i, tpl := range templates {
		keys := []ed25519.PrivateKey{s.requester}
		if tpl.Requires(launch.SignerAsset) {
			if secret.Wiped() {
				return nil, launch.Errorf(launch.KindSigning, "transaction %d needs the asset key but none is available", i)
			}
			keys = append(keys, secret.PrivateKey())
		}

		tx, err := signOne(tpl.Message, keys)
		if err != nil {
			return nil, launch.Wrap(launch.KindSigning, err, fmt.Sprintf("transaction %d", i))
		}
		out = append(out, tx)
	}
	return out, nil
}

func signOne(msg []byte, keys []ed25519.PrivateKey) (launch.SignedTx, error) {
	parsed, err := parseMessage(msg)
	if err != nil {
		return launch.SignedTx{}, err
	}

	sigs := make([][]byte, parsed.numRequired)
	for i, want := range parsed.accountKeys[:parsed.numRequired] {
		key := match(want, keys)
		if key == nil {
			return launch.SignedTx{}, fmt.Errorf("missing required signer %s", base58.Encode(want))
		}
		sigs[i] = ed25519.Sign(key, msg)
	}

	return launch.SignedTx{
		Signature: base58.Encode(sigs[0]),
		Raw:       serialize(sigs, msg),
	}, nil
}

func match(want ed25519.PublicKey, keys []ed25519.PrivateKey) ed25519.PrivateKey {
	for _, k := range keys {
		if bytes.Equal(k.Public().(ed25519.PublicKey), want) {
			return k
		}
	}
	return nil
}

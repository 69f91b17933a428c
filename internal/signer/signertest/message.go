// Package signertest builds minimal Solana messages for tests.
package signertest

import (
	"bytes"
	"crypto/ed25519"
)

// LegacyMessage returns a legacy message whose first len(signers) account
// keys require signatures, followed by the other accounts, a fixed blockhash
// and no instructions.
func LegacyMessage(signers []ed25519.PublicKey, others ...ed25519.PublicKey) []byte {
	var buf bytes.Buffer
	buf.Write([]byte{byte(len(signers)), 0, byte(len(others))})
	buf.WriteByte(byte(len(signers) + len(others)))
	for _, k := range signers {
		buf.Write(k)
	}
	for _, k := range others {
		buf.Write(k)
	}
	buf.Write(bytes.Repeat([]byte{7}, 32))
	buf.WriteByte(0)
	return buf.Bytes()
}

// Key derives a deterministic keypair from b
func Key(b byte) ed25519.PrivateKey {
	seed := bytes.Repeat([]byte{b}, ed25519.SeedSize)
	return ed25519.NewKeyFromSeed(seed)
}

// Public is a shorthand for the public half of k
func Public(k ed25519.PrivateKey) ed25519.PublicKey {
	return k.Public().(ed25519.PublicKey)
}

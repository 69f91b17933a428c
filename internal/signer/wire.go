package signer

import (
	"crypto/ed25519"
	"errors"
	"fmt"
)

const signatureLength = ed25519.SignatureSize

// message is the part of a Solana message the signer needs
type message struct {
	numRequired int
	accountKeys []ed25519.PublicKey
}

// parseMessage reads the header and account keys of a legacy or versioned
// message
func parseMessage(raw []byte) (message, error) {
	buf := raw
	if len(buf) > 0 && buf[0]&0x80 != 0 {
		if v := buf[0] & 0x7f; v != 0 {
			return message{}, fmt.Errorf("unsupported message version %d", v)
		}
		buf = buf[1:]
	}
	if len(buf) < 3 {
		return message{}, errors.New("message header truncated")
	}
	numRequired := int(buf[0])
	buf = buf[3:]

	count, n, err := decodeShortVec(buf)
	if err != nil {
		return message{}, fmt.Errorf("account key count: %w", err)
	}
	buf = buf[n:]
	if len(buf) < count*ed25519.PublicKeySize {
		return message{}, errors.New("account keys truncated")
	}
	if numRequired == 0 || numRequired > count {
		return message{}, fmt.Errorf("header requires %d signatures for %d accounts", numRequired, count)
	}

	keys := make([]ed25519.PublicKey, count)
	for i := range keys {
		off := i * ed25519.PublicKeySize
		keys[i] = ed25519.PublicKey(buf[off : off+ed25519.PublicKeySize])
	}
	return message{numRequired: numRequired, accountKeys: keys}, nil
}

// encodeShortVec writes n in Solana's compact-u16 encoding
func encodeShortVec(n int) []byte {
	var out []byte
	v := uint16(n)
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v == 0 {
			return append(out, b)
		}
		out = append(out, b|0x80)
	}
}

func decodeShortVec(buf []byte) (int, int, error) {
	var v, shift int
	for i := 0; i < 3; i++ {
		if i >= len(buf) {
			return 0, 0, errors.New("compact-u16 truncated")
		}
		b := buf[i]
		v |= int(b&0x7f) << shift
		if b&0x80 == 0 {
			return v, i + 1, nil
		}
		shift += 7
	}
	return 0, 0, errors.New("compact-u16 overflows")
}

// serialize lays out a transaction as signature count, signatures, message
func serialize(sigs [][]byte, msg []byte) []byte {
	out := encodeShortVec(len(sigs))
	for _, s := range sigs {
		out = append(out, s...)
	}
	return append(out, msg...)
}

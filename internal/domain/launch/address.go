package launch

import "github.com/mr-tron/base58"

// AddressLength is the byte length of a Solana public key
const AddressLength = 32

// ValidAddress reports whether s is a base58-encoded 32-byte public key
func ValidAddress(s string) bool {
	if len(s) < 32 || len(s) > 44 {
		return false
	}
	raw, err := base58.Decode(s)
	return err == nil && len(raw) == AddressLength
}

package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// AddressDigester produces the opaque address digest stored on a profile.
// Equal addresses, modulo case and whitespace, produce equal digests.
type AddressDigester struct {
	key []byte
}

func NewAddressDigester(key []byte) *AddressDigester {
	return &AddressDigester{key: key}
}

// Digest returns hex HMAC-SHA256 of the normalized address, or "" for an
// empty address.
func (d *AddressDigester) Digest(address string) string {
	normalized := strings.ToLower(strings.Join(strings.Fields(address), " "))
	if normalized == "" {
		return ""
	}
	mac := hmac.New(sha256.New, d.key)
	mac.Write([]byte(normalized))
	return hex.EncodeToString(mac.Sum(nil))
}

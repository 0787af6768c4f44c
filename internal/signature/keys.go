package signature

import (
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

const (
	signingKeyInfo = "kycvault/token-signing/v1"
	digestKeyInfo  = "kycvault/address-digest/v1"
	derivedKeySize = 32
	minSecretSize  = 16
)

// Keys holds the purpose-separated keys derived from the shared secret.
type Keys struct {
	Signing []byte
	Digest  []byte
}

// DeriveKeys expands the provisioned secret with HKDF-SHA256 into one key per
// purpose so the signing key is never reused for digests.
func DeriveKeys(secret []byte) (Keys, error) {
	if len(secret) < minSecretSize {
		return Keys{}, fmt.Errorf("signing secret must be at least %d bytes", minSecretSize)
	}
	signing, err := expand(secret, signingKeyInfo)
	if err != nil {
		return Keys{}, err
	}
	digest, err := expand(secret, digestKeyInfo)
	if err != nil {
		return Keys{}, err
	}
	return Keys{Signing: signing, Digest: digest}, nil
}

func expand(secret []byte, info string) ([]byte, error) {
	key := make([]byte, derivedKeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, secret, nil, []byte(info)), key); err != nil {
		return nil, fmt.Errorf("derive %s key: %w", info, err)
	}
	return key, nil
}

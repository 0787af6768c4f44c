// Package signature signs and verifies the canonical token payload.
package signature

import (
	"time"

	"github.com/golang-jwt/jwt/v5"

	dErrors "kycvault/pkg/domain-errors"
)

// Payload is the signed content of a token. Times are carried as RFC 3339
// UTC strings.
type Payload struct {
	ProfileID string
	ConsentID string
	Recipient string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// claims serializes in the fixed canonical field order. The embedded
// registered claims are always empty.
type claims struct {
	ProfileID string `json:"profile_id"`
	ConsentID string `json:"consent_id"`
	Recipient string `json:"recipient"`
	IssuedAt  string `json:"issued_at"`
	ExpiresAt string `json:"expires_at"`
	jwt.RegisteredClaims
}

var errInvalid = dErrors.New(dErrors.CodeSignatureInvalid, "signature invalid")

// Service is an HS256 signer. It holds only the immutable key and is safe for
// concurrent use.
type Service struct {
	key    []byte
	parser *jwt.Parser
}

// NewService builds a signer over an already derived signing key.
func NewService(signingKey []byte) *Service {
	return &Service{
		key: signingKey,
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			jwt.WithoutClaimsValidation(),
		),
	}
}

// Sign returns the compact JWS for p. The same payload always yields the same
// signature.
func (s *Service) Sign(p Payload) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		ProfileID: p.ProfileID,
		ConsentID: p.ConsentID,
		Recipient: p.Recipient,
		IssuedAt:  formatTime(p.IssuedAt),
		ExpiresAt: formatTime(p.ExpiresAt),
	})
	signed, err := token.SignedString(s.key)
	if err != nil {
		return "", dErrors.Wrap(err, dErrors.CodeInternal, "failed to sign token")
	}
	return signed, nil
}

// Verify checks the signature and returns the payload. Every failure is the
// same SignatureInvalid error. Expiry is not checked here.
func (s *Service) Verify(compact string) (Payload, error) {
	var c claims
	parsed, err := s.parser.ParseWithClaims(compact, &c, func(*jwt.Token) (any, error) {
		return s.key, nil
	})
	if err != nil || !parsed.Valid {
		return Payload{}, errInvalid
	}
	if c.ProfileID == "" || c.ConsentID == "" || c.Recipient == "" {
		return Payload{}, errInvalid
	}
	issuedAt, err := time.Parse(time.RFC3339Nano, c.IssuedAt)
	if err != nil {
		return Payload{}, errInvalid
	}
	expiresAt, err := time.Parse(time.RFC3339Nano, c.ExpiresAt)
	if err != nil {
		return Payload{}, errInvalid
	}
	return Payload{
		ProfileID: c.ProfileID,
		ConsentID: c.ConsentID,
		Recipient: c.Recipient,
		IssuedAt:  issuedAt.UTC(),
		ExpiresAt: expiresAt.UTC(),
	}, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

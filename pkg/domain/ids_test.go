package domain

import (
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "kycvault/pkg/domain-errors"
)

// IDs must be valid, non-empty, non-nil UUIDs.
func TestParseID_Invariants(t *testing.T) {
	t.Run("rejects empty string", func(t *testing.T) {
		_, err := ParseTokenID("")
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})

	t.Run("rejects invalid format", func(t *testing.T) {
		_, err := ParseTokenID("not-a-uuid")
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})

	t.Run("rejects nil UUID", func(t *testing.T) {
		_, err := ParseTokenID(uuid.Nil.String())
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})

	t.Run("accepts valid UUID", func(t *testing.T) {
		valid := uuid.New()
		id, err := ParseTokenID(valid.String())
		require.NoError(t, err)
		assert.Equal(t, TokenID(valid), id)
		assert.Equal(t, valid.String(), id.String())
	})
}

func TestParseID_SecurityInvariants(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"SQL injection attempt", "'; DROP TABLE tokens;--", true},
		{"Path traversal", "../../../etc/passwd", true},
		{"Null byte injection", "550e8400\x00-e29b-41d4-a716-446655440000", true},
		{"Oversized input", strings.Repeat("a", 1000), true},
		{"Whitespace only", "   ", true},
		{"Uppercase valid UUID", "550E8400-E29B-41D4-A716-446655440000", false},
		{"Valid UUID lowercase", "550e8400-e29b-41d4-a716-446655440000", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, errProfile := ParseProfileID(tt.input)
			_, errConsent := ParseConsentID(tt.input)
			_, errToken := ParseTokenID(tt.input)
			if tt.wantErr {
				require.Error(t, errProfile)
				require.Error(t, errConsent)
				require.Error(t, errToken)
				assert.True(t, dErrors.HasCode(errToken, dErrors.CodeInvalidInput))
			} else {
				require.NoError(t, errProfile)
				require.NoError(t, errConsent)
				require.NoError(t, errToken)
			}
		})
	}
}

func TestNewIDs_AreDistinct(t *testing.T) {
	a, b := NewTokenID(), NewTokenID()
	assert.NotEqual(t, a, b)
	assert.False(t, a.IsNil())
	assert.True(t, TokenID{}.IsNil())
}

func TestParseScope(t *testing.T) {
	t.Run("normalizes and dedupes", func(t *testing.T) {
		scope, err := ParseScope([]string{" DOB ", "address", "dob", ""})
		require.NoError(t, err)
		assert.Equal(t, []ScopeAttribute{ScopeDOB, ScopeAddress}, scope)
	})

	t.Run("rejects unknown attribute", func(t *testing.T) {
		_, err := ParseScope([]string{"dob", "passport_number"})
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})

	t.Run("rejects empty scope", func(t *testing.T) {
		_, err := ParseScope([]string{" ", ""})
		require.Error(t, err)
	})
}

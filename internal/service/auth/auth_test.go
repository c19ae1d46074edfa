package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseClaims(t *testing.T) {
	exp := time.Now().Add(time.Hour).Truncate(time.Second)
	raw := signToken(t, "user-1", exp)

	claims, err := ParseClaims("Bearer " + raw)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.Subject)
	assert.Equal(t, "Jan de Vries", claims.Name)
	assert.Equal(t, "jan@example.com", claims.Email)
	assert.True(t, exp.Equal(claims.ExpiresAt))
}

func TestParseClaims_Opaque(t *testing.T) {
	_, err := ParseClaims("ory_st_opaque")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestIdentityFromTokens(t *testing.T) {
	t.Run("claims win over provider fields", func(t *testing.T) {
		exp := time.Now().Add(time.Hour).Truncate(time.Second)
		id := identityFromTokens(Tokens{
			AccessToken: signToken(t, "from-claims", exp),
			UserID:      "from-provider",
		})
		assert.Equal(t, "from-claims", id.SubjectID)
		assert.True(t, exp.Equal(id.Tokens.ExpiresAt))
	})

	t.Run("opaque token uses provider subject", func(t *testing.T) {
		id := identityFromTokens(Tokens{AccessToken: "opaque", UserID: "kratos-id", DisplayName: "Jan"})
		assert.Equal(t, "kratos-id", id.SubjectID)
		assert.Equal(t, "Jan", id.DisplayName)
	})
}

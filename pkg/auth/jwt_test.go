package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newService(t *testing.T, secret string) *JWTService {
	t.Helper()
	svc, err := NewJWTService(DefaultJWTConfig(secret))
	require.NoError(t, err)
	return svc
}

func TestNewJWTServiceRequiresSecret(t *testing.T) {
	_, err := NewJWTService(DefaultJWTConfig(""))
	require.ErrorIs(t, err, ErrMissingSecret)
}

func TestTokenRoundTrip(t *testing.T) {
	svc := newService(t, "secret")

	token, err := svc.GenerateToken("deploy-bot", RoleOperator)
	require.NoError(t, err)

	claims, err := svc.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "deploy-bot", claims.Subject)
	assert.Equal(t, RoleOperator, claims.Role)
	assert.Equal(t, "masterselector", claims.Issuer)
}

func TestValidateTokenRejectsForeignSecret(t *testing.T) {
	token, err := newService(t, "other").GenerateToken("deploy-bot", RoleAdmin)
	require.NoError(t, err)

	_, err = newService(t, "secret").ValidateToken(token)
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = newService(t, "secret").ValidateToken("not-a-token")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestValidateTokenRejectsExpired(t *testing.T) {
	svc := newService(t, "secret")
	issued := time.Now().Add(-2 * time.Hour)
	svc.now = func() time.Time { return issued }

	token, err := svc.GenerateToken("deploy-bot", RoleOperator)
	require.NoError(t, err)

	svc.now = time.Now
	_, err = svc.ValidateToken(token)
	assert.ErrorIs(t, err, ErrExpiredToken)
}

func TestValidateTokenRejectsNoneAlgorithm(t *testing.T) {
	svc := newService(t, "secret")
	token := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{Role: RoleAdmin})
	signed, err := token.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = svc.ValidateToken(signed)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestRoleHasPermission(t *testing.T) {
	tests := []struct {
		role     Role
		required Role
		want     bool
	}{
		{RoleAdmin, RoleOperator, true},
		{RoleOperator, RoleOperator, true},
		{RoleViewer, RoleOperator, false},
		{Role("root"), RoleViewer, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.role.HasPermission(tt.required), "%s >= %s", tt.role, tt.required)
	}
}

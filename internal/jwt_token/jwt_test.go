package jwttoken

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	id "tumi/pkg/domain"
	dErrors "tumi/pkg/domain-errors"
	"tumi/pkg/requestcontext"
)

var (
	jwtService = NewJWTService("test-signing-key", "tumi")
	userID     = id.UserID(uuid.New())
	tenantID   = id.TenantID(uuid.New())
)

func Test_GenerateAccessToken(t *testing.T) {
	token, err := jwtService.GenerateAccessToken(userID, tenantID, requestcontext.RoleAdmin, time.Hour)
	require.NoError(t, err)

	claims, err := jwtService.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, userID.String(), claims.Subject)
	assert.Equal(t, tenantID.String(), claims.TenantID)
	assert.Equal(t, "ADMIN", claims.Role)
	assert.Equal(t, "tumi", claims.Issuer)
	assert.WithinDuration(t, time.Now().Add(time.Hour), claims.ExpiresAt.Time, time.Minute)
}

func Test_ValidateToken_InvalidToken(t *testing.T) {
	_, err := jwtService.ValidateToken("invalid-token-string")
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeUnauthorized))
}

func Test_ValidateToken_ExpiredToken(t *testing.T) {
	token, err := jwtService.GenerateAccessToken(userID, tenantID, requestcontext.RoleUser, -time.Hour)
	require.NoError(t, err)

	_, err = jwtService.ValidateToken(token)
	require.Error(t, err)
	assert.Equal(t, "token has expired", dErrors.PublicMessage(err))
}

func Test_ValidateToken_WrongKeyOrIssuer(t *testing.T) {
	other := NewJWTService("another-key", "tumi")
	token, err := other.GenerateAccessToken(userID, tenantID, requestcontext.RoleUser, time.Hour)
	require.NoError(t, err)
	_, err = jwtService.ValidateToken(token)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeUnauthorized))

	foreign := NewJWTService("test-signing-key", "someone-else")
	token, err = foreign.GenerateAccessToken(userID, tenantID, requestcontext.RoleUser, time.Hour)
	require.NoError(t, err)
	_, err = jwtService.ValidateToken(token)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeUnauthorized))
}

func Test_ValidateToken_RejectsNoneAlgorithm(t *testing.T) {
	token := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: userID.String(), Issuer: "tumi"},
	})
	signed, err := token.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = jwtService.ValidateToken(signed)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeUnauthorized))
}

func Test_Adapter(t *testing.T) {
	adapter := NewJWTServiceAdapter(jwtService)

	t.Run("maps claims", func(t *testing.T) {
		token, err := jwtService.GenerateAccessToken(userID, tenantID, requestcontext.RoleAdmin, time.Hour)
		require.NoError(t, err)
		claims, err := adapter.ValidateToken(token)
		require.NoError(t, err)
		assert.Equal(t, userID, claims.UserID)
		assert.Equal(t, tenantID, claims.TenantID)
		assert.Equal(t, requestcontext.RoleAdmin, claims.Role)
	})

	t.Run("unknown role becomes user", func(t *testing.T) {
		token, err := jwtService.GenerateAccessToken(userID, tenantID, requestcontext.Role("ROOT"), time.Hour)
		require.NoError(t, err)
		claims, err := adapter.ValidateToken(token)
		require.NoError(t, err)
		assert.Equal(t, requestcontext.RoleUser, claims.Role)
	})

	t.Run("malformed subject", func(t *testing.T) {
		raw := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
			TenantID: tenantID.String(),
			RegisteredClaims: jwt.RegisteredClaims{
				Subject:   "not-a-uuid",
				Issuer:    "tumi",
				ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
			},
		})
		token, err := raw.SignedString([]byte("test-signing-key"))
		require.NoError(t, err)
		_, err = adapter.ValidateToken(token)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeUnauthorized))
	})
}

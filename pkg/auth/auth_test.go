package auth

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoleHierarchy(t *testing.T) {
	assert.True(t, RoleAdmin.HasPermission(RoleCommissioner))
	assert.True(t, RoleCommissioner.HasPermission(RoleObserver))
	assert.False(t, RoleObserver.HasPermission(RoleCommissioner))
	assert.False(t, Role("viewer").HasPermission(RoleObserver))
}

func TestJWTService_RoundTrip(t *testing.T) {
	svc, err := NewJWTService(DefaultJWTConfig("test-secret"))
	require.NoError(t, err)

	token, err := svc.GenerateToken("u-1", "commission", RoleCommissioner)
	require.NoError(t, err)

	claims, err := svc.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "u-1", claims.UserID)
	assert.Equal(t, RoleCommissioner, claims.Role)
}

func TestJWTService_Rejects(t *testing.T) {
	_, err := NewJWTService(DefaultJWTConfig(""))
	assert.Error(t, err)

	svc, _ := NewJWTService(DefaultJWTConfig("test-secret"))
	other, _ := NewJWTService(DefaultJWTConfig("other-secret"))

	token, _ := other.GenerateToken("u-1", "x", RoleObserver)
	_, err = svc.ValidateToken(token)
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = svc.GenerateToken("u-1", "x", Role("root"))
	assert.ErrorIs(t, err, ErrInvalidClaims)

	expired := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "seatengine",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
		},
		Role: RoleObserver,
	})
	signed, _ := expired.SignedString([]byte("test-secret"))
	_, err = svc.ValidateToken(signed)
	assert.ErrorIs(t, err, ErrExpiredToken)
}

func TestMemoryAPIKeyStore(t *testing.T) {
	store := NewMemoryAPIKeyStore()
	ctx := context.Background()

	plain, info, err := store.CreateKey(ctx, APIKeyInfo{Name: "observer feed", OwnerID: "ops", Role: RoleObserver})
	require.NoError(t, err)
	assert.Contains(t, plain, "sk_")
	assert.Empty(t, info.KeyHash)

	got, err := store.ValidateKey(ctx, plain)
	require.NoError(t, err)
	assert.Equal(t, RoleObserver, got.Role)

	keys, _ := store.ListKeys(ctx, "ops")
	require.Len(t, keys, 1)
	assert.Empty(t, keys[0].KeyHash)

	require.NoError(t, store.RevokeKey(ctx, info.ID))
	_, err = store.ValidateKey(ctx, plain)
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, _, err = store.CreateKey(ctx, APIKeyInfo{Role: "superuser"})
	assert.Error(t, err)
}

func TestMemoryAPIKeyStore_Expired(t *testing.T) {
	store := NewMemoryAPIKeyStore()
	ctx := context.Background()

	plain, _, err := store.CreateKey(ctx, APIKeyInfo{OwnerID: "ops", Role: RoleObserver, ExpiresAt: time.Now().Add(-time.Hour).Unix()})
	require.NoError(t, err)
	_, err = store.ValidateKey(ctx, plain)
	assert.ErrorIs(t, err, ErrExpiredToken)
}

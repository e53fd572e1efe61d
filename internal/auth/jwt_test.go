package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJWTManager_RoundTrip(t *testing.T) {
	m := NewJWTManager("secret", time.Hour)

	token, err := m.Generate(Principal{ID: "b1", Role: RoleBuyer})
	require.NoError(t, err)

	p, err := m.Validate(token)
	require.NoError(t, err)
	assert.Equal(t, Principal{ID: "b1", Role: RoleBuyer}, p)
}

func TestJWTManager_Rejects(t *testing.T) {
	m := NewJWTManager("secret", time.Hour)
	valid, err := m.Generate(Principal{ID: "s1", Role: RoleSupplier})
	require.NoError(t, err)

	expired := NewJWTManager("secret", time.Hour)
	expired.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	oldToken, err := expired.Generate(Principal{ID: "s1", Role: RoleSupplier})
	require.NoError(t, err)

	other := NewJWTManager("other", time.Hour)

	badRole, err := jwt.NewWithClaims(jwt.SigningMethodHS256, &Claims{
		Role:             "admin",
		RegisteredClaims: jwt.RegisteredClaims{Subject: "x"},
	}).SignedString([]byte("secret"))
	require.NoError(t, err)

	tests := []struct {
		name    string
		mgr     *JWTManager
		token   string
		wantErr error
	}{
		{name: "empty", mgr: m, token: "", wantErr: ErrMissingToken},
		{name: "garbage", mgr: m, token: "not-a-token", wantErr: ErrInvalidToken},
		{name: "expired", mgr: m, token: oldToken, wantErr: ErrInvalidToken},
		{name: "wrong secret", mgr: other, token: valid, wantErr: ErrInvalidToken},
		{name: "unknown role", mgr: m, token: badRole, wantErr: ErrInvalidToken},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.mgr.Validate(tt.token)
			assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)
		})
	}
}

func TestPasswordHashing(t *testing.T) {
	hash, err := HashPassword("s3cret")
	require.NoError(t, err)

	assert.True(t, CheckPassword(hash, "s3cret"))
	assert.False(t, CheckPassword(hash, "wrong"))
	assert.False(t, CheckPassword(nil, "s3cret"))
}

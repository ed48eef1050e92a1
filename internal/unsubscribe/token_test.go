package unsubscribe

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateValidate_RoundTrip(t *testing.T) {
	m := NewManager("test-secret-test-secret-test-secret", time.Hour)

	token, err := m.Generate("  Jane@Example.COM ")
	require.NoError(t, err)

	email, err := m.Validate(token)
	require.NoError(t, err)
	assert.Equal(t, "jane@example.com", email)
}

func TestValidate_Expired(t *testing.T) {
	m := NewManager("secret", time.Hour)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return base }

	token, err := m.Generate("jane@example.com")
	require.NoError(t, err)

	m.now = func() time.Time { return base.Add(2 * time.Hour) }
	_, err = m.Validate(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestValidate_WrongSecret(t *testing.T) {
	token, err := NewManager("secret-a", time.Hour).Generate("jane@example.com")
	require.NoError(t, err)

	_, err = NewManager("secret-b", time.Hour).Validate(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestValidate_WrongPurpose(t *testing.T) {
	claims := &Claims{
		Purpose: "login",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "jane@example.com",
			Issuer:    issuer,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("secret"))
	require.NoError(t, err)

	_, err = NewManager("secret", time.Hour).Validate(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestValidate_Missing(t *testing.T) {
	_, err := NewManager("secret", time.Hour).Validate("  ")
	assert.ErrorIs(t, err, ErrMissingToken)
}

func TestGenerate_Invalid(t *testing.T) {
	_, err := NewManager("secret", time.Hour).Generate("")
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = NewManager("", time.Hour).Generate("jane@example.com")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

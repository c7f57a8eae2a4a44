package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIssueVerifyRoundTrip(t *testing.T) {
	v := NewVerifier("test-secret")

	token, err := v.Issue(Identity{UserID: "u1", Username: "magnus"}, time.Minute)
	require.NoError(t, err)

	ident, err := v.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "u1", ident.UserID)
	assert.Equal(t, "magnus", ident.Username)
}

func TestVerifyRejectsWrongSecret(t *testing.T) {
	token, err := NewVerifier("secret-a").Issue(Identity{UserID: "u1"}, time.Minute)
	require.NoError(t, err)

	_, err = NewVerifier("secret-b").Verify(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerifyRejectsExpiredToken(t *testing.T) {
	v := NewVerifier("test-secret")

	token, err := v.Issue(Identity{UserID: "u1"}, -time.Minute)
	require.NoError(t, err)

	_, err = v.Verify(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerifyRejectsGarbage(t *testing.T) {
	_, err := NewVerifier("test-secret").Verify("not.a.token")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestDisabledVerifier(t *testing.T) {
	v := NewVerifier("")

	_, err := v.Verify("anything")
	assert.ErrorIs(t, err, ErrDisabled)

	_, err = v.Issue(Identity{UserID: "u1"}, time.Minute)
	assert.ErrorIs(t, err, ErrDisabled)
}

package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testTokens() TokenService {
	return TokenService{Secret: []byte("test-secret"), Issuer: "mangashell", Duration: time.Hour}
}

func TestSignAndParse(t *testing.T) {
	ts := testTokens()
	s := NewSession("shell")

	token, exp, err := ts.Sign(s)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Hour), exp, 5*time.Second)

	claims, err := ts.Parse(token)
	require.NoError(t, err)
	assert.Equal(t, s.ID.String(), claims.SessionID)
	assert.Equal(t, "shell", claims.Client)
}

func TestParseRejectsWrongSecretAndIssuer(t *testing.T) {
	token, _, err := testTokens().Sign(NewSession("shell"))
	require.NoError(t, err)

	other := testTokens()
	other.Secret = []byte("another-secret")
	_, err = other.Parse(token)
	assert.Error(t, err)

	other = testTokens()
	other.Issuer = "someone-else"
	_, err = other.Parse(token)
	assert.Error(t, err)
}

func TestParseRejectsExpired(t *testing.T) {
	ts := testTokens()
	ts.Duration = -time.Minute
	token, _, err := ts.Sign(NewSession("shell"))
	require.NoError(t, err)

	_, err = ts.Parse(token)
	assert.ErrorIs(t, err, jwt.ErrTokenExpired)
}

func TestParseRejectsOtherAlgorithms(t *testing.T) {
	claims := Claims{SessionID: NewSession("x").ID.String()}
	token := jwt.NewWithClaims(jwt.SigningMethodHS512, claims)
	signed, err := token.SignedString([]byte("test-secret"))
	require.NoError(t, err)

	_, err = testTokens().Parse(signed)
	assert.Error(t, err)
}

func TestSignRequiresSecret(t *testing.T) {
	_, _, err := TokenService{}.Sign(NewSession("x"))
	assert.Error(t, err)
}

package security

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestGenerateVerifyRoundtrip(t *testing.T) {
	r := require.New(t)
	opts := DefaultOptions([]byte("test-secret"))

	token, hash, exp, err := Generate(opts, "client:7", []string{"chat"})
	r.NoError(err)
	r.NotEmpty(token)
	r.Contains(hash, "sha256:")
	r.True(exp.After(time.Now()))

	claims, err := Verify(opts, token)
	r.NoError(err)
	r.Equal("client:7", claims.Subject())
}

func TestVerifyRejectsWrongSecret(t *testing.T) {
	r := require.New(t)

	token, _, _, err := Generate(DefaultOptions([]byte("secret-a")), "client:7", nil)
	r.NoError(err)

	_, err = Verify(DefaultOptions([]byte("secret-b")), token)
	r.Error(err)
}

func TestVerifyRejectsExpired(t *testing.T) {
	r := require.New(t)
	opts := Options{Secret: []byte("test-secret"), Alg: "HS256", TTL: time.Millisecond}

	token, _, _, err := Generate(opts, "client:7", nil)
	r.NoError(err)
	time.Sleep(5 * time.Millisecond)

	_, err = Verify(opts, token)
	r.Error(err)
}

func TestGenerateRejectsUnknownAlg(t *testing.T) {
	r := require.New(t)
	opts := Options{Secret: []byte("s"), Alg: "RS256"}
	_, _, _, err := Generate(opts, "client:7", nil)
	r.Error(err)
}

package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func testCreds() *DerivedCreds {
	return &DerivedCreds{
		Key:        "api-key-id",
		Secret:     base64.StdEncoding.EncodeToString([]byte("super-secret")),
		Passphrase: "passphrase",
	}
}

func TestDerivedCredsHeaders(t *testing.T) {
	creds := testCreds()
	now := time.Unix(1700000000, 0)

	h := creds.Headers(testAddress, "POST", "/order", `{"x":1}`, now)

	require.Equal(t, testAddress, h["POLY_ADDRESS"])
	require.Equal(t, "api-key-id", h["POLY_API_KEY"])
	require.Equal(t, "1700000000", h["POLY_TIMESTAMP"])
	require.Equal(t, "passphrase", h["POLY_PASSPHRASE"])

	mac := hmac.New(sha256.New, []byte("super-secret"))
	mac.Write([]byte(`1700000000POST/order{"x":1}`))
	require.Equal(t, base64.StdEncoding.EncodeToString(mac.Sum(nil)), h["POLY_SIGNATURE"])
}

func TestDerivedCredsSignatureVaries(t *testing.T) {
	creds := testCreds()
	now := time.Unix(1700000000, 0)

	a := creds.Headers(testAddress, "POST", "/order", "body", now)
	b := creds.Headers(testAddress, "POST", "/order", "other", now)
	require.NotEqual(t, a["POLY_SIGNATURE"], b["POLY_SIGNATURE"])

	c := creds.Headers(testAddress, "POST", "/order", "body", now.Add(time.Second))
	require.NotEqual(t, a["POLY_SIGNATURE"], c["POLY_SIGNATURE"])
}

func TestDerivedCredsRawSecretFallback(t *testing.T) {
	creds := &DerivedCreds{Key: "k", Secret: "!!not-base64!!", Passphrase: "p"}
	h := creds.Headers(testAddress, "GET", "/", "", time.Unix(0, 0))
	require.NotEmpty(t, h["POLY_SIGNATURE"])
}

func TestDerivedCredsStringRedacts(t *testing.T) {
	creds := testCreds()
	s := creds.String()
	require.NotContains(t, s, creds.Secret)
	require.Contains(t, s, "api-****")
}

package crypto

import (
	stdcrypto "crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/gtg7784/dr-manhattan-go/internal/domain"
)

func testRSAPEM(t *testing.T) (*rsa.PrivateKey, []byte) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	der, err := x509.MarshalPKCS8PrivateKey(key)
	require.NoError(t, err)
	return key, pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der})
}

func TestRSAAuthHeaders(t *testing.T) {
	key, pemBytes := testRSAPEM(t)
	auth, err := NewRSAAuth("key-id", pemBytes)
	require.NoError(t, err)

	now := time.Now()
	h, err := auth.Headers(now, "get", "/trade-api/v2/markets")
	require.NoError(t, err)

	require.Equal(t, "key-id", h["KALSHI-ACCESS-KEY"])
	require.Equal(t, now.UnixMilli(), mustParseInt(t, h["KALSHI-ACCESS-TIMESTAMP"]))

	// Method is uppercased in the signing string.
	sig, err := base64.StdEncoding.DecodeString(h["KALSHI-ACCESS-SIGNATURE"])
	require.NoError(t, err)
	message := h["KALSHI-ACCESS-TIMESTAMP"] + "GET" + "/trade-api/v2/markets"
	hash := sha256.Sum256([]byte(message))
	require.NoError(t, rsa.VerifyPKCS1v15(&key.PublicKey, stdcrypto.SHA256, hash[:], sig))
}

func TestRSAAuthRejectsSkewedTimestamp(t *testing.T) {
	_, pemBytes := testRSAPEM(t)
	auth, err := NewRSAAuth("key-id", pemBytes)
	require.NoError(t, err)

	_, err = auth.Headers(time.Now().Add(-40*time.Second), "GET", "/x")
	require.ErrorIs(t, err, domain.ErrAuth)

	_, err = auth.Headers(time.Now().Add(40*time.Second), "GET", "/x")
	require.ErrorIs(t, err, domain.ErrAuth)
}

func TestCheckSkew(t *testing.T) {
	now := time.Now()
	require.NoError(t, CheckSkew(now.Add(-10*time.Second), now, MaxClockSkew))
	require.NoError(t, CheckSkew(now.Add(10*time.Second), now, MaxClockSkew))
	require.ErrorIs(t, CheckSkew(now.Add(-31*time.Second), now, MaxClockSkew), domain.ErrAuth)
	require.ErrorIs(t, CheckSkew(now.Add(31*time.Second), now, MaxClockSkew), domain.ErrAuth)
}

func TestNewRSAAuthFromFile(t *testing.T) {
	_, pemBytes := testRSAPEM(t)
	path := filepath.Join(t.TempDir(), "key.pem")
	require.NoError(t, os.WriteFile(path, pemBytes, 0o600))

	auth, err := NewRSAAuthFromFile("key-id", path)
	require.NoError(t, err)
	require.NotNil(t, auth)

	_, err = NewRSAAuthFromFile("key-id", filepath.Join(t.TempDir(), "missing.pem"))
	require.Error(t, err)
}

func TestNewRSAAuthRejectsGarbage(t *testing.T) {
	_, err := NewRSAAuth("key-id", []byte("not a pem"))
	require.ErrorIs(t, err, domain.ErrAuth)
}

func mustParseInt(t *testing.T, s string) int64 {
	t.Helper()
	n, err := strconv.ParseInt(s, 10, 64)
	require.NoError(t, err)
	return n
}

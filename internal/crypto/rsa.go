package crypto

import (
	"context"
	stdcrypto "crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/gtg7784/dr-manhattan-go/internal/domain"
)

// MaxClockSkew is the largest distance between a request timestamp and local
// time that is allowed out the door. Anything beyond this is guaranteed to be
// rejected remotely, so it is refused locally before dispatch.
const MaxClockSkew = 30 * time.Second

// RSAAuth signs requests with RSA-PKCS1v15-SHA256 over the canonical string
// timestamp + METHOD + path. The signing string is a literal byte
// concatenation; no normalization is applied beyond uppercasing the method.
type RSAAuth struct {
	apiKeyID   string
	privateKey *rsa.PrivateKey
}

// NewRSAAuth parses a PEM private key (PKCS8 or PKCS1) and returns the
// authenticator.
func NewRSAAuth(apiKeyID string, pemBytes []byte) (*RSAAuth, error) {
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return nil, fmt.Errorf("crypto/rsa: %w: no PEM block in private key", domain.ErrAuth)
	}

	var key *rsa.PrivateKey
	if parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes); err == nil {
		rsaKey, ok := parsed.(*rsa.PrivateKey)
		if !ok {
			return nil, fmt.Errorf("crypto/rsa: %w: expected RSA key, got %T", domain.ErrAuth, parsed)
		}
		key = rsaKey
	} else if pkcs1Key, pkcs1Err := x509.ParsePKCS1PrivateKey(block.Bytes); pkcs1Err == nil {
		key = pkcs1Key
	} else {
		return nil, fmt.Errorf("crypto/rsa: %w: parse private key: %v", domain.ErrAuth, err)
	}

	return &RSAAuth{apiKeyID: apiKeyID, privateKey: key}, nil
}

// NewRSAAuthFromFile reads the PEM key at path.
func NewRSAAuthFromFile(apiKeyID, path string) (*RSAAuth, error) {
	pemBytes, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("crypto/rsa: read key file: %w", err)
	}
	return NewRSAAuth(apiKeyID, pemBytes)
}

// Sign returns the base64 PKCS1v15 signature over ts + METHOD + path.
func (a *RSAAuth) Sign(ts int64, method, path string) (string, error) {
	message := strconv.FormatInt(ts, 10) + upper(method) + path
	hash := sha256.Sum256([]byte(message))

	sig, err := rsa.SignPKCS1v15(rand.Reader, a.privateKey, stdcrypto.SHA256, hash[:])
	if err != nil {
		return "", fmt.Errorf("crypto/rsa: sign: %w", err)
	}
	return base64.StdEncoding.EncodeToString(sig), nil
}

// Headers builds the per-request auth headers for the given millisecond
// timestamp. It rejects timestamps outside MaxClockSkew of now locally,
// before any network dispatch.
func (a *RSAAuth) Headers(ts time.Time, method, path string) (map[string]string, error) {
	if err := CheckSkew(ts, time.Now(), MaxClockSkew); err != nil {
		return nil, err
	}

	tsMilli := ts.UnixMilli()
	sig, err := a.Sign(tsMilli, method, path)
	if err != nil {
		return nil, err
	}

	return map[string]string{
		"KALSHI-ACCESS-KEY":       a.apiKeyID,
		"KALSHI-ACCESS-SIGNATURE": sig,
		"KALSHI-ACCESS-TIMESTAMP": strconv.FormatInt(tsMilli, 10),
	}, nil
}

// Authenticate returns an empty credential: RSA auth is per-request header
// signing, there is no bearer artifact to derive.
func (a *RSAAuth) Authenticate(ctx context.Context) (domain.Credential, error) {
	return domain.Credential{}, nil
}

// CheckSkew returns ErrAuth when ts is further than tolerance from now in
// either direction.
func CheckSkew(ts, now time.Time, tolerance time.Duration) error {
	diff := now.Sub(ts)
	if diff < 0 {
		diff = -diff
	}
	if diff > tolerance {
		return fmt.Errorf("crypto/rsa: %w: timestamp skew %s exceeds tolerance %s", domain.ErrAuth, diff, tolerance)
	}
	return nil
}

func upper(s string) string {
	b := []byte(s)
	for i, c := range b {
		if 'a' <= c && c <= 'z' {
			b[i] = c - 'a' + 'A'
		}
	}
	return string(b)
}

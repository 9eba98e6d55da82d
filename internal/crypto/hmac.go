package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"strconv"
	"time"
)

// DerivedCreds are the API key, secret, and passphrase obtained from the
// message-signature credential exchange on CLOB-style venues. They sign each
// subsequent request with HMAC-SHA256 over timestamp+method+path+body.
type DerivedCreds struct {
	Key        string
	Secret     string // base64-encoded
	Passphrase string
}

// Headers returns the authenticated-request headers for a request issued at
// now. The secret is base64-decoded before use as the HMAC key; a secret
// that fails to decode is used raw so the venue rejects the signature
// instead of the process panicking.
func (c *DerivedCreds) Headers(address, method, path, body string, now time.Time) map[string]string {
	ts := strconv.FormatInt(now.Unix(), 10)

	key, err := base64.StdEncoding.DecodeString(c.Secret)
	if err != nil {
		key = []byte(c.Secret)
	}

	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(ts + method + path + body))
	sig := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	return map[string]string{
		"POLY_ADDRESS":    address,
		"POLY_API_KEY":    c.Key,
		"POLY_TIMESTAMP":  ts,
		"POLY_PASSPHRASE": c.Passphrase,
		"POLY_SIGNATURE":  sig,
	}
}

// String returns a redacted representation suitable for logging.
func (c *DerivedCreds) String() string {
	redact := func(s string) string {
		if len(s) <= 4 {
			return "****"
		}
		return s[:4] + "****"
	}
	return fmt.Sprintf("DerivedCreds{key=%s, secret=%s}", redact(c.Key), redact(c.Secret))
}

package domain

import "time"

// Credential is the opaque artifact a signing scheme produces: a bearer
// token, a set of derived request headers, or nothing at all for public
// access. Expiry is tracked locally from the issuance response; the token is
// never parsed. Credentials live only for the process lifetime.
type Credential struct {
	Token     string            // bearer token, "" when header-based or public
	Headers   map[string]string // static headers attached to every request
	ExpiresAt time.Time         // zero means no expiry
}

// Empty reports whether the credential carries nothing (public access).
func (c Credential) Empty() bool {
	return c.Token == "" && len(c.Headers) == 0
}

// Valid reports whether the credential may be attached to a request issued
// at now. slack widens the check so near-expired credentials are refreshed
// before the venue would reject them.
func (c Credential) Valid(now time.Time, slack time.Duration) bool {
	if c.ExpiresAt.IsZero() {
		return true
	}
	return now.Add(slack).Before(c.ExpiresAt)
}

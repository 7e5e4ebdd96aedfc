package auth

import (
	"net/http"
	"time"
)

// Credential is a bearer token scoped to a single pipeline run.
type Credential struct {
	AccessToken string
	TokenType   string
	Expiry      time.Time
}

// Valid reports whether the credential carries a token that has not expired.
// A zero Expiry means the endpoint did not announce one.
func (c *Credential) Valid() bool {
	if c == nil || c.AccessToken == "" {
		return false
	}
	return c.Expiry.IsZero() || time.Now().Before(c.Expiry)
}

// Authorize sets the Authorization header on req.
func (c *Credential) Authorize(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+c.AccessToken)
}

// String redacts the token.
func (c *Credential) String() string {
	if c == nil {
		return "<nil>"
	}
	return "Bearer [REDACTED]"
}

package oauth

import "time"

// Client represents a dynamically registered OAuth client. Clients are
// immutable once stored and never expire.
type Client struct {
	ClientID     string    `json:"client_id"`
	RedirectURIs []string  `json:"redirect_uris"`
	ClientName   string    `json:"client_name"`
	CreatedAt    time.Time `json:"created_at"`
}

// Authorization request lifecycle states.
const (
	StatusPending    = "pending"
	StatusAuthorized = "authorized"
)

// AuthRequest is a single evolving authorization record: stored under a
// session ID while the user connects their Oura account, then re-keyed under
// the authorization code once authorized. The expiration set at creation is
// carried through the re-key.
type AuthRequest struct {
	ClientID            string    `json:"client_id"`
	RedirectURI         string    `json:"redirect_uri"`
	Scope               string    `json:"scope"`
	State               string    `json:"state"`
	CodeChallenge       string    `json:"code_challenge"`
	CodeChallengeMethod string    `json:"code_challenge_method"`
	SessionID           string    `json:"session_id"`
	Status              string    `json:"status"`
	UserID              string    `json:"user_id,omitempty"`
	CreatedAt           time.Time `json:"created_at"`
	ExpiresAt           time.Time `json:"expires_at"`
}

// UserToken holds a user's Oura personal access token, keyed by the user ID
// generated when the credential was captured. Stored verbatim: the tool
// dispatcher needs the raw value to call the Oura API.
type UserToken struct {
	OuraToken string    `json:"oura_token"`
	CreatedAt time.Time `json:"created_at"`
}

// Token is an access or refresh token record, keyed by the opaque token
// string. Access tokens carry the companion refresh token value; refresh
// tokens are tagged with IsRefreshToken and live in the same namespace.
type Token struct {
	ClientID       string    `json:"client_id"`
	UserID         string    `json:"user_id"`
	Scope          string    `json:"scope"`
	Resource       string    `json:"resource,omitempty"`
	RefreshToken   string    `json:"refresh_token,omitempty"`
	IsRefreshToken bool      `json:"is_refresh_token,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	ExpiresAt      time.Time `json:"expires_at"`
}

// Expired reports whether the token's own expiration has passed.
func (t *Token) Expired(now time.Time) bool {
	return !t.ExpiresAt.IsZero() && now.After(t.ExpiresAt)
}

package model

import "time"

// ScopeAccessToken and ScopeRefreshToken are appended to the role-derived
// scopes so the authorization layer can tell the two token flavors apart.
const (
	ScopeAccessToken  = "accesstoken"
	ScopeRefreshToken = "refreshtoken"
)

// TokenBundle is the response of a token issuance. Expires is the access
// token expiry in milliseconds since epoch. The identity pair is present
// only when a federated identity broker is configured and reachable.
type TokenBundle struct {
	AccountID     string `json:"accountId"`
	AccessToken   string `json:"accessToken"`
	RefreshToken  string `json:"refreshToken"`
	Type          string `json:"type"`
	Expires       int64  `json:"expires"`
	IdentityID    string `json:"identityId,omitempty"`
	IdentityToken string `json:"identityToken,omitempty"`
}

// TokenClaims is the decoded form of a verified token.
type TokenClaims struct {
	AccountID string
	Name      string
	Scope     []string
	ExpiresAt time.Time
}

// HasScope reports whether the claims carry any of the given scopes.
func (c TokenClaims) HasScope(scopes ...string) bool {
	for _, want := range scopes {
		for _, got := range c.Scope {
			if got == want {
				return true
			}
		}
	}
	return false
}

// FacebookProfile is the subset of the Graph API profile the service
// consumes when resolving or creating a linked account.
type FacebookProfile struct {
	ID          string
	Username    string
	DisplayName string
	Email       string
	FirstName   string
	LastName    string
}

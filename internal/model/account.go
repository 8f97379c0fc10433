package model

import (
	"strings"
	"time"
)

// RoleUser is assigned to every account at creation time. Roles feed
// directly into the scope claim of issued access tokens.
const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

// Account is the identity record. Email and the lowercase form of
// Username are globally unique; FacebookID is unique when set. The
// store keeps both the display username and its canonical (lowercase)
// form, and all index lookups use the canonical form.
type Account struct {
	ID         string            `json:"id"`
	Email      string            `json:"email,omitempty"`
	Username   string            `json:"username"`
	Name       string            `json:"name,omitempty"`
	Roles      []string          `json:"roles"`
	FacebookID string            `json:"facebookId,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	CreatedAt  time.Time         `json:"createdAt"`
	UpdatedAt  time.Time         `json:"updatedAt"`
}

// CanonicalUsername returns the lowercase form used for uniqueness
// and index lookups.
func (a Account) CanonicalUsername() string {
	return CanonicalizeUsername(a.Username)
}

// HasRole reports whether the account carries the given role.
func (a Account) HasRole(role string) bool {
	for _, r := range a.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// CanonicalizeEmail normalizes an email address for comparison and
// storage. Uniqueness is case-insensitive.
func CanonicalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// CanonicalizeUsername lowercases a username for index purposes while
// the display form is stored untouched.
func CanonicalizeUsername(username string) string {
	return strings.ToLower(strings.TrimSpace(username))
}

// AccountUpdate is a partial account write. Nil pointer fields are left
// unchanged. Metadata entries are merged per key; an empty-string value
// clears the key instead of storing the empty string.
type AccountUpdate struct {
	Email      *string
	Username   *string
	Name       *string
	FacebookID *string
	Roles      []string
	Metadata   map[string]string
}

// IsZero reports whether the update changes nothing.
func (u AccountUpdate) IsZero() bool {
	return u.Email == nil && u.Username == nil && u.Name == nil &&
		u.FacebookID == nil && u.Roles == nil && len(u.Metadata) == 0
}

// CredentialType enumerates the account attributes guarded by the
// credential index.
type CredentialType string

const (
	CredentialEmail    CredentialType = "email"
	CredentialUsername CredentialType = "username"
	CredentialFacebook CredentialType = "facebook"
)

// Credential is a uniqueness reservation: it records which account owns
// a unique attribute value. A credential row existing is the sole source
// of truth for "value is taken".
type Credential struct {
	Type      CredentialType `json:"type"`
	Value     string         `json:"value"`
	AccountID string         `json:"accountId"`
	CreatedAt time.Time      `json:"createdAt"`
}

// Key returns the composite index key, e.g. "email:alice@x.com".
func (c Credential) Key() string {
	return CredentialKey(c.Type, c.Value)
}

// CredentialKey builds the composite key for a (type, value) pair.
func CredentialKey(typ CredentialType, value string) string {
	return string(typ) + ":" + value
}

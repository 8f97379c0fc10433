// Package queue defines message payloads exchanged over the message broker.
package queue

// Queue names. Routing uses the default exchange, so the routing key is
// the queue name itself.
const (
	QueueAccountCreated = "account.created"
	QueueAccountUpdated = "account.updated"
	QueueAccountRemoved = "account.removed"
	QueueLoginEmail     = "login.email"
)

// AccountEvent is published after an account is created or updated. It
// carries the current state of the record so downstream consumers can
// react without querying the primary store.
type AccountEvent struct {
	AccountID  string            `json:"account_id"`
	Email      string            `json:"email,omitempty"`
	Username   string            `json:"username"`
	Name       string            `json:"name"`
	Roles      []string          `json:"roles"`
	FacebookID string            `json:"facebook_id,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	OccurredAt string            `json:"occurred_at"`
}

// AccountRemovedEvent is published after an account is removed. It lists
// the credential values that were freed so consumers can reconcile any
// index left behind by a failed cleanup.
type AccountRemovedEvent struct {
	AccountID        string   `json:"account_id"`
	FreedCredentials []string `json:"freed_credentials"`
	OccurredAt       string   `json:"occurred_at"`
}

// LoginEmailJob asks the mail worker to deliver a magic-link login email.
type LoginEmailJob struct {
	AccountID    string `json:"account_id"`
	Email        string `json:"email"`
	Name         string `json:"name"`
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	Expires      int64  `json:"expires"`
	QueuedAt     string `json:"queued_at"`
}

// Package repository defines the storage ports consumed by the service
// layer and ships three adapters: an in-process memory store, a Redis
// store and a MySQL store. The backing engine is assumed to offer
// conditional writes only; there are no cross-record transactions, so
// callers coordinate multi-record changes with compensation.
package repository

import (
	"context"

	"github.com/solderstack/gatehouse/internal/apperr"
	"github.com/solderstack/gatehouse/internal/model"
)

// FindOptions shapes read results. Fields, when non-empty, restricts the
// returned attributes to the named subset. Email is a sensitive field and
// is stripped from results unless AllFields is set.
type FindOptions struct {
	Fields    []string
	AllFields bool
}

// CredentialIndex owns uniqueness. Create must fail with a Conflict
// error when the (type, value) key is already present, regardless of
// owner. Remove is guarded: it succeeds only when the row exists and is
// owned by the stated account, failing with NotFound otherwise. Rollback
// paths treat a failed Remove as a no-op.
type CredentialIndex interface {
	CreateCredential(ctx context.Context, cred model.Credential) error
	RemoveCredential(ctx context.Context, typ model.CredentialType, value, accountID string) error
	GetCredential(ctx context.Context, typ model.CredentialType, value string) (*model.Credential, error)
}

// AccountStore maps account id to account record. Create and Update are
// conditional on id absence respectively presence. Remove is
// unconditional and returns the prior record, nil when none existed.
// Equality lookups normalize case before querying.
type AccountStore interface {
	Create(ctx context.Context, acc model.Account) (*model.Account, error)
	// Update applies a partial write and returns the record as it was
	// before the write alongside the updated record.
	Update(ctx context.Context, accountID string, changes model.AccountUpdate) (prev, curr *model.Account, err error)
	Remove(ctx context.Context, accountID string) (*model.Account, error)
	FindByID(ctx context.Context, accountID string, opts FindOptions) (*model.Account, error)
	FindByIDs(ctx context.Context, accountIDs []string, opts FindOptions) ([]model.Account, error)
	FindByEmail(ctx context.Context, email string, opts FindOptions) (*model.Account, error)
	FindByUsername(ctx context.Context, username string, opts FindOptions) (*model.Account, error)
	FindByFacebookID(ctx context.Context, facebookID string, opts FindOptions) (*model.Account, error)
}

// Store bundles both ports for backends that serve them from one handle.
type Store interface {
	CredentialIndex
	AccountStore
}

func errCredentialRequired(typ model.CredentialType) error {
	return apperr.Validationf("%s is required", typ)
}

func errCredentialTaken(typ model.CredentialType) error {
	return apperr.Conflictf("%s already exists", typ)
}

func errAccountExists(accountID string) error {
	return apperr.Conflictf("Account with id %s already exists", accountID)
}

func errAccountNotFound(accountID string) error {
	return apperr.NotFoundf("Account with id %s not found", accountID)
}

func errCredentialNotFound(typ model.CredentialType, value string) error {
	return apperr.NotFoundf("credential %s not found", model.CredentialKey(typ, value))
}

// project applies field projection and sensitive-field gating to a copy
// of the account. The stored record is never mutated.
func project(acc model.Account, opts FindOptions) model.Account {
	if !opts.AllFields {
		acc.Email = ""
	}
	if len(opts.Fields) == 0 {
		return acc
	}
	keep := make(map[string]bool, len(opts.Fields))
	for _, f := range opts.Fields {
		keep[f] = true
	}
	out := model.Account{ID: acc.ID, CreatedAt: acc.CreatedAt, UpdatedAt: acc.UpdatedAt}
	if keep["email"] {
		out.Email = acc.Email
	}
	if keep["username"] {
		out.Username = acc.Username
	}
	if keep["name"] {
		out.Name = acc.Name
	}
	if keep["roles"] {
		out.Roles = acc.Roles
	}
	if keep["facebookId"] {
		out.FacebookID = acc.FacebookID
	}
	if keep["metadata"] {
		out.Metadata = acc.Metadata
	}
	return out
}

// applyUpdate merges a partial write into a copy of the account.
// Metadata keys with empty-string values are cleared rather than stored.
func applyUpdate(acc model.Account, changes model.AccountUpdate) model.Account {
	if changes.Email != nil {
		acc.Email = model.CanonicalizeEmail(*changes.Email)
	}
	if changes.Username != nil {
		acc.Username = *changes.Username
	}
	if changes.Name != nil {
		acc.Name = *changes.Name
	}
	if changes.FacebookID != nil {
		acc.FacebookID = *changes.FacebookID
	}
	if changes.Roles != nil {
		acc.Roles = append([]string(nil), changes.Roles...)
	}
	if len(changes.Metadata) > 0 {
		merged := make(map[string]string, len(acc.Metadata)+len(changes.Metadata))
		for k, v := range acc.Metadata {
			merged[k] = v
		}
		for k, v := range changes.Metadata {
			if v == "" {
				delete(merged, k)
				continue
			}
			merged[k] = v
		}
		if len(merged) == 0 {
			merged = nil
		}
		acc.Metadata = merged
	}
	return acc
}

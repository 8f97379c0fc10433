package service

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/solderstack/gatehouse/internal/apperr"
	"github.com/solderstack/gatehouse/internal/model"
	"github.com/solderstack/gatehouse/internal/repository"
)

// EventSink receives account lifecycle notifications. Publishing is
// best-effort; implementations report failures through their return
// value and the service logs and moves on.
type EventSink interface {
	AccountCreated(ctx context.Context, acc model.Account) error
	AccountUpdated(ctx context.Context, acc model.Account) error
	AccountRemoved(ctx context.Context, acc model.Account) error
}

// AccountService coordinates account writes across the account store
// and the credential index. The store offers conditional single-record
// writes only, so every multi-record operation reserves first and
// compensates with best-effort deletes when a later step fails.
//
// Concurrent updates to the same account's credential fields are not
// mutually excluded; two racing requests can interleave and strand a
// reservation. Callers needing stronger guarantees must serialize
// externally.
type AccountService struct {
	accounts repository.AccountStore
	creds    repository.CredentialIndex
	events   EventSink
	log      *zap.Logger
}

func NewAccountService(accounts repository.AccountStore, creds repository.CredentialIndex, events EventSink, log *zap.Logger) *AccountService {
	if log == nil {
		log = zap.NewNop()
	}
	return &AccountService{accounts: accounts, creds: creds, events: events, log: log}
}

// CreateParams carries the caller-controlled fields of a new account.
// ID is optional; a fresh one is generated when absent.
type CreateParams struct {
	ID         string
	Email      string
	Username   string
	Name       string
	FacebookID string
	Metadata   map[string]string
}

// Create reserves the account's credentials and writes the account row
// concurrently, then rolls both back when either branch fails. The
// trade is a brief inconsistency window for lower latency; compensation
// guarantees a failed create never leaves a value permanently taken.
func (s *AccountService) Create(ctx context.Context, params CreateParams) (*model.Account, error) {
	accountID := params.ID
	if accountID == "" {
		accountID = uuid.NewString()
	}
	acc := model.Account{
		ID:         accountID,
		Email:      model.CanonicalizeEmail(params.Email),
		Username:   params.Username,
		Name:       params.Name,
		Roles:      []string{model.RoleUser},
		FacebookID: params.FacebookID,
		Metadata:   params.Metadata,
	}

	var (
		wg       sync.WaitGroup
		credsErr error
		accErr   error
		created  *model.Account
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		credsErr = s.createCredentials(ctx, acc)
	}()
	go func() {
		defer wg.Done()
		created, accErr = s.accounts.Create(ctx, acc)
	}()
	wg.Wait()

	if credsErr != nil || accErr != nil {
		err := credsErr
		if err == nil {
			err = accErr
		}
		s.log.Info("account create failed, compensating",
			zap.String("account_id", accountID), zap.Error(err))
		s.removeCredentials(ctx, acc)
		if accErr == nil && created != nil {
			if _, rmErr := s.accounts.Remove(ctx, accountID); rmErr != nil {
				s.log.Warn("account row cleanup failed",
					zap.String("account_id", accountID), zap.Error(rmErr))
			}
		}
		return nil, err
	}

	s.publish(ctx, "account.created", *created, s.eventCreated)
	return created, nil
}

// Update applies a partial account write. Credential-bearing fields
// (email, username, facebookId) are rotated per field in parallel:
// reserve the new value, repoint the account row, then release the old
// reservation only when the value actually changed. Remaining fields go
// out in one conditional write once every rotation has succeeded.
func (s *AccountService) Update(ctx context.Context, accountID string, update model.AccountUpdate) (*model.Account, error) {
	type rotation struct {
		typ      model.CredentialType
		newValue string
		patch    model.AccountUpdate
		oldValue func(model.Account) string
	}

	var rotations []rotation
	if update.Email != nil {
		email := model.CanonicalizeEmail(*update.Email)
		rotations = append(rotations, rotation{
			typ:      model.CredentialEmail,
			newValue: email,
			patch:    model.AccountUpdate{Email: &email},
			oldValue: func(a model.Account) string { return a.Email },
		})
	}
	if update.Username != nil {
		username := *update.Username
		rotations = append(rotations, rotation{
			typ:      model.CredentialUsername,
			newValue: model.CanonicalizeUsername(username),
			patch:    model.AccountUpdate{Username: &username},
			oldValue: func(a model.Account) string { return a.CanonicalUsername() },
		})
	}
	if update.FacebookID != nil {
		facebookID := *update.FacebookID
		rotations = append(rotations, rotation{
			typ:      model.CredentialFacebook,
			newValue: facebookID,
			patch:    model.AccountUpdate{FacebookID: &facebookID},
			oldValue: func(a model.Account) string { return a.FacebookID },
		})
	}

	if len(rotations) > 0 {
		errs := make([]error, len(rotations))
		var wg sync.WaitGroup
		for i, rot := range rotations {
			wg.Add(1)
			go func(i int, rot rotation) {
				defer wg.Done()
				errs[i] = s.rotateCredential(ctx, accountID, rot.typ, rot.newValue, rot.patch, rot.oldValue)
			}(i, rot)
		}
		wg.Wait()
		for _, err := range errs {
			if err != nil {
				return nil, err
			}
		}
	}

	rest := model.AccountUpdate{
		Name:     update.Name,
		Roles:    update.Roles,
		Metadata: update.Metadata,
	}
	_, curr, err := s.accounts.Update(ctx, accountID, rest)
	if err != nil {
		return nil, err
	}

	s.publish(ctx, "account.updated", *curr, s.eventUpdated)
	return curr, nil
}

// rotateCredential moves one credential-bearing field to a new value.
// Re-setting the current value is an idempotent no-op per field: the
// reservation already belongs to this account and is left untouched.
func (s *AccountService) rotateCredential(ctx context.Context, accountID string, typ model.CredentialType, newValue string, patch model.AccountUpdate, oldValue func(model.Account) string) error {
	reserved := true
	err := s.creds.CreateCredential(ctx, model.Credential{Type: typ, Value: newValue, AccountID: accountID})
	if err != nil {
		if !apperr.IsConflict(err) {
			return err
		}
		existing, getErr := s.creds.GetCredential(ctx, typ, newValue)
		if getErr != nil || existing == nil || existing.AccountID != accountID {
			return err
		}
		reserved = false
	}

	prev, _, err := s.accounts.Update(ctx, accountID, patch)
	if err != nil {
		if reserved {
			s.releaseCredential(ctx, typ, newValue, accountID)
		}
		return err
	}

	if old := oldValue(*prev); old != "" && old != newValue {
		s.releaseCredential(ctx, typ, old, accountID)
	}
	return nil
}

// Remove deletes the account row and then releases its credentials.
// Cleanup is best-effort: the account is already gone, so a failed
// credential delete is logged and swallowed.
func (s *AccountService) Remove(ctx context.Context, accountID string) error {
	prev, err := s.accounts.Remove(ctx, accountID)
	if err != nil {
		return err
	}
	if prev == nil {
		return nil
	}
	s.removeCredentials(ctx, *prev)
	s.publish(ctx, "account.removed", *prev, s.eventRemoved)
	return nil
}

// LinkWithProvider attaches an external provider identity to an
// account. Re-linking the same provider id to the same account succeeds
// without touching the reservation.
func (s *AccountService) LinkWithProvider(ctx context.Context, accountID string, provider Provider, providerID string) (*model.Account, error) {
	existing, err := s.creds.GetCredential(ctx, provider.credType, providerID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		if existing.AccountID != accountID {
			return nil, apperr.Conflictf("%s already exists", provider.credType)
		}
		acc, err := s.accounts.FindByID(ctx, accountID, repository.FindOptions{AllFields: true})
		if err != nil {
			return nil, err
		}
		if acc == nil {
			return nil, apperr.NotFoundf("Account with id %s not found", accountID)
		}
		return acc, nil
	}

	if err := s.creds.CreateCredential(ctx, model.Credential{Type: provider.credType, Value: providerID, AccountID: accountID}); err != nil {
		return nil, err
	}
	_, curr, err := s.accounts.Update(ctx, accountID, provider.patch(providerID))
	if err != nil {
		s.releaseCredential(ctx, provider.credType, providerID, accountID)
		return nil, err
	}

	s.publish(ctx, "account.updated", *curr, s.eventUpdated)
	return curr, nil
}

// Get returns a single account by id, nil when absent.
func (s *AccountService) Get(ctx context.Context, accountID string, opts repository.FindOptions) (*model.Account, error) {
	return s.accounts.FindByID(ctx, accountID, opts)
}

// GetMany returns the accounts matching the given ids, skipping misses.
func (s *AccountService) GetMany(ctx context.Context, accountIDs []string, opts repository.FindOptions) ([]model.Account, error) {
	return s.accounts.FindByIDs(ctx, accountIDs, opts)
}

// FindByEmail looks an account up by its email, case-insensitively.
func (s *AccountService) FindByEmail(ctx context.Context, email string, opts repository.FindOptions) (*model.Account, error) {
	return s.accounts.FindByEmail(ctx, email, opts)
}

// FindByUsername looks an account up by its username, case-insensitively.
func (s *AccountService) FindByUsername(ctx context.Context, username string, opts repository.FindOptions) (*model.Account, error) {
	return s.accounts.FindByUsername(ctx, username, opts)
}

// FindByFacebookID looks an account up by its linked facebook id.
func (s *AccountService) FindByFacebookID(ctx context.Context, facebookID string, opts repository.FindOptions) (*model.Account, error) {
	return s.accounts.FindByFacebookID(ctx, facebookID, opts)
}

func (s *AccountService) publish(ctx context.Context, name string, acc model.Account, emit func(context.Context, model.Account) error) {
	if s.events == nil {
		return
	}
	if err := emit(ctx, acc); err != nil {
		s.log.Warn("event publish failed", zap.String("event", name),
			zap.String("account_id", acc.ID), zap.Error(err))
	}
}

func (s *AccountService) eventCreated(ctx context.Context, acc model.Account) error {
	return s.events.AccountCreated(ctx, acc)
}

func (s *AccountService) eventUpdated(ctx context.Context, acc model.Account) error {
	return s.events.AccountUpdated(ctx, acc)
}

func (s *AccountService) eventRemoved(ctx context.Context, acc model.Account) error {
	return s.events.AccountRemoved(ctx, acc)
}

func zapCredential(typ model.CredentialType, value, accountID string, err error) []zap.Field {
	return []zap.Field{
		zap.String("type", string(typ)),
		zap.String("value", value),
		zap.String("account_id", accountID),
		zap.Error(err),
	}
}

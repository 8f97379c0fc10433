package repository

import (
	"context"
	"sync"
	"time"

	"github.com/solderstack/gatehouse/internal/model"
)

// MemoryStore is an in-process Store used by tests and the default dev
// bootstrap. It reproduces the conditional-write semantics of the real
// backends under a single mutex.
type MemoryStore struct {
	mu       sync.RWMutex
	accounts map[string]model.Account
	creds    map[string]model.Credential
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		accounts: make(map[string]model.Account),
		creds:    make(map[string]model.Credential),
	}
}

func (s *MemoryStore) Create(ctx context.Context, acc model.Account) (*model.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.accounts[acc.ID]; ok {
		return nil, errAccountExists(acc.ID)
	}
	now := time.Now().UTC()
	acc.CreatedAt = now
	acc.UpdatedAt = now
	s.accounts[acc.ID] = acc
	out := acc
	return &out, nil
}

func (s *MemoryStore) Update(ctx context.Context, accountID string, changes model.AccountUpdate) (*model.Account, *model.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	old, ok := s.accounts[accountID]
	if !ok {
		return nil, nil, errAccountNotFound(accountID)
	}
	updated := applyUpdate(old, changes)
	updated.UpdatedAt = time.Now().UTC()
	s.accounts[accountID] = updated
	prev, curr := old, updated
	return &prev, &curr, nil
}

func (s *MemoryStore) Remove(ctx context.Context, accountID string) (*model.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	old, ok := s.accounts[accountID]
	if !ok {
		return nil, nil
	}
	delete(s.accounts, accountID)
	return &old, nil
}

func (s *MemoryStore) FindByID(ctx context.Context, accountID string, opts FindOptions) (*model.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	acc, ok := s.accounts[accountID]
	if !ok {
		return nil, nil
	}
	out := project(acc, opts)
	return &out, nil
}

func (s *MemoryStore) FindByIDs(ctx context.Context, accountIDs []string, opts FindOptions) ([]model.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.Account
	for _, id := range accountIDs {
		if acc, ok := s.accounts[id]; ok {
			out = append(out, project(acc, opts))
		}
	}
	return out, nil
}

func (s *MemoryStore) FindByEmail(ctx context.Context, email string, opts FindOptions) (*model.Account, error) {
	email = model.CanonicalizeEmail(email)
	return s.findWhere(func(a model.Account) bool { return a.Email == email }, opts)
}

func (s *MemoryStore) FindByUsername(ctx context.Context, username string, opts FindOptions) (*model.Account, error) {
	username = model.CanonicalizeUsername(username)
	return s.findWhere(func(a model.Account) bool { return a.CanonicalUsername() == username }, opts)
}

func (s *MemoryStore) FindByFacebookID(ctx context.Context, facebookID string, opts FindOptions) (*model.Account, error) {
	return s.findWhere(func(a model.Account) bool { return a.FacebookID != "" && a.FacebookID == facebookID }, opts)
}

func (s *MemoryStore) findWhere(match func(model.Account) bool, opts FindOptions) (*model.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, acc := range s.accounts {
		if match(acc) {
			out := project(acc, opts)
			return &out, nil
		}
	}
	return nil, nil
}

func (s *MemoryStore) CreateCredential(ctx context.Context, cred model.Credential) error {
	if cred.Value == "" {
		return errCredentialRequired(cred.Type)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	key := cred.Key()
	if _, ok := s.creds[key]; ok {
		return errCredentialTaken(cred.Type)
	}
	cred.CreatedAt = time.Now().UTC()
	s.creds[key] = cred
	return nil
}

func (s *MemoryStore) RemoveCredential(ctx context.Context, typ model.CredentialType, value, accountID string) error {
	if value == "" {
		return errCredentialRequired(typ)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	key := model.CredentialKey(typ, value)
	cred, ok := s.creds[key]
	if !ok || cred.AccountID != accountID {
		return errCredentialNotFound(typ, value)
	}
	delete(s.creds, key)
	return nil
}

func (s *MemoryStore) GetCredential(ctx context.Context, typ model.CredentialType, value string) (*model.Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cred, ok := s.creds[model.CredentialKey(typ, value)]
	if !ok {
		return nil, nil
	}
	return &cred, nil
}

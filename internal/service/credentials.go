package service

import (
	"context"
	"sync"

	"github.com/solderstack/gatehouse/internal/model"
)

// credentialsOf lists the uniqueness reservations an account record
// implies: email and username always, facebook when linked. Values are
// the canonical forms used for index keys.
func credentialsOf(acc model.Account) []model.Credential {
	creds := []model.Credential{
		{Type: model.CredentialEmail, Value: model.CanonicalizeEmail(acc.Email), AccountID: acc.ID},
		{Type: model.CredentialUsername, Value: acc.CanonicalUsername(), AccountID: acc.ID},
	}
	if acc.FacebookID != "" {
		creds = append(creds, model.Credential{Type: model.CredentialFacebook, Value: acc.FacebookID, AccountID: acc.ID})
	}
	return creds
}

// createCredentials reserves all credentials concurrently. On failure
// the first error in declaration order (email, username, facebook) is
// returned and the caller compensates for any reservations that did
// go through.
func (s *AccountService) createCredentials(ctx context.Context, acc model.Account) error {
	creds := credentialsOf(acc)
	errs := make([]error, len(creds))

	var wg sync.WaitGroup
	for i, cred := range creds {
		wg.Add(1)
		go func(i int, cred model.Credential) {
			defer wg.Done()
			errs[i] = s.creds.CreateCredential(ctx, cred)
		}(i, cred)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

// removeCredentials releases all reservations concurrently. Errors are
// swallowed after logging: rollback and post-delete cleanup are
// best-effort and must never mask the original failure.
func (s *AccountService) removeCredentials(ctx context.Context, acc model.Account) {
	var wg sync.WaitGroup
	for _, cred := range credentialsOf(acc) {
		wg.Add(1)
		go func(cred model.Credential) {
			defer wg.Done()
			s.releaseCredential(ctx, cred.Type, cred.Value, cred.AccountID)
		}(cred)
	}
	wg.Wait()
}

// releaseCredential is the best-effort single-row delete used by every
// compensation path.
func (s *AccountService) releaseCredential(ctx context.Context, typ model.CredentialType, value, accountID string) {
	if value == "" {
		return
	}
	if err := s.creds.RemoveCredential(ctx, typ, value, accountID); err != nil {
		s.log.Warn("credential cleanup failed",
			zapCredential(typ, value, accountID, err)...)
	}
}

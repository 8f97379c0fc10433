package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/solderstack/gatehouse/internal/apperr"
	"github.com/solderstack/gatehouse/internal/model"
	"github.com/solderstack/gatehouse/internal/repository"
)

// recordingSink captures published events for assertions.
type recordingSink struct {
	created []model.Account
	updated []model.Account
	removed []model.Account
}

func (r *recordingSink) AccountCreated(ctx context.Context, acc model.Account) error {
	r.created = append(r.created, acc)
	return nil
}

func (r *recordingSink) AccountUpdated(ctx context.Context, acc model.Account) error {
	r.updated = append(r.updated, acc)
	return nil
}

func (r *recordingSink) AccountRemoved(ctx context.Context, acc model.Account) error {
	r.removed = append(r.removed, acc)
	return nil
}

func newTestService(t *testing.T) (*AccountService, *repository.MemoryStore, *recordingSink) {
	t.Helper()
	store := repository.NewMemoryStore()
	sink := &recordingSink{}
	return NewAccountService(store, store, sink, zap.NewNop()), store, sink
}

func createParams(id string) CreateParams {
	return CreateParams{
		ID:       id,
		Email:    id + "@example.com",
		Username: "user-" + id,
		Name:     "User " + id,
	}
}

func TestCreateAssignsIDAndDefaultRole(t *testing.T) {
	ctx := context.Background()
	svc, _, sink := newTestService(t)

	acc, err := svc.Create(ctx, CreateParams{Email: "jane@example.com", Username: "jane", Name: "Jane"})
	require.NoError(t, err)
	assert.NotEmpty(t, acc.ID)
	assert.Equal(t, []string{model.RoleUser}, acc.Roles)
	assert.Equal(t, "jane@example.com", acc.Email)
	require.Len(t, sink.created, 1)
	assert.Equal(t, acc.ID, sink.created[0].ID)
}

func TestCreateEnforcesUniqueness(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestService(t)

	_, err := svc.Create(ctx, createParams("a1"))
	require.NoError(t, err)

	// same email, different case
	_, err = svc.Create(ctx, CreateParams{Email: "A1@EXAMPLE.com", Username: "other"})
	require.Error(t, err)
	assert.True(t, apperr.IsConflict(err))

	// same username, different case
	_, err = svc.Create(ctx, CreateParams{Email: "fresh@example.com", Username: "USER-A1"})
	require.Error(t, err)
	assert.True(t, apperr.IsConflict(err))
}

func TestCreateMissingEmailIsValidation(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestService(t)

	_, err := svc.Create(ctx, CreateParams{Username: "jane"})
	require.Error(t, err)
	assert.True(t, apperr.IsValidation(err))
}

func TestCreateIDConflictFreesCredentials(t *testing.T) {
	ctx := context.Background()
	svc, store, _ := newTestService(t)

	_, err := svc.Create(ctx, createParams("a1"))
	require.NoError(t, err)

	_, err = svc.Create(ctx, CreateParams{
		ID:       "a1",
		Email:    "second@example.com",
		Username: "second",
	})
	require.Error(t, err)
	assert.True(t, apperr.IsConflict(err))

	// the attempted reservations were rolled back
	cred, err := store.GetCredential(ctx, model.CredentialEmail, "second@example.com")
	require.NoError(t, err)
	assert.Nil(t, cred)
	cred, err = store.GetCredential(ctx, model.CredentialUsername, "second")
	require.NoError(t, err)
	assert.Nil(t, cred)

	// the original account is untouched
	acc, err := store.FindByID(ctx, "a1", repository.FindOptions{AllFields: true})
	require.NoError(t, err)
	require.NotNil(t, acc)
	assert.Equal(t, "a1@example.com", acc.Email)
}

func TestCreateCredentialConflictLeavesNoAccountRow(t *testing.T) {
	ctx := context.Background()
	svc, store, _ := newTestService(t)

	_, err := svc.Create(ctx, createParams("a1"))
	require.NoError(t, err)

	_, err = svc.Create(ctx, CreateParams{
		ID:       "a2",
		Email:    "a1@example.com",
		Username: "unclaimed",
	})
	require.Error(t, err)
	assert.True(t, apperr.IsConflict(err))

	acc, err := store.FindByID(ctx, "a2", repository.FindOptions{})
	require.NoError(t, err)
	assert.Nil(t, acc)

	cred, err := store.GetCredential(ctx, model.CredentialUsername, "unclaimed")
	require.NoError(t, err)
	assert.Nil(t, cred)
}

func TestUpdateRotatesCredentials(t *testing.T) {
	ctx := context.Background()
	svc, store, sink := newTestService(t)

	_, err := svc.Create(ctx, createParams("a1"))
	require.NoError(t, err)

	email := "new@example.com"
	curr, err := svc.Update(ctx, "a1", model.AccountUpdate{Email: &email})
	require.NoError(t, err)
	assert.Equal(t, "new@example.com", curr.Email)

	// old reservation released, new one owned
	old, err := store.GetCredential(ctx, model.CredentialEmail, "a1@example.com")
	require.NoError(t, err)
	assert.Nil(t, old)
	cred, err := store.GetCredential(ctx, model.CredentialEmail, "new@example.com")
	require.NoError(t, err)
	require.NotNil(t, cred)
	assert.Equal(t, "a1", cred.AccountID)
	assert.NotEmpty(t, sink.updated)
}

func TestUpdateToSameValueIsIdempotent(t *testing.T) {
	ctx := context.Background()
	svc, store, _ := newTestService(t)

	_, err := svc.Create(ctx, createParams("a1"))
	require.NoError(t, err)

	email := "a1@example.com"
	curr, err := svc.Update(ctx, "a1", model.AccountUpdate{Email: &email})
	require.NoError(t, err)
	assert.Equal(t, "a1@example.com", curr.Email)

	cred, err := store.GetCredential(ctx, model.CredentialEmail, "a1@example.com")
	require.NoError(t, err)
	require.NotNil(t, cred)
	assert.Equal(t, "a1", cred.AccountID)
}

func TestUpdateConflictRollsBack(t *testing.T) {
	ctx := context.Background()
	svc, store, _ := newTestService(t)

	_, err := svc.Create(ctx, createParams("a1"))
	require.NoError(t, err)
	_, err = svc.Create(ctx, createParams("b1"))
	require.NoError(t, err)

	email := "b1@example.com"
	_, err = svc.Update(ctx, "a1", model.AccountUpdate{Email: &email})
	require.Error(t, err)
	assert.True(t, apperr.IsConflict(err))

	// a1 keeps its email and is still resolvable by it
	acc, err := store.FindByID(ctx, "a1", repository.FindOptions{AllFields: true})
	require.NoError(t, err)
	assert.Equal(t, "a1@example.com", acc.Email)
	byEmail, err := store.FindByEmail(ctx, "a1@example.com", repository.FindOptions{})
	require.NoError(t, err)
	require.NotNil(t, byEmail)
	assert.Equal(t, "a1", byEmail.ID)

	// b1 still owns the contested reservation
	cred, err := store.GetCredential(ctx, model.CredentialEmail, "b1@example.com")
	require.NoError(t, err)
	require.NotNil(t, cred)
	assert.Equal(t, "b1", cred.AccountID)
}

func TestUpdateMissingAccountReleasesReservation(t *testing.T) {
	ctx := context.Background()
	svc, store, _ := newTestService(t)

	email := "ghost@example.com"
	_, err := svc.Update(ctx, "missing", model.AccountUpdate{Email: &email})
	require.Error(t, err)
	assert.True(t, apperr.IsNotFound(err))

	cred, err := store.GetCredential(ctx, model.CredentialEmail, "ghost@example.com")
	require.NoError(t, err)
	assert.Nil(t, cred)
}

func TestUpdateMetadataClear(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestService(t)

	params := createParams("a1")
	params.Metadata = map[string]string{"foo": "bar"}
	_, err := svc.Create(ctx, params)
	require.NoError(t, err)

	curr, err := svc.Update(ctx, "a1", model.AccountUpdate{Metadata: map[string]string{"foo": ""}})
	require.NoError(t, err)
	_, present := curr.Metadata["foo"]
	assert.False(t, present)
}

func TestRemoveFreesCredentialsForReuse(t *testing.T) {
	ctx := context.Background()
	svc, store, sink := newTestService(t)

	params := createParams("a1")
	params.FacebookID = "fb-1"
	_, err := svc.Create(ctx, params)
	require.NoError(t, err)

	require.NoError(t, svc.Remove(ctx, "a1"))
	require.Len(t, sink.removed, 1)

	opts := repository.FindOptions{}
	byEmail, err := store.FindByEmail(ctx, "a1@example.com", opts)
	require.NoError(t, err)
	assert.Nil(t, byEmail)
	byUsername, err := store.FindByUsername(ctx, "user-a1", opts)
	require.NoError(t, err)
	assert.Nil(t, byUsername)
	byFacebook, err := store.FindByFacebookID(ctx, "fb-1", opts)
	require.NoError(t, err)
	assert.Nil(t, byFacebook)

	// the freed values are immediately reusable
	reuse := createParams("a2")
	reuse.Email = "a1@example.com"
	reuse.Username = "user-a1"
	reuse.FacebookID = "fb-1"
	_, err = svc.Create(ctx, reuse)
	require.NoError(t, err)
}

func TestRemoveAbsentAccountSucceeds(t *testing.T) {
	ctx := context.Background()
	svc, _, sink := newTestService(t)

	require.NoError(t, svc.Remove(ctx, "missing"))
	assert.Empty(t, sink.removed)
}

func TestLinkWithProviderIsIdempotent(t *testing.T) {
	ctx := context.Background()
	svc, store, _ := newTestService(t)

	_, err := svc.Create(ctx, createParams("a1"))
	require.NoError(t, err)

	first, err := svc.LinkWithProvider(ctx, "a1", ProviderFacebook, "fb-9")
	require.NoError(t, err)
	assert.Equal(t, "fb-9", first.FacebookID)

	second, err := svc.LinkWithProvider(ctx, "a1", ProviderFacebook, "fb-9")
	require.NoError(t, err)
	assert.Equal(t, "fb-9", second.FacebookID)

	cred, err := store.GetCredential(ctx, model.CredentialFacebook, "fb-9")
	require.NoError(t, err)
	require.NotNil(t, cred)
	assert.Equal(t, "a1", cred.AccountID)
}

func TestLinkWithProviderConflictsAcrossAccounts(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestService(t)

	_, err := svc.Create(ctx, createParams("a1"))
	require.NoError(t, err)
	_, err = svc.Create(ctx, createParams("b1"))
	require.NoError(t, err)

	_, err = svc.LinkWithProvider(ctx, "a1", ProviderFacebook, "fb-9")
	require.NoError(t, err)

	_, err = svc.LinkWithProvider(ctx, "b1", ProviderFacebook, "fb-9")
	require.Error(t, err)
	assert.True(t, apperr.IsConflict(err))
}

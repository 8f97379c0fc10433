package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/solderstack/gatehouse/internal/model"
)

// RedisStore keeps accounts as JSON documents and credential
// reservations as single keys, using SET NX for conditional creates and
// a compare-and-delete script for guarded credential removal. Account
// lookup keys (email/username/facebook) are maintained alongside the
// document inside a MULTI pipeline.
type RedisStore struct {
	rdb *redis.Client
}

var _ Store = (*RedisStore)(nil)

func NewRedisStore(rdb *redis.Client) *RedisStore {
	return &RedisStore{rdb: rdb}
}

func accountKey(id string) string { return "account:" + id }

func credKey(typ model.CredentialType, value string) string {
	return "cred:" + model.CredentialKey(typ, value)
}

func indexKeys(acc model.Account) map[string]string {
	keys := map[string]string{
		"acctidx:email:" + acc.Email:                  acc.ID,
		"acctidx:username:" + acc.CanonicalUsername(): acc.ID,
	}
	if acc.FacebookID != "" {
		keys["acctidx:facebook:"+acc.FacebookID] = acc.ID
	}
	return keys
}

// compareAndDelete removes a credential key only when it is owned by the
// stated account. 1 = deleted, 0 = absent, -1 = ownership mismatch.
var compareAndDelete = redis.NewScript(`
local raw = redis.call('GET', KEYS[1])
if not raw then
  return 0
end
local data = cjson.decode(raw)
if data.accountId == ARGV[1] then
  redis.call('DEL', KEYS[1])
  return 1
end
return -1
`)

func (s *RedisStore) Create(ctx context.Context, acc model.Account) (*model.Account, error) {
	now := time.Now().UTC()
	acc.CreatedAt = now
	acc.UpdatedAt = now

	doc, err := json.Marshal(acc)
	if err != nil {
		return nil, err
	}
	ok, err := s.rdb.SetNX(ctx, accountKey(acc.ID), doc, 0).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: create account: %w", err)
	}
	if !ok {
		return nil, errAccountExists(acc.ID)
	}

	pipe := s.rdb.Pipeline()
	for k, id := range indexKeys(acc) {
		pipe.Set(ctx, k, id, 0)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("redis: index account: %w", err)
	}
	return &acc, nil
}

func (s *RedisStore) Update(ctx context.Context, accountID string, changes model.AccountUpdate) (*model.Account, *model.Account, error) {
	var prev, curr model.Account

	key := accountKey(accountID)
	txn := func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, key).Result()
		if errors.Is(err, redis.Nil) {
			return errAccountNotFound(accountID)
		}
		if err != nil {
			return err
		}
		if err := json.Unmarshal([]byte(raw), &prev); err != nil {
			return err
		}
		curr = applyUpdate(prev, changes)
		curr.UpdatedAt = time.Now().UTC()

		doc, err := json.Marshal(curr)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, doc, 0)
			for k := range indexKeys(prev) {
				pipe.Del(ctx, k)
			}
			for k, id := range indexKeys(curr) {
				pipe.Set(ctx, k, id, 0)
			}
			return nil
		})
		return err
	}

	// Optimistic locking; retry a few times when a concurrent writer
	// touches the same account between GET and EXEC.
	for i := 0; i < 5; i++ {
		err := s.rdb.Watch(ctx, txn, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return nil, nil, err
		}
		return &prev, &curr, nil
	}
	return nil, nil, fmt.Errorf("redis: update account %s: too many conflicts", accountID)
}

func (s *RedisStore) Remove(ctx context.Context, accountID string) (*model.Account, error) {
	raw, err := s.rdb.Get(ctx, accountKey(accountID)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var acc model.Account
	if err := json.Unmarshal([]byte(raw), &acc); err != nil {
		return nil, err
	}

	pipe := s.rdb.TxPipeline()
	pipe.Del(ctx, accountKey(accountID))
	for k := range indexKeys(acc) {
		pipe.Del(ctx, k)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("redis: remove account: %w", err)
	}
	return &acc, nil
}

func (s *RedisStore) FindByID(ctx context.Context, accountID string, opts FindOptions) (*model.Account, error) {
	return s.getAccount(ctx, accountKey(accountID), opts)
}

func (s *RedisStore) FindByIDs(ctx context.Context, accountIDs []string, opts FindOptions) ([]model.Account, error) {
	if len(accountIDs) == 0 {
		return nil, nil
	}
	keys := make([]string, len(accountIDs))
	for i, id := range accountIDs {
		keys[i] = accountKey(id)
	}
	raws, err := s.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}
	var out []model.Account
	for _, raw := range raws {
		str, ok := raw.(string)
		if !ok {
			continue
		}
		var acc model.Account
		if err := json.Unmarshal([]byte(str), &acc); err != nil {
			return nil, err
		}
		out = append(out, project(acc, opts))
	}
	return out, nil
}

func (s *RedisStore) FindByEmail(ctx context.Context, email string, opts FindOptions) (*model.Account, error) {
	return s.findViaIndex(ctx, "acctidx:email:"+model.CanonicalizeEmail(email), opts)
}

func (s *RedisStore) FindByUsername(ctx context.Context, username string, opts FindOptions) (*model.Account, error) {
	return s.findViaIndex(ctx, "acctidx:username:"+model.CanonicalizeUsername(username), opts)
}

func (s *RedisStore) FindByFacebookID(ctx context.Context, facebookID string, opts FindOptions) (*model.Account, error) {
	return s.findViaIndex(ctx, "acctidx:facebook:"+facebookID, opts)
}

func (s *RedisStore) findViaIndex(ctx context.Context, indexKey string, opts FindOptions) (*model.Account, error) {
	id, err := s.rdb.Get(ctx, indexKey).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return s.getAccount(ctx, accountKey(id), opts)
}

func (s *RedisStore) getAccount(ctx context.Context, key string, opts FindOptions) (*model.Account, error) {
	raw, err := s.rdb.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var acc model.Account
	if err := json.Unmarshal([]byte(raw), &acc); err != nil {
		return nil, err
	}
	out := project(acc, opts)
	return &out, nil
}

func (s *RedisStore) CreateCredential(ctx context.Context, cred model.Credential) error {
	if cred.Value == "" {
		return errCredentialRequired(cred.Type)
	}
	cred.CreatedAt = time.Now().UTC()
	doc, err := json.Marshal(cred)
	if err != nil {
		return err
	}
	ok, err := s.rdb.SetNX(ctx, credKey(cred.Type, cred.Value), doc, 0).Result()
	if err != nil {
		return fmt.Errorf("redis: create credential: %w", err)
	}
	if !ok {
		return errCredentialTaken(cred.Type)
	}
	return nil
}

func (s *RedisStore) RemoveCredential(ctx context.Context, typ model.CredentialType, value, accountID string) error {
	if value == "" {
		return errCredentialRequired(typ)
	}
	res, err := compareAndDelete.Run(ctx, s.rdb, []string{credKey(typ, value)}, accountID).Int()
	if err != nil {
		return fmt.Errorf("redis: remove credential: %w", err)
	}
	if res != 1 {
		return errCredentialNotFound(typ, value)
	}
	return nil
}

func (s *RedisStore) GetCredential(ctx context.Context, typ model.CredentialType, value string) (*model.Credential, error) {
	raw, err := s.rdb.Get(ctx, credKey(typ, value)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var cred model.Credential
	if err := json.Unmarshal([]byte(raw), &cred); err != nil {
		return nil, err
	}
	return &cred, nil
}

// redis.go
package store

import (
	"bytes"
	"context"
	"encoding/gob"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"secret.share/internal/models"
)

var _ Store = (*RedisStore)(nil)

// maxTxRetries bounds optimistic WATCH/EXEC retries.
const maxTxRetries = 5

// RedisStore keeps each record gob-encoded under its own key, with side
// keys for slug and email uniqueness (SETNX), a per-owner sorted set for
// listing, and a per-secret list of access log entries.
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(options *redis.Options) (*RedisStore, error) {
	client := redis.NewClient(options)

	// Verify connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}

	return &RedisStore{client: client}, nil
}

func (r *RedisStore) CreateSecret(ctx context.Context, secret *models.Secret) error {
	data, err := encode(secret)
	if err != nil {
		return err
	}

	if secret.OwnerID != "" {
		n, err := r.client.Exists(ctx, accountKey(secret.OwnerID)).Result()
		if err != nil {
			return err
		}
		if n == 0 {
			return ErrNotFound
		}
	}

	ok, err := r.client.SetNX(ctx, slugKey(secret.Slug), secret.ID, 0).Result()
	if err != nil {
		return err
	}
	if !ok {
		return ErrSlugTaken
	}

	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, secretKey(secret.ID), data, 0)
		if secret.OwnerID != "" {
			pipe.ZAdd(ctx, ownerKey(secret.OwnerID), redis.Z{
				Score:  float64(secret.CreatedAt.UnixNano()),
				Member: secret.ID,
			})
		} else if secret.ExpiresAt != nil {
			// Nobody can list an anonymous secret, so let Redis drop it at expiry.
			pipe.PExpireAt(ctx, secretKey(secret.ID), *secret.ExpiresAt)
			pipe.PExpireAt(ctx, slugKey(secret.Slug), *secret.ExpiresAt)
		}
		return nil
	})
	if err != nil {
		_ = r.client.Del(ctx, slugKey(secret.Slug)).Err()
		return err
	}
	return nil
}

func (r *RedisStore) GetSecretBySlug(ctx context.Context, slug string) (*models.Secret, error) {
	id, err := r.client.Get(ctx, slugKey(slug)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return r.GetSecretByID(ctx, id)
}

func (r *RedisStore) GetSecretByID(ctx context.Context, id string) (*models.Secret, error) {
	data, err := r.client.Get(ctx, secretKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return decode(data)
}

func (r *RedisStore) ListSecrets(ctx context.Context, q models.SecretQuery) ([]models.SecretSummary, int, error) {
	if q.OwnerID == "" {
		return nil, 0, nil
	}
	key := ownerKey(q.OwnerID)

	var (
		page  []*models.Secret
		total int
	)

	if q.Search == "" {
		n, err := r.client.ZCard(ctx, key).Result()
		if err != nil {
			return nil, 0, err
		}
		total = int(n)

		stop := int64(-1)
		if q.Limit > 0 {
			stop = int64(q.Offset + q.Limit - 1)
		}
		ids, err := r.client.ZRevRange(ctx, key, int64(q.Offset), stop).Result()
		if err != nil {
			return nil, 0, err
		}
		page, err = r.loadSecrets(ctx, ids)
		if err != nil {
			return nil, 0, err
		}
	} else {
		ids, err := r.client.ZRevRange(ctx, key, 0, -1).Result()
		if err != nil {
			return nil, 0, err
		}
		all, err := r.loadSecrets(ctx, ids)
		if err != nil {
			return nil, 0, err
		}
		search := strings.ToLower(q.Search)
		var matched []*models.Secret
		for _, s := range all {
			if strings.Contains(strings.ToLower(s.Title), search) {
				matched = append(matched, s)
			}
		}
		total = len(matched)
		page = paginate(matched, q.Offset, q.Limit)
	}

	counts := make([]*redis.IntCmd, len(page))
	if len(page) > 0 {
		_, err := r.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
			for i, s := range page {
				counts[i] = pipe.LLen(ctx, accessKey(s.ID))
			}
			return nil
		})
		if err != nil {
			return nil, 0, err
		}
	}

	out := make([]models.SecretSummary, 0, len(page))
	for i, s := range page {
		out = append(out, models.SecretSummary{Secret: *s, AccessCount: int(counts[i].Val())})
	}
	return out, total, nil
}

func (r *RedisStore) loadSecrets(ctx context.Context, ids []string) ([]*models.Secret, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = secretKey(id)
	}
	vals, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}

	out := make([]*models.Secret, 0, len(vals))
	for _, v := range vals {
		s, ok := v.(string)
		if !ok {
			continue
		}
		secret, err := decode([]byte(s))
		if err != nil {
			return nil, err
		}
		out = append(out, secret)
	}
	return out, nil
}

func (r *RedisStore) UpdateSecret(ctx context.Context, id string, upd models.SecretUpdate) (*models.Secret, error) {
	var updated *models.Secret
	err := r.mutateSecret(ctx, id, func(secret *models.Secret) error {
		if upd.ChangesExpiry() && secret.IsExpired(upd.UpdatedAt) {
			return ErrExpired
		}
		upd.Apply(secret)
		updated = secret
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (r *RedisStore) DeleteSecret(ctx context.Context, id string) error {
	secret, err := r.GetSecretByID(ctx, id)
	if err != nil {
		return err
	}
	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		deleteSecretKeys(ctx, pipe, secret)
		return nil
	})
	return err
}

func (r *RedisStore) ConsumeSecret(ctx context.Context, id string, now time.Time) error {
	return r.mutateSecret(ctx, id, func(secret *models.Secret) error {
		if !secret.IsOneTimeAccess || secret.HasBeenAccessed || secret.IsExpired(now) {
			return ErrAlreadyConsumed
		}
		secret.HasBeenAccessed = true
		secret.UpdatedAt = now
		return nil
	})
}

// mutateSecret applies fn to the stored secret under WATCH and writes it
// back, retrying when a concurrent writer touched the key.
func (r *RedisStore) mutateSecret(ctx context.Context, id string, fn func(*models.Secret) error) error {
	key := secretKey(id)

	txf := func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return ErrNotFound
			}
			return err
		}

		secret, err := decode(data)
		if err != nil {
			return err
		}

		if err := fn(secret); err != nil {
			return err
		}

		newData, err := encode(secret)
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, newData, redis.KeepTTL)
			return nil
		})
		return err
	}

	for i := 0; i < maxTxRetries; i++ {
		err := r.client.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}

	return redis.TxFailedErr
}

func (r *RedisStore) RecordAccess(ctx context.Context, entry *models.AccessLogEntry) error {
	data, err := encodeValue(entry)
	if err != nil {
		return err
	}

	ttl, err := r.client.PTTL(ctx, secretKey(entry.SecretID)).Result()
	if err != nil {
		return err
	}
	// PTTL is -2 when the key is missing.
	if ttl == -2 {
		return ErrNotFound
	}

	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.RPush(ctx, accessKey(entry.SecretID), data)
		if ttl > 0 {
			pipe.PExpire(ctx, accessKey(entry.SecretID), ttl)
		}
		return nil
	})
	return err
}

func (r *RedisStore) CreateAccount(ctx context.Context, account *models.Account) error {
	data, err := encodeValue(account)
	if err != nil {
		return err
	}

	ok, err := r.client.SetNX(ctx, emailKey(account.Email), account.ID, 0).Result()
	if err != nil {
		return err
	}
	if !ok {
		return ErrEmailTaken
	}

	if err := r.client.Set(ctx, accountKey(account.ID), data, 0).Err(); err != nil {
		_ = r.client.Del(ctx, emailKey(account.Email)).Err()
		return err
	}
	return nil
}

func (r *RedisStore) GetAccountByEmail(ctx context.Context, email string) (*models.Account, error) {
	id, err := r.client.Get(ctx, emailKey(email)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return r.GetAccountByID(ctx, id)
}

func (r *RedisStore) GetAccountByID(ctx context.Context, id string) (*models.Account, error) {
	data, err := r.client.Get(ctx, accountKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	var account models.Account
	if err := decodeValue(data, &account); err != nil {
		return nil, err
	}
	return &account, nil
}

func (r *RedisStore) DeleteAccount(ctx context.Context, id string) error {
	account, err := r.GetAccountByID(ctx, id)
	if err != nil {
		return err
	}

	ids, err := r.client.ZRange(ctx, ownerKey(id), 0, -1).Result()
	if err != nil {
		return err
	}
	secrets, err := r.loadSecrets(ctx, ids)
	if err != nil {
		return err
	}

	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, s := range secrets {
			deleteSecretKeys(ctx, pipe, s)
		}
		pipe.Del(ctx, accountKey(id), emailKey(account.Email), ownerKey(id))
		return nil
	})
	return err
}

func (r *RedisStore) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *RedisStore) Close() error {
	return r.client.Close()
}

// Helpers

func deleteSecretKeys(ctx context.Context, pipe redis.Pipeliner, secret *models.Secret) {
	pipe.Del(ctx, secretKey(secret.ID), slugKey(secret.Slug), accessKey(secret.ID))
	if secret.OwnerID != "" {
		pipe.ZRem(ctx, ownerKey(secret.OwnerID), secret.ID)
	}
}

func secretKey(id string) string {
	return "secret:" + id
}

func slugKey(slug string) string {
	return "secret:slug:" + slug
}

func accessKey(id string) string {
	return "secret:" + id + ":accesses"
}

func ownerKey(accountID string) string {
	return "account:" + accountID + ":secrets"
}

func accountKey(id string) string {
	return "account:" + id
}

func emailKey(email string) string {
	return "account:email:" + strings.ToLower(email)
}

func encode(secret *models.Secret) ([]byte, error) {
	return encodeValue(secret)
}

func decode(data []byte) (*models.Secret, error) {
	var secret models.Secret
	if err := decodeValue(data, &secret); err != nil {
		return nil, err
	}
	return &secret, nil
}

func encodeValue(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, fmt.Errorf("gob encode: %w", err)
	}
	return buf.Bytes(), nil
}

func decodeValue(data []byte, v any) error {
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(v); err != nil {
		return fmt.Errorf("gob decode: %w", err)
	}
	return nil
}

package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"secret.share/internal/models"
)

// Compile-time interface check
var _ Store = (*MemoryStore)(nil)

// MemoryStore keeps everything in maps behind one RWMutex. Records are
// copied on the way in and out so callers never share pointers with it.
type MemoryStore struct {
	mu         sync.RWMutex
	secrets    map[string]*models.Secret
	slugs      map[string]string
	accounts   map[string]*models.Account
	emails     map[string]string
	accessLogs map[string][]models.AccessLogEntry
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		secrets:    make(map[string]*models.Secret),
		slugs:      make(map[string]string),
		accounts:   make(map[string]*models.Account),
		emails:     make(map[string]string),
		accessLogs: make(map[string][]models.AccessLogEntry),
	}
}

func (s *MemoryStore) CreateSecret(ctx context.Context, secret *models.Secret) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.slugs[secret.Slug]; ok {
		return ErrSlugTaken
	}
	if secret.OwnerID != "" {
		if _, ok := s.accounts[secret.OwnerID]; !ok {
			return ErrNotFound
		}
	}

	s.secrets[secret.ID] = copySecret(secret)
	s.slugs[secret.Slug] = secret.ID
	return nil
}

func (s *MemoryStore) GetSecretBySlug(ctx context.Context, slug string) (*models.Secret, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.slugs[slug]
	if !ok {
		return nil, ErrNotFound
	}
	return copySecret(s.secrets[id]), nil
}

func (s *MemoryStore) GetSecretByID(ctx context.Context, id string) (*models.Secret, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	secret, ok := s.secrets[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copySecret(secret), nil
}

func (s *MemoryStore) ListSecrets(ctx context.Context, q models.SecretQuery) ([]models.SecretSummary, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	search := strings.ToLower(q.Search)
	var matched []*models.Secret
	for _, secret := range s.secrets {
		if secret.OwnerID != q.OwnerID || q.OwnerID == "" {
			continue
		}
		if search != "" && !strings.Contains(strings.ToLower(secret.Title), search) {
			continue
		}
		matched = append(matched, secret)
	}

	sortNewestFirst(matched)

	total := len(matched)
	page := paginate(matched, q.Offset, q.Limit)

	out := make([]models.SecretSummary, 0, len(page))
	for _, secret := range page {
		out = append(out, models.SecretSummary{
			Secret:      *copySecret(secret),
			AccessCount: len(s.accessLogs[secret.ID]),
		})
	}
	return out, total, nil
}

func (s *MemoryStore) UpdateSecret(ctx context.Context, id string, upd models.SecretUpdate) (*models.Secret, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	secret, ok := s.secrets[id]
	if !ok {
		return nil, ErrNotFound
	}
	if upd.ChangesExpiry() && secret.IsExpired(upd.UpdatedAt) {
		return nil, ErrExpired
	}
	upd.Apply(secret)
	return copySecret(secret), nil
}

func (s *MemoryStore) DeleteSecret(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.deleteSecretLocked(id)
}

func (s *MemoryStore) deleteSecretLocked(id string) error {
	secret, ok := s.secrets[id]
	if !ok {
		return ErrNotFound
	}
	delete(s.slugs, secret.Slug)
	delete(s.accessLogs, id)
	delete(s.secrets, id)
	return nil
}

func (s *MemoryStore) ConsumeSecret(ctx context.Context, id string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	secret, ok := s.secrets[id]
	if !ok {
		return ErrNotFound
	}
	if !secret.IsOneTimeAccess || secret.HasBeenAccessed || secret.IsExpired(now) {
		return ErrAlreadyConsumed
	}

	secret.HasBeenAccessed = true
	secret.UpdatedAt = now
	return nil
}

func (s *MemoryStore) RecordAccess(ctx context.Context, entry *models.AccessLogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.secrets[entry.SecretID]; !ok {
		return ErrNotFound
	}
	s.accessLogs[entry.SecretID] = append(s.accessLogs[entry.SecretID], *entry)
	return nil
}

func (s *MemoryStore) CreateAccount(ctx context.Context, account *models.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := strings.ToLower(account.Email)
	if _, ok := s.emails[key]; ok {
		return ErrEmailTaken
	}

	a := *account
	s.accounts[account.ID] = &a
	s.emails[key] = account.ID
	return nil
}

func (s *MemoryStore) GetAccountByEmail(ctx context.Context, email string) (*models.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.emails[strings.ToLower(email)]
	if !ok {
		return nil, ErrNotFound
	}
	a := *s.accounts[id]
	return &a, nil
}

func (s *MemoryStore) GetAccountByID(ctx context.Context, id string) (*models.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	account, ok := s.accounts[id]
	if !ok {
		return nil, ErrNotFound
	}
	a := *account
	return &a, nil
}

func (s *MemoryStore) DeleteAccount(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	account, ok := s.accounts[id]
	if !ok {
		return ErrNotFound
	}
	for sid, secret := range s.secrets {
		if secret.OwnerID == id {
			_ = s.deleteSecretLocked(sid)
		}
	}
	delete(s.emails, strings.ToLower(account.Email))
	delete(s.accounts, id)
	return nil
}

func (s *MemoryStore) Ping(ctx context.Context) error {
	return nil
}

func (s *MemoryStore) Close() error {
	return nil
}

// Helpers

func copySecret(s *models.Secret) *models.Secret {
	c := *s
	if s.ExpiresAt != nil {
		t := *s.ExpiresAt
		c.ExpiresAt = &t
	}
	return &c
}

func sortNewestFirst(secrets []*models.Secret) {
	sort.SliceStable(secrets, func(i, j int) bool {
		if secrets[i].CreatedAt.Equal(secrets[j].CreatedAt) {
			return secrets[i].ID > secrets[j].ID
		}
		return secrets[i].CreatedAt.After(secrets[j].CreatedAt)
	})
}

func paginate[T any](items []T, offset, limit int) []T {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(items) {
		return nil
	}
	end := len(items)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return items[offset:end]
}

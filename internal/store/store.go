// Package store is the persistence collaborator: a single Store contract
// with in-memory, Redis and PostgreSQL implementations.
package store

import (
	"context"
	"errors"
	"time"

	"secret.share/internal/models"
)

var (
	ErrNotFound        = errors.New("not found")
	ErrSlugTaken       = errors.New("slug already exists")
	ErrEmailTaken      = errors.New("email already exists")
	ErrAlreadyConsumed = errors.New("secret already consumed")
	ErrExpired         = errors.New("secret has expired")
)

type Store interface {
	CreateSecret(ctx context.Context, secret *models.Secret) error
	GetSecretBySlug(ctx context.Context, slug string) (*models.Secret, error)
	GetSecretByID(ctx context.Context, id string) (*models.Secret, error)
	ListSecrets(ctx context.Context, q models.SecretQuery) ([]models.SecretSummary, int, error)

	// UpdateSecret applies upd. Changing the expiry of a secret already
	// expired at upd.UpdatedAt fails with ErrExpired.
	UpdateSecret(ctx context.Context, id string, upd models.SecretUpdate) (*models.Secret, error)
	DeleteSecret(ctx context.Context, id string) error

	// ConsumeSecret flips HasBeenAccessed false->true for a live one-time
	// secret. It is the gate for one-time disclosure: exactly one caller
	// succeeds, every other gets ErrAlreadyConsumed (or ErrNotFound).
	ConsumeSecret(ctx context.Context, id string, now time.Time) error

	RecordAccess(ctx context.Context, entry *models.AccessLogEntry) error

	CreateAccount(ctx context.Context, account *models.Account) error
	GetAccountByEmail(ctx context.Context, email string) (*models.Account, error)
	GetAccountByID(ctx context.Context, id string) (*models.Account, error)
	DeleteAccount(ctx context.Context, id string) error

	Ping(ctx context.Context) error
	Close() error
}

// Package services holds the server-side business logic: the secret
// lifecycle, the access log recorder and account management. Services take a
// models.CallerContext instead of transport objects.
package services

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"secret.share/internal/common"
	"secret.share/internal/crypto"
	"secret.share/internal/logging"
	"secret.share/internal/models"
	"secret.share/internal/ratelimit"
	"secret.share/internal/store"
)

// maxSlugAttempts bounds slug regeneration on unique-constraint collisions.
const maxSlugAttempts = 5

var errSlugSpaceExhausted = errors.New("could not allocate a unique slug")

// SecretOptions are the tunable limits of SecretService.
type SecretOptions struct {
	MaxContentBytes int
	MaxTitleLength  int
	SlugBytes       int
	DefaultPageSize int
	MaxPageSize     int
}

func DefaultSecretOptions() SecretOptions {
	return SecretOptions{
		MaxContentBytes: 64 * 1024,
		MaxTitleLength:  200,
		SlugBytes:       crypto.DefaultSlugBytes,
		DefaultPageSize: 10,
		MaxPageSize:     100,
	}
}

// CreateSecretInput is what a caller supplies to create a secret. An empty
// Password means the secret is not password-protected.
type CreateSecretInput struct {
	Title           string
	Content         string
	Password        string
	ExpiresAt       *time.Time
	IsOneTimeAccess bool
}

// UpdateSecretInput carries the owner-editable fields. Nil means unchanged.
type UpdateSecretInput struct {
	Title          *string
	ExpiresAt      *time.Time
	ClearExpiresAt bool
}

// ListSecretsInput selects a page of the caller's secrets. Page is 1-based.
type ListSecretsInput struct {
	Page     int
	PageSize int
	Search   string
}

// SecretService drives a secret through create, probe, disclose, edit and
// delete. Expired, consumed and absent secrets are all reported as
// common.ErrSecretNotFound to non-owners.
type SecretService struct {
	store    store.Store
	limiter  *ratelimit.Limiter
	hasher   *crypto.Hasher
	recorder *AccessLogRecorder
	log      logging.Logger
	opts     SecretOptions

	now     func() time.Time
	newSlug func(n int) (string, error)
}

// NewSecretService wires the lifecycle engine. A nil limiter admits
// everything.
func NewSecretService(st store.Store, limiter *ratelimit.Limiter, hasher *crypto.Hasher, log logging.Logger, opts SecretOptions) *SecretService {
	def := DefaultSecretOptions()
	if opts.MaxContentBytes <= 0 {
		opts.MaxContentBytes = def.MaxContentBytes
	}
	if opts.MaxTitleLength <= 0 {
		opts.MaxTitleLength = def.MaxTitleLength
	}
	if opts.SlugBytes <= 0 {
		opts.SlugBytes = def.SlugBytes
	}
	if opts.DefaultPageSize <= 0 {
		opts.DefaultPageSize = def.DefaultPageSize
	}
	if opts.MaxPageSize < opts.DefaultPageSize {
		opts.MaxPageSize = max(def.MaxPageSize, opts.DefaultPageSize)
	}
	if log == nil {
		log = logging.Nop()
	}

	return &SecretService{
		store:    st,
		limiter:  limiter,
		hasher:   hasher,
		recorder: NewAccessLogRecorder(st, log),
		log:      log,
		opts:     opts,
		now:      time.Now,
		newSlug:  crypto.GenerateSlug,
	}
}

// Create admits the caller under the creation class, validates the input and
// persists a new secret under a fresh slug.
func (s *SecretService) Create(ctx context.Context, caller models.CallerContext, in CreateSecretInput) (*models.SecretCreated, error) {
	if err := s.limiter.Allow(ratelimit.ClassCreation, caller.Address); err != nil {
		return nil, err
	}

	now := s.now()
	title := strings.TrimSpace(in.Title)

	if strings.TrimSpace(in.Content) == "" {
		return nil, common.Invalid("content is required")
	}
	if len(in.Content) > s.opts.MaxContentBytes {
		return nil, common.Invalid("content exceeds %d bytes", s.opts.MaxContentBytes)
	}
	if err := s.validateTitle(title); err != nil {
		return nil, err
	}
	if in.ExpiresAt != nil && !in.ExpiresAt.After(now) {
		return nil, common.Invalid("expiresAt must be in the future")
	}
	if len(in.Password) > crypto.MaxPasswordBytes {
		return nil, common.Invalid("password must be at most %d bytes", crypto.MaxPasswordBytes)
	}

	var hash string
	if in.Password != "" {
		h, err := s.hasher.Hash(in.Password)
		if err != nil {
			return nil, fmt.Errorf("create secret: %w", err)
		}
		hash = h
	}

	secret := &models.Secret{
		ID:              uuid.NewString(),
		Title:           title,
		Content:         in.Content,
		PasswordHash:    hash,
		ExpiresAt:       utcPtr(in.ExpiresAt),
		IsOneTimeAccess: in.IsOneTimeAccess,
		OwnerID:         caller.AccountID,
		CreatedAt:       now.UTC(),
		UpdatedAt:       now.UTC(),
	}

	for attempt := 0; attempt < maxSlugAttempts; attempt++ {
		slug, err := s.newSlug(s.opts.SlugBytes)
		if err != nil {
			return nil, fmt.Errorf("create secret: %w", err)
		}
		secret.Slug = slug

		err = s.store.CreateSecret(ctx, secret)
		switch {
		case err == nil:
			s.log.Info(ctx, "secret created",
				"secret_id", secret.ID,
				"one_time", secret.IsOneTimeAccess,
				"password", secret.HasPassword(),
				"anonymous", secret.OwnerID == "",
			)
			created := secret.Created()
			return &created, nil
		case errors.Is(err, store.ErrSlugTaken):
			s.log.Warn(ctx, "slug collision, regenerating", "attempt", attempt+1)
			continue
		case errors.Is(err, store.ErrNotFound):
			// The token outlived its account.
			return nil, common.ErrAccountNotFound
		default:
			return nil, fmt.Errorf("create secret: %w", err)
		}
	}
	return nil, fmt.Errorf("create secret: %w", errSlugSpaceExhausted)
}

// CheckRequirements reports what a viewer must supply to disclose slug.
// It does not count against the disclosure class.
func (s *SecretService) CheckRequirements(ctx context.Context, slug string) (*models.SecretRequirements, error) {
	secret, err := s.disclosable(ctx, slug, s.now())
	if err != nil {
		return nil, err
	}
	req := secret.Requirements()
	return &req, nil
}

// Disclose returns the content of slug after the expiry, one-time and
// password gates pass. For one-time secrets the store's conditional consume
// is the gate: of concurrent callers exactly one receives the content.
func (s *SecretService) Disclose(ctx context.Context, caller models.CallerContext, slug, password string) (*models.SecretContent, error) {
	if err := s.limiter.Allow(ratelimit.ClassDisclosure, caller.Address); err != nil {
		return nil, err
	}

	secret, err := s.disclosable(ctx, slug, s.now())
	if err != nil {
		return nil, err
	}

	if secret.HasPassword() {
		if password == "" {
			return nil, common.ErrPasswordRequired
		}
		ok, err := s.hasher.Verify(password, secret.PasswordHash)
		if err != nil {
			return nil, fmt.Errorf("disclose secret: %w", err)
		}
		if !ok {
			s.log.Info(ctx, "secret password rejected", "secret_id", secret.ID)
			return nil, common.ErrInvalidPassword
		}
	}

	if secret.IsOneTimeAccess {
		if err := s.store.ConsumeSecret(ctx, secret.ID, s.now()); err != nil {
			if errors.Is(err, store.ErrAlreadyConsumed) || errors.Is(err, store.ErrNotFound) {
				return nil, common.ErrSecretNotFound
			}
			return nil, fmt.Errorf("disclose secret: %w", err)
		}
	}

	s.recorder.Record(ctx, secret.ID, caller)

	s.log.Info(ctx, "secret disclosed", "secret_id", secret.ID, "one_time", secret.IsOneTimeAccess)
	content := secret.Disclosed()
	return &content, nil
}

// List returns a page of the caller's secrets, newest first.
func (s *SecretService) List(ctx context.Context, caller models.CallerContext, in ListSecretsInput) (*models.SecretPage, error) {
	if !caller.Authenticated() {
		return nil, common.ErrAuthRequired
	}

	page := in.Page
	if page < 1 {
		page = 1
	}
	size := in.PageSize
	if size <= 0 {
		size = s.opts.DefaultPageSize
	}
	if size > s.opts.MaxPageSize {
		size = s.opts.MaxPageSize
	}
	// Keep (page-1)*size from overflowing.
	if maxPage := math.MaxInt / size; page > maxPage {
		page = maxPage
	}

	rows, total, err := s.store.ListSecrets(ctx, models.SecretQuery{
		OwnerID: caller.AccountID,
		Search:  strings.TrimSpace(in.Search),
		Limit:   size,
		Offset:  (page - 1) * size,
	})
	if err != nil {
		return nil, fmt.Errorf("list secrets: %w", err)
	}

	now := s.now()
	items := make([]models.SecretListItem, 0, len(rows))
	for i := range rows {
		items = append(items, rows[i].ListItem(now))
	}

	return &models.SecretPage{
		Secrets:  items,
		Total:    total,
		Page:     page,
		PageSize: size,
		Pages:    (total + size - 1) / size,
	}, nil
}

// Update edits the title and expiry of a secret the caller owns.
func (s *SecretService) Update(ctx context.Context, caller models.CallerContext, id string, in UpdateSecretInput) (*models.SecretUpdated, error) {
	current, err := s.owned(ctx, caller, id)
	if err != nil {
		return nil, err
	}

	now := s.now()
	upd := models.SecretUpdate{ClearExpires: in.ClearExpiresAt, UpdatedAt: now.UTC()}

	// Expiry is terminal. The title of an expired secret can still change.
	if (in.ExpiresAt != nil || in.ClearExpiresAt) && current.IsExpired(now) {
		return nil, common.ErrSecretExpired
	}

	if in.Title != nil {
		title := strings.TrimSpace(*in.Title)
		if err := s.validateTitle(title); err != nil {
			return nil, err
		}
		upd.Title = &title
	}
	if in.ExpiresAt != nil && !in.ClearExpiresAt {
		if !in.ExpiresAt.After(now) {
			return nil, common.Invalid("expiresAt must be in the future")
		}
		upd.ExpiresAt = utcPtr(in.ExpiresAt)
	}
	if upd.Title == nil && upd.ExpiresAt == nil && !upd.ClearExpires {
		return nil, common.Invalid("nothing to update")
	}

	secret, err := s.store.UpdateSecret(ctx, id, upd)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrNotFound):
			return nil, common.ErrSecretNotFound
		case errors.Is(err, store.ErrExpired):
			return nil, common.ErrSecretExpired
		}
		return nil, fmt.Errorf("update secret: %w", err)
	}

	s.log.Info(ctx, "secret updated", "secret_id", id)
	out := secret.Updated()
	return &out, nil
}

// Delete removes a secret the caller owns together with its access log.
func (s *SecretService) Delete(ctx context.Context, caller models.CallerContext, id string) error {
	if _, err := s.owned(ctx, caller, id); err != nil {
		return err
	}

	if err := s.store.DeleteSecret(ctx, id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return common.ErrSecretNotFound
		}
		return fmt.Errorf("delete secret: %w", err)
	}

	s.log.Info(ctx, "secret deleted", "secret_id", id)
	return nil
}

// disclosable loads slug and collapses absent, expired and consumed into
// common.ErrSecretNotFound.
func (s *SecretService) disclosable(ctx context.Context, slug string, now time.Time) (*models.Secret, error) {
	if slug == "" {
		return nil, common.ErrSecretNotFound
	}
	secret, err := s.store.GetSecretBySlug(ctx, slug)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, common.ErrSecretNotFound
		}
		return nil, fmt.Errorf("load secret: %w", err)
	}
	if !secret.Disclosable(now) {
		return nil, common.ErrSecretNotFound
	}
	return secret, nil
}

func (s *SecretService) owned(ctx context.Context, caller models.CallerContext, id string) (*models.Secret, error) {
	if !caller.Authenticated() {
		return nil, common.ErrAuthRequired
	}
	// Secret ids are UUIDs; anything else cannot exist.
	if _, err := uuid.Parse(id); err != nil {
		return nil, common.ErrSecretNotFound
	}
	secret, err := s.store.GetSecretByID(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, common.ErrSecretNotFound
		}
		return nil, fmt.Errorf("load secret: %w", err)
	}
	if secret.OwnerID != caller.AccountID {
		return nil, common.ErrNotOwner
	}
	return secret, nil
}

func (s *SecretService) validateTitle(title string) error {
	if utf8.RuneCountInString(title) > s.opts.MaxTitleLength {
		return common.Invalid("title exceeds %d characters", s.opts.MaxTitleLength)
	}
	return nil
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}

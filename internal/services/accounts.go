package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"secret.share/internal/auth"
	"secret.share/internal/common"
	"secret.share/internal/crypto"
	"secret.share/internal/logging"
	"secret.share/internal/models"
	"secret.share/internal/ratelimit"
	"secret.share/internal/store"
)

const (
	minPasswordLength = 8
	maxNameLength     = 100
	maxEmailLength    = 254
)

type RegisterInput struct {
	Name     string
	Email    string
	Password string
}

// AccountService handles registration, login and the authenticated
// account's own record.
type AccountService struct {
	store   store.Store
	limiter *ratelimit.Limiter
	hasher  *crypto.Hasher
	tokens  *auth.Issuer
	log     logging.Logger
	now     func() time.Time

	dummyOnce sync.Once
	dummyHash string
}

func NewAccountService(st store.Store, limiter *ratelimit.Limiter, hasher *crypto.Hasher, tokens *auth.Issuer, log logging.Logger) *AccountService {
	if log == nil {
		log = logging.Nop()
	}
	return &AccountService{
		store:   st,
		limiter: limiter,
		hasher:  hasher,
		tokens:  tokens,
		log:     log,
		now:     time.Now,
	}
}

// Register creates an account and returns it with a fresh token. Emails are
// compared case-insensitively.
func (s *AccountService) Register(ctx context.Context, caller models.CallerContext, in RegisterInput) (*models.AuthResult, error) {
	if err := s.limiter.Allow(ratelimit.ClassAuth, caller.Address); err != nil {
		return nil, err
	}

	name := strings.TrimSpace(in.Name)
	email := normalizeEmail(in.Email)

	if err := validateEmail(email); err != nil {
		return nil, err
	}
	if utf8.RuneCountInString(name) > maxNameLength {
		return nil, common.Invalid("name exceeds %d characters", maxNameLength)
	}
	if len(in.Password) < minPasswordLength {
		return nil, common.Invalid("password must be at least %d characters", minPasswordLength)
	}
	if len(in.Password) > crypto.MaxPasswordBytes {
		return nil, common.Invalid("password must be at most %d bytes", crypto.MaxPasswordBytes)
	}

	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return nil, fmt.Errorf("register: %w", err)
	}

	now := s.now().UTC()
	account := &models.Account{
		ID:           uuid.NewString(),
		Email:        email,
		Name:         name,
		PasswordHash: hash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.store.CreateAccount(ctx, account); err != nil {
		if errors.Is(err, store.ErrEmailTaken) {
			return nil, common.ErrEmailTaken
		}
		return nil, fmt.Errorf("register: %w", err)
	}

	s.log.Info(ctx, "account registered", "account_id", account.ID)
	return s.authResult(account)
}

// Login checks email and password. Unknown email and wrong password produce
// the same error, and an unknown email still pays for one bcrypt compare.
func (s *AccountService) Login(ctx context.Context, caller models.CallerContext, email, password string) (*models.AuthResult, error) {
	if err := s.limiter.Allow(ratelimit.ClassAuth, caller.Address); err != nil {
		return nil, err
	}

	account, err := s.store.GetAccountByEmail(ctx, normalizeEmail(email))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			_, _ = s.hasher.Verify(password, s.dummy())
			return nil, common.ErrInvalidCredentials
		}
		return nil, fmt.Errorf("login: %w", err)
	}

	ok, err := s.hasher.Verify(password, account.PasswordHash)
	if err != nil {
		return nil, fmt.Errorf("login: %w", err)
	}
	if !ok {
		s.log.Info(ctx, "login rejected", "account_id", account.ID)
		return nil, common.ErrInvalidCredentials
	}

	s.log.Info(ctx, "login succeeded", "account_id", account.ID)
	return s.authResult(account)
}

// Me returns the caller's account.
func (s *AccountService) Me(ctx context.Context, caller models.CallerContext) (*models.AccountView, error) {
	if !caller.Authenticated() {
		return nil, common.ErrAuthRequired
	}
	account, err := s.store.GetAccountByID(ctx, caller.AccountID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, common.ErrAccountNotFound
		}
		return nil, fmt.Errorf("load account: %w", err)
	}
	view := account.View()
	return &view, nil
}

// DeleteAccount removes the caller's account, its secrets and their logs.
func (s *AccountService) DeleteAccount(ctx context.Context, caller models.CallerContext) error {
	if !caller.Authenticated() {
		return common.ErrAuthRequired
	}
	if err := s.store.DeleteAccount(ctx, caller.AccountID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return common.ErrAccountNotFound
		}
		return fmt.Errorf("delete account: %w", err)
	}
	s.log.Info(ctx, "account deleted", "account_id", caller.AccountID)
	return nil
}

func (s *AccountService) authResult(account *models.Account) (*models.AuthResult, error) {
	token, err := s.tokens.Issue(account.ID, account.Email)
	if err != nil {
		return nil, fmt.Errorf("issue token: %w", err)
	}
	return &models.AuthResult{User: account.View(), Token: token}, nil
}

// dummy returns a hash of a random value at the configured cost, computed
// once on first use.
func (s *AccountService) dummy() string {
	s.dummyOnce.Do(func() {
		h, err := s.hasher.Hash(uuid.NewString())
		if err == nil {
			s.dummyHash = h
		}
	})
	return s.dummyHash
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func validateEmail(email string) error {
	if email == "" {
		return common.Invalid("email is required")
	}
	if len(email) > maxEmailLength {
		return common.Invalid("email is too long")
	}
	at := strings.LastIndex(email, "@")
	if at <= 0 || at == len(email)-1 || strings.ContainsAny(email, " \t\r\n") {
		return common.Invalid("email is invalid")
	}
	return nil
}

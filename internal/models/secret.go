package models

import "time"

// Secret is a stored piece of text shared through its Slug.
type Secret struct {
	ID              string
	Slug            string
	Title           string
	Content         string
	PasswordHash    string // empty when not password-protected
	ExpiresAt       *time.Time
	IsOneTimeAccess bool
	HasBeenAccessed bool
	OwnerID         string // empty for anonymous secrets
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Status is derived from a secret's attributes, never stored.
type Status string

const (
	StatusLive     Status = "live"
	StatusExpired  Status = "expired"
	StatusConsumed Status = "consumed"
)

// IsExpired reports whether the secret's expiry is at or before now.
func (s *Secret) IsExpired(now time.Time) bool {
	return s.ExpiresAt != nil && !now.Before(*s.ExpiresAt)
}

// IsConsumed reports whether a one-time secret was already disclosed.
func (s *Secret) IsConsumed() bool {
	return s.IsOneTimeAccess && s.HasBeenAccessed
}

// HasPassword reports whether disclosure requires a password.
func (s *Secret) HasPassword() bool {
	return s.PasswordHash != ""
}

// StatusAt derives the secret's state at now. Expiry wins over consumption.
func (s *Secret) StatusAt(now time.Time) Status {
	switch {
	case s.IsExpired(now):
		return StatusExpired
	case s.IsConsumed():
		return StatusConsumed
	default:
		return StatusLive
	}
}

// Disclosable reports whether the secret may still be disclosed at now.
func (s *Secret) Disclosable(now time.Time) bool {
	return s.StatusAt(now) == StatusLive
}

// SecretSummary is one row of an owner's listing.
type SecretSummary struct {
	Secret
	AccessCount int
}

// SecretQuery selects a page of an owner's secrets, newest first.
type SecretQuery struct {
	OwnerID string
	Search  string // case-insensitive title substring, optional
	Limit   int
	Offset  int
}

// SecretUpdate carries the mutable fields of a secret. Nil means unchanged.
type SecretUpdate struct {
	Title        *string
	ExpiresAt    *time.Time
	ClearExpires bool
	UpdatedAt    time.Time
}

// ChangesExpiry reports whether u sets or clears the expiry.
func (u SecretUpdate) ChangesExpiry() bool {
	return u.ClearExpires || u.ExpiresAt != nil
}

// Apply mutates s according to u.
func (u SecretUpdate) Apply(s *Secret) {
	if u.Title != nil {
		s.Title = *u.Title
	}
	if u.ClearExpires {
		s.ExpiresAt = nil
	} else if u.ExpiresAt != nil {
		t := *u.ExpiresAt
		s.ExpiresAt = &t
	}
	s.UpdatedAt = u.UpdatedAt
}

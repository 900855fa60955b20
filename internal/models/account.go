package models

import "time"

type Account struct {
	ID           string
	Email        string
	Name         string
	PasswordHash string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// AccessLogEntry records one successful disclosure. Write-only.
type AccessLogEntry struct {
	ID            string
	SecretID      string
	ClientAddress string
	ClientAgent   string
	AccessedAt    time.Time
}

// CallerContext is the transport-independent view of who is calling.
type CallerContext struct {
	Address   string
	UserAgent string
	AccountID string // empty when anonymous
	Email     string
}

// Authenticated reports whether the caller presented a valid identity.
func (c CallerContext) Authenticated() bool {
	return c.AccountID != ""
}

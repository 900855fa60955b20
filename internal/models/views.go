package models

import "time"

// Caller-facing projections. None of them carries a password hash, and only
// SecretContent carries the content.

type SecretCreated struct {
	ID              string     `json:"id"`
	Slug            string     `json:"slug"`
	Title           string     `json:"title"`
	ExpiresAt       *time.Time `json:"expiresAt"`
	IsOneTimeAccess bool       `json:"isOneTimeAccess"`
	CreatedAt       time.Time  `json:"createdAt"`
}

type SecretRequirements struct {
	ID               string     `json:"id"`
	Title            string     `json:"title"`
	RequiresPassword bool       `json:"requiresPassword"`
	ExpiresAt        *time.Time `json:"expiresAt"`
	IsOneTimeAccess  bool       `json:"isOneTimeAccess"`
	CreatedAt        time.Time  `json:"createdAt"`
}

type SecretContent struct {
	ID              string     `json:"id"`
	Title           string     `json:"title"`
	Content         string     `json:"content"`
	ExpiresAt       *time.Time `json:"expiresAt"`
	IsOneTimeAccess bool       `json:"isOneTimeAccess"`
	CreatedAt       time.Time  `json:"createdAt"`
}

// SecretListItem is one row of an owner's dashboard.
type SecretListItem struct {
	ID              string     `json:"id"`
	Slug            string     `json:"slug"`
	Title           string     `json:"title"`
	ExpiresAt       *time.Time `json:"expiresAt"`
	IsOneTimeAccess bool       `json:"isOneTimeAccess"`
	HasBeenAccessed bool       `json:"hasBeenAccessed"`
	HasPassword     bool       `json:"hasPassword"`
	AccessCount     int        `json:"accessCount"`
	Status          Status     `json:"status"`
	CreatedAt       time.Time  `json:"createdAt"`
	UpdatedAt       time.Time  `json:"updatedAt"`
}

type SecretPage struct {
	Secrets  []SecretListItem `json:"secrets"`
	Total    int              `json:"total"`
	Page     int              `json:"page"`
	PageSize int              `json:"pageSize"`
	Pages    int              `json:"pages"`
}

type SecretUpdated struct {
	ID        string     `json:"id"`
	Title     string     `json:"title"`
	ExpiresAt *time.Time `json:"expiresAt"`
	UpdatedAt time.Time  `json:"updatedAt"`
}

type AccountView struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"createdAt"`
}

// AuthResult is returned by register and login.
type AuthResult struct {
	User  AccountView `json:"user"`
	Token string      `json:"token"`
}

func (s *Secret) Created() SecretCreated {
	return SecretCreated{
		ID:              s.ID,
		Slug:            s.Slug,
		Title:           s.Title,
		ExpiresAt:       s.ExpiresAt,
		IsOneTimeAccess: s.IsOneTimeAccess,
		CreatedAt:       s.CreatedAt,
	}
}

func (s *Secret) Requirements() SecretRequirements {
	return SecretRequirements{
		ID:               s.ID,
		Title:            s.Title,
		RequiresPassword: s.HasPassword(),
		ExpiresAt:        s.ExpiresAt,
		IsOneTimeAccess:  s.IsOneTimeAccess,
		CreatedAt:        s.CreatedAt,
	}
}

func (s *Secret) Disclosed() SecretContent {
	return SecretContent{
		ID:              s.ID,
		Title:           s.Title,
		Content:         s.Content,
		ExpiresAt:       s.ExpiresAt,
		IsOneTimeAccess: s.IsOneTimeAccess,
		CreatedAt:       s.CreatedAt,
	}
}

func (s *Secret) Updated() SecretUpdated {
	return SecretUpdated{
		ID:        s.ID,
		Title:     s.Title,
		ExpiresAt: s.ExpiresAt,
		UpdatedAt: s.UpdatedAt,
	}
}

// ListItem projects a summary row with its status at now.
func (s *SecretSummary) ListItem(now time.Time) SecretListItem {
	return SecretListItem{
		ID:              s.ID,
		Slug:            s.Slug,
		Title:           s.Title,
		ExpiresAt:       s.ExpiresAt,
		IsOneTimeAccess: s.IsOneTimeAccess,
		HasBeenAccessed: s.HasBeenAccessed,
		HasPassword:     s.HasPassword(),
		AccessCount:     s.AccessCount,
		Status:          s.StatusAt(now),
		CreatedAt:       s.CreatedAt,
		UpdatedAt:       s.UpdatedAt,
	}
}

func (a *Account) View() AccountView {
	return AccountView{
		ID:        a.ID,
		Name:      a.Name,
		Email:     a.Email,
		CreatedAt: a.CreatedAt,
	}
}

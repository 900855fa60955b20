package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"secret.share/internal/models"
	"secret.share/internal/store/migrations"
)

var _ Store = (*PostgresStore)(nil)

const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
	// Raised when an id is not a valid UUID literal.
	pgInvalidTextRepresentation = "22P02"
)

const secretColumns = `id, slug, title, content, password_hash, expires_at,
	is_one_time_access, has_been_accessed, owner_id, created_at, updated_at`

// PostgresStore implements Store over database/sql with the pgx driver.
// Every operation is a single statement; cascades are enforced by the schema.
type PostgresStore struct {
	db *sql.DB
}

// gooseUpContext is a seam for testing goose.UpContext.
var gooseUpContext = func(ctx context.Context, db *sql.DB, dir string, opts ...goose.OptionsFunc) error {
	return goose.UpContext(ctx, db, dir, opts...)
}

// NewPostgresStore opens dsn, verifies the connection and applies migrations.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("db open error: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("db ping error: %w", err)
	}

	s := NewPostgresStoreFromDB(db)
	if err := s.RunMigrations(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migration error: %w", err)
	}
	return s, nil
}

// NewPostgresStoreFromDB wraps an already opened database.
func NewPostgresStoreFromDB(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// RunMigrations applies the embedded goose migrations.
func (p *PostgresStore) RunMigrations(ctx context.Context) error {
	goose.SetBaseFS(migrations.Migrations)
	if err := goose.SetDialect("pgx"); err != nil {
		return err
	}
	return gooseUpContext(ctx, p.db, ".")
}

func (p *PostgresStore) CreateSecret(ctx context.Context, secret *models.Secret) error {
	query := `
		INSERT INTO secrets (` + secretColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`
	_, err := p.db.ExecContext(ctx, query,
		secret.ID, secret.Slug, secret.Title, secret.Content,
		nullString(secret.PasswordHash), nullTime(secret.ExpiresAt),
		secret.IsOneTimeAccess, secret.HasBeenAccessed, nullString(secret.OwnerID),
		secret.CreatedAt, secret.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			switch pgErr.Code {
			case pgUniqueViolation:
				return ErrSlugTaken
			case pgForeignKeyViolation:
				return ErrNotFound
			}
		}
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (p *PostgresStore) GetSecretBySlug(ctx context.Context, slug string) (*models.Secret, error) {
	query := `SELECT ` + secretColumns + ` FROM secrets WHERE slug = $1`
	return scanSecret(p.db.QueryRowContext(ctx, query, slug))
}

func (p *PostgresStore) GetSecretByID(ctx context.Context, id string) (*models.Secret, error) {
	query := `SELECT ` + secretColumns + ` FROM secrets WHERE id = $1`
	return scanSecret(p.db.QueryRowContext(ctx, query, id))
}

func (p *PostgresStore) ListSecrets(ctx context.Context, q models.SecretQuery) ([]models.SecretSummary, int, error) {
	search := escapeLike(q.Search)

	countQuery := `
		SELECT COUNT(*) FROM secrets
		WHERE owner_id = $1 AND ($2 = '' OR title ILIKE '%' || $2 || '%')
	`
	var total int
	if err := p.db.QueryRowContext(ctx, countQuery, q.OwnerID, search).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count secrets: %w", err)
	}

	var limit any
	if q.Limit > 0 {
		limit = q.Limit
	}

	query := `
		SELECT ` + secretColumns + `,
			(SELECT COUNT(*) FROM access_logs l WHERE l.secret_id = secrets.id) AS access_count
		FROM secrets
		WHERE owner_id = $1 AND ($2 = '' OR title ILIKE '%' || $2 || '%')
		ORDER BY created_at DESC, id DESC
		LIMIT $3 OFFSET $4
	`
	rows, err := p.db.QueryContext(ctx, query, q.OwnerID, search, limit, q.Offset)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to select secrets: %w", err)
	}
	defer rows.Close()

	var result []models.SecretSummary
	for rows.Next() {
		var (
			item   models.SecretSummary
			fields secretFields
		)
		dest := append(fields.dest(&item.Secret), &item.AccessCount)
		if err := rows.Scan(dest...); err != nil {
			return nil, 0, err
		}
		fields.apply(&item.Secret)
		result = append(result, item)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return result, total, nil
}

func (p *PostgresStore) UpdateSecret(ctx context.Context, id string, upd models.SecretUpdate) (*models.Secret, error) {
	query := `
		UPDATE secrets SET
			title = COALESCE($2, title),
			expires_at = CASE WHEN $3 THEN NULL ELSE COALESCE($4, expires_at) END,
			updated_at = $5
		WHERE id = $1
			AND NOT ($6 AND expires_at IS NOT NULL AND expires_at <= $5)
		RETURNING ` + secretColumns

	var title any
	if upd.Title != nil {
		title = *upd.Title
	}
	secret, err := scanSecret(p.db.QueryRowContext(ctx, query,
		id, title, upd.ClearExpires, nullTime(upd.ExpiresAt), upd.UpdatedAt, upd.ChangesExpiry()))
	if errors.Is(err, ErrNotFound) && upd.ChangesExpiry() {
		return nil, p.expiredOrMissing(ctx, id)
	}
	return secret, err
}

// expiredOrMissing tells apart the two reasons an expiry change matched no row.
func (p *PostgresStore) expiredOrMissing(ctx context.Context, id string) error {
	var exists bool
	err := p.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM secrets WHERE id = $1)`, id).Scan(&exists)
	switch {
	case err != nil:
		if isInvalidID(err) {
			return ErrNotFound
		}
		return fmt.Errorf("db error: %w", err)
	case exists:
		return ErrExpired
	default:
		return ErrNotFound
	}
}

func (p *PostgresStore) DeleteSecret(ctx context.Context, id string) error {
	return p.execOne(ctx, ErrNotFound, `DELETE FROM secrets WHERE id = $1`, id)
}

func (p *PostgresStore) ConsumeSecret(ctx context.Context, id string, now time.Time) error {
	query := `
		UPDATE secrets SET has_been_accessed = true, updated_at = $2
		WHERE id = $1
			AND is_one_time_access
			AND NOT has_been_accessed
			AND (expires_at IS NULL OR expires_at > $2)
	`
	return p.execOne(ctx, ErrAlreadyConsumed, query, id, now)
}

func (p *PostgresStore) RecordAccess(ctx context.Context, entry *models.AccessLogEntry) error {
	query := `
		INSERT INTO access_logs (id, secret_id, client_address, client_agent, accessed_at)
		VALUES ($1, $2, $3, $4, $5)
	`
	_, err := p.db.ExecContext(ctx, query,
		entry.ID, entry.SecretID, nullString(entry.ClientAddress), nullString(entry.ClientAgent), entry.AccessedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgForeignKeyViolation {
			return ErrNotFound
		}
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (p *PostgresStore) CreateAccount(ctx context.Context, account *models.Account) error {
	query := `
		INSERT INTO accounts (id, email, name, password_hash, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err := p.db.ExecContext(ctx, query,
		account.ID, account.Email, account.Name, account.PasswordHash, account.CreatedAt, account.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return ErrEmailTaken
		}
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (p *PostgresStore) GetAccountByEmail(ctx context.Context, email string) (*models.Account, error) {
	query := `SELECT id, email, name, password_hash, created_at, updated_at FROM accounts WHERE email = $1`
	return scanAccount(p.db.QueryRowContext(ctx, query, email))
}

func (p *PostgresStore) GetAccountByID(ctx context.Context, id string) (*models.Account, error) {
	query := `SELECT id, email, name, password_hash, created_at, updated_at FROM accounts WHERE id = $1`
	return scanAccount(p.db.QueryRowContext(ctx, query, id))
}

func (p *PostgresStore) DeleteAccount(ctx context.Context, id string) error {
	return p.execOne(ctx, ErrNotFound, `DELETE FROM accounts WHERE id = $1`, id)
}

func (p *PostgresStore) Ping(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

func (p *PostgresStore) Close() error {
	return p.db.Close()
}

// execOne runs a statement expected to touch exactly one row and returns
// noRows when it touched none.
func (p *PostgresStore) execOne(ctx context.Context, noRows error, query string, args ...any) error {
	res, err := p.db.ExecContext(ctx, query, args...)
	if err != nil {
		if isInvalidID(err) {
			return ErrNotFound
		}
		return fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected error: %w", err)
	}
	switch n {
	case 1:
		return nil
	case 0:
		return noRows
	default:
		return fmt.Errorf("unexpected rows affected: %d", n)
	}
}

// secretFields holds the nullable columns while scanning.
type secretFields struct {
	passwordHash sql.NullString
	expiresAt    sql.NullTime
	ownerID      sql.NullString
}

func (f *secretFields) dest(s *models.Secret) []any {
	return []any{
		&s.ID, &s.Slug, &s.Title, &s.Content, &f.passwordHash, &f.expiresAt,
		&s.IsOneTimeAccess, &s.HasBeenAccessed, &f.ownerID, &s.CreatedAt, &s.UpdatedAt,
	}
}

func (f *secretFields) apply(s *models.Secret) {
	s.PasswordHash = f.passwordHash.String
	s.OwnerID = f.ownerID.String
	if f.expiresAt.Valid {
		t := f.expiresAt.Time
		s.ExpiresAt = &t
	}
}

func scanSecret(row *sql.Row) (*models.Secret, error) {
	var (
		s      models.Secret
		fields secretFields
	)
	if err := row.Scan(fields.dest(&s)...); err != nil {
		if errors.Is(err, sql.ErrNoRows) || isInvalidID(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	fields.apply(&s)
	return &s, nil
}

func scanAccount(row *sql.Row) (*models.Account, error) {
	var a models.Account
	if err := row.Scan(&a.ID, &a.Email, &a.Name, &a.PasswordHash, &a.CreatedAt, &a.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) || isInvalidID(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return &a, nil
}

// isInvalidID reports a malformed UUID. Ids arrive from URLs, so a bad one
// means no such row.
func isInvalidID(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgInvalidTextRepresentation
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}

package store

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pressly/goose/v3"

	"secret.share/internal/models"
)

var secretCols = []string{
	"id", "slug", "title", "content", "password_hash", "expires_at",
	"is_one_time_access", "has_been_accessed", "owner_id", "created_at", "updated_at",
}

func newPostgresWithMock(t *testing.T) (*PostgresStore, sqlmock.Sqlmock, *sql.DB) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock.New error: %v", err)
	}
	return NewPostgresStoreFromDB(db), mock, db
}

func checkExpectations(t *testing.T, mock sqlmock.Sqlmock) {
	t.Helper()
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

var pgNow = time.Date(2026, 5, 10, 8, 30, 0, 0, time.UTC)

func TestPostgresCreateSecret_Success(t *testing.T) {
	s, mock, db := newPostgresWithMock(t)
	defer db.Close()

	exp := pgNow.Add(time.Hour)
	mock.ExpectExec(`(?s)^\s*INSERT\s+INTO\s+secrets\s*\(id,\s*slug,.*\)\s*VALUES\s*\(\$1,.*\$11\)\s*$`).
		WithArgs("id-1", "slug-1", "t", "c", "hash", exp, true, false, nil, pgNow, pgNow).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := s.CreateSecret(context.Background(), &models.Secret{
		ID: "id-1", Slug: "slug-1", Title: "t", Content: "c", PasswordHash: "hash",
		ExpiresAt: &exp, IsOneTimeAccess: true, CreatedAt: pgNow, UpdatedAt: pgNow,
	})
	if err != nil {
		t.Fatalf("CreateSecret error: %v", err)
	}
	checkExpectations(t, mock)
}

func TestPostgresCreateSecret_MapsConstraintErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"unique slug", &pgconn.PgError{Code: pgUniqueViolation}, ErrSlugTaken},
		{"missing owner", &pgconn.PgError{Code: pgForeignKeyViolation}, ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, mock, db := newPostgresWithMock(t)
			defer db.Close()

			mock.ExpectExec(`INSERT\s+INTO\s+secrets`).WillReturnError(tt.err)

			err := s.CreateSecret(context.Background(), &models.Secret{ID: "x", Slug: "y", OwnerID: "o"})
			if !errors.Is(err, tt.want) {
				t.Fatalf("want %v, got %v", tt.want, err)
			}
		})
	}
}

func TestPostgresCreateSecret_DBError(t *testing.T) {
	s, mock, db := newPostgresWithMock(t)
	defer db.Close()

	mock.ExpectExec(`INSERT\s+INTO\s+secrets`).WillReturnError(errors.New("db down"))

	err := s.CreateSecret(context.Background(), &models.Secret{ID: "x", Slug: "y"})
	if err == nil || !regexp.MustCompile(`db error: .*db down`).MatchString(err.Error()) {
		t.Fatalf("expected wrapped db error, got %v", err)
	}
}

func TestPostgresGetSecretBySlug_Found(t *testing.T) {
	s, mock, db := newPostgresWithMock(t)
	defer db.Close()

	rows := sqlmock.NewRows(secretCols).
		AddRow("id-1", "slug-1", "t", "c", nil, nil, false, false, "owner-1", pgNow, pgNow)
	mock.ExpectQuery(`(?s)^SELECT\s+id,\s*slug,.*FROM\s+secrets\s+WHERE\s+slug\s*=\s*\$1$`).
		WithArgs("slug-1").
		WillReturnRows(rows)

	got, err := s.GetSecretBySlug(context.Background(), "slug-1")
	if err != nil {
		t.Fatalf("GetSecretBySlug error: %v", err)
	}
	if got.ID != "id-1" || got.OwnerID != "owner-1" || got.PasswordHash != "" || got.ExpiresAt != nil {
		t.Fatalf("unexpected secret: %+v", got)
	}
	checkExpectations(t, mock)
}

func TestPostgresGetSecretByID_NotFound(t *testing.T) {
	s, mock, db := newPostgresWithMock(t)
	defer db.Close()

	mock.ExpectQuery(`FROM\s+secrets\s+WHERE\s+id\s*=\s*\$1`).
		WithArgs("ghost").
		WillReturnError(sql.ErrNoRows)

	_, err := s.GetSecretByID(context.Background(), "ghost")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
}

func TestPostgresListSecrets(t *testing.T) {
	s, mock, db := newPostgresWithMock(t)
	defer db.Close()

	mock.ExpectQuery(`(?s)SELECT\s+COUNT\(\*\)\s+FROM\s+secrets\s+WHERE\s+owner_id\s*=\s*\$1`).
		WithArgs("owner-1", `50\%\_off`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(3))

	exp := pgNow.Add(time.Hour)
	cols := append(append([]string{}, secretCols...), "access_count")
	rows := sqlmock.NewRows(cols).
		AddRow("id-2", "s2", "50%_off b", "c", "h", exp, true, true, "owner-1", pgNow, pgNow, 4).
		AddRow("id-1", "s1", "50%_off a", "c", nil, nil, false, false, "owner-1", pgNow, pgNow, 0)
	mock.ExpectQuery(`(?s)access_count.*ORDER\s+BY\s+created_at\s+DESC,\s*id\s+DESC\s+LIMIT\s+\$3\s+OFFSET\s+\$4`).
		WithArgs("owner-1", `50\%\_off`, 2, 0).
		WillReturnRows(rows)

	got, total, err := s.ListSecrets(context.Background(), models.SecretQuery{
		OwnerID: "owner-1", Search: "50%_off", Limit: 2,
	})
	if err != nil {
		t.Fatalf("ListSecrets error: %v", err)
	}
	if total != 3 || len(got) != 2 {
		t.Fatalf("unexpected total=%d len=%d", total, len(got))
	}
	if got[0].AccessCount != 4 || !got[0].HasPassword() || got[0].ExpiresAt == nil || !got[0].HasBeenAccessed {
		t.Fatalf("unexpected first row: %+v", got[0])
	}
	if got[1].AccessCount != 0 || got[1].HasPassword() {
		t.Fatalf("unexpected second row: %+v", got[1])
	}
	checkExpectations(t, mock)
}

func TestPostgresListSecrets_CountError(t *testing.T) {
	s, mock, db := newPostgresWithMock(t)
	defer db.Close()

	mock.ExpectQuery(`SELECT\s+COUNT`).WillReturnError(errors.New("boom"))

	_, _, err := s.ListSecrets(context.Background(), models.SecretQuery{OwnerID: "o"})
	if err == nil || !regexp.MustCompile(`failed to count secrets: boom`).MatchString(err.Error()) {
		t.Fatalf("expected wrapped count error, got %v", err)
	}
}

func TestPostgresUpdateSecret(t *testing.T) {
	s, mock, db := newPostgresWithMock(t)
	defer db.Close()

	title := "renamed"
	rows := sqlmock.NewRows(secretCols).
		AddRow("id-1", "s1", "renamed", "c", nil, nil, false, false, "o", pgNow, pgNow)
	mock.ExpectQuery(`(?s)^\s*UPDATE\s+secrets\s+SET.*COALESCE\(\$2,\s*title\).*RETURNING\s+id,`).
		WithArgs("id-1", "renamed", true, nil, pgNow, true).
		WillReturnRows(rows)

	got, err := s.UpdateSecret(context.Background(), "id-1", models.SecretUpdate{
		Title: &title, ClearExpires: true, UpdatedAt: pgNow,
	})
	if err != nil {
		t.Fatalf("UpdateSecret error: %v", err)
	}
	if got.Title != "renamed" || got.ExpiresAt != nil {
		t.Fatalf("unexpected secret: %+v", got)
	}
	checkExpectations(t, mock)
}

func TestPostgresUpdateSecret_NotFound(t *testing.T) {
	s, mock, db := newPostgresWithMock(t)
	defer db.Close()

	mock.ExpectQuery(`UPDATE\s+secrets`).
		WithArgs("ghost", nil, false, nil, pgNow, false).
		WillReturnRows(sqlmock.NewRows(secretCols))

	_, err := s.UpdateSecret(context.Background(), "ghost", models.SecretUpdate{UpdatedAt: pgNow})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
}

func TestPostgresUpdateSecret_ExpiryOfExpiredSecret(t *testing.T) {
	const (
		update = `(?s)UPDATE\s+secrets.*AND\s+NOT\s+\(\$6\s+AND\s+expires_at\s+IS\s+NOT\s+NULL\s+AND\s+expires_at\s+<=\s+\$5\)`
		exists = `SELECT\s+EXISTS\s+\(SELECT\s+1\s+FROM\s+secrets\s+WHERE\s+id\s*=\s*\$1\)`
	)
	later := pgNow.Add(time.Hour)

	tests := []struct {
		name   string
		exists bool
		want   error
	}{
		{"expired", true, ErrExpired},
		{"missing", false, ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, mock, db := newPostgresWithMock(t)
			defer db.Close()

			mock.ExpectQuery(update).
				WithArgs("id-1", nil, false, later, pgNow, true).
				WillReturnRows(sqlmock.NewRows(secretCols))
			mock.ExpectQuery(exists).
				WithArgs("id-1").
				WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(tt.exists))

			_, err := s.UpdateSecret(context.Background(), "id-1", models.SecretUpdate{ExpiresAt: &later, UpdatedAt: pgNow})
			if !errors.Is(err, tt.want) {
				t.Fatalf("want %v, got %v", tt.want, err)
			}
			checkExpectations(t, mock)
		})
	}
}

func TestPostgres_MalformedIDIsNotFound(t *testing.T) {
	s, mock, db := newPostgresWithMock(t)
	defer db.Close()

	badID := &pgconn.PgError{Code: pgInvalidTextRepresentation, Message: `invalid input syntax for type uuid: "not-a-uuid"`}
	title := "t"

	mock.ExpectQuery(`(?s)SELECT\s+id,.*FROM\s+secrets\s+WHERE\s+id\s*=\s*\$1`).
		WithArgs("not-a-uuid").WillReturnError(badID)
	mock.ExpectQuery(`UPDATE\s+secrets`).
		WithArgs("not-a-uuid", "t", false, nil, pgNow, false).WillReturnError(badID)
	mock.ExpectExec(`DELETE\s+FROM\s+secrets`).
		WithArgs("not-a-uuid").WillReturnError(badID)
	mock.ExpectExec(`DELETE\s+FROM\s+accounts`).
		WithArgs("not-a-uuid").WillReturnError(badID)

	ctx := context.Background()
	if _, err := s.GetSecretByID(ctx, "not-a-uuid"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("GetSecretByID: want ErrNotFound, got %v", err)
	}
	if _, err := s.UpdateSecret(ctx, "not-a-uuid", models.SecretUpdate{Title: &title, UpdatedAt: pgNow}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("UpdateSecret: want ErrNotFound, got %v", err)
	}
	if err := s.DeleteSecret(ctx, "not-a-uuid"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("DeleteSecret: want ErrNotFound, got %v", err)
	}
	if err := s.DeleteAccount(ctx, "not-a-uuid"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("DeleteAccount: want ErrNotFound, got %v", err)
	}
	checkExpectations(t, mock)
}

func TestPostgresConsumeSecret(t *testing.T) {
	const q = `(?s)UPDATE\s+secrets\s+SET\s+has_been_accessed\s*=\s*true.*AND\s+NOT\s+has_been_accessed`

	t.Run("winner", func(t *testing.T) {
		s, mock, db := newPostgresWithMock(t)
		defer db.Close()

		mock.ExpectExec(q).WithArgs("id-1", pgNow).WillReturnResult(sqlmock.NewResult(0, 1))
		if err := s.ConsumeSecret(context.Background(), "id-1", pgNow); err != nil {
			t.Fatalf("ConsumeSecret error: %v", err)
		}
	})

	t.Run("lost race", func(t *testing.T) {
		s, mock, db := newPostgresWithMock(t)
		defer db.Close()

		mock.ExpectExec(q).WithArgs("id-1", pgNow).WillReturnResult(sqlmock.NewResult(0, 0))
		if err := s.ConsumeSecret(context.Background(), "id-1", pgNow); !errors.Is(err, ErrAlreadyConsumed) {
			t.Fatalf("want ErrAlreadyConsumed, got %v", err)
		}
	})

	t.Run("rows affected error", func(t *testing.T) {
		s, mock, db := newPostgresWithMock(t)
		defer db.Close()

		mock.ExpectExec(q).WillReturnResult(sqlmock.NewErrorResult(errors.New("ra")))
		err := s.ConsumeSecret(context.Background(), "id-1", pgNow)
		if err == nil || !regexp.MustCompile(`rows affected error: ra`).MatchString(err.Error()) {
			t.Fatalf("expected rows affected error, got %v", err)
		}
	})
}

func TestPostgresDeleteSecret(t *testing.T) {
	s, mock, db := newPostgresWithMock(t)
	defer db.Close()

	mock.ExpectExec(`DELETE\s+FROM\s+secrets\s+WHERE\s+id\s*=\s*\$1`).
		WithArgs("id-1").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`DELETE\s+FROM\s+secrets`).
		WithArgs("id-1").WillReturnResult(sqlmock.NewResult(0, 0))

	if err := s.DeleteSecret(context.Background(), "id-1"); err != nil {
		t.Fatalf("DeleteSecret error: %v", err)
	}
	if err := s.DeleteSecret(context.Background(), "id-1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
	checkExpectations(t, mock)
}

func TestPostgresRecordAccess(t *testing.T) {
	s, mock, db := newPostgresWithMock(t)
	defer db.Close()

	mock.ExpectExec(`INSERT\s+INTO\s+access_logs`).
		WithArgs("log-1", "id-1", "10.0.0.1", nil, pgNow).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT\s+INTO\s+access_logs`).
		WillReturnError(&pgconn.PgError{Code: pgForeignKeyViolation})

	entry := &models.AccessLogEntry{ID: "log-1", SecretID: "id-1", ClientAddress: "10.0.0.1", AccessedAt: pgNow}
	if err := s.RecordAccess(context.Background(), entry); err != nil {
		t.Fatalf("RecordAccess error: %v", err)
	}
	if err := s.RecordAccess(context.Background(), entry); !errors.Is(err, ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
}

func TestPostgresAccounts(t *testing.T) {
	s, mock, db := newPostgresWithMock(t)
	defer db.Close()

	mock.ExpectExec(`INSERT\s+INTO\s+accounts`).
		WithArgs("a-1", "a@example.com", "Alice", "hash", pgNow, pgNow).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT\s+INTO\s+accounts`).
		WillReturnError(&pgconn.PgError{Code: pgUniqueViolation, ConstraintName: "accounts_email_key"})
	mock.ExpectQuery(`FROM\s+accounts\s+WHERE\s+email\s*=\s*\$1`).
		WithArgs("a@example.com").
		WillReturnRows(sqlmock.NewRows([]string{"id", "email", "name", "password_hash", "created_at", "updated_at"}).
			AddRow("a-1", "a@example.com", "Alice", "hash", pgNow, pgNow))
	mock.ExpectQuery(`FROM\s+accounts\s+WHERE\s+id\s*=\s*\$1`).
		WithArgs("ghost").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectExec(`DELETE\s+FROM\s+accounts`).
		WithArgs("a-1").WillReturnResult(sqlmock.NewResult(0, 1))

	ctx := context.Background()
	acc := &models.Account{ID: "a-1", Email: "a@example.com", Name: "Alice", PasswordHash: "hash", CreatedAt: pgNow, UpdatedAt: pgNow}
	if err := s.CreateAccount(ctx, acc); err != nil {
		t.Fatalf("CreateAccount error: %v", err)
	}
	if err := s.CreateAccount(ctx, acc); !errors.Is(err, ErrEmailTaken) {
		t.Fatalf("want ErrEmailTaken, got %v", err)
	}
	got, err := s.GetAccountByEmail(ctx, "a@example.com")
	if err != nil || got.ID != "a-1" || got.PasswordHash != "hash" {
		t.Fatalf("GetAccountByEmail: %+v, %v", got, err)
	}
	if _, err := s.GetAccountByID(ctx, "ghost"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
	if err := s.DeleteAccount(ctx, "a-1"); err != nil {
		t.Fatalf("DeleteAccount error: %v", err)
	}
	checkExpectations(t, mock)
}

func TestPostgresRunMigrations(t *testing.T) {
	s, _, db := newPostgresWithMock(t)
	defer db.Close()

	orig := gooseUpContext
	defer func() { gooseUpContext = orig }()

	gooseUpContext = func(ctx context.Context, db *sql.DB, dir string, opts ...goose.OptionsFunc) error {
		if dir != "." {
			return errors.New("unexpected dir")
		}
		return nil
	}
	if err := s.RunMigrations(context.Background()); err != nil {
		t.Fatalf("RunMigrations error: %v", err)
	}

	gooseUpContext = func(ctx context.Context, db *sql.DB, dir string, opts ...goose.OptionsFunc) error {
		return errors.New("boom")
	}
	if err := s.RunMigrations(context.Background()); err == nil || err.Error() != "boom" {
		t.Fatalf("expected boom, got %v", err)
	}
}

func TestEscapeLike(t *testing.T) {
	if got := escapeLike(`a%b_c\d`); got != `a\%b\_c\\d` {
		t.Fatalf("escapeLike = %q", got)
	}
}

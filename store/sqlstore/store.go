package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	goCred "github.com/MrEthical07/goCred"
)

// Supported drivers.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// ErrConflict is returned when a write violates a unique constraint, such
// as a second account claiming a username or email.
var ErrConflict = errors.New("unique constraint violated")

func init() {
	sqlx.BindDriver(DriverSQLite, sqlx.QUESTION)
}

// Store implements goCred.CredentialStore over a SQL database.
type Store struct {
	db     *sqlx.DB
	driver string
	now    func() time.Time
}

var (
	_ goCred.CredentialStore     = (*Store)(nil)
	_ goCred.FailureCounter      = (*Store)(nil)
	_ goCred.SessionEventDeduper = (*Store)(nil)
)

// Option configures a Store.
type Option func(*Store)

// WithNow overrides the clock used for account timestamps.
func WithNow(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// Open connects to dsn with driver and applies pending migrations.
func Open(ctx context.Context, driver, dsn string, opts ...Option) (*Store, error) {
	if driver != DriverPostgres && driver != DriverSQLite {
		return nil, fmt.Errorf("unsupported driver %q", driver)
	}
	db, err := sqlx.ConnectContext(ctx, driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect to %s: %w", driver, err)
	}

	if driver == DriverSQLite {
		// Each sqlite connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
		if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("enable foreign keys: %w", err)
		}
	} else {
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)
	}

	s := New(db, opts...)
	if err := s.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// New wraps an existing connection. The schema must already be migrated.
func New(db *sqlx.DB, opts ...Option) *Store {
	s := &Store{db: db, driver: db.DriverName(), now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func notFound(kind, key string) error {
	return fmt.Errorf("%w: %s %q", goCred.ErrNotFound, kind, key)
}

// classify maps driver errors onto store errors.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		return fmt.Errorf("%s: %w: %s", op, ErrConflict, pqErr.Constraint)
	}
	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		switch liteErr.Code() {
		case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
			return fmt.Errorf("%s: %w: %v", op, ErrConflict, err)
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}

func utc(t time.Time) time.Time { return t.UTC() }

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC()
	return &v
}

/* ==== ACCOUNTS ==== */

const accountColumns = `id, username, email, first_name, last_name, institution, password_hash,
	enabled, locked, consecutive_failures, account_expires_at, credentials_expired,
	credentials_expire_at, auth_method, created_at, updated_at`

type accountRow struct {
	ID                  string         `db:"id"`
	Username            string         `db:"username"`
	Email               sql.NullString `db:"email"`
	FirstName           string         `db:"first_name"`
	LastName            string         `db:"last_name"`
	Institution         string         `db:"institution"`
	PasswordHash        string         `db:"password_hash"`
	Enabled             bool           `db:"enabled"`
	Locked              bool           `db:"locked"`
	ConsecutiveFailures int            `db:"consecutive_failures"`
	AccountExpiresAt    *time.Time     `db:"account_expires_at"`
	CredentialsExpired  bool           `db:"credentials_expired"`
	CredentialsExpireAt *time.Time     `db:"credentials_expire_at"`
	AuthMethod          string         `db:"auth_method"`
	CreatedAt           time.Time      `db:"created_at"`
	UpdatedAt           time.Time      `db:"updated_at"`
}

func toRow(a *goCred.Account) accountRow {
	return accountRow{
		ID:                  a.ID,
		Username:            a.Username,
		Email:               sql.NullString{String: a.Email, Valid: a.Email != ""},
		FirstName:           a.FirstName,
		LastName:            a.LastName,
		Institution:         a.Institution,
		PasswordHash:        a.PasswordHash,
		Enabled:             a.Enabled,
		Locked:              a.Locked,
		ConsecutiveFailures: a.ConsecutiveFailures,
		AccountExpiresAt:    utcPtr(a.AccountExpiresAt),
		CredentialsExpired:  a.CredentialsExpired,
		CredentialsExpireAt: utcPtr(a.CredentialsExpireAt),
		AuthMethod:          string(a.AuthMethod),
		CreatedAt:           utc(a.CreatedAt),
		UpdatedAt:           utc(a.UpdatedAt),
	}
}

func (r accountRow) account() *goCred.Account {
	return &goCred.Account{
		ID:                  r.ID,
		Username:            r.Username,
		Email:               r.Email.String,
		FirstName:           r.FirstName,
		LastName:            r.LastName,
		Institution:         r.Institution,
		PasswordHash:        r.PasswordHash,
		Enabled:             r.Enabled,
		Locked:              r.Locked,
		ConsecutiveFailures: r.ConsecutiveFailures,
		AccountExpiresAt:    utcPtr(r.AccountExpiresAt),
		CredentialsExpired:  r.CredentialsExpired,
		CredentialsExpireAt: utcPtr(r.CredentialsExpireAt),
		AuthMethod:          goCred.AuthMethod(r.AuthMethod),
		CreatedAt:           utc(r.CreatedAt),
		UpdatedAt:           utc(r.UpdatedAt),
	}
}

// FindAccountByID returns the account with id.
func (s *Store) FindAccountByID(ctx context.Context, id string) (*goCred.Account, error) {
	return s.findAccount(ctx, "account", id, `id = ?`)
}

// FindAccountByUsername returns the account with username.
func (s *Store) FindAccountByUsername(ctx context.Context, username string) (*goCred.Account, error) {
	return s.findAccount(ctx, "username", username, `username = ?`)
}

// FindAccountByEmail returns the account owning email.
func (s *Store) FindAccountByEmail(ctx context.Context, email string) (*goCred.Account, error) {
	if email == "" {
		return nil, notFound("email", email)
	}
	return s.findAccount(ctx, "email", email, `email = ?`)
}

func (s *Store) findAccount(ctx context.Context, kind, key, where string) (*goCred.Account, error) {
	var row accountRow
	query := s.db.Rebind(`SELECT ` + accountColumns + ` FROM accounts WHERE ` + where)
	err := s.db.GetContext(ctx, &row, query, key)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound(kind, key)
	}
	if err != nil {
		return nil, classify("find account", err)
	}
	a := row.account()
	if a.Roles, err = s.roles(ctx, s.db, a.ID); err != nil {
		return nil, err
	}
	return a, nil
}

func (s *Store) roles(ctx context.Context, q sqlx.QueryerContext, accountID string) ([]string, error) {
	var roles []string
	query := s.db.Rebind(`SELECT role FROM account_roles WHERE account_id = ? ORDER BY role`)
	if err := sqlx.SelectContext(ctx, q, &roles, query, accountID); err != nil {
		return nil, classify("load roles", err)
	}
	if len(roles) == 0 {
		return nil, nil
	}
	return roles, nil
}

// SaveAccount upserts account and replaces its roles, assigning an ID and
// timestamps.
func (s *Store) SaveAccount(ctx context.Context, account *goCred.Account) error {
	now := s.now()
	if account.ID == "" {
		account.ID = uuid.NewString()
	}
	if account.CreatedAt.IsZero() {
		account.CreatedAt = now
	}
	account.UpdatedAt = now

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return classify("begin save account", err)
	}
	defer func() { _ = tx.Rollback() }()

	query := `INSERT INTO accounts (` + accountColumns + `)
		VALUES (:id, :username, :email, :first_name, :last_name, :institution, :password_hash,
			:enabled, :locked, :consecutive_failures, :account_expires_at, :credentials_expired,
			:credentials_expire_at, :auth_method, :created_at, :updated_at)
		ON CONFLICT (id) DO UPDATE SET
			username = excluded.username,
			email = excluded.email,
			first_name = excluded.first_name,
			last_name = excluded.last_name,
			institution = excluded.institution,
			password_hash = excluded.password_hash,
			enabled = excluded.enabled,
			locked = excluded.locked,
			consecutive_failures = excluded.consecutive_failures,
			account_expires_at = excluded.account_expires_at,
			credentials_expired = excluded.credentials_expired,
			credentials_expire_at = excluded.credentials_expire_at,
			auth_method = excluded.auth_method,
			updated_at = excluded.updated_at`
	if _, err := tx.NamedExecContext(ctx, query, toRow(account)); err != nil {
		return classify("save account", err)
	}

	if _, err := tx.ExecContext(ctx, tx.Rebind(`DELETE FROM account_roles WHERE account_id = ?`), account.ID); err != nil {
		return classify("clear roles", err)
	}
	for _, role := range account.Roles {
		if _, err := tx.ExecContext(ctx, tx.Rebind(`INSERT INTO account_roles (account_id, role) VALUES (?, ?)`), account.ID, role); err != nil {
			return classify("save role", err)
		}
	}
	return classify("commit save account", tx.Commit())
}

// DeleteAccount removes the account and its roles.
func (s *Store) DeleteAccount(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, s.db.Rebind(`DELETE FROM accounts WHERE id = ?`), id)
	if err != nil {
		return classify("delete account", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return notFound("account", id)
	}
	return nil
}

// ListAccounts returns every account ordered by username.
func (s *Store) ListAccounts(ctx context.Context) ([]*goCred.Account, error) {
	var rows []accountRow
	if err := s.db.SelectContext(ctx, &rows, `SELECT `+accountColumns+` FROM accounts ORDER BY username`); err != nil {
		return nil, classify("list accounts", err)
	}
	out := make([]*goCred.Account, 0, len(rows))
	for _, r := range rows {
		a := r.account()
		roles, err := s.roles(ctx, s.db, a.ID)
		if err != nil {
			return nil, err
		}
		a.Roles = roles
		out = append(out, a)
	}
	return out, nil
}

// IncrementFailures bumps the failure counter and locks the account at max
// in a single UPDATE.
func (s *Store) IncrementFailures(ctx context.Context, accountID string, max int) (*goCred.Account, error) {
	query := s.db.Rebind(`UPDATE accounts SET
			consecutive_failures = consecutive_failures + 1,
			locked = CASE WHEN ? > 0 AND consecutive_failures + 1 >= ? THEN ? ELSE locked END,
			updated_at = ?
		WHERE id = ?`)
	res, err := s.db.ExecContext(ctx, query, max, max, true, utc(s.now()), accountID)
	if err != nil {
		return nil, classify("increment failures", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return nil, notFound("account", accountID)
	}
	return s.FindAccountByID(ctx, accountID)
}

/* ==== LOGIN ATTEMPTS ==== */

const attemptColumns = `id, username, attempted_at, success, ip_address, error_type, error_message`

// AppendLoginAttempt inserts attempt.
func (s *Store) AppendLoginAttempt(ctx context.Context, attempt *goCred.LoginAttempt) error {
	if attempt.ID == "" {
		attempt.ID = uuid.NewString()
	}
	row := *attempt
	row.AttemptedAt = utc(row.AttemptedAt)
	query := `INSERT INTO login_attempts (` + attemptColumns + `)
		VALUES (:id, :username, :attempted_at, :success, :ip_address, :error_type, :error_message)`
	if _, err := s.db.NamedExecContext(ctx, query, row); err != nil {
		return classify("append login attempt", err)
	}
	return nil
}

// MostRecentSuccess returns the newest successful attempt for username.
func (s *Store) MostRecentSuccess(ctx context.Context, username string) (*goCred.LoginAttempt, error) {
	return s.newestAttempt(ctx, "successful attempt", username, `success = ? AND username = ?`, true, username)
}

// MostRecentFailureOfType returns the newest failure classified as errorType.
func (s *Store) MostRecentFailureOfType(ctx context.Context, errorType string) (*goCred.LoginAttempt, error) {
	return s.newestAttempt(ctx, "failed attempt", errorType, `success = ? AND error_type = ?`, false, errorType)
}

func (s *Store) newestAttempt(ctx context.Context, kind, key, where string, args ...any) (*goCred.LoginAttempt, error) {
	var a goCred.LoginAttempt
	query := s.db.Rebind(`SELECT ` + attemptColumns + ` FROM login_attempts WHERE ` + where +
		` ORDER BY attempted_at DESC, seq DESC LIMIT 1`)
	err := s.db.GetContext(ctx, &a, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound(kind, key)
	}
	if err != nil {
		return nil, classify("find login attempt", err)
	}
	a.AttemptedAt = utc(a.AttemptedAt)
	return &a, nil
}

// ListLoginAttempts returns username's attempts, newest first.
func (s *Store) ListLoginAttempts(ctx context.Context, username string) ([]*goCred.LoginAttempt, error) {
	var rows []*goCred.LoginAttempt
	query := s.db.Rebind(`SELECT ` + attemptColumns + ` FROM login_attempts WHERE username = ?
		ORDER BY attempted_at DESC, seq DESC`)
	if err := s.db.SelectContext(ctx, &rows, query, username); err != nil {
		return nil, classify("list login attempts", err)
	}
	for _, r := range rows {
		r.AttemptedAt = utc(r.AttemptedAt)
	}
	return rows, nil
}

/* ==== RESET TOKENS ==== */

// SaveResetToken inserts or replaces the row keyed by token string.
func (s *Store) SaveResetToken(ctx context.Context, token *goCred.PasswordResetToken) error {
	if token.ID == "" {
		token.ID = uuid.NewString()
	}
	row := *token
	row.ExpiresAt = utc(row.ExpiresAt)
	query := `INSERT INTO password_reset_tokens (token, id, account_id, expires_at)
		VALUES (:token, :id, :account_id, :expires_at)
		ON CONFLICT (token) DO UPDATE SET account_id = excluded.account_id, expires_at = excluded.expires_at`
	if _, err := s.db.NamedExecContext(ctx, query, row); err != nil {
		return classify("save reset token", err)
	}
	return nil
}

// FindResetToken returns the row for token.
func (s *Store) FindResetToken(ctx context.Context, token string) (*goCred.PasswordResetToken, error) {
	return s.findToken(ctx, "reset token", "", `token = ?`, token)
}

// FindLatestResetToken returns the latest-expiring token for accountID.
func (s *Store) FindLatestResetToken(ctx context.Context, accountID string) (*goCred.PasswordResetToken, error) {
	return s.findToken(ctx, "reset token for account", accountID,
		`account_id = ? ORDER BY expires_at DESC LIMIT 1`, accountID)
}

func (s *Store) findToken(ctx context.Context, kind, key, where string, arg any) (*goCred.PasswordResetToken, error) {
	var t goCred.PasswordResetToken
	query := s.db.Rebind(`SELECT id, token, account_id, expires_at FROM password_reset_tokens WHERE ` + where)
	err := s.db.GetContext(ctx, &t, query, arg)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound(kind, key)
	}
	if err != nil {
		return nil, classify("find reset token", err)
	}
	t.ExpiresAt = utc(t.ExpiresAt)
	return &t, nil
}

// ListActiveResetTokens returns tokens expiring after now, latest first.
func (s *Store) ListActiveResetTokens(ctx context.Context, now time.Time) ([]*goCred.PasswordResetToken, error) {
	var rows []*goCred.PasswordResetToken
	query := s.db.Rebind(`SELECT id, token, account_id, expires_at FROM password_reset_tokens
		WHERE expires_at > ? ORDER BY expires_at DESC`)
	if err := s.db.SelectContext(ctx, &rows, query, utc(now)); err != nil {
		return nil, classify("list active reset tokens", err)
	}
	for _, r := range rows {
		r.ExpiresAt = utc(r.ExpiresAt)
	}
	// SQLite compares DATETIME as text; re-check in Go.
	out := rows[:0]
	for _, r := range rows {
		if r.ActiveAt(now) {
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].ExpiresAt.After(out[j].ExpiresAt) })
	return out, nil
}

/* ==== SESSION EVENTS ==== */

const eventColumns = `id, session_id, kind, account_id, impersonated_id, occurred_at`

func (s *Store) insertEvent(ctx context.Context, tx *sqlx.Tx, event *goCred.SessionEvent) error {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	row := *event
	row.OccurredAt = utc(row.OccurredAt)
	query := `INSERT INTO session_events (` + eventColumns + `)
		VALUES (:id, :session_id, :kind, :account_id, :impersonated_id, :occurred_at)`
	if _, err := tx.NamedExecContext(ctx, query, row); err != nil {
		return classify("append session event", err)
	}
	return nil
}

func (s *Store) claim(ctx context.Context, tx *sqlx.Tx, event *goCred.SessionEvent) (bool, error) {
	query := tx.Rebind(`INSERT INTO session_event_claims (session_id, kind) VALUES (?, ?)
		ON CONFLICT (session_id, kind) DO NOTHING`)
	res, err := tx.ExecContext(ctx, query, event.SessionID, string(event.Kind))
	if err != nil {
		return false, classify("claim session event", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, classify("claim session event", err)
	}
	return n == 1, nil
}

// AppendSessionEvent appends event unconditionally.
func (s *Store) AppendSessionEvent(ctx context.Context, event *goCred.SessionEvent) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return classify("begin append session event", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := s.claim(ctx, tx, event); err != nil {
		return err
	}
	if err := s.insertEvent(ctx, tx, event); err != nil {
		return err
	}
	return classify("commit session event", tx.Commit())
}

// AppendSessionEventOnce writes event only when no event of the same
// session and kind exists. The claims table primary key makes the check
// atomic.
func (s *Store) AppendSessionEventOnce(ctx context.Context, event *goCred.SessionEvent) (bool, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return false, classify("begin append session event", err)
	}
	defer func() { _ = tx.Rollback() }()

	claimed, err := s.claim(ctx, tx, event)
	if err != nil || !claimed {
		return false, err
	}
	if err := s.insertEvent(ctx, tx, event); err != nil {
		return false, err
	}
	if err := tx.Commit(); err != nil {
		return false, classify("commit session event", err)
	}
	return true, nil
}

// FindSessionEvent returns the first event of kind recorded for sessionID.
func (s *Store) FindSessionEvent(ctx context.Context, sessionID string, kind goCred.SessionEventKind) (*goCred.SessionEvent, error) {
	var e goCred.SessionEvent
	query := s.db.Rebind(`SELECT ` + eventColumns + ` FROM session_events
		WHERE session_id = ? AND kind = ? ORDER BY seq ASC LIMIT 1`)
	err := s.db.GetContext(ctx, &e, query, sessionID, string(kind))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound(string(kind)+" event for session", sessionID)
	}
	if err != nil {
		return nil, classify("find session event", err)
	}
	e.OccurredAt = utc(e.OccurredAt)
	return &e, nil
}

// SessionEvents returns every event recorded for sessionID in append order.
func (s *Store) SessionEvents(ctx context.Context, sessionID string) ([]*goCred.SessionEvent, error) {
	var rows []*goCred.SessionEvent
	query := s.db.Rebind(`SELECT ` + eventColumns + ` FROM session_events WHERE session_id = ? ORDER BY seq ASC`)
	if err := s.db.SelectContext(ctx, &rows, query, sessionID); err != nil {
		return nil, classify("list session events", err)
	}
	for _, r := range rows {
		r.OccurredAt = utc(r.OccurredAt)
	}
	return rows, nil
}

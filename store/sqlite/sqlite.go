/*
Package sqlite provides a SQLite-backed implementation of access.Store.

PURPOSE:
  Persists the user directory, the module catalog, the request ledger (with
  its history) and the access ledger in one SQLite database.

APPEND-ONLY ENFORCEMENT:
  - No DELETE statements anywhere
  - requests: only status and denial_reason are ever updated
  - request_history: insert only, ordered by seq
  - accesses: only status is ever updated

KEY TABLES:
  users:           directory (seeded, read-only to the engine)
  modules:         catalog (seeded, read-only to the engine)
  requests:        one row per protocol
  request_history: ordered actions per protocol
  accesses:        one row per granted module

INDEXES:
  - idx_requests_user_status: duplicate-request check (hot path)
  - idx_accesses_user_status: active modules of a user (hot path)
  - idx_accesses_protocol:    cancel / renew revocation

CONCURRENCY:
  The pool is capped at one connection, so a transaction in WithTx holds
  the database until it commits and writers are serialized. Reads outside
  a transaction wait for the connection. This also keeps ":memory:"
  databases from being split across connections.

  Inside WithTx every query goes through the *sql.Tx. Never call Store
  methods from inside fn.

USAGE:
  store, err := sqlite.New("./data/access.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  engine := access.NewEngine(store)

MIGRATION:
  Schema is auto-migrated on New().

SEE ALSO:
  - access/store.go: Interface definitions
  - access/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/warp/access-engine/access"
)

// Store implements access.Store using SQLite.
type Store struct {
	queries
	db *sql.DB
	mu sync.Mutex
}

var _ access.Store = (*Store)(nil)

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	store := &Store{queries: queries{db: db}, db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		email TEXT NOT NULL UNIQUE,
		name TEXT NOT NULL,
		department TEXT NOT NULL,
		password_hash TEXT NOT NULL DEFAULT ''
	);

	-- rowid keeps catalog order
	CREATE TABLE IF NOT EXISTS modules (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		allowed_departments_json TEXT NOT NULL DEFAULT '[]',
		incompatible_modules_json TEXT NOT NULL DEFAULT '[]',
		active BOOLEAN NOT NULL DEFAULT TRUE
	);

	CREATE TABLE IF NOT EXISTS requests (
		protocol TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		user_department TEXT NOT NULL,
		modules_json TEXT NOT NULL,
		justification TEXT NOT NULL,
		urgent BOOLEAN NOT NULL DEFAULT FALSE,
		status TEXT NOT NULL,
		created_at TEXT NOT NULL,
		expires_at TEXT NOT NULL,
		denial_reason TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_requests_user_status
		ON requests(user_id, status);

	CREATE TABLE IF NOT EXISTS request_history (
		protocol TEXT NOT NULL REFERENCES requests(protocol),
		seq INTEGER NOT NULL,
		at TEXT NOT NULL,
		action TEXT NOT NULL,
		PRIMARY KEY (protocol, seq)
	);

	CREATE TABLE IF NOT EXISTS accesses (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id TEXT NOT NULL,
		module_id TEXT NOT NULL,
		status TEXT NOT NULL,
		granted_at TEXT NOT NULL,
		expires_at TEXT NOT NULL,
		request_protocol TEXT NOT NULL REFERENCES requests(protocol)
	);

	CREATE INDEX IF NOT EXISTS idx_accesses_user_status
		ON accesses(user_id, status);
	CREATE INDEX IF NOT EXISTS idx_accesses_protocol
		ON accesses(user_id, request_protocol, status);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// TRANSACTIONAL STORE (access.Store interface)
// =============================================================================

// WithTx executes fn within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(access.Repositories) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(queries{db: sqlTx}); err != nil {
		return err
	}

	return sqlTx.Commit()
}

// =============================================================================
// SEEDING
// =============================================================================

// SaveUser inserts or replaces a user.
func (s *Store) SaveUser(ctx context.Context, u access.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO users (id, email, name, department, password_hash)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			email = excluded.email,
			name = excluded.name,
			department = excluded.department,
			password_hash = excluded.password_hash
	`
	_, err := s.db.ExecContext(ctx, query, u.ID, u.Email, u.Name, u.Department, u.PasswordHash)
	if err != nil {
		return fmt.Errorf("failed to save user %s: %w", u.ID, err)
	}
	return nil
}

// SaveModule inserts or replaces a catalog module. Replacing keeps its
// position in ListModules.
func (s *Store) SaveModule(ctx context.Context, m access.Module) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	allowed, err := marshalStrings(m.AllowedDepartments)
	if err != nil {
		return err
	}
	incompatible, err := marshalStrings(m.IncompatibleModules)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO modules (id, name, description, allowed_departments_json, incompatible_modules_json, active)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			allowed_departments_json = excluded.allowed_departments_json,
			incompatible_modules_json = excluded.incompatible_modules_json,
			active = excluded.active
	`
	_, err = s.db.ExecContext(ctx, query, m.ID, m.Name, m.Description, allowed, incompatible, m.Active)
	if err != nil {
		return fmt.Errorf("failed to save module %s: %w", m.ID, err)
	}
	return nil
}

// =============================================================================
// QUERIES (access.Repositories over a *sql.DB or a *sql.Tx)
// =============================================================================

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type queries struct {
	db querier
}

// --- users ---

const userColumns = "id, email, name, department, password_hash"

func (q queries) FindUser(ctx context.Context, id string) (*access.User, error) {
	return q.findUser(ctx, "SELECT "+userColumns+" FROM users WHERE id = ?", id)
}

func (q queries) FindUserByEmail(ctx context.Context, email string) (*access.User, error) {
	return q.findUser(ctx, "SELECT "+userColumns+" FROM users WHERE email = ?", email)
}

func (q queries) findUser(ctx context.Context, query string, arg string) (*access.User, error) {
	var u access.User
	err := q.db.QueryRowContext(ctx, query, arg).
		Scan(&u.ID, &u.Email, &u.Name, &u.Department, &u.PasswordHash)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load user: %w", err)
	}
	return &u, nil
}

// --- modules ---

const moduleColumns = "id, name, description, allowed_departments_json, incompatible_modules_json, active"

func (q queries) FindModule(ctx context.Context, id string) (*access.Module, error) {
	row := q.db.QueryRowContext(ctx, "SELECT "+moduleColumns+" FROM modules WHERE id = ?", id)
	m, err := scanModule(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (q queries) ListModules(ctx context.Context) ([]access.Module, error) {
	rows, err := q.db.QueryContext(ctx, "SELECT "+moduleColumns+" FROM modules ORDER BY rowid")
	if err != nil {
		return nil, fmt.Errorf("failed to query modules: %w", err)
	}
	defer rows.Close()

	var modules []access.Module
	for rows.Next() {
		m, err := scanModule(rows)
		if err != nil {
			return nil, err
		}
		modules = append(modules, m)
	}
	return modules, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanModule(row scanner) (access.Module, error) {
	var (
		m            access.Module
		allowed      string
		incompatible string
	)
	if err := row.Scan(&m.ID, &m.Name, &m.Description, &allowed, &incompatible, &m.Active); err != nil {
		if err == sql.ErrNoRows {
			return m, err
		}
		return m, fmt.Errorf("failed to scan module: %w", err)
	}
	if err := json.Unmarshal([]byte(allowed), &m.AllowedDepartments); err != nil {
		return m, fmt.Errorf("module %s: bad allowed departments: %w", m.ID, err)
	}
	if err := json.Unmarshal([]byte(incompatible), &m.IncompatibleModules); err != nil {
		return m, fmt.Errorf("module %s: bad incompatible modules: %w", m.ID, err)
	}
	return m, nil
}

// --- accesses ---

const accessColumns = "id, user_id, module_id, status, granted_at, expires_at, request_protocol"

func (q queries) AccessesByUser(ctx context.Context, userID string, status access.AccessStatus) ([]access.Access, error) {
	return q.queryAccesses(ctx,
		"SELECT "+accessColumns+" FROM accesses WHERE user_id = ? AND status = ? ORDER BY id",
		userID, status)
}

func (q queries) AccessesByUserAndModule(ctx context.Context, userID, moduleID string, status access.AccessStatus) ([]access.Access, error) {
	return q.queryAccesses(ctx,
		"SELECT "+accessColumns+" FROM accesses WHERE user_id = ? AND module_id = ? AND status = ? ORDER BY id",
		userID, moduleID, status)
}

func (q queries) AccessesByProtocol(ctx context.Context, userID, protocol string, status access.AccessStatus) ([]access.Access, error) {
	return q.queryAccesses(ctx,
		"SELECT "+accessColumns+" FROM accesses WHERE user_id = ? AND request_protocol = ? AND status = ? ORDER BY id",
		userID, protocol, status)
}

func (q queries) queryAccesses(ctx context.Context, query string, args ...any) ([]access.Access, error) {
	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query accesses: %w", err)
	}
	defer rows.Close()

	var accesses []access.Access
	for rows.Next() {
		var (
			a                    access.Access
			grantedAt, expiresAt string
		)
		err := rows.Scan(&a.ID, &a.UserID, &a.ModuleID, &a.Status, &grantedAt, &expiresAt, &a.RequestProtocol)
		if err != nil {
			return nil, fmt.Errorf("failed to scan access: %w", err)
		}
		a.GrantedAt = parseTime(grantedAt)
		a.ExpiresAt = parseTime(expiresAt)
		accesses = append(accesses, a)
	}
	return accesses, rows.Err()
}

func (q queries) AppendAccesses(ctx context.Context, accesses []access.Access) error {
	query := `
		INSERT INTO accesses (user_id, module_id, status, granted_at, expires_at, request_protocol)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	for _, a := range accesses {
		_, err := q.db.ExecContext(ctx, query,
			a.UserID, a.ModuleID, a.Status,
			formatTime(a.GrantedAt), formatTime(a.ExpiresAt),
			a.RequestProtocol,
		)
		if err != nil {
			return fmt.Errorf("failed to append access %s/%s: %w", a.RequestProtocol, a.ModuleID, err)
		}
	}
	return nil
}

func (q queries) UpdateAccessStatus(ctx context.Context, userID, protocol string, from, to access.AccessStatus) (int, error) {
	res, err := q.db.ExecContext(ctx,
		"UPDATE accesses SET status = ? WHERE user_id = ? AND request_protocol = ? AND status = ?",
		to, userID, protocol, from,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to update accesses of %s: %w", protocol, err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// --- requests ---

const requestColumns = `protocol, user_id, user_department, modules_json, justification, urgent,
	status, created_at, expires_at, denial_reason`

func (q queries) CountRequests(ctx context.Context) (int, error) {
	var n int
	err := q.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM requests").Scan(&n)
	return n, err
}

func (q queries) CountRequestsWithPrefix(ctx context.Context, prefix string) (int, error) {
	var n int
	err := q.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM requests WHERE substr(protocol, 1, ?) = ?",
		len(prefix), prefix,
	).Scan(&n)
	return n, err
}

func (q queries) RequestsByUser(ctx context.Context, userID string) ([]access.Request, error) {
	return q.queryRequests(ctx,
		"SELECT "+requestColumns+" FROM requests WHERE user_id = ? ORDER BY rowid",
		userID)
}

func (q queries) RequestsByUserAndStatus(ctx context.Context, userID string, status access.RequestStatus) ([]access.Request, error) {
	return q.queryRequests(ctx,
		"SELECT "+requestColumns+" FROM requests WHERE user_id = ? AND status = ? ORDER BY rowid",
		userID, status)
}

func (q queries) FindRequest(ctx context.Context, protocol, userID string) (*access.Request, error) {
	requests, err := q.queryRequests(ctx,
		"SELECT "+requestColumns+" FROM requests WHERE protocol = ? AND user_id = ?",
		protocol, userID)
	if err != nil {
		return nil, err
	}
	if len(requests) == 0 {
		return nil, nil
	}
	return &requests[0], nil
}

// queryRequests reads the matching rows, closes them, then loads each
// request's history. The pool has a single connection, so history must not
// be queried while rows are still open.
func (q queries) queryRequests(ctx context.Context, query string, args ...any) ([]access.Request, error) {
	requests, err := q.scanRequests(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	for i := range requests {
		history, err := q.history(ctx, requests[i].Protocol)
		if err != nil {
			return nil, err
		}
		requests[i].History = history
	}
	return requests, nil
}

func (q queries) scanRequests(ctx context.Context, query string, args ...any) ([]access.Request, error) {
	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query requests: %w", err)
	}
	defer rows.Close()

	var requests []access.Request
	for rows.Next() {
		var (
			r                    access.Request
			modulesJSON          string
			createdAt, expiresAt string
			denialReason         sql.NullString
		)
		err := rows.Scan(
			&r.Protocol, &r.UserID, &r.UserDepartment, &modulesJSON, &r.Justification, &r.Urgent,
			&r.Status, &createdAt, &expiresAt, &denialReason,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan request: %w", err)
		}
		if err := json.Unmarshal([]byte(modulesJSON), &r.Modules); err != nil {
			return nil, fmt.Errorf("request %s: bad modules: %w", r.Protocol, err)
		}
		r.CreatedAt = parseTime(createdAt)
		r.ExpiresAt = parseTime(expiresAt)
		r.DenialReason = denialReason.String
		requests = append(requests, r)
	}
	return requests, rows.Err()
}

func (q queries) history(ctx context.Context, protocol string) ([]access.HistoryEntry, error) {
	rows, err := q.db.QueryContext(ctx,
		"SELECT at, action FROM request_history WHERE protocol = ? ORDER BY seq",
		protocol)
	if err != nil {
		return nil, fmt.Errorf("failed to query history of %s: %w", protocol, err)
	}
	defer rows.Close()

	var history []access.HistoryEntry
	for rows.Next() {
		var at string
		var h access.HistoryEntry
		if err := rows.Scan(&at, &h.Action); err != nil {
			return nil, fmt.Errorf("failed to scan history: %w", err)
		}
		h.At = parseTime(at)
		history = append(history, h)
	}
	return history, rows.Err()
}

func (q queries) InsertRequest(ctx context.Context, r access.Request) error {
	modulesJSON, err := marshalStrings(r.Modules)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO requests
		(protocol, user_id, user_department, modules_json, justification, urgent,
		 status, created_at, expires_at, denial_reason)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = q.db.ExecContext(ctx, query,
		r.Protocol, r.UserID, r.UserDepartment, modulesJSON, r.Justification, r.Urgent,
		r.Status, formatTime(r.CreatedAt), formatTime(r.ExpiresAt), nullString(r.DenialReason),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return fmt.Errorf("%w: %s", access.ErrDuplicateProtocol, r.Protocol)
		}
		return fmt.Errorf("failed to insert request %s: %w", r.Protocol, err)
	}

	return q.appendHistory(ctx, r.Protocol, 0, r.History)
}

// UpdateRequest stores the new status and denial reason and appends any
// history entries beyond those already recorded.
func (q queries) UpdateRequest(ctx context.Context, r access.Request) error {
	res, err := q.db.ExecContext(ctx,
		"UPDATE requests SET status = ?, denial_reason = ? WHERE protocol = ?",
		r.Status, nullString(r.DenialReason), r.Protocol,
	)
	if err != nil {
		return fmt.Errorf("failed to update request %s: %w", r.Protocol, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", access.ErrRequestNotFound, r.Protocol)
	}

	var stored int
	err = q.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM request_history WHERE protocol = ?", r.Protocol,
	).Scan(&stored)
	if err != nil {
		return fmt.Errorf("failed to count history of %s: %w", r.Protocol, err)
	}
	if len(r.History) <= stored {
		return nil
	}
	return q.appendHistory(ctx, r.Protocol, stored, r.History[stored:])
}

func (q queries) appendHistory(ctx context.Context, protocol string, firstSeq int, entries []access.HistoryEntry) error {
	for i, h := range entries {
		_, err := q.db.ExecContext(ctx,
			"INSERT INTO request_history (protocol, seq, at, action) VALUES (?, ?, ?, ?)",
			protocol, firstSeq+i, formatTime(h.At), h.Action,
		)
		if err != nil {
			return fmt.Errorf("failed to append history to %s: %w", protocol, err)
		}
	}
	return nil
}

// Helper functions

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func marshalStrings(values []string) (string, error) {
	if values == nil {
		values = []string{}
	}
	b, err := json.Marshal(values)
	if err != nil {
		return "", fmt.Errorf("failed to encode %v: %w", values, err)
	}
	return string(b), nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

func isUniqueConstraintError(err error) bool {
	var sqliteErr sqlite3.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	return sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey ||
		sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique
}

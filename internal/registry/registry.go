// Package registry owns the account ledger and the append-only post store,
// backed by SQLite. Every ledger mutation is a single SQL statement so the
// check and the write can never be split across concurrent callers.
package registry

import (
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// DefaultFreeCredits is the starting allowance for new accounts.
const DefaultFreeCredits = 3

var (
	// ErrAccountExists is returned when registering an email that is taken.
	ErrAccountExists = errors.New("account already exists")

	// ErrAccountNotFound is returned when the account does not exist.
	ErrAccountNotFound = errors.New("account not found")

	// ErrCreditsExhausted is returned when a non-subscribed account has no
	// free credits left. An expected business condition, not a fault.
	ErrCreditsExhausted = errors.New("free credits exhausted")
)

// AccountRegistry provides ledger operations for account records backed by SQLite.
type AccountRegistry struct {
	db          *sql.DB
	freeCredits int
}

// NewAccountRegistry opens (or creates) the account ledger database in dir.
func NewAccountRegistry(dir string) (*AccountRegistry, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create registry dir: %w", err)
	}

	dbPath := filepath.Join(dir, "accounts.db")
	dsn := dbPath + "?" + url.Values{
		"_pragma": []string{
			"busy_timeout(30000)",
			"journal_mode(WAL)",
			"synchronous(NORMAL)",
		},
	}.Encode()

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open account registry db: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	r := &AccountRegistry{db: db, freeCredits: DefaultFreeCredits}
	if err := r.initSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return r, nil
}

// SetFreeCredits overrides the starting allowance for newly created accounts.
func (r *AccountRegistry) SetFreeCredits(n int) {
	if n >= 0 {
		r.freeCredits = n
	}
}

func (r *AccountRegistry) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS accounts (
		email               TEXT PRIMARY KEY,
		password_hash       TEXT NOT NULL,
		subscribed          INTEGER NOT NULL DEFAULT 0,
		free_credits        INTEGER NOT NULL DEFAULT 3 CHECK (free_credits >= 0),
		billing_customer_id TEXT NOT NULL DEFAULT '',
		created_at          INTEGER NOT NULL,
		updated_at          INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_accounts_billing_customer_id ON accounts(billing_customer_id);

	CREATE TABLE IF NOT EXISTS posts (
		id         TEXT PRIMARY KEY,
		email      TEXT NOT NULL,
		topic      TEXT NOT NULL,
		content    TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_posts_email ON posts(email);
	`
	if _, err := r.db.Exec(schema); err != nil {
		return fmt.Errorf("init account registry schema: %w", err)
	}
	return nil
}

// Ping checks database connectivity (used for readiness probes).
func (r *AccountRegistry) Ping() error {
	return r.db.Ping()
}

// Close closes the underlying database connection.
func (r *AccountRegistry) Close() error {
	if r == nil || r.db == nil {
		return nil
	}
	return r.db.Close()
}

// CreateAccount inserts a new account with the starting credit allowance.
func (r *AccountRegistry) CreateAccount(email, passwordHash string) (*Account, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" {
		return nil, fmt.Errorf("email must not be empty")
	}
	now := time.Now().UTC()

	_, err := r.db.Exec(`
		INSERT INTO accounts (email, password_hash, subscribed, free_credits, billing_customer_id, created_at, updated_at)
		VALUES (?, ?, 0, ?, '', ?, ?)`,
		email, passwordHash, r.freeCredits, now.Unix(), now.Unix(),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrAccountExists
		}
		return nil, fmt.Errorf("create account: %w", err)
	}
	return &Account{
		Email:       email,
		FreeCredits: r.freeCredits,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

// GetAccount retrieves an account by email. Returns ErrAccountNotFound if missing.
func (r *AccountRegistry) GetAccount(email string) (*Account, error) {
	row := r.db.QueryRow(`SELECT
		email, password_hash, subscribed, free_credits, billing_customer_id, created_at, updated_at
		FROM accounts WHERE email = ?`, normalizeEmail(email))
	return scanAccount(row)
}

// GetAccountByBillingCustomerID retrieves the account holding the given
// billing customer reference. Returns ErrAccountNotFound if no account has it.
func (r *AccountRegistry) GetAccountByBillingCustomerID(customerID string) (*Account, error) {
	customerID = strings.TrimSpace(customerID)
	if customerID == "" {
		return nil, ErrAccountNotFound
	}
	row := r.db.QueryRow(`SELECT
		email, password_hash, subscribed, free_credits, billing_customer_id, created_at, updated_at
		FROM accounts WHERE billing_customer_id = ?`, customerID)
	return scanAccount(row)
}

// Reservation is the outcome of ReserveCredit. Charged reports whether a
// free credit was actually consumed and therefore must be released if the
// generation it was reserved for fails.
type Reservation struct {
	Charged bool
}

// ReserveCredit atomically claims one generation for the account.
//
// Subscribed accounts are always allowed and never charged. Otherwise a
// single UPDATE decrements free_credits only when a credit remains, so two
// racing callers can never both consume the last credit.
func (r *AccountRegistry) ReserveCredit(email string) (Reservation, error) {
	email = normalizeEmail(email)
	now := time.Now().UTC().Unix()

	res, err := r.db.Exec(`
		UPDATE accounts SET free_credits = free_credits - 1, updated_at = ?
		WHERE email = ? AND subscribed = 0 AND free_credits > 0`,
		now, email,
	)
	if err != nil {
		return Reservation{}, fmt.Errorf("reserve credit: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected > 0 {
		return Reservation{Charged: true}, nil
	}

	// No credit was claimed: the account is subscribed, exhausted, or missing.
	var subscribed int
	err = r.db.QueryRow(`SELECT subscribed FROM accounts WHERE email = ?`, email).Scan(&subscribed)
	if err == sql.ErrNoRows {
		return Reservation{}, ErrAccountNotFound
	}
	if err != nil {
		return Reservation{}, fmt.Errorf("reserve credit lookup: %w", err)
	}
	if subscribed != 0 {
		return Reservation{Charged: false}, nil
	}
	return Reservation{}, ErrCreditsExhausted
}

// ReleaseCredit reverses a charged reservation after a failed generation.
// Callers must only invoke it for reservations that were actually charged.
func (r *AccountRegistry) ReleaseCredit(email string) error {
	now := time.Now().UTC().Unix()
	_, err := r.db.Exec(`
		UPDATE accounts SET free_credits = free_credits + 1, updated_at = ?
		WHERE email = ? AND subscribed = 0`,
		now, normalizeEmail(email),
	)
	if err != nil {
		return fmt.Errorf("release credit: %w", err)
	}
	return nil
}

// GrantSubscription idempotently marks the account as subscribed. Granting
// twice, or concurrently, leaves the same final state.
func (r *AccountRegistry) GrantSubscription(email string) error {
	email = normalizeEmail(email)
	now := time.Now().UTC().Unix()

	res, err := r.db.Exec(`
		UPDATE accounts SET subscribed = 1, updated_at = ?
		WHERE email = ?`,
		now, email,
	)
	if err != nil {
		return fmt.Errorf("grant subscription: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return ErrAccountNotFound
	}
	return nil
}

// SetBillingCustomerID stores the billing customer reference if the account
// has none yet, and returns the reference the account holds afterwards. The
// single compare-and-update keeps two racing checkouts from each committing
// their own customer: the loser reads back the winner's reference.
func (r *AccountRegistry) SetBillingCustomerID(email, customerID string) (string, error) {
	email = normalizeEmail(email)
	customerID = strings.TrimSpace(customerID)
	if customerID == "" {
		return "", fmt.Errorf("billing customer id must not be empty")
	}
	now := time.Now().UTC().Unix()

	if _, err := r.db.Exec(`
		UPDATE accounts SET billing_customer_id = ?, updated_at = ?
		WHERE email = ? AND billing_customer_id = ''`,
		customerID, now, email,
	); err != nil {
		return "", fmt.Errorf("set billing customer id: %w", err)
	}

	var current string
	err := r.db.QueryRow(`SELECT billing_customer_id FROM accounts WHERE email = ?`, email).Scan(&current)
	if err == sql.ErrNoRows {
		return "", ErrAccountNotFound
	}
	if err != nil {
		return "", fmt.Errorf("read billing customer id: %w", err)
	}
	return current, nil
}

// InsertPost appends a generated post record.
func (r *AccountRegistry) InsertPost(p *Post) error {
	if p == nil {
		return fmt.Errorf("post is nil")
	}
	if p.ID == "" {
		id, err := GeneratePostID()
		if err != nil {
			return err
		}
		p.ID = id
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}

	_, err := r.db.Exec(`
		INSERT INTO posts (id, email, topic, content, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		p.ID, normalizeEmail(p.Email), p.Topic, p.Content, p.CreatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("insert post: %w", err)
	}
	return nil
}

// ListPosts returns the account's posts, newest first.
func (r *AccountRegistry) ListPosts(email string) ([]*Post, error) {
	rows, err := r.db.Query(`SELECT id, email, topic, content, created_at
		FROM posts WHERE email = ? ORDER BY created_at DESC, id`, normalizeEmail(email))
	if err != nil {
		return nil, fmt.Errorf("list posts: %w", err)
	}
	defer rows.Close()

	var posts []*Post
	for rows.Next() {
		var p Post
		var createdAt int64
		if err := rows.Scan(&p.ID, &p.Email, &p.Topic, &p.Content, &createdAt); err != nil {
			return nil, fmt.Errorf("scan post: %w", err)
		}
		p.CreatedAt = time.Unix(createdAt, 0).UTC()
		posts = append(posts, &p)
	}
	return posts, rows.Err()
}

// ListAccounts returns all accounts, newest first.
func (r *AccountRegistry) ListAccounts() ([]*Account, error) {
	rows, err := r.db.Query(`SELECT
		email, password_hash, subscribed, free_credits, billing_customer_id, created_at, updated_at
		FROM accounts ORDER BY created_at DESC, email`)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	defer rows.Close()

	var accounts []*Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}

// Stats summarizes the ledger for the admin endpoint and metrics loop.
type Stats struct {
	Accounts   int `json:"accounts"`
	Subscribed int `json:"subscribed"`
	Posts      int `json:"posts"`
}

// CountStats returns aggregate account and post counts.
func (r *AccountRegistry) CountStats() (Stats, error) {
	var s Stats
	row := r.db.QueryRow(`SELECT
		COUNT(*),
		COALESCE(SUM(CASE WHEN subscribed = 1 THEN 1 ELSE 0 END), 0)
		FROM accounts`)
	if err := row.Scan(&s.Accounts, &s.Subscribed); err != nil {
		return Stats{}, fmt.Errorf("count accounts: %w", err)
	}
	if err := r.db.QueryRow(`SELECT COUNT(*) FROM posts`).Scan(&s.Posts); err != nil {
		return Stats{}, fmt.Errorf("count posts: %w", err)
	}
	return s, nil
}

// scanner is an interface satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanAccount(s scanner) (*Account, error) {
	var a Account
	var subscribed int
	var createdAt, updatedAt int64

	err := s.Scan(
		&a.Email, &a.PasswordHash, &subscribed, &a.FreeCredits, &a.BillingCustomerID,
		&createdAt, &updatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrAccountNotFound
		}
		return nil, fmt.Errorf("scan account: %w", err)
	}

	a.Subscribed = subscribed != 0
	a.CreatedAt = time.Unix(createdAt, 0).UTC()
	a.UpdatedAt = time.Unix(updatedAt, 0).UTC()
	return &a, nil
}

func normalizeEmail(email string) string {
	return strings.TrimSpace(strings.ToLower(email))
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

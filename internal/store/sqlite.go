package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"alerttrader/internal/domain"
	"alerttrader/internal/util"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver.
)

const schema = `
CREATE TABLE IF NOT EXISTS services (
	user_id            TEXT NOT NULL,
	id                 TEXT NOT NULL,
	market             TEXT NOT NULL,
	broker_type        TEXT NOT NULL,
	api_key            TEXT NOT NULL DEFAULT '',
	api_secret         TEXT NOT NULL DEFAULT '',
	username           TEXT NOT NULL DEFAULT '',
	password           TEXT NOT NULL DEFAULT '',
	broker_user_id     TEXT NOT NULL DEFAULT '',
	wallet_id          TEXT NOT NULL DEFAULT '',
	allocation_percent REAL NOT NULL DEFAULT 0,
	session            TEXT NOT NULL DEFAULT '',
	created_at         INTEGER NOT NULL,
	PRIMARY KEY (user_id, id)
);
CREATE INDEX IF NOT EXISTS services_by_market ON services (user_id, market);

CREATE TABLE IF NOT EXISTS order_attempts (
	id              TEXT PRIMARY KEY,
	seq             INTEGER NOT NULL,
	user_id         TEXT NOT NULL,
	service_id      TEXT NOT NULL,
	broker_type     TEXT NOT NULL,
	action          TEXT NOT NULL,
	pair            TEXT NOT NULL,
	success         INTEGER NOT NULL,
	broker_order_id TEXT NOT NULL DEFAULT '',
	error_kind      TEXT NOT NULL DEFAULT '',
	error           TEXT NOT NULL DEFAULT '',
	result          TEXT NOT NULL,
	started_at      INTEGER NOT NULL,
	finished_at     INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS attempts_by_user ON order_attempts (user_id, started_at);
`

// busyAttempts bounds retries of writes that hit a locked database.
const busyAttempts = 4

// SQLiteStore implements engine.CredentialStore and engine.OrderLog backed
// by a SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath, creates the
// schema, and returns a ready-to-use SQLiteStore.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// exec runs a write, retrying while the database is locked.
func (s *SQLiteStore) exec(ctx context.Context, query string, args ...any) error {
	return util.RetryIf(ctx, busyAttempts, 20*time.Millisecond, isBusy, func() error {
		_, err := s.db.ExecContext(ctx, query, args...)
		return err
	})
}

func isBusy(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

// ---------------------------------------------------------------------------
// CredentialStore implementation
// ---------------------------------------------------------------------------

// CreateService validates and inserts a credential, returning it with its
// assigned ID.
func (s *SQLiteStore) CreateService(ctx context.Context, cred domain.ServiceCredential) (domain.ServiceCredential, error) {
	cred, err := PrepareService(cred)
	if err != nil {
		return cred, err
	}
	session, err := encodeSession(cred.Session)
	if err != nil {
		return cred, err
	}
	err = s.exec(ctx, `INSERT INTO services
		(user_id, id, market, broker_type, api_key, api_secret, username, password,
		 broker_user_id, wallet_id, allocation_percent, session, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		cred.UserID, cred.ID, string(cred.Market), string(cred.BrokerType),
		cred.APIKey, cred.APISecret, cred.Username, cred.Password,
		cred.BrokerUserID, cred.WalletID, cred.AllocationPercent, session, time.Now().UnixMilli())
	if err != nil {
		return cred, fmt.Errorf("inserting service %s: %w", cred.ID, err)
	}
	return cred, nil
}

const serviceColumns = `user_id, id, market, broker_type, api_key, api_secret, username, password,
	broker_user_id, wallet_id, allocation_percent, session`

// Get retrieves one credential.
func (s *SQLiteStore) Get(ctx context.Context, userID, serviceID string) (domain.ServiceCredential, error) {
	if err := requireIDs(userID, serviceID); err != nil {
		return domain.ServiceCredential{}, err
	}
	row := s.db.QueryRowContext(ctx,
		`SELECT `+serviceColumns+` FROM services WHERE user_id = ? AND id = ?`, userID, serviceID)
	cred, err := scanService(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ServiceCredential{}, domain.NotFoundf("service %s not found", serviceID)
	}
	return cred, err
}

// ListByMarket returns the user's credentials for market in creation order.
func (s *SQLiteStore) ListByMarket(ctx context.Context, userID string, market domain.Market) ([]domain.ServiceCredential, error) {
	if userID == "" || market == "" {
		return nil, domain.Validationf("invalid credentials")
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+serviceColumns+` FROM services WHERE user_id = ? AND market = ? ORDER BY created_at, id`,
		userID, string(market))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.ServiceCredential
	for rows.Next() {
		cred, err := scanService(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, cred)
	}
	return out, rows.Err()
}

// WriteSession stores s on the credential.
func (s *SQLiteStore) WriteSession(ctx context.Context, userID, serviceID string, sess *domain.Session) error {
	if err := requireIDs(userID, serviceID); err != nil {
		return err
	}
	encoded, err := encodeSession(sess)
	if err != nil {
		return err
	}
	return s.exec(ctx, `UPDATE services SET session = ? WHERE user_id = ? AND id = ?`, encoded, userID, serviceID)
}

type scanner interface {
	Scan(dest ...any) error
}

func scanService(row scanner) (domain.ServiceCredential, error) {
	var (
		cred                      domain.ServiceCredential
		market, brokerType, sessv string
	)
	err := row.Scan(&cred.UserID, &cred.ID, &market, &brokerType, &cred.APIKey, &cred.APISecret,
		&cred.Username, &cred.Password, &cred.BrokerUserID, &cred.WalletID, &cred.AllocationPercent, &sessv)
	if err != nil {
		return cred, err
	}
	cred.Market = domain.Market(market)
	cred.BrokerType = domain.BrokerType(brokerType)
	if sessv != "" {
		var sess domain.Session
		if err := json.Unmarshal([]byte(sessv), &sess); err != nil {
			return cred, fmt.Errorf("decoding session of %s: %w", cred.ID, err)
		}
		cred.Session = &sess
	}
	return cred, nil
}

func encodeSession(s *domain.Session) (string, error) {
	if s == nil {
		return "", nil
	}
	b, err := json.Marshal(s)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// ---------------------------------------------------------------------------
// OrderLog implementation
// ---------------------------------------------------------------------------

// Record inserts one attempt. Recording the same attempt twice keeps the
// first row.
func (s *SQLiteStore) Record(ctx context.Context, a domain.OrderAttempt) error {
	result, err := json.Marshal(a.Result)
	if err != nil {
		return err
	}
	return s.exec(ctx, `INSERT OR IGNORE INTO order_attempts
		(id, seq, user_id, service_id, broker_type, action, pair, success,
		 broker_order_id, error_kind, error, result, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, int64(a.Seq), a.UserID, a.Result.ServiceID, string(a.Result.BrokerType),
		string(a.Intent.Action), a.Intent.Pair.String(), a.Result.Success,
		a.Result.BrokerOrderID, string(a.Result.ErrorKind), a.Result.Error, string(result),
		a.StartedAt.UnixMilli(), a.FinishedAt.UnixMilli())
}

// ListAttempts returns the user's most recent attempts, newest first, up to
// limit.
func (s *SQLiteStore) ListAttempts(ctx context.Context, userID string, limit int) ([]domain.OrderAttempt, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `SELECT id, seq, user_id, action, pair, result, started_at, finished_at
		FROM order_attempts WHERE user_id = ? ORDER BY started_at DESC, seq DESC LIMIT ?`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.OrderAttempt
	for rows.Next() {
		var (
			a                domain.OrderAttempt
			seq              int64
			action, pair     string
			result           string
			started, finished int64
		)
		if err := rows.Scan(&a.ID, &seq, &a.UserID, &action, &pair, &result, &started, &finished); err != nil {
			return nil, err
		}
		a.Seq = uint64(seq)
		a.Intent.Action = domain.Action(action)
		a.Intent.Pair = parsePair(pair)
		if err := json.Unmarshal([]byte(result), &a.Result); err != nil {
			return nil, fmt.Errorf("decoding attempt %s: %w", a.ID, err)
		}
		a.StartedAt = time.UnixMilli(started)
		a.FinishedAt = time.UnixMilli(finished)
		out = append(out, a)
	}
	return out, rows.Err()
}

func parsePair(s string) domain.SymbolPair {
	base, quote, _ := strings.Cut(s, "/")
	return domain.SymbolPair{Base: base, Quote: quote}
}

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/mattn/go-sqlite3"

	apperrors "stock-alert/internal/errors"
	"stock-alert/internal/models"
	"stock-alert/internal/security"
)

// SQLiteStore implements DataStore using SQLite.
type SQLiteStore struct {
	db *sqlx.DB
}

var _ DataStore = (*SQLiteStore)(nil)

// NewSQLiteStore creates a new SQLite-based data store.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sqlx.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	store := &SQLiteStore{db: db}

	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

// initSchema creates all required tables and indexes.
func (s *SQLiteStore) initSchema() error {
	schema := `
	-- Tracked tickers
	CREATE TABLE IF NOT EXISTS symbols (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		ticker TEXT NOT NULL UNIQUE,
		grp TEXT NOT NULL DEFAULT 'watch',
		rating INTEGER NOT NULL DEFAULT 0,
		note TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL,
		last_edit_epoch INTEGER
	);

	-- Alert rules per symbol
	CREATE TABLE IF NOT EXISTS alert_rules (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		symbol_id INTEGER NOT NULL,
		type TEXT NOT NULL,
		value REAL NOT NULL,
		enabled BOOLEAN NOT NULL DEFAULT 1,
		UNIQUE(symbol_id, type, value),
		FOREIGN KEY (symbol_id) REFERENCES symbols(id) ON DELETE CASCADE
	);

	-- Latest quote per symbol
	CREATE TABLE IF NOT EXISTS quotes (
		symbol_id INTEGER PRIMARY KEY,
		body TEXT NOT NULL,
		last_check_epoch INTEGER NOT NULL DEFAULT 0,
		FOREIGN KEY (symbol_id) REFERENCES symbols(id) ON DELETE CASCADE
	);

	-- Notification dedup records
	CREATE TABLE IF NOT EXISTS notification_records (
		symbol_id INTEGER NOT NULL,
		rule_signature TEXT NOT NULL,
		last_fired_epoch INTEGER NOT NULL,
		PRIMARY KEY (symbol_id, rule_signature),
		FOREIGN KEY (symbol_id) REFERENCES symbols(id) ON DELETE CASCADE
	);

	-- Single-row bulk run status
	CREATE TABLE IF NOT EXISTS run_status (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		run_id TEXT NOT NULL DEFAULT '',
		phase TEXT NOT NULL DEFAULT 'idle',
		started_epoch INTEGER,
		finished_epoch INTEGER,
		ok_count INTEGER NOT NULL DEFAULT 0,
		err_count INTEGER NOT NULL DEFAULT 0,
		notified_count INTEGER NOT NULL DEFAULT 0,
		status_code TEXT NOT NULL DEFAULT '',
		message TEXT NOT NULL DEFAULT ''
	);

	CREATE INDEX IF NOT EXISTS idx_symbols_grp ON symbols(grp);
	CREATE INDEX IF NOT EXISTS idx_alert_rules_symbol ON alert_rules(symbol_id);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Ping verifies the database is reachable.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func isConstraint(err error, code sqlite3.ErrNoExtended) bool {
	var se sqlite3.Error
	return errors.As(err, &se) && se.ExtendedCode == code
}

func isUniqueViolation(err error) bool {
	return isConstraint(err, sqlite3.ErrConstraintUnique)
}

// ============================================================================
// Symbols
// ============================================================================

const symbolColumns = `id, ticker, grp, rating, note, created_at, last_edit_epoch`

// AddSymbol inserts a new ticker.
func (s *SQLiteStore) AddSymbol(ctx context.Context, ticker string, group models.Group) (*models.Symbol, error) {
	ticker = models.NormalizeTicker(ticker)
	if err := security.ValidateTicker(ticker); err != nil {
		return nil, err
	}
	if group == "" {
		group = models.GroupWatch
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO symbols (ticker, grp, created_at) VALUES (?, ?, ?)`,
		ticker, group, time.Now().UTC())
	if err != nil {
		if isUniqueViolation(err) {
			return nil, apperrors.Wrapf(apperrors.ErrSymbolExists, "ticker %s", ticker)
		}
		return nil, fmt.Errorf("failed to insert symbol: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to read symbol id: %w", err)
	}
	return s.GetSymbol(ctx, id)
}

// GetSymbol returns a symbol by id.
func (s *SQLiteStore) GetSymbol(ctx context.Context, id int64) (*models.Symbol, error) {
	var sym models.Symbol
	err := s.db.GetContext(ctx, &sym, `SELECT `+symbolColumns+` FROM symbols WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.Wrapf(apperrors.ErrSymbolNotFound, "id %d", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get symbol: %w", err)
	}
	return &sym, nil
}

// GetSymbolByTicker returns a symbol by ticker.
func (s *SQLiteStore) GetSymbolByTicker(ctx context.Context, ticker string) (*models.Symbol, error) {
	ticker = models.NormalizeTicker(ticker)
	var sym models.Symbol
	err := s.db.GetContext(ctx, &sym, `SELECT `+symbolColumns+` FROM symbols WHERE ticker = ?`, ticker)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.Wrapf(apperrors.ErrSymbolNotFound, "ticker %s", ticker)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get symbol: %w", err)
	}
	return &sym, nil
}

// ListSymbols returns symbols matching the filter ordered by ticker.
func (s *SQLiteStore) ListSymbols(ctx context.Context, filter SymbolFilter) ([]models.Symbol, error) {
	query := `SELECT ` + symbolColumns + ` FROM symbols WHERE rating >= ?`
	args := []interface{}{filter.MinRating}

	if filter.Group != "" {
		query += ` AND grp = ?`
		args = append(args, filter.Group)
	}
	if q := strings.TrimSpace(filter.Query); q != "" {
		query += ` AND ticker LIKE ?`
		args = append(args, "%"+strings.ToUpper(q)+"%")
	}
	query += ` ORDER BY ticker`

	symbols := []models.Symbol{}
	if err := s.db.SelectContext(ctx, &symbols, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list symbols: %w", err)
	}
	return symbols, nil
}

// ListWatchedSymbols returns the symbols eligible for bulk runs.
func (s *SQLiteStore) ListWatchedSymbols(ctx context.Context) ([]models.Symbol, error) {
	return s.ListSymbols(ctx, SymbolFilter{Group: models.GroupWatch})
}

// MoveSymbol changes the group of a symbol.
func (s *SQLiteStore) MoveSymbol(ctx context.Context, id int64, group models.Group) error {
	return s.updateSymbol(ctx, id, `grp = ?`, group)
}

// SetNote replaces the free-text note of a symbol.
func (s *SQLiteStore) SetNote(ctx context.Context, id int64, note string) error {
	note, err := security.ValidateNote(note)
	if err != nil {
		return err
	}
	return s.updateSymbol(ctx, id, `note = ?`, note)
}

// SetRating sets the 0-5 rating of a symbol.
func (s *SQLiteStore) SetRating(ctx context.Context, id int64, rating int) error {
	if rating < 0 || rating > 5 {
		return apperrors.NewValidationError("rating", rating, "must be between 0 and 5")
	}
	return s.updateSymbol(ctx, id, `rating = ?`, rating)
}

func (s *SQLiteStore) updateSymbol(ctx context.Context, id int64, set string, value interface{}) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE symbols SET `+set+`, last_edit_epoch = ? WHERE id = ?`,
		value, time.Now().Unix(), id)
	if err != nil {
		return fmt.Errorf("failed to update symbol: %w", err)
	}
	return expectRow(res, id)
}

// DeleteSymbol removes a symbol and everything attached to it.
func (s *SQLiteStore) DeleteSymbol(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM symbols WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete symbol: %w", err)
	}
	return expectRow(res, id)
}

func expectRow(res sql.Result, id int64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return apperrors.Wrapf(apperrors.ErrSymbolNotFound, "id %d", id)
	}
	return nil
}

// ============================================================================
// Alert rules
// ============================================================================

// GetAlertRules returns all rules of a symbol.
func (s *SQLiteStore) GetAlertRules(ctx context.Context, symbolID int64) ([]models.AlertRule, error) {
	rules := []models.AlertRule{}
	err := s.db.SelectContext(ctx, &rules,
		`SELECT id, symbol_id, type, value, enabled FROM alert_rules WHERE symbol_id = ? ORDER BY type, value`,
		symbolID)
	if err != nil {
		return nil, fmt.Errorf("failed to get alert rules: %w", err)
	}
	return rules, nil
}

// AddAlertRule inserts a rule. Above and below rules replace any existing
// rule of the same type.
func (s *SQLiteStore) AddAlertRule(ctx context.Context, rule models.AlertRule) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := insertRule(ctx, tx, rule); err != nil {
		return err
	}
	return tx.Commit()
}

// ReplaceAlertRules swaps the full rule set of a symbol.
func (s *SQLiteStore) ReplaceAlertRules(ctx context.Context, symbolID int64, rules []models.AlertRule) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM alert_rules WHERE symbol_id = ?`, symbolID); err != nil {
		return fmt.Errorf("failed to clear alert rules: %w", err)
	}
	for _, r := range rules {
		r.SymbolID = symbolID
		if err := insertRule(ctx, tx, r); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func insertRule(ctx context.Context, tx *sqlx.Tx, rule models.AlertRule) error {
	if rule.Type == models.RuleAbove || rule.Type == models.RuleBelow {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM alert_rules WHERE symbol_id = ? AND type = ?`, rule.SymbolID, rule.Type); err != nil {
			return fmt.Errorf("failed to replace %s rule: %w", rule.Type, err)
		}
	}
	_, err := tx.NamedExecContext(ctx, `
		INSERT INTO alert_rules (symbol_id, type, value, enabled)
		VALUES (:symbol_id, :type, :value, :enabled)
		ON CONFLICT(symbol_id, type, value) DO UPDATE SET enabled = excluded.enabled`,
		rule)
	if err != nil {
		if isConstraint(err, sqlite3.ErrConstraintForeignKey) {
			return apperrors.Wrapf(apperrors.ErrSymbolNotFound, "id %d", rule.SymbolID)
		}
		return fmt.Errorf("failed to insert alert rule: %w", err)
	}
	return nil
}

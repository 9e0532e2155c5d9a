package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"stock-alert/internal/models"
)

// ============================================================================
// Quotes
// ============================================================================

// SaveQuote overwrites the stored quote of a symbol.
func (s *SQLiteStore) SaveQuote(ctx context.Context, symbolID int64, q models.Quote) error {
	body, err := json.Marshal(q)
	if err != nil {
		return fmt.Errorf("failed to encode quote: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO quotes (symbol_id, body, last_check_epoch) VALUES (?, ?, ?)
		ON CONFLICT(symbol_id) DO UPDATE SET body = excluded.body, last_check_epoch = excluded.last_check_epoch`,
		symbolID, string(body), q.LastCheckEpoch)
	if err != nil {
		return fmt.Errorf("failed to save quote: %w", err)
	}
	return nil
}

// LoadQuotes returns every stored quote keyed by symbol id.
func (s *SQLiteStore) LoadQuotes(ctx context.Context) (map[int64]models.Quote, error) {
	var rows []struct {
		SymbolID int64  `db:"symbol_id"`
		Body     string `db:"body"`
	}
	if err := s.db.SelectContext(ctx, &rows, `SELECT symbol_id, body FROM quotes`); err != nil {
		return nil, fmt.Errorf("failed to load quotes: %w", err)
	}

	quotes := make(map[int64]models.Quote, len(rows))
	for _, r := range rows {
		var q models.Quote
		if err := json.Unmarshal([]byte(r.Body), &q); err != nil {
			return nil, fmt.Errorf("failed to decode quote for symbol %d: %w", r.SymbolID, err)
		}
		quotes[r.SymbolID] = q
	}
	return quotes, nil
}

// DeleteQuote removes the stored quote of a symbol.
func (s *SQLiteStore) DeleteQuote(ctx context.Context, symbolID int64) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM quotes WHERE symbol_id = ?`, symbolID); err != nil {
		return fmt.Errorf("failed to delete quote: %w", err)
	}
	return nil
}

// LastUpdateEpoch returns the most recent check time across all quotes, or
// zero when nothing has been checked yet.
func (s *SQLiteStore) LastUpdateEpoch(ctx context.Context) (int64, error) {
	var epoch sql.NullInt64
	if err := s.db.GetContext(ctx, &epoch, `SELECT MAX(last_check_epoch) FROM quotes`); err != nil {
		return 0, fmt.Errorf("failed to get last update: %w", err)
	}
	return epoch.Int64, nil
}

// ============================================================================
// Notification records
// ============================================================================

// GetNotificationRecord returns the record for a symbol and signature, or nil
// when the rule has never fired.
func (s *SQLiteStore) GetNotificationRecord(ctx context.Context, symbolID int64, sig models.RuleSignature) (*models.NotificationRecord, error) {
	var rec models.NotificationRecord
	err := s.db.GetContext(ctx, &rec,
		`SELECT symbol_id, rule_signature, last_fired_epoch FROM notification_records
		 WHERE symbol_id = ? AND rule_signature = ?`,
		symbolID, sig)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get notification record: %w", err)
	}
	return &rec, nil
}

// UpsertNotificationRecord stores the last fire time of a rule.
func (s *SQLiteStore) UpsertNotificationRecord(ctx context.Context, rec models.NotificationRecord) error {
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO notification_records (symbol_id, rule_signature, last_fired_epoch)
		VALUES (:symbol_id, :rule_signature, :last_fired_epoch)
		ON CONFLICT(symbol_id, rule_signature) DO UPDATE SET last_fired_epoch = excluded.last_fired_epoch`,
		rec)
	if err != nil {
		return fmt.Errorf("failed to save notification record: %w", err)
	}
	return nil
}

// ============================================================================
// Run status
// ============================================================================

type runStatusRow struct {
	RunID         string        `db:"run_id"`
	Phase         string        `db:"phase"`
	StartedEpoch  sql.NullInt64 `db:"started_epoch"`
	FinishedEpoch sql.NullInt64 `db:"finished_epoch"`
	OKCount       int           `db:"ok_count"`
	ErrCount      int           `db:"err_count"`
	NotifiedCount int           `db:"notified_count"`
	StatusCode    string        `db:"status_code"`
	Message       string        `db:"message"`
}

func epochOf(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.Unix(), Valid: true}
}

func timeOf(n sql.NullInt64) *time.Time {
	if !n.Valid {
		return nil
	}
	t := time.Unix(n.Int64, 0).UTC()
	return &t
}

// LoadRunStatus returns the persisted run status, idle when none exists.
func (s *SQLiteStore) LoadRunStatus(ctx context.Context) (models.RunStatus, error) {
	var row runStatusRow
	err := s.db.GetContext(ctx, &row, `
		SELECT run_id, phase, started_epoch, finished_epoch, ok_count, err_count,
		       notified_count, status_code, message
		FROM run_status WHERE id = 1`)
	if errors.Is(err, sql.ErrNoRows) {
		return models.RunStatus{Phase: models.PhaseIdle}, nil
	}
	if err != nil {
		return models.RunStatus{}, fmt.Errorf("failed to load run status: %w", err)
	}

	return models.RunStatus{
		RunID:         row.RunID,
		Phase:         models.Phase(row.Phase),
		StartedAt:     timeOf(row.StartedEpoch),
		FinishedAt:    timeOf(row.FinishedEpoch),
		OKCount:       row.OKCount,
		ErrCount:      row.ErrCount,
		NotifiedCount: row.NotifiedCount,
		StatusCode:    models.StatusCode(row.StatusCode),
		Message:       row.Message,
	}, nil
}

// SaveRunStatus overwrites the single run status row.
func (s *SQLiteStore) SaveRunStatus(ctx context.Context, rs models.RunStatus) error {
	row := runStatusRow{
		RunID:         rs.RunID,
		Phase:         string(rs.Phase),
		StartedEpoch:  epochOf(rs.StartedAt),
		FinishedEpoch: epochOf(rs.FinishedAt),
		OKCount:       rs.OKCount,
		ErrCount:      rs.ErrCount,
		NotifiedCount: rs.NotifiedCount,
		StatusCode:    string(rs.StatusCode),
		Message:       rs.Message,
	}
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO run_status (id, run_id, phase, started_epoch, finished_epoch, ok_count,
		                        err_count, notified_count, status_code, message)
		VALUES (1, :run_id, :phase, :started_epoch, :finished_epoch, :ok_count,
		        :err_count, :notified_count, :status_code, :message)
		ON CONFLICT(id) DO UPDATE SET
			run_id = excluded.run_id,
			phase = excluded.phase,
			started_epoch = excluded.started_epoch,
			finished_epoch = excluded.finished_epoch,
			ok_count = excluded.ok_count,
			err_count = excluded.err_count,
			notified_count = excluded.notified_count,
			status_code = excluded.status_code,
			message = excluded.message`,
		row)
	if err != nil {
		return fmt.Errorf("failed to save run status: %w", err)
	}
	return nil
}

package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	alarms "equipment-alerts/internal/alarms/domain"
)

const schema = `
CREATE TABLE IF NOT EXISTS equipment_alerts (
	unique_id TEXT PRIMARY KEY,
	id TEXT NOT NULL,
	equipment TEXT NOT NULL,
	equipment_groups TEXT NOT NULL DEFAULT '[]',
	rule_id TEXT NOT NULL,
	severity TEXT NOT NULL,
	message TEXT NOT NULL,
	event_type TEXT NOT NULL,
	ts_ns INTEGER NOT NULL,
	consolidated INTEGER NOT NULL DEFAULT 0,
	consolidated_count INTEGER NOT NULL DEFAULT 1,
	first_ns INTEGER NOT NULL DEFAULT 0,
	last_ns INTEGER NOT NULL DEFAULT 0,
	criticality_score INTEGER NOT NULL DEFAULT 0,
	context TEXT,
	created_ns INTEGER NOT NULL,
	updated_ns INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_equipment_alerts_equipment_ts ON equipment_alerts(equipment, ts_ns DESC);
CREATE INDEX IF NOT EXISTS idx_equipment_alerts_ts ON equipment_alerts(ts_ns DESC);
`

const columns = `unique_id, id, equipment, equipment_groups, rule_id, severity, message, event_type,
	ts_ns, consolidated, consolidated_count, first_ns, last_ns, criticality_score, context`

// Open opens (creating if needed) a SQLite database at path and applies the schema.
func Open(path string) (*sql.DB, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("creating parent directories: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("applying schema: %w", err)
	}
	return db, nil
}

// AlertRepository stores final alerts in SQLite.
type AlertRepository struct {
	db  *sql.DB
	now func() time.Time
}

// NewAlertRepository constructs a repository on a database returned by Open.
func NewAlertRepository(db *sql.DB) *AlertRepository {
	return &AlertRepository{db: db, now: func() time.Time { return time.Now().UTC() }}
}

// Upsert inserts alerts or replaces the content stored for their unique id.
func (r *AlertRepository) Upsert(ctx context.Context, alerts []alarms.Alert) error {
	if r == nil || r.db == nil {
		return errors.New("alert repo: nil db")
	}
	if len(alerts) == 0 {
		return nil
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback()
	}()

	now := r.now().UnixNano()
	for _, alert := range alerts {
		if alert.UniqueID == "" || alert.ID == "" {
			return errors.New("alert repo: missing ids")
		}
		groups, ctxJSON, err := encode(alert)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
INSERT INTO equipment_alerts (`+columns+`, created_ns, updated_ns)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(unique_id) DO UPDATE SET
	equipment = excluded.equipment,
	equipment_groups = excluded.equipment_groups,
	rule_id = excluded.rule_id,
	severity = excluded.severity,
	message = excluded.message,
	event_type = excluded.event_type,
	ts_ns = excluded.ts_ns,
	consolidated = excluded.consolidated,
	consolidated_count = excluded.consolidated_count,
	first_ns = excluded.first_ns,
	last_ns = excluded.last_ns,
	criticality_score = excluded.criticality_score,
	context = excluded.context,
	updated_ns = excluded.updated_ns`,
			alert.UniqueID,
			alert.ID,
			alert.Equipment,
			groups,
			alert.RuleID,
			string(alert.Severity),
			alert.Message,
			alert.EventType,
			toNanos(alert.Timestamp),
			alert.Consolidated,
			alert.ConsolidatedCount,
			toNanos(alert.FirstOccurrence),
			toNanos(alert.LastOccurrence),
			alert.CriticalityScore,
			ctxJSON,
			now,
			now,
		); err != nil {
			return fmt.Errorf("alert repo: upsert %s: %w", alert.UniqueID, err)
		}
	}
	return tx.Commit()
}

// GetByUniqueID fetches an alert.
func (r *AlertRepository) GetByUniqueID(ctx context.Context, uniqueID string) (*alarms.Alert, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("alert repo: nil db")
	}
	row := r.db.QueryRowContext(ctx, `SELECT `+columns+` FROM equipment_alerts WHERE unique_id = ?`, uniqueID)
	alert, err := scan(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, alarms.ErrNotFound
		}
		return nil, err
	}
	return &alert, nil
}

// ListRecent lists alerts newest first.
func (r *AlertRepository) ListRecent(ctx context.Context, query alarms.AlertQuery) ([]alarms.Alert, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("alert repo: nil db")
	}
	var (
		where []string
		args  []any
	)
	if query.Equipment != "" {
		where = append(where, "equipment = ?")
		args = append(args, query.Equipment)
	}
	if !query.From.IsZero() {
		where = append(where, "ts_ns >= ?")
		args = append(args, toNanos(query.From))
	}
	if !query.To.IsZero() {
		where = append(where, "ts_ns < ?")
		args = append(args, toNanos(query.To))
	}
	sqlText := `SELECT ` + columns + ` FROM equipment_alerts`
	if len(where) > 0 {
		sqlText += " WHERE " + strings.Join(where, " AND ")
	}
	sqlText += " ORDER BY ts_ns DESC, unique_id LIMIT ?"
	args = append(args, query.EffectiveLimit())

	rows, err := r.db.QueryContext(ctx, sqlText, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []alarms.Alert
	for rows.Next() {
		alert, err := scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, alert)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scan(row scanner) (alarms.Alert, error) {
	var (
		alert                 alarms.Alert
		severity, groups      string
		tsNs, firstNs, lastNs int64
		ctxJSON               sql.NullString
	)
	if err := row.Scan(
		&alert.UniqueID,
		&alert.ID,
		&alert.Equipment,
		&groups,
		&alert.RuleID,
		&severity,
		&alert.Message,
		&alert.EventType,
		&tsNs,
		&alert.Consolidated,
		&alert.ConsolidatedCount,
		&firstNs,
		&lastNs,
		&alert.CriticalityScore,
		&ctxJSON,
	); err != nil {
		return alarms.Alert{}, err
	}
	alert.Severity = alarms.Severity(severity)
	alert.Timestamp = fromNanos(tsNs)
	alert.FirstOccurrence = fromNanos(firstNs)
	alert.LastOccurrence = fromNanos(lastNs)
	alert.EquipmentGroups = []string{}
	if groups != "" {
		if err := json.Unmarshal([]byte(groups), &alert.EquipmentGroups); err != nil {
			return alarms.Alert{}, fmt.Errorf("alert repo: decode groups: %w", err)
		}
	}
	if ctxJSON.Valid && ctxJSON.String != "" {
		var c alarms.AlertContext
		if err := json.Unmarshal([]byte(ctxJSON.String), &c); err != nil {
			return alarms.Alert{}, fmt.Errorf("alert repo: decode context: %w", err)
		}
		alert.Context = &c
	}
	return alert, nil
}

func encode(alert alarms.Alert) (string, sql.NullString, error) {
	groups := alert.EquipmentGroups
	if groups == nil {
		groups = []string{}
	}
	groupsJSON, err := json.Marshal(groups)
	if err != nil {
		return "", sql.NullString{}, err
	}
	if alert.Context == nil {
		return string(groupsJSON), sql.NullString{}, nil
	}
	ctxJSON, err := json.Marshal(alert.Context)
	if err != nil {
		return "", sql.NullString{}, err
	}
	return string(groupsJSON), sql.NullString{String: string(ctxJSON), Valid: true}, nil
}

func toNanos(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromNanos(ns int64) time.Time {
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns).UTC()
}

package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	alarms "equipment-alerts/internal/alarms/domain"
)

const alertsSchema = `
CREATE TABLE IF NOT EXISTS equipment_alerts (
	unique_id TEXT PRIMARY KEY,
	id TEXT NOT NULL,
	equipment TEXT NOT NULL,
	equipment_groups JSONB NOT NULL DEFAULT '[]'::jsonb,
	rule_id TEXT NOT NULL,
	severity TEXT NOT NULL,
	message TEXT NOT NULL,
	event_type TEXT NOT NULL,
	ts TIMESTAMPTZ NOT NULL,
	consolidated BOOLEAN NOT NULL DEFAULT FALSE,
	consolidated_count INTEGER NOT NULL DEFAULT 1,
	first_occurrence TIMESTAMPTZ,
	last_occurrence TIMESTAMPTZ,
	criticality_score INTEGER NOT NULL DEFAULT 0,
	context JSONB,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS equipment_alerts_equipment_ts_idx ON equipment_alerts (equipment, ts DESC);
CREATE INDEX IF NOT EXISTS equipment_alerts_ts_idx ON equipment_alerts (ts DESC);
`

const alertColumns = `unique_id, id, equipment, equipment_groups, rule_id, severity, message, event_type,
	ts, consolidated, consolidated_count, first_occurrence, last_occurrence, criticality_score, context`

// AlertRepository is a Postgres repository for final alerts.
type AlertRepository struct {
	db  *sql.DB
	now func() time.Time
}

// NewAlertRepository constructs a repository.
func NewAlertRepository(db *sql.DB) *AlertRepository {
	return &AlertRepository{db: db, now: func() time.Time { return time.Now().UTC() }}
}

// EnsureSchema creates the alerts table when missing.
func (r *AlertRepository) EnsureSchema(ctx context.Context) error {
	if r == nil || r.db == nil {
		return errors.New("alert repo: nil db")
	}
	_, err := r.db.ExecContext(ctx, alertsSchema)
	return err
}

// Upsert inserts alerts or replaces the content stored for their unique id.
// The original id and created_at are kept.
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

	now := r.now()
	for _, alert := range alerts {
		if alert.UniqueID == "" || alert.ID == "" {
			return errors.New("alert repo: missing ids")
		}
		groups, ctxJSON, err := encodeExtras(alert)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
INSERT INTO equipment_alerts (
	`+alertColumns+`, created_at, updated_at
) VALUES (
	$1, $2, $3, $4, $5, $6, $7, $8,
	$9, $10, $11, $12, $13, $14, $15, $16, $16
)
ON CONFLICT (unique_id) DO UPDATE SET
	equipment = EXCLUDED.equipment,
	equipment_groups = EXCLUDED.equipment_groups,
	rule_id = EXCLUDED.rule_id,
	severity = EXCLUDED.severity,
	message = EXCLUDED.message,
	event_type = EXCLUDED.event_type,
	ts = EXCLUDED.ts,
	consolidated = EXCLUDED.consolidated,
	consolidated_count = EXCLUDED.consolidated_count,
	first_occurrence = EXCLUDED.first_occurrence,
	last_occurrence = EXCLUDED.last_occurrence,
	criticality_score = EXCLUDED.criticality_score,
	context = EXCLUDED.context,
	updated_at = EXCLUDED.updated_at`,
			alert.UniqueID,
			alert.ID,
			alert.Equipment,
			groups,
			alert.RuleID,
			string(alert.Severity),
			alert.Message,
			alert.EventType,
			alert.Timestamp.UTC(),
			alert.Consolidated,
			alert.ConsolidatedCount,
			nullableTime(alert.FirstOccurrence),
			nullableTime(alert.LastOccurrence),
			alert.CriticalityScore,
			ctxJSON,
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
	row := r.db.QueryRowContext(ctx, `
SELECT `+alertColumns+`
FROM equipment_alerts
WHERE unique_id = $1`, uniqueID)
	alert, err := scanAlert(row)
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
		args = append(args, query.Equipment)
		where = append(where, fmt.Sprintf("equipment = $%d", len(args)))
	}
	if !query.From.IsZero() {
		args = append(args, query.From.UTC())
		where = append(where, fmt.Sprintf("ts >= $%d", len(args)))
	}
	if !query.To.IsZero() {
		args = append(args, query.To.UTC())
		where = append(where, fmt.Sprintf("ts < $%d", len(args)))
	}
	sqlText := `
SELECT ` + alertColumns + `
FROM equipment_alerts`
	if len(where) > 0 {
		sqlText += "\nWHERE " + strings.Join(where, " AND ")
	}
	args = append(args, query.EffectiveLimit())
	sqlText += fmt.Sprintf("\nORDER BY ts DESC, unique_id\nLIMIT $%d", len(args))

	rows, err := r.db.QueryContext(ctx, sqlText, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []alarms.Alert
	for rows.Next() {
		alert, err := scanAlert(rows)
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

func scanAlert(row scanner) (alarms.Alert, error) {
	var (
		alert    alarms.Alert
		severity string
		groups   []byte
		first    sql.NullTime
		last     sql.NullTime
		ctxJSON  []byte
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
		&alert.Timestamp,
		&alert.Consolidated,
		&alert.ConsolidatedCount,
		&first,
		&last,
		&alert.CriticalityScore,
		&ctxJSON,
	); err != nil {
		return alarms.Alert{}, err
	}
	alert.Severity = alarms.Severity(severity)
	alert.Timestamp = alert.Timestamp.UTC()
	if first.Valid {
		alert.FirstOccurrence = first.Time.UTC()
	}
	if last.Valid {
		alert.LastOccurrence = last.Time.UTC()
	}
	if err := decodeExtras(&alert, groups, ctxJSON); err != nil {
		return alarms.Alert{}, err
	}
	return alert, nil
}

func encodeExtras(alert alarms.Alert) (string, any, error) {
	groups := alert.EquipmentGroups
	if groups == nil {
		groups = []string{}
	}
	groupsJSON, err := json.Marshal(groups)
	if err != nil {
		return "", nil, err
	}
	if alert.Context == nil {
		return string(groupsJSON), nil, nil
	}
	ctxJSON, err := json.Marshal(alert.Context)
	if err != nil {
		return "", nil, err
	}
	return string(groupsJSON), string(ctxJSON), nil
}

func decodeExtras(alert *alarms.Alert, groups, ctxJSON []byte) error {
	alert.EquipmentGroups = []string{}
	if len(groups) > 0 {
		if err := json.Unmarshal(groups, &alert.EquipmentGroups); err != nil {
			return fmt.Errorf("alert repo: decode groups: %w", err)
		}
	}
	if len(ctxJSON) > 0 {
		var c alarms.AlertContext
		if err := json.Unmarshal(ctxJSON, &c); err != nil {
			return fmt.Errorf("alert repo: decode context: %w", err)
		}
		alert.Context = &c
	}
	return nil
}

func nullableTime(value time.Time) sql.NullTime {
	if value.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: value.UTC(), Valid: true}
}

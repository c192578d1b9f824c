package securestore

import (
	"database/sql"
	"fmt"
)

// TriggerRecord is one executed dismiss/skip action
type TriggerRecord struct {
	ID          string `json:"id"`
	AppID       string `json:"appId"`
	Keyword     string `json:"keyword,omitempty"`
	Mode        string `json:"mode"`
	Outcome     string `json:"outcome"`
	Error       string `json:"error,omitempty"`
	TriggeredAt int64  `json:"triggeredAt"`
	CompletedAt int64  `json:"completedAt,omitempty"`
}

// RecordTrigger inserts a trigger, or updates its outcome when the ID exists
func (s *Store) RecordTrigger(rec TriggerRecord) error {
	if rec.ID == "" {
		return fmt.Errorf("trigger record needs an id")
	}
	if rec.Outcome == "" {
		rec.Outcome = "pending"
	}
	_, err := s.stmtUpsertTrigger.Exec(
		rec.ID, rec.AppID, nullString(rec.Keyword), rec.Mode, rec.Outcome,
		nullString(rec.Error), rec.TriggeredAt, rec.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("record trigger %s: %w", rec.ID, err)
	}
	return nil
}

// ListTriggers returns the newest triggers first. An empty appID lists all apps.
func (s *Store) ListTriggers(appID string, limit int) ([]TriggerRecord, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `SELECT id, app_id, keyword, mode, outcome, error, triggered_at, completed_at FROM triggers`
	args := []interface{}{}
	if appID != "" {
		query += ` WHERE app_id = ?`
		args = append(args, appID)
	}
	query += ` ORDER BY triggered_at DESC, rowid DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list triggers: %w", err)
	}
	defer rows.Close()

	var out []TriggerRecord
	for rows.Next() {
		var rec TriggerRecord
		var keyword, errText sql.NullString
		if err := rows.Scan(&rec.ID, &rec.AppID, &keyword, &rec.Mode, &rec.Outcome, &errText, &rec.TriggeredAt, &rec.CompletedAt); err != nil {
			return nil, err
		}
		rec.Keyword = keyword.String
		rec.Error = errText.String
		out = append(out, rec)
	}
	return out, rows.Err()
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

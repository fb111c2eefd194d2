package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/mohammad-safakhou/medtriage/internal/patient"
	"github.com/mohammad-safakhou/medtriage/internal/summary"
)

// ErrNotFound is returned when an archived record does not exist.
var ErrNotFound = errors.New("store: not found")

// SaveCaseRecord archives a closed case. Rows are keyed by the session
// pseudonym; the raw session id is not written.
func (s *Store) SaveCaseRecord(ctx context.Context, rec summary.CaseRecord) error {
	if strings.TrimSpace(rec.ID) == "" {
		return fmt.Errorf("record id is required")
	}
	if strings.TrimSpace(rec.MetaData.SessionID) == "" {
		return patient.ErrSessionIDRequired
	}
	digest := patient.Pseudonym(rec.MetaData.SessionID)
	body := rec
	body.MetaData.SessionID = ""
	raw, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal case record: %w", err)
	}
	_, err = s.DB.ExecContext(ctx, `
INSERT INTO case_records (id, session_digest, emergency_level, priority_score, body, created_at)
VALUES ($1,$2,$3,$4,$5,$6)
ON CONFLICT (id) DO NOTHING;
`, rec.ID, digest, rec.Triage.EmergencyLevel, rec.Triage.PriorityScore, raw, rec.MetaData.GeneratedAt.UTC())
	if err != nil {
		return fmt.Errorf("save case record: %w", err)
	}
	return nil
}

// ListCaseRecords returns the archived records of a session, newest first.
func (s *Store) ListCaseRecords(ctx context.Context, sessionID string, limit int) ([]summary.CaseRecord, error) {
	if strings.TrimSpace(sessionID) == "" {
		return nil, patient.ErrSessionIDRequired
	}
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.DB.QueryContext(ctx, `
SELECT body
FROM case_records
WHERE session_digest = $1
ORDER BY created_at DESC
LIMIT $2;
`, patient.Pseudonym(sessionID), limit)
	if err != nil {
		return nil, fmt.Errorf("list case records: %w", err)
	}
	defer rows.Close()

	out := []summary.CaseRecord{}
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var rec summary.CaseRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			return nil, fmt.Errorf("decode case record: %w", err)
		}
		rec.MetaData.SessionID = sessionID
		out = append(out, rec)
	}
	return out, rows.Err()
}

// GetCaseRecord loads one archived record by id. The session id is not
// recoverable from the archive and comes back empty.
func (s *Store) GetCaseRecord(ctx context.Context, id string) (summary.CaseRecord, error) {
	var raw []byte
	err := s.DB.QueryRowContext(ctx, `SELECT body FROM case_records WHERE id = $1;`, strings.TrimSpace(id)).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return summary.CaseRecord{}, ErrNotFound
	}
	if err != nil {
		return summary.CaseRecord{}, fmt.Errorf("get case record: %w", err)
	}
	var rec summary.CaseRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return summary.CaseRecord{}, fmt.Errorf("decode case record: %w", err)
	}
	return rec, nil
}

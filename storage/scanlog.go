package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// ScanLogEntry records one scan attempt that got past the fetch.
type ScanLogEntry struct {
	ID           int64     `json:"id"`
	TargetID     *int64    `json:"target_id"` // nil when the identifier is unknown
	RunID        string    `json:"run_id"`
	MatchesCount int       `json:"matches_count"`
	Note         *string   `json:"note,omitempty"`
	ScannedAt    time.Time `json:"scanned_at"`

	// Filled in by ListScanLogs
	Identifier *string `json:"identifier,omitempty"`
}

// ScanLogFilter represents filtering options for listing the scan log.
type ScanLogFilter struct {
	RunID    string
	TargetID *int64
	Limit    int // 0 = no limit
}

// WriteScanLog appends one scan log row and returns its id.
func (s *Store) WriteScanLog(ctx context.Context, entry ScanLogEntry) (int64, error) {
	now := s.now()

	result, err := s.db.ExecContext(ctx, `
		INSERT INTO scan_log (target_id, run_id, matches_count, note, scanned_at)
		VALUES (?, ?, ?, ?, ?)
	`, entry.TargetID, entry.RunID, entry.MatchesCount, entry.Note, formatTime(&now))
	if err != nil {
		return 0, fmt.Errorf("failed to insert scan log: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get scan log id: %w", err)
	}
	return id, nil
}

// ListScanLogs lists scan log rows, newest first.
func (s *Store) ListScanLogs(ctx context.Context, filter ScanLogFilter) ([]ScanLogEntry, error) {
	query := `
		SELECT sl.id, sl.target_id, sl.run_id, sl.matches_count, sl.note,
		       sl.scanned_at, t.external_identifier
		FROM scan_log sl
		LEFT JOIN targets t ON t.id = sl.target_id
	`

	var whereClauses []string
	var args []any

	if filter.RunID != "" {
		whereClauses = append(whereClauses, "sl.run_id = ?")
		args = append(args, filter.RunID)
	}
	if filter.TargetID != nil {
		whereClauses = append(whereClauses, "sl.target_id = ?")
		args = append(args, *filter.TargetID)
	}

	if len(whereClauses) > 0 {
		query += " WHERE " + strings.Join(whereClauses, " AND ")
	}

	query += " ORDER BY sl.id DESC"

	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query scan log: %w", err)
	}
	defer rows.Close()

	var entries []ScanLogEntry
	for rows.Next() {
		var (
			entry      ScanLogEntry
			targetID   sql.NullInt64
			note       sql.NullString
			scannedAt  string
			identifier sql.NullString
		)
		if err := rows.Scan(
			&entry.ID, &targetID, &entry.RunID, &entry.MatchesCount, &note,
			&scannedAt, &identifier,
		); err != nil {
			return nil, fmt.Errorf("failed to scan scan log: %w", err)
		}
		entry.TargetID = nullInt64(targetID)
		entry.Note = nullString(note)
		entry.ScannedAt = parseTime(scannedAt)
		entry.Identifier = nullString(identifier)
		entries = append(entries, entry)
	}

	return entries, rows.Err()
}

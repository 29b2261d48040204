package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// MatchRecord is one persisted pattern occurrence. Records are append-only.
type MatchRecord struct {
	ID           int64     `json:"id"`
	TargetID     int64     `json:"target_id"`
	PatternID    int64     `json:"pattern_id"`
	MatchedText  string    `json:"matched_text"`
	MatchedGroup *string   `json:"matched_group"`
	Source       string    `json:"source"` // title, text, markup or href
	SourceURL    string    `json:"source_url"`
	SourceHref   *string   `json:"source_href"` // the link searched, href source only
	CreatedAt    time.Time `json:"created_at"`

	// Filled in by ListMatchRecords
	Identifier  string `json:"identifier,omitempty"`
	PatternName string `json:"pattern_name,omitempty"`
}

// MatchFilter represents filtering options for listing match records.
type MatchFilter struct {
	TargetID   *int64
	Identifier string
	Limit      int // 0 = no limit
}

// RecordMatch appends a match record and returns its id.
func (s *Store) RecordMatch(ctx context.Context, rec MatchRecord) (int64, error) {
	now := s.now()

	result, err := s.db.ExecContext(ctx, `
		INSERT INTO match_records (
			target_id, pattern_id, matched_text, matched_group,
			source, source_url, source_href, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`,
		rec.TargetID, rec.PatternID, rec.MatchedText, rec.MatchedGroup,
		rec.Source, rec.SourceURL, rec.SourceHref, formatTime(&now),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to insert match record: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get match record id: %w", err)
	}
	return id, nil
}

// ListMatchRecords lists match records, newest first.
func (s *Store) ListMatchRecords(ctx context.Context, filter MatchFilter) ([]MatchRecord, error) {
	query := `
		SELECT m.id, m.target_id, m.pattern_id, m.matched_text, m.matched_group,
		       m.source, m.source_url, m.source_href, m.created_at,
		       t.external_identifier, COALESCE(p.name, '')
		FROM match_records m
		JOIN targets t ON t.id = m.target_id
		LEFT JOIN patterns p ON p.id = m.pattern_id
	`

	var whereClauses []string
	var args []any

	if filter.TargetID != nil {
		whereClauses = append(whereClauses, "m.target_id = ?")
		args = append(args, *filter.TargetID)
	}
	if filter.Identifier != "" {
		whereClauses = append(whereClauses, "t.external_identifier = ?")
		args = append(args, filter.Identifier)
	}

	if len(whereClauses) > 0 {
		query += " WHERE " + strings.Join(whereClauses, " AND ")
	}

	query += " ORDER BY m.id DESC"

	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query match records: %w", err)
	}
	defer rows.Close()

	var records []MatchRecord
	for rows.Next() {
		var (
			rec       MatchRecord
			group     sql.NullString
			href      sql.NullString
			createdAt string
		)
		if err := rows.Scan(
			&rec.ID, &rec.TargetID, &rec.PatternID, &rec.MatchedText, &group,
			&rec.Source, &rec.SourceURL, &href, &createdAt,
			&rec.Identifier, &rec.PatternName,
		); err != nil {
			return nil, fmt.Errorf("failed to scan match record: %w", err)
		}
		rec.MatchedGroup = nullString(group)
		rec.SourceHref = nullString(href)
		rec.CreatedAt = parseTime(createdAt)
		records = append(records, rec)
	}

	return records, rows.Err()
}

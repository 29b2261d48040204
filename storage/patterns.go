package storage

import (
	"context"
	"fmt"
	"time"
)

// Pattern is a stored regular expression plus metadata.
type Pattern struct {
	ID     int64  `json:"id"`
	Name   string `json:"name"`
	Source string `json:"pattern"`
	// Flags is the value exactly as stored: nil, an integer bitmask, or a
	// string (numeric or symbolic). pattern.ParseFlags normalizes it.
	Flags       any       `json:"flags"`
	Description string    `json:"description"`
	Active      bool      `json:"active"`
	CreatedAt   time.Time `json:"created_at"`
}

// NewPattern holds the fields for CreatePattern.
type NewPattern struct {
	Name        string
	Source      string
	Flags       any
	Description string
	Inactive    bool
}

const patternColumns = `id, name, pattern_source, flags, description, active, created_at`

// CreatePattern stores a new pattern. Patterns are active unless
// p.Inactive is set.
func (s *Store) CreatePattern(ctx context.Context, p NewPattern) (*Pattern, error) {
	now := s.now()
	active := !p.Inactive

	result, err := s.db.ExecContext(ctx, `
		INSERT INTO patterns (name, pattern_source, flags, description, active, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, p.Name, p.Source, p.Flags, p.Description, boolToInt(active), formatTime(&now))
	if err != nil {
		return nil, fmt.Errorf("failed to insert pattern: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to get pattern id: %w", err)
	}

	return &Pattern{
		ID:          id,
		Name:        p.Name,
		Source:      p.Source,
		Flags:       p.Flags,
		Description: p.Description,
		Active:      active,
		CreatedAt:   now.Truncate(0).UTC(),
	}, nil
}

// ListPatterns lists patterns in ascending id order, only active ones when
// activeOnly is set.
func (s *Store) ListPatterns(ctx context.Context, activeOnly bool) ([]Pattern, error) {
	query := `SELECT ` + patternColumns + ` FROM patterns`
	if activeOnly {
		query += ` WHERE active = 1`
	}
	query += ` ORDER BY id ASC`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query patterns: %w", err)
	}
	defer rows.Close()

	var patterns []Pattern
	for rows.Next() {
		var (
			p         Pattern
			active    int
			createdAt string
		)
		if err := rows.Scan(
			&p.ID, &p.Name, &p.Source, &p.Flags,
			&p.Description, &active, &createdAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan pattern: %w", err)
		}
		p.Active = active != 0
		p.CreatedAt = parseTime(createdAt)
		patterns = append(patterns, p)
	}

	return patterns, rows.Err()
}

// SetPatternActive switches a pattern on or off.
func (s *Store) SetPatternActive(ctx context.Context, id int64, active bool) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE patterns SET active = ? WHERE id = ?`, boolToInt(active), id)
	if err != nil {
		return fmt.Errorf("failed to update pattern: %w", err)
	}
	return expectOneRow(result, ErrPatternNotFound)
}

// DeletePattern deletes a pattern. Match records it produced stay and are
// listed without a pattern name.
func (s *Store) DeletePattern(ctx context.Context, id int64) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM patterns WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete pattern: %w", err)
	}
	return expectOneRow(result, ErrPatternNotFound)
}

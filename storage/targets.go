package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Target is a product identifier (ASIN) that gets scanned.
type Target struct {
	ID            int64      `json:"id"`
	Identifier    string     `json:"identifier"`
	Note          string     `json:"note"`
	Active        bool       `json:"active"`
	LastCheckedAt *time.Time `json:"last_checked_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}

// TargetFilter represents filtering options for listing targets.
type TargetFilter struct {
	Active *bool // Filter by active flag
	Limit  int   // 0 = no limit
}

const targetColumns = `id, external_identifier, note, active, last_checked_at, created_at`

// CreateTarget inserts a new target. Returns ErrDuplicateTarget if the
// identifier is already known.
func (s *Store) CreateTarget(ctx context.Context, identifier, note string) (*Target, error) {
	now := s.now()

	result, err := s.db.ExecContext(ctx,
		`INSERT INTO targets (external_identifier, note, active, created_at) VALUES (?, ?, 1, ?)`,
		identifier, note, formatTime(&now),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicateTarget
		}
		return nil, fmt.Errorf("failed to insert target: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to get target id: %w", err)
	}

	return &Target{
		ID:         id,
		Identifier: identifier,
		Note:       note,
		Active:     true,
		CreatedAt:  now.Truncate(0).UTC(),
	}, nil
}

// GetTarget retrieves a target by its external identifier.
func (s *Store) GetTarget(ctx context.Context, identifier string) (*Target, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+targetColumns+` FROM targets WHERE external_identifier = ?`, identifier)

	target, err := scanTarget(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrTargetNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query target: %w", err)
	}
	return target, nil
}

// ListTargets lists targets in ascending id order.
func (s *Store) ListTargets(ctx context.Context, filter TargetFilter) ([]Target, error) {
	query := `SELECT ` + targetColumns + ` FROM targets`

	var whereClauses []string
	var args []any

	if filter.Active != nil {
		whereClauses = append(whereClauses, "active = ?")
		args = append(args, boolToInt(*filter.Active))
	}

	if len(whereClauses) > 0 {
		query += " WHERE " + strings.Join(whereClauses, " AND ")
	}

	query += " ORDER BY id ASC"

	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query targets: %w", err)
	}
	defer rows.Close()

	var targets []Target
	for rows.Next() {
		target, err := scanTarget(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan target: %w", err)
		}
		targets = append(targets, *target)
	}

	return targets, rows.Err()
}

// ListActiveTargets returns active targets in ascending id order, at most
// limit of them when limit > 0.
func (s *Store) ListActiveTargets(ctx context.Context, limit int) ([]Target, error) {
	active := true
	return s.ListTargets(ctx, TargetFilter{Active: &active, Limit: limit})
}

// SetTargetActive switches a target on or off.
func (s *Store) SetTargetActive(ctx context.Context, id int64, active bool) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE targets SET active = ? WHERE id = ?`, boolToInt(active), id)
	if err != nil {
		return fmt.Errorf("failed to update target: %w", err)
	}
	return expectOneRow(result, ErrTargetNotFound)
}

// DeleteTarget deletes a target and its match records. Its scan log rows
// are kept with no target.
func (s *Store) DeleteTarget(ctx context.Context, id int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM match_records WHERE target_id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete match records: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE scan_log SET target_id = NULL WHERE target_id = ?`, id); err != nil {
		return fmt.Errorf("failed to detach scan log: %w", err)
	}

	result, err := tx.ExecContext(ctx, `DELETE FROM targets WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete target: %w", err)
	}
	if err := expectOneRow(result, ErrTargetNotFound); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit target deletion: %w", err)
	}
	return nil
}

// LookupTargetID finds the id for identifier without creating anything.
func (s *Store) LookupTargetID(ctx context.Context, identifier string) (int64, bool, error) {
	var id int64
	err := s.db.QueryRowContext(ctx,
		`SELECT id FROM targets WHERE external_identifier = ?`, identifier).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to look up target: %w", err)
	}
	return id, true, nil
}

// ResolveOrCreateTarget returns the id of the target for identifier,
// creating a minimal record when there is none. Two callers racing on the
// same unseen identifier both end up with the single row the UNIQUE
// constraint lets through.
func (s *Store) ResolveOrCreateTarget(ctx context.Context, identifier string) (int64, error) {
	id, found, err := s.LookupTargetID(ctx, identifier)
	if err != nil {
		return 0, err
	}
	if found {
		return id, nil
	}

	target, err := s.CreateTarget(ctx, identifier, "")
	if err == nil {
		return target.ID, nil
	}
	if !errors.Is(err, ErrDuplicateTarget) {
		return 0, err
	}

	// Lost the race -- someone else inserted it in between
	id, found, err = s.LookupTargetID(ctx, identifier)
	if err != nil {
		return 0, err
	}
	if !found {
		return 0, ErrTargetNotFound
	}
	return id, nil
}

// TouchLastChecked overwrites the last-checked timestamp of a target.
func (s *Store) TouchLastChecked(ctx context.Context, id int64, at time.Time) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE targets SET last_checked_at = ? WHERE id = ?`, formatTime(&at), id)
	if err != nil {
		return fmt.Errorf("failed to update last_checked_at: %w", err)
	}
	return expectOneRow(result, ErrTargetNotFound)
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanTarget(row rowScanner) (*Target, error) {
	var (
		target        Target
		active        int
		lastCheckedAt sql.NullString
		createdAt     string
	)

	if err := row.Scan(
		&target.ID, &target.Identifier, &target.Note,
		&active, &lastCheckedAt, &createdAt,
	); err != nil {
		return nil, err
	}

	target.Active = active != 0
	target.LastCheckedAt = parseNullTime(lastCheckedAt)
	target.CreatedAt = parseTime(createdAt)

	return &target, nil
}

func expectOneRow(result sql.Result, notFound error) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return notFound
	}
	return nil
}

package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/openverify/verify-api/pkg/model"
)

// UpsertProgramAuthority writes the cached chain view of a program. A nil
// isClosed preserves the existing closed flag; on first insert it defaults to
// false. Writes are last-writer-wins at the row level.
func (s *Store) UpsertProgramAuthority(ctx context.Context, programID string, authority *string, isFrozen bool, isClosed *bool) error {
	query := `
		INSERT INTO program_authority (program_id, authority, is_frozen, is_closed, last_updated)
		VALUES ($1, $2, $3, COALESCE($4, FALSE), $5)
		ON CONFLICT (program_id) DO UPDATE SET
			authority = $2,
			is_frozen = $3,
			is_closed = COALESCE($4, program_authority.is_closed),
			last_updated = $5
	`
	_, err := s.db.ExecContext(ctx, query,
		programID, authority, isFrozen, isClosed, time.Now().UTC())
	return wrap("upsert program authority", err)
}

// GetProgramAuthority loads the cached authority row for a program.
func (s *Store) GetProgramAuthority(ctx context.Context, programID string) (model.ProgramAuthority, error) {
	var pa model.ProgramAuthority
	var authority sql.NullString
	var lastUpdated time.Time
	err := s.db.QueryRowContext(ctx, `
		SELECT program_id, authority, is_frozen, is_closed, last_updated
		FROM program_authority WHERE program_id = $1`, programID,
	).Scan(&pa.ProgramID, &authority, &pa.IsFrozen, &pa.IsClosed, &lastUpdated)
	if err != nil {
		return model.ProgramAuthority{}, wrap("get program authority", err)
	}
	pa.Authority = nullableString(authority)
	pa.LastUpdated = lastUpdated.UTC()
	return pa, nil
}

// IsFrozen reports the cached frozen flag; a missing row reads as false.
func (s *Store) IsFrozen(ctx context.Context, programID string) (bool, error) {
	pa, err := s.GetProgramAuthority(ctx, programID)
	if IsNotFound(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return pa.IsFrozen, nil
}

// IsClosed reports the cached closed flag; a missing row reads as false.
func (s *Store) IsClosed(ctx context.Context, programID string) (bool, error) {
	pa, err := s.GetProgramAuthority(ctx, programID)
	if IsNotFound(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return pa.IsClosed, nil
}

// LatestAuthorityUpdate returns the most recent last_updated across all
// authority rows. Used as the sweeper health fallback when the cache is cold.
func (s *Store) LatestAuthorityUpdate(ctx context.Context) (time.Time, error) {
	var ts time.Time
	err := s.db.QueryRowContext(ctx, `
		SELECT last_updated FROM program_authority
		ORDER BY last_updated DESC LIMIT 1`).Scan(&ts)
	if err != nil {
		return time.Time{}, wrap("latest authority update", err)
	}
	return ts.UTC(), nil
}

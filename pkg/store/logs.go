package store

import (
	"context"
	"time"

	"github.com/openverify/verify-api/pkg/model"
)

// InsertBuildLog records a pointer to an external build-log artifact.
func (s *Store) InsertBuildLog(ctx context.Context, l model.BuildLog) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO build_logs (id, program_id, file_name, created_at)
		VALUES ($1, $2, $3, $4)`,
		l.ID, l.ProgramID, l.ArtifactName, l.CreatedAt)
	return wrap("insert build log", err)
}

// GetLatestBuildLog returns the newest log pointer for a program.
func (s *Store) GetLatestBuildLog(ctx context.Context, programID string) (model.BuildLog, error) {
	var l model.BuildLog
	var createdAt time.Time
	err := s.db.QueryRowContext(ctx, `
		SELECT id, program_id, file_name, created_at FROM build_logs
		WHERE program_id = $1 ORDER BY created_at DESC LIMIT 1`, programID,
	).Scan(&l.ID, &l.ProgramID, &l.ArtifactName, &createdAt)
	if err != nil {
		return model.BuildLog{}, wrap("get latest build log", err)
	}
	l.CreatedAt = createdAt.UTC()
	return l, nil
}

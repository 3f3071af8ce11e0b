package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/openverify/verify-api/pkg/model"
)

const buildColumns = `id, program_id, repository, commit_hash, lib_name, base_image,
	mount_path, cargo_args, bpf_flag, arch, signer, status, created_at`

// InsertBuild records a new verification attempt.
func (s *Store) InsertBuild(ctx context.Context, b model.Build) error {
	args, err := encodeCargoArgs(b.CargoArgs)
	if err != nil {
		return wrap("insert build", err)
	}
	query := `
		INSERT INTO builds (` + buildColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`
	_, err = s.db.ExecContext(ctx, query,
		b.ID, b.ProgramID, b.Repository, b.Commit, b.LibName, b.BaseImage,
		b.MountPath, args, b.BPFFlag, b.Arch, b.Signer, b.Status, b.CreatedAt,
	)
	return wrap("insert build", err)
}

// GetBuild loads a single build by id.
func (s *Store) GetBuild(ctx context.Context, id string) (model.Build, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+buildColumns+` FROM builds WHERE id = $1`, id)
	b, err := scanBuild(row)
	if err != nil {
		return model.Build{}, wrap("get build", err)
	}
	return b, nil
}

// GetLatestBuild returns the newest build for a program, regardless of signer.
func (s *Store) GetLatestBuild(ctx context.Context, programID string) (model.Build, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+buildColumns+` FROM builds
		 WHERE program_id = $1 ORDER BY created_at DESC LIMIT 1`, programID)
	b, err := scanBuild(row)
	if err != nil {
		return model.Build{}, wrap("get latest build", err)
	}
	return b, nil
}

// FindDuplicate returns the newest build matching every provided field of the
// given params for the given signer. Unset optional fields are not
// constrained.
func (s *Store) FindDuplicate(ctx context.Context, p model.BuildParams, signer string) (*model.Build, error) {
	if signer == "" {
		signer = model.SystemSigner
	}
	query := `SELECT ` + buildColumns + ` FROM builds
		WHERE program_id = $1 AND repository = $2 AND signer = $3`
	args := []any{p.ProgramID, p.Repository, signer}

	addEq := func(col string, v *string) {
		if v != nil {
			args = append(args, *v)
			query += fmt.Sprintf(" AND %s = $%d", col, len(args))
		}
	}
	addEq("commit_hash", p.Commit)
	addEq("lib_name", p.LibName)
	addEq("base_image", p.BaseImage)
	addEq("mount_path", p.MountPath)
	addEq("arch", p.Arch)
	if len(p.CargoArgs) > 0 {
		enc, err := encodeCargoArgs(p.CargoArgs)
		if err != nil {
			return nil, wrap("find duplicate", err)
		}
		args = append(args, enc)
		query += fmt.Sprintf(" AND cargo_args = $%d", len(args))
	}
	args = append(args, p.BPFFlag)
	query += fmt.Sprintf(" AND bpf_flag = $%d", len(args))
	query += ` ORDER BY created_at DESC LIMIT 1`

	row := s.db.QueryRowContext(ctx, query, args...)
	b, err := scanBuild(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, wrap("find duplicate", err)
	}
	return &b, nil
}

// UpdateBuildStatus transitions a build's job status.
func (s *Store) UpdateBuildStatus(ctx context.Context, id string, status model.JobStatus) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE builds SET status = $1 WHERE id = $2`, status, id)
	return wrap("update build status", err)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBuild(row rowScanner) (model.Build, error) {
	var b model.Build
	var commit, libName, baseImage, mountPath, arch, cargoArgs sql.NullString
	var createdAt time.Time
	err := row.Scan(&b.ID, &b.ProgramID, &b.Repository, &commit, &libName,
		&baseImage, &mountPath, &cargoArgs, &b.BPFFlag, &arch, &b.Signer,
		&b.Status, &createdAt)
	if err != nil {
		return model.Build{}, err
	}
	b.Commit = nullableString(commit)
	b.LibName = nullableString(libName)
	b.BaseImage = nullableString(baseImage)
	b.MountPath = nullableString(mountPath)
	b.Arch = nullableString(arch)
	b.CreatedAt = createdAt.UTC()
	if cargoArgs.Valid && cargoArgs.String != "" {
		if err := json.Unmarshal([]byte(cargoArgs.String), &b.CargoArgs); err != nil {
			return model.Build{}, fmt.Errorf("corrupt cargo_args: %w", err)
		}
	}
	return b, nil
}

func nullableString(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}

// encodeCargoArgs serializes the ordered argument list as JSON text. An empty
// list encodes as NULL so equality matching treats it as unset.
func encodeCargoArgs(args []string) (any, error) {
	if len(args) == 0 {
		return nil, nil
	}
	enc, err := json.Marshal(args)
	if err != nil {
		return nil, err
	}
	return string(enc), nil
}

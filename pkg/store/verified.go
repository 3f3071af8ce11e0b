package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/openverify/verify-api/pkg/model"
)

// VerifiedRow pairs a verification result with the build that produced it.
type VerifiedRow struct {
	Verified model.VerifiedProgram
	Build    model.Build
}

// SignerRow is one entry of ListVerifiedWithSigner: the newest build per
// signer plus its verification result and the cached frozen flag.
type SignerRow struct {
	Build    model.Build
	Verified *model.VerifiedProgram
	IsFrozen bool
}

// UpsertVerified writes a verification result, keyed by build id so a re-run
// of the same attempt overwrites rather than duplicates.
func (s *Store) UpsertVerified(ctx context.Context, vp model.VerifiedProgram) error {
	query := `
		INSERT INTO verified_programs
			(id, program_id, is_verified, on_chain_hash, executable_hash, verified_at, build_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (build_id) DO UPDATE SET
			is_verified = $3,
			on_chain_hash = $4,
			executable_hash = $5,
			verified_at = $6
	`
	_, err := s.db.ExecContext(ctx, query,
		vp.ID, vp.ProgramID, vp.IsVerified, vp.OnChainHash, vp.ExecutableHash,
		vp.VerifiedAt, vp.BuildID,
	)
	return wrap("upsert verified", err)
}

// UpdateOnChainHash records a fresh on-chain hash for every result row of a
// program and bumps verified_at.
func (s *Store) UpdateOnChainHash(ctx context.Context, programID, newHash string, isVerified bool) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE verified_programs
		SET on_chain_hash = $2, is_verified = $3, verified_at = $4
		WHERE program_id = $1`,
		programID, newHash, isVerified, time.Now().UTC(),
	)
	return wrap("update onchain hash", err)
}

// UpdateOnChainHashRow is the single-row variant of UpdateOnChainHash, used
// by the per-signer read path where each row's verdict depends on its own
// executable hash.
func (s *Store) UpdateOnChainHashRow(ctx context.Context, verifiedID, newHash string, isVerified bool) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE verified_programs
		SET on_chain_hash = $2, is_verified = $3, verified_at = $4
		WHERE id = $1`,
		verifiedID, newHash, isVerified, time.Now().UTC(),
	)
	return wrap("update onchain hash row", err)
}

// MarkUnverified flips is_verified to false for every result row of a
// program without touching the stored hashes. Used when a program is closed.
func (s *Store) MarkUnverified(ctx context.Context, programID string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE verified_programs SET is_verified = FALSE WHERE program_id = $1`,
		programID,
	)
	return wrap("mark unverified", err)
}

// GetVerified returns the newest verification result for a program. With an
// explicit signer only that signer's builds qualify; without one, any build
// signed by the trust set, the cached on-chain authority, or the zero address
// qualifies.
func (s *Store) GetVerified(ctx context.Context, programID string, signer *string) (VerifiedRow, error) {
	signers := make([]string, 0, len(model.TrustedSigners)+1)
	if signer != nil && *signer != "" {
		signers = append(signers, *signer)
	} else {
		signers = append(signers, model.TrustedSigners...)
		if auth, err := s.GetProgramAuthority(ctx, programID); err == nil && auth.Authority != nil {
			signers = append(signers, *auth.Authority)
		}
	}

	placeholders := make([]string, len(signers))
	args := []any{programID}
	for i, sg := range signers {
		args = append(args, sg)
		placeholders[i] = fmt.Sprintf("$%d", len(args))
	}
	query := fmt.Sprintf(`
		SELECT v.id, v.program_id, v.is_verified, v.on_chain_hash, v.executable_hash,
		       v.verified_at, v.build_id, %s
		FROM verified_programs v
		JOIN builds b ON b.id = v.build_id
		WHERE v.program_id = $1 AND b.signer IN (%s)
		ORDER BY v.verified_at DESC
		LIMIT 1`, prefixedBuildColumns("b"), strings.Join(placeholders, ", "))

	row := s.db.QueryRowContext(ctx, query, args...)
	vr, err := scanVerifiedRow(row)
	if err != nil {
		return VerifiedRow{}, wrap("get verified", err)
	}
	return vr, nil
}

// ListVerifiedWithSigner returns the newest verified build per signer for a
// program, restricted to rows whose result is currently verified.
func (s *Store) ListVerifiedWithSigner(ctx context.Context, programID string) ([]SignerRow, error) {
	query := fmt.Sprintf(`
		SELECT v.id, v.program_id, v.is_verified, v.on_chain_hash, v.executable_hash,
		       v.verified_at, v.build_id, %s, COALESCE(pa.is_frozen, FALSE)
		FROM verified_programs v
		JOIN builds b ON b.id = v.build_id
		LEFT JOIN program_authority pa ON pa.program_id = v.program_id
		WHERE v.program_id = $1 AND v.is_verified = TRUE
		ORDER BY b.created_at DESC`, prefixedBuildColumns("b"))

	rows, err := s.db.QueryContext(ctx, query, programID)
	if err != nil {
		return nil, wrap("list verified with signer", err)
	}
	defer func() { _ = rows.Close() }()

	seen := make(map[string]bool)
	var out []SignerRow
	for rows.Next() {
		var vp model.VerifiedProgram
		var b model.Build
		var frozen bool
		if err := scanVerifiedAndBuild(rows, &vp, &b, &frozen); err != nil {
			return nil, wrap("list verified with signer", err)
		}
		if seen[b.Signer] {
			continue
		}
		seen[b.Signer] = true
		v := vp
		out = append(out, SignerRow{Build: b, Verified: &v, IsFrozen: frozen})
	}
	if err := rows.Err(); err != nil {
		return nil, wrap("list verified with signer", err)
	}
	return out, nil
}

// ListAllVerifiedProgramIDs returns the sorted distinct set of programs with
// at least one currently-verified result.
func (s *Store) ListAllVerifiedProgramIDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT program_id FROM verified_programs
		WHERE is_verified = TRUE ORDER BY program_id`)
	if err != nil {
		return nil, wrap("list verified program ids", err)
	}
	defer func() { _ = rows.Close() }()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, wrap("list verified program ids", err)
		}
		out = append(out, id)
	}
	if err := rows.Err(); err != nil {
		return nil, wrap("list verified program ids", err)
	}
	return out, nil
}

// ListVerifiedPrograms pages through the distinct verified set. Page numbers
// start at 1.
func (s *Store) ListVerifiedPrograms(ctx context.Context, page, pageSize int) ([]string, error) {
	if page < 1 {
		page = 1
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT program_id FROM verified_programs
		WHERE is_verified = TRUE ORDER BY program_id
		LIMIT $1 OFFSET $2`, pageSize, (page-1)*pageSize)
	if err != nil {
		return nil, wrap("list verified programs", err)
	}
	defer func() { _ = rows.Close() }()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, wrap("list verified programs", err)
		}
		out = append(out, id)
	}
	if err := rows.Err(); err != nil {
		return nil, wrap("list verified programs", err)
	}
	return out, nil
}

func prefixedBuildColumns(alias string) string {
	cols := strings.Split(strings.ReplaceAll(buildColumns, "\n", " "), ",")
	for i, c := range cols {
		cols[i] = alias + "." + strings.TrimSpace(c)
	}
	return strings.Join(cols, ", ")
}

func scanVerifiedRow(row rowScanner) (VerifiedRow, error) {
	var vr VerifiedRow
	if err := scanVerifiedAndBuild(row, &vr.Verified, &vr.Build, nil); err != nil {
		return VerifiedRow{}, err
	}
	return vr, nil
}

// scanVerifiedAndBuild scans a verified_programs row joined to its build.
// frozen, when non-nil, receives a trailing is_frozen column.
func scanVerifiedAndBuild(row rowScanner, vp *model.VerifiedProgram, b *model.Build, frozen *bool) error {
	var commit, libName, baseImage, mountPath, arch, cargoArgs sql.NullString
	var verifiedAt, createdAt time.Time

	dest := []any{
		&vp.ID, &vp.ProgramID, &vp.IsVerified, &vp.OnChainHash, &vp.ExecutableHash,
		&verifiedAt, &vp.BuildID,
		&b.ID, &b.ProgramID, &b.Repository, &commit, &libName, &baseImage,
		&mountPath, &cargoArgs, &b.BPFFlag, &arch, &b.Signer, &b.Status, &createdAt,
	}
	if frozen != nil {
		dest = append(dest, frozen)
	}
	if err := row.Scan(dest...); err != nil {
		return err
	}
	vp.VerifiedAt = verifiedAt.UTC()
	b.Commit = nullableString(commit)
	b.LibName = nullableString(libName)
	b.BaseImage = nullableString(baseImage)
	b.MountPath = nullableString(mountPath)
	b.Arch = nullableString(arch)
	b.CreatedAt = createdAt.UTC()
	if cargoArgs.Valid && cargoArgs.String != "" {
		if err := json.Unmarshal([]byte(cargoArgs.String), &b.CargoArgs); err != nil {
			return fmt.Errorf("corrupt cargo_args: %w", err)
		}
	}
	return nil
}

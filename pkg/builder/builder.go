// Package builder runs one verification attempt: it invokes the sandboxed
// verifier tool against a source repository, parses the resulting hashes, and
// records the outcome.
package builder

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/openverify/verify-api/pkg/model"
	"github.com/openverify/verify-api/pkg/observability"
	"github.com/openverify/verify-api/pkg/store"
)

// verifierTool is the external sandboxed builder binary.
const verifierTool = "solana-verify"

// buildAddressSpaceLimit caps the builder's address space at 2 GiB.
const buildAddressSpaceLimit = 2 << 30

// BuildError is a nonzero exit from the verifier tool; Output carries the
// tool's stdout for the audit log.
type BuildError struct {
	Output string
}

func (e *BuildError) Error() string {
	return fmt.Sprintf("builder: verification build failed: %s", firstLine(e.Output))
}

// Engine executes verification attempts and writes their results. It has no
// knowledge of request handling; callers hand it a build row to run.
type Engine struct {
	store   *store.Store
	metrics *observability.Provider
	logger  *slog.Logger
}

// New returns an Engine writing results through st.
func New(st *store.Store) *Engine {
	return &Engine{
		store:  st,
		logger: slog.Default().With("component", "builder"),
	}
}

// WithMetrics enables RED metrics around each build.
func (e *Engine) WithMetrics(p *observability.Provider) *Engine {
	e.metrics = p
	return e
}

// Run executes the verification attempt recorded as buildID. On success it
// upserts the VerifiedProgram result and only then marks the build Completed,
// so a reader observing Completed can always observe the result. On any
// failure, the tool's or the store's, the build is marked Failed so it never
// reads as in-progress forever.
func (e *Engine) Run(ctx context.Context, params model.BuildParams, buildID string) (model.VerifiedProgram, error) {
	done := func(error) {}
	if e.metrics != nil {
		done = e.metrics.TrackOperation(ctx, "build",
			attribute.String("program_id", params.ProgramID))
	}

	vp, err := e.execute(ctx, params, buildID)
	if err != nil {
		e.markFailed(ctx, buildID)
		done(err)
		return model.VerifiedProgram{}, err
	}
	if err := e.record(ctx, vp, buildID); err != nil {
		done(err)
		return model.VerifiedProgram{}, err
	}
	done(nil)

	log := model.BuildLog{
		ID:           uuid.New().String(),
		ProgramID:    params.ProgramID,
		ArtifactName: buildID + ".log",
		CreatedAt:    time.Now().UTC(),
	}
	if err := e.store.InsertBuildLog(ctx, log); err != nil {
		e.logger.Warn("failed to record build log", "build_id", buildID, "error", err)
	}

	e.logger.Info("verification finished",
		"program_id", params.ProgramID,
		"build_id", buildID,
		"verified", vp.IsVerified)
	return vp, nil
}

// record writes the result row, then flips the build to Completed. If either
// write fails the build is marked Failed instead.
func (e *Engine) record(ctx context.Context, vp model.VerifiedProgram, buildID string) error {
	if err := e.store.UpsertVerified(ctx, vp); err != nil {
		e.markFailed(ctx, buildID)
		return err
	}
	if err := e.store.UpdateBuildStatus(ctx, buildID, model.JobCompleted); err != nil {
		e.markFailed(ctx, buildID)
		return err
	}
	return nil
}

func (e *Engine) markFailed(ctx context.Context, buildID string) {
	if err := e.store.UpdateBuildStatus(ctx, buildID, model.JobFailed); err != nil {
		e.logger.Error("failed to mark build failed", "build_id", buildID, "error", err)
	}
}

// execute spawns the verifier tool and parses its output. The process-wide
// address-space limit is lowered around the child and restored on every exit
// path.
func (e *Engine) execute(ctx context.Context, params model.BuildParams, buildID string) (model.VerifiedProgram, error) {
	restore, err := applyAddressSpaceLimit(buildAddressSpaceLimit)
	if err != nil {
		return model.VerifiedProgram{}, fmt.Errorf("builder: set address-space limit: %w", err)
	}
	defer restore()

	cmd := exec.CommandContext(ctx, verifierTool, buildArgs(params)...)
	// The tool may prompt before uploading results; decline.
	cmd.Stdin = strings.NewReader("n\n")
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	e.logger.Info("starting verification build",
		"program_id", params.ProgramID,
		"build_id", buildID,
		"repository", params.Repository)

	if err := cmd.Run(); err != nil {
		return model.VerifiedProgram{}, &BuildError{Output: stdout.String()}
	}

	onChain, executable := ParseBuildOutput(stdout.String())
	return model.VerifiedProgram{
		ID:             uuid.New().String(),
		ProgramID:      params.ProgramID,
		IsVerified:     onChain != "" && onChain == executable,
		OnChainHash:    onChain,
		ExecutableHash: executable,
		VerifiedAt:     time.Now().UTC(),
		BuildID:        buildID,
	}, nil
}

// buildArgs assembles the verify-from-repo invocation for the given params.
func buildArgs(p model.BuildParams) []string {
	args := []string{"verify-from-repo", "-um"}
	if p.Commit != nil && *p.Commit != "" {
		args = append(args, "--commit-hash", *p.Commit)
	}
	if p.LibName != nil && *p.LibName != "" {
		args = append(args, "--library-name", *p.LibName)
	}
	if p.BaseImage != nil && *p.BaseImage != "" {
		args = append(args, "--base-image", *p.BaseImage)
	}
	if p.MountPath != nil && *p.MountPath != "" {
		args = append(args, "--mount-path", *p.MountPath)
	}
	if p.BPFFlag {
		args = append(args, "--bpf")
	}
	args = append(args, "--program-id", p.ProgramID, p.Repository)
	if len(p.CargoArgs) > 0 {
		args = append(args, "--")
		args = append(args, p.CargoArgs...)
	}
	return args
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

// Package verify orchestrates verification requests: chain setup,
// deduplication, dispatching builds, and reconciling cache, store, and chain
// state on the read path.
package verify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/openverify/verify-api/pkg/builder"
	"github.com/openverify/verify-api/pkg/cache"
	"github.com/openverify/verify-api/pkg/chain"
	"github.com/openverify/verify-api/pkg/model"
	"github.com/openverify/verify-api/pkg/store"
)

// ErrNoPda means no otter-verify PDA exists for the program; the submitter
// has not registered build parameters on chain.
var ErrNoPda = errors.New("verify: no otter-verify pda found for program")

// ChainReader is the chain surface the resolver needs. *chain.Client
// satisfies it.
type ChainReader interface {
	GetProgramAuthority(ctx context.Context, programID string) (chain.AuthorityInfo, error)
	GetOtterVerifyParams(ctx context.Context, programID string, explicitSigner, authority *string) (*chain.OtterBuildParams, string, error)
	GetOnChainHash(ctx context.Context, programID string) (string, error)
	FetchPdaAccount(ctx context.Context, pda string) (*chain.OtterBuildParams, error)
}

// BuildRunner executes one recorded verification attempt. *builder.Engine
// satisfies it.
type BuildRunner interface {
	Run(ctx context.Context, params model.BuildParams, buildID string) (model.VerifiedProgram, error)
}

// Service handles verification submissions and status reads. It invokes the
// build engine through a single directed call edge; the engine knows nothing
// about the service.
type Service struct {
	store    *store.Store
	cache    *cache.Cache
	chain    ChainReader
	engine   BuildRunner
	notifier *Notifier
	logger   *slog.Logger

	// bg roots fire-and-forget work so it survives request cancellation.
	bg context.Context
}

// NewService wires the resolver over its collaborators.
func NewService(st *store.Store, ca *cache.Cache, ch ChainReader, eng BuildRunner) *Service {
	return &Service{
		store:    st,
		cache:    ca,
		chain:    ch,
		engine:   eng,
		notifier: NewNotifier(),
		logger:   slog.Default().With("component", "verify"),
		bg:       context.Background(),
	}
}

// spawn runs fn on the long-lived background context.
func (s *Service) spawn(name string, fn func(ctx context.Context)) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				s.logger.Error("background task panicked", "task", name, "panic", r)
			}
		}()
		fn(s.bg)
	}()
}

// SubmitResult is the tagged answer to a submission: exactly one branch is
// set. Ack acknowledges a running job; Status carries a finished verdict.
type SubmitResult struct {
	Ack    *model.VerifyAck
	Status *model.StatusResponse
}

// SetupVerification resolves a submission against the chain: current
// authority (closure tolerated as data, other read failures swallowed), the
// build-params PDA, and a best-effort refresh of the cached authority row.
func (s *Service) SetupVerification(ctx context.Context, programID string, explicitSigner *string) (model.BuildParams, string, error) {
	info, err := s.chain.GetProgramAuthority(ctx, programID)
	if err != nil {
		// Authority is advisory here; the PDA scan decides success.
		s.logger.Warn("authority read failed during setup", "program_id", programID, "error", err)
		info = chain.AuthorityInfo{}
	}

	params, signer, err := s.chain.GetOtterVerifyParams(ctx, programID, explicitSigner, info.Authority)
	if err != nil {
		if errors.Is(err, chain.ErrPdaNotFound) {
			return model.BuildParams{}, "", ErrNoPda
		}
		return model.BuildParams{}, "", err
	}

	closed := info.IsClosed
	if err := s.store.UpsertProgramAuthority(ctx, programID, info.Authority, info.IsFrozen, &closed); err != nil {
		s.logger.Warn("authority upsert failed during setup", "program_id", programID, "error", err)
	}

	return params.ToBuildParams(), signer, nil
}

// Verify handles a submission. With sync=false it spawns the build and
// acknowledges with the request id; with sync=true it runs the build inline
// and returns the final verdict. Either way an identical prior attempt is
// answered from its existing row instead of starting a new build.
func (s *Service) Verify(ctx context.Context, programID string, explicitSigner *string, webhookURL string, sync bool) (SubmitResult, error) {
	params, signer, err := s.SetupVerification(ctx, programID, explicitSigner)
	if err != nil {
		return SubmitResult{}, err
	}

	dup, err := s.store.FindDuplicate(ctx, params, signer)
	if err != nil {
		return SubmitResult{}, err
	}
	if dup != nil {
		switch dup.Status {
		case model.JobCompleted:
			resp := s.completedResponse(ctx, dup)
			s.spawn("check-program-closed", func(ctx context.Context) {
				s.CheckProgramClosed(ctx, programID)
			})
			return SubmitResult{Status: resp}, nil
		case model.JobInProgress:
			return SubmitResult{Ack: &model.VerifyAck{
				Status:    model.JobInProgress,
				RequestID: dup.ID,
				Message:   "verification already in progress",
			}}, nil
		}
		// Failed or Unused: fall through to a fresh attempt.
	}

	// Audit row preserving the deduped source of this attempt, then the row
	// the engine actually runs against.
	seed := model.NewBuild(uuid.New().String(), params, signer, model.JobCompleted)
	if err := s.store.InsertBuild(ctx, seed); err != nil {
		return SubmitResult{}, err
	}
	attempt := model.NewBuild(uuid.New().String(), params, signer, model.JobInProgress)
	if err := s.store.InsertBuild(ctx, attempt); err != nil {
		return SubmitResult{}, err
	}

	if sync {
		vp, err := s.engine.Run(ctx, params, attempt.ID)
		if err != nil {
			var berr *builder.BuildError
			if errors.As(err, &berr) {
				return SubmitResult{}, berr
			}
			return SubmitResult{}, err
		}
		s.invalidateStatus(ctx, programID)
		return SubmitResult{Status: s.statusFromResult(vp, params, signer)}, nil
	}

	s.spawn("verify-build", func(ctx context.Context) {
		vp, err := s.engine.Run(ctx, params, attempt.ID)
		s.invalidateStatus(ctx, programID)
		if webhookURL != "" {
			s.notifier.Notify(ctx, webhookURL, webhookNotification(attempt.ID, vp, err))
		}
	})

	return SubmitResult{Ack: &model.VerifyAck{
		Status:    model.JobInProgress,
		RequestID: attempt.ID,
		Message:   "verification request received",
	}}, nil
}

// CheckProgramClosed re-reads the program's authority and, if the program is
// closed, flips every stored result to unverified.
func (s *Service) CheckProgramClosed(ctx context.Context, programID string) {
	info, err := s.chain.GetProgramAuthority(ctx, programID)
	if err != nil {
		s.logger.Warn("closed check failed", "program_id", programID, "error", err)
		return
	}
	if !info.IsClosed {
		return
	}
	closed := true
	if err := s.store.UpsertProgramAuthority(ctx, programID, nil, info.IsFrozen, &closed); err != nil {
		s.logger.Warn("authority upsert failed", "program_id", programID, "error", err)
	}
	if err := s.store.MarkUnverified(ctx, programID); err != nil {
		s.logger.Warn("mark unverified failed", "program_id", programID, "error", err)
	}
	s.invalidateStatus(ctx, programID)
}

// ReverifyProgram starts a fresh attempt for a previously-built program,
// preferring the current on-chain params when they disagree with the stored
// build. It never blocks the caller.
func (s *Service) ReverifyProgram(build model.Build) {
	s.spawn("reverify", func(ctx context.Context) {
		params := build.Params()
		signer := build.Signer

		var explicit *string
		if build.Signer != model.SystemSigner {
			explicit = &build.Signer
		}
		if chainParams, chainSigner, err := s.SetupVerification(ctx, build.ProgramID, explicit); err == nil {
			params = chainParams
			signer = chainSigner
		} else {
			s.logger.Warn("reverify setup failed, using stored params",
				"program_id", build.ProgramID, "error", err)
		}

		attempt := model.NewBuild(uuid.New().String(), params, signer, model.JobInProgress)
		if err := s.store.InsertBuild(ctx, attempt); err != nil {
			s.logger.Error("reverify insert failed", "program_id", build.ProgramID, "error", err)
			return
		}
		if _, err := s.engine.Run(ctx, params, attempt.ID); err != nil {
			s.logger.Warn("reverify build failed", "program_id", build.ProgramID, "error", err)
		}
		s.invalidateStatus(ctx, build.ProgramID)
	})
}

// completedResponse answers a dedupe hit from the stored result.
func (s *Service) completedResponse(ctx context.Context, dup *model.Build) *model.StatusResponse {
	signer := dup.Signer
	vr, err := s.store.GetVerified(ctx, dup.ProgramID, &signer)
	if err != nil {
		if !store.IsNotFound(err) {
			s.logger.Warn("completed lookup failed", "program_id", dup.ProgramID, "error", err)
		}
		return unverifiedResponse(dup, "verification result missing for completed build")
	}
	return s.statusFromRow(vr)
}

// invalidateStatus drops the cached read-path entries after a state change.
func (s *Service) invalidateStatus(ctx context.Context, programID string) {
	s.cache.Del(ctx, cache.StatusKey(programID), cache.StatusAllKey(programID))
}

func webhookNotification(requestID string, vp model.VerifiedProgram, err error) model.WebhookNotification {
	if err != nil {
		return model.WebhookNotification{
			Status:    model.JobFailed,
			RequestID: requestID,
			Message:   fmt.Sprintf("verification failed: %v", err),
		}
	}
	return model.WebhookNotification{
		Status:         model.JobCompleted,
		RequestID:      requestID,
		OnChainHash:    vp.OnChainHash,
		ExecutableHash: vp.ExecutableHash,
		Message:        verdictMessage(vp.IsVerified),
	}
}

func verdictMessage(verified bool) string {
	if verified {
		return "on-chain program verified"
	}
	return "on-chain program not verified"
}

package verify

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/openverify/verify-api/pkg/cache"
	"github.com/openverify/verify-api/pkg/chain"
	"github.com/openverify/verify-api/pkg/model"
	"github.com/openverify/verify-api/pkg/store"
)

// CheckIsVerified resolves the one-line verdict for a program. It consults
// the response cache, then the store, then live chain state, repairing any
// divergence it finds. The answer never fails on a readable stored row: the
// freshest assembled view is returned and repairs happen in the background.
func (s *Service) CheckIsVerified(ctx context.Context, programID string, authorityInfo *chain.AuthorityInfo) (*model.StatusResponse, error) {
	var cached model.StatusResponse
	if err := s.cache.GetJSON(ctx, cache.StatusKey(programID), &cached); err == nil {
		return &cached, nil
	}

	// Store reads fan out; each tolerates not-found independently.
	var (
		vr        store.VerifiedRow
		haveRow   bool
		lastBuild *model.Build
		dbFrozen  bool
		dbClosed  bool
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		row, err := s.store.GetVerified(gctx, programID, nil)
		if store.IsNotFound(err) {
			return nil
		}
		if err != nil {
			return err
		}
		vr, haveRow = row, true
		return nil
	})
	g.Go(func() error {
		b, err := s.store.GetLatestBuild(gctx, programID)
		if store.IsNotFound(err) {
			return nil
		}
		if err != nil {
			return err
		}
		lastBuild = &b
		return nil
	})
	g.Go(func() error {
		pa, err := s.store.GetProgramAuthority(gctx, programID)
		if store.IsNotFound(err) {
			return nil
		}
		if err != nil {
			return err
		}
		dbFrozen, dbClosed = pa.IsFrozen, pa.IsClosed
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if !haveRow {
		resp := unverifiedResponse(lastBuild, "program is not verified")
		s.cache.SetJSON(ctx, cache.StatusKey(programID), resp, cache.TTLStatus)
		return resp, nil
	}

	// A program the sweeper recorded as closed answers from the store alone;
	// its accounts are gone, so there is nothing to ask the chain.
	if dbClosed {
		resp := s.statusFromRow(vr)
		resp.IsVerified = false
		resp.Message = verdictMessage(false)
		s.cache.SetJSON(ctx, cache.StatusKey(programID), resp, cache.TTLStatus)
		return resp, nil
	}

	// Resolve the frozen flag: caller-provided beats DB beats live chain.
	liveFrozen := dbFrozen
	switch {
	case authorityInfo != nil:
		liveFrozen = authorityInfo.IsFrozen
	case dbFrozen:
		// A frozen program cannot thaw; trust the cached flag.
	default:
		if info, err := s.chain.GetProgramAuthority(ctx, programID); err == nil {
			liveFrozen = info.IsFrozen
			if dbFrozen != liveFrozen {
				closed := info.IsClosed
				if uerr := s.store.UpsertProgramAuthority(ctx, programID, info.Authority, info.IsFrozen, &closed); uerr != nil {
					s.logger.Warn("authority refresh failed", "program_id", programID, "error", uerr)
				}
			}
		} else {
			s.logger.Warn("live authority read failed", "program_id", programID, "error", err)
		}
	}

	// Fast path: the cached on-chain hash already matches this executable.
	if s.cache.Compare(ctx, programID, vr.Verified.ExecutableHash) {
		resp := s.statusFromRow(vr)
		resp.IsVerified = true
		resp.OnChainHash = vr.Verified.ExecutableHash
		resp.Message = verdictMessage(true)
		s.cache.SetJSON(ctx, cache.StatusKey(programID), resp, cache.TTLStatus)
		return resp, nil
	}

	if liveFrozen {
		// Immutable bytecode: the stored comparison stands.
		resp := s.statusFromRow(vr)
		s.cache.SetJSON(ctx, cache.StatusKey(programID), resp, cache.TTLStatus)
		return resp, nil
	}

	resp := s.statusFromRow(vr)
	hash, err := s.chain.GetOnChainHash(ctx, programID)
	if err != nil {
		// Answer from stored values; repair next time the chain responds.
		s.logger.Warn("on-chain hash recompute failed", "program_id", programID, "error", err)
	} else {
		s.cache.Set(ctx, programID, hash, cache.TTLOnChainHash)
		if hash != vr.Verified.OnChainHash {
			verified := hash == vr.Verified.ExecutableHash
			if uerr := s.store.UpdateOnChainHash(ctx, programID, hash, verified); uerr != nil {
				s.logger.Warn("onchain hash update failed", "program_id", programID, "error", uerr)
			}
			resp.OnChainHash = hash
			resp.IsVerified = verified
			resp.Message = verdictMessage(verified)
			if !verified {
				// Bytecode drifted away from the last build: rebuild.
				s.ReverifyProgram(vr.Build)
			}
		}
	}

	s.cache.SetJSON(ctx, cache.StatusKey(programID), resp, cache.TTLStatus)
	return resp, nil
}

// GetAllVerificationInfo resolves per-signer verdicts for a program,
// reconciling each row against the current on-chain hash.
func (s *Service) GetAllVerificationInfo(ctx context.Context, programID string) ([]model.SignerStatus, error) {
	var cached []model.SignerStatus
	if err := s.cache.GetJSON(ctx, cache.StatusAllKey(programID), &cached); err == nil {
		return cached, nil
	}

	rows, err := s.store.ListVerifiedWithSigner(ctx, programID)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		s.cache.SetJSON(ctx, cache.StatusAllKey(programID), []model.SignerStatus{}, cache.TTLStatusAll)
		return []model.SignerStatus{}, nil
	}

	onChainHash, err := s.cache.Get(ctx, programID)
	if err != nil {
		onChainHash, err = s.chain.GetOnChainHash(ctx, programID)
		if err != nil {
			s.logger.Warn("on-chain hash recompute failed", "program_id", programID, "error", err)
			onChainHash = ""
		} else {
			s.cache.Set(ctx, programID, onChainHash, cache.TTLOnChainHash)
		}
	}

	reverifyNeeded := false
	authorityChecked := false
	out := make([]model.SignerStatus, 0, len(rows))
	for _, row := range rows {
		verified := row.Verified.IsVerified
		rowHash := row.Verified.OnChainHash

		if onChainHash != "" && onChainHash != row.Verified.ExecutableHash {
			if uerr := s.store.UpdateOnChainHashRow(ctx, row.Verified.ID, onChainHash, false); uerr != nil {
				s.logger.Warn("onchain hash row update failed", "program_id", programID, "error", uerr)
			}
			verified = false
			rowHash = onChainHash
			reverifyNeeded = true
		}

		frozen := row.IsFrozen
		if !frozen && !authorityChecked {
			authorityChecked = true
			if info, cerr := s.chain.GetProgramAuthority(ctx, programID); cerr == nil {
				frozen = info.IsFrozen
				if info.IsFrozen != row.IsFrozen || info.IsClosed {
					closed := info.IsClosed
					if uerr := s.store.UpsertProgramAuthority(ctx, programID, info.Authority, info.IsFrozen, &closed); uerr != nil {
						s.logger.Warn("authority refresh failed", "program_id", programID, "error", uerr)
					}
				}
			}
		}

		var verifiedAt *int64
		ts := row.Verified.VerifiedAt.Unix()
		verifiedAt = &ts
		out = append(out, model.SignerStatus{
			Signer:         row.Build.Signer,
			IsVerified:     verified,
			IsFrozen:       frozen,
			OnChainHash:    rowHash,
			ExecutableHash: row.Verified.ExecutableHash,
			RepoURL:        row.Build.Repository,
			Commit:         stringOrEmpty(row.Build.Commit),
			LastVerifiedAt: verifiedAt,
		})
	}

	if reverifyNeeded {
		if latest, lerr := s.store.GetLatestBuild(ctx, programID); lerr == nil {
			s.ReverifyProgram(latest)
		}
	}

	s.cache.SetJSON(ctx, cache.StatusAllKey(programID), out, cache.TTLStatusAll)
	return out, nil
}

// GetVerifiedProgramsStatus assembles the stored verdict for every program
// with at least one verified result. Fleet reads answer from the store only;
// the sweeper keeps those rows fresh.
func (s *Service) GetVerifiedProgramsStatus(ctx context.Context) ([]model.ProgramStatus, error) {
	ids, err := s.store.ListAllVerifiedProgramIDs(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]model.ProgramStatus, 0, len(ids))
	for _, id := range ids {
		vr, err := s.store.GetVerified(ctx, id, nil)
		if store.IsNotFound(err) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, model.ProgramStatus{ProgramID: id, StatusResponse: *s.statusFromRow(vr)})
	}
	return out, nil
}

// statusFromRow builds the verdict response from a stored result row.
func (s *Service) statusFromRow(vr store.VerifiedRow) *model.StatusResponse {
	ts := vr.Verified.VerifiedAt.Unix()
	return &model.StatusResponse{
		IsVerified:     vr.Verified.IsVerified,
		Message:        verdictMessage(vr.Verified.IsVerified),
		OnChainHash:    vr.Verified.OnChainHash,
		ExecutableHash: vr.Verified.ExecutableHash,
		RepoURL:        vr.Build.Repository,
		Commit:         stringOrEmpty(vr.Build.Commit),
		LastVerifiedAt: &ts,
		Signer:         vr.Build.Signer,
	}
}

// statusFromResult builds the verdict response for a just-finished attempt.
func (s *Service) statusFromResult(vp model.VerifiedProgram, params model.BuildParams, signer string) *model.StatusResponse {
	ts := vp.VerifiedAt.Unix()
	return &model.StatusResponse{
		IsVerified:     vp.IsVerified,
		Message:        verdictMessage(vp.IsVerified),
		OnChainHash:    vp.OnChainHash,
		ExecutableHash: vp.ExecutableHash,
		RepoURL:        params.Repository,
		Commit:         stringOrEmpty(params.Commit),
		LastVerifiedAt: &ts,
		Signer:         signer,
	}
}

func unverifiedResponse(lastBuild *model.Build, message string) *model.StatusResponse {
	resp := &model.StatusResponse{
		IsVerified: false,
		Message:    message,
	}
	if lastBuild != nil {
		resp.RepoURL = lastBuild.Repository
		resp.Commit = stringOrEmpty(lastBuild.Commit)
		resp.Signer = lastBuild.Signer
	}
	return resp
}

func stringOrEmpty(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}

package chain

import (
	"context"
	"errors"
	"log/slog"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"

	"github.com/openverify/verify-api/pkg/model"
)

// OtterVerifyProgramID is the on-chain verifier program that owns the
// build-params PDAs.
var OtterVerifyProgramID = solana.MustPublicKeyFromBase58("verifycLy8mB96wd9wqq3WDXQwM4oU6r42Th37Db9fC")

// pdaSeedTag is the fixed first seed of every build-params PDA.
var pdaSeedTag = []byte("otter_verify")

// DeriveOtterPda derives the build-params PDA for (signer, program).
func DeriveOtterPda(signer, program solana.PublicKey) (solana.PublicKey, error) {
	addr, _, err := solana.FindProgramAddress(
		[][]byte{pdaSeedTag, signer.Bytes(), program.Bytes()},
		OtterVerifyProgramID,
	)
	return addr, err
}

// GetOtterVerifyParams finds the build-params PDA for a program. Candidates
// are tried in order: the explicit signer if provided, else the on-chain
// authority if known, then the trusted signer set. The first candidate whose
// derived account exists and decodes wins. ErrPdaNotFound when none match.
func (c *Client) GetOtterVerifyParams(ctx context.Context, programID string, signer, authority *string) (*OtterBuildParams, string, error) {
	program, err := solana.PublicKeyFromBase58(programID)
	if err != nil {
		return nil, "", err
	}

	var candidates []string
	if signer != nil && *signer != "" {
		candidates = []string{*signer}
	} else {
		if authority != nil && *authority != "" {
			candidates = append(candidates, *authority)
		}
		candidates = append(candidates, model.TrustedSigners...)
	}

	seen := make(map[string]bool)
	for _, cand := range candidates {
		if seen[cand] {
			continue
		}
		seen[cand] = true

		candidate, err := solana.PublicKeyFromBase58(cand)
		if err != nil {
			slog.Warn("skipping invalid signer candidate", "signer", cand, "error", err)
			continue
		}
		params, err := c.fetchPdaParams(ctx, candidate, program)
		if errors.Is(err, ErrPdaNotFound) {
			continue
		}
		if err != nil {
			return nil, "", err
		}
		return params, cand, nil
	}
	return nil, "", ErrPdaNotFound
}

// FetchPdaAccount loads and decodes the build-params account at an explicit
// address, as delivered by the pda-updates webhook.
func (c *Client) FetchPdaAccount(ctx context.Context, pda string) (*OtterBuildParams, error) {
	addr, err := solana.PublicKeyFromBase58(pda)
	if err != nil {
		return nil, err
	}
	return withRotation(ctx, c, "fetch_pda_account",
		func(ctx context.Context, cl *rpc.Client) (*OtterBuildParams, error) {
			acc, err := cl.GetAccountInfo(ctx, addr)
			if errors.Is(err, rpc.ErrNotFound) {
				return nil, ErrPdaNotFound
			}
			if err != nil {
				return nil, err
			}
			return DecodeOtterBuildParams(acc.Value.Data.GetBinary())
		})
}

func (c *Client) fetchPdaParams(ctx context.Context, signer, program solana.PublicKey) (*OtterBuildParams, error) {
	addr, err := DeriveOtterPda(signer, program)
	if err != nil {
		return nil, err
	}
	return withRotation(ctx, c, "get_otter_verify_params",
		func(ctx context.Context, cl *rpc.Client) (*OtterBuildParams, error) {
			acc, err := cl.GetAccountInfo(ctx, addr)
			if errors.Is(err, rpc.ErrNotFound) {
				return nil, ErrPdaNotFound
			}
			if err != nil {
				return nil, err
			}
			params, err := DecodeOtterBuildParams(acc.Value.Data.GetBinary())
			if err != nil {
				// Wrong layout: treat as a non-match, keep scanning.
				return nil, ErrPdaNotFound
			}
			return params, nil
		})
}

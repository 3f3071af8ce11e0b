package chain

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
)

// Upgradeable-loader account tags (bincode enum discriminants).
const (
	loaderStateProgram     = 2
	loaderStateProgramData = 3
)

// AuthorityInfo is the chain's current view of a program's upgradeability.
type AuthorityInfo struct {
	// Authority is the upgrade authority, nil when removed or closed.
	Authority *string
	// IsFrozen means the program-data account exists with a null authority:
	// the bytecode can never change again.
	IsFrozen bool
	// IsClosed means the program-data account has been deleted.
	IsClosed bool
	// Slot is the deployment slot, zero when closed.
	Slot uint64
}

// GetProgramAuthority reads the program account, follows it to its
// program-data account, and extracts the upgrade authority and deployment
// slot. A missing program-data account reports closed, not an error.
func (c *Client) GetProgramAuthority(ctx context.Context, programID string) (AuthorityInfo, error) {
	program, err := solana.PublicKeyFromBase58(programID)
	if err != nil {
		return AuthorityInfo{}, fmt.Errorf("invalid program id %q: %w", programID, err)
	}

	return withRotation(ctx, c, "get_program_authority",
		func(ctx context.Context, cl *rpc.Client) (AuthorityInfo, error) {
			acc, err := cl.GetAccountInfo(ctx, program)
			if errors.Is(err, rpc.ErrNotFound) {
				return AuthorityInfo{IsClosed: true}, nil
			}
			if err != nil {
				return AuthorityInfo{}, err
			}

			dataAddr, err := parseProgramAccount(acc.Value.Data.GetBinary())
			if err != nil {
				return AuthorityInfo{}, err
			}

			dataAcc, err := cl.GetAccountInfo(ctx, dataAddr)
			if errors.Is(err, rpc.ErrNotFound) {
				return AuthorityInfo{IsClosed: true}, nil
			}
			if err != nil {
				return AuthorityInfo{}, err
			}
			return parseProgramDataAccount(dataAcc.Value.Data.GetBinary())
		})
}

// parseProgramAccount extracts the program-data address from an
// upgradeable-loader Program account: u32 tag followed by a 32-byte pubkey.
func parseProgramAccount(data []byte) (solana.PublicKey, error) {
	if len(data) < 4+32 {
		return solana.PublicKey{}, fmt.Errorf("program account too short: %d bytes", len(data))
	}
	if tag := binary.LittleEndian.Uint32(data); tag != loaderStateProgram {
		return solana.PublicKey{}, fmt.Errorf("unexpected loader state tag %d, want %d", tag, loaderStateProgram)
	}
	return solana.PublicKeyFromBytes(data[4 : 4+32]), nil
}

// parseProgramDataAccount extracts slot and upgrade authority from an
// upgradeable-loader ProgramData account: u32 tag, u64 slot, then an
// option-encoded pubkey (u8 flag + 32 bytes).
func parseProgramDataAccount(data []byte) (AuthorityInfo, error) {
	if len(data) < 4+8+1 {
		return AuthorityInfo{}, fmt.Errorf("program-data account too short: %d bytes", len(data))
	}
	if tag := binary.LittleEndian.Uint32(data); tag != loaderStateProgramData {
		return AuthorityInfo{}, fmt.Errorf("unexpected loader state tag %d, want %d", tag, loaderStateProgramData)
	}
	info := AuthorityInfo{Slot: binary.LittleEndian.Uint64(data[4:12])}
	switch data[12] {
	case 0:
		// Authority permanently removed.
		info.IsFrozen = true
	case 1:
		if len(data) < 13+32 {
			return AuthorityInfo{}, fmt.Errorf("program-data authority truncated")
		}
		auth := solana.PublicKeyFromBytes(data[13 : 13+32]).String()
		info.Authority = &auth
	default:
		return AuthorityInfo{}, fmt.Errorf("invalid authority option flag %d", data[12])
	}
	return info, nil
}

package chain

import (
	"bytes"
	"fmt"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
)

// OtterBuildParams is the on-chain build-parameter record stored in a
// program's otter-verify PDA. The account data carries an 8-byte
// discriminator ahead of this borsh-encoded payload.
type OtterBuildParams struct {
	Address      solana.PublicKey
	Signer       solana.PublicKey
	Version      string
	GitURL       string
	Commit       string
	Args         []string
	DeployedSlot uint64
	Bump         uint8
}

// pdaDiscriminatorLen is the Anchor account discriminator size.
const pdaDiscriminatorLen = 8

// DecodeOtterBuildParams strips the account discriminator and decodes the
// borsh payload.
func DecodeOtterBuildParams(accountData []byte) (*OtterBuildParams, error) {
	if len(accountData) < pdaDiscriminatorLen {
		return nil, fmt.Errorf("pda account too short: %d bytes", len(accountData))
	}
	var p OtterBuildParams
	dec := bin.NewBorshDecoder(accountData[pdaDiscriminatorLen:])
	if err := dec.Decode(&p); err != nil {
		return nil, fmt.Errorf("decode otter build params: %w", err)
	}
	return &p, nil
}

// EncodeOtterBuildParams is the inverse of DecodeOtterBuildParams, minus the
// discriminator.
func EncodeOtterBuildParams(p *OtterBuildParams) ([]byte, error) {
	var buf bytes.Buffer
	enc := bin.NewBorshEncoder(&buf)
	if err := enc.Encode(*p); err != nil {
		return nil, fmt.Errorf("encode otter build params: %w", err)
	}
	return buf.Bytes(), nil
}

package chain

import (
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOtterBuildParamsRoundTrip(t *testing.T) {
	orig := &OtterBuildParams{
		Address:      solana.NewWallet().PublicKey(),
		Signer:       solana.NewWallet().PublicKey(),
		Version:      "0.2.11",
		GitURL:       "https://github.com/example/program",
		Commit:       "abc123def",
		Args:         []string{"--library-name", "my_program", "--bpf"},
		DeployedSlot: 271828182,
		Bump:         254,
	}

	payload, err := EncodeOtterBuildParams(orig)
	require.NoError(t, err)

	// Account data carries an 8-byte discriminator ahead of the payload.
	account := append(make([]byte, pdaDiscriminatorLen), payload...)
	got, err := DecodeOtterBuildParams(account)
	require.NoError(t, err)
	assert.Equal(t, orig, got)
}

func TestDecodeOtterBuildParamsRejectsShortAccount(t *testing.T) {
	_, err := DecodeOtterBuildParams([]byte{1, 2, 3})
	assert.Error(t, err)
}

func TestDeriveOtterPdaIsDeterministic(t *testing.T) {
	signer := solana.MustPublicKeyFromBase58("9VWiUUhgNoRwTH5NVehYJEDwcotwYX3VgW4MChiHPAqU")
	program := solana.MustPublicKeyFromBase58("verifycLy8mB96wd9wqq3WDXQwM4oU6r42Th37Db9fC")

	a, err := DeriveOtterPda(signer, program)
	require.NoError(t, err)
	b, err := DeriveOtterPda(signer, program)
	require.NoError(t, err)
	assert.Equal(t, a, b)

	other, err := DeriveOtterPda(program, signer)
	require.NoError(t, err)
	assert.NotEqual(t, a, other)
}

func TestToBuildParamsParsesArgs(t *testing.T) {
	p := &OtterBuildParams{
		Address: solana.NewWallet().PublicKey(),
		GitURL:  "https://github.com/example/program",
		Commit:  "abc123",
		Args: []string{
			"--library-name", "my_program",
			"-b", "solanafoundation/solana-verifiable-build:1.18",
			"--mount-path", "program",
			"--bpf",
			"--", "--features", "mainnet",
		},
	}

	bp := p.ToBuildParams()
	assert.Equal(t, p.Address.String(), bp.ProgramID)
	assert.Equal(t, "https://github.com/example/program", bp.Repository)
	require.NotNil(t, bp.Commit)
	assert.Equal(t, "abc123", *bp.Commit)
	require.NotNil(t, bp.LibName)
	assert.Equal(t, "my_program", *bp.LibName)
	require.NotNil(t, bp.BaseImage)
	assert.Equal(t, "solanafoundation/solana-verifiable-build:1.18", *bp.BaseImage)
	require.NotNil(t, bp.MountPath)
	assert.Equal(t, "program", *bp.MountPath)
	assert.True(t, bp.BPFFlag)
	assert.Equal(t, []string{"--features", "mainnet"}, bp.CargoArgs)
}

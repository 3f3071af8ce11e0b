package chain

import (
	"encoding/binary"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func programAccountBytes(tag uint32, dataAddr solana.PublicKey) []byte {
	out := make([]byte, 4, 4+32)
	binary.LittleEndian.PutUint32(out, tag)
	return append(out, dataAddr.Bytes()...)
}

func programDataBytes(tag uint32, slot uint64, authority *solana.PublicKey) []byte {
	out := make([]byte, 12, 13+32)
	binary.LittleEndian.PutUint32(out, tag)
	binary.LittleEndian.PutUint64(out[4:], slot)
	if authority == nil {
		return append(out, 0)
	}
	out = append(out, 1)
	return append(out, authority.Bytes()...)
}

func TestParseProgramAccount(t *testing.T) {
	dataAddr := solana.NewWallet().PublicKey()

	got, err := parseProgramAccount(programAccountBytes(loaderStateProgram, dataAddr))
	require.NoError(t, err)
	assert.Equal(t, dataAddr, got)
}

func TestParseProgramAccountRejectsWrongTag(t *testing.T) {
	dataAddr := solana.NewWallet().PublicKey()

	_, err := parseProgramAccount(programAccountBytes(loaderStateProgramData, dataAddr))
	assert.Error(t, err)
}

func TestParseProgramAccountRejectsShortData(t *testing.T) {
	_, err := parseProgramAccount([]byte{2, 0, 0})
	assert.Error(t, err)
}

func TestParseProgramDataAccountWithAuthority(t *testing.T) {
	auth := solana.NewWallet().PublicKey()

	info, err := parseProgramDataAccount(programDataBytes(loaderStateProgramData, 1234, &auth))
	require.NoError(t, err)
	assert.Equal(t, uint64(1234), info.Slot)
	assert.False(t, info.IsFrozen)
	assert.False(t, info.IsClosed)
	require.NotNil(t, info.Authority)
	assert.Equal(t, auth.String(), *info.Authority)
}

func TestParseProgramDataAccountFrozen(t *testing.T) {
	info, err := parseProgramDataAccount(programDataBytes(loaderStateProgramData, 99, nil))
	require.NoError(t, err)
	assert.True(t, info.IsFrozen)
	assert.Nil(t, info.Authority)
	assert.Equal(t, uint64(99), info.Slot)
}

func TestParseProgramDataAccountRejectsBadFlag(t *testing.T) {
	data := programDataBytes(loaderStateProgramData, 1, nil)
	data[12] = 7

	_, err := parseProgramDataAccount(data)
	assert.Error(t, err)
}

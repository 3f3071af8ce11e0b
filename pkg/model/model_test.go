package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewBuildDefaultsSigner(t *testing.T) {
	p := BuildParams{ProgramID: "prog1", Repository: "https://github.com/x/y"}

	b := NewBuild("b1", p, "", JobInProgress)
	assert.Equal(t, SystemSigner, b.Signer)

	b = NewBuild("b2", p, "custom", JobInProgress)
	assert.Equal(t, "custom", b.Signer)
}

func TestBuildParamsRoundTrip(t *testing.T) {
	commit := "abc"
	lib := "my_program"
	p := BuildParams{
		ProgramID:  "prog1",
		Repository: "https://github.com/x/y",
		Commit:     &commit,
		LibName:    &lib,
		CargoArgs:  []string{"--features", "mainnet"},
		BPFFlag:    true,
	}

	b := NewBuild("b1", p, "signer", JobCompleted)
	assert.Equal(t, p, b.Params())
}

func TestIsTrustedSigner(t *testing.T) {
	assert.True(t, IsTrustedSigner(SystemSigner))
	for _, s := range TrustedSigners {
		assert.True(t, IsTrustedSigner(s))
	}
	assert.False(t, IsTrustedSigner("somebody-else"))
}

package builder

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/openverify/verify-api/pkg/model"
)

func strPtr(s string) *string { return &s }

func TestParseBuildOutput(t *testing.T) {
	out := `
Fetching source from https://github.com/example/program
Building program...
On-chain Program Hash: 7f83b1657ff1fc53b92dc18148a1d65dfc2d4b1fa3d677284addd200126d9069
Executable Program Hash from repo: 7f83b1657ff1fc53b92dc18148a1d65dfc2d4b1fa3d677284addd200126d9069
Program hash matches ✅
`
	onChain, executable := ParseBuildOutput(out)
	assert.Equal(t, "7f83b1657ff1fc53b92dc18148a1d65dfc2d4b1fa3d677284addd200126d9069", onChain)
	assert.Equal(t, onChain, executable)
}

func TestParseBuildOutputMissingHashes(t *testing.T) {
	onChain, executable := ParseBuildOutput("error: repo clone failed\n")
	assert.Empty(t, onChain)
	assert.Empty(t, executable)
}

func TestParseBuildOutputKeepsFirstOccurrence(t *testing.T) {
	out := "On-chain Program Hash: first\nOn-chain Program Hash: second\n"
	onChain, _ := ParseBuildOutput(out)
	assert.Equal(t, "first", onChain)
}

func TestBuildArgsFull(t *testing.T) {
	p := model.BuildParams{
		ProgramID:  "prog1",
		Repository: "https://github.com/example/program",
		Commit:     strPtr("abc123"),
		LibName:    strPtr("my_program"),
		BaseImage:  strPtr("img:1.18"),
		MountPath:  strPtr("program"),
		BPFFlag:    true,
		CargoArgs:  []string{"--features", "mainnet"},
	}

	assert.Equal(t, []string{
		"verify-from-repo", "-um",
		"--commit-hash", "abc123",
		"--library-name", "my_program",
		"--base-image", "img:1.18",
		"--mount-path", "program",
		"--bpf",
		"--program-id", "prog1",
		"https://github.com/example/program",
		"--", "--features", "mainnet",
	}, buildArgs(p))
}

func TestBuildArgsMinimal(t *testing.T) {
	p := model.BuildParams{
		ProgramID:  "prog1",
		Repository: "https://github.com/example/program",
	}

	assert.Equal(t, []string{
		"verify-from-repo", "-um",
		"--program-id", "prog1",
		"https://github.com/example/program",
	}, buildArgs(p))
}

func TestBuildErrorFirstLine(t *testing.T) {
	err := &BuildError{Output: "clone failed\nsecond line\n"}
	assert.Contains(t, err.Error(), "clone failed")
	assert.NotContains(t, err.Error(), "second line")
}

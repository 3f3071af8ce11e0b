package builder

import "strings"

const (
	onChainPrefix    = "On-chain Program Hash:"
	executablePrefix = "Executable Program Hash from repo:"
)

// ParseBuildOutput extracts the two program hashes from the verifier tool's
// stdout. A missing prefix yields an empty string, which the caller treats as
// unverified.
func ParseBuildOutput(out string) (onChainHash, executableHash string) {
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		switch {
		case onChainHash == "" && strings.HasPrefix(line, onChainPrefix):
			onChainHash = strings.TrimSpace(strings.TrimPrefix(line, onChainPrefix))
		case executableHash == "" && strings.HasPrefix(line, executablePrefix):
			executableHash = strings.TrimSpace(strings.TrimPrefix(line, executablePrefix))
		}
	}
	return onChainHash, executableHash
}

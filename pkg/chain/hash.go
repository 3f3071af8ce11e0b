package chain

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// verifierTool is the external sandboxed builder binary. It must be on PATH.
const verifierTool = "solana-verify"

// closedMarker is the tool's stderr text when the program-data account has
// been deleted. It must not be retried.
const closedMarker = "Could not find program data"

// First try is immediate; up to three retries follow with 2s/4s/8s backoff.
const hashAttempts = 4

// GetOnChainHash recomputes the hash of the deployed bytecode by invoking the
// verifier tool in get-program-hash mode. It retries transient failures with
// 2s/4s/8s backoff, rotating the RPC endpoint when the failure looks like
// throttling, and surfaces a closed program immediately as ErrProgramClosed.
func (c *Client) GetOnChainHash(ctx context.Context, programID string) (string, error) {
	var lastErr error
	rotations := 0
	for attempt := 0; attempt < hashAttempts; attempt++ {
		if attempt > 0 {
			delay := time.Duration(1<<attempt) * time.Second // 2s, 4s, 8s
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}

		hash, err := c.runProgramHash(ctx, programID)
		if err == nil {
			return hash, nil
		}
		if strings.Contains(err.Error(), closedMarker) {
			return "", ErrProgramClosed
		}
		// Rotation stops once the index has moved past every other endpoint;
		// it never wraps back to where the call started.
		if isTimeLimitError(err) && rotations < len(c.endpoints)-1 {
			rotations++
			next := c.rotate()
			c.logger.Warn("rpc endpoint throttled, rotating",
				"op", "get_on_chain_hash", "next", next, "error", err)
		}
		lastErr = err
	}
	return "", fmt.Errorf("get on-chain hash for %s: %w", programID, lastErr)
}

func (c *Client) runProgramHash(ctx context.Context, programID string) (string, error) {
	cmd := exec.CommandContext(ctx, verifierTool,
		"get-program-hash", programID, "--url", c.Endpoint())
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("%s: %s", err, stderr.String())
	}
	hash := lastNonEmptyLine(stdout.String())
	if hash == "" {
		return "", fmt.Errorf("empty hash output: %s", stderr.String())
	}
	return hash, nil
}

// lastNonEmptyLine returns the final nonempty line of s, trimmed.
func lastNonEmptyLine(s string) string {
	lines := strings.Split(s, "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if l := strings.TrimSpace(lines[i]); l != "" {
			return l
		}
	}
	return ""
}

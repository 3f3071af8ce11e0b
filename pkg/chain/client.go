// Package chain reads program state from the chain: upgrade authority and
// deployment slot from the upgradeable-loader accounts, verification build
// parameters from the otter-verify PDA, and the deployed bytecode hash via
// the external verifier tool.
package chain

import (
	"context"
	"errors"
	"log/slog"
	"regexp"
	"sync"

	"github.com/gagliardetto/solana-go/rpc"
)

// Sentinel errors surfaced as data by callers.
var (
	// ErrProgramClosed means the program-data account no longer exists.
	ErrProgramClosed = errors.New("chain: program closed")
	// ErrPdaNotFound means no candidate signer owns a build-params PDA.
	ErrPdaNotFound = errors.New("chain: otter-verify pda not found")
)

// timeLimitRe matches the error shapes RPC providers use for throttling.
var timeLimitRe = regexp.MustCompile(`(?i)time.?limit|timeout|rate.?limit|too many requests|429`)

// isTimeLimitError reports whether err warrants rotating to the next RPC
// endpoint.
func isTimeLimitError(err error) bool {
	return err != nil && timeLimitRe.MatchString(err.Error())
}

// Client talks to a rotation list of RPC endpoints. On a time-limit error it
// advances to the next endpoint and retries, at most len(endpoints) attempts
// per call. Any other error aborts the sequence.
type Client struct {
	endpoints []string
	clients   []*rpc.Client
	logger    *slog.Logger

	mu  sync.Mutex
	idx int
}

// NewClient builds a client over the ordered endpoint list. The list must be
// non-empty.
func NewClient(endpoints []string) *Client {
	clients := make([]*rpc.Client, len(endpoints))
	for i, e := range endpoints {
		clients[i] = rpc.New(e)
	}
	return &Client{
		endpoints: endpoints,
		clients:   clients,
		logger:    slog.Default().With("component", "chain"),
	}
}

// Endpoint returns the currently selected RPC URL.
func (c *Client) Endpoint() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.endpoints[c.idx]
}

func (c *Client) current() *rpc.Client {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.clients[c.idx]
}

func (c *Client) rotate() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.idx = (c.idx + 1) % len(c.endpoints)
	return c.endpoints[c.idx]
}

// withRotation runs fn against the current endpoint, rotating on time-limit
// errors until every endpoint has been tried once. The final failure does not
// rotate, so one call advances the index at most len(endpoints)-1 times.
func withRotation[T any](ctx context.Context, c *Client, op string, fn func(context.Context, *rpc.Client) (T, error)) (T, error) {
	var zero T
	var err error
	for attempt := 0; attempt < len(c.endpoints); attempt++ {
		var out T
		out, err = fn(ctx, c.current())
		if err == nil {
			return out, nil
		}
		if !isTimeLimitError(err) {
			return zero, err
		}
		if attempt == len(c.endpoints)-1 {
			break
		}
		next := c.rotate()
		c.logger.Warn("rpc endpoint throttled, rotating",
			"op", op, "next", next, "error", err)
	}
	return zero, err
}

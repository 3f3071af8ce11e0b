// Package sweeper periodically reconciles every verified program against
// live chain state: authority changes are persisted and closed programs have
// their results flipped to unverified.
package sweeper

import (
	"context"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/openverify/verify-api/pkg/cache"
	"github.com/openverify/verify-api/pkg/chain"
	"github.com/openverify/verify-api/pkg/store"
)

// Health states reported by /health.
const (
	StatusActive   = "active"
	StatusInactive = "inactive"
	StatusUnknown  = "unknown"
)

const (
	batchPause = 100 * time.Millisecond

	// After this many consecutive failed sweeps the loop backs off.
	errorStreakLimit = 5
	errorStreakPause = 5 * time.Minute
)

// Sweeper owns the background reconciliation loop.
type Sweeper struct {
	store         *store.Store
	cache         *cache.Cache
	chain         *chain.Client
	interval      time.Duration
	batchSize     int
	maxConcurrent int64
	logger        *slog.Logger
}

// New builds a sweeper. interval also bounds the health window: a last run
// older than twice the interval reads as inactive.
func New(st *store.Store, ca *cache.Cache, ch *chain.Client, interval time.Duration, batchSize, maxConcurrent int) *Sweeper {
	if batchSize < 1 {
		batchSize = 1
	}
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	return &Sweeper{
		store:         st,
		cache:         ca,
		chain:         ch,
		interval:      interval,
		batchSize:     batchSize,
		maxConcurrent: int64(maxConcurrent),
		logger:        slog.Default().With("component", "sweeper"),
	}
}

// Run sweeps immediately, then on every tick until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	streak := 0
	for {
		if err := s.Sweep(ctx); err != nil {
			streak++
			s.logger.Error("sweep failed", "error", err, "streak", streak)
			if streak >= errorStreakLimit {
				s.logger.Warn("sweep error streak, backing off", "pause", errorStreakPause)
				select {
				case <-time.After(errorStreakPause):
				case <-ctx.Done():
					return
				}
				streak = 0
			}
		} else {
			streak = 0
		}

		select {
		case <-ticker.C:
		case <-ctx.Done():
			return
		}
	}
}

// Sweep runs one reconciliation pass over all currently-verified programs.
func (s *Sweeper) Sweep(ctx context.Context) error {
	s.cache.Set(ctx, cache.KeyLastExecution,
		strconv.FormatInt(time.Now().UTC().Unix(), 10), cache.TTLLastExecution)

	ids, err := s.store.ListAllVerifiedProgramIDs(ctx)
	if err != nil {
		return err
	}
	s.logger.Info("sweep started", "programs", len(ids))

	sem := semaphore.NewWeighted(s.maxConcurrent)
	for start := 0; start < len(ids); start += s.batchSize {
		end := start + s.batchSize
		if end > len(ids) {
			end = len(ids)
		}

		var wg sync.WaitGroup
		for _, id := range ids[start:end] {
			if err := sem.Acquire(ctx, 1); err != nil {
				wg.Wait()
				return err
			}
			wg.Add(1)
			go func(programID string) {
				defer sem.Release(1)
				defer wg.Done()
				s.sweepProgram(ctx, programID)
			}(id)
		}
		wg.Wait()

		if end < len(ids) {
			select {
			case <-time.After(batchPause):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	return nil
}

// sweepProgram refreshes one program's cached authority row. A chain read
// failure is treated as the program being gone, matching what the loader
// reports for a closed program account.
func (s *Sweeper) sweepProgram(ctx context.Context, programID string) {
	info, err := s.chain.GetProgramAuthority(ctx, programID)
	if err != nil {
		s.logger.Warn("authority read failed, treating as closed",
			"program_id", programID, "error", err)
		info = chain.AuthorityInfo{IsClosed: true}
	}

	prev, perr := s.store.GetProgramAuthority(ctx, programID)
	known := perr == nil
	if perr != nil && !store.IsNotFound(perr) {
		s.logger.Warn("authority lookup failed", "program_id", programID, "error", perr)
		return
	}

	changed := !known ||
		prev.IsFrozen != info.IsFrozen ||
		prev.IsClosed != info.IsClosed ||
		!equalPtr(prev.Authority, info.Authority)
	if changed {
		closed := info.IsClosed
		if err := s.store.UpsertProgramAuthority(ctx, programID, info.Authority, info.IsFrozen, &closed); err != nil {
			s.logger.Warn("authority upsert failed", "program_id", programID, "error", err)
			return
		}
	}

	if info.IsClosed {
		if err := s.store.MarkUnverified(ctx, programID); err != nil {
			s.logger.Warn("mark unverified failed", "program_id", programID, "error", err)
			return
		}
		s.cache.Del(ctx, cache.StatusKey(programID), cache.StatusAllKey(programID))
		s.logger.Info("closed program unverified", "program_id", programID)
	}
}

// Health reports whether the loop has run recently. The Redis timestamp is
// authoritative; with a cold cache the newest authority write stands in.
func (s *Sweeper) Health(ctx context.Context) string {
	window := 2 * s.interval

	if raw, err := s.cache.Get(ctx, cache.KeyLastExecution); err == nil {
		ts, perr := strconv.ParseInt(raw, 10, 64)
		if perr != nil {
			return StatusUnknown
		}
		if time.Since(time.Unix(ts, 0)) <= window {
			return StatusActive
		}
		return StatusInactive
	}

	last, err := s.store.LatestAuthorityUpdate(ctx)
	if err != nil {
		return StatusUnknown
	}
	if time.Since(last) <= window {
		return StatusActive
	}
	return StatusInactive
}

func equalPtr(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

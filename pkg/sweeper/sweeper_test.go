package sweeper

import (
	"context"
	"database/sql"
	"strconv"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/openverify/verify-api/pkg/cache"
	"github.com/openverify/verify-api/pkg/chain"
	"github.com/openverify/verify-api/pkg/store"
)

func newTestSweeper(t *testing.T) (*Sweeper, *store.Store, *cache.Cache) {
	t.Helper()

	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	st := store.New(db)
	require.NoError(t, st.Init(context.Background()))

	mr := miniredis.RunT(t)
	ca := cache.New("redis://" + mr.Addr())
	ch := chain.NewClient([]string{"http://127.0.0.1:1"})

	return New(st, ca, ch, 5*time.Minute, 20, 5), st, ca
}

func TestHealthUnknownWhenNeverRun(t *testing.T) {
	sw, _, _ := newTestSweeper(t)

	assert.Equal(t, StatusUnknown, sw.Health(context.Background()))
}

func TestHealthActiveAfterRecentTick(t *testing.T) {
	sw, _, ca := newTestSweeper(t)
	ctx := context.Background()

	ca.Set(ctx, cache.KeyLastExecution,
		strconv.FormatInt(time.Now().Unix(), 10), cache.TTLLastExecution)

	assert.Equal(t, StatusActive, sw.Health(ctx))
}

func TestHealthInactiveAfterStaleTick(t *testing.T) {
	sw, _, ca := newTestSweeper(t)
	ctx := context.Background()

	stale := time.Now().Add(-time.Hour).Unix()
	ca.Set(ctx, cache.KeyLastExecution,
		strconv.FormatInt(stale, 10), cache.TTLLastExecution)

	assert.Equal(t, StatusInactive, sw.Health(ctx))
}

func TestHealthFallsBackToAuthorityRows(t *testing.T) {
	sw, st, _ := newTestSweeper(t)
	ctx := context.Background()

	require.NoError(t, st.UpsertProgramAuthority(ctx, "prog1", nil, false, nil))

	assert.Equal(t, StatusActive, sw.Health(ctx))
}

func TestSweepWithNoProgramsRecordsTick(t *testing.T) {
	sw, _, ca := newTestSweeper(t)
	ctx := context.Background()

	require.NoError(t, sw.Sweep(ctx))

	raw, err := ca.Get(ctx, cache.KeyLastExecution)
	require.NoError(t, err)
	ts, err := strconv.ParseInt(raw, 10, 64)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now(), time.Unix(ts, 0), time.Minute)
}

func TestEqualPtr(t *testing.T) {
	a, b := "x", "x"
	c := "y"
	assert.True(t, equalPtr(nil, nil))
	assert.True(t, equalPtr(&a, &b))
	assert.False(t, equalPtr(&a, &c))
	assert.False(t, equalPtr(&a, nil))
	assert.False(t, equalPtr(nil, &a))
}

package verify

import (
	"context"
	"database/sql"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/openverify/verify-api/pkg/cache"
	"github.com/openverify/verify-api/pkg/chain"
	"github.com/openverify/verify-api/pkg/model"
	"github.com/openverify/verify-api/pkg/store"
)

const (
	testProgramID  = "So11111111111111111111111111111111111111112"
	testSignerAddr = "9VWiUUhgNoRwTH5NVehYJEDwcotwYX3VgW4MChiHPAqU"
)

// fakeChain serves canned chain state and counts reads.
type fakeChain struct {
	mu             sync.Mutex
	authority      chain.AuthorityInfo
	params         *chain.OtterBuildParams
	signer         string
	hash           string
	authorityCalls int
	hashCalls      int
}

func (f *fakeChain) GetProgramAuthority(_ context.Context, _ string) (chain.AuthorityInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.authorityCalls++
	return f.authority, nil
}

func (f *fakeChain) GetOtterVerifyParams(_ context.Context, _ string, _, _ *string) (*chain.OtterBuildParams, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.params == nil {
		return nil, "", chain.ErrPdaNotFound
	}
	return f.params, f.signer, nil
}

func (f *fakeChain) GetOnChainHash(_ context.Context, _ string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hashCalls++
	return f.hash, nil
}

func (f *fakeChain) FetchPdaAccount(_ context.Context, _ string) (*chain.OtterBuildParams, error) {
	return nil, chain.ErrPdaNotFound
}

func (f *fakeChain) reads() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.authorityCalls + f.hashCalls
}

// fakeEngine records results the way the real engine does: result row first,
// then the build flips to Completed. When release is set, Run blocks until it
// closes; done receives the build id after each run.
type fakeEngine struct {
	st      *store.Store
	release chan struct{}
	done    chan string
}

func (f *fakeEngine) Run(ctx context.Context, params model.BuildParams, buildID string) (model.VerifiedProgram, error) {
	if f.release != nil {
		<-f.release
	}
	vp := model.VerifiedProgram{
		ID:             "vp-" + buildID,
		ProgramID:      params.ProgramID,
		IsVerified:     true,
		OnChainHash:    "hash1",
		ExecutableHash: "hash1",
		VerifiedAt:     time.Now().UTC(),
		BuildID:        buildID,
	}
	if err := f.st.UpsertVerified(ctx, vp); err != nil {
		return model.VerifiedProgram{}, err
	}
	if err := f.st.UpdateBuildStatus(ctx, buildID, model.JobCompleted); err != nil {
		return model.VerifiedProgram{}, err
	}
	if f.done != nil {
		f.done <- buildID
	}
	return vp, nil
}

func newFakeService(t *testing.T, fc *fakeChain, fe *fakeEngine) (*Service, *store.Store) {
	t.Helper()

	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	st := store.New(db)
	require.NoError(t, st.Init(context.Background()))

	mr := miniredis.RunT(t)
	ca := cache.New("redis://" + mr.Addr())

	fe.st = st
	return NewService(st, ca, fc, fe), st
}

func registeredChain() *fakeChain {
	return &fakeChain{
		params: &chain.OtterBuildParams{
			Address: solana.MustPublicKeyFromBase58(testProgramID),
			GitURL:  "https://github.com/example/program",
			Commit:  "abc123",
		},
		signer: testSignerAddr,
	}
}

func countRows(t *testing.T, st *store.Store, query string, args ...any) int {
	t.Helper()
	var n int
	require.NoError(t, st.DB().QueryRow(query, args...).Scan(&n))
	return n
}

func waitForBuild(t *testing.T, done chan string) string {
	t.Helper()
	select {
	case id := <-done:
		return id
	case <-time.After(2 * time.Second):
		t.Fatal("build never ran")
		return ""
	}
}

func TestVerifyAsyncRecordsAuditAndAttemptRows(t *testing.T) {
	fc := registeredChain()
	fe := &fakeEngine{done: make(chan string, 1)}
	svc, st := newFakeService(t, fc, fe)
	ctx := context.Background()

	res, err := svc.Verify(ctx, testProgramID, nil, "", false)
	require.NoError(t, err)
	require.NotNil(t, res.Ack)
	require.Nil(t, res.Status)
	assert.Equal(t, model.JobInProgress, res.Ack.Status)
	assert.NotEmpty(t, res.Ack.RequestID)

	// One audit row for the deduped source, one row the engine runs against.
	assert.Equal(t, 2, countRows(t, st,
		`SELECT COUNT(*) FROM builds WHERE program_id = $1`, testProgramID))

	ranID := waitForBuild(t, fe.done)
	assert.Equal(t, res.Ack.RequestID, ranID)

	got, err := st.GetBuild(ctx, res.Ack.RequestID)
	require.NoError(t, err)
	assert.Equal(t, model.JobCompleted, got.Status)

	vr, err := st.GetVerified(ctx, testProgramID, nil)
	require.NoError(t, err)
	assert.Equal(t, res.Ack.RequestID, vr.Verified.BuildID)
}

func TestVerifyDuplicateInProgressAcksOriginalRequest(t *testing.T) {
	fc := registeredChain()
	fe := &fakeEngine{release: make(chan struct{}), done: make(chan string, 1)}
	svc, st := newFakeService(t, fc, fe)
	ctx := context.Background()

	first, err := svc.Verify(ctx, testProgramID, nil, "", false)
	require.NoError(t, err)
	require.NotNil(t, first.Ack)

	// Pin the attempt row strictly newest so the dedupe lookup does not
	// depend on sub-second timestamp encoding.
	_, err = st.DB().Exec(`UPDATE builds SET created_at = $1 WHERE id = $2`,
		time.Now().UTC().Add(time.Minute), first.Ack.RequestID)
	require.NoError(t, err)

	second, err := svc.Verify(ctx, testProgramID, nil, "", false)
	require.NoError(t, err)
	require.NotNil(t, second.Ack)
	assert.Equal(t, first.Ack.RequestID, second.Ack.RequestID)
	assert.Equal(t, "verification already in progress", second.Ack.Message)

	// The repeat submission inserted nothing.
	assert.Equal(t, 2, countRows(t, st,
		`SELECT COUNT(*) FROM builds WHERE program_id = $1`, testProgramID))

	close(fe.release)
	waitForBuild(t, fe.done)
}

func TestVerifySyncRepeatAnswersFromStoredResult(t *testing.T) {
	fc := registeredChain()
	svc, st := newFakeService(t, fc, &fakeEngine{})
	ctx := context.Background()

	first, err := svc.Verify(ctx, testProgramID, nil, "", true)
	require.NoError(t, err)
	require.NotNil(t, first.Status)
	assert.True(t, first.Status.IsVerified)
	assert.Equal(t, 2, countRows(t, st,
		`SELECT COUNT(*) FROM builds WHERE program_id = $1`, testProgramID))
	assert.Equal(t, 1, countRows(t, st,
		`SELECT COUNT(*) FROM verified_programs WHERE program_id = $1`, testProgramID))

	second, err := svc.Verify(ctx, testProgramID, nil, "", true)
	require.NoError(t, err)
	require.NotNil(t, second.Status)
	assert.True(t, second.Status.IsVerified)

	// The repeat ran no build and grew no tables.
	assert.Equal(t, 2, countRows(t, st,
		`SELECT COUNT(*) FROM builds WHERE program_id = $1`, testProgramID))
	assert.Equal(t, 1, countRows(t, st,
		`SELECT COUNT(*) FROM verified_programs WHERE program_id = $1`, testProgramID))
}

func TestVerifyWithoutPdaReturnsErrNoPda(t *testing.T) {
	svc, _ := newFakeService(t, &fakeChain{}, &fakeEngine{})

	_, err := svc.Verify(context.Background(), testProgramID, nil, "", false)
	assert.ErrorIs(t, err, ErrNoPda)
}

func TestStatusOfClosedProgramSkipsChain(t *testing.T) {
	fc := &fakeChain{hash: "live-hash"}
	svc, st := newFakeService(t, fc, &fakeEngine{})
	ctx := context.Background()

	b := model.NewBuild("b1", model.BuildParams{
		ProgramID:  testProgramID,
		Repository: "https://github.com/example/program",
	}, "", model.JobCompleted)
	require.NoError(t, st.InsertBuild(ctx, b))
	require.NoError(t, st.UpsertVerified(ctx, model.VerifiedProgram{
		ID: "v1", ProgramID: testProgramID, IsVerified: true,
		OnChainHash: "h1", ExecutableHash: "h1",
		VerifiedAt: time.Now().UTC(), BuildID: "b1",
	}))
	closed := true
	require.NoError(t, st.UpsertProgramAuthority(ctx, testProgramID, nil, false, &closed))

	resp, err := svc.CheckIsVerified(ctx, testProgramID, nil)
	require.NoError(t, err)
	assert.False(t, resp.IsVerified)
	assert.Equal(t, 0, fc.reads(), "closed program must answer without chain reads")

	// The answer is cached; a repeat read stays off the chain too.
	resp, err = svc.CheckIsVerified(ctx, testProgramID, nil)
	require.NoError(t, err)
	assert.False(t, resp.IsVerified)
	assert.Equal(t, 0, fc.reads())
}

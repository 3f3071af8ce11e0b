package builder

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/openverify/verify-api/pkg/model"
	"github.com/openverify/verify-api/pkg/store"
)

func newTestEngine(t *testing.T) (*Engine, *store.Store) {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	st := store.New(db)
	require.NoError(t, st.Init(context.Background()))
	return New(st), st
}

func insertInProgressBuild(t *testing.T, st *store.Store, programID string) model.Build {
	t.Helper()
	params := model.BuildParams{
		ProgramID:  programID,
		Repository: "https://github.com/example/program",
	}
	b := model.NewBuild("build-1", params, "", model.JobInProgress)
	require.NoError(t, st.InsertBuild(context.Background(), b))
	return b
}

func TestRecordCompletesBuild(t *testing.T) {
	ctx := context.Background()
	eng, st := newTestEngine(t)
	b := insertInProgressBuild(t, st, "prog1")

	vp := model.VerifiedProgram{
		ID:             "vp-1",
		ProgramID:      "prog1",
		IsVerified:     true,
		OnChainHash:    "h1",
		ExecutableHash: "h1",
		VerifiedAt:     time.Now().UTC(),
		BuildID:        b.ID,
	}
	require.NoError(t, eng.record(ctx, vp, b.ID))

	got, err := st.GetBuild(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobCompleted, got.Status)

	vr, err := st.GetVerified(ctx, "prog1", nil)
	require.NoError(t, err)
	assert.True(t, vr.Verified.IsVerified)
}

func TestRecordFailureMarksBuildFailed(t *testing.T) {
	ctx := context.Background()
	eng, st := newTestEngine(t)
	b := insertInProgressBuild(t, st, "prog1")

	// Break the result table so the result write cannot land.
	_, err := st.DB().Exec("DROP TABLE verified_programs")
	require.NoError(t, err)

	vp := model.VerifiedProgram{
		ID:         "vp-1",
		ProgramID:  "prog1",
		VerifiedAt: time.Now().UTC(),
		BuildID:    b.ID,
	}
	require.Error(t, eng.record(ctx, vp, b.ID))

	got, err := st.GetBuild(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobFailed, got.Status)
}

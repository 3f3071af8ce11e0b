package store

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWrapClassification(t *testing.T) {
	assert.NoError(t, wrap("op", nil))

	err := wrap("op", sql.ErrNoRows)
	assert.True(t, IsNotFound(err))

	var se *Error
	require.True(t, errors.As(wrap("op", &pq.Error{Code: "23505"}), &se))
	assert.Equal(t, KindConstraint, se.Kind)

	require.True(t, errors.As(wrap("op", errors.New("UNIQUE constraint failed: builds.id")), &se))
	assert.Equal(t, KindConstraint, se.Kind)

	require.True(t, errors.As(wrap("op", errors.New("connection refused")), &se))
	assert.Equal(t, KindTransport, se.Kind)
}

func TestTransportErrorSurfacesAsStoreError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	mock.ExpectQuery("SELECT .* FROM builds").
		WillReturnError(errors.New("driver: bad connection"))

	st := New(db)
	_, err = st.GetBuild(context.Background(), "b1")

	var se *Error
	require.True(t, errors.As(err, &se))
	assert.Equal(t, KindTransport, se.Kind)
	assert.False(t, IsNotFound(err))
	require.NoError(t, mock.ExpectationsWereMet())
}

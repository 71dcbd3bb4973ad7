package warehouse

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sbienstock98/BBS-QBO-Pipeline/internal/model"
)

func TestWatermarkGetMissingMeansFullExtraction(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(selectWatermark).
		WithArgs("pilot_001", "Invoice").
		WillReturnRows(sqlmock.NewRows([]string{"since_ts"}))

	since, err := NewWatermarkStore(db).Get(context.Background(), "pilot_001", model.EntityInvoice)
	require.NoError(t, err)
	assert.True(t, since.IsZero())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWatermarkRoundTrip(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)
	defer db.Close()

	ts := time.Date(2024, 3, 15, 2, 30, 0, 0, time.UTC)

	mock.ExpectExec(upsertWatermark).
		WithArgs("pilot_001", "Invoice", ts).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(selectWatermark).
		WithArgs("pilot_001", "Invoice").
		WillReturnRows(sqlmock.NewRows([]string{"since_ts"}).AddRow(ts))

	store := NewWatermarkStore(db)
	require.NoError(t, store.Set(context.Background(), "pilot_001", model.EntityInvoice, ts))

	got, err := store.Get(context.Background(), "pilot_001", model.EntityInvoice)
	require.NoError(t, err)
	assert.True(t, ts.Equal(got))
	assert.NoError(t, mock.ExpectationsWereMet())
}

package database

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWithTx_CommitsOnSuccess(t *testing.T) {
	db, mock := newMockDB(t)

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE capacity_holds").WillReturnResult(sqlmockResult(1))
	mock.ExpectCommit()

	err := WithTx(context.Background(), db, func(ctx context.Context) error {
		require.NotNil(t, txFromContext(ctx))
		_, err := querier(ctx, db).ExecContext(ctx, "UPDATE capacity_holds SET status = 'released'")
		return err
	})

	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWithTx_RollsBackOnError(t *testing.T) {
	db, mock := newMockDB(t)
	boom := errors.New("boom")

	mock.ExpectBegin()
	mock.ExpectRollback()

	err := WithTx(context.Background(), db, func(ctx context.Context) error {
		return boom
	})

	assert.ErrorIs(t, err, boom)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWithTx_NestedCallsJoinOuterTransaction(t *testing.T) {
	db, mock := newMockDB(t)

	mock.ExpectBegin()
	mock.ExpectCommit()

	err := WithTx(context.Background(), db, func(outer context.Context) error {
		return WithTx(outer, db, func(inner context.Context) error {
			assert.Same(t, txFromContext(outer), txFromContext(inner))
			return nil
		})
	})

	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestQuerier_WithoutTransactionUsesDB(t *testing.T) {
	db, _ := newMockDB(t)

	assert.Same(t, db, querier(context.Background(), db))
}

func TestWithTx_AfterCommitRunsOnlyOnCommit(t *testing.T) {
	db, mock := newMockDB(t)

	mock.ExpectBegin()
	mock.ExpectCommit()
	mock.ExpectBegin()
	mock.ExpectRollback()

	var ran []string
	err := WithTx(context.Background(), db, func(ctx context.Context) error {
		AfterCommit(ctx, func() { ran = append(ran, "committed") })
		return WithTx(ctx, db, func(inner context.Context) error {
			AfterCommit(inner, func() { ran = append(ran, "nested") })
			assert.Empty(t, ran)
			return nil
		})
	})
	require.NoError(t, err)

	err = WithTx(context.Background(), db, func(ctx context.Context) error {
		AfterCommit(ctx, func() { ran = append(ran, "rolled back") })
		return errors.New("boom")
	})
	require.Error(t, err)

	assert.Equal(t, []string{"committed", "nested"}, ran)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAfterCommit_OutsideTransactionRunsImmediately(t *testing.T) {
	ran := false
	AfterCommit(context.Background(), func() { ran = true })
	assert.True(t, ran)
}

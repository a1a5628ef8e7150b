package tx

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWithTx(t *testing.T) {
	ctx := context.Background()

	t.Run("nil transaction leaves context untouched", func(t *testing.T) {
		got := WithTx(ctx, nil)
		_, ok := From(got)
		assert.False(t, ok)
	})

	t.Run("stored transaction is returned", func(t *testing.T) {
		sqlTx := &sql.Tx{}
		got, ok := From(WithTx(ctx, sqlTx))
		require.True(t, ok)
		assert.Same(t, sqlTx, got)
	})
}

func TestNopRunner(t *testing.T) {
	boom := errors.New("boom")
	calls := 0
	err := NopRunner{}.RunInTx(context.Background(), func(context.Context) error {
		calls++
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, calls)
}

func TestSQLRunner_ReusesContextTransaction(t *testing.T) {
	// db is nil: if RunInTx tried to begin a new transaction it would panic.
	r := NewSQLRunner(nil)
	ctx := WithTx(context.Background(), &sql.Tx{})

	var inner context.Context
	err := r.RunInTx(ctx, func(txCtx context.Context) error {
		inner = txCtx
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, ctx, inner)
}

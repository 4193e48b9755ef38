package clickhouse_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"icrc7-ledger/internal/domain"
	chstore "icrc7-ledger/internal/storage/clickhouse"
)

func chAccount(b byte) domain.Account {
	return domain.NewAccount(domain.Principal{b, b, b})
}

func TestTransactionLogStore_AppendAssignsIndexes(t *testing.T) {
	conn, cleanup := setupTestDB(t)
	defer cleanup()

	store := chstore.NewTransactionLogStore(conn)
	ctx := context.Background()

	holder := chAccount(0x0A)
	for want := uint64(0); want < 3; want++ {
		tx := domain.MintTransaction(1700000000, want+1, domain.Principal{0x31}, holder)
		idx, err := store.Append(ctx, &tx)
		require.NoError(t, err)
		assert.Equal(t, want, idx)
	}

	length, err := store.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), length)
}

func TestTransactionLogStore_GetByTokenID(t *testing.T) {
	conn, cleanup := setupTestDB(t)
	defer cleanup()

	store := chstore.NewTransactionLogStore(conn)
	ctx := context.Background()

	alice := chAccount(0x0A)
	bob := chAccount(0x0B)

	mint := domain.MintTransaction(1700000000, 1, domain.Principal{0x31}, alice)
	_, err := store.Append(ctx, &mint)
	require.NoError(t, err)

	xfer := domain.TransferTransaction(1700000100, 1, alice, bob, []byte("m"))
	_, err = store.Append(ctx, &xfer)
	require.NoError(t, err)

	other := domain.MintTransaction(1700000200, 2, domain.Principal{0x31}, alice)
	_, err = store.Append(ctx, &other)
	require.NoError(t, err)

	txs, err := store.GetByTokenID(ctx, 1)
	require.NoError(t, err)
	require.Len(t, txs, 2)

	assert.Equal(t, domain.OpMint, txs[0].Op)
	assert.Equal(t, domain.OpTransfer, txs[1].Op)
	require.NotNil(t, txs[1].From)
	assert.True(t, txs[1].From.Equal(alice))
	require.NotNil(t, txs[1].To)
	assert.True(t, txs[1].To.Equal(bob))
	assert.Equal(t, []byte("m"), txs[1].Memo)
}

func TestTransactionLogStore_GetByTimeRange(t *testing.T) {
	conn, cleanup := setupTestDB(t)
	defer cleanup()

	store := chstore.NewTransactionLogStore(conn)
	ctx := context.Background()

	holder := chAccount(0x0A)
	for i, ts := range []int64{1700000000, 1700000100, 1700000200} {
		tx := domain.MintTransaction(ts, uint64(i+1), domain.Principal{0x31}, holder)
		_, err := store.Append(ctx, &tx)
		require.NoError(t, err)
	}

	txs, err := store.GetByTimeRange(ctx, 1700000050, 1700000200)
	require.NoError(t, err)
	require.Len(t, txs, 2)
	assert.Equal(t, uint64(2), txs[0].TokenID)
	assert.Equal(t, uint64(3), txs[1].TokenID)

	empty, err := store.GetByTimeRange(ctx, 1800000000, 1900000000)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestTransactionLogStore_SubaccountRoundTrip(t *testing.T) {
	conn, cleanup := setupTestDB(t)
	defer cleanup()

	store := chstore.NewTransactionLogStore(conn)
	ctx := context.Background()

	sub := [domain.SubaccountLen]byte{31: 0x07}
	holder := domain.Account{Owner: domain.Principal{0x0A}, Subaccount: &sub}

	mint := domain.MintTransaction(1700000000, 1, domain.Principal{0x31}, holder)
	_, err := store.Append(ctx, &mint)
	require.NoError(t, err)

	txs, err := store.GetByTokenID(ctx, 1)
	require.NoError(t, err)
	require.Len(t, txs, 1)
	require.NotNil(t, txs[0].To)
	require.NotNil(t, txs[0].To.Subaccount)
	assert.Equal(t, sub, *txs[0].To.Subaccount)
}

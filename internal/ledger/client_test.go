package ledger

import (
	"context"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"math/big"
	"moff.io/moff-defi/internal/eip1193"
	"moff.io/moff-defi/internal/testutil/fakewallet"
	"moff.io/moff-defi/pkg/errors"
	"testing"
	"time"
)

const (
	alice = "0xaBcD000000000000000000000000000000000001"
	bob   = "0x1111111111111111111111111111111111111111"
)

func TestNetworkAndBalance(t *testing.T) {
	w := fakewallet.New(31337, alice)
	w.SetBalance(alice, big.NewInt(1e18))
	c := NewClient(w)
	ctx := context.Background()

	network, err := c.Network(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(31337), network.ChainID)
	assert.Equal(t, "localhost", network.Name)

	balance, err := c.BalanceAt(ctx, common.HexToAddress(alice))
	require.NoError(t, err)
	assert.Equal(t, 0, balance.Cmp(big.NewInt(1e18)))

	addr, err := c.Signer().Address(ctx)
	require.NoError(t, err)
	assert.Equal(t, common.HexToAddress(alice), addr)
}

func TestSignerWithoutAccounts(t *testing.T) {
	c := NewClient(fakewallet.New(1))
	_, err := c.Signer().Address(context.Background())
	assert.True(t, errors.Is(err, ErrNoAccount))
}

func TestSendTransactionAndWait(t *testing.T) {
	w := fakewallet.New(31337, alice)
	w.SetBalance(alice, big.NewInt(2e18))
	w.HoldMining(true)
	c := NewClient(w, WithPollInterval(5*time.Millisecond))
	ctx := context.Background()

	tx, err := c.Signer().SendTransaction(ctx, TransactionRequest{
		To:    common.HexToAddress(bob),
		Value: big.NewInt(5e17),
	})
	require.NoError(t, err)

	sent := w.Calls(eip1193.MethodSendTransaction)
	require.Len(t, sent, 1)

	go func() {
		time.Sleep(20 * time.Millisecond)
		w.Mine()
	}()
	receipt, err := tx.Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, tx.Hash, receipt.TxHash)
	assert.Equal(t, 0, w.Balance(bob).Cmp(big.NewInt(5e17)))
	assert.GreaterOrEqual(t, len(w.Calls(eip1193.MethodGetReceipt)), 2)
}

func TestWaitContextEnds(t *testing.T) {
	w := fakewallet.New(31337, alice)
	w.HoldMining(true)
	c := NewClient(w, WithPollInterval(5*time.Millisecond))

	tx, err := c.Signer().SendTransaction(context.Background(), TransactionRequest{To: common.HexToAddress(bob)})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	receipt, err := tx.Wait(ctx)
	assert.Nil(t, receipt)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestWaitReverted(t *testing.T) {
	w := fakewallet.New(31337, alice)
	w.RevertTransfers(true)
	c := NewClient(w)

	tx, err := c.SignerFor(common.HexToAddress(alice)).SendTransaction(context.Background(), TransactionRequest{
		To:    common.HexToAddress(bob),
		Value: big.NewInt(1),
	})
	require.NoError(t, err)
	receipt, err := tx.Wait(context.Background())
	require.NotNil(t, receipt)
	assert.True(t, errors.Is(err, ErrTransactionReverted))
	assert.Empty(t, w.Calls(eip1193.MethodAccounts))
}

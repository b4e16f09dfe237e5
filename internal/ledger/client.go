package ledger

import (
	"context"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"math/big"
	"moff.io/moff-defi/internal/chains"
	"moff.io/moff-defi/internal/eip1193"
	"moff.io/moff-defi/pkg/errors"
	"time"
)

var (
	ErrNoAccount           = errors.New("no account authorized by the wallet")
	ErrTransactionReverted = errors.New("transaction reverted")
)

const defaultPollInterval = time.Second

// Client offers chain queries and transaction submission over a wallet provider.
type Client struct {
	provider     eip1193.Provider
	pollInterval time.Duration
}

type Option func(*Client)

// WithPollInterval sets how often PendingTransaction.Wait asks for the receipt.
func WithPollInterval(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.pollInterval = d
		}
	}
}

func NewClient(provider eip1193.Provider, opts ...Option) *Client {
	c := &Client{
		provider:     provider,
		pollInterval: defaultPollInterval,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) Provider() eip1193.Provider {
	return c.provider
}

type Network struct {
	ChainID int64  `json:"chain_id"`
	Name    string `json:"name"`
}

func (c *Client) Network(ctx context.Context) (*Network, error) {
	var id hexutil.Uint64
	if err := c.provider.Request(ctx, &id, eip1193.MethodChainID); err != nil {
		return nil, errors.Wrap(err, "request chain id")
	}
	return &Network{ChainID: int64(id), Name: chains.Name(int64(id))}, nil
}

func (c *Client) Accounts(ctx context.Context) ([]common.Address, error) {
	var accounts []common.Address
	if err := c.provider.Request(ctx, &accounts, eip1193.MethodAccounts); err != nil {
		return nil, errors.Wrap(err, "request accounts")
	}
	return accounts, nil
}

func (c *Client) BalanceAt(ctx context.Context, account common.Address) (*big.Int, error) {
	var balance hexutil.Big
	if err := c.provider.Request(ctx, &balance, eip1193.MethodGetBalance, account, "latest"); err != nil {
		return nil, errors.Wrapf(err, "request balance of %s", account.Hex())
	}
	return balance.ToInt(), nil
}

// Signer returns a signer for the first authorized account.
func (c *Client) Signer() *Signer {
	return &Signer{client: c}
}

// SignerFor pins the signer to address, whatever the wallet lists first.
func (c *Client) SignerFor(address common.Address) *Signer {
	return &Signer{client: c, address: &address}
}

type Receipt struct {
	TxHash      common.Hash     `json:"transactionHash"`
	BlockHash   common.Hash     `json:"blockHash"`
	BlockNumber *hexutil.Big    `json:"blockNumber"`
	From        common.Address  `json:"from"`
	To          *common.Address `json:"to"`
	GasUsed     hexutil.Uint64  `json:"gasUsed"`
	Status      hexutil.Uint64  `json:"status"`
}

const receiptStatusSuccessful = 1

// PendingTransaction is a submitted transaction that may not be included yet.
type PendingTransaction struct {
	Hash   common.Hash
	client *Client
}

// Wait polls for the receipt until it exists or ctx ends. A reverted transaction returns the
// receipt together with ErrTransactionReverted.
func (tx *PendingTransaction) Wait(ctx context.Context) (*Receipt, error) {
	ticker := time.NewTicker(tx.client.pollInterval)
	defer ticker.Stop()
	for {
		var receipt *Receipt
		if err := tx.client.provider.Request(ctx, &receipt, eip1193.MethodGetReceipt, tx.Hash); err != nil {
			return nil, errors.Wrapf(err, "request receipt of %s", tx.Hash.Hex())
		}
		if receipt != nil {
			if uint64(receipt.Status) != receiptStatusSuccessful {
				return receipt, errors.Wrap(ErrTransactionReverted, tx.Hash.Hex())
			}
			return receipt, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

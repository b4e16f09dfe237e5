// Package balance mirrors the native balance of the session address and sends funds from it.
package balance

import (
	"context"
	"github.com/ethereum/go-ethereum/common"
	"math/big"
	"moff.io/moff-defi/internal/events"
	"moff.io/moff-defi/internal/ledger"
	"moff.io/moff-defi/pkg/errors"
	"moff.io/moff-defi/pkg/log"
	"moff.io/moff-defi/pkg/units"
	"strings"
	"sync"
	"time"
)

var (
	ErrNotConnected     = errors.New("no wallet session bound")
	ErrInvalidRecipient = errors.New("invalid recipient address")
	ErrNegativeAmount   = errors.New("negative amount")
)

const defaultReceiptTimeout = time.Minute * 2

type Tracker struct {
	bus            *events.Bus
	receiptTimeout time.Duration

	mu      sync.Mutex
	ledger  *ledger.Client
	address string
	balance string

	// one transfer at a time
	sendMu sync.Mutex
}

type Option func(*Tracker)

// WithReceiptTimeout bounds how long SendFunds waits for inclusion.
func WithReceiptTimeout(d time.Duration) Option {
	return func(t *Tracker) {
		if d > 0 {
			t.receiptTimeout = d
		}
	}
}

func NewTracker(bus *events.Bus, opts ...Option) *Tracker {
	if bus == nil {
		bus = events.NewEventBus()
	}
	t := &Tracker{
		bus:            bus,
		receiptTimeout: defaultReceiptTimeout,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Transfer is the outcome of SendFunds. Confirmed is false when no receipt arrived in time.
type Transfer struct {
	Hash        common.Hash `json:"hash"`
	From        string      `json:"from"`
	To          string      `json:"to"`
	Value       *big.Int    `json:"value"`
	Confirmed   bool        `json:"confirmed"`
	BlockNumber *big.Int    `json:"block_number,omitempty"`
}

// Bind points the tracker at a session. A nil ledger or an empty address unbinds and clears
// the balance; a changed ledger or address refreshes it.
func (t *Tracker) Bind(ctx context.Context, l *ledger.Client, address string) error {
	if l == nil || address == "" {
		l, address = nil, ""
	}
	t.mu.Lock()
	changed := l != t.ledger || !strings.EqualFold(address, t.address)
	t.ledger, t.address = l, address
	if l == nil {
		t.balance = ""
	}
	t.mu.Unlock()
	if !changed || l == nil {
		return nil
	}
	_, err := t.Refresh(ctx)
	return err
}

func (t *Tracker) bound() (*ledger.Client, string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.ledger, t.address
}

// Balance is the last fetched balance of the bound address, "" when unbound.
func (t *Tracker) Balance() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.balance
}

// Address is the bound address, "" when unbound.
func (t *Tracker) Address() string {
	_, address := t.bound()
	return address
}

// GetBalance formats the balance of address the way ethers does ("1.0"). Without a bound
// ledger it returns "".
func (t *Tracker) GetBalance(ctx context.Context, address string) (string, error) {
	l, _ := t.bound()
	if l == nil {
		return "", nil
	}
	if !common.IsHexAddress(address) {
		return "", errors.Wrapf(ErrInvalidRecipient, "%q", address)
	}
	wei, err := l.BalanceAt(ctx, common.HexToAddress(address))
	if err != nil {
		return "", err
	}
	return units.FormatEther(wei), nil
}

// Refresh fetches the balance of the bound address and keeps it unless the binding moved on.
func (t *Tracker) Refresh(ctx context.Context) (string, error) {
	l, address := t.bound()
	if l == nil {
		return "", nil
	}
	balance, err := t.GetBalance(ctx, address)
	if err != nil {
		return "", err
	}
	t.mu.Lock()
	if t.ledger == l && t.address == address {
		t.balance = balance
	}
	t.mu.Unlock()
	log.Debugf("balance - %v holds %v", address, balance)
	return balance, nil
}

// SendFunds transfers amount of native currency to recipient and waits for the receipt. A
// receipt publishes events.TransferCompleted; no receipt in time returns an unconfirmed
// Transfer without error.
func (t *Tracker) SendFunds(ctx context.Context, recipient, amount string) (*Transfer, error) {
	t.sendMu.Lock()
	defer t.sendMu.Unlock()

	l, address := t.bound()
	if l == nil {
		return nil, ErrNotConnected
	}
	if !common.IsHexAddress(recipient) {
		return nil, errors.Wrapf(ErrInvalidRecipient, "%q", recipient)
	}
	value, err := units.ParseEther(amount)
	if err != nil {
		return nil, err
	}
	if value.Sign() < 0 {
		return nil, errors.Wrapf(ErrNegativeAmount, "%q", amount)
	}
	to := common.HexToAddress(recipient)
	tx, err := l.SignerFor(common.HexToAddress(address)).SendTransaction(ctx, ledger.TransactionRequest{
		To:    to,
		Value: value,
	})
	if err != nil {
		return nil, err
	}
	transfer := &Transfer{
		Hash:  tx.Hash,
		From:  address,
		To:    to.Hex(),
		Value: value,
	}
	log.Infof("balance - sent %v ether to %v in %v", amount, transfer.To, tx.Hash.Hex())

	waitCtx, cancel := context.WithTimeout(ctx, t.receiptTimeout)
	defer cancel()
	receipt, err := tx.Wait(waitCtx)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			// TODO: keep watching unconfirmed transfers and refresh once they land.
			log.Warnf("balance - no receipt for %v within %v, balance not refreshed", tx.Hash.Hex(), t.receiptTimeout)
			return transfer, nil
		}
		return transfer, err
	}
	transfer.Confirmed = true
	if receipt.BlockNumber != nil {
		transfer.BlockNumber = receipt.BlockNumber.ToInt()
	}
	t.bus.Publish(events.TransferCompleted{
		From:        transfer.From,
		To:          transfer.To,
		Value:       transfer.Value,
		Hash:        transfer.Hash.Hex(),
		BlockNumber: transfer.BlockNumber,
	})
	return transfer, nil
}

// Follow binds the tracker to every session change on bus and refreshes after transfers
// touching the bound address. The returned func unsubscribes both.
func (t *Tracker) Follow(ctx context.Context, bus *events.Bus) func() {
	unsubSession := bus.Subscribe(events.TopicSession, func(e events.Event) {
		sc, ok := e.(events.SessionChanged)
		if !ok {
			return
		}
		if err := t.Bind(ctx, sc.Ledger, sc.Address); err != nil {
			log.Warnf("balance - refresh after session change: %v", err)
		}
	})
	unsubTransfer := bus.Subscribe(events.TopicTransferComplete, func(e events.Event) {
		tc, ok := e.(events.TransferCompleted)
		if !ok {
			return
		}
		address := t.Address()
		if address == "" || (!strings.EqualFold(tc.From, address) && !strings.EqualFold(tc.To, address)) {
			return
		}
		if _, err := t.Refresh(ctx); err != nil {
			log.Warnf("balance - refresh after transfer %v: %v", tc.Hash, err)
		}
	})
	return func() {
		unsubSession()
		unsubTransfer()
	}
}

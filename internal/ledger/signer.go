package ledger

import (
	"context"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"math/big"
	"moff.io/moff-defi/internal/eip1193"
	"moff.io/moff-defi/pkg/errors"
)

// Signer submits transactions on behalf of one address; the wallet does the signing.
type Signer struct {
	client  *Client
	address *common.Address
}

func (s *Signer) Address(ctx context.Context) (common.Address, error) {
	if s.address != nil {
		return *s.address, nil
	}
	accounts, err := s.client.Accounts(ctx)
	if err != nil {
		return common.Address{}, err
	}
	if len(accounts) == 0 {
		return common.Address{}, ErrNoAccount
	}
	return accounts[0], nil
}

type TransactionRequest struct {
	To    common.Address
	Value *big.Int
	Data  []byte
}

type sendTxArgs struct {
	From  common.Address `json:"from"`
	To    common.Address `json:"to"`
	Value *hexutil.Big   `json:"value,omitempty"`
	Data  hexutil.Bytes  `json:"data,omitempty"`
}

func (s *Signer) SendTransaction(ctx context.Context, req TransactionRequest) (*PendingTransaction, error) {
	from, err := s.Address(ctx)
	if err != nil {
		return nil, err
	}
	args := sendTxArgs{From: from, To: req.To, Data: req.Data}
	if req.Value != nil {
		args.Value = (*hexutil.Big)(req.Value)
	}
	var hash common.Hash
	if err := s.client.provider.Request(ctx, &hash, eip1193.MethodSendTransaction, args); err != nil {
		return nil, errors.Wrap(err, "send transaction")
	}
	return &PendingTransaction{Hash: hash, client: s.client}, nil
}

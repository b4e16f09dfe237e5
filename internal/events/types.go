package events

import (
	"encoding/json"
	"math/big"
	"moff.io/moff-defi/internal/ledger"
)

const (
	TopicSession          = "session"
	TopicTransferComplete = "transfer_completed"
)

// SessionChanged is published on every wallet session transition.
type SessionChanged struct {
	State   string `json:"state"`
	Address string `json:"address,omitempty"`
	ChainID int64  `json:"chain_id,omitempty"`
	// Ledger is nil exactly when Address is empty.
	Ledger *ledger.Client `json:"-"`
}

func (e SessionChanged) Topic() string { return TopicSession }

func (e SessionChanged) Serialize() []byte {
	data, _ := json.Marshal(e)
	return data
}

// TransferCompleted is published once a native transfer has a successful receipt.
type TransferCompleted struct {
	From        string   `json:"from"`
	To          string   `json:"to"`
	Value       *big.Int `json:"value"`
	Hash        string   `json:"hash"`
	BlockNumber *big.Int `json:"block_number,omitempty"`
}

func (e TransferCompleted) Topic() string { return TopicTransferComplete }

func (e TransferCompleted) Serialize() []byte {
	data, _ := json.Marshal(e)
	return data
}

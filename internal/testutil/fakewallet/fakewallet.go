// Package fakewallet is an in-memory EIP-1193 wallet for tests: a node with one chain, a
// balance book and instantly or manually mined transfers.
package fakewallet

import (
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"fmt"
	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"math/big"
	"moff.io/moff-defi/internal/eip1193"
	"strings"
	"sync"
)

// Call is one recorded request.
type Call struct {
	Method string
	Params []interface{}
}

type Wallet struct {
	eip1193.Emitter

	mu          sync.Mutex
	accounts    []string
	chainID     int64
	balances    map[common.Address]*big.Int
	receipts    map[common.Hash]map[string]interface{}
	held        map[common.Hash]map[string]interface{}
	calls       []Call
	txCount     int
	holdMining  bool
	revert      bool
	failMethods map[string]error
	keys        map[common.Address]*ecdsa.PrivateKey

	disconnects int
}

func New(chainID int64, accounts ...string) *Wallet {
	return &Wallet{
		accounts:    accounts,
		chainID:     chainID,
		balances:    make(map[common.Address]*big.Int),
		receipts:    make(map[common.Hash]map[string]interface{}),
		held:        make(map[common.Hash]map[string]interface{}),
		failMethods: make(map[string]error),
		keys:        make(map[common.Address]*ecdsa.PrivateKey),
	}
}

func (w *Wallet) SetBalance(addr string, wei *big.Int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.balances[common.HexToAddress(addr)] = new(big.Int).Set(wei)
}

func (w *Wallet) Balance(addr string) *big.Int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.balanceOf(common.HexToAddress(addr))
}

// AddKey lets the wallet personal_sign for the address of key, which it returns.
func (w *Wallet) AddKey(key *ecdsa.PrivateKey) string {
	address := crypto.PubkeyToAddress(key.PublicKey).Hex()
	w.SetKey(address, key)
	return address
}

// SetKey makes personal_sign for addr use key, even when key belongs to another address.
func (w *Wallet) SetKey(addr string, key *ecdsa.PrivateKey) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.keys[common.HexToAddress(addr)] = key
}

func (w *Wallet) SetAccounts(accounts ...string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.accounts = accounts
}

// HoldMining keeps sent transactions pending until Mine is called.
func (w *Wallet) HoldMining(hold bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.holdMining = hold
}

// RevertTransfers makes mined transfers fail with status 0.
func (w *Wallet) RevertTransfers(revert bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.revert = revert
}

func (w *Wallet) Fail(method string, err error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.failMethods[method] = err
}

func (w *Wallet) Calls(method string) []Call {
	w.mu.Lock()
	defer w.mu.Unlock()
	var out []Call
	for _, c := range w.calls {
		if c.Method == method {
			out = append(out, c)
		}
	}
	return out
}

func (w *Wallet) Disconnects() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.disconnects
}

func (w *Wallet) Disconnect(ctx context.Context) error {
	w.mu.Lock()
	w.disconnects++
	w.mu.Unlock()
	return nil
}

func (w *Wallet) Request(ctx context.Context, result interface{}, method string, params ...interface{}) error {
	w.mu.Lock()
	w.calls = append(w.calls, Call{Method: method, Params: params})
	if err := w.failMethods[method]; err != nil {
		w.mu.Unlock()
		return err
	}
	out, err := w.handle(method, params)
	w.mu.Unlock()
	if err != nil {
		return err
	}
	if result == nil {
		return nil
	}
	// round trip through JSON like a real transport
	raw, err := json.Marshal(out)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, result)
}

func (w *Wallet) handle(method string, params []interface{}) (interface{}, error) {
	switch method {
	case eip1193.MethodAccounts, eip1193.MethodRequestAccounts:
		return append([]string{}, w.accounts...), nil
	case eip1193.MethodChainID:
		return hexutil.EncodeUint64(uint64(w.chainID)), nil
	case eip1193.MethodGetBalance:
		if len(params) == 0 {
			return nil, fmt.Errorf("missing address")
		}
		return (*hexutil.Big)(w.balanceOf(toAddress(params[0]))), nil
	case eip1193.MethodSendTransaction:
		return w.send(params)
	case eip1193.MethodPersonalSign:
		return w.personalSign(params)
	case eip1193.MethodGetReceipt:
		if len(params) == 0 {
			return nil, fmt.Errorf("missing hash")
		}
		hash := toHash(params[0])
		if r, ok := w.receipts[hash]; ok {
			return r, nil
		}
		return nil, nil
	default:
		return nil, &eip1193.RPCError{Code: -32601, Message: "method not found: " + method}
	}
}

func (w *Wallet) personalSign(params []interface{}) (interface{}, error) {
	if len(params) < 2 {
		return nil, fmt.Errorf("personal_sign wants message and account")
	}
	msg, err := hexutil.Decode(fmt.Sprint(params[0]))
	if err != nil {
		return nil, err
	}
	key, ok := w.keys[toAddress(params[1])]
	if !ok {
		return nil, &eip1193.RPCError{Code: eip1193.CodeUnauthorized, Message: "unknown account"}
	}
	sig, err := crypto.Sign(accounts.TextHash(msg), key)
	if err != nil {
		return nil, err
	}
	sig[crypto.RecoveryIDOffset] += 27
	return hexutil.Encode(sig), nil
}

func (w *Wallet) send(params []interface{}) (interface{}, error) {
	if len(params) == 0 {
		return nil, fmt.Errorf("missing transaction")
	}
	raw, err := json.Marshal(params[0])
	if err != nil {
		return nil, err
	}
	var tx struct {
		From  common.Address `json:"from"`
		To    common.Address `json:"to"`
		Value *hexutil.Big   `json:"value"`
	}
	if err := json.Unmarshal(raw, &tx); err != nil {
		return nil, err
	}
	w.txCount++
	hash := common.BigToHash(big.NewInt(int64(w.txCount)))
	value := big.NewInt(0)
	if tx.Value != nil {
		value = tx.Value.ToInt()
	}
	receipt := map[string]interface{}{
		"transactionHash": hash,
		"blockNumber":     hexutil.EncodeUint64(uint64(w.txCount)),
		"from":            tx.From,
		"to":              tx.To,
		"status":          "0x1",
		"gasUsed":         "0x5208",
	}
	if w.revert {
		receipt["status"] = "0x0"
	} else {
		w.balances[tx.From] = new(big.Int).Sub(w.balanceOf(tx.From), value)
		w.balances[tx.To] = new(big.Int).Add(w.balanceOf(tx.To), value)
	}
	if w.holdMining {
		w.held[hash] = receipt
	} else {
		w.receipts[hash] = receipt
	}
	return hash, nil
}

// Mine includes every held transaction.
func (w *Wallet) Mine() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for h, r := range w.held {
		w.receipts[h] = r
	}
	w.held = make(map[common.Hash]map[string]interface{})
}

func (w *Wallet) balanceOf(addr common.Address) *big.Int {
	if b, ok := w.balances[addr]; ok {
		return new(big.Int).Set(b)
	}
	return big.NewInt(0)
}

func toAddress(v interface{}) common.Address {
	switch a := v.(type) {
	case common.Address:
		return a
	case string:
		return common.HexToAddress(a)
	default:
		return common.HexToAddress(strings.TrimSpace(fmt.Sprint(a)))
	}
}

func toHash(v interface{}) common.Hash {
	switch h := v.(type) {
	case common.Hash:
		return h
	case string:
		return common.HexToHash(h)
	default:
		return common.HexToHash(fmt.Sprint(h))
	}
}

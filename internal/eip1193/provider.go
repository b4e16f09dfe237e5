// Package eip1193 describes the wallet provider capability: a JSON-RPC request method plus
// the accountsChanged, chainChanged and disconnect lifecycle events.
package eip1193

import (
	"context"
	"fmt"
	"moff.io/moff-defi/pkg/errors"
)

const (
	// EventAccountsChanged carries the new account list as []string.
	EventAccountsChanged = "accountsChanged"
	// EventChainChanged carries the new chain id as a hex string.
	EventChainChanged = "chainChanged"
	// EventDisconnect carries the error that ended the connection, possibly nil.
	EventDisconnect = "disconnect"
)

const (
	MethodAccounts        = "eth_accounts"
	MethodRequestAccounts = "eth_requestAccounts"
	MethodChainID         = "eth_chainId"
	MethodGetBalance      = "eth_getBalance"
	MethodSendTransaction = "eth_sendTransaction"
	MethodGetReceipt      = "eth_getTransactionReceipt"
	MethodPersonalSign    = "personal_sign"
)

// Handler receives one event payload.
type Handler func(payload interface{})

// Provider is the capability every wallet backend offers.
type Provider interface {
	// Request performs method and decodes the JSON result into result, which may be nil.
	Request(ctx context.Context, result interface{}, method string, params ...interface{}) error
	On(event string, handler Handler)
	RemoveAllListeners()
}

// Disconnector is implemented by providers that can end their own session.
type Disconnector interface {
	Disconnect(ctx context.Context) error
}

var ErrNoProvider = errors.New("no wallet provider detected")

const (
	CodeUserRejected = 4001
	CodeUnauthorized = 4100
	CodeDisconnected = 4900
)

// RPCError is the ProviderRpcError shape of EIP-1193.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("provider rpc error %d: %s", e.Code, e.Message)
}

func NewUserRejected(message string) error {
	return &RPCError{Code: CodeUserRejected, Message: message}
}

func IsUserRejected(err error) bool {
	var rpcErr *RPCError
	return errors.As(err, &rpcErr) && rpcErr.Code == CodeUserRejected
}

// AccountsPayload normalizes an accountsChanged payload.
func AccountsPayload(payload interface{}) []string {
	switch v := payload.(type) {
	case []string:
		return v
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, a := range v {
			if s, ok := a.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

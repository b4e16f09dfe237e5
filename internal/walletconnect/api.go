// Package walletconnect is a WalletConnect v1 provider: the dapp pairs with a mobile wallet
// through a bridge server, wallet methods are relayed to the wallet over the encrypted
// session and reads go to a JSON-RPC relay.
// 交互流程见文档：https://docs.walletconnect.com/tech-spec#establishing-connection
package walletconnect

import (
	"context"
	"moff.io/moff-defi/internal/eip1193"
	"time"
)

// DisplayQRCodeFn 展示二维码的函数, called once with the pairing uri and its png.
type DisplayQRCodeFn func(uri string, png []byte) error

type Options struct {
	// BridgeURL defaults to one of the public bridges.
	BridgeURL string
	// RelayURL serves every method the wallet does not answer itself.
	RelayURL string
	ChainID  int64
	Meta     ClientMeta
	// QRCodePath, when set, also writes the pairing png there.
	QRCodePath    string
	ReadTimeout   time.Duration
	DisplayQRCode DisplayQRCodeFn
}

// Wallet is what a paired WalletConnect provider offers on top of eip1193.
type Wallet interface {
	eip1193.Provider
	eip1193.Disconnector
	// Enable pairs with a wallet and returns the approved accounts.
	Enable(ctx context.Context) ([]string, error)
	URI() string
	Connected() bool
}

var _ Wallet = (*Provider)(nil)

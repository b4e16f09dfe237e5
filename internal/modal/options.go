package modal

import (
	"context"
	"moff.io/moff-defi/internal/eip1193"
	"moff.io/moff-defi/internal/injected"
	"moff.io/moff-defi/internal/walletconnect"
	"time"
)

// InjectedOption connects the local node at url and asks it for accounts.
func InjectedOption(url string, pollInterval time.Duration) Option {
	return Option{
		ID:   IDInjected,
		Name: "Injected",
		Connect: func(ctx context.Context) (eip1193.Provider, error) {
			p, err := injected.Detect(ctx, url, injected.WithPollInterval(pollInterval))
			if err != nil {
				return nil, err
			}
			var accounts []string
			if err := p.Request(ctx, &accounts, eip1193.MethodRequestAccounts); err != nil {
				p.Close()
				return nil, err
			}
			return p, nil
		},
	}
}

// WalletConnectOption pairs a new bridge session per connect.
func WalletConnectOption(opts walletconnect.Options) Option {
	return Option{
		ID:   IDWalletConnect,
		Name: "WalletConnect",
		Connect: func(ctx context.Context) (eip1193.Provider, error) {
			p, err := walletconnect.NewProvider(opts)
			if err != nil {
				return nil, err
			}
			if _, err := p.Enable(ctx); err != nil {
				return nil, err
			}
			return p, nil
		},
	}
}

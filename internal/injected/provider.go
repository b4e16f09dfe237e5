// Package injected is the provider of a JSON-RPC node that holds the user's unlocked
// accounts, e.g. a local hardhat node. Lifecycle events are derived by polling.
package injected

import (
	"context"
	"github.com/ethereum/go-ethereum/rpc"
	"moff.io/moff-defi/internal/eip1193"
	"moff.io/moff-defi/pkg/errors"
	"moff.io/moff-defi/pkg/log"
	"reflect"
	"sync"
	"time"
)

const (
	defaultPollInterval = time.Second
	detectTimeout       = time.Second * 5
)

type Provider struct {
	eip1193.Emitter

	client       *rpc.Client
	pollInterval time.Duration

	mu       sync.Mutex
	watching bool
	stop     chan struct{}
	closed   bool
}

type Option func(*Provider)

func WithPollInterval(d time.Duration) Option {
	return func(p *Provider) {
		if d > 0 {
			p.pollInterval = d
		}
	}
}

// Detect dials url and asks it for a chain id; any failure is reported as eip1193.ErrNoProvider.
func Detect(ctx context.Context, url string, opts ...Option) (*Provider, error) {
	if url == "" {
		return nil, eip1193.ErrNoProvider
	}
	client, err := rpc.DialContext(ctx, url)
	if err != nil {
		return nil, errors.Wrapf(eip1193.ErrNoProvider, "dial %s: %v", url, err)
	}
	p := New(client, opts...)
	detectCtx, cancel := context.WithTimeout(ctx, detectTimeout)
	defer cancel()
	var chainID string
	if err := p.Request(detectCtx, &chainID, eip1193.MethodChainID); err != nil {
		client.Close()
		return nil, errors.Wrapf(eip1193.ErrNoProvider, "detect %s: %v", url, err)
	}
	log.Debugf("injected provider detected at %v, chain %v", url, chainID)
	return p, nil
}

func New(client *rpc.Client, opts ...Option) *Provider {
	p := &Provider{
		client:       client,
		pollInterval: defaultPollInterval,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Provider) Request(ctx context.Context, result interface{}, method string, params ...interface{}) error {
	if method == eip1193.MethodRequestAccounts {
		// the node authorizes its unlocked accounts up front
		method = eip1193.MethodAccounts
	}
	if err := p.client.CallContext(ctx, result, method, params...); err != nil {
		var rpcErr rpc.Error
		if errors.As(err, &rpcErr) {
			return &eip1193.RPCError{Code: rpcErr.ErrorCode(), Message: rpcErr.Error()}
		}
		return err
	}
	return nil
}

// On registers handler and starts the watcher with the first listener.
func (p *Provider) On(event string, handler eip1193.Handler) {
	p.Emitter.On(event, handler)
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.watching || p.closed {
		return
	}
	p.watching = true
	p.stop = make(chan struct{})
	go p.watch(p.stop)
}

// RemoveAllListeners drops every handler and stops the watcher.
func (p *Provider) RemoveAllListeners() {
	p.Emitter.RemoveAllListeners()
	p.stopWatching()
}

func (p *Provider) stopWatching() {
	p.mu.Lock()
	if !p.watching {
		p.mu.Unlock()
		return
	}
	p.watching = false
	close(p.stop)
	p.mu.Unlock()
}

func (p *Provider) Close() error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	p.RemoveAllListeners()
	p.client.Close()
	return nil
}

type snapshot struct {
	accounts []string
	chainID  string
}

func (p *Provider) poll(ctx context.Context) (snapshot, error) {
	var s snapshot
	if err := p.Request(ctx, &s.accounts, eip1193.MethodAccounts); err != nil {
		return s, err
	}
	if err := p.Request(ctx, &s.chainID, eip1193.MethodChainID); err != nil {
		return s, err
	}
	if s.accounts == nil {
		s.accounts = []string{}
	}
	return s, nil
}

func (p *Provider) watch(stop chan struct{}) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-stop:
			cancel()
		case <-ctx.Done():
		}
	}()

	last, err := p.poll(ctx)
	if err != nil {
		p.lost(ctx, err)
		return
	}
	ticker := time.NewTicker(p.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}
		cur, err := p.poll(ctx)
		if err != nil {
			p.lost(ctx, err)
			return
		}
		if !reflect.DeepEqual(cur.accounts, last.accounts) {
			log.Debugf("injected provider - accounts changed %v", cur.accounts)
			p.Emit(eip1193.EventAccountsChanged, cur.accounts)
		}
		if cur.chainID != last.chainID {
			log.Debugf("injected provider - chain changed %v", cur.chainID)
			p.Emit(eip1193.EventChainChanged, cur.chainID)
		}
		last = cur
	}
}

func (p *Provider) lost(ctx context.Context, err error) {
	if ctx.Err() != nil {
		// stopped on purpose
		return
	}
	p.mu.Lock()
	p.watching = false
	p.mu.Unlock()
	log.Warnf("injected provider - connection lost: %v", err)
	p.Emit(eip1193.EventDisconnect, &eip1193.RPCError{Code: eip1193.CodeDisconnected, Message: err.Error()})
}

// Package modal picks the wallet provider to connect with and remembers the choice.
package modal

import (
	"context"
	"moff.io/moff-defi/internal/cache"
	"moff.io/moff-defi/internal/eip1193"
	"moff.io/moff-defi/pkg/errors"
	"moff.io/moff-defi/pkg/log"
)

// CacheKey is where the last chosen provider id is kept.
const CacheKey = "WEB3_CONNECT_CACHED_PROVIDER"

const (
	IDInjected      = "injected"
	IDWalletConnect = "walletconnect"
)

var (
	ErrUnknownProvider = errors.New("unknown wallet provider")
	ErrNoOptions       = errors.New("no wallet provider options registered")
)

// ConnectFunc returns an authorized provider or the error the wallet raised.
type ConnectFunc func(ctx context.Context) (eip1193.Provider, error)

type Option struct {
	ID      string
	Name    string
	Connect ConnectFunc
}

type Modal struct {
	options       []Option
	chooser       Chooser
	store         cache.Store
	cacheProvider bool
}

// New keeps options in the given order, which is also the order a Chooser presents them.
func New(store cache.Store, chooser Chooser, cacheProvider bool, options ...Option) *Modal {
	if store == nil {
		store = cache.NewMemoryStore()
	}
	return &Modal{
		options:       options,
		chooser:       chooser,
		store:         store,
		cacheProvider: cacheProvider,
	}
}

func (m *Modal) Options() []Option {
	return append([]Option{}, m.options...)
}

func (m *Modal) option(id string) (Option, bool) {
	for _, o := range m.options {
		if o.ID == id {
			return o, true
		}
	}
	return Option{}, false
}

// Connect reuses the cached provider when there is one, otherwise asks the chooser.
func (m *Modal) Connect(ctx context.Context) (eip1193.Provider, error) {
	if len(m.options) == 0 {
		return nil, ErrNoOptions
	}
	if m.cacheProvider {
		id, err := m.CachedProvider(ctx)
		if err != nil {
			log.Warnf("modal - read cached provider: %v", err)
		}
		if _, ok := m.option(id); ok {
			log.Debugf("modal - connecting to cached provider %v", id)
			return m.ConnectTo(ctx, id)
		}
	}
	if m.chooser == nil {
		return nil, errors.New("no wallet chooser configured")
	}
	id, err := m.chooser.Choose(ctx, m.Options())
	if err != nil {
		return nil, err
	}
	return m.ConnectTo(ctx, id)
}

// ConnectTo connects the option id and caches it on success.
func (m *Modal) ConnectTo(ctx context.Context, id string) (eip1193.Provider, error) {
	o, ok := m.option(id)
	if !ok {
		return nil, errors.Wrap(ErrUnknownProvider, id)
	}
	p, err := o.Connect(ctx)
	if err != nil {
		return nil, err
	}
	if m.cacheProvider {
		if err := m.store.Set(ctx, CacheKey, id); err != nil {
			log.Warnf("modal - cache provider %v: %v", id, err)
		}
	}
	log.Infof("modal - connected with %v", o.Name)
	return p, nil
}

// CachedProvider returns "" when nothing is cached.
func (m *Modal) CachedProvider(ctx context.Context) (string, error) {
	id, err := m.store.Get(ctx, CacheKey)
	if errors.Is(err, cache.ErrMiss) {
		return "", nil
	}
	return id, err
}

func (m *Modal) ClearCachedProvider(ctx context.Context) error {
	return m.store.Del(ctx, CacheKey)
}

// Package session owns the wallet session: which provider is active, the ledger client bound
// to it, and the address and chain id mirrored from the wallet.
package session

import (
	"context"
	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sync/singleflight"
	"io"
	"moff.io/moff-defi/internal/chains"
	"moff.io/moff-defi/internal/eip1193"
	"moff.io/moff-defi/internal/events"
	"moff.io/moff-defi/internal/ledger"
	"moff.io/moff-defi/pkg/errors"
	"moff.io/moff-defi/pkg/log"
	"sync"
)

// ErrConnectAborted is returned by a Connect that was overtaken by Disconnect or Close.
var ErrConnectAborted = errors.New("connect aborted by disconnect")

type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
)

// Session is a snapshot. Ledger is nil exactly when Address is empty.
type Session struct {
	State    State
	Provider eip1193.Provider
	Ledger   *ledger.Client
	Address  string
	ChainID  int64
}

func (s Session) Connected() bool {
	return s.Ledger != nil
}

// Selector is the wallet selection UI.
type Selector interface {
	Connect(ctx context.Context) (eip1193.Provider, error)
	ClearCachedProvider(ctx context.Context) error
}

// Detector finds an already present provider without prompting anyone.
type Detector func(ctx context.Context) (eip1193.Provider, error)

// Reloader re-initializes the whole process state, it is called after a chain change.
type Reloader func(reason string)

type Manager struct {
	selector   Selector
	bus        *events.Bus
	detector   Detector
	reloader   Reloader
	ledgerOpts []ledger.Option

	group singleflight.Group

	mu      sync.Mutex
	session Session
	// generation changes whenever the provider is swapped or dropped, handlers of an older
	// provider compare it and stay silent
	generation uint64
	// teardowns counts Disconnect and Close, a connect that started before one of them
	// must not install its session
	teardowns uint64
}

type Option func(*Manager)

func WithDetector(d Detector) Option {
	return func(m *Manager) {
		m.detector = d
	}
}

func WithReloader(r Reloader) Option {
	return func(m *Manager) {
		m.reloader = r
	}
}

func WithLedgerOptions(opts ...ledger.Option) Option {
	return func(m *Manager) {
		m.ledgerOpts = append(m.ledgerOpts, opts...)
	}
}

func NewManager(selector Selector, bus *events.Bus, opts ...Option) *Manager {
	if bus == nil {
		bus = events.NewEventBus()
	}
	m := &Manager{
		selector: selector,
		bus:      bus,
		session:  Session{State: StateDisconnected},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Manager) Session() Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session
}

func (m *Manager) State() State {
	return m.Session().State
}

// Connect asks the selector for a provider and builds the session on it. Calls overlapping
// an in-flight Connect or RestoreIfAuthorized share its result.
func (m *Manager) Connect(ctx context.Context) (Session, error) {
	v, err, shared := m.group.Do("connect", func() (interface{}, error) {
		return m.connect(ctx)
	})
	if shared {
		log.Debug("session - joined an in-flight connect")
	}
	if err != nil {
		return m.Session(), err
	}
	return v.(Session), nil
}

func (m *Manager) connect(ctx context.Context) (Session, error) {
	teardowns := m.teardownCount()
	prev := m.setState(StateConnecting)
	provider, err := m.selector.Connect(ctx)
	if err != nil {
		m.restoreState(prev)
		return Session{}, err
	}
	s, err := m.establish(ctx, provider, teardowns)
	if err != nil {
		m.restoreState(prev)
		return Session{}, err
	}
	return s, nil
}

// RestoreIfAuthorized rebuilds the session when the detected provider already has an
// authorized account. Nothing found is not an error.
func (m *Manager) RestoreIfAuthorized(ctx context.Context) (Session, error) {
	if m.detector == nil {
		return m.Session(), nil
	}
	v, err, _ := m.group.Do("connect", func() (interface{}, error) {
		teardowns := m.teardownCount()
		provider, err := m.detector(ctx)
		if err != nil {
			if errors.Is(err, eip1193.ErrNoProvider) {
				log.Debugf("session - nothing to restore: %v", err)
			} else {
				log.Warnf("session - detect provider: %v", err)
			}
			return m.Session(), nil
		}
		var accounts []string
		if err := provider.Request(ctx, &accounts, eip1193.MethodAccounts); err != nil || len(accounts) == 0 {
			// no accounts, so not connected
			release(provider)
			return m.Session(), nil
		}
		s, err := m.establish(ctx, provider, teardowns)
		if err != nil {
			log.Warnf("session - restore: %v", err)
			return m.Session(), nil
		}
		log.Infof("session - restored %v on chain %v", s.Address, s.ChainID)
		return s, nil
	})
	if err != nil {
		return m.Session(), err
	}
	return v.(Session), nil
}

func (m *Manager) teardownCount() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.teardowns
}

// establish installs the session on provider unless a Disconnect or Close happened after
// teardowns was read.
func (m *Manager) establish(ctx context.Context, provider eip1193.Provider, teardowns uint64) (Session, error) {
	client := ledger.NewClient(provider, m.ledgerOpts...)
	address, err := client.Signer().Address(ctx)
	if err != nil {
		m.releaseIfAbandoned(provider)
		return Session{}, err
	}
	network, err := client.Network(ctx)
	if err != nil {
		m.releaseIfAbandoned(provider)
		return Session{}, err
	}

	m.mu.Lock()
	if m.teardowns != teardowns {
		m.mu.Unlock()
		m.abandon(ctx, provider)
		return Session{}, ErrConnectAborted
	}
	old := m.session.Provider
	m.generation++
	gen := m.generation
	m.session = Session{
		State:    StateConnected,
		Provider: provider,
		Ledger:   client,
		Address:  address.Hex(),
		ChainID:  network.ChainID,
	}
	s := m.session
	m.mu.Unlock()

	switch {
	case old == provider:
		// handlers of the previous generation go away
		provider.RemoveAllListeners()
	case old != nil:
		release(old)
	}
	m.subscribe(provider, gen)
	log.Infof("session - connected %v on chain %v (%v)", s.Address, s.ChainID, network.Name)
	m.publish(s)
	return s, nil
}

// abandon drops a provider that connected after the session was torn down. The selector may
// have cached it again on the way, so the cache is cleared once more.
func (m *Manager) abandon(ctx context.Context, provider eip1193.Provider) {
	log.Infof("session - connect finished after disconnect, dropping provider")
	if m.selector != nil {
		if err := m.selector.ClearCachedProvider(ctx); err != nil {
			log.Warnf("session - clear cached provider: %v", err)
		}
	}
	provider.RemoveAllListeners()
	if d, ok := provider.(eip1193.Disconnector); ok {
		if err := d.Disconnect(ctx); err != nil {
			log.Warnf("session - disconnect dropped provider: %v", err)
		}
	}
	m.releaseIfAbandoned(provider)
}

func (m *Manager) releaseIfAbandoned(provider eip1193.Provider) {
	m.mu.Lock()
	current := m.session.Provider
	m.mu.Unlock()
	if provider != current {
		release(provider)
	}
}

func (m *Manager) subscribe(provider eip1193.Provider, gen uint64) {
	provider.On(eip1193.EventAccountsChanged, func(payload interface{}) {
		m.handleAccountsChanged(gen, eip1193.AccountsPayload(payload))
	})
	provider.On(eip1193.EventChainChanged, func(payload interface{}) {
		m.handleChainChanged(gen, payload)
	})
	provider.On(eip1193.EventDisconnect, func(payload interface{}) {
		m.handleDisconnect(gen, payload)
	})
}

func (m *Manager) current(gen uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return gen == m.generation
}

func (m *Manager) handleAccountsChanged(gen uint64, accounts []string) {
	log.Debugf("session - accountsChanged %v", accounts)
	if len(accounts) == 0 {
		m.reset(gen, "wallet returned no accounts")
		return
	}
	m.mu.Lock()
	if gen != m.generation {
		m.mu.Unlock()
		return
	}
	address := common.HexToAddress(accounts[0]).Hex()
	if address == m.session.Address {
		m.mu.Unlock()
		return
	}
	m.session.Address = address
	s := m.session
	m.mu.Unlock()
	m.publish(s)
}

// handleChainChanged never updates the chain id in place, the session is dropped and the
// whole process state rebuilt.
func (m *Manager) handleChainChanged(gen uint64, payload interface{}) {
	if !m.current(gen) {
		return
	}
	chainID := payload
	if s, ok := payload.(string); ok {
		if id, err := chains.ParseHexID(s); err == nil {
			chainID = id
		}
	}
	log.Infof("session - chainChanged to %v, reloading", chainID)
	if !m.reset(gen, "chain changed") {
		return
	}
	if m.reloader != nil {
		m.reloader("chain changed")
	}
}

func (m *Manager) handleDisconnect(gen uint64, payload interface{}) {
	if !m.current(gen) {
		return
	}
	log.Warnf("session - disconnect %v", payload)
	if err := m.Disconnect(context.Background()); err != nil {
		log.Warnf("session - disconnect after provider signal: %v", err)
	}
}

// reset drops the session of generation gen without touching the cached selection.
func (m *Manager) reset(gen uint64, reason string) bool {
	m.mu.Lock()
	if gen != m.generation {
		m.mu.Unlock()
		return false
	}
	provider := m.session.Provider
	m.generation++
	m.session = Session{State: StateDisconnected}
	s := m.session
	m.mu.Unlock()

	log.Infof("session - reset: %v", reason)
	if provider != nil {
		release(provider)
	}
	m.publish(s)
	return true
}

// Disconnect clears the cached selection, ends the provider session when it can, and always
// leaves the session fully absent. Calling it without a session is fine.
func (m *Manager) Disconnect(ctx context.Context) error {
	m.mu.Lock()
	provider := m.session.Provider
	changed := m.session.State != StateDisconnected || provider != nil
	m.generation++
	m.teardowns++
	m.session = Session{State: StateDisconnected}
	s := m.session
	m.mu.Unlock()

	var firstErr error
	if m.selector != nil {
		if err := m.selector.ClearCachedProvider(ctx); err != nil {
			firstErr = errors.Wrap(err, "clear cached provider")
		}
	}
	if provider != nil {
		provider.RemoveAllListeners()
		if d, ok := provider.(eip1193.Disconnector); ok {
			if err := d.Disconnect(ctx); err != nil && firstErr == nil {
				firstErr = errors.Wrap(err, "provider disconnect")
			}
		}
		release(provider)
	}
	if changed {
		log.Info("session - disconnected")
		m.publish(s)
	}
	return firstErr
}

// Close unsubscribes from the provider and releases it, the cached selection survives so the
// next start can restore.
func (m *Manager) Close() error {
	m.mu.Lock()
	provider := m.session.Provider
	m.generation++
	m.teardowns++
	m.session = Session{State: StateDisconnected}
	m.mu.Unlock()
	if provider != nil {
		release(provider)
	}
	return nil
}

func (m *Manager) setState(state State) Session {
	m.mu.Lock()
	prev := m.session
	m.session.State = state
	s := m.session
	m.mu.Unlock()
	m.publish(s)
	return prev
}

// restoreState undoes a Connecting transition, unless the session moved on meanwhile.
func (m *Manager) restoreState(prev Session) {
	m.mu.Lock()
	if m.session.State != StateConnecting {
		m.mu.Unlock()
		return
	}
	state := StateDisconnected
	if m.session.Ledger != nil {
		state = StateConnected
	}
	m.session.State = state
	s := m.session
	m.mu.Unlock()
	log.Debugf("session - connect failed, back to %v from %v", state, prev.State)
	m.publish(s)
}

func (m *Manager) publish(s Session) {
	m.bus.Publish(events.SessionChanged{
		State:   string(s.State),
		Address: s.Address,
		ChainID: s.ChainID,
		Ledger:  s.Ledger,
	})
}

func release(provider eip1193.Provider) {
	provider.RemoveAllListeners()
	if c, ok := provider.(io.Closer); ok {
		if err := c.Close(); err != nil {
			log.Warnf("session - close provider: %v", err)
		}
	}
}

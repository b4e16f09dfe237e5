package modal

import (
	"bytes"
	"context"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"io"
	"io/ioutil"
	"moff.io/moff-defi/internal/cache"
	"moff.io/moff-defi/internal/eip1193"
	"moff.io/moff-defi/internal/testutil/fakewallet"
	"strings"
	"testing"
	"time"
)

const alice = "0xaBcD000000000000000000000000000000000001"

type countingOption struct {
	calls  int
	wallet *fakewallet.Wallet
	err    error
}

func (c *countingOption) option(id string) Option {
	return Option{
		ID:   id,
		Name: strings.ToUpper(id),
		Connect: func(ctx context.Context) (eip1193.Provider, error) {
			c.calls++
			if c.err != nil {
				return nil, c.err
			}
			return c.wallet, nil
		},
	}
}

func TestConnectCachesChoice(t *testing.T) {
	ctx := context.Background()
	store := cache.NewMemoryStore()
	injectedOpt := &countingOption{wallet: fakewallet.New(31337, alice)}
	wcOpt := &countingOption{wallet: fakewallet.New(1, alice)}
	chosen := 0
	chooser := ChooserFunc(func(ctx context.Context, options []Option) (string, error) {
		chosen++
		require.Len(t, options, 2)
		return IDWalletConnect, nil
	})
	m := New(store, chooser, true, injectedOpt.option(IDInjected), wcOpt.option(IDWalletConnect))

	p, err := m.Connect(ctx)
	require.NoError(t, err)
	assert.Same(t, wcOpt.wallet, p)
	id, err := m.CachedProvider(ctx)
	require.NoError(t, err)
	assert.Equal(t, IDWalletConnect, id)

	// second connect skips the chooser
	_, err = m.Connect(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, chosen)
	assert.Equal(t, 2, wcOpt.calls)

	require.NoError(t, m.ClearCachedProvider(ctx))
	id, err = m.CachedProvider(ctx)
	require.NoError(t, err)
	assert.Empty(t, id)
	_, err = m.Connect(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, chosen)
}

func TestConnectWithoutCache(t *testing.T) {
	ctx := context.Background()
	store := cache.NewMemoryStore()
	opt := &countingOption{wallet: fakewallet.New(31337, alice)}
	m := New(store, StaticChooser(""), false, opt.option(IDInjected))

	_, err := m.Connect(ctx)
	require.NoError(t, err)
	_, err = store.Get(ctx, CacheKey)
	assert.ErrorIs(t, err, cache.ErrMiss)
}

func TestStaleCacheFallsBackToChooser(t *testing.T) {
	ctx := context.Background()
	store := cache.NewMemoryStore()
	require.NoError(t, store.Set(ctx, CacheKey, "walletlink"))
	opt := &countingOption{wallet: fakewallet.New(31337, alice)}
	m := New(store, StaticChooser(IDInjected), true, opt.option(IDInjected))

	_, err := m.Connect(ctx)
	require.NoError(t, err)
	id, _ := m.CachedProvider(ctx)
	assert.Equal(t, IDInjected, id)
}

func TestConnectErrors(t *testing.T) {
	ctx := context.Background()
	_, err := New(nil, StaticChooser(""), true).Connect(ctx)
	assert.ErrorIs(t, err, ErrNoOptions)

	rejected := &countingOption{err: eip1193.NewUserRejected("user closed modal")}
	m := New(nil, StaticChooser(IDInjected), true, rejected.option(IDInjected))
	_, err = m.Connect(ctx)
	assert.True(t, eip1193.IsUserRejected(err))
	id, _ := m.CachedProvider(ctx)
	assert.Empty(t, id, "failed connects are not cached")

	_, err = m.ConnectTo(ctx, "walletlink")
	assert.ErrorIs(t, err, ErrUnknownProvider)
}

func TestPromptChooser(t *testing.T) {
	options := []Option{{ID: IDInjected, Name: "Injected"}, {ID: IDWalletConnect, Name: "WalletConnect"}}
	ctx := context.Background()

	var out bytes.Buffer
	id, err := (&PromptChooser{In: strings.NewReader("2\n"), Out: &out}).Choose(ctx, options)
	require.NoError(t, err)
	assert.Equal(t, IDWalletConnect, id)
	assert.Contains(t, out.String(), "1) Injected")

	id, err = (&PromptChooser{In: strings.NewReader("injected"), Out: &out}).Choose(ctx, options)
	require.NoError(t, err)
	assert.Equal(t, IDInjected, id)

	_, err = (&PromptChooser{In: strings.NewReader("3\n"), Out: &out}).Choose(ctx, options)
	assert.Error(t, err)
	_, err = (&PromptChooser{In: strings.NewReader("ledger\n"), Out: &out}).Choose(ctx, options)
	assert.ErrorIs(t, err, ErrUnknownProvider)
}

func TestPromptChooserKeepsBufferedInput(t *testing.T) {
	options := []Option{{ID: IDInjected, Name: "Injected"}, {ID: IDWalletConnect, Name: "WalletConnect"}}
	c := &PromptChooser{In: strings.NewReader("1\n2\n"), Out: ioutil.Discard}

	id, err := c.Choose(context.Background(), options)
	require.NoError(t, err)
	assert.Equal(t, IDInjected, id)
	id, err = c.Choose(context.Background(), options)
	require.NoError(t, err)
	assert.Equal(t, IDWalletConnect, id)
}

func TestPromptChooserCancelled(t *testing.T) {
	options := []Option{{ID: IDInjected, Name: "Injected"}, {ID: IDWalletConnect, Name: "WalletConnect"}}
	r, w := io.Pipe()
	defer w.Close()
	c := &PromptChooser{In: r, Out: ioutil.Discard}

	ctx, cancel := context.WithTimeout(context.Background(), time.Millisecond*20)
	defer cancel()
	_, err := c.Choose(ctx, options)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	// the line typed after the timeout goes to the next prompt
	go func() {
		_, _ = w.Write([]byte("2\n"))
	}()
	id, err := c.Choose(context.Background(), options)
	require.NoError(t, err)
	assert.Equal(t, IDWalletConnect, id)
}

package main

import (
	"context"
	"flag"
	"go.uber.org/atomic"
	"moff.io/moff-defi/internal/balance"
	"moff.io/moff-defi/internal/cache"
	"moff.io/moff-defi/internal/chains"
	"moff.io/moff-defi/internal/config"
	"moff.io/moff-defi/internal/databus"
	"moff.io/moff-defi/internal/eip1193"
	"moff.io/moff-defi/internal/events"
	"moff.io/moff-defi/internal/http"
	"moff.io/moff-defi/internal/injected"
	"moff.io/moff-defi/internal/ledger"
	"moff.io/moff-defi/internal/modal"
	"moff.io/moff-defi/internal/session"
	"moff.io/moff-defi/internal/starter"
	"moff.io/moff-defi/internal/walletconnect"
	"moff.io/moff-defi/pkg/errors"
	"moff.io/moff-defi/pkg/log"
	"os"
	"os/signal"
	"syscall"
)

var prompt = flag.Bool("prompt", false, "Choose the wallet on stdin instead of wallet.default_provider")

func main() {
	log.Infof("Starting app")
	config.Read()
	log.SetLevel(config.Global.LogLevel)
	setupReporters(&config.Global.Errors)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	// 切换链后整个应用重新初始化
	for {
		reload := startApp(ctx)
		if !reload {
			break
		}
		log.Infof("Reloading app")
	}
	log.Infof("App stopped")
}

func setupReporters(c *config.Errors) {
	if c.SentryDSN != "" {
		if err := errors.NewSentryReporter(c.SentryDSN); err != nil {
			log.Warnf("sentry reporter: %v", err)
		}
	}
	if c.LarkWebhook != "" {
		errors.NewLarkReporter(c.LarkWebhook, "moff-defi", c.ReportSilence)
	}
	if c.DingTalkWebhook != "" {
		errors.NewDingTalkReporter(c.DingTalkWebhook, c.DingTalkSecret, c.ReportSilence)
	}
}

// startApp runs until ctx ends or the wallet switches chains, it reports whether to start again.
func startApp(parent context.Context) (reload bool) {
	defer func() {
		if i := recover(); i != nil {
			log.Fatal(errors.ErrorfAndReport("%v", i))
		}
	}()
	c := config.Global
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	store, limiter := newStore(ctx, c)
	if closer, ok := store.(interface{ Close() error }); ok {
		defer closer.Close()
	}

	var chooser modal.Chooser = modal.StaticChooser(c.Wallet.DefaultProvider)
	if *prompt {
		chooser = &modal.PromptChooser{In: os.Stdin, Out: os.Stdout}
	}
	web3Modal := modal.New(store, chooser, c.Wallet.CacheProvider, walletOptions(c)...)

	bus := events.NewEventBus()
	reloading := atomic.NewBool(false)
	manager := session.NewManager(web3Modal, bus,
		session.WithDetector(func(ctx context.Context) (eip1193.Provider, error) {
			return injected.Detect(ctx, c.Network.RPCURL, injected.WithPollInterval(c.Wallet.PollInterval))
		}),
		session.WithReloader(func(reason string) {
			log.Infof("reload requested: %v", reason)
			reloading.Store(true)
			cancel()
		}),
		session.WithLedgerOptions(ledger.WithPollInterval(c.Wallet.PollInterval)),
	)
	defer manager.Close()

	tracker := balance.NewTracker(bus, balance.WithReceiptTimeout(c.Wallet.ReceiptTimeout))
	defer tracker.Follow(ctx, bus)()

	var opts []http.Option
	if limiter != nil {
		opts = append(opts, http.WithLimiter(limiter))
	}
	dataBus, err := databus.NewDataBus(c.KafkaServer, c.KafkaTopic, bus)
	if err != nil {
		log.Error(errors.WrapAndReport(err, "start data bus"))
		return false
	}
	stopAll := starter.Start(ctx, c,
		dataBus,
		http.NewServer(manager, tracker, bus, opts...),
	)
	defer stopAll()

	if s, err := manager.RestoreIfAuthorized(ctx); err != nil {
		log.Warnf("restore session: %v", err)
	} else if s.Connected() {
		log.Infof("restored session %v on %v", s.Address, chains.Name(s.ChainID))
	}

	<-ctx.Done()
	return reloading.Load() && parent.Err() == nil
}

// newStore uses redis when configured, the wallet cache then survives restarts and transfers
// get rate limited.
func newStore(ctx context.Context, c *config.Configuration) (cache.Store, cache.Limiter) {
	if !c.RedisCredential.Enabled() {
		return cache.NewMemoryStore(), nil
	}
	store, err := cache.NewRedisStore(ctx, &c.RedisCredential, "moff-defi:")
	if err != nil {
		log.Warnf("redis unavailable, caching in memory: %v", err)
		return cache.NewMemoryStore(), nil
	}
	return store, cache.NewRateLimiter(store.Client(), c.HTTP.TransferPerMinute)
}

func walletOptions(c *config.Configuration) []modal.Option {
	relayURL := chains.InfuraURL(c.WalletConnect.ChainID, c.InfuraID)
	if relayURL == "" {
		relayURL = c.Network.RPCURL
	}
	return []modal.Option{
		modal.InjectedOption(c.Network.RPCURL, c.Wallet.PollInterval),
		modal.WalletConnectOption(walletconnect.Options{
			BridgeURL:   c.WalletConnect.BridgeURL,
			RelayURL:    relayURL,
			ChainID:     c.WalletConnect.ChainID,
			QRCodePath:  c.WalletConnect.QRCodePath,
			ReadTimeout: c.WalletConnect.ReadTimeout,
			Meta: walletconnect.ClientMeta{
				Name:        c.WalletConnect.AppName,
				Description: c.WalletConnect.Description,
				URL:         c.WalletConnect.URL,
			},
			DisplayQRCode: func(uri string, png []byte) error {
				log.Infof("scan the qr code at %v or open %v in your wallet", c.WalletConnect.QRCodePath, uri)
				return nil
			},
		}),
	}
}

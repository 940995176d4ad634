package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/layer-3/xcafe/adapters/api"
	"github.com/layer-3/xcafe/adapters/provider"
	"github.com/layer-3/xcafe/adapters/store"
	"github.com/layer-3/xcafe/adapters/tokenizer"
	"github.com/layer-3/xcafe/chains"
	"github.com/layer-3/xcafe/config"
	"github.com/layer-3/xcafe/core"
	"github.com/layer-3/xcafe/logging"
	"github.com/layer-3/xcafe/ports"
	"github.com/layer-3/xcafe/service"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

func main() {
	watch := flag.Bool("watch", false, "keep running and print every wallet update as a JSON line until interrupted")
	offline := flag.Bool("offline", false, "skip the API and keep the session local")
	flag.Parse()

	cfg, err := config.LoadWallet()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		log.Fatalf("Failed to set up logging: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger, *watch, *offline); err != nil {
		logger.WithError(err).Fatal("wallet client failed")
	}
}

func run(ctx context.Context, cfg *config.WalletConfig, logger *logrus.Logger, watch, offline bool) error {
	catalog := chains.Default()
	if cfg.NetworksFile != "" {
		c, err := chains.LoadFile(cfg.NetworksFile)
		if err != nil {
			return err
		}
		catalog = c
	}

	wallet, closeWallet, err := newProvider(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeWallet()

	sessions, err := newSessionStore(cfg)
	if err != nil {
		return err
	}

	coordCfg := service.Config{
		Provider:         wallet,
		SessionStore:     sessions,
		Tokens:           tokenizer.Inspector{},
		Catalog:          catalog,
		Logger:           logger,
		RefreshInterval:  cfg.RefreshEvery,
		DisconnectWindow: cfg.DisconnectGap,
		SessionTTL:       cfg.SessionTTL,
	}
	if !offline {
		client := api.NewClient(cfg.APIURL, cfg.HTTPTimeout)
		coordCfg.Auth = client
		coordCfg.Users = client
		coordCfg.Widgets = client
	}

	coord := service.New(coordCfg)
	updates := json.NewEncoder(os.Stdout)
	coord.RegisterFunc(func(u service.Update) {
		entry := logger.WithField("display", u.Display())
		if u.Event != nil {
			entry = entry.WithField("event", u.Event.EventName())
		}
		if u.Wallet.Address != "" {
			entry = entry.WithField("account", core.ShortAddress(u.Wallet.Address))
		}
		entry.Debug("wallet update")

		if !watch {
			return
		}
		if err := writeUpdate(updates, u); err != nil {
			logger.WithError(err).Warn("failed to print update")
		}
	})

	if err := coord.Start(ctx); err != nil {
		return err
	}
	defer coord.Stop()

	if _, err := coord.Connect(ctx); err != nil {
		return err
	}
	if err := printView(coord.View()); err != nil {
		return err
	}

	if watch {
		<-ctx.Done()
	}
	return nil
}

// newProvider dials the wallet endpoint, or builds an in-memory wallet with
// a fresh key when none is configured.
func newProvider(ctx context.Context, cfg *config.WalletConfig, logger logrus.FieldLogger) (ports.WalletProvider, func(), error) {
	if cfg.WalletURL == "" {
		key, err := crypto.GenerateKey()
		if err != nil {
			return nil, nil, err
		}
		mock := provider.NewMockProvider()
		addr := mock.AddKey(key)
		logger.WithField("account", addr).Warn("no wallet configured, using an ephemeral key")
		return mock, func() {}, nil
	}

	p, err := provider.DialRPCProvider(ctx, cfg.WalletURL, cfg.PollInterval, logger)
	if err != nil {
		return nil, nil, err
	}
	if err := p.Start(); err != nil {
		return nil, nil, err
	}
	return p, func() { _ = p.Stop() }, nil
}

func newSessionStore(cfg *config.WalletConfig) (ports.SessionStore, error) {
	switch {
	case cfg.RedisURL != "":
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, err
		}
		return store.NewRedisSessionStore(redis.NewClient(opts), "", cfg.SessionTTL), nil
	case cfg.SessionDir != "":
		return store.NewFileSessionStore(cfg.SessionDir)
	default:
		return store.NewMemorySessionStore(), nil
	}
}

type viewJSON struct {
	Account          string            `json:"account,omitempty"`
	ChainID          uint64            `json:"chainId,omitempty"`
	Network          *core.NetworkInfo `json:"network,omitempty"`
	NetworkSupported bool              `json:"networkSupported"`
	Authenticated    bool              `json:"authenticated"`
	UserType         string            `json:"userType,omitempty"`
}

func newViewJSON(v service.View) viewJSON {
	out := viewJSON{
		Account:          v.Wallet.Address,
		ChainID:          v.Wallet.ChainID,
		Network:          v.Network,
		NetworkSupported: v.NetworkSupported,
		Authenticated:    v.Session != nil,
	}
	if v.Session != nil {
		out.UserType = v.Session.UserType
	}
	return out
}

type updateJSON struct {
	Event   string     `json:"event,omitempty"`
	Payload core.Event `json:"payload,omitempty"`
	Display string     `json:"display"`
	Reload  bool       `json:"reload,omitempty"`
	View    viewJSON   `json:"view"`
}

// writeUpdate encodes u as one JSON line.
func writeUpdate(enc *json.Encoder, u service.Update) error {
	out := updateJSON{
		Payload: u.Event,
		Display: string(u.Display()),
		Reload:  u.Reload,
		View:    newViewJSON(u.View),
	}
	if u.Event != nil {
		out.Event = u.Event.EventName()
	}
	return enc.Encode(out)
}

func printView(v service.View) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(newViewJSON(v)); err != nil {
		return fmt.Errorf("print view: %w", err)
	}
	return nil
}

package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-redisstream/pkg/redisstream"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/layer-3/xcafe/adapters/events"
	"github.com/layer-3/xcafe/adapters/store"
	"github.com/layer-3/xcafe/adapters/tokenizer"
	"github.com/layer-3/xcafe/backend"
	"github.com/layer-3/xcafe/chains"
	"github.com/layer-3/xcafe/config"
	"github.com/layer-3/xcafe/core"
	"github.com/layer-3/xcafe/logging"
	transport "github.com/layer-3/xcafe/transport/http"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

func main() {
	cfg, err := config.LoadServer()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		log.Fatalf("Failed to set up logging: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.WithError(err).Fatal("server stopped")
	}
}

func run(ctx context.Context, cfg *config.ServerConfig, logger *logrus.Logger) error {
	catalog := chains.Default()
	if cfg.NetworksFile != "" {
		c, err := chains.LoadFile(cfg.NetworksFile)
		if err != nil {
			return err
		}
		catalog = c
	}

	repo, err := store.OpenJSONRepository(cfg.DataDir)
	if err != nil {
		return err
	}

	publisher, err := newPublisher(cfg.RedisURL)
	if err != nil {
		return err
	}
	defer publisher.Close()
	eventPub := events.NewWatermillPublisher(publisher, "")

	fee, _ := cfg.Fee()
	tokens := tokenizer.NewJWTTokenizer([]byte(cfg.JWTSecret), cfg.TokenTTL)

	authService := backend.NewAuthService(backend.AuthConfig{
		Repo:             repo,
		Tokens:           tokens,
		Publisher:        eventPub,
		Logger:           logger,
		VerifySignatures: cfg.VerifySigs,
		MaxMessageAge:    cfg.MaxMessageAge,
		Platform: core.PlatformConfig{
			CurrentNetwork: cfg.CurrentNetwork,
			FeePercentage:  fee,
			AdminWallet:    cfg.AdminWallet,
		},
	})
	widgetService := backend.NewWidgetService(backend.WidgetConfig{
		Repo:      repo,
		Tokens:    tokens,
		Publisher: eventPub,
		Logger:    logger,
	})

	router := transport.SetupRouter(transport.RouterConfig{
		Auth:            authService,
		Widgets:         widgetService,
		Catalog:         catalog,
		Logger:          logger,
		GlobalRateLimit: cfg.GlobalRateLimit,
		APIRateLimit:    cfg.APIRateLimit,
		RateWindow:      cfg.RateWindow,
	})

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.WithField("addr", cfg.Addr).Info("xcafe server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// newPublisher publishes to Redis streams when redisURL is set and to an
// in-process bus otherwise.
func newPublisher(redisURL string) (message.Publisher, error) {
	wmLogger := watermill.NewStdLogger(false, false)
	if redisURL == "" {
		return events.NewInProcessBus(wmLogger), nil
	}

	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	return redisstream.NewPublisher(
		redisstream.PublisherConfig{
			Client: redis.NewClient(opts),
		},
		wmLogger,
	)
}

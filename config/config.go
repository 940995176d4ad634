// Package config loads process settings from the environment. A .env file
// in the working directory, when present, is read first.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

// ServerConfig configures the API server.
type ServerConfig struct {
	Addr          string        `env:"XCAFE_ADDR,default=:3000"`
	JWTSecret     string        `env:"XCAFE_JWT_SECRET"`
	TokenTTL      time.Duration `env:"XCAFE_TOKEN_TTL,default=168h"`
	DataDir       string        `env:"XCAFE_DATA_DIR,default=./data"`
	RedisURL      string        `env:"XCAFE_REDIS_URL"`
	VerifySigs    bool          `env:"XCAFE_VERIFY_SIGNATURES,default=true"`
	MaxMessageAge time.Duration `env:"XCAFE_MAX_MESSAGE_AGE,default=5m"`
	NetworksFile  string        `env:"XCAFE_NETWORKS_FILE"`

	GlobalRateLimit int           `env:"XCAFE_RATE_LIMIT_GLOBAL,default=200"`
	APIRateLimit    int           `env:"XCAFE_RATE_LIMIT_API,default=100"`
	RateWindow      time.Duration `env:"XCAFE_RATE_WINDOW,default=15m"`

	CurrentNetwork string `env:"XCAFE_CURRENT_NETWORK,default=testnet"`
	FeePercentage  string `env:"XCAFE_FEE_PERCENTAGE,default=2.5"`
	AdminWallet    string `env:"XCAFE_ADMIN_WALLET,default=0x0000000000000000000000000000000000000000"`

	LogLevel  string `env:"XCAFE_LOG_LEVEL,default=info"`
	LogFormat string `env:"XCAFE_LOG_FORMAT,default=text"`
}

// Fee parses FeePercentage.
func (c *ServerConfig) Fee() (decimal.Decimal, error) {
	fee, err := decimal.NewFromString(c.FeePercentage)
	if err != nil {
		return decimal.Zero, fmt.Errorf("XCAFE_FEE_PERCENTAGE: %w", err)
	}
	return fee, nil
}

// WalletConfig configures the wallet client.
type WalletConfig struct {
	WalletURL     string        `env:"XCAFE_WALLET_URL"`
	APIURL        string        `env:"XCAFE_API_URL,default=http://localhost:3000/api"`
	SessionDir    string        `env:"XCAFE_SESSION_DIR"`
	RedisURL      string        `env:"XCAFE_REDIS_URL"`
	NetworksFile  string        `env:"XCAFE_NETWORKS_FILE"`
	PollInterval  time.Duration `env:"XCAFE_POLL_INTERVAL,default=2s"`
	RefreshEvery  time.Duration `env:"XCAFE_REFRESH_INTERVAL,default=15s"`
	SessionTTL    time.Duration `env:"XCAFE_SESSION_TTL,default=24h"`
	HTTPTimeout   time.Duration `env:"XCAFE_HTTP_TIMEOUT,default=10s"`
	DisconnectGap time.Duration `env:"XCAFE_DISCONNECT_WINDOW,default=1s"`

	LogLevel  string `env:"XCAFE_LOG_LEVEL,default=info"`
	LogFormat string `env:"XCAFE_LOG_FORMAT,default=text"`
}

// LoadServer reads the server settings.
func LoadServer() (*ServerConfig, error) {
	var cfg ServerConfig
	if err := load(&cfg); err != nil {
		return nil, err
	}
	if cfg.JWTSecret == "" {
		return nil, errors.New("XCAFE_JWT_SECRET is required")
	}
	if _, err := cfg.Fee(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadWallet reads the wallet client settings.
func LoadWallet() (*WalletConfig, error) {
	var cfg WalletConfig
	if err := load(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func load(target any) error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("load .env: %w", err)
	}
	// Defaults still apply when no variable is set.
	if err := envdecode.Decode(target); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return fmt.Errorf("decode env: %w", err)
	}
	return nil
}

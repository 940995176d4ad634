package core

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// AuthMessagePrefix starts every login message signed with personal_sign.
const AuthMessagePrefix = "XCafe Auth - "

// AuthMessage builds the login message for the given signing time.
func AuthMessage(at time.Time) string {
	return fmt.Sprintf("%s%d", AuthMessagePrefix, at.UnixMilli())
}

// Identity is the authenticated principal carried by a bearer token.
type Identity struct {
	UserID    string
	Address   string
	UserType  string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// VerifyRequest is the body of POST /api/auth/verify.
type VerifyRequest struct {
	Address   string `json:"address"`
	Message   string `json:"message"`
	Signature string `json:"signature"`
	Timestamp int64  `json:"timestamp"`
}

// VerifyResult is the verify response.
type VerifyResult struct {
	Success  bool   `json:"success"`
	User     *User  `json:"user,omitempty"`
	Token    string `json:"token,omitempty"`
	UserType string `json:"userType,omitempty"`
	Error    string `json:"error,omitempty"`
}

// SetupRequest is the body of POST /api/system/setup.
type SetupRequest struct {
	Address  string `json:"address"`
	UserType string `json:"userType"`
}

// SetupResult is the setup response.
type SetupResult struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	User    *User  `json:"user,omitempty"`
	Error   string `json:"error,omitempty"`
}

// SystemStatus is the response of GET /api/system/status.
type SystemStatus struct {
	Success     bool        `json:"success"`
	Status      string      `json:"status"`
	Timestamp   time.Time   `json:"timestamp"`
	Stats       SystemStats `json:"stats"`
	AdminConfig AdminConfig `json:"admin_config"`
}

// SystemStats aggregates platform counters.
type SystemStats struct {
	TotalUsers        int             `json:"total_users"`
	TotalWidgets      int             `json:"total_widgets"`
	TotalTransactions int64           `json:"total_transactions"`
	TotalVolume       decimal.Decimal `json:"total_volume"`
	LastUpdated       time.Time       `json:"last_updated"`
}

type AdminConfig struct {
	PlatformConfig PlatformConfig `json:"platform_config"`
}

type PlatformConfig struct {
	CurrentNetwork string          `json:"current_network"`
	FeePercentage  decimal.Decimal `json:"fee_percentage"`
	AdminWallet    string          `json:"admin_wallet"`
}

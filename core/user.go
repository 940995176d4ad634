package core

import (
	"time"

	"github.com/shopspring/decimal"
)

// User types assigned by the backend.
const (
	UserTypeFirstAdmin = "first_admin"
	UserTypeSuperAdmin = "Super Admin"
	UserTypeNormal     = "normal"
)

// User is a wallet-keyed account record.
type User struct {
	ID               string     `json:"id"`
	Address          string     `json:"address"`
	UserType         string     `json:"userType"`
	Credits          int64      `json:"credits"`
	CreatedAt        time.Time  `json:"createdAt"`
	LastLogin        time.Time  `json:"lastLogin"`
	PreferredNetwork uint64     `json:"preferredNetwork,omitempty"`
	SetupCompleted   bool       `json:"setupCompleted,omitempty"`
	SetupDate        *time.Time `json:"setupDate,omitempty"`
}

// IsAdmin reports whether the user holds either admin role.
func (u *User) IsAdmin() bool {
	return u.UserType == UserTypeFirstAdmin || u.UserType == UserTypeSuperAdmin
}

// UserUpdate is a partial update of a user record. Nil fields are left alone.
type UserUpdate struct {
	LastLogin        *time.Time `json:"lastLogin,omitempty"`
	PreferredNetwork *uint64    `json:"preferredNetwork,omitempty"`
}

// Apply copies the set fields onto u.
func (up UserUpdate) Apply(u *User) {
	if up.LastLogin != nil {
		u.LastLogin = *up.LastLogin
	}
	if up.PreferredNetwork != nil {
		u.PreferredNetwork = *up.PreferredNetwork
	}
}

// Widget statuses and default type.
const (
	WidgetStatusActive = "active"
	WidgetTypeDefault  = "token-sale"
)

// Widget is a token-sale widget owned by a user.
type Widget struct {
	ID              string          `json:"id"`
	Owner           string          `json:"owner"`
	Name            string          `json:"name"`
	Type            string          `json:"type"`
	Network         string          `json:"network"`
	ContractAddress string          `json:"contract_address"`
	TokenSymbol     string          `json:"token_symbol"`
	TokenName       string          `json:"token_name"`
	Price           decimal.Decimal `json:"price"`
	MaxSupply       decimal.Decimal `json:"max_supply"`
	Status          string          `json:"status"`
	APIKey          string          `json:"api_key"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
	Stats           WidgetStats     `json:"stats"`
}

// WidgetStats accumulates sales made through a widget.
type WidgetStats struct {
	TotalSales  int64           `json:"total_sales"`
	TotalVolume decimal.Decimal `json:"total_volume"`
	TotalFees   decimal.Decimal `json:"total_fees"`
}

// WidgetInput carries the user-editable widget fields for create and update.
type WidgetInput struct {
	Name            string           `json:"name"`
	Type            string           `json:"type,omitempty"`
	Network         string           `json:"network,omitempty"`
	ContractAddress string           `json:"contractAddress,omitempty"`
	TokenSymbol     string           `json:"tokenSymbol,omitempty"`
	TokenName       string           `json:"tokenName,omitempty"`
	Price           *decimal.Decimal `json:"price,omitempty"`
	MaxSupply       *decimal.Decimal `json:"maxSupply,omitempty"`
	Status          string           `json:"status,omitempty"`
}

package core

// Event names used on the notification bus.
const (
	EventConnectionChanged = "connectionChanged"
	EventNetworkChanged    = "networkChanged"
	EventAuthStateChanged  = "authStateChanged"
	EventUserAuthenticated = "userAuthenticated"
	EventWidgetChanged     = "widgetChanged"
)

// Event is a typed state-change notification.
type Event interface {
	EventName() string
}

// ConnectionChanged is emitted when the wallet connects, disconnects or
// switches account.
type ConnectionChanged struct {
	IsConnected bool         `json:"isConnected"`
	Account     string       `json:"account,omitempty"`
	ChainID     uint64       `json:"chainId,omitempty"`
	Network     *NetworkInfo `json:"network,omitempty"`
}

func (ConnectionChanged) EventName() string { return EventConnectionChanged }

// NetworkChanged is emitted when the wallet reports a different chain.
// ReloadRequired is set while connected: dependent views must drop all
// chain-scoped data and re-render from scratch.
type NetworkChanged struct {
	ChainID        uint64      `json:"chainId"`
	IsSupported    bool        `json:"isSupported"`
	Network        NetworkInfo `json:"network"`
	ReloadRequired bool        `json:"reloadRequired"`
}

func (NetworkChanged) EventName() string { return EventNetworkChanged }

// AuthStateChanged is emitted when a session is created, restored or cleared.
type AuthStateChanged struct {
	IsAuthenticated bool         `json:"isAuthenticated"`
	Account         string       `json:"account,omitempty"`
	Network         *NetworkInfo `json:"network,omitempty"`
}

func (AuthStateChanged) EventName() string { return EventAuthStateChanged }

// UserAuthenticated is published by the backend after a successful verify.
type UserAuthenticated struct {
	Address  string `json:"address"`
	UserType string `json:"userType"`
	IsNew    bool   `json:"isNew"`
}

func (UserAuthenticated) EventName() string { return EventUserAuthenticated }

// WidgetChanged is published by the backend on widget writes.
type WidgetChanged struct {
	WidgetID string `json:"widgetId"`
	Owner    string `json:"owner"`
	Action   string `json:"action"` // created, updated, deleted
}

func (WidgetChanged) EventName() string { return EventWidgetChanged }

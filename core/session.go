package core

import "time"

const (
	// DefaultSessionTTL is how long a session stays valid after authentication.
	DefaultSessionTTL = 24 * time.Hour

	// SessionRecordKey is the storage key of the persisted session record.
	SessionRecordKey = "xcafe-auth-session"
)

// Session is the application's authenticated view of a wallet account.
type Session struct {
	Account         string
	Network         NetworkInfo
	AuthenticatedAt time.Time
	ExpiresIn       time.Duration
	Token           string    // optional bearer credential
	TokenExpiresAt  time.Time // zero when no token or no exp claim
	UserType        string
}

// Expired reports whether the session is past its expiry policy or its
// bearer token has lapsed.
func (s *Session) Expired(now time.Time) bool {
	ttl := s.ExpiresIn
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	if now.Sub(s.AuthenticatedAt) > ttl {
		return true
	}
	return !s.TokenExpiresAt.IsZero() && now.After(s.TokenExpiresAt)
}

// Record converts the session into its persisted form.
func (s *Session) Record() SessionRecord {
	rec := SessionRecord{
		Account:         s.Account,
		Network:         s.Network,
		Timestamp:       s.AuthenticatedAt.UnixMilli(),
		IsAuthenticated: true,
		Token:           s.Token,
		UserType:        s.UserType,
	}
	if !s.TokenExpiresAt.IsZero() {
		rec.TokenExpiresAt = s.TokenExpiresAt.UnixMilli()
	}
	return rec
}

// SessionRecord is the persisted session blob. It is always written whole.
type SessionRecord struct {
	Account         string      `json:"account"`
	Network         NetworkInfo `json:"network"`
	Timestamp       int64       `json:"timestamp"` // unix milliseconds
	IsAuthenticated bool        `json:"isAuthenticated"`
	Token           string      `json:"token,omitempty"`
	TokenExpiresAt  int64       `json:"tokenExpiresAt,omitempty"`
	UserType        string      `json:"userType,omitempty"`
}

// Session rebuilds a Session from the record.
func (r SessionRecord) Session(ttl time.Duration) *Session {
	s := &Session{
		Account:         r.Account,
		Network:         r.Network,
		AuthenticatedAt: time.UnixMilli(r.Timestamp),
		ExpiresIn:       ttl,
		Token:           r.Token,
		UserType:        r.UserType,
	}
	if r.TokenExpiresAt > 0 {
		s.TokenExpiresAt = time.UnixMilli(r.TokenExpiresAt)
	}
	return s
}

package ports

import (
	"time"

	"github.com/layer-3/xcafe/core"
)

// Tokenizer converts between identities and bearer tokens
type Tokenizer interface {
	IdentityToToken(identity *core.Identity) (string, error)
	TokenToIdentity(token string) (*core.Identity, error)
}

// TokenInspector reads the expiry of an opaque bearer token without
// verifying it
type TokenInspector interface {
	TokenExpiry(token string) (time.Time, error)
}

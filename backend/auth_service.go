package backend

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/layer-3/xcafe/core"
	"github.com/layer-3/xcafe/ports"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// DefaultPlatformConfig mirrors an unconfigured deployment.
var DefaultPlatformConfig = core.PlatformConfig{
	CurrentNetwork: "testnet",
	FeePercentage:  decimal.RequireFromString("2.5"),
	AdminWallet:    "0x0000000000000000000000000000000000000000",
}

// AuthConfig configures an AuthService.
type AuthConfig struct {
	Repo      ports.Repository
	Tokens    ports.Tokenizer
	Publisher ports.EventPublisher
	Logger    logrus.FieldLogger
	Clock     func() time.Time
	// VerifySignatures turns on personal_sign recovery on verify.
	VerifySignatures bool
	// MaxMessageAge rejects verify requests whose timestamp is older; zero
	// disables the check.
	MaxMessageAge time.Duration
	Platform      core.PlatformConfig
}

// AuthService handles wallet verification, user records and the system
// endpoints
type AuthService struct {
	repo      ports.Repository
	tokens    ports.Tokenizer
	publisher ports.EventPublisher
	logger    logrus.FieldLogger
	now       func() time.Time

	verifySignatures bool
	maxMessageAge    time.Duration
	platform         core.PlatformConfig

	// serializes find-or-create so only one user can become first admin
	createMu sync.Mutex
}

// NewAuthService creates a new authentication service
func NewAuthService(cfg AuthConfig) *AuthService {
	if cfg.Logger == nil {
		cfg.Logger = logrus.StandardLogger()
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.Platform.CurrentNetwork == "" {
		cfg.Platform = DefaultPlatformConfig
	}
	return &AuthService{
		repo:             cfg.Repo,
		tokens:           cfg.Tokens,
		publisher:        cfg.Publisher,
		logger:           cfg.Logger.WithField("component", "backend-auth"),
		now:              cfg.Clock,
		verifySignatures: cfg.VerifySignatures,
		maxMessageAge:    cfg.MaxMessageAge,
		platform:         cfg.Platform,
	}
}

var (
	_ ports.AuthService = (*AuthService)(nil)
	_ ports.UserStore   = (*AuthService)(nil)
)

// Verify signs a wallet in, creating its user on first sight. The very
// first user becomes the first admin.
func (s *AuthService) Verify(ctx context.Context, req core.VerifyRequest) (*core.VerifyResult, error) {
	address, err := core.NormalizeAddress(req.Address)
	if err != nil {
		return nil, err
	}
	if req.Signature == "" || req.Message == "" {
		return nil, fmt.Errorf("signature and message are required: %w", core.ErrInvalidRequest)
	}

	if s.maxMessageAge > 0 && req.Timestamp > 0 {
		if s.now().Sub(time.UnixMilli(req.Timestamp)) > s.maxMessageAge {
			return &core.VerifyResult{Success: false, Error: "authentication message expired"}, nil
		}
	}
	if s.verifySignatures {
		if !strings.HasPrefix(req.Message, core.AuthMessagePrefix) {
			return &core.VerifyResult{Success: false, Error: "unexpected authentication message"}, nil
		}
		if err := VerifyPersonalSign(address, req.Message, req.Signature); err != nil {
			s.logger.WithField("address", core.ShortAddress(address)).Info("signature rejected")
			return &core.VerifyResult{Success: false, Error: err.Error()}, nil
		}
	}

	now := s.now()
	user, created, err := s.findOrCreate(ctx, address, now)
	if err != nil {
		return nil, err
	}

	token, err := s.tokens.IdentityToToken(&core.Identity{
		UserID:   user.ID,
		Address:  user.Address,
		UserType: user.UserType,
		IssuedAt: now,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to issue token: %w", err)
	}

	s.logger.WithFields(logrus.Fields{
		"address":  core.ShortAddress(address),
		"userType": user.UserType,
		"new":      created,
	}).Info("user verified")
	s.publish(ctx, core.UserAuthenticated{Address: user.Address, UserType: user.UserType, IsNew: created})

	return &core.VerifyResult{
		Success:  true,
		User:     user,
		Token:    token,
		UserType: user.UserType,
	}, nil
}

func (s *AuthService) findOrCreate(ctx context.Context, address string, now time.Time) (*core.User, bool, error) {
	s.createMu.Lock()
	defer s.createMu.Unlock()

	user, err := s.repo.GetUser(ctx, address)
	switch {
	case err == nil:
		user.LastLogin = now
		if err := s.repo.SaveUser(ctx, user); err != nil {
			return nil, false, fmt.Errorf("failed to update user: %w", err)
		}
		return user, false, nil
	case !errors.Is(err, core.ErrUserNotFound):
		return nil, false, fmt.Errorf("failed to load user: %w", err)
	}

	user, err = s.newUser(ctx, &core.User{Address: address, CreatedAt: now, LastLogin: now})
	if err != nil {
		return nil, false, err
	}
	return user, true, nil
}

// newUser assigns id and role and stores the user. createMu must be held.
func (s *AuthService) newUser(ctx context.Context, user *core.User) (*core.User, error) {
	count, err := s.repo.CountUsers(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to count users: %w", err)
	}
	u := *user
	u.ID = uuid.NewString()
	u.UserType = core.UserTypeNormal
	if count == 0 {
		u.UserType = core.UserTypeFirstAdmin
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = s.now()
	}
	if u.LastLogin.IsZero() {
		u.LastLogin = u.CreatedAt
	}
	if err := s.repo.CreateUser(ctx, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

// Authenticate resolves a bearer token to its identity
func (s *AuthService) Authenticate(token string) (*core.Identity, error) {
	return s.tokens.TokenToIdentity(token)
}

// Setup promotes the first admin to super admin. Only the first admin's
// own token may do so.
func (s *AuthService) Setup(ctx context.Context, token string, req core.SetupRequest) (*core.SetupResult, error) {
	identity, err := s.tokens.TokenToIdentity(token)
	if err != nil {
		return nil, err
	}
	if identity.UserType != core.UserTypeFirstAdmin {
		return nil, fmt.Errorf("token is not a first admin token: %w", core.ErrForbidden)
	}
	if req.Address != "" && !core.SameAddress(req.Address, identity.Address) {
		return nil, fmt.Errorf("address does not match token: %w", core.ErrForbidden)
	}

	user, err := s.repo.GetUser(ctx, identity.Address)
	if err != nil {
		return nil, err
	}
	now := s.now()
	user.UserType = core.UserTypeSuperAdmin
	user.SetupCompleted = true
	user.SetupDate = &now
	if err := s.repo.SaveUser(ctx, user); err != nil {
		return nil, fmt.Errorf("failed to save user: %w", err)
	}

	s.logger.WithField("address", core.ShortAddress(user.Address)).Info("super admin configured")
	return &core.SetupResult{Success: true, Message: "Super Admin configured", User: user}, nil
}

// Status reports platform counters and the admin configuration.
func (s *AuthService) Status(ctx context.Context) (*core.SystemStatus, error) {
	users, err := s.repo.CountUsers(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to count users: %w", err)
	}
	widgets, err := s.repo.ListWidgets(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("failed to list widgets: %w", err)
	}

	now := s.now()
	stats := core.SystemStats{
		TotalUsers:   users,
		TotalWidgets: len(widgets),
		TotalVolume:  decimal.Zero,
		LastUpdated:  now,
	}
	for _, w := range widgets {
		stats.TotalTransactions += w.Stats.TotalSales
		stats.TotalVolume = stats.TotalVolume.Add(w.Stats.TotalVolume)
	}

	return &core.SystemStatus{
		Success:     true,
		Status:      "online",
		Timestamp:   now,
		Stats:       stats,
		AdminConfig: core.AdminConfig{PlatformConfig: s.platform},
	}, nil
}

func (s *AuthService) GetUser(ctx context.Context, address string) (*core.User, error) {
	address, err := core.NormalizeAddress(address)
	if err != nil {
		return nil, err
	}
	return s.repo.GetUser(ctx, address)
}

// CreateUser registers a user with zero credits. Role and id are assigned
// here, whatever the caller sent.
func (s *AuthService) CreateUser(ctx context.Context, user *core.User) (*core.User, error) {
	address, err := core.NormalizeAddress(user.Address)
	if err != nil {
		return nil, err
	}

	s.createMu.Lock()
	defer s.createMu.Unlock()

	now := s.now()
	return s.newUser(ctx, &core.User{
		Address:          address,
		Credits:          0,
		CreatedAt:        now,
		LastLogin:        now,
		PreferredNetwork: user.PreferredNetwork,
	})
}

func (s *AuthService) UpdateUser(ctx context.Context, address string, update core.UserUpdate) (*core.User, error) {
	address, err := core.NormalizeAddress(address)
	if err != nil {
		return nil, err
	}
	user, err := s.repo.GetUser(ctx, address)
	if err != nil {
		return nil, err
	}
	update.Apply(user)
	if err := s.repo.SaveUser(ctx, user); err != nil {
		return nil, fmt.Errorf("failed to save user: %w", err)
	}
	return user, nil
}

func (s *AuthService) publish(ctx context.Context, event core.Event) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, event); err != nil {
		s.logger.WithError(err).WithField("event", event.EventName()).Warn("failed to publish event")
	}
}

package backend

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/layer-3/xcafe/core"
	"github.com/layer-3/xcafe/ports"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// APIKeyPrefix starts every widget API key.
const APIKeyPrefix = "xcafe_"

// WidgetConfig configures a WidgetService.
type WidgetConfig struct {
	Repo      ports.WidgetRepository
	Tokens    ports.Tokenizer
	Publisher ports.EventPublisher
	Logger    logrus.FieldLogger
	Clock     func() time.Time
}

// WidgetService manages token-sale widgets on behalf of token holders
type WidgetService struct {
	repo      ports.WidgetRepository
	tokens    ports.Tokenizer
	publisher ports.EventPublisher
	logger    logrus.FieldLogger
	now       func() time.Time
}

// NewWidgetService creates a new widget service
func NewWidgetService(cfg WidgetConfig) *WidgetService {
	if cfg.Logger == nil {
		cfg.Logger = logrus.StandardLogger()
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	return &WidgetService{
		repo:      cfg.Repo,
		tokens:    cfg.Tokens,
		publisher: cfg.Publisher,
		logger:    cfg.Logger.WithField("component", "backend-widgets"),
		now:       cfg.Clock,
	}
}

var _ ports.WidgetService = (*WidgetService)(nil)

// ListWidgets returns the caller's widgets
func (s *WidgetService) ListWidgets(ctx context.Context, token string) ([]*core.Widget, error) {
	identity, err := s.tokens.TokenToIdentity(token)
	if err != nil {
		return nil, err
	}
	return s.repo.ListWidgets(ctx, identity.Address)
}

// CreateWidget validates input and stores a new active widget with a fresh
// API key
func (s *WidgetService) CreateWidget(ctx context.Context, token string, input core.WidgetInput) (*core.Widget, error) {
	identity, err := s.tokens.TokenToIdentity(token)
	if err != nil {
		return nil, err
	}
	if err := validateWidgetInput(input, true); err != nil {
		return nil, err
	}

	key, err := s.newAPIKey()
	if err != nil {
		return nil, err
	}

	now := s.now()
	w := &core.Widget{
		ID:        uuid.NewString(),
		Owner:     strings.ToLower(identity.Address),
		Type:      core.WidgetTypeDefault,
		Status:    core.WidgetStatusActive,
		Price:     decimal.Zero,
		MaxSupply: decimal.Zero,
		APIKey:    key,
		CreatedAt: now,
		UpdatedAt: now,
		Stats: core.WidgetStats{
			TotalVolume: decimal.Zero,
			TotalFees:   decimal.Zero,
		},
	}
	applyWidgetInput(w, input)

	if err := s.repo.SaveWidget(ctx, w); err != nil {
		return nil, fmt.Errorf("failed to save widget: %w", err)
	}

	s.logger.WithFields(logrus.Fields{"widget": w.ID, "owner": core.ShortAddress(w.Owner)}).Info("widget created")
	s.publish(ctx, core.WidgetChanged{WidgetID: w.ID, Owner: w.Owner, Action: "created"})
	return w, nil
}

// GetWidget returns a widget to its owner or an admin
func (s *WidgetService) GetWidget(ctx context.Context, token, id string) (*core.Widget, error) {
	identity, err := s.tokens.TokenToIdentity(token)
	if err != nil {
		return nil, err
	}
	w, err := s.repo.GetWidget(ctx, id)
	if err != nil {
		return nil, err
	}
	admin := identity.UserType == core.UserTypeFirstAdmin || identity.UserType == core.UserTypeSuperAdmin
	if !admin && !core.SameAddress(w.Owner, identity.Address) {
		return nil, core.ErrForbidden
	}
	return w, nil
}

// UpdateWidget applies the non-empty input fields. Only the owner may
// update.
func (s *WidgetService) UpdateWidget(ctx context.Context, token, id string, input core.WidgetInput) (*core.Widget, error) {
	w, err := s.owned(ctx, token, id)
	if err != nil {
		return nil, err
	}
	if err := validateWidgetInput(input, false); err != nil {
		return nil, err
	}
	applyWidgetInput(w, input)
	w.UpdatedAt = s.now()

	if err := s.repo.SaveWidget(ctx, w); err != nil {
		return nil, fmt.Errorf("failed to save widget: %w", err)
	}
	s.publish(ctx, core.WidgetChanged{WidgetID: w.ID, Owner: w.Owner, Action: "updated"})
	return w, nil
}

// DeleteWidget removes a widget. Only the owner may delete.
func (s *WidgetService) DeleteWidget(ctx context.Context, token, id string) error {
	w, err := s.owned(ctx, token, id)
	if err != nil {
		return err
	}
	if err := s.repo.DeleteWidget(ctx, id); err != nil {
		return err
	}
	s.publish(ctx, core.WidgetChanged{WidgetID: w.ID, Owner: w.Owner, Action: "deleted"})
	return nil
}

func (s *WidgetService) owned(ctx context.Context, token, id string) (*core.Widget, error) {
	identity, err := s.tokens.TokenToIdentity(token)
	if err != nil {
		return nil, err
	}
	w, err := s.repo.GetWidget(ctx, id)
	if err != nil {
		return nil, err
	}
	if !core.SameAddress(w.Owner, identity.Address) {
		return nil, core.ErrForbidden
	}
	return w, nil
}

// newAPIKey returns xcafe_<unix ms base36>_<32 hex chars>.
func (s *WidgetService) newAPIKey() (string, error) {
	random := make([]byte, 16)
	if _, err := rand.Read(random); err != nil {
		return "", fmt.Errorf("failed to generate api key: %w", err)
	}
	return APIKeyPrefix + strconv.FormatInt(s.now().UnixMilli(), 36) + "_" + hex.EncodeToString(random), nil
}

func (s *WidgetService) publish(ctx context.Context, event core.Event) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, event); err != nil {
		s.logger.WithError(err).WithField("event", event.EventName()).Warn("failed to publish event")
	}
}

func validateWidgetInput(in core.WidgetInput, create bool) error {
	if create {
		if strings.TrimSpace(in.Name) == "" {
			return fmt.Errorf("name is required: %w", core.ErrInvalidRequest)
		}
		if strings.TrimSpace(in.Network) == "" {
			return fmt.Errorf("network is required: %w", core.ErrInvalidRequest)
		}
		if in.ContractAddress == "" {
			return fmt.Errorf("contract address is required: %w", core.ErrInvalidRequest)
		}
	}
	if in.ContractAddress != "" && !common.IsHexAddress(in.ContractAddress) {
		return fmt.Errorf("invalid contract address: %w", core.ErrInvalidRequest)
	}
	if in.Price != nil && in.Price.IsNegative() {
		return fmt.Errorf("price must not be negative: %w", core.ErrInvalidRequest)
	}
	if in.MaxSupply != nil && in.MaxSupply.IsNegative() {
		return fmt.Errorf("max supply must not be negative: %w", core.ErrInvalidRequest)
	}
	return nil
}

func applyWidgetInput(w *core.Widget, in core.WidgetInput) {
	if in.Name != "" {
		w.Name = strings.TrimSpace(in.Name)
	}
	if in.Type != "" {
		w.Type = in.Type
	}
	if in.Network != "" {
		w.Network = in.Network
	}
	if in.ContractAddress != "" {
		w.ContractAddress = strings.ToLower(in.ContractAddress)
	}
	if in.TokenSymbol != "" {
		w.TokenSymbol = in.TokenSymbol
	}
	if in.TokenName != "" {
		w.TokenName = in.TokenName
	}
	if in.Price != nil {
		w.Price = *in.Price
	}
	if in.MaxSupply != nil {
		w.MaxSupply = *in.MaxSupply
	}
	if in.Status != "" {
		w.Status = in.Status
	}
}

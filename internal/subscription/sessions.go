package subscription

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
)

// ERPGateway adapts the ERP client to Gateway.
type ERPGateway struct {
	Client interface {
		ListRecurringOrders(ctx context.Context, customerID string) ([]map[string]any, error)
		PatchRecurringOrder(ctx context.Context, roID string, body any) error
	}
}

// List implements Gateway.
func (g ERPGateway) List(ctx context.Context, customerID string) ([]map[string]any, error) {
	return g.Client.ListRecurringOrders(ctx, customerID)
}

// Patch implements Gateway.
func (g ERPGateway) Patch(ctx context.Context, roID string, patch Patch) error {
	return g.Client.PatchRecurringOrder(ctx, roID, patch)
}

// SessionsConfig groups the dependencies shared by every customer's controller.
type SessionsConfig struct {
	Gateway    Gateway
	Normalizer *Normalizer
	Store      Store
	Serializer Serializer
	RowGuard   RowGuard
	Recorder   ChangeRecorder
	BusyTTL    time.Duration
	Now        func() time.Time
	Logger     zerolog.Logger
}

// Sessions hands out controllers whose workspaces persist in a Store, so a
// customer's pending edits survive across requests and gateway instances.
type Sessions struct {
	cfg SessionsConfig
}

// NewSessions validates cfg and returns a Sessions.
func NewSessions(cfg SessionsConfig) (*Sessions, error) {
	if cfg.Gateway == nil {
		return nil, errors.New("subscription: gateway is required")
	}
	if cfg.Store == nil {
		return nil, errors.New("subscription: workspace store is required")
	}
	if cfg.Serializer == nil {
		cfg.Serializer = &LocalSerializer{}
	}
	if cfg.Normalizer == nil {
		cfg.Normalizer = NewNormalizer(nil, cfg.Now)
	}
	return &Sessions{cfg: cfg}, nil
}

// For returns the controller of customerID.
func (s *Sessions) For(customerID string) (*Controller, error) {
	return NewController(ControllerConfig{
		CustomerID: customerID,
		Gateway:    s.cfg.Gateway,
		Normalizer: s.cfg.Normalizer,
		Store:      s.cfg.Store,
		Serializer: s.cfg.Serializer,
		RowGuard:   s.cfg.RowGuard,
		Recorder:   s.cfg.Recorder,
		BusyTTL:    s.cfg.BusyTTL,
		Now:        s.cfg.Now,
		Logger:     s.cfg.Logger,
	})
}

// Forget drops the stored workspace of customerID.
func (s *Sessions) Forget(ctx context.Context, customerID string) error {
	return s.cfg.Store.Delete(ctx, customerID)
}

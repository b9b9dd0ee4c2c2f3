package pricing

import (
	"context"
	"errors"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/noah-isme/storefront-gateway/internal/common"
	"github.com/noah-isme/storefront-gateway/internal/erp"
	"github.com/noah-isme/storefront-gateway/internal/obs"
)

// ERPPromotions adapts the ERP client to PromotionSource.
type ERPPromotions struct {
	Client interface {
		PromotionsForProduct(ctx context.Context, productID string) ([]erp.PromotionRecord, error)
	}
}

// PromotionsForProduct implements PromotionSource.
func (e ERPPromotions) PromotionsForProduct(ctx context.Context, productID string) ([]Promotion, error) {
	records, err := e.Client.PromotionsForProduct(ctx, productID)
	if err != nil {
		return nil, err
	}
	out := make([]Promotion, 0, len(records))
	for _, rec := range records {
		out = append(out, Promotion{Code: rec.Code, FixedPrice: rec.FixedPrice, MinimumQuantity: rec.MinimumQuantity})
	}
	return out, nil
}

// Service resolves prices using promotions cached in Redis.
type Service struct {
	source PromotionSource
	cache  *Cache
	logger zerolog.Logger
}

// ServiceConfig groups Service dependencies.
type ServiceConfig struct {
	Source PromotionSource
	Cache  *Cache
	Logger zerolog.Logger
}

// NewService constructs a pricing Service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Source == nil {
		return nil, errors.New("pricing: promotion source is required")
	}
	return &Service{source: cfg.Source, cache: cfg.Cache, logger: cfg.Logger.With().Str("component", "pricing").Logger()}, nil
}

// PromotionsForProduct returns cached promotions, loading from the source on a
// miss. Cache failures degrade to a direct source read.
func (s *Service) PromotionsForProduct(ctx context.Context, productID string) ([]Promotion, error) {
	var cached []Promotion
	hit, err := s.cache.GetJSON(ctx, productID, &cached)
	if err != nil {
		s.logger.Warn().Err(err).Str("product_id", productID).Msg("promotion cache read failed")
	}
	if hit {
		obs.CountPromotionCache("hit")
		return cached, nil
	}
	obs.CountPromotionCache("miss")

	promos, err := s.source.PromotionsForProduct(ctx, productID)
	if err != nil {
		return nil, err
	}
	if promos == nil {
		promos = []Promotion{}
	}
	if err := s.cache.SetJSON(ctx, productID, promos); err != nil {
		s.logger.Warn().Err(err).Str("product_id", productID).Msg("promotion cache write failed")
	}
	return promos, nil
}

// Resolve prices a single product line.
func (s *Service) Resolve(ctx context.Context, line Line) (Resolution, error) {
	promos, err := s.PromotionsForProduct(ctx, line.ProductID)
	if err != nil {
		return Resolution{}, upstreamError(err)
	}
	res, err := Resolve(line.ProductID, line.UnitPrice, line.Quantity, promos)
	if err != nil {
		return Resolution{}, inputError(err)
	}
	if res.Skipped > 0 {
		s.logger.Warn().Str("product_id", line.ProductID).Int("skipped", res.Skipped).Msg("malformed promotions skipped")
	}
	return res, nil
}

// Quote prices several lines at once.
func (s *Service) Quote(ctx context.Context, lines []Line) (Summary, error) {
	summary, err := Quote(ctx, lines, s)
	if err != nil {
		if errors.Is(err, ErrInvalidQuantity) || errors.Is(err, ErrInvalidPrice) {
			return Summary{}, inputError(err)
		}
		return Summary{}, upstreamError(err)
	}
	return summary, nil
}

func inputError(err error) error {
	return common.NewAppError("INVALID_PRICING_INPUT", err.Error(), http.StatusBadRequest, err)
}

func upstreamError(err error) error {
	if errors.Is(err, erp.ErrInvalidID) {
		return common.NewAppError("INVALID_PRODUCT", "invalid product id", http.StatusBadRequest, err)
	}
	return common.NewAppError("ERP_UNAVAILABLE", "promotions could not be loaded", http.StatusBadGateway, err).
		WithDetails(map[string]string{"detail": erp.Detail(err)})
}

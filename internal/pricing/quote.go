package pricing

import (
	"context"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

// PromotionSource supplies the tiers configured for a product.
type PromotionSource interface {
	PromotionsForProduct(ctx context.Context, productID string) ([]Promotion, error)
}

// Line is one product line of a quote request.
type Line struct {
	ProductID string `json:"productId" validate:"required,max=64"`
	UnitPrice Money  `json:"unitPrice"`
	Quantity  int    `json:"quantity" validate:"min=1"`
}

// Summary aggregates the resolutions of every line.
type Summary struct {
	Lines    []Resolution `json:"lines"`
	Subtotal Money        `json:"subtotal"`
	Discount Money        `json:"discount"`
	Total    Money        `json:"total"`
}

const quoteFetchLimit = 4

// Quote resolves every line against its product's promotions and totals the
// result. Promotions are loaded once per distinct product.
func Quote(ctx context.Context, lines []Line, source PromotionSource) (Summary, error) {
	promos := make(map[string][]Promotion, len(lines))
	if source != nil {
		var mu sync.Mutex
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(quoteFetchLimit)
		seen := map[string]struct{}{}
		for _, line := range lines {
			if _, ok := seen[line.ProductID]; ok {
				continue
			}
			seen[line.ProductID] = struct{}{}
			productID := line.ProductID
			g.Go(func() error {
				list, err := source.PromotionsForProduct(gctx, productID)
				if err != nil {
					return fmt.Errorf("promotions for %s: %w", productID, err)
				}
				mu.Lock()
				promos[productID] = list
				mu.Unlock()
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return Summary{}, err
		}
	}

	summary := Summary{
		Lines:    make([]Resolution, 0, len(lines)),
		Subtotal: decimal.Zero,
		Discount: decimal.Zero,
	}
	for i, line := range lines {
		res, err := Resolve(line.ProductID, line.UnitPrice, line.Quantity, promos[line.ProductID])
		if err != nil {
			return Summary{}, fmt.Errorf("line %d: %w", i, err)
		}
		summary.Lines = append(summary.Lines, res)
		summary.Subtotal = summary.Subtotal.Add(res.OriginalTotal)
		summary.Discount = summary.Discount.Add(res.DiscountAmount)
	}
	summary.Total = summary.Subtotal.Sub(summary.Discount)
	return summary, nil
}

package pricing

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/noah-isme/storefront-gateway/internal/obs"
)

// Money is an exact decimal amount. ERP prices arrive as decimal strings and
// are never converted to binary floating point.
type Money = decimal.Decimal

var (
	ErrInvalidQuantity = errors.New("pricing: quantity must be at least 1")
	ErrInvalidPrice    = errors.New("pricing: unit price must not be negative")
)

// Promotion is one "buy at least MinimumQuantity, pay FixedPrice per unit"
// tier. Nil fields mean the ERP record was incomplete.
type Promotion struct {
	Code            string `json:"code"`
	FixedPrice      *Money `json:"fixedPrice"`
	MinimumQuantity *int   `json:"minimumQuantity"`
}

func (p Promotion) wellFormed() bool {
	return p.FixedPrice != nil && p.MinimumQuantity != nil &&
		!p.FixedPrice.IsNegative() && *p.MinimumQuantity >= 0
}

// Resolution is the priced outcome for one product line.
type Resolution struct {
	ProductID        string     `json:"productId"`
	UnitPrice        Money      `json:"unitPrice"`
	Quantity         int        `json:"quantity"`
	OriginalTotal    Money      `json:"originalTotal"`
	DiscountedTotal  Money      `json:"discountedTotal"`
	DiscountAmount   Money      `json:"discountAmount"`
	AppliedPromotion *Promotion `json:"appliedPromotion"`
	Skipped          int        `json:"skippedPromotions,omitempty"`
}

// Key identifies the inputs a resolution was computed from.
func (r Resolution) Key() string {
	return fmt.Sprintf("%s:%s:%d", r.ProductID, r.UnitPrice.String(), r.Quantity)
}

// Resolve selects the tier with the greatest discount. A tier is eligible when
// quantity reaches its minimum and its fixed price is strictly cheaper than
// the unit price. Among equal discounts the first tier in input order wins.
// Malformed tiers are skipped and counted.
func Resolve(productID string, unitPrice Money, quantity int, promotions []Promotion) (Resolution, error) {
	if quantity < 1 {
		return Resolution{}, ErrInvalidQuantity
	}
	if unitPrice.IsNegative() {
		return Resolution{}, ErrInvalidPrice
	}

	qty := decimal.NewFromInt(int64(quantity))
	original := unitPrice.Mul(qty)
	res := Resolution{
		ProductID:       productID,
		UnitPrice:       unitPrice,
		Quantity:        quantity,
		OriginalTotal:   original,
		DiscountedTotal: original,
		DiscountAmount:  decimal.Zero,
	}

	for i := range promotions {
		p := promotions[i]
		if !p.wellFormed() {
			res.Skipped++
			obs.CountPromotionSkipped()
			continue
		}
		if quantity < *p.MinimumQuantity {
			continue
		}
		candidate := original.Sub(p.FixedPrice.Mul(qty))
		if !candidate.IsPositive() || !candidate.GreaterThan(res.DiscountAmount) {
			continue
		}
		res.DiscountAmount = candidate
		res.AppliedPromotion = &p
	}
	res.DiscountedTotal = original.Sub(res.DiscountAmount)
	return res, nil
}

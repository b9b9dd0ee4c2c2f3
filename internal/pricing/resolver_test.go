package pricing_test

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/storefront-gateway/internal/pricing"
)

func money(s string) pricing.Money {
	return decimal.RequireFromString(s)
}

func tier(code, price string, minQty int) pricing.Promotion {
	p := money(price)
	return pricing.Promotion{Code: code, FixedPrice: &p, MinimumQuantity: &minQty}
}

func requireMoney(t *testing.T, want string, got pricing.Money) {
	t.Helper()
	require.Truef(t, money(want).Equal(got), "want %s, got %s", want, got)
}

func TestResolveWithoutPromotions(t *testing.T) {
	res, err := pricing.Resolve("SKU-1", money("10.00"), 3, nil)
	require.NoError(t, err)
	requireMoney(t, "30.00", res.OriginalTotal)
	requireMoney(t, "30.00", res.DiscountedTotal)
	requireMoney(t, "0", res.DiscountAmount)
	require.Nil(t, res.AppliedPromotion)
}

func TestResolvePicksGreatestDiscount(t *testing.T) {
	promos := []pricing.Promotion{tier("BUY3", "8", 3), tier("BUY6", "7", 6)}
	res, err := pricing.Resolve("SKU-1", money("10"), 6, promos)
	require.NoError(t, err)
	require.NotNil(t, res.AppliedPromotion)
	require.Equal(t, "BUY6", res.AppliedPromotion.Code)
	requireMoney(t, "42", res.DiscountedTotal)
	requireMoney(t, "18", res.DiscountAmount)
}

func TestResolveGreatestDiscountRegardlessOfOrder(t *testing.T) {
	promos := []pricing.Promotion{tier("BUY6", "7", 6), tier("BUY3", "8", 3), tier("BUY5", "7.50", 5)}
	res, err := pricing.Resolve("SKU-1", money("10"), 6, promos)
	require.NoError(t, err)
	require.Equal(t, "BUY6", res.AppliedPromotion.Code)
}

func TestResolveTieGoesToFirstListed(t *testing.T) {
	promos := []pricing.Promotion{tier("FIRST", "8", 2), tier("SECOND", "8", 3)}
	res, err := pricing.Resolve("SKU-1", money("10"), 4, promos)
	require.NoError(t, err)
	require.Equal(t, "FIRST", res.AppliedPromotion.Code)
	requireMoney(t, "8", res.DiscountAmount)
}

func TestResolveEligibility(t *testing.T) {
	cases := []struct {
		name     string
		promos   []pricing.Promotion
		quantity int
		discount string
		applied  string
	}{
		{"below minimum", []pricing.Promotion{tier("BUY5", "5", 5)}, 4, "0", ""},
		{"exactly minimum", []pricing.Promotion{tier("BUY5", "5", 5)}, 5, "25", "BUY5"},
		{"fixed price equal to unit price", []pricing.Promotion{tier("SAME", "10", 1)}, 3, "0", ""},
		{"fixed price above unit price", []pricing.Promotion{tier("WORSE", "12", 1)}, 3, "0", ""},
		{"fractional cents", []pricing.Promotion{tier("CENTS", "9.99", 2)}, 3, "0.03", "CENTS"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res, err := pricing.Resolve("SKU", money("10"), tc.quantity, tc.promos)
			require.NoError(t, err)
			requireMoney(t, tc.discount, res.DiscountAmount)
			require.True(t, res.DiscountedTotal.Equal(res.OriginalTotal.Sub(res.DiscountAmount)))
			if tc.applied == "" {
				require.Nil(t, res.AppliedPromotion)
			} else {
				require.Equal(t, tc.applied, res.AppliedPromotion.Code)
			}
		})
	}
}

func TestResolveDiscountIsMaximumOverEligibleTiers(t *testing.T) {
	promos := []pricing.Promotion{
		tier("A", "9.50", 1), tier("B", "9", 4), tier("C", "8.25", 10), tier("D", "11", 1),
	}
	unit := money("10")
	for q := 1; q <= 12; q++ {
		res, err := pricing.Resolve("SKU", unit, q, promos)
		require.NoError(t, err)

		want := decimal.Zero
		original := unit.Mul(decimal.NewFromInt(int64(q)))
		for _, p := range promos {
			if q < *p.MinimumQuantity {
				continue
			}
			d := original.Sub(p.FixedPrice.Mul(decimal.NewFromInt(int64(q))))
			if d.GreaterThan(want) {
				want = d
			}
		}
		require.Truef(t, want.Equal(res.DiscountAmount), "q=%d want %s got %s", q, want, res.DiscountAmount)
		require.False(t, res.DiscountAmount.IsNegative())
	}
}

func TestResolveSkipsMalformedPromotions(t *testing.T) {
	three := 3
	negative := money("-1")
	promos := []pricing.Promotion{
		{Code: "NO_PRICE", MinimumQuantity: &three},
		{Code: "NO_QTY", FixedPrice: func() *pricing.Money { m := money("1"); return &m }()},
		{Code: "NEGATIVE", FixedPrice: &negative, MinimumQuantity: &three},
		tier("OK", "9", 3),
	}
	res, err := pricing.Resolve("SKU", money("10"), 3, promos)
	require.NoError(t, err)
	require.Equal(t, 3, res.Skipped)
	require.Equal(t, "OK", res.AppliedPromotion.Code)
	requireMoney(t, "3", res.DiscountAmount)
}

func TestResolveRejectsInvalidInput(t *testing.T) {
	_, err := pricing.Resolve("SKU", money("10"), 0, nil)
	require.ErrorIs(t, err, pricing.ErrInvalidQuantity)

	_, err = pricing.Resolve("SKU", money("-0.01"), 1, nil)
	require.ErrorIs(t, err, pricing.ErrInvalidPrice)
}

func TestResolutionKey(t *testing.T) {
	res, err := pricing.Resolve("SKU-1", money("10.50"), 2, nil)
	require.NoError(t, err)
	require.Equal(t, "SKU-1:10.5:2", res.Key())
}

package pricing_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/storefront-gateway/internal/erp"
	"github.com/noah-isme/storefront-gateway/internal/pricing"
)

type stubSource struct {
	calls  int32
	promos map[string][]pricing.Promotion
	err    error
}

func (s *stubSource) PromotionsForProduct(_ context.Context, productID string) ([]pricing.Promotion, error) {
	atomic.AddInt32(&s.calls, 1)
	if s.err != nil {
		return nil, s.err
	}
	return s.promos[productID], nil
}

func newService(t *testing.T, src pricing.PromotionSource) (*pricing.Service, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	svc, err := pricing.NewService(pricing.ServiceConfig{Source: src, Cache: pricing.NewCache(client, time.Minute)})
	require.NoError(t, err)
	return svc, mr
}

func TestServiceCachesPromotions(t *testing.T) {
	src := &stubSource{promos: map[string][]pricing.Promotion{"SKU-1": {tier("BUY3", "8", 3)}}}
	svc, mr := newService(t, src)
	ctx := context.Background()

	first, err := svc.Resolve(ctx, pricing.Line{ProductID: "SKU-1", UnitPrice: money("10"), Quantity: 3})
	require.NoError(t, err)
	second, err := svc.Resolve(ctx, pricing.Line{ProductID: "SKU-1", UnitPrice: money("10"), Quantity: 3})
	require.NoError(t, err)

	require.EqualValues(t, 1, atomic.LoadInt32(&src.calls))
	require.True(t, first.DiscountAmount.Equal(second.DiscountAmount))
	require.Equal(t, "BUY3", second.AppliedPromotion.Code)
	require.True(t, mr.Exists("pricing:promotions:SKU-1"))

	mr.FastForward(2 * time.Minute)
	_, err = svc.Resolve(ctx, pricing.Line{ProductID: "SKU-1", UnitPrice: money("10"), Quantity: 3})
	require.NoError(t, err)
	require.EqualValues(t, 2, atomic.LoadInt32(&src.calls))
}

func TestQuoteTotalsLinesAndFetchesOncePerProduct(t *testing.T) {
	src := &stubSource{promos: map[string][]pricing.Promotion{
		"SKU-1": {tier("BUY3", "8", 3)},
		"SKU-2": nil,
	}}
	summary, err := pricing.Quote(context.Background(), []pricing.Line{
		{ProductID: "SKU-1", UnitPrice: money("10"), Quantity: 3},
		{ProductID: "SKU-2", UnitPrice: money("4.50"), Quantity: 2},
		{ProductID: "SKU-1", UnitPrice: money("10"), Quantity: 1},
	}, src)
	require.NoError(t, err)
	require.Len(t, summary.Lines, 3)
	requireMoney(t, "49", summary.Subtotal)
	requireMoney(t, "6", summary.Discount)
	requireMoney(t, "43", summary.Total)
	require.EqualValues(t, 2, atomic.LoadInt32(&src.calls))
}

func TestServiceMapsUpstreamFailure(t *testing.T) {
	src := &stubSource{err: &erp.Error{Op: "suiteql_promotions", Status: http.StatusBadGateway}}
	svc, _ := newService(t, src)

	_, err := svc.Resolve(context.Background(), pricing.Line{ProductID: "SKU-1", UnitPrice: money("1"), Quantity: 1})
	var erpErr *erp.Error
	require.True(t, errors.As(err, &erpErr))
}

func TestHandlersResolveAndQuote(t *testing.T) {
	src := &stubSource{promos: map[string][]pricing.Promotion{"SKU-1": {tier("BUY3", "8", 3), tier("BUY6", "7", 6)}}}
	svc, _ := newService(t, src)
	h := pricing.NewHandler(pricing.HandlerConfig{Service: svc})

	rr := httptest.NewRecorder()
	h.Resolve(rr, httptest.NewRequest(http.MethodPost, "/api/v1/pricing/resolve",
		bytes.NewBufferString(`{"productId":"SKU-1","unitPrice":"10.00","quantity":6}`)))
	require.Equal(t, http.StatusOK, rr.Code)
	var resolved struct {
		Data struct {
			DiscountedTotal  string `json:"discountedTotal"`
			DiscountAmount   string `json:"discountAmount"`
			AppliedPromotion struct {
				Code string `json:"code"`
			} `json:"appliedPromotion"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resolved))
	require.Equal(t, "42", resolved.Data.DiscountedTotal)
	require.Equal(t, "18", resolved.Data.DiscountAmount)
	require.Equal(t, "BUY6", resolved.Data.AppliedPromotion.Code)

	rr = httptest.NewRecorder()
	h.Quote(rr, httptest.NewRequest(http.MethodPost, "/api/v1/pricing/quote",
		bytes.NewBufferString(`{"lines":[{"productId":"SKU-1","unitPrice":10,"quantity":3}]}`)))
	require.Equal(t, http.StatusOK, rr.Code)
	require.Contains(t, rr.Body.String(), `"total":"24"`)
}

func TestHandlersRejectInvalidInput(t *testing.T) {
	svc, _ := newService(t, &stubSource{})
	h := pricing.NewHandler(pricing.HandlerConfig{Service: svc})

	rr := httptest.NewRecorder()
	h.Resolve(rr, httptest.NewRequest(http.MethodPost, "/api/v1/pricing/resolve",
		bytes.NewBufferString(`{"productId":"SKU-1","unitPrice":"10","quantity":0}`)))
	require.Equal(t, http.StatusBadRequest, rr.Code)

	rr = httptest.NewRecorder()
	h.Resolve(rr, httptest.NewRequest(http.MethodPost, "/api/v1/pricing/resolve",
		bytes.NewBufferString(`{"productId":"SKU-1","unitPrice":"-1","quantity":1}`)))
	require.Equal(t, http.StatusBadRequest, rr.Code)
	require.Contains(t, rr.Body.String(), "INVALID_PRICING_INPUT")

	rr = httptest.NewRecorder()
	h.Quote(rr, httptest.NewRequest(http.MethodPost, "/api/v1/pricing/quote", bytes.NewBufferString(`{"lines":[]}`)))
	require.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestHandlersRequireUnitPrice(t *testing.T) {
	svc, _ := newService(t, &stubSource{})
	h := pricing.NewHandler(pricing.HandlerConfig{Service: svc})

	rr := httptest.NewRecorder()
	h.Resolve(rr, httptest.NewRequest(http.MethodPost, "/api/v1/pricing/resolve",
		bytes.NewBufferString(`{"productId":"SKU-1","quantity":2}`)))
	require.Equal(t, http.StatusBadRequest, rr.Code)
	require.Contains(t, rr.Body.String(), "unitPrice")

	rr = httptest.NewRecorder()
	h.Quote(rr, httptest.NewRequest(http.MethodPost, "/api/v1/pricing/quote",
		bytes.NewBufferString(`{"lines":[{"productId":"SKU-1","unitPrice":"5","quantity":1},{"productId":"SKU-2","quantity":1}]}`)))
	require.Equal(t, http.StatusBadRequest, rr.Code)
	require.Contains(t, rr.Body.String(), "unitPrice")
}

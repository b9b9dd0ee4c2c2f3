package erp_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/storefront-gateway/internal/erp"
)

func newClient(t *testing.T, srv *httptest.Server, attempts int) *erp.Client {
	t.Helper()
	client, err := erp.New(erp.Options{
		BaseURL:     srv.URL + "/services/rest/",
		SuiteQLURL:  srv.URL + "/query/v1/suiteql",
		Signer:      erp.Signer{Realm: "1234", ConsumerKey: "ck", ConsumerSecret: "cs", TokenID: "tk", TokenSecret: "ts"},
		MaxAttempts: attempts,
		BaseBackoff: time.Millisecond,
		Timeout:     time.Second,
		Transport:   srv.Client().Transport,
	})
	require.NoError(t, err)
	return client
}

func TestListRecurringOrders(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodGet, r.Method)
		require.Equal(t, "/services/rest/recurring-orders", r.URL.Path)
		require.Equal(t, "42", r.URL.Query().Get("customerId"))
		require.True(t, strings.HasPrefix(r.Header.Get("Authorization"), `OAuth realm="1234"`))
		_, _ = w.Write([]byte(`{"items":[{"id":1234567890123,"status":{"id":"1","refName":"Active"}}]}`))
	}))
	defer srv.Close()

	items, err := newClient(t, srv, 1).ListRecurringOrders(context.Background(), "42")
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.Equal(t, json.Number("1234567890123"), items[0]["id"])
}

func TestPatchRecurringOrderSurfacesBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPatch, r.Method)
		require.Equal(t, "/services/rest/recurring-orders/RO-9", r.URL.Path)
		body, _ := io.ReadAll(r.Body)
		require.JSONEq(t, `{"status":"Canceled"}`, string(body))
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"title":"Invalid status"}`))
	}))
	defer srv.Close()

	err := newClient(t, srv, 3).PatchRecurringOrder(context.Background(), "RO-9", map[string]string{"status": "Canceled"})
	var erpErr *erp.Error
	require.True(t, errors.As(err, &erpErr))
	require.Equal(t, http.StatusBadRequest, erpErr.Status)
	require.Equal(t, `{"title":"Invalid status"}`, erpErr.Detail())
}

func TestPatchRecurringOrderAcceptsAny2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	require.NoError(t, newClient(t, srv, 1).PatchRecurringOrder(context.Background(), "RO-1", map[string]any{}))
}

func TestRetriesAreSignedWithFreshNonce(t *testing.T) {
	var (
		mu      sync.Mutex
		headers []string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		headers = append(headers, r.Header.Get("Authorization"))
		n := len(headers)
		mu.Unlock()
		if n == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	require.NoError(t, newClient(t, srv, 2).PatchRecurringOrder(context.Background(), "RO-1", map[string]any{"status": "Paused"}))
	mu.Lock()
	defer mu.Unlock()
	require.Len(t, headers, 2)
	require.NotEqual(t, headers[0], headers[1])
}

func TestPromotionsForProductPages(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/query/v1/suiteql", r.URL.Path)
		require.Equal(t, "transient", r.Header.Get("Prefer"))
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Contains(t, body["q"], "'SKU-1'")
		switch r.URL.Query().Get("offset") {
		case "0":
			_, _ = w.Write([]byte(`{"items":[{"code":"T3","fixedprice":"8.00","minimumquantity":"3"}],"hasMore":true,"count":1}`))
		default:
			_, _ = w.Write([]byte(`{"items":[{"code":"BROKEN","fixedprice":null,"minimumquantity":"x"}],"hasMore":false,"count":1}`))
		}
	}))
	defer srv.Close()

	promos, err := newClient(t, srv, 1).PromotionsForProduct(context.Background(), "SKU-1")
	require.NoError(t, err)
	require.Len(t, promos, 2)
	require.Equal(t, "T3", promos[0].Code)
	require.Equal(t, "8", promos[0].FixedPrice.String())
	require.Equal(t, 3, *promos[0].MinimumQuantity)
	require.Nil(t, promos[1].FixedPrice)
	require.Nil(t, promos[1].MinimumQuantity)
}

func TestPromotionsRejectsUnsafeProductID(t *testing.T) {
	client, err := erp.New(erp.Options{BaseURL: "http://erp.invalid"})
	require.NoError(t, err)
	_, err = client.PromotionsForProduct(context.Background(), "1' OR '1'='1")
	require.ErrorIs(t, err, erp.ErrInvalidID)
}

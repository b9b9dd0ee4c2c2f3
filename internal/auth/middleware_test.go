package auth

import (
	"bytes"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/storefront-gateway/internal/common"
)

type stubVerifier struct {
	identity Identity
	err      error
}

func (s stubVerifier) Verify(string) (Identity, error) { return s.identity, s.err }

func TestRequireAuthPopulatesContext(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)
	m := Middleware{Verifier: stubVerifier{identity: Identity{Subject: "user-1", CustomerID: "C-7", Email: "dr.lee@example.com"}}}

	var customer, email string
	handler := m.RequireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		customer, _ = common.CustomerID(r.Context())
		email, _ = common.CustomerEmail(r.Context())
		zerolog.Ctx(r.Context()).Info().Msg("inside")
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/subscriptions", nil)
	req.Header.Set("Authorization", "Bearer token")
	req = req.WithContext(logger.WithContext(req.Context()))
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	require.Equal(t, http.StatusNoContent, rr.Code)
	require.Equal(t, "C-7", customer)
	require.Equal(t, "dr.lee@example.com", email)
	require.Contains(t, buf.String(), `"customer_id":"C-7"`)
	require.Contains(t, buf.String(), `"subject":"user-1"`)
}

func TestRequireAuthRejects(t *testing.T) {
	next := http.HandlerFunc(func(http.ResponseWriter, *http.Request) { t.Fatal("next must not run") })

	rr := httptest.NewRecorder()
	Middleware{Verifier: stubVerifier{}}.RequireAuth(next).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusUnauthorized, rr.Code)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer bad")
	rr = httptest.NewRecorder()
	Middleware{Verifier: stubVerifier{err: errors.New("expired")}}.RequireAuth(next).ServeHTTP(rr, req)
	require.Equal(t, http.StatusUnauthorized, rr.Code)
	require.Contains(t, rr.Body.String(), "UNAUTHORIZED")
}

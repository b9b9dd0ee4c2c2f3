package auth

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jwt"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/storefront-gateway/internal/common"
)

const customerClaim = "https://storefront/customer_id"

var testSecret = []byte("0123456789abcdef0123456789abcdef")

func signHMAC(t *testing.T, build func(*jwt.Builder) *jwt.Builder) string {
	t.Helper()
	now := time.Now()
	b := jwt.NewBuilder().Issuer("idp").Audience([]string{"storefront"}).Subject("user-1").
		IssuedAt(now).Expiration(now.Add(time.Minute))
	if build != nil {
		b = build(b)
	}
	tok, err := b.Build()
	require.NoError(t, err)
	signed, err := jwt.Sign(tok, jwt.WithKey(jwa.HS256, testSecret))
	require.NoError(t, err)
	return string(signed)
}

func TestHMACVerifierExtractsCustomer(t *testing.T) {
	v, err := NewHMACVerifier(testSecret, TokenValidator{Issuer: "idp", Audience: "storefront"}, customerClaim)
	require.NoError(t, err)

	token := signHMAC(t, func(b *jwt.Builder) *jwt.Builder { return b.Claim(customerClaim, "4711") })
	id, err := v.Verify(token)
	require.NoError(t, err)
	require.Equal(t, "user-1", id.Subject)
	require.Equal(t, "4711", id.CustomerID)
}

func TestHMACVerifierNumericCustomerClaim(t *testing.T) {
	v, err := NewHMACVerifier(testSecret, TokenValidator{}, customerClaim)
	require.NoError(t, err)

	token := signHMAC(t, func(b *jwt.Builder) *jwt.Builder { return b.Claim(customerClaim, 4711) })
	id, err := v.Verify(token)
	require.NoError(t, err)
	require.Equal(t, "4711", id.CustomerID)
}

func TestHMACVerifierRejectsWrongSecret(t *testing.T) {
	v, err := NewHMACVerifier([]byte("another-secret-another-secret-xx"), TokenValidator{}, customerClaim)
	require.NoError(t, err)

	_, err = v.Verify(signHMAC(t, nil))
	var appErr *common.AppError
	require.ErrorAs(t, err, &appErr)
	require.Equal(t, http.StatusUnauthorized, appErr.HTTPStatus)
}

func TestHMACVerifierRejectsExpired(t *testing.T) {
	v, err := NewHMACVerifier(testSecret, TokenValidator{}, customerClaim)
	require.NoError(t, err)
	v.Now = func() time.Time { return time.Now().Add(time.Hour) }

	_, err = v.Verify(signHMAC(t, nil))
	require.Error(t, err)
}

func TestJWKSVerifier(t *testing.T) {
	raw, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	priv, err := jwk.FromRaw(raw)
	require.NoError(t, err)
	require.NoError(t, priv.Set(jwk.KeyIDKey, "k1"))
	require.NoError(t, priv.Set(jwk.AlgorithmKey, jwa.RS256))
	pub, err := jwk.PublicKeyOf(priv)
	require.NoError(t, err)
	set := jwk.NewSet()
	require.NoError(t, set.AddKey(pub))

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(set)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	v, err := NewJWKSVerifier(ctx, srv.URL, srv.Client(), TokenValidator{}, customerClaim)
	require.NoError(t, err)

	tok, err := jwt.NewBuilder().Subject("user-9").Claim(customerClaim, "88").
		Expiration(time.Now().Add(time.Minute)).Build()
	require.NoError(t, err)
	signed, err := jwt.Sign(tok, jwt.WithKey(jwa.RS256, priv))
	require.NoError(t, err)

	id, err := v.Verify(string(signed))
	require.NoError(t, err)
	require.Equal(t, Identity{Subject: "user-9", CustomerID: "88"}, id)

	_, err = v.Verify(signHMAC(t, nil))
	require.Error(t, err, "hmac tokens must not verify against an asymmetric key set")
}

func TestMiddlewareRequireAuth(t *testing.T) {
	v, err := NewHMACVerifier(testSecret, TokenValidator{}, customerClaim)
	require.NoError(t, err)

	var seen string
	handler := Middleware{Verifier: v}.RequireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = common.CustomerID(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusUnauthorized, rr.Code)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+signHMAC(t, func(b *jwt.Builder) *jwt.Builder { return b.Claim(customerClaim, "c-5") }))
	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, "c-5", seen)
}

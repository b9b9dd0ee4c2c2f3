package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jws"
	"github.com/lestrrat-go/jwx/v2/jwt"

	"github.com/noah-isme/storefront-gateway/internal/common"
)

var hmacAlgorithms = []jwa.SignatureAlgorithm{jwa.HS256, jwa.HS384, jwa.HS512}

var asymmetricAlgorithms = []jwa.SignatureAlgorithm{jwa.RS256, jwa.RS384, jwa.RS512, jwa.ES256, jwa.ES384, jwa.PS256}

// Identity is the caller resolved from a verified bearer token.
type Identity struct {
	Subject    string
	CustomerID string
	Email      string
}

// Verifier checks bearer tokens issued by the storefront identity provider
// and extracts the ERP customer binding.
type Verifier struct {
	keyOption     jwt.ParseOption
	validator     TokenValidator
	customerClaim string
	Now           func() time.Time
}

// NewHMACVerifier verifies tokens signed with a shared secret.
func NewHMACVerifier(secret []byte, validator TokenValidator, customerClaim string) (*Verifier, error) {
	if len(secret) == 0 {
		return nil, errors.New("auth: hmac secret is empty")
	}
	if len(validator.Algorithms) == 0 {
		validator.Algorithms = hmacAlgorithms
	}
	set := jwk.NewSet()
	key, err := jwk.FromRaw(secret)
	if err != nil {
		return nil, fmt.Errorf("auth: hmac key: %w", err)
	}
	if err := set.AddKey(key); err != nil {
		return nil, err
	}
	return &Verifier{
		keyOption:     jwt.WithKeySet(set, jws.WithInferAlgorithmFromKey(true), jws.WithRequireKid(false)),
		validator:     validator,
		customerClaim: customerClaim,
	}, nil
}

// NewJWKSVerifier verifies tokens against a remote JWKS document. Keys are
// cached and refreshed in the background for the lifetime of ctx.
func NewJWKSVerifier(ctx context.Context, jwksURL string, client *http.Client, validator TokenValidator, customerClaim string) (*Verifier, error) {
	if len(validator.Algorithms) == 0 {
		validator.Algorithms = asymmetricAlgorithms
	}
	cache := jwk.NewCache(ctx)
	opts := []jwk.RegisterOption{jwk.WithMinRefreshInterval(15 * time.Minute)}
	if client != nil {
		opts = append(opts, jwk.WithHTTPClient(client))
	}
	if err := cache.Register(jwksURL, opts...); err != nil {
		return nil, fmt.Errorf("auth: register jwks: %w", err)
	}
	if _, err := cache.Refresh(ctx, jwksURL); err != nil {
		return nil, fmt.Errorf("auth: fetch jwks: %w", err)
	}
	return &Verifier{
		keyOption:     jwt.WithKeySet(jwk.NewCachedSet(cache, jwksURL), jws.WithInferAlgorithmFromKey(true)),
		validator:     validator,
		customerClaim: customerClaim,
	}, nil
}

// Verify parses and validates the token and returns the caller identity.
func (v *Verifier) Verify(token string) (Identity, error) {
	trimmed := strings.TrimSpace(token)
	if trimmed == "" {
		return Identity{}, unauthorized(errors.New("missing token"))
	}
	algorithm, err := extractTokenAlgorithm(trimmed)
	if err != nil {
		return Identity{}, unauthorized(err)
	}
	parsed, err := jwt.ParseString(trimmed, v.keyOption, jwt.WithValidate(false))
	if err != nil {
		return Identity{}, unauthorized(err)
	}
	if err := v.validator.Validate(parsed, algorithm, v.now()); err != nil {
		return Identity{}, unauthorized(err)
	}
	return Identity{
		Subject:    parsed.Subject(),
		CustomerID: claimString(parsed, v.customerClaim),
		Email:      claimString(parsed, "email"),
	}, nil
}

func (v *Verifier) now() time.Time {
	if v.Now != nil {
		return v.Now()
	}
	return time.Now()
}

func unauthorized(err error) error {
	return common.NewAppError("UNAUTHORIZED", "invalid token", http.StatusUnauthorized, err)
}

func claimString(tok jwt.Token, name string) string {
	if name == "" {
		return ""
	}
	raw, ok := tok.Get(name)
	if !ok {
		return ""
	}
	switch val := raw.(type) {
	case string:
		return strings.TrimSpace(val)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case int64:
		return strconv.FormatInt(val, 10)
	default:
		return ""
	}
}

func extractTokenAlgorithm(token string) (jwa.SignatureAlgorithm, error) {
	message, err := jws.ParseString(token)
	if err != nil {
		return "", err
	}
	signatures := message.Signatures()
	if len(signatures) != 1 {
		return "", errors.New("auth: token must carry exactly one signature")
	}
	headers := signatures[0].ProtectedHeaders()
	if headers == nil {
		return "", errors.New("auth: token missing protected headers")
	}
	alg := headers.Algorithm()
	if alg == "" {
		return "", errors.New("auth: token missing algorithm")
	}
	return alg, nil
}

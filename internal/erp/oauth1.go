package erp

import (
	"crypto/hmac"
	"crypto/sha1" //nolint:gosec // HMAC-SHA1 is only offered for legacy consumers.
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"hash"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	// MethodHMACSHA256 is the signature method NetSuite token-based auth requires.
	MethodHMACSHA256 = "HMAC-SHA256"
	MethodHMACSHA1   = "HMAC-SHA1"
)

// Signer produces OAuth 1.0a Authorization headers for NetSuite token-based
// authentication.
type Signer struct {
	Realm          string
	ConsumerKey    string
	ConsumerSecret string
	TokenID        string
	TokenSecret    string
	Method         string
	Now            func() time.Time
	Nonce          func() string
}

// Authorization returns the header value for a request with the given method
// and absolute URL. Query parameters take part in the signature.
func (s Signer) Authorization(method, rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("erp: parse url: %w", err)
	}
	params := map[string]string{
		"oauth_consumer_key":     s.ConsumerKey,
		"oauth_token":            s.TokenID,
		"oauth_signature_method": s.method(),
		"oauth_timestamp":        strconv.FormatInt(s.now().Unix(), 10),
		"oauth_nonce":            s.nonce(),
		"oauth_version":          "1.0",
	}
	base := signatureBase(method, u, params)
	params["oauth_signature"] = sign(s.method(), s.signingKey(), base)

	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString("OAuth ")
	if s.Realm != "" {
		b.WriteString(`realm="` + percentEncode(s.Realm) + `", `)
	}
	for i, k := range keys {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(k + `="` + percentEncode(params[k]) + `"`)
	}
	return b.String(), nil
}

// Sign sets the Authorization header on req.
func (s Signer) Sign(req *http.Request) error {
	header, err := s.Authorization(req.Method, req.URL.String())
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", header)
	return nil
}

func (s Signer) signingKey() string {
	return percentEncode(s.ConsumerSecret) + "&" + percentEncode(s.TokenSecret)
}

func (s Signer) method() string {
	if s.Method == "" {
		return MethodHMACSHA256
	}
	return s.Method
}

func (s Signer) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s Signer) nonce() string {
	if s.Nonce != nil {
		return s.Nonce()
	}
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// signatureBase builds the RFC 5849 section 3.4.1 base string.
func signatureBase(method string, u *url.URL, oauthParams map[string]string) string {
	type pair struct{ k, v string }
	var pairs []pair
	for k, vs := range u.Query() {
		for _, v := range vs {
			pairs = append(pairs, pair{percentEncode(k), percentEncode(v)})
		}
	}
	for k, v := range oauthParams {
		pairs = append(pairs, pair{percentEncode(k), percentEncode(v)})
	}
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].k == pairs[j].k {
			return pairs[i].v < pairs[j].v
		}
		return pairs[i].k < pairs[j].k
	})
	normalized := make([]string, len(pairs))
	for i, p := range pairs {
		normalized[i] = p.k + "=" + p.v
	}

	return strings.ToUpper(method) + "&" +
		percentEncode(baseURI(u)) + "&" +
		percentEncode(strings.Join(normalized, "&"))
}

func baseURI(u *url.URL) string {
	scheme := strings.ToLower(u.Scheme)
	host := strings.ToLower(u.Hostname())
	if port := u.Port(); port != "" && !(scheme == "http" && port == "80") && !(scheme == "https" && port == "443") {
		host += ":" + port
	}
	path := u.EscapedPath()
	if path == "" {
		path = "/"
	}
	return scheme + "://" + host + path
}

func sign(method, key, base string) string {
	var h func() hash.Hash
	switch method {
	case MethodHMACSHA1:
		h = sha1.New
	default:
		h = sha256.New
	}
	mac := hmac.New(h, []byte(key))
	_, _ = mac.Write([]byte(base))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// percentEncode applies RFC 3986 encoding where only unreserved characters
// are left as-is.
func percentEncode(s string) string {
	const hex = "0123456789ABCDEF"
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		if ('A' <= c && c <= 'Z') || ('a' <= c && c <= 'z') || ('0' <= c && c <= '9') ||
			c == '-' || c == '.' || c == '_' || c == '~' {
			b.WriteByte(c)
			continue
		}
		b.WriteByte('%')
		b.WriteByte(hex[c>>4])
		b.WriteByte(hex[c&15])
	}
	return b.String()
}

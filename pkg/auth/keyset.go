package auth

import (
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// KeySet resolves verification keys for session JWTs.
type KeySet interface {
	// KeyFunc returns a jwt.Keyfunc that selects the key named by the
	// token's kid header.
	KeyFunc() jwt.Keyfunc
}

// jwk is the subset of RFC 7517 we verify RS256 session tokens with.
type jwk struct {
	Kid string `json:"kid"`
	Kty string `json:"kty"`
	Alg string `json:"alg"`
	Use string `json:"use"`
	N   string `json:"n"`
	E   string `json:"e"`
}

// RemoteKeySet fetches a JWKS document over HTTPS and caches it for a
// TTL. An unknown kid forces one refresh before failing, so key
// rotation upstream does not strand in-flight sessions.
type RemoteKeySet struct {
	URL       string
	SecretKey string
	TTL       time.Duration
	Client    *http.Client

	mu        sync.Mutex
	keys      map[string]*rsa.PublicKey
	fetchedAt time.Time
}

// NewRemoteKeySet builds a keyset for the given JWKS URL. secretKey,
// when set, is sent as a bearer token on fetches (hosted-provider
// endpoints require it). ttl <= 0 defaults to one hour.
func NewRemoteKeySet(url, secretKey string, ttl time.Duration) *RemoteKeySet {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &RemoteKeySet{
		URL:       url,
		SecretKey: secretKey,
		TTL:       ttl,
		Client:    &http.Client{Timeout: 10 * time.Second},
	}
}

// KeyFunc implements KeySet.
func (ks *RemoteKeySet) KeyFunc() jwt.Keyfunc {
	return func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodRSA); !ok {
			return nil, fmt.Errorf("unexpected signing method %q", token.Header["alg"])
		}
		kid, _ := token.Header["kid"].(string)
		if kid == "" {
			return nil, fmt.Errorf("token has no kid header")
		}
		return ks.lookup(kid)
	}
}

func (ks *RemoteKeySet) lookup(kid string) (*rsa.PublicKey, error) {
	ks.mu.Lock()
	defer ks.mu.Unlock()

	if key := ks.cached(kid); key != nil {
		return key, nil
	}
	// Unknown or stale: refresh once, then fail.
	if err := ks.refreshLocked(); err != nil {
		return nil, err
	}
	if key := ks.keys[kid]; key != nil {
		return key, nil
	}
	return nil, fmt.Errorf("no key with kid %q in JWKS", kid)
}

func (ks *RemoteKeySet) cached(kid string) *rsa.PublicKey {
	if ks.keys == nil || time.Since(ks.fetchedAt) >= ks.TTL {
		return nil
	}
	return ks.keys[kid]
}

func (ks *RemoteKeySet) refreshLocked() error {
	req, err := http.NewRequest(http.MethodGet, ks.URL, nil)
	if err != nil {
		return fmt.Errorf("jwks request: %w", err)
	}
	if ks.SecretKey != "" {
		req.Header.Set("Authorization", "Bearer "+ks.SecretKey)
	}

	resp, err := ks.Client.Do(req)
	if err != nil {
		return fmt.Errorf("jwks fetch: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("jwks fetch: status %d", resp.StatusCode)
	}

	var doc struct {
		Keys []jwk `json:"keys"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return fmt.Errorf("jwks decode: %w", err)
	}

	keys := make(map[string]*rsa.PublicKey, len(doc.Keys))
	for _, k := range doc.Keys {
		if k.Kty != "RSA" || k.Kid == "" {
			continue
		}
		pub, err := rsaKeyFromJWK(k)
		if err != nil {
			slog.Warn("skipping unparseable JWKS key", "kid", k.Kid, "error", err)
			continue
		}
		keys[k.Kid] = pub
	}
	if len(keys) == 0 {
		return fmt.Errorf("jwks document at %s contains no usable RSA keys", ks.URL)
	}

	ks.keys = keys
	ks.fetchedAt = time.Now()
	return nil
}

func rsaKeyFromJWK(k jwk) (*rsa.PublicKey, error) {
	nb, err := base64.RawURLEncoding.DecodeString(k.N)
	if err != nil {
		return nil, fmt.Errorf("modulus: %w", err)
	}
	eb, err := base64.RawURLEncoding.DecodeString(k.E)
	if err != nil {
		return nil, fmt.Errorf("exponent: %w", err)
	}
	e := 0
	for _, b := range eb {
		e = e<<8 | int(b)
	}
	if e <= 1 {
		return nil, fmt.Errorf("exponent %d out of range", e)
	}
	return &rsa.PublicKey{N: new(big.Int).SetBytes(nb), E: e}, nil
}

// StaticKeySet serves keys from memory. Tests use it to sign and
// verify without a network round trip.
type StaticKeySet struct {
	Keys map[string]*rsa.PublicKey
}

// KeyFunc implements KeySet.
func (ks *StaticKeySet) KeyFunc() jwt.Keyfunc {
	return func(token *jwt.Token) (any, error) {
		kid, _ := token.Header["kid"].(string)
		if key := ks.Keys[kid]; key != nil {
			return key, nil
		}
		return nil, fmt.Errorf("no key with kid %q", kid)
	}
}

// SessionClaims are the claims carried by provider session JWTs. The
// subject identifies the external user; email claims vary by provider
// version, so all three spellings are accepted.
type SessionClaims struct {
	jwt.RegisteredClaims
	Email               string `json:"email,omitempty"`
	EmailAddress        string `json:"email_address,omitempty"`
	PrimaryEmailAddress string `json:"primary_email_address,omitempty"`
}

// BestEmail returns the first non-empty email claim, or the fallback.
func (c *SessionClaims) BestEmail(fallback string) string {
	for _, e := range []string{c.Email, c.EmailAddress, c.PrimaryEmailAddress, fallback} {
		if e != "" {
			return e
		}
	}
	return "unknown@edoncore.com"
}

// VerifySessionToken parses and validates a session JWT against the
// keyset. Only RS256-family tokens are accepted.
func VerifySessionToken(ks KeySet, token string) (*SessionClaims, error) {
	if ks == nil {
		return nil, fmt.Errorf("session auth not configured")
	}
	claims := &SessionClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, ks.KeyFunc(),
		jwt.WithValidMethods([]string{"RS256", "RS384", "RS512"}))
	if err != nil {
		return nil, fmt.Errorf("session token: %w", err)
	}
	if !parsed.Valid {
		return nil, fmt.Errorf("session token invalid")
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("session token has no subject")
	}
	return claims, nil
}

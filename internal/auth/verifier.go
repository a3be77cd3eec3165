package auth

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jwt"
)

// Identity is the authenticated caller extracted from a verified JWT.
type Identity struct {
	ID    string
	Email string
	Name  string
}

// Verifier validates request JWTs against the auth server's JWKS. The key
// set is cached and refreshed in the background so verification never
// blocks on a network fetch.
type Verifier struct {
	jwksURL    string
	cache      *jwk.Cache
	refreshTTL time.Duration

	mu     sync.RWMutex
	keySet jwk.Set
}

// NewVerifier warms the JWKS cache and starts its refresh loop.
func NewVerifier(jwksURL string) (*Verifier, error) {
	v := &Verifier{
		jwksURL:    jwksURL,
		refreshTTL: 5 * time.Minute,
	}

	v.cache = jwk.NewCache(context.Background())
	if err := v.cache.Register(jwksURL, jwk.WithMinRefreshInterval(v.refreshTTL)); err != nil {
		return nil, fmt.Errorf("register JWKS URL: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	keySet, err := v.fetchKeySet(ctx)
	if err != nil {
		return nil, fmt.Errorf("initial JWKS fetch: %w", err)
	}
	v.keySet = keySet

	go v.refreshLoop()
	return v, nil
}

func (v *Verifier) fetchKeySet(ctx context.Context) (jwk.Set, error) {
	keySet, err := v.cache.Get(ctx, v.jwksURL)
	if err != nil {
		return jwk.Fetch(ctx, v.jwksURL)
	}
	return keySet, nil
}

// refreshLoop keeps the cached key set current. A failed fetch keeps the
// previous set; the next tick retries.
func (v *Verifier) refreshLoop() {
	ticker := time.NewTicker(v.refreshTTL)
	defer ticker.Stop()

	for range ticker.C {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		keySet, err := v.fetchKeySet(ctx)
		cancel()
		if err != nil {
			continue
		}
		v.mu.Lock()
		v.keySet = keySet
		v.mu.Unlock()
	}
}

func (v *Verifier) currentKeySet() jwk.Set {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.keySet
}

// IdentityFromRequest parses and validates the request's bearer token
// against the cached key set.
func (v *Verifier) IdentityFromRequest(r *http.Request) (*Identity, error) {
	token, err := jwt.ParseRequest(r,
		jwt.WithKeySet(v.currentKeySet()),
		jwt.WithValidate(true),
	)
	if err != nil {
		return nil, fmt.Errorf("parse JWT: %w", err)
	}

	id := token.Subject()
	if id == "" {
		return nil, fmt.Errorf("token has no subject")
	}

	ident := &Identity{ID: id}
	if claim, ok := token.Get("email"); ok {
		ident.Email, _ = claim.(string)
	}
	if claim, ok := token.Get("name"); ok {
		ident.Name, _ = claim.(string)
	}
	return ident, nil
}

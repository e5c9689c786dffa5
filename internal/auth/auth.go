// Package auth resolves API keys to principals. Keys come from two places:
// static tokens configured through API_TOKENS, and tokens issued at runtime
// and stored as bcrypt hashes.
//
// Issued keys look like jmr_<token_id>_<secret>. Only the hash of the secret
// is stored, so a key cannot be recovered after issue.
package auth

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"jobmate/recommender-service/internal/model"
)

const (
	tokenPrefix      = "jmr_"
	maxExpiresInDays = 3650
	anonymous        = "anonymous"
)

// Scopes a token may carry. "*" grants all of them.
const (
	ScopeAll   = "*"
	ScopeWrite = "write"
	ScopeScan  = "scan"
	ScopeAdmin = "admin"
	ScopeAudit = "audit"
)

var knownScopes = []string{ScopeAll, ScopeWrite, ScopeScan, ScopeAdmin, ScopeAudit}

// ValidScope reports whether s is a scope a token may carry.
func ValidScope(s string) bool { return slices.Contains(knownScopes, s) }

var (
	// ErrUnauthenticated means no key was given or the key is unknown,
	// expired or revoked.
	ErrUnauthenticated = errors.New("unauthenticated")
	// ErrForbidden means the key is valid but lacks the required scope.
	ErrForbidden = errors.New("forbidden")
)

// Principal is the caller behind a key.
type Principal struct {
	Name    string   `json:"name"`
	TokenID string   `json:"token_id,omitempty"`
	Scopes  []string `json:"scopes"`
}

// Anonymous is the principal of calls made while authentication is off.
func Anonymous() Principal { return Principal{Name: anonymous} }

// Allows reports whether p carries scope. The empty scope is always allowed.
func (p Principal) Allows(scope string) bool {
	return scope == "" || slices.Contains(p.Scopes, ScopeAll) || slices.Contains(p.Scopes, scope)
}

// TokenStore persists issued tokens. store.Store satisfies it.
type TokenStore interface {
	CreateAPIToken(ctx context.Context, tok model.APIToken) error
	GetAPIToken(ctx context.Context, tokenID string) (model.APIToken, error)
	ListAPITokens(ctx context.Context) ([]model.APIToken, error)
	RevokeAPIToken(ctx context.Context, tokenID string, at time.Time) (model.APIToken, error)
}

// IssueRequest describes a token to issue. ExpiresInDays 0 means no expiry.
type IssueRequest struct {
	Name          string   `json:"name"`
	Scopes        []string `json:"scopes"`
	ExpiresInDays int      `json:"expires_in_days"`
	Notes         string   `json:"notes"`
}

// Issued is returned once per issue; Token is never shown again.
type Issued struct {
	Token    string         `json:"token"`
	Metadata model.APIToken `json:"metadata"`
}

// ─── Authenticator ───────────────────────────────────────────────────────────

// Authenticator checks keys and manages issued tokens.
type Authenticator struct {
	store  TokenStore
	static map[string][]string
	cost   int
	now    func() time.Time
	log    *zap.Logger

	// verified caches sha256(key) → token_id for keys that passed bcrypt,
	// so a busy client pays the hash cost once. Revocation and expiry are
	// still read from the store on every call.
	mu       sync.RWMutex
	verified map[[sha256.Size]byte]string
}

// Option configures an Authenticator.
type Option func(*Authenticator)

// WithCost sets the bcrypt cost of issued secrets.
func WithCost(cost int) Option { return func(a *Authenticator) { a.cost = cost } }

// WithClock replaces the time source. Tests only.
func WithClock(now func() time.Time) Option { return func(a *Authenticator) { a.now = now } }

// New returns an Authenticator. With no static tokens authentication is off
// and every caller is Anonymous; issued tokens can still be managed.
func New(st TokenStore, static map[string][]string, logger *zap.Logger, opts ...Option) *Authenticator {
	a := &Authenticator{
		store:    st,
		static:   static,
		cost:     bcrypt.DefaultCost,
		now:      time.Now,
		log:      logger.Named("auth"),
		verified: make(map[[sha256.Size]byte]string),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Enabled reports whether keys are checked at all.
func (a *Authenticator) Enabled() bool { return len(a.static) > 0 }

// Authorize resolves key and checks it carries scope. With authentication
// off it returns Anonymous for any key.
func (a *Authenticator) Authorize(ctx context.Context, key, scope string) (Principal, error) {
	if !a.Enabled() || scope == "" {
		return Anonymous(), nil
	}
	p, err := a.Authenticate(ctx, key)
	if err != nil {
		return Principal{}, err
	}
	if !p.Allows(scope) {
		return p, fmt.Errorf("api key lacks scope %s: %w", scope, ErrForbidden)
	}
	return p, nil
}

// Authenticate resolves key to a principal.
func (a *Authenticator) Authenticate(ctx context.Context, key string) (Principal, error) {
	if key == "" {
		return Principal{}, fmt.Errorf("missing api key: %w", ErrUnauthenticated)
	}
	if scopes, ok := a.static[key]; ok {
		return Principal{Name: "static", Scopes: scopes}, nil
	}

	tokenID, secret, ok := splitKey(key)
	if !ok {
		return Principal{}, fmt.Errorf("invalid api key: %w", ErrUnauthenticated)
	}
	tok, err := a.store.GetAPIToken(ctx, tokenID)
	if errors.Is(err, model.ErrNotFound) {
		return Principal{}, fmt.Errorf("invalid api key: %w", ErrUnauthenticated)
	}
	if err != nil {
		return Principal{}, err
	}
	if tok.RevokedAt != nil {
		return Principal{}, fmt.Errorf("api key revoked: %w", ErrUnauthenticated)
	}
	if !tok.Active(a.now()) {
		return Principal{}, fmt.Errorf("api key expired: %w", ErrUnauthenticated)
	}
	if !a.verify(key, tok, secret) {
		return Principal{}, fmt.Errorf("invalid api key: %w", ErrUnauthenticated)
	}
	return Principal{Name: tok.Name, TokenID: tok.TokenID, Scopes: tok.Scopes}, nil
}

func (a *Authenticator) verify(key string, tok model.APIToken, secret string) bool {
	sum := sha256.Sum256([]byte(key))
	a.mu.RLock()
	id, hit := a.verified[sum]
	a.mu.RUnlock()
	if hit && id == tok.TokenID {
		return true
	}
	if bcrypt.CompareHashAndPassword([]byte(tok.SecretHash), []byte(secret)) != nil {
		return false
	}
	a.mu.Lock()
	a.verified[sum] = tok.TokenID
	a.mu.Unlock()
	return true
}

// splitKey parses jmr_<token_id>_<secret>. Token ids are uuids and never
// contain an underscore.
func splitKey(key string) (tokenID, secret string, ok bool) {
	rest, found := strings.CutPrefix(key, tokenPrefix)
	if !found {
		return "", "", false
	}
	tokenID, secret, ok = strings.Cut(rest, "_")
	if !ok || tokenID == "" || secret == "" {
		return "", "", false
	}
	return tokenID, secret, true
}

// ─── Token lifecycle ─────────────────────────────────────────────────────────

// Issue creates a token and returns its key once.
func (a *Authenticator) Issue(ctx context.Context, req IssueRequest) (Issued, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return Issued{}, model.Invalidf("name is required")
	}
	if len(req.Scopes) == 0 {
		return Issued{}, model.Invalidf("at least one scope is required")
	}
	scopes := make([]string, 0, len(req.Scopes))
	for _, s := range req.Scopes {
		s = strings.TrimSpace(s)
		if !ValidScope(s) {
			return Issued{}, model.Invalidf("unknown scope %q", s)
		}
		if !slices.Contains(scopes, s) {
			scopes = append(scopes, s)
		}
	}
	if req.ExpiresInDays < 0 || req.ExpiresInDays > maxExpiresInDays {
		return Issued{}, model.Invalidf("expires_in_days must be between 0 and %d", maxExpiresInDays)
	}

	secret := strings.ReplaceAll(uuid.NewString()+uuid.NewString(), "-", "")
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), a.cost)
	if err != nil {
		return Issued{}, fmt.Errorf("hash token secret: %w", err)
	}

	now := a.now().UTC()
	tok := model.APIToken{
		TokenID:    uuid.NewString(),
		Name:       name,
		Scopes:     scopes,
		Notes:      strings.TrimSpace(req.Notes),
		CreatedAt:  now,
		SecretHash: string(hash),
	}
	if req.ExpiresInDays > 0 {
		exp := now.AddDate(0, 0, req.ExpiresInDays)
		tok.ExpiresAt = &exp
	}
	if err := a.store.CreateAPIToken(ctx, tok); err != nil {
		return Issued{}, err
	}
	a.log.Info("api token issued",
		zap.String("token_id", tok.TokenID),
		zap.String("name", tok.Name),
		zap.Strings("scopes", tok.Scopes))
	return Issued{Token: tokenPrefix + tok.TokenID + "_" + secret, Metadata: tok}, nil
}

// List returns every issued token, revoked ones included.
func (a *Authenticator) List(ctx context.Context) ([]model.APIToken, error) {
	return a.store.ListAPITokens(ctx)
}

// Revoke disables a token. Revoking twice is not an error.
func (a *Authenticator) Revoke(ctx context.Context, tokenID string) (model.APIToken, error) {
	if strings.TrimSpace(tokenID) == "" {
		return model.APIToken{}, model.Invalidf("token_id is required")
	}
	tok, err := a.store.RevokeAPIToken(ctx, tokenID, a.now().UTC())
	if err != nil {
		return model.APIToken{}, err
	}
	a.log.Info("api token revoked", zap.String("token_id", tok.TokenID))
	return tok, nil
}

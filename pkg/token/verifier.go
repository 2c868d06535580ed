package token

import (
	"context"
	"crypto"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// KeyProvider resolves a key ID to a public signing key. Implemented by
// jwks.Cache.
type KeyProvider interface {
	SigningKey(ctx context.Context, kid string) (crypto.PublicKey, error)
}

// Config holds the claim expectations for a Verifier.
type Config struct {
	// Issuer is the exact `iss` value tokens must carry.
	Issuer string
	// Audience must be contained in the token's `aud` claim.
	Audience string
}

// Option customizes a Verifier.
type Option func(*Verifier)

// WithTimeFunc overrides the clock used for claim validation.
func WithTimeFunc(now func() time.Time) Option {
	return func(v *Verifier) { v.now = now }
}

// Verifier validates raw JWTs against the JWKS key cache and the
// configured issuer and audience. It holds no per-request state; all
// failures are terminal and never retried.
type Verifier struct {
	keys   KeyProvider
	parser *jwt.Parser
	cfg    Config
	now    func() time.Time
}

// NewVerifier creates a Verifier. Only RS256 is accepted; tokens signed
// with any other algorithm are rejected before signature verification,
// which closes the usual algorithm-confusion hole.
func NewVerifier(keys KeyProvider, cfg Config, opts ...Option) *Verifier {
	v := &Verifier{
		keys: keys,
		cfg:  cfg,
		now:  time.Now,
	}
	for _, opt := range opts {
		opt(v)
	}
	v.parser = jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithIssuer(cfg.Issuer),
		jwt.WithAudience(cfg.Audience),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(func() time.Time { return v.now() }),
	)
	return v
}

// Verify parses and validates a raw token. It is a pure function over
// the key cache state: no side effects, no retries.
func (v *Verifier) Verify(ctx context.Context, raw string) (*VerifiedToken, error) {
	claims := &Claims{}
	_, err := v.parser.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		kid, _ := t.Header["kid"].(string)
		if kid == "" {
			return nil, fmt.Errorf("%w: missing kid header", ErrUnknownKey)
		}
		key, err := v.keys.SigningKey(ctx, kid)
		if err != nil {
			return nil, err
		}
		return key, nil
	})
	if err != nil {
		return nil, mapParseError(err)
	}
	return newVerifiedToken(claims), nil
}

// mapParseError translates jwt/v5 errors into the package's taxonomy.
// The library joins multiple validation errors; the most specific claim
// failure wins over the generic invalid-token wrapper.
func mapParseError(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return fmt.Errorf("%w: %v", ErrBadSignature, err)
	case errors.Is(err, jwt.ErrTokenExpired):
		return fmt.Errorf("%w: %v", ErrTokenExpired, err)
	case errors.Is(err, jwt.ErrTokenNotValidYet), errors.Is(err, jwt.ErrTokenUsedBeforeIssued):
		return fmt.Errorf("%w: %v", ErrTokenNotYetValid, err)
	case errors.Is(err, jwt.ErrTokenInvalidIssuer):
		return fmt.Errorf("%w: %v", ErrInvalidIssuer, err)
	case errors.Is(err, jwt.ErrTokenInvalidAudience):
		return fmt.Errorf("%w: %v", ErrInvalidAudience, err)
	case errors.Is(err, jwt.ErrTokenUnverifiable):
		// Keyfunc failures arrive joined with ErrTokenUnverifiable. The
		// cause (key fetch failure, unknown kid, rejected algorithm) is
		// the error callers need, not the wrapper.
		if cause := keyfuncCause(err); cause != nil {
			return cause
		}
		return fmt.Errorf("%w: %v", ErrUnknownKey, err)
	case errors.Is(err, jwt.ErrTokenMalformed):
		return fmt.Errorf("%w: %v", ErrMalformedToken, err)
	default:
		return fmt.Errorf("%w: %v", ErrMalformedToken, err)
	}
}

// keyfuncCause digs the original keyfunc error out of the joined error
// chain jwt/v5 builds around it.
func keyfuncCause(err error) error {
	for unwrapped := err; unwrapped != nil; unwrapped = errors.Unwrap(unwrapped) {
		if joined, ok := unwrapped.(interface{ Unwrap() []error }); ok {
			for _, e := range joined.Unwrap() {
				if e != nil && !errors.Is(e, jwt.ErrTokenUnverifiable) {
					return e
				}
			}
		}
	}
	return nil
}

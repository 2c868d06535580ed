// Package session exchanges refresh tokens for new access tokens.
//
// Two rules govern the exchange. First, a freshly issued access token
// is verified against the JWKS cache before it is handed to the caller;
// a misconfigured provider must not be able to slip an unverifiable
// token into a session. Second, concurrent refreshes for the same
// refresh token are coalesced into a single provider call, which keeps
// rotating providers from invalidating a token mid-flight.
package session

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/avast/retry-go/v4"
	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"

	"github.com/luminate-bi/authcore/pkg/observability"
	"github.com/luminate-bi/authcore/pkg/tenant"
	"github.com/luminate-bi/authcore/pkg/token"
)

var (
	// ErrRefreshDenied means the provider rejected the refresh token
	// (expired or revoked). The caller must force a full
	// re-authentication; retrying with the old token cannot succeed.
	ErrRefreshDenied = errors.New("session: refresh denied by provider")
	// ErrExchangeFailed wraps transport-level failures reaching the
	// token endpoint.
	ErrExchangeFailed = errors.New("session: token exchange failed")
)

// TokenVerifier validates the freshly issued access token. Implemented
// by token.Verifier.
type TokenVerifier interface {
	Verify(ctx context.Context, raw string) (*token.VerifiedToken, error)
}

// TokenPair is a successful refresh result.
type TokenPair struct {
	AccessToken  string          `json:"access_token"`
	RefreshToken string          `json:"refresh_token"`
	ExpiresAt    time.Time       `json:"expires_at"`
	Context      *tenant.Context `json:"-"`
}

// Config holds provider settings for the refresh exchange.
type Config struct {
	TokenEndpoint string
	ClientID      string
	ClientSecret  string

	// ExchangeAttempts bounds retries of a failing exchange. Only
	// transport errors and provider 5xx responses are retried; a
	// rejection cannot succeed on retry. Default 3.
	ExchangeAttempts uint
	// ExchangeBaseDelay is the initial backoff delay. Default 500ms.
	ExchangeBaseDelay time.Duration
}

func (c *Config) applyDefaults() {
	if c.ExchangeAttempts == 0 {
		c.ExchangeAttempts = 3
	}
	if c.ExchangeBaseDelay <= 0 {
		c.ExchangeBaseDelay = 500 * time.Millisecond
	}
}

// Option customizes a Manager.
type Option func(*Manager)

// WithHTTPClient overrides the HTTP client used for the exchange.
func WithHTTPClient(client *http.Client) Option {
	return func(m *Manager) { m.client = client }
}

// WithLogger sets the structured logger.
func WithLogger(logger *observability.Logger) Option {
	return func(m *Manager) { m.logger = logger }
}

// WithMetrics wires refresh metrics.
func WithMetrics(metrics *observability.Metrics) Option {
	return func(m *Manager) { m.metrics = metrics }
}

// Manager coordinates refresh-token exchanges with the provider.
type Manager struct {
	cfg      Config
	oauth    *oauth2.Config
	verifier TokenVerifier
	client   *http.Client
	logger   *observability.Logger
	metrics  *observability.Metrics
	group    singleflight.Group
}

// NewManager creates a Manager.
func NewManager(cfg Config, verifier TokenVerifier, opts ...Option) *Manager {
	cfg.applyDefaults()
	m := &Manager{
		cfg: cfg,
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint: oauth2.Endpoint{
				TokenURL: cfg.TokenEndpoint,
			},
		},
		verifier: verifier,
		client:   &http.Client{Timeout: 15 * time.Second},
		logger:   observability.NewLogger(observability.InfoLevel, nil),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Refresh exchanges refreshToken for a new token pair. Concurrent calls
// with the same refresh token share one provider call and one result.
func (m *Manager) Refresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
	if refreshToken == "" {
		return nil, ErrRefreshDenied
	}

	// The singleflight key is a digest so the raw secret is not held in
	// the group's internal map.
	key := coalesceKey(refreshToken)

	v, err, _ := m.group.Do(key, func() (interface{}, error) {
		return m.exchange(ctx, refreshToken)
	})
	if err != nil {
		return nil, err
	}
	return v.(*TokenPair), nil
}

func (m *Manager) exchange(ctx context.Context, refreshToken string) (*TokenPair, error) {
	start := time.Now()
	ctx = context.WithValue(ctx, oauth2.HTTPClient, m.client)

	// Expiry in the past forces TokenSource to hit the token endpoint
	// instead of returning the seed token.
	seed := &oauth2.Token{
		RefreshToken: refreshToken,
		Expiry:       time.Now().Add(-time.Minute),
	}

	// Transport failures and provider 5xx are retried with bounded
	// backoff; a 4xx means the provider looked at the token and said
	// no, which no retry can change.
	var tok *oauth2.Token
	err := retry.Do(
		func() error {
			var err error
			tok, err = m.oauth.TokenSource(ctx, seed).Token()
			if err != nil && isRejection(err) {
				return retry.Unrecoverable(err)
			}
			return err
		},
		retry.Context(ctx),
		retry.Attempts(m.cfg.ExchangeAttempts),
		retry.Delay(m.cfg.ExchangeBaseDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
	)
	m.recordDuration(start)
	if err != nil {
		var retrieveErr *oauth2.RetrieveError
		if errors.As(err, &retrieveErr) {
			if isRejection(err) {
				// Expired or revoked refresh token. Terminal; the
				// caller must re-authenticate.
				m.recordOutcome("denied")
				m.logger.WithField("status", retrieveErr.Response.StatusCode).
					Warn("provider rejected refresh token")
				return nil, fmt.Errorf("%w: provider returned %d", ErrRefreshDenied, retrieveErr.Response.StatusCode)
			}
			m.recordOutcome("error")
			return nil, fmt.Errorf("%w: provider returned %d", ErrExchangeFailed, retrieveErr.Response.StatusCode)
		}
		m.recordOutcome("error")
		return nil, fmt.Errorf("%w: %v", ErrExchangeFailed, err)
	}

	// Never trust an unverified token, even from the provider's own
	// token endpoint.
	vt, err := m.verifier.Verify(ctx, tok.AccessToken)
	if err != nil {
		m.recordOutcome("unverifiable")
		m.logger.WithError(err).Error("provider issued an unverifiable access token")
		return nil, err
	}
	tc, err := tenant.Resolve(vt)
	if err != nil {
		m.recordOutcome("unverifiable")
		return nil, err
	}

	newRefresh := tok.RefreshToken
	if newRefresh == "" {
		// Provider does not rotate refresh tokens; the old one stays
		// valid.
		newRefresh = refreshToken
	}

	m.recordOutcome("success")
	return &TokenPair{
		AccessToken:  tok.AccessToken,
		RefreshToken: newRefresh,
		ExpiresAt:    tok.Expiry,
		Context:      tc,
	}, nil
}

func (m *Manager) recordOutcome(outcome string) {
	if m.metrics != nil {
		m.metrics.SessionRefreshesTotal.WithLabelValues(outcome).Inc()
	}
}

func (m *Manager) recordDuration(start time.Time) {
	if m.metrics != nil {
		m.metrics.SessionRefreshDuration.Observe(time.Since(start).Seconds())
	}
}

// isRejection reports whether the exchange error is the provider
// refusing the refresh token, as opposed to the provider being down.
func isRejection(err error) bool {
	var retrieveErr *oauth2.RetrieveError
	return errors.As(err, &retrieveErr) &&
		retrieveErr.Response.StatusCode < http.StatusInternalServerError
}

func coalesceKey(refreshToken string) string {
	sum := sha256.Sum256([]byte(refreshToken))
	return hex.EncodeToString(sum[:])
}

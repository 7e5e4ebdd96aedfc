// Package auth obtains bearer credentials for the heatmaps API using the
// OAuth2 client-credentials grant.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// DefaultTokenURL is the Swisscom consent token endpoint.
const DefaultTokenURL = "https://consent.swisscom.com/o/oauth2/token"

var tokenRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "heatmap_token_requests_total",
	Help: "Total token exchanges by outcome",
}, []string{"status"})

// ErrMissingClientCredentials is returned when the client id or secret is empty.
var ErrMissingClientCredentials = errors.New("client id and secret are required")

// AuthenticationError reports a failed client-credentials exchange.
type AuthenticationError struct {
	// StatusCode is the token endpoint status, 0 if no response was received.
	StatusCode int
	Err        error
}

// Error implements the error interface.
func (e *AuthenticationError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("authentication failed (status %d): %v", e.StatusCode, e.Err)
	}
	return fmt.Sprintf("authentication failed: %v", e.Err)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *AuthenticationError) Unwrap() error {
	return e.Err
}

// Config holds the client credentials and token endpoint.
type Config struct {
	ClientID     string
	ClientSecret string

	// TokenURL defaults to DefaultTokenURL.
	TokenURL string

	// HTTPClient is used for the exchange (default: client with Timeout).
	HTTPClient *http.Client

	// Timeout bounds the exchange when HTTPClient is nil.
	Timeout time.Duration
}

// TokenProvider performs one client-credentials exchange per call.
// It holds no token state between calls.
type TokenProvider struct {
	config     clientcredentials.Config
	httpClient *http.Client
	logger     zerolog.Logger
}

// NewTokenProvider creates a token provider from cfg.
func NewTokenProvider(cfg Config) *TokenProvider {
	if cfg.TokenURL == "" {
		cfg.TokenURL = DefaultTokenURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}

	return &TokenProvider{
		config: clientcredentials.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			TokenURL:     cfg.TokenURL,
			AuthStyle:    oauth2.AuthStyleInHeader,
		},
		httpClient: httpClient,
		logger:     log.With().Str("component", "token-provider").Logger(),
	}
}

// Acquire exchanges the client credentials for a bearer credential.
func (p *TokenProvider) Acquire(ctx context.Context) (*Credential, error) {
	if p.config.ClientID == "" || p.config.ClientSecret == "" {
		tokenRequestsTotal.WithLabelValues("misconfigured").Inc()
		return nil, ErrMissingClientCredentials
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, p.httpClient)

	start := time.Now()
	token, err := p.config.Token(ctx)
	if err != nil {
		authErr := &AuthenticationError{Err: err}
		var retrieveErr *oauth2.RetrieveError
		if errors.As(err, &retrieveErr) && retrieveErr.Response != nil {
			authErr.StatusCode = retrieveErr.Response.StatusCode
		}
		tokenRequestsTotal.WithLabelValues(statusLabel(authErr.StatusCode)).Inc()
		p.logger.Error().
			Err(err).
			Int("status", authErr.StatusCode).
			Msg("Token exchange failed")
		return nil, authErr
	}

	cred := &Credential{
		AccessToken: token.AccessToken,
		TokenType:   token.Type(),
		Expiry:      token.Expiry,
	}
	if !cred.Valid() {
		tokenRequestsTotal.WithLabelValues("invalid").Inc()
		return nil, &AuthenticationError{Err: errors.New("token endpoint returned an unusable token")}
	}

	tokenRequestsTotal.WithLabelValues("ok").Inc()
	p.logger.Debug().
		Time("expiry", cred.Expiry).
		Dur("duration", time.Since(start)).
		Msg("Token acquired")

	return cred, nil
}

func statusLabel(status int) string {
	if status == 0 {
		return "network"
	}
	return strconv.Itoa(status)
}

// Package auth hands out bearer tokens for Helix requests, minting new ones
// through the OAuth2 client-credentials grant when needed.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/Sternrassler/helix-client/pkg/credentials"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
	"golang.org/x/sync/singleflight"
)

// DefaultTokenURL is the Twitch OAuth2 token endpoint.
const DefaultTokenURL = "https://id.twitch.tv/oauth2/token"

// mintTimeout bounds a token request. The request is shared by every caller
// waiting on it, so it does not follow any single caller's cancellation.
const mintTimeout = 30 * time.Second

var tokenMintsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "helix_token_mints_total",
	Help: "Total client-credentials token requests by result",
}, []string{"result"})

// Authority returns valid bearer tokens for one client.
type Authority struct {
	store      *credentials.Store
	clientID   string
	tokenURL   string
	httpClient *http.Client
	logger     zerolog.Logger
	mints      singleflight.Group
}

// NewAuthority creates an authority minting tokens for clientID at tokenURL.
// A nil httpClient falls back to http.DefaultClient; an empty tokenURL to
// DefaultTokenURL.
func NewAuthority(store *credentials.Store, clientID, tokenURL string, httpClient *http.Client, logger zerolog.Logger) *Authority {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if tokenURL == "" {
		tokenURL = DefaultTokenURL
	}
	return &Authority{
		store:      store,
		clientID:   clientID,
		tokenURL:   tokenURL,
		httpClient: httpClient,
		logger:     logger,
	}
}

// Token returns a bearer token.
//
// fromErr is nil on a first request for a token. Otherwise it is the failure
// the caller just received: errors that are not "unauthorized" are returned
// unchanged, as is an unauthorized error when no client secret is known.
// A new token is minted when a secret is known and either nothing is cached
// or the cached token was just rejected. The mint is attempted exactly once.
//
// Concurrent callers share one in-flight mint. Cancelling ctx returns early
// for this caller only; the shared mint keeps running for the others.
func (a *Authority) Token(ctx context.Context, fromErr error) (string, error) {
	if fromErr != nil && !IsUnauthorized(fromErr) {
		return "", fromErr
	}

	var (
		secret string
		scopes []string
	)
	switch c := a.store.Load().(type) {
	case credentials.TokenOnly:
		if fromErr != nil {
			a.logger.Warn().Msg("Token rejected and no client secret available")
			return "", fromErr
		}
		return c.Token, nil
	case credentials.SecretAndToken:
		if fromErr == nil {
			return c.Token, nil
		}
		secret, scopes = c.ClientSecret, c.Scopes
	case credentials.SecretOnly:
		secret, scopes = c.ClientSecret, c.Scopes
	default:
		return "", fmt.Errorf("token: %w", credentials.ErrNoCredentials)
	}

	if err := ctx.Err(); err != nil {
		return "", err
	}

	ch := a.mints.DoChan("mint", func() (any, error) {
		mintCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), mintTimeout)
		defer cancel()
		return a.mint(mintCtx, secret, scopes, fromErr != nil)
	})
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	}
}

func (a *Authority) mint(ctx context.Context, secret string, scopes []string, reauth bool) (string, error) {
	a.logger.Debug().
		Bool("reauth", reauth).
		Strs("scopes", scopes).
		Msg("Requesting client-credentials token")

	cfg := clientcredentials.Config{
		ClientID:     a.clientID,
		ClientSecret: secret,
		TokenURL:     a.tokenURL,
		Scopes:       scopes,
		AuthStyle:    oauth2.AuthStyleInParams,
	}

	tok, err := cfg.Token(context.WithValue(ctx, oauth2.HTTPClient, a.httpClient))
	if err != nil {
		tokenMintsTotal.WithLabelValues("error").Inc()
		terr := newTokenError(err)
		a.logger.Error().
			Err(err).
			Int("status", terr.StatusCode).
			Msg("Token request failed")
		return "", terr
	}

	a.store.SetToken(tok.AccessToken)
	tokenMintsTotal.WithLabelValues("success").Inc()
	a.logger.Info().Bool("reauth", reauth).Msg("Obtained new access token")

	return tok.AccessToken, nil
}

// IsUnauthorized reports whether err, or an error it wraps, says the
// presented token was rejected.
func IsUnauthorized(err error) bool {
	var u interface{ Unauthorized() bool }
	return errors.As(err, &u) && u.Unauthorized()
}

// TokenError is returned when minting a token fails.
type TokenError struct {
	// StatusCode is zero when no response was received.
	StatusCode int
	// Body is the raw response body.
	Body string
	Err  error
}

func newTokenError(err error) *TokenError {
	terr := &TokenError{Err: err}
	var rerr *oauth2.RetrieveError
	if errors.As(err, &rerr) {
		if rerr.Response != nil {
			terr.StatusCode = rerr.Response.StatusCode
		}
		terr.Body = string(rerr.Body)
	}
	return terr
}

// Error implements the error interface.
func (e *TokenError) Error() string {
	switch {
	case e.StatusCode != 0 && e.Body != "":
		return fmt.Sprintf("token request failed (status %d), body:\n\n%s", e.StatusCode, e.Body)
	case e.StatusCode != 0:
		return fmt.Sprintf("token request failed (status %d): %v", e.StatusCode, e.Err)
	default:
		return fmt.Sprintf("token request failed: %v", e.Err)
	}
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *TokenError) Unwrap() error {
	return e.Err
}

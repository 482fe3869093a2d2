package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/Sternrassler/helix-client/pkg/client"
	"github.com/Sternrassler/helix-client/pkg/logging"
	"github.com/Sternrassler/helix-client/pkg/metrics"
	"github.com/Sternrassler/helix-client/pkg/ratelimit"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

const proxyTimeout = 30 * time.Second

func (a *app) proxyCmd() *cobra.Command {
	var port string

	cmd := &cobra.Command{
		Use:   "proxy",
		Short: "Serve the Helix API through this client's token and rate limiter",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if port == "" {
				port = a.cfg.Proxy.Port
			}
			logger := logging.NewLogger(logging.ComponentProxy)
			return serve(cmd.Context(), ":"+port, newProxyMux(a.client, a.redis, logger), logger)
		},
	}

	cmd.Flags().StringVarP(&port, "port", "p", "", "listen port (default from config or PORT)")

	return cmd
}

func newProxyMux(c *client.Client, rdb *redis.Client, logger zerolog.Logger) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", healthHandler)
	mux.HandleFunc("/ready", readyHandler(rdb, c))
	mux.HandleFunc("/ratelimit", rateLimitHandler(c))
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/helix/", helixProxyHandler(c, logger))
	return mux
}

func serve(ctx context.Context, addr string, handler http.Handler, logger zerolog.Logger) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", addr).Msg("Starting Helix proxy server")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	logger.Info().Msg("Shutting down Helix proxy server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, "OK")
}

// readyHandler reports whether Redis, if used, answers and a bearer token
// can be obtained.
func readyHandler(rdb *redis.Client, c *client.Client) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		if rdb != nil {
			if err := rdb.Ping(ctx).Err(); err != nil {
				http.Error(w, fmt.Sprintf("redis: %v", err), http.StatusServiceUnavailable)
				return
			}
		}
		if _, err := c.Token(ctx); err != nil {
			http.Error(w, fmt.Sprintf("token: %v", err), http.StatusServiceUnavailable)
			return
		}

		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, "OK")
	}
}

// rateLimitStaleAfter is the Helix bucket refill window.
const rateLimitStaleAfter = time.Minute

type rateLimitStatus struct {
	ratelimit.RateLimitState
	// Stale is set when no response refreshed the bucket within one refill window.
	Stale bool `json:"stale"`
}

// rateLimitHandler reports the bucket state, shared through Redis if configured.
func rateLimitHandler(c *client.Client) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		state, err := c.SharedRateLimit(r.Context())
		if err != nil {
			http.Error(w, fmt.Sprintf("rate limit state: %v", err), http.StatusServiceUnavailable)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(rateLimitStatus{
			RateLimitState: *state,
			Stale:          state.IsStale(rateLimitStaleAfter),
		})
	}
}

// helixProxyHandler forwards GET /helix/<path>?<query> to the API and writes
// the JSON body back. Helix errors keep their status code.
func helixProxyHandler(c *client.Client, logger zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		// /helix/users -> /users
		path := strings.TrimPrefix(r.URL.Path, "/helix")
		reqLogger, requestID := logging.ForRequest(logger, path)
		w.Header().Set("X-Request-Id", requestID)

		ctx, cancel := context.WithTimeout(r.Context(), proxyTimeout)
		defer cancel()

		var body json.RawMessage
		err := c.GetJSON(ctx, c.URL(path), r.URL.Query(), &body)
		if err != nil {
			var apiErr *client.APIError
			if errors.As(err, &apiErr) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(apiErr.StatusCode)
				w.Write([]byte(apiErr.Body))
				return
			}
			reqLogger.Error().Err(err).Msg("Helix request failed")
			http.Error(w, fmt.Sprintf("helix request failed: %v", err), http.StatusBadGateway)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		if _, err := w.Write(body); err != nil {
			reqLogger.Warn().Err(err).Msg("Failed to write response")
		}
	}
}

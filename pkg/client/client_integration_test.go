//go:build integration

package client

import (
	"context"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Sternrassler/helix-client/internal/testutil"
	"github.com/Sternrassler/helix-client/pkg/credentials"
	"github.com/redis/go-redis/v9"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// setupRedisContainer creates a Redis container for integration testing.
func setupRedisContainer(t *testing.T) (*redis.Client, func()) {
	t.Helper()

	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForLog("Ready to accept connections"),
	}

	redisContainer, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("Failed to start Redis container: %v", err)
	}

	host, err := redisContainer.Host(ctx)
	if err != nil {
		t.Fatalf("Failed to get container host: %v", err)
	}

	port, err := redisContainer.MappedPort(ctx, "6379")
	if err != nil {
		t.Fatalf("Failed to get container port: %v", err)
	}

	client := redis.NewClient(&redis.Options{
		Addr: host + ":" + port.Port(),
	})

	cleanup := func() {
		client.Close()
		redisContainer.Terminate(ctx)
	}

	return client, cleanup
}

func TestIntegration_FullRequestFlow(t *testing.T) {
	redisClient, cleanup := setupRedisContainer(t)
	defer cleanup()

	mock := testutil.NewMockHelix()
	defer mock.Close()
	mock.RequireToken("")
	mock.SetHandler("/users", testutil.NewSequenceHandler(
		testutil.NewServerErrorResponse(),
		testutil.NewHealthyResponse(`{"data":[{"id":"141981764","login":"twitchdev"}]}`),
	))

	c := newTestClient(t, mock, credentials.FromClientSecret("s3cret"), func(cfg *Config) {
		cfg.Redis = redisClient
	})

	users, err := GetData[[]user](context.Background(), c, c.URL("/users"), map[string][]string{"login": {"twitchdev"}})
	if err != nil {
		t.Fatalf("GetData() error = %v", err)
	}
	if len(users) != 1 || users[0].ID != "141981764" {
		t.Errorf("users = %+v", users)
	}

	// token minted once, first API attempt failed with 500 and was retried
	if n := mock.GetTokenRequests(); n != 1 {
		t.Errorf("token requests = %d, want 1", n)
	}
	if n := mock.GetRequestCount(); n != 2 {
		t.Errorf("API requests = %d, want 2", n)
	}

	state, err := c.rateLimiter.GetState(context.Background())
	if err != nil {
		t.Fatalf("GetState() error = %v", err)
	}
	if state.Remaining != 799 {
		t.Errorf("shared Remaining = %d, want 799", state.Remaining)
	}
}

func TestIntegration_CooldownSharedBetweenClients(t *testing.T) {
	redisClient, cleanup := setupRedisContainer(t)
	defer cleanup()

	mock := testutil.NewMockHelix()
	defer mock.Close()

	reset := time.Now().Add(2 * time.Second)
	mock.SetResponse("/streams", testutil.NewRateLimitResponse(reset))

	var usersSentAt atomic.Int64
	mock.SetHandler("/users", func(w http.ResponseWriter, r *http.Request) {
		usersSentAt.Store(time.Now().UnixNano())
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"data":[]}`))
	})

	withRedis := func(cfg *Config) { cfg.Redis = redisClient }
	throttled := newTestClient(t, mock, credentials.FromToken("tok"), withRedis)
	other := newTestClient(t, mock, credentials.FromToken("tok"), withRedis)

	// the throttled client records the cooldown, then gives up on its own call
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	if err := throttled.GetJSON(ctx, throttled.URL("/streams"), nil, nil); err == nil {
		t.Fatal("expected the throttled call to time out while cooling down")
	}

	// Redis keeps millisecond precision
	until := throttled.rateLimiter.BlockedUntil(context.Background()).Truncate(time.Millisecond)
	if until.IsZero() {
		t.Fatal("no cooldown recorded")
	}

	if err := other.GetJSON(context.Background(), other.URL("/users"), nil, nil); err != nil {
		t.Fatalf("GetJSON() error = %v", err)
	}
	if sent := time.Unix(0, usersSentAt.Load()); sent.Before(until) {
		t.Errorf("second client sent at %v, before shared cooldown end %v", sent, until)
	}
}

//go:build integration

package integration

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Sternrassler/helix-client/internal/testutil"
	"github.com/Sternrassler/helix-client/pkg/client"
	"github.com/Sternrassler/helix-client/pkg/credentials"
	"github.com/Sternrassler/helix-client/pkg/helix"
	"github.com/Sternrassler/helix-client/pkg/pagination"
	"github.com/Sternrassler/helix-client/pkg/ratelimit"
	"github.com/redis/go-redis/v9"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// setupRedis creates a Redis container for integration testing.
func setupRedis(t *testing.T) (*redis.Client, func()) {
	t.Helper()

	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForLog("Ready to accept connections"),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("Failed to start Redis container: %v", err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("Failed to get container host: %v", err)
	}

	port, err := container.MappedPort(ctx, "6379")
	if err != nil {
		t.Fatalf("Failed to get container port: %v", err)
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr: host + ":" + port.Port(),
	})

	cleanup := func() {
		redisClient.Close()
		container.Terminate(ctx)
	}

	return redisClient, cleanup
}

func newClient(t *testing.T, mock *testutil.MockHelix, rdb *redis.Client, creds credentials.Credentials) *client.Client {
	t.Helper()

	cfg := client.DefaultConfig("TestApp/1.0.0 (integration@test.com)", "test-client-id", creds)
	cfg.BaseURL = mock.HelixURL()
	cfg.TokenURL = mock.TokenURL()
	cfg.Redis = rdb
	cfg.RetryBackoff = 10 * time.Millisecond

	c, err := client.New(cfg)
	if err != nil {
		t.Fatalf("Failed to create client: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

const streamPage = `[{"id":"%d","user_id":"%d","user_name":"u%d","viewer_count":%d,"type":"live","started_at":"2021-03-10T15:04:21Z"}]`

func streamPages(n int) []string {
	pages := make([]string, n)
	for i := range pages {
		pages[i] = fmt.Sprintf(streamPage, i+1, i+1, i+1, 1000-i)
	}
	return pages
}

// TestFullRequestFlow walks a paginated listing: mint token, fetch pages,
// record rate limit state in Redis.
func TestFullRequestFlow(t *testing.T) {
	redisClient, cleanup := setupRedis(t)
	defer cleanup()

	mock := testutil.NewMockHelix()
	defer mock.Close()
	mock.RequireToken("")
	mock.SetHandler("/streams", testutil.NewPagedHandler(streamPages(3)...))

	c := newClient(t, mock, redisClient, credentials.FromClientSecret("s3cret"))
	ctx := context.Background()

	streams, err := pagination.Collect(ctx, helix.ListStreams(c, helix.StreamFilter{Languages: []string{"en"}}), 0)
	if err != nil {
		t.Fatalf("Collect() error = %v", err)
	}

	if len(streams) != 3 {
		t.Fatalf("streams = %d, want 3", len(streams))
	}
	for i, s := range streams {
		if want := helix.StreamID(fmt.Sprint(i + 1)); s.ID != want {
			t.Errorf("streams[%d].ID = %s, want %s", i, s.ID, want)
		}
	}

	if n := mock.GetTokenRequests(); n != 1 {
		t.Errorf("token requests = %d, want 1", n)
	}
	if n := mock.GetRequestCount(); n != 3 {
		t.Errorf("API requests = %d, want 3", n)
	}

	remaining, err := redisClient.Get(ctx, ratelimit.RedisKeyRemaining).Int()
	if err != nil {
		t.Fatalf("read shared remaining: %v", err)
	}
	if remaining != 799 {
		t.Errorf("shared remaining = %d, want 799", remaining)
	}
}

// TestReauthMidStream replaces a stale token on the second page and keeps
// paginating with the new one.
func TestReauthMidStream(t *testing.T) {
	mock := testutil.NewMockHelix()
	defer mock.Close()
	mock.RequireToken("cached")

	paged := testutil.NewPagedHandler(streamPages(3)...)
	var calls atomic.Int32
	mock.SetHandler("/streams", func(w http.ResponseWriter, r *http.Request) {
		// the cached token is revoked after the first page
		if calls.Add(1) == 1 {
			mock.RequireToken("revoked")
		}
		paged(w, r)
	})

	c := newClient(t, mock, nil, credentials.FromClientSecretAndToken("s3cret", "cached"))

	streams, err := pagination.Collect(context.Background(), helix.ListStreams(c, helix.StreamFilter{}), 0)
	if err != nil {
		t.Fatalf("Collect() error = %v", err)
	}
	if len(streams) != 3 {
		t.Errorf("streams = %d, want 3", len(streams))
	}
	if n := mock.GetTokenRequests(); n != 1 {
		t.Errorf("token requests = %d, want 1", n)
	}

	token, err := c.Token(context.Background())
	if err != nil {
		t.Fatalf("Token() error = %v", err)
	}
	if token != "minted-1" {
		t.Errorf("cached token = %q, want minted-1", token)
	}
}

// TestCooldownDuringPagination throttles the second page and checks that
// every client sharing the Redis instance honours the cooldown.
func TestCooldownDuringPagination(t *testing.T) {
	redisClient, cleanup := setupRedis(t)
	defer cleanup()

	mock := testutil.NewMockHelix()
	defer mock.Close()

	reset := time.Now().Add(2 * time.Second).Truncate(time.Second)
	paged := testutil.NewPagedHandler(streamPages(2)...)

	var (
		mu        sync.Mutex
		throttled bool
		sentAt    []time.Time
	)
	mock.SetHandler("/streams", func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		sentAt = append(sentAt, time.Now())
		first429 := r.URL.Query().Get("after") != "" && !throttled
		if first429 {
			throttled = true
		}
		mu.Unlock()

		if first429 {
			resp := testutil.NewRateLimitResponse(reset)
			for k, v := range resp.Headers {
				w.Header().Set(k, v)
			}
			w.WriteHeader(resp.StatusCode)
			w.Write([]byte(resp.Body))
			return
		}
		paged(w, r)
	})

	var usersSentAt atomic.Int64
	mock.SetHandler("/users", func(w http.ResponseWriter, r *http.Request) {
		usersSentAt.Store(time.Now().UnixNano())
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"data":[]}`))
	})

	walker := newClient(t, mock, redisClient, credentials.FromToken("tok"))
	other := newClient(t, mock, redisClient, credentials.FromToken("tok"))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var (
		wg      sync.WaitGroup
		streams []helix.Stream
		err     error
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		streams, err = pagination.Collect(ctx, helix.ListStreams(walker, helix.StreamFilter{}), 0)
	}()

	// wait until the walker has shared its cooldown
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if n, _ := redisClient.Exists(ctx, ratelimit.RedisKeyBlockedUntil).Result(); n == 1 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	if _, err := helix.Me(ctx, other); err == nil {
		t.Error("Me() on an app token should find no user")
	}
	wg.Wait()

	if err != nil {
		t.Fatalf("Collect() error = %v", err)
	}
	if len(streams) != 2 {
		t.Errorf("streams = %d, want 2", len(streams))
	}

	mu.Lock()
	defer mu.Unlock()
	if len(sentAt) != 3 {
		t.Fatalf("stream requests = %d, want 3", len(sentAt))
	}
	if sentAt[2].Before(reset) {
		t.Errorf("retry sent at %v, before reset %v", sentAt[2], reset)
	}
	if sent := time.Unix(0, usersSentAt.Load()); sent.Before(reset) {
		t.Errorf("other client sent at %v, before shared reset %v", sent, reset)
	}
}

// Package testutil provides testing utilities for the Helix client.
package testutil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"
)

// TokenPath is the path of the mock OAuth2 token endpoint.
const TokenPath = "/oauth2/token"

// HelixPath is the prefix of the mock API endpoints.
const HelixPath = "/helix"

// MockResponse defines the behavior for a mock Helix endpoint response.
type MockResponse struct {
	StatusCode int
	Body       string
	Headers    map[string]string
	Delay      time.Duration
}

// MockHelix is a configurable mock Helix server with a token endpoint.
type MockHelix struct {
	server   *httptest.Server
	mu       sync.RWMutex
	handlers map[string]http.HandlerFunc

	// token checking, off until RequireToken is called
	enforceToken bool
	validToken   string

	tokenResponse *MockResponse

	// Tracking
	RequestCount      int
	TokenRequests     int
	LastRequestHeader http.Header
	LastTokenForm     url.Values
	Queries           []url.Values
}

// NewMockHelix creates a new mock Helix server.
func NewMockHelix() *MockHelix {
	mock := &MockHelix{
		handlers: make(map[string]http.HandlerFunc),
	}

	mock.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == TokenPath {
			mock.tokenHandler(w, r)
			return
		}

		mock.mu.Lock()
		mock.RequestCount++
		mock.LastRequestHeader = r.Header.Clone()
		mock.Queries = append(mock.Queries, r.URL.Query())
		rejected := mock.enforceToken && r.Header.Get("Authorization") != "Bearer "+mock.validToken
		handler, exists := mock.handlers[r.URL.Path]
		mock.mu.Unlock()

		if rejected {
			writeResponse(w, NewUnauthorizedResponse())
			return
		}
		if exists {
			handler(w, r)
			return
		}
		mock.defaultHandler(w, r)
	}))

	return mock
}

// URL returns the mock server URL.
func (m *MockHelix) URL() string {
	return m.server.URL
}

// HelixURL returns the base URL of the mock API.
func (m *MockHelix) HelixURL() string {
	return m.server.URL + HelixPath
}

// TokenURL returns the URL of the mock token endpoint.
func (m *MockHelix) TokenURL() string {
	return m.server.URL + TokenPath
}

// Close shuts down the mock server.
func (m *MockHelix) Close() {
	m.server.Close()
}

// Reset clears all tracking counters.
func (m *MockHelix) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.RequestCount = 0
	m.TokenRequests = 0
	m.LastRequestHeader = nil
	m.LastTokenForm = nil
	m.Queries = nil
}

// RequireToken makes API endpoints answer 401 unless the request presents
// token. Tokens minted afterwards replace it.
func (m *MockHelix) RequireToken(token string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.enforceToken = true
	m.validToken = token
}

// SetTokenResponse makes the token endpoint answer with resp instead of
// minting a token.
func (m *MockHelix) SetTokenResponse(resp MockResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tokenResponse = &resp
}

// SetHandler sets a custom handler for a specific path below HelixPath.
func (m *MockHelix) SetHandler(path string, handler http.HandlerFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[HelixPath+path] = handler
}

// SetRootHandler sets a custom handler for a path outside HelixPath.
func (m *MockHelix) SetRootHandler(path string, handler http.HandlerFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[path] = handler
}

// SetResponse configures a simple response for a path below HelixPath.
func (m *MockHelix) SetResponse(path string, resp MockResponse) {
	m.SetHandler(path, func(w http.ResponseWriter, r *http.Request) {
		writeResponse(w, resp)
	})
}

// GetRequestCount returns the number of API requests made to the server.
func (m *MockHelix) GetRequestCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.RequestCount
}

// GetTokenRequests returns the number of requests to the token endpoint.
func (m *MockHelix) GetTokenRequests() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.TokenRequests
}

// GetLastRequestHeader returns the headers of the last API request.
func (m *MockHelix) GetLastRequestHeader() http.Header {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.LastRequestHeader
}

// GetLastTokenForm returns the parameters of the last token request.
func (m *MockHelix) GetLastTokenForm() url.Values {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.LastTokenForm
}

// GetQueries returns the query of every API request so far.
func (m *MockHelix) GetQueries() []url.Values {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]url.Values(nil), m.Queries...)
}

// tokenHandler implements the client-credentials grant.
func (m *MockHelix) tokenHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if err := r.ParseForm(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	m.mu.Lock()
	m.TokenRequests++
	m.LastTokenForm = r.Form
	n := m.TokenRequests
	override := m.tokenResponse
	m.mu.Unlock()

	if override != nil {
		writeResponse(w, *override)
		return
	}

	if r.Form.Get("grant_type") != "client_credentials" || r.Form.Get("client_id") == "" || r.Form.Get("client_secret") == "" {
		writeResponse(w, MockResponse{
			StatusCode: http.StatusBadRequest,
			Body:       `{"status":400,"message":"invalid client credentials request"}`,
			Headers:    map[string]string{"Content-Type": "application/json"},
		})
		return
	}

	token := fmt.Sprintf("minted-%d", n)
	m.mu.Lock()
	m.validToken = token
	m.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"access_token": token,
		"expires_in":   5011271,
		"token_type":   "bearer",
	})
}

// defaultHandler answers with an empty data page.
func (m *MockHelix) defaultHandler(w http.ResponseWriter, r *http.Request) {
	writeResponse(w, NewHealthyResponse(`{"data":[]}`))
}

func writeResponse(w http.ResponseWriter, resp MockResponse) {
	if resp.Delay > 0 {
		time.Sleep(resp.Delay)
	}
	for key, value := range resp.Headers {
		w.Header().Set(key, value)
	}
	w.WriteHeader(resp.StatusCode)
	if resp.Body != "" {
		w.Write([]byte(resp.Body))
	}
}

// RateLimitHeaders returns Helix rate limit headers for a bucket.
func RateLimitHeaders(remaining int, reset time.Time) map[string]string {
	return map[string]string{
		"Ratelimit-Limit":     "800",
		"Ratelimit-Remaining": strconv.Itoa(remaining),
		"Ratelimit-Reset":     strconv.FormatInt(reset.Unix(), 10),
	}
}

func withJSON(headers map[string]string) map[string]string {
	headers["Content-Type"] = "application/json; charset=utf-8"
	return headers
}

// NewHealthyResponse creates a standard 200 OK response with rate limit headers.
func NewHealthyResponse(data string) MockResponse {
	return MockResponse{
		StatusCode: http.StatusOK,
		Body:       data,
		Headers:    withJSON(RateLimitHeaders(799, time.Now().Add(time.Minute))),
	}
}

// NewRateLimitResponse creates a 429 Too Many Requests response whose
// bucket refills at reset.
func NewRateLimitResponse(reset time.Time) MockResponse {
	return MockResponse{
		StatusCode: http.StatusTooManyRequests,
		Body:       `{"error":"Too Many Requests","status":429,"message":"Too Many Requests"}`,
		Headers:    withJSON(RateLimitHeaders(0, reset)),
	}
}

// NewServerErrorResponse creates a 500 Internal Server Error response.
func NewServerErrorResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusInternalServerError,
		Body:       `{"error":"Internal Server Error","status":500,"message":""}`,
		Headers:    withJSON(RateLimitHeaders(798, time.Now().Add(time.Minute))),
	}
}

// NewUnauthorizedResponse creates the 401 Helix sends for a rejected token.
func NewUnauthorizedResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusUnauthorized,
		Body:       `{"error":"Unauthorized","status":401,"message":"Invalid OAuth token"}`,
		Headers:    withJSON(map[string]string{}),
	}
}

// NewClientErrorResponse creates a 4xx response with a Helix error body.
func NewClientErrorResponse(status int, message string) MockResponse {
	return MockResponse{
		StatusCode: status,
		Body: fmt.Sprintf(`{"error":%q,"status":%d,"message":%q}`,
			http.StatusText(status), status, message),
		Headers: withJSON(RateLimitHeaders(797, time.Now().Add(time.Minute))),
	}
}

// NewSequenceHandler answers with responses in order, repeating the last one.
func NewSequenceHandler(responses ...MockResponse) http.HandlerFunc {
	var (
		mu sync.Mutex
		i  int
	)
	return func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		resp := responses[min(i, len(responses)-1)]
		i++
		mu.Unlock()
		writeResponse(w, resp)
	}
}

// NewPagedHandler serves data pages by cursor. pages[0] is the first page;
// page i carries cursor "page-<i+1>" unless it is the last one.
func NewPagedHandler(pages ...string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		i := 0
		if after := r.URL.Query().Get("after"); after != "" {
			n, err := strconv.Atoi(strings.TrimPrefix(after, "page-"))
			if err != nil || n <= 0 || n >= len(pages) {
				writeResponse(w, NewClientErrorResponse(http.StatusBadRequest, "invalid cursor"))
				return
			}
			i = n
		}

		pagination := `{}`
		if i < len(pages)-1 {
			pagination = fmt.Sprintf(`{"cursor":"page-%d"}`, i+1)
		}
		writeResponse(w, NewHealthyResponse(fmt.Sprintf(`{"data":%s,"pagination":%s}`, pages[i], pagination)))
	}
}

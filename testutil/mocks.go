package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
)

// MockTokenServer mocks Google's OAuth token endpoint for refresh_token grants.
type MockTokenServer struct {
	*httptest.Server

	mu           sync.Mutex
	accessToken  string
	refreshToken string // returned as a rotated token when set
	expiresIn    int
	status       int
	lastRefresh  string
	calls        atomic.Int32
}

// NewMockTokenServer returns a token endpoint that issues accessToken for expiresIn seconds.
func NewMockTokenServer(t *testing.T, accessToken string, expiresIn int) *MockTokenServer {
	t.Helper()
	m := &MockTokenServer{accessToken: accessToken, expiresIn: expiresIn, status: http.StatusOK}
	m.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m.calls.Add(1)
		_ = r.ParseForm()
		m.mu.Lock()
		m.lastRefresh = r.PostForm.Get("refresh_token")
		status, at, rt, exp := m.status, m.accessToken, m.refreshToken, m.expiresIn
		m.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		if status != http.StatusOK {
			w.WriteHeader(status)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": "invalid_grant", "error_description": "Token has been expired or revoked."}) //nolint:errcheck // test mock response
			return
		}
		resp := map[string]interface{}{
			"access_token": at,
			"expires_in":   exp,
			"token_type":   "Bearer",
		}
		if rt != "" {
			resp["refresh_token"] = rt
		}
		_ = json.NewEncoder(w).Encode(resp) //nolint:errcheck // test mock response
	}))
	t.Cleanup(m.Close)
	return m
}

// TokenURL is the endpoint to configure as GOOGLE_TOKEN_URL.
func (m *MockTokenServer) TokenURL() string { return m.URL + "/token" }

// Fail makes subsequent requests answer with status.
func (m *MockTokenServer) Fail(status int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.status = status
}

// Rotate makes subsequent responses carry a new refresh token.
func (m *MockTokenServer) Rotate(refreshToken string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.refreshToken = refreshToken
}

// Calls returns how many token requests were served.
func (m *MockTokenServer) Calls() int { return int(m.calls.Load()) }

// LastRefreshToken returns the refresh_token form value of the last request.
func (m *MockTokenServer) LastRefreshToken() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastRefresh
}

// MockYouTubeServer creates a test server that mocks YouTube Data API v3 responses.
type MockYouTubeServer struct {
	*httptest.Server
	Handlers map[string]http.HandlerFunc

	mu         sync.Mutex
	authHeader string
	pageTokens []string
	counts     map[string]int
}

// NewMockYouTubeServer creates a new mock YouTube API server. Point the client at URL+"/".
func NewMockYouTubeServer(t *testing.T) *MockYouTubeServer {
	t.Helper()
	m := &MockYouTubeServer{
		Handlers: make(map[string]http.HandlerFunc),
		counts:   make(map[string]int),
	}
	m.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := strings.TrimPrefix(r.URL.Path, "/youtube/v3")
		m.mu.Lock()
		m.authHeader = r.Header.Get("Authorization")
		m.counts[key]++
		if key == "/liveChat/messages" {
			m.pageTokens = append(m.pageTokens, r.URL.Query().Get("pageToken"))
		}
		handler, ok := m.Handlers[key]
		m.mu.Unlock()
		if ok {
			handler(w, r)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	t.Cleanup(m.Close)
	return m
}

// Endpoint is the base URL to hand to youtubeapi.
func (m *MockYouTubeServer) Endpoint() string { return m.URL + "/" }

// AuthHeader returns the Authorization header of the last request.
func (m *MockYouTubeServer) AuthHeader() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.authHeader
}

// Count returns how many requests hit path (e.g. "/liveBroadcasts").
func (m *MockYouTubeServer) Count(path string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counts[path]
}

// PageTokens returns the pageToken query values seen by the messages endpoint, in order.
func (m *MockYouTubeServer) PageTokens() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.pageTokens...)
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v) //nolint:errcheck // test mock response
}

// Broadcast builds a liveBroadcast resource.
func Broadcast(id, channelID, liveChatID string) map[string]interface{} {
	return map[string]interface{}{
		"id": id,
		"snippet": map[string]interface{}{
			"channelId":  channelID,
			"liveChatId": liveChatID,
			"title":      "stream " + id,
		},
	}
}

// ChatMessage builds a liveChatMessage resource; giftCount > 0 adds membershipGiftingDetails.
func ChatMessage(id, author, text string, giftCount int) map[string]interface{} {
	snippet := map[string]interface{}{
		"displayMessage": text,
		"type":           "textMessageEvent",
	}
	if giftCount > 0 {
		snippet["type"] = "membershipGiftingEvent"
		snippet["membershipGiftingDetails"] = map[string]interface{}{
			"giftMembershipsCount": giftCount,
		}
	}
	return map[string]interface{}{
		"id":            id,
		"snippet":       snippet,
		"authorDetails": map[string]interface{}{"displayName": author},
	}
}

// MockActiveBroadcasts adds a handler for liveBroadcasts.list.
func (m *MockYouTubeServer) MockActiveBroadcasts(items ...map[string]interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Handlers["/liveBroadcasts"] = func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]interface{}{"items": items})
	}
}

// ChatPage is one liveChatMessages.list response.
type ChatPage struct {
	Items                 []map[string]interface{}
	NextPageToken         string
	PollingIntervalMillis int
}

// MockChatPages serves pages in order, repeating the last one once exhausted.
func (m *MockYouTubeServer) MockChatPages(pages ...ChatPage) {
	var idx atomic.Int32
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Handlers["/liveChat/messages"] = func(w http.ResponseWriter, r *http.Request) {
		i := int(idx.Add(1)) - 1
		if i >= len(pages) {
			i = len(pages) - 1
		}
		p := pages[i]
		resp := map[string]interface{}{"items": p.Items}
		if p.NextPageToken != "" {
			resp["nextPageToken"] = p.NextPageToken
		}
		if p.PollingIntervalMillis > 0 {
			resp["pollingIntervalMillis"] = p.PollingIntervalMillis
		}
		writeJSON(w, resp)
	}
}

// MockError answers path with a Google API error carrying reason.
func (m *MockYouTubeServer) MockError(path string, status int, reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Handlers[path] = func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(map[string]interface{}{ //nolint:errcheck // test mock response
			"error": map[string]interface{}{
				"code":    status,
				"message": reason,
				"errors":  []map[string]string{{"reason": reason, "message": reason}},
			},
		})
	}
}

// MockChannels adds a handler for channels.list (mine=true).
func (m *MockYouTubeServer) MockChannels(channels map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Handlers["/channels"] = func(w http.ResponseWriter, r *http.Request) {
		items := []map[string]interface{}{}
		for id, title := range channels {
			items = append(items, map[string]interface{}{
				"id":      id,
				"snippet": map[string]interface{}{"title": title},
			})
		}
		writeJSON(w, map[string]interface{}{"items": items})
	}
}

package relay

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nomorepassword/bclient/internal/domain/model"
	"github.com/nomorepassword/bclient/internal/domain/port/driven"
)

func serverAddr(t *testing.T, srv *httptest.Server) model.NodeAddress {
	t.Helper()
	host, port, err := net.SplitHostPort(srv.Listener.Addr().String())
	require.NoError(t, err)
	p, err := strconv.Atoi(port)
	require.NoError(t, err)
	return model.NodeAddress{IPAddress: host, Port: p}
}

func TestSessionRelay_PushSession(t *testing.T) {
	var got driven.CookiePush
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/cookie", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)

	relay := NewSessionRelay(2*time.Second, nil)
	push := driven.CookiePush{
		UserID:   "u-1",
		Username: "alice",
		CompleteSessionData: model.SessionPayload{
			Version: model.SessionPayloadVersion, SessionData: "session=abc", Username: "traveller1",
		},
		NSNURL:  "http://localhost:5000",
		NSNPort: 5000,
	}

	require.NoError(t, relay.PushSession(context.Background(), serverAddr(t, srv), push))
	assert.Equal(t, "u-1", got.UserID)
	assert.Equal(t, "traveller1", got.CompleteSessionData.Username)
	assert.Equal(t, 5000, got.NSNPort)
}

func TestSessionRelay_PushLogout(t *testing.T) {
	var got map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/logout", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
	}))
	t.Cleanup(srv.Close)

	relay := NewSessionRelay(2*time.Second, nil)
	require.NoError(t, relay.PushLogout(context.Background(), serverAddr(t, srv), "u-1", "alice"))
	assert.Equal(t, map[string]string{"user_id": "u-1", "username": "alice"}, got)
}

func TestSessionRelay_RetriesOnceThenFails(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	t.Cleanup(srv.Close)

	relay := NewSessionRelay(2*time.Second, nil)
	err := relay.PushLogout(context.Background(), serverAddr(t, srv), "u-1", "alice")

	require.Error(t, err)
	assert.Equal(t, int32(2), calls.Load())
}

func TestSessionRelay_ClientErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "nope", http.StatusBadRequest)
	}))
	t.Cleanup(srv.Close)

	relay := NewSessionRelay(2*time.Second, nil)
	err := relay.PushLogout(context.Background(), serverAddr(t, srv), "u-1", "alice")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 400")
	assert.Equal(t, int32(1), calls.Load())
}

func TestSessionRelay_Unreachable(t *testing.T) {
	relay := NewSessionRelay(200*time.Millisecond, nil)
	err := relay.PushLogout(context.Background(), model.NodeAddress{IPAddress: "127.0.0.1", Port: 1}, "u-1", "alice")
	assert.Error(t, err)
}

func TestPeerForwarder_SetsForwardedFlag(t *testing.T) {
	var got driven.NodeRegistration
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/nodes/register", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
	}))
	t.Cleanup(srv.Close)

	fwd := NewPeerForwarder(2*time.Second, nil)
	reg := driven.NodeRegistration{
		Level: model.LevelDomain, Scope: model.Scope{DomainID: "d1"}, NodeID: "n2", IPAddress: "10.0.0.2", Port: 4002,
	}

	require.NoError(t, fwd.ForwardRegistration(context.Background(), serverAddr(t, srv), reg))
	assert.True(t, got.Forwarded)
	assert.Equal(t, "n2", got.NodeID)
	assert.Equal(t, "d1", got.Scope.DomainID)
}

func TestAddressCache_Expiry(t *testing.T) {
	cache := NewAddressCache(5*time.Minute, 10)
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	cache.now = func() time.Time { return now }

	addr := model.NodeAddress{IPAddress: "127.0.0.1", Port: 4001}
	cache.Put("u-1", addr)

	got, ok := cache.Get("u-1")
	require.True(t, ok)
	assert.Equal(t, addr, got)

	now = now.Add(4 * time.Minute)
	_, ok = cache.Get("u-1")
	assert.True(t, ok)

	now = now.Add(time.Minute)
	_, ok = cache.Get("u-1")
	assert.False(t, ok)
	assert.Zero(t, cache.Len())
}

func TestAddressCache_IgnoresZeroAddress(t *testing.T) {
	cache := NewAddressCache(time.Minute, 10)
	cache.Put("u-1", model.NodeAddress{})

	_, ok := cache.Get("u-1")
	assert.False(t, ok)
}

func TestAddressCache_Bounded(t *testing.T) {
	cache := NewAddressCache(time.Hour, 2)
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	cache.now = func() time.Time { return now }

	cache.Put("u-1", model.NodeAddress{IPAddress: "10.0.0.1", Port: 1})
	now = now.Add(time.Second)
	cache.Put("u-2", model.NodeAddress{IPAddress: "10.0.0.2", Port: 2})
	now = now.Add(time.Second)
	cache.Put("u-3", model.NodeAddress{IPAddress: "10.0.0.3", Port: 3})

	assert.Equal(t, 2, cache.Len())
	_, ok := cache.Get("u-1")
	assert.False(t, ok, "oldest entry should be evicted")
	_, ok = cache.Get("u-3")
	assert.True(t, ok)
}

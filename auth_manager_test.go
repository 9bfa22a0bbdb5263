package proxyfleet

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestAuthManagerResolveHydratesSiblings(t *testing.T) {
	store := newFakeStore()
	store.stocks = []StockRow{
		{Address: "203.0.113.10", UsedInOrder: "order-1"},
		{Address: "203.0.113.5", UsedInOrder: "order-1"},
		{Address: "203.0.113.20", UsedInOrder: "order-1"},
	}
	store.orders["order-1"] = Order{
		ID:          "order-1",
		ProductSlug: "isp",
		ExpiresAt:   time.Now().Add(time.Hour),
		Proxy: ProxyDescriptor{
			UseCredentials: true,
			Username:       []string{"u0", "u1", "u2"},
			Password:       []string{"p0", "p1", "p2"},
		},
	}

	cache := NewAuthCache(0, time.Hour)
	mgr := NewAuthManager(cache, store)

	entry, err := mgr.Resolve(context.Background(), "203.0.113.10")
	require.NoError(t, err)
	require.NotNil(t, entry)
	// siblings sorted ascending by address: .5 -> index 0, .10 -> index 1, .20 -> index 2
	require.Equal(t, "u1", entry.Username)
	require.Equal(t, "p1", entry.Password)

	// every sibling should now be cached too
	require.NotNil(t, cache.Get("203.0.113.5"))
	require.NotNil(t, cache.Get("203.0.113.20"))
}

func TestAuthManagerResolveCacheHit(t *testing.T) {
	cache := NewAuthCache(0, time.Hour)
	cache.InsertEntry("203.0.113.1", &CacheEntry{Username: "cached", Expiration: time.Now().Add(time.Hour)})

	store := newFakeStore() // never consulted on a hit
	mgr := NewAuthManager(cache, store)

	entry, err := mgr.Resolve(context.Background(), "203.0.113.1")
	require.NoError(t, err)
	require.Equal(t, "cached", entry.Username)
}

func TestAuthManagerResolveMissNeverCaches(t *testing.T) {
	store := newFakeStore()
	cache := NewAuthCache(0, time.Hour)
	mgr := NewAuthManager(cache, store)

	entry, err := mgr.Resolve(context.Background(), "203.0.113.99")
	require.NoError(t, err)
	require.Nil(t, entry)
	require.Equal(t, 0, cache.Size())
}

func TestAuthManagerSingleCredentialPair(t *testing.T) {
	store := newFakeStore()
	store.stocks = []StockRow{
		{Address: "203.0.113.1", UsedInOrder: "order-1"},
		{Address: "203.0.113.2", UsedInOrder: "order-1"},
	}
	store.orders["order-1"] = Order{
		ID:          "order-1",
		ProductSlug: "isp",
		ExpiresAt:   time.Now().Add(time.Hour),
		Proxy: ProxyDescriptor{
			UseCredentials: true,
			Username:       []string{"shared"},
			Password:       []string{"secret"},
		},
	}
	cache := NewAuthCache(0, time.Hour)
	mgr := NewAuthManager(cache, store)

	e1, err := mgr.Resolve(context.Background(), "203.0.113.1")
	require.NoError(t, err)
	e2, err := mgr.Resolve(context.Background(), "203.0.113.2")
	require.NoError(t, err)
	require.Equal(t, "shared", e1.Username)
	require.Equal(t, "shared", e2.Username)
}

func TestCheckCredentials(t *testing.T) {
	entry := &CacheEntry{UseCredentials: true, Username: "u", Password: "p", Expiration: time.Now().Add(time.Hour)}
	require.True(t, CheckCredentials(entry, "u", "p"))
	require.False(t, CheckCredentials(entry, "u", "wrong"))
	require.False(t, CheckCredentials(entry, "wrong", "p"))

	expired := &CacheEntry{UseCredentials: true, Username: "u", Password: "p", Expiration: time.Now().Add(-time.Minute)}
	require.False(t, CheckCredentials(expired, "u", "p"))
}

func TestCheckWhitelist(t *testing.T) {
	entry := &CacheEntry{Whitelist: []string{"198.51.100.1"}, Expiration: time.Now().Add(time.Hour)}
	allowed := &stubAddr{s: "198.51.100.1:55555"}
	denied := &stubAddr{s: "198.51.100.2:55555"}
	require.True(t, CheckWhitelist(entry, allowed))
	require.False(t, CheckWhitelist(entry, denied))
}

type stubAddr struct{ s string }

func (a *stubAddr) Network() string { return "tcp" }
func (a *stubAddr) String() string  { return a.s }

package proxyfleet

import (
	"context"
	"net"
	"time"
)

// AuthManager is the read-through auth lookup in front of the Store. On a
// cache miss it walks stock -> order -> siblings and primes the cache for
// every sibling, returning the entry for the caller's listen IP.
type AuthManager struct {
	cache *AuthCache
	store Store
}

func NewAuthManager(cache *AuthCache, store Store) *AuthManager {
	return &AuthManager{cache: cache, store: store}
}

// Resolve returns the cache entry for listenIP, hydrating the cache from the
// store on a miss. A nil, nil result means "no such tenant"; it is never
// cached as a negative.
func (m *AuthManager) Resolve(ctx context.Context, listenIP string) (*CacheEntry, error) {
	if entry := m.cache.Get(listenIP); entry != nil {
		return entry, nil
	}

	stock, err := m.store.FindStockByAddress(ctx, listenIP)
	if err != nil {
		Log.WithField("listen_ip", listenIP).WithError(err).Debug("auth manager: stock lookup miss")
		return nil, nil
	}
	if stock.UsedInOrder == "" {
		return nil, nil
	}
	order, err := m.store.FindOrderByID(ctx, stock.UsedInOrder)
	if err != nil {
		Log.WithField("order_id", stock.UsedInOrder).WithError(err).Debug("auth manager: order lookup miss")
		return nil, nil
	}
	siblings, err := m.store.FindSiblingStocks(ctx, order.ID)
	if err != nil {
		Log.WithField("order_id", order.ID).WithError(err).Warn("auth manager: sibling lookup failed")
		return nil, nil
	}

	multi := order.Proxy.MultiCredentials()
	var result *CacheEntry
	for i, sibling := range siblings {
		position := 0
		if multi {
			position = i
		}
		entry := newCacheEntry(order, position)
		m.cache.InsertEntry(sibling.Address, entry)
		if sibling.Address == listenIP {
			result = entry
		}
	}
	return result, nil
}

// CheckCredentials validates a Basic-auth username/password pair against a
// credential-mode cache entry.
func CheckCredentials(entry *CacheEntry, username, password string) bool {
	if entry == nil || !entry.UseCredentials {
		return false
	}
	if !entry.Valid(time.Now()) {
		return false
	}
	return entry.Username == username && entry.Password == password
}

// CheckWhitelist validates a client address against a whitelist-mode cache
// entry.
func CheckWhitelist(entry *CacheEntry, clientAddr net.Addr) bool {
	if entry == nil || entry.UseCredentials {
		return false
	}
	if !entry.Valid(time.Now()) {
		return false
	}
	ip := hostIP(clientAddr)
	if ip == "" {
		return false
	}
	for _, w := range entry.Whitelist {
		if w == ip {
			return true
		}
	}
	return false
}

func hostIP(addr net.Addr) string {
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		return addr.String()
	}
	return host
}

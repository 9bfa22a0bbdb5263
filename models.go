package proxyfleet

import "time"

// ProxyDescriptor is the embedded descriptor on an Order that governs every
// sibling proxy belonging to that order.
type ProxyDescriptor struct {
	UseCredentials bool     `bson:"use_credentials"`
	Username       []string `bson:"username"`
	Password       []string `bson:"password"`
	Whitelist      []string `bson:"whitelist"`
	Count          int      `bson:"count"`
}

// MultiCredentials reports whether this order assigns each sibling its own
// credential pair, rather than sharing a single pair across all siblings.
func (p ProxyDescriptor) MultiCredentials() bool {
	return len(p.Username) != 1 && len(p.Password) != 1
}

// credentialAt returns the (username, password) pair a sibling at the given
// enumeration index should use: the single pair at position 0 when
// credentials aren't multi, else the pair at position i.
func (p ProxyDescriptor) credentialAt(i int) (string, string) {
	if !p.MultiCredentials() {
		return at(p.Username, 0), at(p.Password, 0)
	}
	return at(p.Username, i), at(p.Password, i)
}

func at(s []string, i int) string {
	if i < 0 || i >= len(s) {
		return ""
	}
	return s[i]
}

// Order is the external, read-only record this fleet authenticates against.
// Only orders with ProductSlug == "isp" participate in cache reconciliation.
type Order struct {
	ID          string          `bson:"_id"`
	Owner       string          `bson:"owner"`
	ProductSlug string          `bson:"product_slug"`
	Proxy       ProxyDescriptor `bson:"proxy"`
	ExpiresAt   time.Time       `bson:"expires_at"`
}

// StockRow is an external public IP record, optionally leased to an Order.
type StockRow struct {
	Address      string     `bson:"address"`
	Subnet       string     `bson:"subnet"`
	UsedInOrder  string     `bson:"used_in_order"`
	UsedUntil    *time.Time `bson:"used_until"`
}

// CacheEntry is the authoritative in-memory authorization record for a
// single listen IP, materialized from an Order's ProxyDescriptor at a
// sibling's enumeration position.
type CacheEntry struct {
	UseCredentials bool
	Username       string
	Password       string
	Whitelist      []string
	Expiration     time.Time
}

// Valid reports whether the entry's expiration is still in the future.
func (e *CacheEntry) Valid(now time.Time) bool {
	return e != nil && e.Expiration.After(now)
}

// newCacheEntry materializes a cache entry from an order at a sibling's
// enumeration index.
func newCacheEntry(order Order, position int) *CacheEntry {
	user, pass := order.Proxy.credentialAt(position)
	return &CacheEntry{
		UseCredentials: order.Proxy.UseCredentials,
		Username:       user,
		Password:       pass,
		Whitelist:      order.Proxy.Whitelist,
		Expiration:     order.ExpiresAt,
	}
}

package proxyfleet

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMultiCredentials(t *testing.T) {
	single := ProxyDescriptor{Username: []string{"u"}, Password: []string{"p"}}
	require.False(t, single.MultiCredentials())

	multi := ProxyDescriptor{Username: []string{"u0", "u1"}, Password: []string{"p0", "p1"}}
	require.True(t, multi.MultiCredentials())

	mixedLengths := ProxyDescriptor{Username: []string{"u0", "u1"}, Password: []string{"p0"}}
	require.False(t, mixedLengths.MultiCredentials())
}

func TestCredentialAt(t *testing.T) {
	single := ProxyDescriptor{Username: []string{"u"}, Password: []string{"p"}}
	user, pass := single.credentialAt(3)
	require.Equal(t, "u", user)
	require.Equal(t, "p", pass)

	multi := ProxyDescriptor{Username: []string{"u0", "u1", "u2"}, Password: []string{"p0", "p1", "p2"}}
	user, pass = multi.credentialAt(1)
	require.Equal(t, "u1", user)
	require.Equal(t, "p1", pass)
}

func TestNewCacheEntry(t *testing.T) {
	order := Order{
		Proxy: ProxyDescriptor{UseCredentials: true, Username: []string{"u0", "u1"}, Password: []string{"p0", "p1"}, Whitelist: []string{"198.51.100.1"}},
	}
	entry := newCacheEntry(order, 1)
	require.True(t, entry.UseCredentials)
	require.Equal(t, "u1", entry.Username)
	require.Equal(t, "p1", entry.Password)
	require.Equal(t, []string{"198.51.100.1"}, entry.Whitelist)
}

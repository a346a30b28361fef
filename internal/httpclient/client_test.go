package httpclient

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veridia/parley/errors"
)

func TestValidateURLBlocksPrivateIPs(t *testing.T) {
	c := New(5*time.Second, Options{})

	for _, target := range []string{
		"http://10.0.0.8/feed.m3u",
		"http://172.16.4.2/feed.m3u",
		"http://192.168.1.1/feed.m3u",
		"http://127.0.0.1/feed.m3u",
		"http://169.254.169.254/latest/meta-data/",
	} {
		_, err := c.ValidateURL(target)
		require.Error(t, err, target)
		assert.True(t, errors.IsSecurityViolation(err), "%s should be a security violation", target)
	}
}

func TestValidateURLBlocksLocalhostVariants(t *testing.T) {
	c := New(5*time.Second, Options{})

	for _, target := range []string{
		"http://localhost/feed.m3u",
		"http://localhost.localdomain/feed.m3u",
		"http://feeds.localhost/feed.m3u",
	} {
		_, err := c.ValidateURL(target)
		assert.True(t, errors.IsSecurityViolation(err), target)
	}
}

func TestValidateURLBlocksDisallowedSchemes(t *testing.T) {
	c := New(5*time.Second, Options{})

	for _, target := range []string{
		"file:///etc/passwd",
		"gopher://example.com/",
		"ftp://example.com/feed.m3u",
	} {
		_, err := c.ValidateURL(target)
		assert.True(t, errors.IsSecurityViolation(err), target)
	}
}

func TestValidateURLBlocksCredentialInjection(t *testing.T) {
	c := New(5*time.Second, Options{})

	_, err := c.ValidateURL("http://evil.com@localhost/feed.m3u")
	assert.True(t, errors.IsSecurityViolation(err))
}

func TestValidateURLAllowsPublicHosts(t *testing.T) {
	c := New(5*time.Second, Options{})

	u, err := c.ValidateURL("https://feeds.example.com/dialogues.m3u")
	require.NoError(t, err)
	assert.Equal(t, "feeds.example.com", u.Hostname())
}

func TestHostAllowList(t *testing.T) {
	c := New(5*time.Second, Options{
		AllowedHosts: []string{"feeds.example.com", ".partner.example.org"},
	})

	_, err := c.ValidateURL("https://feeds.example.com/a.m3u")
	assert.NoError(t, err)

	_, err = c.ValidateURL("https://cdn.partner.example.org/b.m3u")
	assert.NoError(t, err)

	_, err = c.ValidateURL("https://attacker.example.net/c.m3u")
	require.Error(t, err)
	assert.True(t, errors.IsSecurityViolation(err))
}

func TestIsPrivateIPv6(t *testing.T) {
	for _, s := range []string{"::1", "fe80::1", "fc00::1", "fd12:3456::1", "ff02::1", "2001:db8::1"} {
		ip := net.ParseIP(s)
		require.NotNil(t, ip, s)
		assert.True(t, isPrivateIP(ip), s)
	}

	public := net.ParseIP("2606:4700::6810:84e5")
	require.NotNil(t, public)
	assert.False(t, isPrivateIP(public))
}

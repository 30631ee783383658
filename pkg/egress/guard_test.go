package egress

import (
	"context"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avivsinai/telclaude-sub003/pkg/audit"
)

func TestMetadataAddressesAlwaysBlocked(t *testing.T) {
	blocked := []string{"169.254.169.254", "169.254.170.2", "100.100.100.200", "169.254.1.1", "fe80::1"}
	for _, addr := range blocked {
		ip := net.ParseIP(addr)
		require.NotNil(t, ip, addr)
		assert.True(t, isBlockedAddr(ip), addr)
	}
}

func TestMetadataHostnameBlocked(t *testing.T) {
	assert.True(t, isBlockedHost("metadata.google.internal"))
	assert.False(t, isBlockedHost("example.com"))
}

func TestAllowlistHostAndPort(t *testing.T) {
	al, err := NewAllowlist([]PrivateEndpoint{
		{Label: "test", Host: "192.168.1.100", Ports: []int{8123}},
	})
	require.NoError(t, err)

	assert.True(t, al.MatchAddr("192.168.1.100", net.ParseIP("192.168.1.100"), 8123))
	assert.False(t, al.MatchAddr("192.168.1.100", net.ParseIP("192.168.1.100"), 22))
	assert.False(t, al.MatchAddr("192.168.1.101", net.ParseIP("192.168.1.101"), 8123))
}

func TestAllowlistCIDR(t *testing.T) {
	al, err := NewAllowlist([]PrivateEndpoint{
		{Label: "subnet", CIDR: "10.0.0.0/8"},
	})
	require.NoError(t, err)

	assert.True(t, al.MatchAddr("host", net.ParseIP("10.1.2.3"), 443))
	assert.False(t, al.MatchAddr("host", net.ParseIP("11.1.2.3"), 443))
}

func TestEmptyAllowlistPermitsAll(t *testing.T) {
	al, err := NewAllowlist(nil)
	require.NoError(t, err)
	assert.True(t, al.Empty())
	assert.True(t, al.MatchAddr("anything", net.ParseIP("8.8.8.8"), 1))
}

func TestMetadataBlockIsRecordedToAuditor(t *testing.T) {
	mem := audit.NewMemoryLog()
	g := NewGuard(nil)
	g.Auditor = mem

	_, _, release, err := g.Fetch(context.Background(), "http://metadata.google.internal/", FetchOptions{
		AuditActor: "agent:tier:readonly",
	})
	defer release()

	var gerr *GuardError
	require.ErrorAs(t, err, &gerr)
	assert.Equal(t, ErrMetadataBlocked, gerr.Code)

	entries, err := mem.Entries()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "agent:tier:readonly", entries[0].Actor)
	assert.Equal(t, "egress.blocked", entries[0].Action)
	assert.Equal(t, string(ErrMetadataBlocked), entries[0].Payload["code"])
	require.NoError(t, audit.VerifyChain(entries))
}

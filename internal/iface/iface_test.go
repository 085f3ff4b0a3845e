package iface

import (
	"net"
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NodePath81/fbspeed/internal/result"
)

func addrs(s ...string) []netip.Addr {
	out := make([]netip.Addr, 0, len(s))
	for _, a := range s {
		out = append(out, netip.MustParseAddr(a))
	}
	return out
}

func TestPreferAddress(t *testing.T) {
	tests := []struct {
		name  string
		addrs []netip.Addr
		want  string
	}{
		{"global v4 first", addrs("fe80::1", "2001:db8::5", "198.51.100.7"), "198.51.100.7"},
		{"global v6 over loopback v4", addrs("127.0.0.1", "2001:db8::5"), "2001:db8::5"},
		{"loopback v4", addrs("::1", "127.0.0.1"), "127.0.0.1"},
		{"loopback v6", addrs("fe80::1", "::1"), "::1"},
		{"mapped v4", addrs("::ffff:192.0.2.1"), "192.0.2.1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := preferAddress(tt.addrs)
			require.True(t, ok)
			assert.Equal(t, tt.want, got.String())
		})
	}

	_, ok := preferAddress(addrs("fe80::1"))
	assert.False(t, ok)
	_, ok = preferAddress(nil)
	assert.False(t, ok)
}

func TestPickDefault(t *testing.T) {
	lo := Interface{Name: "lo", Address: "127.0.0.1", Up: true, Loopback: true}
	down := Interface{Name: "eth1", Address: "192.0.2.2"}
	eth := Interface{Name: "eth0", Address: "192.0.2.1", Up: true}

	got, err := pickDefault([]Interface{down, lo, eth})
	require.NoError(t, err)
	assert.Equal(t, "eth0", got.Name)

	_, err = pickDefault([]Interface{lo, down})
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = pickDefault([]Interface{down})
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, err, result.ErrConfig)
}

func TestResolveUnknownInterface(t *testing.T) {
	_, err := Resolve("fbspeed-none0")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, err, result.ErrConfig)
}

func TestResolveLoopback(t *testing.T) {
	ifcs, err := net.Interfaces()
	require.NoError(t, err)
	var name string
	for _, ifc := range ifcs {
		if ifc.Flags&net.FlagLoopback != 0 && ifc.Flags&net.FlagUp != 0 {
			name = ifc.Name
			break
		}
	}
	if name == "" {
		t.Skip("no loopback interface")
	}
	addr, err := Resolve(name)
	require.NoError(t, err)
	ip := netip.MustParseAddr(addr)
	assert.True(t, ip.IsLoopback(), addr)
}

// Package iface maps local interface names to the address a test binds to.
package iface

import (
	"errors"
	"fmt"
	"net/netip"
	"sort"

	"github.com/NodePath81/fbspeed/internal/result"
)

var ErrNotFound = errors.New("interface not found")

// Interface is one local interface with its preferred bind address.
type Interface struct {
	Name     string
	Address  string
	Up       bool
	Loopback bool
}

// Resolve returns the preferred address of the named interface.
func Resolve(name string) (string, error) {
	ifc, err := lookup(name)
	if err != nil {
		return "", err
	}
	if ifc.Address == "" {
		return "", fmt.Errorf("%w: interface %q has no usable address", result.ErrConfig, name)
	}
	return ifc.Address, nil
}

// List returns every interface that has a usable address, sorted by name.
func List() ([]Interface, error) {
	all, err := list()
	if err != nil {
		return nil, err
	}
	out := all[:0]
	for _, ifc := range all {
		if ifc.Address != "" {
			out = append(out, ifc)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Default picks the interface used when none is configured: the first
// non-loopback interface that is up. Loopback is never chosen; name it
// explicitly to test against a local endpoint.
func Default() (Interface, error) {
	all, err := List()
	if err != nil {
		return Interface{}, err
	}
	return pickDefault(all)
}

func pickDefault(all []Interface) (Interface, error) {
	for _, ifc := range all {
		if ifc.Up && !ifc.Loopback {
			return ifc, nil
		}
	}
	return Interface{}, fmt.Errorf("%w: %w: no non-loopback interface is up", result.ErrConfig, ErrNotFound)
}

// preferAddress ranks global IPv4 over global IPv6 over any other IPv4 over
// any other IPv6. Link-local IPv6 needs a zone to bind and is skipped.
func preferAddress(addrs []netip.Addr) (netip.Addr, bool) {
	rank := func(a netip.Addr) int {
		switch {
		case a.Is4() && a.IsGlobalUnicast():
			return 0
		case a.Is6() && a.IsGlobalUnicast():
			return 1
		case a.Is4():
			return 2
		case a.IsLinkLocalUnicast() || a.IsMulticast() || a.IsUnspecified():
			return -1
		default:
			return 3
		}
	}
	best, bestRank := netip.Addr{}, -1
	for _, a := range addrs {
		a = a.Unmap()
		r := rank(a)
		if r < 0 {
			continue
		}
		if bestRank < 0 || r < bestRank {
			best, bestRank = a, r
		}
	}
	return best, bestRank >= 0
}

func notFound(name string) error {
	return fmt.Errorf("%w: %w: %q", result.ErrConfig, ErrNotFound, name)
}

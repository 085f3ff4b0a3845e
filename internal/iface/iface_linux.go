//go:build linux

package iface

import (
	"errors"
	"fmt"
	"net"
	"net/netip"

	"github.com/vishvananda/netlink"
)

func lookup(name string) (Interface, error) {
	link, err := netlink.LinkByName(name)
	if err != nil {
		var notFoundErr netlink.LinkNotFoundError
		if errors.As(err, &notFoundErr) {
			return Interface{}, notFound(name)
		}
		return Interface{}, fmt.Errorf("lookup interface %s: %w", name, err)
	}
	return describe(link)
}

func list() ([]Interface, error) {
	links, err := netlink.LinkList()
	if err != nil {
		return nil, fmt.Errorf("list interfaces: %w", err)
	}
	out := make([]Interface, 0, len(links))
	for _, link := range links {
		ifc, err := describe(link)
		if err != nil {
			return nil, err
		}
		out = append(out, ifc)
	}
	return out, nil
}

func describe(link netlink.Link) (Interface, error) {
	attrs := link.Attrs()
	addrs, err := netlink.AddrList(link, netlink.FAMILY_ALL)
	if err != nil {
		return Interface{}, fmt.Errorf("list addresses of %s: %w", attrs.Name, err)
	}
	ips := make([]netip.Addr, 0, len(addrs))
	for _, a := range addrs {
		if a.IPNet == nil {
			continue
		}
		if ip, ok := netip.AddrFromSlice(a.IP); ok {
			ips = append(ips, ip)
		}
	}
	ifc := Interface{
		Name:     attrs.Name,
		Up:       attrs.Flags&net.FlagUp != 0,
		Loopback: attrs.Flags&net.FlagLoopback != 0,
	}
	if best, ok := preferAddress(ips); ok {
		ifc.Address = best.String()
	}
	return ifc, nil
}

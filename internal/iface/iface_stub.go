//go:build !linux

package iface

import (
	"fmt"
	"net"
	"net/netip"
)

func lookup(name string) (Interface, error) {
	ifc, err := net.InterfaceByName(name)
	if err != nil {
		return Interface{}, notFound(name)
	}
	return describe(*ifc)
}

func list() ([]Interface, error) {
	ifcs, err := net.Interfaces()
	if err != nil {
		return nil, fmt.Errorf("list interfaces: %w", err)
	}
	out := make([]Interface, 0, len(ifcs))
	for _, ifc := range ifcs {
		d, err := describe(ifc)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, nil
}

func describe(ifc net.Interface) (Interface, error) {
	addrs, err := ifc.Addrs()
	if err != nil {
		return Interface{}, fmt.Errorf("list addresses of %s: %w", ifc.Name, err)
	}
	ips := make([]netip.Addr, 0, len(addrs))
	for _, a := range addrs {
		ipnet, ok := a.(*net.IPNet)
		if !ok {
			continue
		}
		if ip, ok := netip.AddrFromSlice(ipnet.IP); ok {
			ips = append(ips, ip)
		}
	}
	out := Interface{
		Name:     ifc.Name,
		Up:       ifc.Flags&net.FlagUp != 0,
		Loopback: ifc.Flags&net.FlagLoopback != 0,
	}
	if best, ok := preferAddress(ips); ok {
		out.Address = best.String()
	}
	return out, nil
}

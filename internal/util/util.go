package util

import (
	"net"
	"strconv"
	"strings"
)

func NetJoin(host string, port int) string {
	return net.JoinHostPort(host, strconv.Itoa(port))
}

// IsIPv6Literal reports whether addr is written in IPv6 literal syntax.
func IsIPv6Literal(addr string) bool {
	return strings.Contains(addr, ":")
}

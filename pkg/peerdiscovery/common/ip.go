package common

import (
	"net"
	"regexp"
	"strconv"
	"strings"
)

var (
	dottedQuad   = regexp.MustCompile(`^(?:\d{1,3}\.){3}\d{1,3}$`)
	prefixLength = regexp.MustCompile(`^\d{1,2}$`)
)

// ParseIPv4Literal parses a dotted-quad IPv4 address, optionally followed by a
// /prefix as reported by interface enumeration. Hostnames, IPv6 and IPv4-mapped
// IPv6 literals are rejected.
func ParseIPv4Literal(value string) net.IP {
	value = strings.TrimSpace(value)
	if i := strings.IndexByte(value, '/'); i >= 0 {
		if !validPrefixLength(value[i+1:]) {
			return nil
		}
		value = value[:i]
	}
	if !dottedQuad.MatchString(value) {
		return nil
	}
	ip := net.ParseIP(value)
	if ip == nil {
		return nil
	}
	return ip.To4()
}

// validPrefixLength accepts an IPv4 prefix length from 0 to 32
func validPrefixLength(value string) bool {
	if !prefixLength.MatchString(value) {
		return false
	}
	bits, err := strconv.Atoi(value)
	return err == nil && bits <= 32
}

// IsNetworkOrBroadcast checks if an IPv4 address is the network or broadcast address of network
func IsNetworkOrBroadcast(ip net.IP, network *net.IPNet) bool {
	if network == nil {
		return false
	}
	ip4 := ip.To4()
	base := network.IP.To4()
	if ip4 == nil || base == nil || len(network.Mask) != net.IPv4len {
		return false
	}

	if ip4.Equal(base) {
		return true
	}

	broadcast := make(net.IP, net.IPv4len)
	copy(broadcast, base)
	for i := range broadcast {
		broadcast[i] |= ^network.Mask[i]
	}
	return ip4.Equal(broadcast)
}

package common

import (
	"context"
	"fmt"
	"net"
	"strings"

	psnet "github.com/shirou/gopsutil/v3/net"
)

// AddressSource returns the addresses bound to the local interfaces.
// Entries may carry a /prefix suffix and may be IPv6; consumers skip what they can't use.
type AddressSource func(ctx context.Context) ([]string, error)

// LocalAddresses lists the addresses of every interface that is up.
// Loopback interfaces and loopback addresses are included unless skipLoopback is set.
func LocalAddresses(ctx context.Context, skipLoopback bool) ([]string, error) {
	interfaces, err := psnet.InterfacesWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list interfaces: %w", err)
	}
	return addressesFrom(interfaces, skipLoopback), nil
}

// NewAddressSource binds LocalAddresses to a loopback policy
func NewAddressSource(skipLoopback bool) AddressSource {
	return func(ctx context.Context) ([]string, error) {
		return LocalAddresses(ctx, skipLoopback)
	}
}

// StaticAddressSource always returns the given addresses
func StaticAddressSource(addresses ...string) AddressSource {
	return func(ctx context.Context) ([]string, error) {
		return addresses, nil
	}
}

func addressesFrom(interfaces psnet.InterfaceStatList, skipLoopback bool) []string {
	var addresses []string
	seen := make(map[string]struct{})

	for _, iface := range interfaces {
		if !hasFlag(iface.Flags, "up") {
			continue
		}
		if skipLoopback && hasFlag(iface.Flags, "loopback") {
			continue
		}

		for _, addr := range iface.Addrs {
			value := strings.TrimSpace(addr.Addr)
			if value == "" {
				continue
			}
			if skipLoopback && isLoopbackAddr(value) {
				continue
			}
			if _, exists := seen[value]; exists {
				continue
			}
			seen[value] = struct{}{}
			addresses = append(addresses, value)
		}
	}

	return addresses
}

// isLoopbackAddr reports whether an address with optional /prefix is a loopback address
func isLoopbackAddr(value string) bool {
	if ip, _, err := net.ParseCIDR(value); err == nil {
		return ip.IsLoopback()
	}
	ip := net.ParseIP(value)
	return ip != nil && ip.IsLoopback()
}

func hasFlag(flags []string, flag string) bool {
	for _, f := range flags {
		if strings.EqualFold(f, flag) {
			return true
		}
	}
	return false
}

// Network24 returns the /24 network containing ip, or nil for non-IPv4 input
func Network24(ip net.IP) *net.IPNet {
	ip4 := ip.To4()
	if ip4 == nil {
		return nil
	}
	mask24 := net.CIDRMask(24, 32)
	return &net.IPNet{
		IP:   ip4.Mask(mask24),
		Mask: mask24,
	}
}

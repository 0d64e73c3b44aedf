// Package subnet enumerates the /24 siblings of local IPv4 addresses.
//
// Only dotted-quad IPv4 input produces candidates; anything else (hostnames,
// IPv6, garbage) contributes nothing and is not an error.
//
// Example:
//
//	// 10.0.0.1 ... 10.0.0.254 without 10.0.0.5
//	ips := subnet.SubnetPeers("10.0.0.5", true)
package subnet

import (
	"net"

	"github.com/projectdiscovery/mapcidr"
	"github.com/projectdiscovery/tcpdetect/pkg/peerdiscovery/common"
)

// Group holds the candidates derived from one local address
type Group struct {
	Local      net.IP
	Network    *net.IPNet
	Candidates []net.IP
}

// SubnetPeers returns a.b.c.1 ... a.b.c.254 for a local address a.b.c.x,
// leaving out a.b.c.x itself when skipSelf is set.
func SubnetPeers(local string, skipSelf bool) []net.IP {
	ip := common.ParseIPv4Literal(local)
	if ip == nil {
		return nil
	}
	return expand(common.Network24(ip), func(candidate net.IP) bool {
		return skipSelf && candidate.Equal(ip)
	})
}

// Candidates applies SubnetPeers to every local address. Addresses sharing a /24
// produce a single group, and with skipSelf every local address is excluded from
// every group. Every address of a loopback range routes back to this host, so
// with skipSelf loopback addresses produce no group at all. Groups without
// candidates are omitted.
func Candidates(locals []string, skipSelf bool) []Group {
	self := make(map[string]struct{})
	var parsed []net.IP
	for _, local := range locals {
		ip := common.ParseIPv4Literal(local)
		if ip == nil {
			continue
		}
		if skipSelf && ip.IsLoopback() {
			continue
		}
		self[ip.String()] = struct{}{}
		parsed = append(parsed, ip)
	}

	var groups []Group
	seenNetworks := make(map[string]struct{})
	for _, ip := range parsed {
		network := common.Network24(ip)
		key := network.String()
		if _, exists := seenNetworks[key]; exists {
			continue
		}
		seenNetworks[key] = struct{}{}

		candidates := expand(network, func(candidate net.IP) bool {
			if !skipSelf {
				return false
			}
			_, local := self[candidate.String()]
			return local
		})
		if len(candidates) == 0 {
			continue
		}
		groups = append(groups, Group{Local: ip, Network: network, Candidates: candidates})
	}
	return groups
}

// expand lists the usable hosts of a /24 that are not excluded
func expand(network *net.IPNet, exclude func(net.IP) bool) []net.IP {
	if network == nil {
		return nil
	}
	ips, err := mapcidr.IPAddresses(network.String())
	if err != nil {
		return nil
	}

	candidates := make([]net.IP, 0, len(ips))
	for _, ipStr := range ips {
		// unresolvable entries are dropped, they never fail the enumeration
		ip := net.ParseIP(ipStr).To4()
		if ip == nil {
			continue
		}
		if common.IsNetworkOrBroadcast(ip, network) {
			continue
		}
		if exclude != nil && exclude(ip) {
			continue
		}
		candidates = append(candidates, ip)
	}
	return candidates
}

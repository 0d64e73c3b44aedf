package prescan

import (
	"net"
)

// PrioritizedIP holds an IP and its priority score (0-100)
type PrioritizedIP struct {
	IP       net.IP
	Priority int
}

// CalculatePriority returns the priority score (0-100) of an IPv4 address.
// Higher scores mean more likely to be online. Non-IPv4 input gets the long-tail score.
func CalculatePriority(ip net.IP) int {
	ip4 := ip.To4()
	if ip4 == nil {
		return PriorityTier6
	}
	return lastOctetPriority(int(ip4[3]))
}

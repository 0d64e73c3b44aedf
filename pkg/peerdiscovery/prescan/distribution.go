package prescan

// DistributionPattern maps a last-octet range to a priority tier
type DistributionPattern struct {
	RangeStart  int
	RangeEnd    int
	Priority    int
	Description string
}

// Priority tiers based on real-world network patterns
const (
	PriorityTier1 = 100 // .1, .254 (routers/gateways)
	PriorityTier2 = 90  // .2-.5, .250-.253 (reserved)
	PriorityTier3 = 80  // .6-.10 (early DHCP)
	PriorityTier4 = 70  // .50, .100, .150 (DHCP peaks)
	PriorityTier5 = 50  // .51-.99, .101-.149, .151-.200 (DHCP pool)
	PriorityTier6 = 20  // .11-.49, .201-.249 (long-tail)
	PriorityTier7 = 0   // .0, .255 (excluded)
)

var distributionPatterns = []DistributionPattern{
	{RangeStart: 1, RangeEnd: 1, Priority: PriorityTier1, Description: "Router/switch management"},
	{RangeStart: 254, RangeEnd: 254, Priority: PriorityTier1, Description: "Gateway/router"},

	{RangeStart: 2, RangeEnd: 5, Priority: PriorityTier2, Description: "Infrastructure reserved"},
	{RangeStart: 250, RangeEnd: 253, Priority: PriorityTier2, Description: "High-end reserved"},

	{RangeStart: 6, RangeEnd: 10, Priority: PriorityTier3, Description: "Early DHCP allocation"},

	{RangeStart: 50, RangeEnd: 50, Priority: PriorityTier4, Description: "DHCP peak 1"},
	{RangeStart: 100, RangeEnd: 100, Priority: PriorityTier4, Description: "DHCP peak 2"},
	{RangeStart: 150, RangeEnd: 150, Priority: PriorityTier4, Description: "DHCP peak 3"},

	{RangeStart: 51, RangeEnd: 99, Priority: PriorityTier5, Description: "DHCP range 1"},
	{RangeStart: 101, RangeEnd: 149, Priority: PriorityTier5, Description: "DHCP range 2"},
	{RangeStart: 151, RangeEnd: 200, Priority: PriorityTier5, Description: "DHCP range 3"},

	{RangeStart: 11, RangeEnd: 49, Priority: PriorityTier6, Description: "Long-tail 1"},
	{RangeStart: 201, RangeEnd: 249, Priority: PriorityTier6, Description: "Long-tail 2"},

	{RangeStart: 0, RangeEnd: 0, Priority: PriorityTier7, Description: "Network address"},
	{RangeStart: 255, RangeEnd: 255, Priority: PriorityTier7, Description: "Broadcast address"},
}

// lastOctetPriority scores a /24 host by its last octet
func lastOctetPriority(lastOctet int) int {
	for _, pattern := range distributionPatterns {
		if lastOctet >= pattern.RangeStart && lastOctet <= pattern.RangeEnd {
			return pattern.Priority
		}
	}
	return PriorityTier6
}

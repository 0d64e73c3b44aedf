// Package prescan orders candidate addresses by how likely they are to be online,
// based on real-world allocation patterns in /24 networks.
//
// Priority tiers (0-100):
//   - 100: .1, .254 (routers/gateways)
//   - 90:  .2-.5, .250-.253 (reserved infrastructure)
//   - 80:  .6-.10 (early DHCP)
//   - 70:  .50, .100, .150 (DHCP peaks)
//   - 50:  .51-.99, .101-.149, .151-.200 (main DHCP pool)
//   - 20:  .11-.49, .201-.249 (long-tail)
//   - 0:   .0, .255 (network/broadcast)
//
// Example:
//
//	// start monitors for gateways and early DHCP hosts first
//	ordered := prescan.Prioritize(subnet.SubnetPeers("192.168.1.45", true))
package prescan

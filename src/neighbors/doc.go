// Package neighbors defines mesh neighbor identities and their lifecycle.
//
// A neighbor moves through Discovered, TunnelEstablished, Routing, Suspended,
// SettlementHold and Removed. The Registry owns every record and serializes
// mutations; the rest of the engine refers to neighbors by WireGuard public
// key only.
package neighbors

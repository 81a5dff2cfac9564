// Package keys implements the public key cryptography behind a Toll node's
// identity.
//
// A node owns a secp256k1 key-pair. The public key identifies the node to the
// operator API and, through its Keccak256 hash, determines the Ethereum-style
// address that payment-channel settlements are made from. We chose secp256k1
// because it is the curve used by Ethereum, so an existing Ethereum key can be
// used to operate a node.
package keys

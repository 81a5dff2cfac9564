package keys

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/sha3"

	"github.com/meshnetworks/toll/src/common"
)

// ToPublicKey is a wrapper around elliptic.Unmarshal which calls Curve() to
// determine which elliptic.Curve to use. The argument pub is expected to be the
// uncompressed form of a point on the curve, as returned by FromPublicKey.
func ToPublicKey(pub []byte) *ecdsa.PublicKey {
	if len(pub) == 0 {
		return nil
	}
	x, y := elliptic.Unmarshal(Curve(), pub)
	return &ecdsa.PublicKey{Curve: Curve(), X: x, Y: y}
}

// FromPublicKey is a wrapper around elliptic.Marshal which calls Curve() to
// determine which elliptic.Curve to use. It outputs the point in uncompressed
// form.
func FromPublicKey(pub *ecdsa.PublicKey) []byte {
	if pub == nil || pub.X == nil || pub.Y == nil {
		return nil
	}
	return elliptic.Marshal(Curve(), pub.X, pub.Y)
}

// PublicKeyID gives a compact uint32 representation of the public key. It is
// used to tag log lines and HTTP responses with a short node ID instead of the
// full uncompressed point.
func PublicKeyID(pubBytes []byte) uint32 {
	return common.Hash32(pubBytes)
}

// PublicKeyHex returns the hexadecimal representation of the uncompressed form
// of the public key.
func PublicKeyHex(pub *ecdsa.PublicKey) string {
	return fmt.Sprintf("0x%X", FromPublicKey(pub))
}

// PaymentAddress derives the Ethereum-style payment address from a public key:
// the last 20 bytes of the Keccak256 hash of the uncompressed point, without
// the 0x04 prefix byte.
func PaymentAddress(pub *ecdsa.PublicKey) string {
	raw := FromPublicKey(pub)
	if raw == nil {
		return ""
	}

	h := sha3.NewLegacyKeccak256()
	h.Write(raw[1:])
	sum := h.Sum(nil)

	return "0x" + hex.EncodeToString(sum[len(sum)-20:])
}

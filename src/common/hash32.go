package common

import "hash/fnv"

// Hash32 returns a 32-bit FNV-1a hash of data. It is used to derive compact
// numeric IDs from neighbor public keys.
func Hash32(data []byte) uint32 {
	h := fnv.New32a()

	h.Write(data)

	return h.Sum32()
}

package checksum

import (
	"hash"
	"hash/crc64"
)

var ecma = crc64.MakeTable(crc64.ECMA)

// Size is the length in bytes of an encoded checksum.
const Size = 8

// New returns a running CRC-64/ECMA digest.
func New() hash.Hash64 {
	return crc64.New(ecma)
}

// Sum returns the CRC-64/ECMA checksum of data.
func Sum(data []byte) uint64 {
	return crc64.Checksum(data, ecma)
}

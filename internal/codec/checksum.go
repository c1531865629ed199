package codec

import "hash/crc32"

// Checksum returns the IEEE CRC32 of b.
func Checksum(b []byte) uint32 {
	return crc32.ChecksumIEEE(b)
}

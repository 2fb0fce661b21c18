package wal

// fold is the WAL's checksum accumulator: fold(c, b) = c*13331 + b, each
// byte sign-extended to 32 bits before the multiply, wrapping at 32 bits.
// Grounded in the spec's literal scenario (fold(0, 0x01) == 13331); kept
// as a plain uint32 arithmetic function rather than hash/crc32 because
// the on-disk format is defined by this exact recurrence, not a standard
// checksum.
func fold(c uint32, b []byte) uint32 {
	for _, x := range b {
		c = c*13331 + uint32(int32(int8(x)))
	}
	return c
}

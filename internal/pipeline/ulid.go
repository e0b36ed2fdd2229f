package pipeline

import (
	"crypto/rand"
	"encoding/binary"
	"sync"
	"time"
)

// Job IDs are ULIDs: 26-character Crockford Base32 strings with a
// millisecond timestamp prefix, so IDs sort by creation time.

const crockford = "0123456789ABCDEFGHJKMNPQRSTVWXYZ"

var idGen struct {
	sync.Mutex
	ms  uint64
	seq uint16
}

// NewID returns a fresh job ID. IDs minted within the same millisecond
// carry an incrementing sequence in the leading random bytes, so they
// still sort in creation order.
func NewID() string {
	idGen.Lock()
	defer idGen.Unlock()

	now := uint64(time.Now().UnixMilli())
	if now == idGen.ms {
		idGen.seq++
	} else {
		idGen.ms, idGen.seq = now, 0
	}

	var b [16]byte
	// 48-bit timestamp in bytes 0-5, randomness in 6-15, with the
	// same-millisecond sequence overlaid on bytes 6-7.
	binary.BigEndian.PutUint64(b[:8], now<<16)
	rand.Read(b[6:])
	binary.BigEndian.PutUint16(b[6:8], idGen.seq)
	return encode(b)
}

// encode packs the 128-bit value into 26 Base32 characters. The leading
// character carries only the top 3 bits so the remaining 25 five-bit
// groups land exactly on the 128-bit boundary.
func encode(b [16]byte) string {
	var out [26]byte
	out[0] = crockford[b[0]>>5]
	for i := 1; i < len(out); i++ {
		start := 3 + (i-1)*5
		idx := start / 8
		window := uint16(b[idx]) << 8
		if idx+1 < len(b) {
			window |= uint16(b[idx+1])
		}
		out[i] = crockford[window>>(11-start%8)&31]
	}
	return string(out[:])
}

package rewriter

import (
	"encoding/binary"
	"math/rand"
	"testing"
)

// TestUpdateChecksumMatchesFromScratch verifies the RFC 1624 incremental
// update produces the same result as recomputing the checksum over the
// full (pseudo-header-free) word sequence from scratch, for randomized
// word sequences and randomized single-word substitutions.
func TestUpdateChecksumMatchesFromScratch(t *testing.T) {
	rng := rand.New(rand.NewSource(7))

	for i := 0; i < 500; i++ {
		n := 4 + rng.Intn(20) // 4..23 words
		words := make([]uint16, n)
		for j := range words {
			words[j] = uint16(rng.Uint32())
		}

		before := checksumOf(words)

		idx := rng.Intn(n)
		old := words[idx]
		newVal := uint16(rng.Uint32())
		words[idx] = newVal

		want := checksumOf(words)
		got := updateChecksum(before, old, newVal)

		if got != want {
			t.Fatalf("iteration %d: updateChecksum(%#x, %#x, %#x) = %#x, want %#x",
				i, before, old, newVal, got, want)
		}
	}
}

// checksumOf computes a one's-complement checksum over a slice of 16-bit
// words, matching the fold/complement discipline used throughout this
// package.
func checksumOf(words []uint16) uint16 {
	var sum uint32
	for _, w := range words {
		sum += uint32(w)
	}
	return ^foldCarries(sum)
}

func TestIPv4HeaderChecksumZeroesOutOnVerify(t *testing.T) {
	header := make([]byte, ipv4HeaderLen)
	header[0] = 0x45
	header[8] = 64
	header[9] = ipProtocolUDP
	binary.BigEndian.PutUint32(header[12:16], 0x0a010005)
	binary.BigEndian.PutUint32(header[16:20], 0xcb00710a)

	checksum := ipv4HeaderChecksum(header)
	binary.BigEndian.PutUint16(header[10:12], checksum)

	// Verifying a correctly checksummed header means summing all ten words
	// (including the checksum field) and folding to exactly 0xffff.
	var sum uint32
	for i := 0; i < ipv4HeaderLen; i += 2 {
		sum += uint32(binary.BigEndian.Uint16(header[i : i+2]))
	}
	if folded := foldCarries(sum); folded != 0xffff {
		t.Errorf("verification sum = %#x, want 0xffff", folded)
	}
}

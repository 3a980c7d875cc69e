// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package bench

import (
	"github.com/spaolacci/murmur3"
)

const patternChunk = 1 << 20

// Fill fills p with the deterministic data pattern of the worker with
// the provided rank.
func Fill(p []byte, rank int) {
	fillAt(p, rank, 0)
}

// fillAt fills p with the worker's pattern beginning at offset off.
func fillAt(p []byte, rank int, off int64) {
	seed := byte(rank*131 + 17)
	for i := range p {
		x := off + int64(i)
		p[i] = (seed + byte(x*7)) ^ byte(x>>13)
	}
}

// Checksum returns the checksum of p.
func Checksum(p []byte) uint64 {
	return murmur3.Sum64(p)
}

// PatternChecksum returns the checksum of n bytes of the pattern of the
// worker with the provided rank, without materializing it.
func PatternChecksum(n int, rank int) uint64 {
	h := murmur3.New64()
	m := patternChunk
	if n < m {
		m = n
	}
	chunk := make([]byte, m)
	for off := 0; off < n; off += patternChunk {
		m := n - off
		if m > patternChunk {
			m = patternChunk
		}
		fillAt(chunk[:m], rank, int64(off))
		h.Write(chunk[:m])
	}
	return h.Sum64()
}

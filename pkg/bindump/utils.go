package bindump

import (
	"bytes"

	"github.com/natefinch/atomic"
)

func rangesOverlap(a0, a1, b0, b1 uint64) bool {
	// half-open ranges [a0,a1) and [b0,b1)
	return a0 < b1 && b0 < a1
}

// WriteFile atomically replaces path with data, so a reader mapping the old
// file never observes a partially written dump.
func WriteFile(path string, data []byte) error {
	return atomic.WriteFile(path, bytes.NewReader(data))
}

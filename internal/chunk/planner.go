// Package chunk splits a file of known size into fixed-size byte ranges that
// can be fetched independently with HTTP range requests.
package chunk

import (
	"fmt"
	"iter"
)

const DefaultPartSize int64 = 8 * 1024 * 1024

// ByteRange is an inclusive span [Start, End] of a remote object.
type ByteRange struct {
	Start int64
	End   int64
}

func (r ByteRange) Len() int64 {
	return r.End - r.Start + 1
}

// HeaderValue renders the range for a Range request header.
func (r ByteRange) HeaderValue() string {
	return fmt.Sprintf("bytes=%d-%d", r.Start, r.End)
}

func (r ByteRange) String() string {
	return fmt.Sprintf("%d-%d", r.Start, r.End)
}

// Plan yields the ranges covering [0, size) in order. The sequence is
// computed lazily and can be ranged over any number of times.
func Plan(size, partSize int64) iter.Seq[ByteRange] {
	if partSize <= 0 {
		partSize = DefaultPartSize
	}
	return func(yield func(ByteRange) bool) {
		for start := int64(0); start < size; start += partSize {
			end := min(start+partSize, size) - 1
			if !yield(ByteRange{Start: start, End: end}) {
				return
			}
		}
	}
}

func Ranges(size, partSize int64) []ByteRange {
	ranges := make([]ByteRange, 0, Count(size, partSize))
	for r := range Plan(size, partSize) {
		ranges = append(ranges, r)
	}
	return ranges
}

func Count(size, partSize int64) int {
	if size <= 0 {
		return 0
	}
	if partSize <= 0 {
		partSize = DefaultPartSize
	}
	return int((size + partSize - 1) / partSize)
}

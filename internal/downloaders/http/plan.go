package packdlhttp

import "fmt"

const (
	DefaultChunkSize      int64 = 4 * 1024 * 1024
	DefaultChunkThreshold int64 = 8 * 1024 * 1024
)

// ByteRange is an inclusive [Start, End] span of a remote resource.
type ByteRange struct {
	Start int64
	End   int64
}

func (r ByteRange) Len() int64 { return r.End - r.Start + 1 }

func (r ByteRange) String() string { return fmt.Sprintf("[%d,%d]", r.Start, r.End) }

func (r ByteRange) header() string { return fmt.Sprintf("bytes=%d-%d", r.Start, r.End) }

// Plan splits [alreadyPresent, totalSize) into chunkSize strides. The result is
// empty when nothing is left to fetch.
func Plan(totalSize, alreadyPresent, chunkSize int64) []ByteRange {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	alreadyPresent = max(alreadyPresent, 0)
	if alreadyPresent >= totalSize {
		return nil
	}
	ranges := make([]ByteRange, 0, (totalSize-alreadyPresent+chunkSize-1)/chunkSize)
	for start := alreadyPresent; start < totalSize; start += chunkSize {
		ranges = append(ranges, ByteRange{Start: start, End: min(start+chunkSize, totalSize) - 1})
	}
	return ranges
}

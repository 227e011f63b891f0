package packdlhttp

// Strategy is the transfer path chosen from a probe result.
type Strategy int

const (
	StrategyEmpty       Strategy = iota // zero-byte resource
	StrategyUnknownSize                 // no Content-Length, streamed
	StrategyNoRanges                    // server does not accept ranges, streamed
	StrategySmall                       // at or below the chunking threshold, streamed
	StrategyChunked                     // concurrent byte ranges
)

func (s Strategy) String() string {
	switch s {
	case StrategyEmpty:
		return "empty"
	case StrategyUnknownSize:
		return "unknown-size"
	case StrategyNoRanges:
		return "no-ranges"
	case StrategySmall:
		return "small"
	case StrategyChunked:
		return "chunked"
	}
	return "invalid"
}

// Chunked reports whether the strategy uses chunk workers.
func (s Strategy) Chunked() bool { return s == StrategyChunked }

func ChooseStrategy(p ProbeResult, threshold int64) Strategy {
	switch {
	case p.TotalSize == 0:
		return StrategyEmpty
	case p.TotalSize < 0:
		return StrategyUnknownSize
	case !p.RangeSupported:
		return StrategyNoRanges
	case p.TotalSize <= threshold:
		return StrategySmall
	default:
		return StrategyChunked
	}
}

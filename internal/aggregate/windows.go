package aggregate

import "fmt"

// Window is a half-open time range [Start, End) in unix seconds.
type Window struct {
	Start int64
	End   int64
}

func windowStart(ts, size int64) int64 {
	return ts - ts%size
}

// SplitWindows returns the aligned windows of size that overlap [from, to).
func SplitWindows(from, to, size int64) ([]Window, error) {
	if size <= 0 {
		return nil, fmt.Errorf("window size must be greater than zero")
	}
	if from < 0 || from >= to {
		return nil, fmt.Errorf("invalid range: from %d to %d", from, to)
	}
	var out []Window
	for start := windowStart(from, size); start < to; start += size {
		out = append(out, Window{Start: start, End: start + size})
	}
	return out, nil
}

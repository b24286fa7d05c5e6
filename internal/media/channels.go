package media

import "fmt"

// ChannelSelector is an inclusive channel index range. It is the only
// stored representation; MaxChannels normalizes a channel count onto it.
type ChannelSelector struct {
	Start int
	End   int
}

// AllChannels selects every channel the asset has
var AllChannels = ChannelSelector{Start: 0, End: maxChannelIndex}

const maxChannelIndex = 1<<31 - 1

// Channels selects the inclusive range [start, end]
func Channels(start, end int) ChannelSelector {
	return ChannelSelector{Start: start, End: end}
}

// MaxChannels selects the first n channels. n <= 0 selects channel 0 only.
func MaxChannels(n int) ChannelSelector {
	if n <= 0 {
		return ChannelSelector{Start: 0, End: 0}
	}
	return ChannelSelector{Start: 0, End: n - 1}
}

// Resolve clamps the selector into [0, available-1]. It never fails: a
// reversed range is swapped and an asset without channels resolves to
// channel 0.
func (s ChannelSelector) Resolve(available int) ChannelRange {
	first, last := s.Start, s.End
	if first > last {
		first, last = last, first
	}

	top := available - 1
	if top < 0 {
		top = 0
	}

	first = clampInt(first, 0, top)
	last = clampInt(last, first, top)

	return ChannelRange{First: first, Last: last}
}

// Key is the selector's form inside cache keys
func (s ChannelSelector) Key() string {
	return fmt.Sprintf("%d-%d", s.Start, s.End)
}

func (s ChannelSelector) String() string {
	if s == AllChannels {
		return "all"
	}
	return fmt.Sprintf("[%d, %d]", s.Start, s.End)
}

// ChannelRange is a resolved, in-bounds inclusive channel range
type ChannelRange struct {
	First int
	Last  int
}

// Count returns the number of channels in the range
func (r ChannelRange) Count() int {
	return r.Last - r.First + 1
}

// Contains reports whether channel c is selected
func (r ChannelRange) Contains(c int) bool {
	return c >= r.First && c <= r.Last
}

func (r ChannelRange) String() string {
	return fmt.Sprintf("%d-%d", r.First, r.Last)
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

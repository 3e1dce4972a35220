package titan

import "sync/atomic"

// FrameIDMode selects how frame ids are assigned to outbound frames.
type FrameIDMode uint8

const (
	// FixedFrameID sends every frame with the same frame id (0 by default), as the
	// device documentation examples do.
	FixedFrameID FrameIDMode = iota
	// MonotonicFrameID increments the frame id per frame, wrapping from 255 to 0.
	MonotonicFrameID
)

func (m FrameIDMode) String() string {
	switch m {
	case FixedFrameID:
		return "fixed"
	case MonotonicFrameID:
		return "monotonic"
	default:
		return "unknown"
	}
}

// FrameIDGenerator hands out frame ids. It is safe for concurrent use.
type FrameIDGenerator struct {
	mode  FrameIDMode
	fixed byte
	next  atomic.Uint32
}

// NewFrameIDGenerator creates a generator. For FixedFrameID every call to Next returns start;
// for MonotonicFrameID the first call returns start.
func NewFrameIDGenerator(mode FrameIDMode, start byte) *FrameIDGenerator {
	g := &FrameIDGenerator{mode: mode, fixed: start}
	g.next.Store(uint32(start))

	return g
}

// Mode returns the generator mode.
func (g *FrameIDGenerator) Mode() FrameIDMode { return g.mode }

// Next returns the frame id for the next outbound frame.
func (g *FrameIDGenerator) Next() byte {
	if g.mode == FixedFrameID {
		return g.fixed
	}

	return byte(g.next.Add(1) - 1) //nolint:gosec // wraps on purpose
}

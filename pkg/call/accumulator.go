// Package call runs the per-call conversation loop: accumulate caller
// audio into segments, transcribe, complete, synthesize and stream the
// reply back, one turn at a time.
package call

// DefaultSegmentBytes is roughly one second of 8kHz mu-law audio.
const DefaultSegmentBytes = 8000

// Segment is one utterance worth of accumulated caller audio.
type Segment struct {
	Data []byte
}

// Accumulator buffers inbound audio chunks until a size threshold is
// reached. It is not safe for concurrent use; each call owns one.
type Accumulator struct {
	threshold int
	buf       []byte
}

// NewAccumulator creates an accumulator. threshold <= 0 uses
// DefaultSegmentBytes.
func NewAccumulator(threshold int) *Accumulator {
	if threshold <= 0 {
		threshold = DefaultSegmentBytes
	}
	return &Accumulator{threshold: threshold}
}

// Accept appends a chunk and returns a completed segment once the
// buffered audio reaches the threshold, or nil while still filling.
// The returned segment carries the entire buffer, which may exceed the
// threshold; the buffer restarts empty. Empty chunks are ignored.
func (a *Accumulator) Accept(chunk []byte) *Segment {
	if len(chunk) == 0 {
		return nil
	}

	a.buf = append(a.buf, chunk...)
	if len(a.buf) < a.threshold {
		return nil
	}

	seg := &Segment{Data: a.buf}
	a.buf = nil
	return seg
}

// Buffered returns the number of bytes waiting below the threshold.
func (a *Accumulator) Buffered() int {
	return len(a.buf)
}

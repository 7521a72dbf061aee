package llm

import "strings"

// DefaultFragmentWords is the word budget after which a fragment is cut
// even without sentence punctuation.
const DefaultFragmentWords = 5

// Fragmenter consumes a Stream and regroups its deltas into phrase-sized
// fragments, cut at sentence punctuation or after a word budget. Each
// fragment can be synthesized and sent to the caller while the rest of the
// reply is still being generated, which keeps time-to-first-audio low.
//
// The sequence is lazy, finite and non-restartable. After Next returns an
// empty fragment the joined full reply is available from Full, and that
// joined text is what should be recorded as the canonical exchange.
type Fragmenter struct {
	stream   Stream
	maxWords int

	pending string
	full    strings.Builder
	done    bool
}

// NewFragmenter wraps a stream. maxWords <= 0 uses DefaultFragmentWords.
func NewFragmenter(stream Stream, maxWords int) *Fragmenter {
	if maxWords <= 0 {
		maxWords = DefaultFragmentWords
	}
	return &Fragmenter{stream: stream, maxWords: maxWords}
}

// Next returns the next fragment. An empty string means the stream is
// exhausted (not an error).
func (f *Fragmenter) Next() (string, error) {
	for {
		if frag := f.cut(false); frag != "" {
			return frag, nil
		}

		if f.done {
			return f.cut(true), nil
		}

		chunk, err := f.stream.Recv()
		if err != nil {
			return "", err
		}

		if chunk.Delta != "" {
			f.pending += chunk.Delta
			f.full.WriteString(chunk.Delta)
		}
		if chunk.Done {
			f.done = true
		}
	}
}

// Full returns the joined reply. Valid once Next has returned empty.
func (f *Fragmenter) Full() string {
	return strings.TrimSpace(f.full.String())
}

// Close releases the underlying stream.
func (f *Fragmenter) Close() error {
	return f.stream.Close()
}

// cut extracts the next complete fragment from the pending text.
// When flush is set the whole remainder is taken.
func (f *Fragmenter) cut(flush bool) string {
	if flush {
		frag := strings.TrimSpace(f.pending)
		f.pending = ""
		return frag
	}

	for {
		end, rest := splitPoint(f.pending, f.maxWords)
		if end < 0 {
			return ""
		}
		frag := strings.TrimSpace(f.pending[:end])
		f.pending = f.pending[rest:]
		if frag != "" {
			return frag
		}
		// Leading punctuation or whitespace only; keep scanning.
	}
}

// splitPoint finds the first cut position: just after sentence punctuation,
// or at the space ending the word budget. Returns the fragment end and the
// start of the remainder, or (-1, -1) when no complete fragment exists yet.
func splitPoint(s string, maxWords int) (end, rest int) {
	words := 0
	for i, r := range s {
		switch {
		case r == '.' || r == '!' || r == '?':
			return i + 1, i + 1
		case r == ' ':
			words++
			if words >= maxWords {
				return i, i + 1
			}
		}
	}
	return -1, -1
}

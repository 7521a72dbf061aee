package llm

import (
	"errors"
	"testing"
)

func collectFragments(t *testing.T, f *Fragmenter) []string {
	t.Helper()
	var out []string
	for {
		frag, err := f.Next()
		if err != nil {
			t.Fatalf("Next() error = %v", err)
		}
		if frag == "" {
			return out
		}
		out = append(out, frag)
	}
}

func TestFragmenter(t *testing.T) {
	t.Run("cuts at sentence punctuation", func(t *testing.T) {
		f := NewFragmenter(NewTextStream("Bonsoir ! Vous commandez ?"), 0)
		got := collectFragments(t, f)

		want := []string{"Bonsoir !", "Vous commandez ?"}
		if len(got) != len(want) {
			t.Fatalf("fragments = %v, want %v", got, want)
		}
		for i := range want {
			if got[i] != want[i] {
				t.Errorf("fragment %d = %q, want %q", i, got[i], want[i])
			}
		}
	})

	t.Run("cuts at word budget without punctuation", func(t *testing.T) {
		f := NewFragmenter(NewTextStream("une deux trois quatre cinq six sept"), 5)
		got := collectFragments(t, f)

		want := []string{"une deux trois quatre cinq", "six sept"}
		if len(got) != len(want) {
			t.Fatalf("fragments = %v, want %v", got, want)
		}
		for i := range want {
			if got[i] != want[i] {
				t.Errorf("fragment %d = %q, want %q", i, got[i], want[i])
			}
		}
	})

	t.Run("flushes trailing text", func(t *testing.T) {
		f := NewFragmenter(NewTextStream("Avec plaisir. Au revoir"), 0)
		got := collectFragments(t, f)

		if len(got) != 2 || got[1] != "Au revoir" {
			t.Errorf("fragments = %v, want trailing text flushed", got)
		}
	})

	t.Run("full joins the reply", func(t *testing.T) {
		text := "Bien sûr. Quelle taille pour votre pizza ?"
		f := NewFragmenter(NewTextStream(text), 0)
		collectFragments(t, f)

		if got := f.Full(); got != text {
			t.Errorf("Full() = %q, want %q", got, text)
		}
	})

	t.Run("empty stream", func(t *testing.T) {
		f := NewFragmenter(NewTextStream(""), 0)
		if got := collectFragments(t, f); len(got) != 0 {
			t.Errorf("fragments = %v, want none", got)
		}
		if f.Full() != "" {
			t.Errorf("Full() = %q, want empty", f.Full())
		}
	})

	t.Run("next stays empty after exhaustion", func(t *testing.T) {
		f := NewFragmenter(NewTextStream("Oui."), 0)
		collectFragments(t, f)

		frag, err := f.Next()
		if err != nil || frag != "" {
			t.Errorf("Next() after exhaustion = %q, %v", frag, err)
		}
	})

	t.Run("propagates stream errors", func(t *testing.T) {
		wantErr := errors.New("connection reset")
		f := NewFragmenter(&failingStream{err: wantErr}, 0)

		if _, err := f.Next(); !errors.Is(err, wantErr) {
			t.Errorf("Next() error = %v, want %v", err, wantErr)
		}
	})
}

type failingStream struct {
	err error
}

func (s *failingStream) Recv() (*Chunk, error) { return nil, s.err }
func (s *failingStream) Close() error          { return nil }

func TestTextStream(t *testing.T) {
	s := NewTextStream("un deux trois")

	var rejoined string
	for {
		chunk, err := s.Recv()
		if err != nil {
			t.Fatalf("Recv() error = %v", err)
		}
		rejoined += chunk.Delta
		if chunk.Done {
			break
		}
	}
	if rejoined != "un deux trois" {
		t.Errorf("rejoined deltas = %q", rejoined)
	}
}

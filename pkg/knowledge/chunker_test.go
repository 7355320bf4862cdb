package knowledge

import (
	"strings"
	"testing"
)

func TestSplitShortTextYieldsItself(t *testing.T) {
	c := NewChunker(1200, 200)
	text := "  A short paragraph about renovation pricing.  "

	chunks := c.Split(text)
	if len(chunks) != 1 {
		t.Fatalf("expected 1 chunk, got %d", len(chunks))
	}
	if chunks[0] != strings.TrimSpace(text) {
		t.Errorf("chunk = %q, want trimmed input", chunks[0])
	}
}

func TestSplitDiscardsTinyText(t *testing.T) {
	c := NewChunker(1200, 200)
	if chunks := c.Split("too short"); chunks != nil {
		t.Errorf("expected nil for tiny input, got %v", chunks)
	}
	if chunks := c.Split("   "); chunks != nil {
		t.Errorf("expected nil for blank input, got %v", chunks)
	}
}

func TestSplitPrefersParagraphBoundaries(t *testing.T) {
	para := strings.Repeat("Paragraph sentence goes here. ", 10) // ~300 chars
	text := para + "\n\n" + para + "\n\n" + para

	c := NewChunker(400, 50)
	chunks := c.Split(text)

	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(chunks))
	}
	for i, chunk := range chunks {
		if len(chunk) <= minChunkLength {
			t.Errorf("chunk %d too short: %d chars", i, len(chunk))
		}
	}
}

func TestSplitChunksCarryOverlap(t *testing.T) {
	sentence := "The quick brown fox jumps over the lazy dog and keeps running. "
	text := strings.Repeat(sentence, 40)

	c := NewChunker(400, 60)
	chunks := c.Split(text)
	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(chunks))
	}

	for i := 1; i < len(chunks); i++ {
		tail := overlapTail(chunks[i-1], c.Overlap)
		if tail == "" {
			t.Fatalf("empty overlap tail for chunk %d", i)
		}
		if !strings.HasPrefix(chunks[i], tail) {
			t.Errorf("chunk %d does not start with previous chunk's tail", i)
		}
	}
}

func TestOverlapTailSnapsToWordBoundary(t *testing.T) {
	s := "one two three four five six seven"
	tail := overlapTail(s, 10)

	// 10 chars back lands mid-word; the tail must start after a space.
	if strings.Contains(tail, " ") && tail[0] == ' ' {
		t.Errorf("tail starts with space: %q", tail)
	}
	if !strings.HasSuffix(s, tail) {
		t.Errorf("tail %q is not a suffix of input", tail)
	}
	if idx := strings.Index(s, tail); idx > 0 && s[idx-1] != ' ' {
		t.Errorf("tail %q starts mid-word", tail)
	}
}

func TestSplitLongUnbrokenText(t *testing.T) {
	// No separator at all: the chunker must still terminate and hard-cut.
	text := strings.Repeat("x", 5000)

	c := NewChunker(1200, 200)
	chunks := c.Split(text)
	if len(chunks) == 0 {
		t.Fatal("expected chunks for long unbroken text")
	}
}

func TestNormalizeDimension(t *testing.T) {
	short := []float32{1, 2, 3}
	padded := NormalizeDimension(short, 5)
	if len(padded) != 5 {
		t.Fatalf("padded length = %d, want 5", len(padded))
	}
	if padded[3] != 0 || padded[4] != 0 {
		t.Error("padding must be zeros")
	}

	long := []float32{1, 2, 3, 4, 5, 6}
	truncated := NormalizeDimension(long, 4)
	if len(truncated) != 4 {
		t.Fatalf("truncated length = %d, want 4", len(truncated))
	}

	exact := []float32{1, 2}
	if got := NormalizeDimension(exact, 2); len(got) != 2 {
		t.Fatalf("exact length changed: %d", len(got))
	}
}

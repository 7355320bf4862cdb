// Package knowledge owns document ingestion, chunking, embedding and
// hybrid retrieval over the tenant knowledge base.
package knowledge

import "strings"

// Separators tried in priority order. A finer separator is used only when a
// piece still exceeds the chunk size at the current level.
var chunkSeparators = []string{"\n\n", "\n", ". ", " "}

// minChunkLength filters out fragments too short to carry meaning.
const minChunkLength = 20

// Chunker splits raw text into overlapping chunks on natural boundaries.
type Chunker struct {
	ChunkSize int
	Overlap   int
}

// NewChunker creates a chunker with the given target size and overlap,
// both in characters.
func NewChunker(chunkSize, overlap int) *Chunker {
	return &Chunker{ChunkSize: chunkSize, Overlap: overlap}
}

// Split breaks text into chunks of at most ChunkSize characters, preferring
// paragraph, line, sentence, then word boundaries. Consecutive chunks share
// an Overlap-sized tail of the previous chunk, snapped forward to the next
// space so a word is never cut. Chunks of minChunkLength or fewer characters
// are discarded. Text already within ChunkSize yields itself, trimmed.
func (c *Chunker) Split(text string) []string {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil
	}
	if len(trimmed) <= c.ChunkSize {
		if len(trimmed) <= minChunkLength {
			return nil
		}
		return []string{trimmed}
	}

	pieces := c.recursiveSplit(trimmed, 0)

	chunks := make([]string, 0, len(pieces))
	prev := ""
	for _, piece := range pieces {
		piece = strings.TrimSpace(piece)
		if len(piece) <= minChunkLength {
			continue
		}

		if prev != "" && c.Overlap > 0 {
			piece = overlapTail(prev, c.Overlap) + " " + piece
		}
		chunks = append(chunks, piece)
		prev = piece
	}

	return chunks
}

// recursiveSplit cuts text on the separator at the given priority level,
// descending one level for any piece still over the target size.
func (c *Chunker) recursiveSplit(text string, level int) []string {
	if len(text) <= c.ChunkSize {
		return []string{text}
	}
	if level >= len(chunkSeparators) {
		// No separator left; hard-cut at the target size.
		var out []string
		for len(text) > c.ChunkSize {
			out = append(out, text[:c.ChunkSize])
			text = text[c.ChunkSize:]
		}
		if text != "" {
			out = append(out, text)
		}
		return out
	}

	sep := chunkSeparators[level]
	parts := strings.Split(text, sep)
	if len(parts) == 1 {
		return c.recursiveSplit(text, level+1)
	}

	// Greedily merge parts back up to the target size so chunks stay as
	// large as the boundary allows.
	var out []string
	var current strings.Builder
	for _, part := range parts {
		if current.Len() > 0 && current.Len()+len(sep)+len(part) > c.ChunkSize {
			out = append(out, c.flush(&current, level)...)
		}
		if current.Len() > 0 {
			current.WriteString(sep)
		}
		current.WriteString(part)
	}
	out = append(out, c.flush(&current, level)...)

	return out
}

func (c *Chunker) flush(b *strings.Builder, level int) []string {
	s := b.String()
	b.Reset()
	if s == "" {
		return nil
	}
	if len(s) > c.ChunkSize {
		return c.recursiveSplit(s, level+1)
	}
	return []string{s}
}

// overlapTail returns the last n characters of s, moved forward to the next
// space boundary so the overlap starts on a whole word.
func overlapTail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	tail := s[len(s)-n:]
	if idx := strings.IndexByte(tail, ' '); idx >= 0 {
		tail = tail[idx+1:]
	}
	return tail
}

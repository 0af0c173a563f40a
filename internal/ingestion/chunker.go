// Package ingestion turns plain document text into indexed chunks:
// recursive character chunking, batch embedding and storage.
package ingestion

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// Chunker defaults
const (
	DefaultChunkSize    = 1000
	DefaultChunkOverlap = 200
)

// DefaultSeparators are tried in order; the empty separator splits into
// single characters.
var DefaultSeparators = []string{"\n\n", "\n", ". ", " ", ""}

// Chunk is a contiguous span of a document. Offsets count characters
// (runes) and Text is exactly the document's characters in [StartChar, EndChar).
type Chunk struct {
	Index     int
	Text      string
	StartChar int
	EndChar   int
}

// ChunkerConfig holds chunker configuration
type ChunkerConfig struct {
	// Size is the maximum chunk length in characters.
	Size int
	// Overlap is how many trailing characters of a chunk start the next one.
	Overlap    int
	Separators []string
}

// Chunker splits text recursively on progressively finer separators and
// merges the pieces into chunks of at most Size characters, each starting
// with up to Overlap trailing characters of its predecessor. Only a piece no
// separator can split may exceed Size.
type Chunker struct {
	config ChunkerConfig
}

// NewChunker creates a new Chunker with the given configuration
func NewChunker(config ChunkerConfig) *Chunker {
	if config.Size <= 0 {
		config.Size = DefaultChunkSize
	}
	if config.Overlap < 0 || config.Overlap >= config.Size {
		config.Overlap = min(DefaultChunkOverlap, config.Size/5)
	}
	if len(config.Separators) == 0 {
		config.Separators = DefaultSeparators
	}
	return &Chunker{config: config}
}

// Config returns the effective configuration.
func (c *Chunker) Config() ChunkerConfig {
	return c.config
}

// span is a half-open rune range of the document.
type span struct{ start, end int }

func (s span) len() int { return s.end - s.start }

// Chunk splits content. Whitespace-only chunks are dropped; indexes stay
// dense.
func (c *Chunker) Chunk(content string) []Chunk {
	if strings.TrimSpace(content) == "" {
		return nil
	}

	text := []rune(content)
	pieces := c.split(text, span{0, len(text)}, c.config.Separators)

	var chunks []Chunk
	emit := func(s span) {
		body := string(text[s.start:s.end])
		if strings.TrimFunc(body, unicode.IsSpace) == "" {
			return
		}
		chunks = append(chunks, Chunk{Index: len(chunks), Text: body, StartChar: s.start, EndChar: s.end})
	}

	var current span
	open := false
	for _, p := range pieces {
		switch {
		case !open:
			current, open = p, true
		case current.len()+p.len() > c.config.Size:
			emit(current)
			overlapStart := max(current.start, current.end-c.config.Overlap, p.end-c.config.Size)
			current = span{overlapStart, p.end}
		default:
			current.end = p.end
		}
	}
	if open {
		emit(current)
	}
	return chunks
}

// split breaks s on the first separator that occurs in it, keeping each
// separator at the end of its piece, and recurses into pieces longer than
// the chunk size. Pieces are contiguous and cover s.
func (c *Chunker) split(text []rune, s span, separators []string) []span {
	if len(separators) == 0 {
		return []span{s}
	}
	sep, rest := separators[0], separators[1:]

	if sep == "" {
		out := make([]span, 0, s.len())
		for i := s.start; i < s.end; i++ {
			out = append(out, span{i, i + 1})
		}
		return out
	}

	segment := string(text[s.start:s.end])
	parts := strings.SplitAfter(segment, sep)
	if len(parts) == 1 {
		return c.split(text, s, rest)
	}

	var out []span
	offset := s.start
	for _, part := range parts {
		if part == "" {
			continue
		}
		p := span{offset, offset + utf8.RuneCountInString(part)}
		offset = p.end
		if p.len() > c.config.Size {
			out = append(out, c.split(text, p, rest)...)
		} else {
			out = append(out, p)
		}
	}
	return out
}

// Package chunker splits document text into overlapping windows for embedding.
package chunker

import (
	"errors"
	"fmt"

	"github.com/kailas-cloud/ragindex/internal/domain"
)

// ErrInvalidChunkConfig is returned when overlap is not in [0, maxSize).
var ErrInvalidChunkConfig = errors.New("invalid chunk config")

// separators are tried in priority order when looking for a cut point.
var separators = [][]rune{
	[]rune("\n\n"),
	[]rune("\n"),
	[]rune(". "),
	[]rune("! "),
	[]rune("? "),
	[]rune(" "),
}

// Chunker holds a window configuration.
type Chunker struct {
	chunkSize int
	overlap   int
}

// Option configures a Chunker.
type Option func(*Chunker)

// WithChunkSize sets the maximum chunk size in characters.
func WithChunkSize(size int) Option {
	return func(c *Chunker) { c.chunkSize = size }
}

// WithOverlap sets the number of characters shared by consecutive chunks.
func WithOverlap(overlap int) Option {
	return func(c *Chunker) { c.overlap = overlap }
}

// New creates a Chunker. Defaults are 1000 characters with 200 overlap.
func New(opts ...Option) (*Chunker, error) {
	c := &Chunker{
		chunkSize: domain.DefaultChunkSize,
		overlap:   domain.DefaultOverlap,
	}
	for _, opt := range opts {
		opt(c)
	}
	if err := validate(c.chunkSize, c.overlap); err != nil {
		return nil, err
	}
	return c, nil
}

// ChunkSize returns the configured window size.
func (c *Chunker) ChunkSize() int { return c.chunkSize }

// Overlap returns the configured overlap.
func (c *Chunker) Overlap() int { return c.overlap }

// Split splits text with the chunker's configuration.
func (c *Chunker) Split(text string) []string {
	// config validated in New
	chunks, _ := Split(text, c.chunkSize, c.overlap)
	return chunks
}

// Split cuts text into chunks of at most maxSize characters.
//
// Each cut lands right after the highest-priority separator found in the
// back half of the window, or at the window end when none is found. The
// next chunk starts overlap characters before the previous cut, so every
// chunk after the first begins with exactly the last overlap characters of
// its predecessor. Sizes are counted in runes.
func Split(text string, maxSize, overlap int) ([]string, error) {
	if err := validate(maxSize, overlap); err != nil {
		return nil, err
	}
	if text == "" {
		return nil, nil
	}

	r := []rune(text)
	n := len(r)
	if n <= maxSize {
		return []string{text}, nil
	}

	chunks := make([]string, 0, n/(maxSize-overlap)+1)
	start := 0
	for {
		end := start + maxSize
		if end >= n {
			chunks = append(chunks, string(r[start:]))
			return chunks, nil
		}
		cut := findCut(r, start, end, overlap, maxSize)
		chunks = append(chunks, string(r[start:cut]))
		start = cut - overlap
	}
}

func validate(maxSize, overlap int) error {
	if maxSize <= 0 {
		return fmt.Errorf("%w: chunk size must be positive, got %d", ErrInvalidChunkConfig, maxSize)
	}
	if overlap < 0 || overlap >= maxSize {
		return fmt.Errorf("%w: overlap %d must be in [0, %d)", ErrInvalidChunkConfig, overlap, maxSize)
	}
	return nil
}

// findCut returns the end of the chunk starting at start. The result is in
// (floor, end] where floor keeps chunks at least half full and guarantees
// forward progress after the overlap step back.
func findCut(r []rune, start, end, overlap, maxSize int) int {
	floor := max(start+overlap, start+maxSize/2)
	for _, sep := range separators {
		if cut := lastCutAfter(r, sep, floor, end); cut > 0 {
			return cut
		}
	}
	return end
}

// lastCutAfter returns the index just past the last occurrence of sep in
// r[:end] when that index is greater than floor, or -1.
func lastCutAfter(r, sep []rune, floor, end int) int {
	for i := end - len(sep); i+len(sep) > floor && i >= 0; i-- {
		if hasPrefixAt(r, sep, i) {
			return i + len(sep)
		}
	}
	return -1
}

func hasPrefixAt(r, sep []rune, i int) bool {
	for j, c := range sep {
		if r[i+j] != c {
			return false
		}
	}
	return true
}

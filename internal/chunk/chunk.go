// Package chunk splits document bodies into overlapping fixed-size segments.
package chunk

import (
	"errors"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/textsplitter"

	"github.com/Yates-Labs/newsagent/internal/rag"
)

var ErrInvalidConfig = errors.New("invalid chunk config")

// Config controls chunk size and overlap, both measured in characters.
type Config struct {
	Size      int
	Overlap   int
	Separator string
}

// DefaultConfig returns 512 character chunks overlapping by 100, split on sentence ends.
func DefaultConfig() Config {
	return Config{
		Size:      512,
		Overlap:   100,
		Separator: ".",
	}
}

// Validate checks that the configuration can produce progress.
func (c Config) Validate() error {
	if c.Size <= 0 {
		return fmt.Errorf("%w: size must be positive, got %d", ErrInvalidConfig, c.Size)
	}
	if c.Overlap < 0 || c.Overlap >= c.Size {
		return fmt.Errorf("%w: overlap must be in [0, %d), got %d", ErrInvalidConfig, c.Size, c.Overlap)
	}
	if c.Separator == "" {
		return fmt.Errorf("%w: separator is required", ErrInvalidConfig)
	}
	return nil
}

// Splitter is deterministic: the same text always yields the same chunks.
// It is safe for concurrent use.
type Splitter struct {
	splitter textsplitter.RecursiveCharacter
}

// NewSplitter creates a Splitter. Text is cut on the separator and pieces are
// merged up to the chunk size, carrying the overlap into the next chunk.
func NewSplitter(config Config) (*Splitter, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &Splitter{
		splitter: textsplitter.NewRecursiveCharacter(
			textsplitter.WithChunkSize(config.Size),
			textsplitter.WithChunkOverlap(config.Overlap),
			textsplitter.WithSeparators([]string{config.Separator}),
		),
	}, nil
}

// Split returns the chunks of text, indexed from 0. Blank text yields no chunks.
func (s *Splitter) Split(text string) ([]rag.Chunk, error) {
	if strings.TrimSpace(text) == "" {
		return []rag.Chunk{}, nil
	}

	parts, err := s.splitter.SplitText(text)
	if err != nil {
		return nil, fmt.Errorf("splitting text: %w", err)
	}

	chunks := make([]rag.Chunk, 0, len(parts))
	for _, part := range parts {
		if strings.TrimSpace(part) == "" {
			continue
		}
		chunks = append(chunks, rag.Chunk{
			SequenceIndex: len(chunks),
			Text:          part,
		})
	}
	return chunks, nil
}

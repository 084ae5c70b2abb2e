package knowledge

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/cloudwego/eino-ext/components/document/transformer/splitter/recursive"
	"github.com/cloudwego/eino/components/document"
	"github.com/cloudwego/eino/schema"
)

const (
	DefaultChunkSize    = 1000
	DefaultChunkOverlap = 200
)

// separators are tried in order: paragraph, line, sentence, word.
var separators = []string{"\n\n", "\n", ". ", " "}

// NewSplitter returns a transformer cutting documents into chunks of at most
// size runes, consecutive chunks sharing up to overlap runes.
func NewSplitter(ctx context.Context, size, overlap int) (document.Transformer, error) {
	if size <= 0 {
		size = DefaultChunkSize
	}
	if overlap < 0 || overlap >= size {
		overlap = 0
	}
	return recursive.NewSplitter(ctx, &recursive.Config{
		ChunkSize:   size,
		OverlapSize: overlap,
		Separators:  separators,
		LenFunc:     utf8.RuneCountInString,
		KeepType:    recursive.KeepTypeEnd,
	})
}

// chunk splits text with the service's splitter, dropping blank chunks.
func (s *Service) chunk(ctx context.Context, source, text string) ([]string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, nil
	}
	parts, err := s.splitter.Transform(ctx, []*schema.Document{{ID: source, Content: text}})
	if err != nil {
		return nil, fmt.Errorf("split %s: %w", source, err)
	}
	chunks := make([]string, 0, len(parts))
	for _, p := range parts {
		if c := strings.TrimSpace(p.Content); c != "" {
			chunks = append(chunks, c)
		}
	}
	return chunks, nil
}

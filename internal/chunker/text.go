package chunker

import (
	"strconv"
)

// TextChunker cuts fixed token windows with a constant overlap.
type TextChunker struct {
	config Config
	tok    Tokenizer
}

func NewTextChunker(config Config, tok Tokenizer) *TextChunker {
	return &TextChunker{config: config, tok: tok}
}

func (s *TextChunker) Name() string {
	return "text"
}

func (s *TextChunker) Chunk(content string, metadata map[string]string) ([]Chunk, error) {
	if err := s.config.Validate(); err != nil {
		return nil, err
	}
	tokens := s.tok.Encode(SanitizeUTF8(content))
	windows := s.windows(len(tokens))

	chunks := make([]Chunk, 0, len(windows))
	for i, w := range windows {
		meta := cloneMetadata(metadata)
		meta[MetaChunkIndex] = strconv.Itoa(i)
		chunks = append(chunks, CreateChunk(s.tok.Decode(tokens[w[0]:w[1]]), i, w[0], w[1], meta))
	}
	return chunks, nil
}

// windows returns [start, end) token spans. The stride is size-overlap and the
// last window ends exactly at n.
func (s *TextChunker) windows(n int) [][2]int {
	if n == 0 {
		return nil
	}
	size, step := s.config.MaxChunkSize, s.config.MaxChunkSize-s.config.Overlap

	var out [][2]int
	for start := 0; ; start += step {
		end := start + size
		if end > n {
			end = n
		}
		out = append(out, [2]int{start, end})
		if end >= n {
			break
		}
	}
	return out
}

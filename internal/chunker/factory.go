package chunker

import (
	"path/filepath"
	"strings"
)

// Factory picks a chunker by file extension.
type Factory struct {
	config Config
	tok    Tokenizer
}

func NewFactory(config Config, tok Tokenizer) (*Factory, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &Factory{config: config, tok: tok}, nil
}

func (f *Factory) GetChunker(filePath string) Chunker {
	switch strings.ToLower(filepath.Ext(filePath)) {
	case ".md", ".markdown", ".mdx":
		return NewMarkdownChunker(f.config, f.tok)
	default:
		return NewTextChunker(f.config, f.tok)
	}
}

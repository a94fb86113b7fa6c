package chunker

import "fmt"

// Metadata keys attached to every chunk.
const (
	MetaFilename   = "filename"
	MetaAuthor     = "author"
	MetaChunkIndex = "chunk_index"
	MetaSection    = "section"
)

// Chunk is one retrieval unit cut from a document.
type Chunk struct {
	ID       string            // hash of filename and index
	Text     string            // decoded window text
	Index    int               // position within the parent document
	Start    int               // first token (inclusive)
	End      int               // last token (exclusive)
	Metadata map[string]string // parent metadata plus chunk_index/section
}

// Chunker splits one document's text into chunks carrying its metadata.
type Chunker interface {
	Chunk(content string, metadata map[string]string) ([]Chunk, error)

	// Name is used in logs.
	Name() string
}

// Config holds window parameters in tokenizer units.
type Config struct {
	MaxChunkSize int
	Overlap      int
}

func (c Config) Validate() error {
	if c.MaxChunkSize <= 0 {
		return fmt.Errorf("chunker: max chunk size must be positive, got %d", c.MaxChunkSize)
	}
	if c.Overlap < 0 || c.Overlap >= c.MaxChunkSize {
		return fmt.Errorf("chunker: overlap %d must be in [0, %d)", c.Overlap, c.MaxChunkSize)
	}
	return nil
}

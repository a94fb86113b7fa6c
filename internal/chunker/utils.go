package chunker

import (
	"crypto/sha256"
	"fmt"
	"strconv"
)

// CreateChunk builds a chunk whose ID is stable for a given filename and index.
func CreateChunk(text string, index, start, end int, metadata map[string]string) Chunk {
	if metadata == nil {
		metadata = make(map[string]string)
	}
	hash := sha256.Sum256([]byte(metadata[MetaFilename] + "#" + strconv.Itoa(index)))

	return Chunk{
		ID:       fmt.Sprintf("%x", hash[:8]),
		Text:     text,
		Index:    index,
		Start:    start,
		End:      end,
		Metadata: metadata,
	}
}

func cloneMetadata(m map[string]string) map[string]string {
	out := make(map[string]string, len(m)+2)
	for k, v := range m {
		out[k] = v
	}
	return out
}

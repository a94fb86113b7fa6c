package app

import (
	"fmt"
	"strings"

	"github.com/dcarpintero/llamaindexchat/internal/chunker"
	"github.com/dcarpintero/llamaindexchat/internal/github"
)

// Document is one fetched file ready for chunking.
type Document struct {
	Text     string
	Metadata map[string]string
}

func (d Document) Filename() string {
	return d.Metadata[chunker.MetaFilename]
}

// TagDocuments attaches filename and author metadata to fetched files.
func TagDocuments(files []github.File, author string) ([]Document, error) {
	docs := make([]Document, 0, len(files))
	for i, f := range files {
		if strings.TrimSpace(f.Path) == "" {
			return nil, fmt.Errorf("tag document %d: missing file path", i)
		}
		docs = append(docs, Document{
			Text: f.Text,
			Metadata: map[string]string{
				chunker.MetaFilename: normalizePath(f.Path),
				chunker.MetaAuthor:   author,
			},
		})
	}
	return docs, nil
}

func normalizePath(p string) string {
	return strings.ReplaceAll(p, `\`, "/")
}

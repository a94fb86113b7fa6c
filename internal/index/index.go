// Package index builds, persists and queries the chunk vector index.
package index

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"time"

	"github.com/philippgille/chromem-go"

	"github.com/dcarpintero/llamaindexchat/internal/chunker"
	"github.com/dcarpintero/llamaindexchat/internal/logger"
)

const collectionName = "docs"

var (
	// ErrNotFound means no index has been persisted at the path.
	ErrNotFound = errors.New("index: not found")

	// ErrIncompatible means the index was built with another embedding model.
	ErrIncompatible = errors.New("index: incompatible with configured embedding model")

	ErrEmpty = errors.New("index: no chunks to index")
)

// Embedder computes vectors for chunk and query texts.
type Embedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// Result is a retrieved chunk with its cosine similarity.
type Result struct {
	ID       string
	Text     string
	Metadata map[string]string
	Score    float32
}

// Index is a read-only set of embedded chunks once built or loaded.
type Index struct {
	db       *chromem.DB
	coll     *chromem.Collection
	manifest Manifest
}

type BuildOptions struct {
	EmbedModel   string
	BatchSize    int
	ChunkSize    int
	ChunkOverlap int
	Documents    int
}

// Build embeds every chunk and assembles the index in memory. Any embedding
// failure aborts the build and returns no index.
func Build(ctx context.Context, chunks []chunker.Chunk, emb Embedder, opts BuildOptions) (*Index, error) {
	if len(chunks) == 0 {
		return nil, ErrEmpty
	}
	batch := opts.BatchSize
	if batch <= 0 {
		batch = 64
	}

	docs := make([]chromem.Document, 0, len(chunks))
	dims := 0
	for start := 0; start < len(chunks); start += batch {
		end := min(start+batch, len(chunks))

		texts := make([]string, 0, end-start)
		for _, ch := range chunks[start:end] {
			texts = append(texts, ch.Text)
		}
		vectors, err := emb.EmbedBatch(ctx, texts)
		if err != nil {
			return nil, fmt.Errorf("embed chunks %d-%d: %w", start, end-1, err)
		}
		if len(vectors) != len(texts) {
			return nil, fmt.Errorf("embed chunks %d-%d: got %d vectors for %d texts", start, end-1, len(vectors), len(texts))
		}

		for i, ch := range chunks[start:end] {
			if dims == 0 {
				dims = len(vectors[i])
			}
			if len(vectors[i]) != dims || dims == 0 {
				return nil, fmt.Errorf("embed chunk %s: dimension %d, want %d", ch.ID, len(vectors[i]), dims)
			}
			docs = append(docs, chromem.Document{
				ID:        ch.ID,
				Content:   ch.Text,
				Metadata:  ch.Metadata,
				Embedding: vectors[i],
			})
		}
		logger.Debug("embedded batch", "from", start, "to", end, "total", len(chunks))
	}

	db := chromem.NewDB()
	coll, err := db.CreateCollection(collectionName, map[string]string{}, nil)
	if err != nil {
		return nil, fmt.Errorf("create collection: %w", err)
	}
	if err := coll.AddDocuments(ctx, docs, runtime.NumCPU()); err != nil {
		return nil, fmt.Errorf("add documents: %w", err)
	}

	return &Index{
		db:   db,
		coll: coll,
		manifest: Manifest{
			EmbedModel:   opts.EmbedModel,
			Dimensions:   dims,
			ChunkSize:    opts.ChunkSize,
			ChunkOverlap: opts.ChunkOverlap,
			Documents:    opts.Documents,
			Chunks:       len(docs),
			CreatedAt:    time.Now().UTC(),
		},
	}, nil
}

// Query returns up to k chunks nearest to vec, best first.
func (i *Index) Query(ctx context.Context, vec []float32, k int) ([]Result, error) {
	if len(vec) != i.manifest.Dimensions && i.manifest.Dimensions > 0 {
		return nil, fmt.Errorf("%w: query dimension %d, index dimension %d", ErrIncompatible, len(vec), i.manifest.Dimensions)
	}
	k = min(k, i.coll.Count())
	if k <= 0 {
		return nil, nil
	}

	res, err := i.coll.QueryEmbedding(ctx, vec, k, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}

	out := make([]Result, 0, len(res))
	for _, r := range res {
		out = append(out, Result{ID: r.ID, Text: r.Content, Metadata: r.Metadata, Score: r.Similarity})
	}
	return out, nil
}

func (i *Index) Count() int {
	return i.coll.Count()
}

func (i *Index) Manifest() Manifest {
	return i.manifest
}

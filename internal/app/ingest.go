package app

import (
	"context"
	"fmt"
	"sort"

	"github.com/dcarpintero/llamaindexchat/internal/chunker"
	"github.com/dcarpintero/llamaindexchat/internal/github"
	"github.com/dcarpintero/llamaindexchat/internal/index"
	"github.com/dcarpintero/llamaindexchat/internal/logger"
)

// Fetcher returns the files selected by a query.
type Fetcher interface {
	Fetch(ctx context.Context, q github.Query) ([]github.File, error)
}

type IngestOptions struct {
	Query      github.Query
	Author     string
	StorageDir string
	EmbedModel string
	BatchSize  int
	Chunk      chunker.Config
}

// Ingester runs fetch, tag, chunk, embed and persist in order. Nothing is
// written unless every step succeeds.
type Ingester struct {
	fetcher  Fetcher
	chunkers *chunker.Factory
	embedder index.Embedder
	opts     IngestOptions
}

func NewIngester(fetcher Fetcher, chunkers *chunker.Factory, embedder index.Embedder, opts IngestOptions) *Ingester {
	return &Ingester{fetcher: fetcher, chunkers: chunkers, embedder: embedder, opts: opts}
}

func (ing *Ingester) Run(ctx context.Context) (index.Manifest, error) {
	q := ing.opts.Query
	logger.Info("loading data from github", "owner", q.Owner, "repo", q.Repo, "branch", q.Branch)

	files, err := ing.fetcher.Fetch(ctx, q)
	switch {
	case github.IsNotFound(err):
		return index.Manifest{}, fmt.Errorf("fetch documents from %s/%s@%s (check GITHUB_OWNER, GITHUB_REPO and GITHUB_BRANCH): %w",
			q.Owner, q.Repo, q.Branch, err)
	case github.IsRateLimited(err):
		return index.Manifest{}, fmt.Errorf("fetch documents (retry after the reset time): %w", err)
	case err != nil:
		return index.Manifest{}, fmt.Errorf("fetch documents: %w", err)
	}

	docs, err := TagDocuments(files, ing.opts.Author)
	if err != nil {
		return index.Manifest{}, err
	}
	// fetch order is not stable; keep chunk order reproducible
	sort.Slice(docs, func(i, j int) bool { return docs[i].Filename() < docs[j].Filename() })

	chunks, err := ing.chunk(docs)
	if err != nil {
		return index.Manifest{}, err
	}
	logger.Info("indexing data", "documents", len(docs), "chunks", len(chunks))

	idx, err := index.Build(ctx, chunks, ing.embedder, index.BuildOptions{
		EmbedModel:   ing.opts.EmbedModel,
		BatchSize:    ing.opts.BatchSize,
		ChunkSize:    ing.opts.Chunk.MaxChunkSize,
		ChunkOverlap: ing.opts.Chunk.Overlap,
		Documents:    len(docs),
	})
	if err != nil {
		return index.Manifest{}, fmt.Errorf("build index: %w", err)
	}

	if err := idx.Persist(ing.opts.StorageDir); err != nil {
		return index.Manifest{}, fmt.Errorf("persist index: %w", err)
	}
	logger.Info("ingestion completed", "dir", ing.opts.StorageDir)
	return idx.Manifest(), nil
}

func (ing *Ingester) chunk(docs []Document) ([]chunker.Chunk, error) {
	var all []chunker.Chunk
	for _, d := range docs {
		c := ing.chunkers.GetChunker(d.Filename())
		chunks, err := c.Chunk(d.Text, d.Metadata)
		if err != nil {
			return nil, fmt.Errorf("chunk %s: %w", d.Filename(), err)
		}
		logger.Debug("chunked document", "file", d.Filename(), "chunker", c.Name(), "chunks", len(chunks))
		all = append(all, chunks...)
	}
	return all, nil
}

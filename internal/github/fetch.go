package github

import (
	"context"
	"encoding/base64"
	"fmt"
	"path"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/dcarpintero/llamaindexchat/internal/logger"
)

// MaxFileSize is the largest blob fetched; bigger files are skipped.
const MaxFileSize = 1024 * 1024

// DefaultConcurrency is the number of blob requests in flight.
const DefaultConcurrency = 10

// Query selects files in a repository.
type Query struct {
	Owner       string
	Repo        string
	Branch      string
	Dirs        []string // include filter; empty means the whole tree
	Exts        []string // include filter, e.g. ".md"; empty means any
	Concurrency int
}

// File is one fetched file with its extracted text.
type File struct {
	Path string
	SHA  string
	Text string
}

// Fetcher loads matching files from a repository.
type Fetcher struct {
	client *Client
}

func NewFetcher(client *Client) *Fetcher {
	return &Fetcher{client: client}
}

// Fetch returns every matching file exactly once, in no particular order.
// Any request failure aborts the whole fetch.
func (f *Fetcher) Fetch(ctx context.Context, q Query) ([]File, error) {
	log := logger.With("owner", q.Owner, "repo", q.Repo, "branch", q.Branch)

	tree, err := f.client.GetTree(ctx, q.Owner, q.Repo, q.Branch)
	if err != nil {
		return nil, err
	}
	if tree.GetTruncated() {
		return nil, fmt.Errorf("%w: %s/%s@%s", ErrTruncatedTree, q.Owner, q.Repo, q.Branch)
	}

	type entry struct{ path, sha string }
	var entries []entry
	seen := make(map[string]struct{})
	for _, e := range tree.Entries {
		if e.GetType() != "blob" {
			continue
		}
		p := e.GetPath()
		if !inDirs(p, q.Dirs) || !hasExt(p, q.Exts) {
			continue
		}
		if _, dup := seen[p]; dup {
			continue
		}
		if e.GetSize() > MaxFileSize {
			log.Warn("skipping large file", "path", p, "size", e.GetSize())
			continue
		}
		seen[p] = struct{}{}
		entries = append(entries, entry{path: p, sha: e.GetSHA()})
	}
	log.Info("matched files", "count", len(entries))

	concurrency := q.Concurrency
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}

	files := make([]File, len(entries))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for i, e := range entries {
		g.Go(func() error {
			content, err := f.fetchBlobContent(gctx, q.Owner, q.Repo, e.sha)
			if err != nil {
				return fmt.Errorf("fetch %s: %w", e.path, err)
			}
			text, err := ExtractText(e.path, content)
			if err != nil {
				return fmt.Errorf("extract %s: %w", e.path, err)
			}
			files[i] = File{Path: e.path, SHA: e.sha, Text: text}
			log.Debug("fetched file", "path", e.path, "bytes", len(content))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	rl := f.client.rateLimiter
	log.Info("fetched files", "count", len(files),
		"rate_remaining", rl.Remaining(), "rate_limit", rl.Limit(), "rate_reset", rl.ResetTime())
	return files, nil
}

func (f *Fetcher) fetchBlobContent(ctx context.Context, owner, repo, sha string) ([]byte, error) {
	blob, err := f.client.GetBlob(ctx, owner, repo, sha)
	if err != nil {
		return nil, err
	}
	if blob.GetEncoding() == "base64" {
		content := strings.ReplaceAll(blob.GetContent(), "\n", "")
		return base64.StdEncoding.DecodeString(content)
	}
	return []byte(blob.GetContent()), nil
}

func inDirs(p string, dirs []string) bool {
	if len(dirs) == 0 {
		return true
	}
	for _, d := range dirs {
		d = strings.Trim(strings.TrimSpace(d), "/")
		if d == "" || strings.HasPrefix(p, d+"/") {
			return true
		}
	}
	return false
}

func hasExt(p string, exts []string) bool {
	if len(exts) == 0 {
		return true
	}
	ext := strings.ToLower(path.Ext(p))
	for _, e := range exts {
		e = strings.ToLower(strings.TrimSpace(e))
		if !strings.HasPrefix(e, ".") {
			e = "." + e
		}
		if ext == e {
			return true
		}
	}
	return false
}

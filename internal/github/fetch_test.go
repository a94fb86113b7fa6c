package github

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

type fakeRepo struct {
	mu       sync.Mutex
	files    map[string]string // path -> content
	extra    []map[string]any  // additional tree entries
	blobHits map[string]int
	inFlight atomic.Int32
	maxSeen  atomic.Int32
	failBlob string
	token    string
	limited  bool
}

const testRateReset = 1893456000

func (f *fakeRepo) handler(t *testing.T) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer "+f.token {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"message":"Bad credentials"}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set(HeaderRateLimit, "5000")
		w.Header().Set(HeaderRateReset, strconv.Itoa(testRateReset))
		if f.limited {
			w.Header().Set(HeaderRateRemaining, "0")
			w.WriteHeader(http.StatusForbidden)
			_, _ = w.Write([]byte(`{"message":"API rate limit exceeded"}`))
			return
		}
		w.Header().Set(HeaderRateRemaining, "4990")

		switch {
		case r.URL.Path == "/repos/o/r/git/trees/main":
			assert.Equal(t, "1", r.URL.Query().Get("recursive"))
			var entries []map[string]any
			for p := range f.files {
				entries = append(entries, map[string]any{"path": p, "type": "blob", "sha": "sha-" + p, "size": len(f.files[p])})
			}
			entries = append(entries, f.extra...)
			_ = json.NewEncoder(w).Encode(map[string]any{"sha": "tree", "truncated": false, "tree": entries})

		case strings.HasPrefix(r.URL.Path, "/repos/o/r/git/blobs/"):
			cur := f.inFlight.Add(1)
			defer f.inFlight.Add(-1)
			for {
				prev := f.maxSeen.Load()
				if cur <= prev || f.maxSeen.CompareAndSwap(prev, cur) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)

			sha := strings.TrimPrefix(r.URL.Path, "/repos/o/r/git/blobs/")
			if sha == f.failBlob {
				w.WriteHeader(http.StatusInternalServerError)
				_, _ = w.Write([]byte(`{"message":"boom"}`))
				return
			}
			p := strings.TrimPrefix(sha, "sha-")
			f.mu.Lock()
			f.blobHits[p]++
			f.mu.Unlock()
			_ = json.NewEncoder(w).Encode(map[string]any{
				"sha":      sha,
				"encoding": "base64",
				"content":  base64.StdEncoding.EncodeToString([]byte(f.files[p])),
			})

		default:
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"message":"Not Found"}`))
		}
	})
}

func newTestFetcher(t *testing.T, repo *fakeRepo, token string) *Fetcher {
	f, _ := newTestFetcherWithLimiter(t, repo, token)
	return f
}

func newTestFetcherWithLimiter(t *testing.T, repo *fakeRepo, token string) (*Fetcher, *RateLimiter) {
	srv := httptest.NewServer(repo.handler(t))
	t.Cleanup(srv.Close)

	rl := NewRateLimiter(rate.Inf, 1)
	client, err := NewClient(context.Background(), token,
		WithBaseURL(srv.URL),
		WithRateLimiter(rl),
	)
	require.NoError(t, err)
	return NewFetcher(client), rl
}

func newRepo() *fakeRepo {
	files := map[string]string{
		"README.md":           "root readme",
		"docs/index.md":       "# Index",
		"docs/guide/usage.md": "usage",
		"docs/guide/api.rst":  "rst",
		"docsite/other.md":    "not under docs",
	}
	for i := 0; i < 30; i++ {
		files["docs/many/file"+string(rune('a'+i%26))+strings.Repeat("x", i/26)+".md"] = "content"
	}
	return &fakeRepo{files: files, blobHits: make(map[string]int), token: "ghp"}
}

func TestFetch(t *testing.T) {
	repo := newRepo()
	repo.extra = []map[string]any{
		{"path": "docs/guide", "type": "tree", "sha": "t1"},
		{"path": "docs/huge.md", "type": "blob", "sha": "sha-huge", "size": MaxFileSize + 1},
	}
	f := newTestFetcher(t, repo, "ghp")

	files, err := f.Fetch(context.Background(), Query{
		Owner: "o", Repo: "r", Branch: "main",
		Dirs: []string{"docs"}, Exts: []string{".md"},
		Concurrency: 4,
	})
	require.NoError(t, err)

	paths := make([]string, 0, len(files))
	for _, file := range files {
		paths = append(paths, file.Path)
	}
	sort.Strings(paths)

	assert.Len(t, files, 32)
	assert.Contains(t, paths, "docs/index.md")
	assert.Contains(t, paths, "docs/guide/usage.md")
	assert.NotContains(t, paths, "docs/guide/api.rst")
	assert.NotContains(t, paths, "docsite/other.md")
	assert.NotContains(t, paths, "README.md")
	assert.NotContains(t, paths, "docs/huge.md")

	for p, hits := range repo.blobHits {
		assert.Equal(t, 1, hits, p)
	}
	assert.LessOrEqual(t, int(repo.maxSeen.Load()), 4)

	for _, file := range files {
		if file.Path == "docs/index.md" {
			assert.Equal(t, "# Index", file.Text)
		}
	}
}

func TestFetchFailsOnBlobError(t *testing.T) {
	repo := newRepo()
	repo.failBlob = "sha-docs/index.md"
	f := newTestFetcher(t, repo, "ghp")

	_, err := f.Fetch(context.Background(), Query{Owner: "o", Repo: "r", Branch: "main", Dirs: []string{"docs"}, Exts: []string{"md"}})
	require.Error(t, err)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusInternalServerError, apiErr.StatusCode)
}

func TestFetchRejectedToken(t *testing.T) {
	repo := newRepo()
	f := newTestFetcher(t, repo, "wrong")

	_, err := f.Fetch(context.Background(), Query{Owner: "o", Repo: "r", Branch: "main"})
	require.Error(t, err)
	assert.True(t, IsUnauthorized(err))
}

func TestFetchTracksRateLimit(t *testing.T) {
	f, rl := newTestFetcherWithLimiter(t, newRepo(), "ghp")

	_, err := f.Fetch(context.Background(), Query{Owner: "o", Repo: "r", Branch: "main", Dirs: []string{"docs/guide"}})
	require.NoError(t, err)

	assert.Equal(t, 4990, rl.Remaining())
	assert.Equal(t, 5000, rl.Limit())
	assert.Equal(t, time.Unix(testRateReset, 0), rl.ResetTime())
}

func TestFetchRateLimited(t *testing.T) {
	repo := newRepo()
	repo.limited = true
	f := newTestFetcher(t, repo, "ghp")

	_, err := f.Fetch(context.Background(), Query{Owner: "o", Repo: "r", Branch: "main"})
	require.Error(t, err)
	assert.True(t, IsRateLimited(err))
	assert.False(t, IsNotFound(err))
}

func TestFetchUnknownBranch(t *testing.T) {
	f := newTestFetcher(t, newRepo(), "ghp")

	_, err := f.Fetch(context.Background(), Query{Owner: "o", Repo: "r", Branch: "nope"})
	require.Error(t, err)
	assert.True(t, IsNotFound(err))
	assert.False(t, IsRateLimited(err))
}

func TestNewClientRequiresToken(t *testing.T) {
	_, err := NewClient(context.Background(), "  ")
	assert.ErrorIs(t, err, ErrMissingToken)
}

func TestFilters(t *testing.T) {
	assert.True(t, inDirs("docs/a.md", []string{"docs"}))
	assert.True(t, inDirs("docs/a.md", []string{"/docs/"}))
	assert.False(t, inDirs("docsite/a.md", []string{"docs"}))
	assert.True(t, inDirs("anything", nil))

	assert.True(t, hasExt("a/B.MD", []string{".md"}))
	assert.True(t, hasExt("a/b.md", []string{"md"}))
	assert.False(t, hasExt("a/b.mdx", []string{".md"}))
	assert.True(t, hasExt("a/b", nil))
}

func TestExtractTextPassesThroughMarkdown(t *testing.T) {
	text, err := ExtractText("docs/a.md", []byte("# Title\n"))
	require.NoError(t, err)
	assert.Equal(t, "# Title\n", text)

	_, err = ExtractText("docs/a.pdf", []byte("not a pdf"))
	assert.Error(t, err)
}

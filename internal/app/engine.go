package app

import (
	"context"
	"fmt"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/dcarpintero/llamaindexchat/internal/chunker"
	"github.com/dcarpintero/llamaindexchat/internal/index"
	"github.com/dcarpintero/llamaindexchat/internal/logger"
	"github.com/dcarpintero/llamaindexchat/internal/openai"
)

// Completer is the chat-completion side of the model provider.
type Completer interface {
	Chat(ctx context.Context, messages []openai.Message, opts openai.ChatOptions) (openai.Completion, error)
}

// Retriever finds the chunks nearest to a query vector.
type Retriever interface {
	Query(ctx context.Context, vec []float32, k int) ([]index.Result, error)
}

// SourceNode is a retrieved chunk used to ground an answer.
type SourceNode struct {
	Text     string
	Metadata map[string]string
	Score    float32
}

type Response struct {
	Answer    string
	Condensed string
	Sources   []SourceNode
	Usage     openai.Usage
	Cached    bool
}

type EngineConfig struct {
	TopK             int
	SystemPrompt     string
	Temperature      float64
	CacheSize        int
	CountCachedUsage bool
}

// Engine answers questions with the condense-question flow: rewrite the
// follow-up against history, retrieve, then complete over the retrieved text.
type Engine struct {
	llm   Completer
	emb   index.Embedder
	idx   Retriever
	tok   chunker.Tokenizer
	cfg   EngineConfig
	cache *lru.Cache[string, Response]
}

func NewEngine(llm Completer, emb index.Embedder, idx Retriever, tok chunker.Tokenizer, cfg EngineConfig) (*Engine, error) {
	if cfg.TopK <= 0 {
		cfg.TopK = 2
	}
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = 1024
	}
	cache, err := lru.New[string, Response](cfg.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("create response cache: %w", err)
	}
	return &Engine{llm: llm, emb: emb, idx: idx, tok: tok, cfg: cfg, cache: cache}, nil
}

// Chat answers question in the context of s and updates s's token counters,
// including usage of completion calls made before an error.
// The session's messages are left to the caller. With s.Settings.Cache set, a
// previous answer to the identical prompt text is reused without any model call.
func (e *Engine) Chat(ctx context.Context, s *Session, question string) (Response, error) {
	if s.Settings.Cache {
		if resp, ok := e.cache.Get(question); ok {
			resp.Cached = true
			if e.cfg.CountCachedUsage {
				s.Counters.Add(e.approximateUsage(resp))
			}
			logger.Debug("response cache hit", "prompt", question)
			return resp, nil
		}
	}

	resp, err := e.query(ctx, s.History(), question)
	// calls that completed before a failure are still billed
	s.Counters.Add(resp.Usage)
	if err != nil {
		return Response{}, err
	}

	if s.Settings.Cache {
		e.cache.Add(question, resp)
	}
	return resp, nil
}

// query returns the usage of every completion call made, also on error.
func (e *Engine) query(ctx context.Context, history []openai.Message, question string) (Response, error) {
	var usage openai.Usage

	condensed, err := e.condense(ctx, history, question, &usage)
	if err != nil {
		return Response{Usage: usage}, err
	}

	vectors, err := e.emb.EmbedBatch(ctx, []string{condensed})
	if err != nil {
		return Response{Usage: usage}, fmt.Errorf("embed question: %w", err)
	}
	if len(vectors) != 1 {
		return Response{Usage: usage}, fmt.Errorf("embed question: got %d vectors", len(vectors))
	}
	results, err := e.idx.Query(ctx, vectors[0], e.cfg.TopK)
	if err != nil {
		return Response{Usage: usage}, fmt.Errorf("retrieve: %w", err)
	}

	nodes := make([]SourceNode, 0, len(results))
	for _, r := range results {
		nodes = append(nodes, SourceNode{Text: r.Text, Metadata: r.Metadata, Score: r.Score})
	}

	answer, err := e.complete(ctx, buildQAPrompt(condensed, nodes), &usage)
	if err != nil {
		return Response{Usage: usage}, fmt.Errorf("answer: %w", err)
	}

	logger.Debug("answered", "question", condensed, "sources", len(nodes),
		"prompt_tokens", usage.PromptTokens, "completion_tokens", usage.CompletionTokens)
	return Response{Answer: answer, Condensed: condensed, Sources: nodes, Usage: usage}, nil
}

func (e *Engine) condense(ctx context.Context, history []openai.Message, question string, usage *openai.Usage) (string, error) {
	if len(history) == 0 {
		return question, nil
	}
	out, err := e.complete(ctx, buildCondensePrompt(history, question), usage)
	if err != nil {
		return "", fmt.Errorf("condense question: %w", err)
	}
	out = strings.TrimSpace(out)
	if out == "" {
		return question, nil
	}
	logger.Debug("condensed question", "from", question, "to", out)
	return out, nil
}

func (e *Engine) complete(ctx context.Context, prompt string, usage *openai.Usage) (string, error) {
	messages := make([]openai.Message, 0, 2)
	if e.cfg.SystemPrompt != "" {
		messages = append(messages, openai.Message{Role: "system", Content: e.cfg.SystemPrompt})
	}
	messages = append(messages, openai.Message{Role: "user", Content: prompt})

	c, err := e.llm.Chat(ctx, messages, openai.ChatOptions{Temperature: e.cfg.Temperature})
	if err != nil {
		return "", err
	}

	u := c.Usage
	if u.PromptTokens == 0 && u.CompletionTokens == 0 {
		// provider did not report usage
		for _, m := range messages {
			u.PromptTokens += chunker.CountTokens(e.tok, m.Content)
		}
		u.CompletionTokens = chunker.CountTokens(e.tok, c.Content)
	}
	usage.PromptTokens += u.PromptTokens
	usage.CompletionTokens += u.CompletionTokens
	usage.TotalTokens += u.PromptTokens + u.CompletionTokens
	return c.Content, nil
}

// approximateUsage estimates a cached answer's cost from the lengths of its
// source nodes and answer.
func (e *Engine) approximateUsage(resp Response) openai.Usage {
	var u openai.Usage
	for _, n := range resp.Sources {
		u.PromptTokens += chunker.CountTokens(e.tok, n.Text)
	}
	u.PromptTokens += chunker.CountTokens(e.tok, resp.Condensed)
	u.CompletionTokens = chunker.CountTokens(e.tok, resp.Answer)
	u.TotalTokens = u.PromptTokens + u.CompletionTokens
	return u
}

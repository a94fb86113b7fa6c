package app

import (
	"context"
	"errors"
	"sync"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dcarpintero/llamaindexchat/internal/chunker"
	"github.com/dcarpintero/llamaindexchat/internal/index"
	"github.com/dcarpintero/llamaindexchat/internal/openai"
)

type fakeLLM struct {
	mu      sync.Mutex
	calls   [][]openai.Message
	replies []string
	usage   openai.Usage
	err     error
	failAt  int // 1-based call that fails; 0 never fails
}

func (f *fakeLLM) Chat(_ context.Context, msgs []openai.Message, _ openai.ChatOptions) (openai.Completion, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, msgs)
	if f.err != nil {
		return openai.Completion{}, f.err
	}
	if f.failAt > 0 && len(f.calls) == f.failAt {
		return openai.Completion{}, errors.New("answer call failed")
	}
	reply := f.replies[min(len(f.calls), len(f.replies))-1]
	return openai.Completion{Content: reply, Usage: f.usage}, nil
}

func (f *fakeLLM) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeLLM) prompt(call int) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	msgs := f.calls[call]
	return msgs[len(msgs)-1].Content
}

type fakeEmbedder struct {
	texts []string
	err   error
}

func (f *fakeEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.texts = append(f.texts, texts...)
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, 0}
	}
	return out, nil
}

type fakeRetriever struct {
	results []index.Result
	k       int
}

func (f *fakeRetriever) Query(_ context.Context, _ []float32, k int) ([]index.Result, error) {
	f.k = k
	return f.results[:min(k, len(f.results))], nil
}

func docResults() []index.Result {
	return []index.Result{
		{ID: "1", Text: "A node is a chunk of a document.", Score: 0.91,
			Metadata: map[string]string{chunker.MetaFilename: "docs/core/node.md", chunker.MetaAuthor: "LlamaIndex"}},
		{ID: "2", Text: "Documents hold source text.", Score: 0.84,
			Metadata: map[string]string{chunker.MetaFilename: "docs/core/document.md", chunker.MetaAuthor: "LlamaIndex"}},
		{ID: "3", Text: "unrelated", Score: 0.1,
			Metadata: map[string]string{chunker.MetaFilename: "docs/other.md", chunker.MetaAuthor: "LlamaIndex"}},
	}
}

func newTestEngine(t *testing.T, llm *fakeLLM, cfg EngineConfig) (*Engine, *fakeEmbedder, *fakeRetriever) {
	t.Helper()
	emb := &fakeEmbedder{}
	ret := &fakeRetriever{results: docResults()}
	e, err := NewEngine(llm, emb, ret, chunker.RuneTokenizer{}, cfg)
	require.NoError(t, err)
	return e, emb, ret
}

func TestChatFirstTurnSkipsCondense(t *testing.T) {
	llm := &fakeLLM{replies: []string{"Nodes are chunks."}, usage: openai.Usage{PromptTokens: 10, CompletionTokens: 5}}
	e, emb, ret := newTestEngine(t, llm, EngineConfig{SystemPrompt: "You are helpful."})
	s := NewSession(Settings{})

	resp, err := e.Chat(context.Background(), s, "what is a node?")
	require.NoError(t, err)

	assert.Equal(t, 1, llm.callCount())
	assert.Equal(t, []string{"what is a node?"}, emb.texts)
	assert.Equal(t, 2, ret.k)
	assert.Equal(t, "Nodes are chunks.", resp.Answer)
	assert.Equal(t, "what is a node?", resp.Condensed)
	assert.Len(t, resp.Sources, 2)
	assert.False(t, resp.Cached)
	assert.Equal(t, TokenCounters{Prompt: 10, Completion: 5}, s.Counters)

	msgs := llm.calls[0]
	require.Len(t, msgs, 2)
	assert.Equal(t, "system", msgs[0].Role)
	assert.Equal(t, "You are helpful.", msgs[0].Content)
	prompt := llm.prompt(0)
	assert.Contains(t, prompt, "A node is a chunk of a document.")
	assert.Contains(t, prompt, "Documents hold source text.")
	assert.NotContains(t, prompt, "unrelated")
	assert.Contains(t, prompt, "Query: what is a node?")
}

func TestChatCondensesFollowUp(t *testing.T) {
	llm := &fakeLLM{replies: []string{"How do nodes relate to documents?", "They are parsed from documents."}}
	e, emb, _ := newTestEngine(t, llm, EngineConfig{})
	s := NewSession(Settings{})
	s.Append(Message{Role: RoleUser, Content: "what is a node?"})
	s.Append(Message{Role: RoleAssistant, Content: "A chunk."})

	resp, err := e.Chat(context.Background(), s, "and documents?")
	require.NoError(t, err)

	require.Equal(t, 2, llm.callCount())
	condensePrompt := llm.prompt(0)
	assert.Contains(t, condensePrompt, "user: what is a node?")
	assert.Contains(t, condensePrompt, "assistant: A chunk.")
	assert.Contains(t, condensePrompt, "and documents?")
	assert.NotContains(t, condensePrompt, greeting)

	assert.Equal(t, []string{"How do nodes relate to documents?"}, emb.texts)
	assert.Contains(t, llm.prompt(1), "Query: How do nodes relate to documents?")
	assert.Equal(t, "How do nodes relate to documents?", resp.Condensed)
	assert.Equal(t, "They are parsed from documents.", resp.Answer)
}

func TestChatCacheHit(t *testing.T) {
	llm := &fakeLLM{replies: []string{"cached answer"}, usage: openai.Usage{PromptTokens: 100, CompletionTokens: 20}}
	e, _, _ := newTestEngine(t, llm, EngineConfig{})
	s := NewSession(Settings{Cache: true})

	first, err := e.Chat(context.Background(), s, "what is a node?")
	require.NoError(t, err)
	require.Equal(t, TokenCounters{Prompt: 100, Completion: 20}, s.Counters)

	// a different conversation asking the same text still hits
	other := NewSession(Settings{Cache: true})
	other.Append(Message{Role: RoleUser, Content: "hello"})
	other.Append(Message{Role: RoleAssistant, Content: "hi"})
	second, err := e.Chat(context.Background(), other, "what is a node?")
	require.NoError(t, err)

	assert.Equal(t, 1, llm.callCount())
	assert.True(t, second.Cached)
	assert.Equal(t, first.Answer, second.Answer)
	assert.Equal(t, first.Sources, second.Sources)
	assert.Equal(t, TokenCounters{}, other.Counters)
}

func TestChatCacheDisabled(t *testing.T) {
	llm := &fakeLLM{replies: []string{"answer"}, usage: openai.Usage{PromptTokens: 7, CompletionTokens: 3}}
	e, _, _ := newTestEngine(t, llm, EngineConfig{})
	s := NewSession(Settings{Cache: false})

	for range 2 {
		_, err := e.Chat(context.Background(), s, "what is a node?")
		require.NoError(t, err)
	}
	assert.Equal(t, 2, llm.callCount())
	assert.Equal(t, TokenCounters{Prompt: 14, Completion: 6}, s.Counters)
}

func TestChatCountCachedUsage(t *testing.T) {
	llm := &fakeLLM{replies: []string{"answer"}, usage: openai.Usage{PromptTokens: 50, CompletionTokens: 10}}
	e, _, _ := newTestEngine(t, llm, EngineConfig{CountCachedUsage: true})
	s := NewSession(Settings{Cache: true})

	resp, err := e.Chat(context.Background(), s, "what is a node?")
	require.NoError(t, err)
	_, err = e.Chat(context.Background(), s, "what is a node?")
	require.NoError(t, err)

	wantPrompt := utf8.RuneCountInString(resp.Condensed)
	for _, n := range resp.Sources {
		wantPrompt += utf8.RuneCountInString(n.Text)
	}
	assert.Equal(t, 1, llm.callCount())
	assert.Equal(t, TokenCounters{Prompt: 50 + wantPrompt, Completion: 10 + len("answer")}, s.Counters)
}

func TestChatUsageFallback(t *testing.T) {
	llm := &fakeLLM{replies: []string{"answer"}}
	e, _, _ := newTestEngine(t, llm, EngineConfig{SystemPrompt: "sys"})
	s := NewSession(Settings{})

	resp, err := e.Chat(context.Background(), s, "what is a node?")
	require.NoError(t, err)

	wantPrompt := utf8.RuneCountInString("sys") + utf8.RuneCountInString(llm.prompt(0))
	assert.Equal(t, wantPrompt, resp.Usage.PromptTokens)
	assert.Equal(t, len("answer"), resp.Usage.CompletionTokens)
	assert.Equal(t, TokenCounters{Prompt: wantPrompt, Completion: len("answer")}, s.Counters)
}

func TestChatErrorPropagates(t *testing.T) {
	llm := &fakeLLM{replies: []string{"answer"}, err: errors.New("provider down")}
	e, _, _ := newTestEngine(t, llm, EngineConfig{})
	s := NewSession(Settings{Cache: true})

	_, err := e.Chat(context.Background(), s, "what is a node?")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "provider down")
	assert.Equal(t, TokenCounters{}, s.Counters)

	llm.err = nil
	resp, err := e.Chat(context.Background(), s, "what is a node?")
	require.NoError(t, err)
	assert.False(t, resp.Cached)
	assert.Equal(t, 2, llm.callCount())
}

func TestChatEmbedError(t *testing.T) {
	llm := &fakeLLM{replies: []string{"answer"}}
	e, emb, _ := newTestEngine(t, llm, EngineConfig{})
	emb.err = errors.New("rate limited")

	_, err := e.Chat(context.Background(), NewSession(Settings{}), "q")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "embed question")
	assert.Equal(t, 0, llm.callCount())
}

func TestChatCountsUsageBeforeFailure(t *testing.T) {
	llm := &fakeLLM{replies: []string{"standalone question"}, usage: openai.Usage{PromptTokens: 40, CompletionTokens: 8}, failAt: 2}
	e, _, _ := newTestEngine(t, llm, EngineConfig{})
	s := NewSession(Settings{Cache: true})
	s.Append(Message{Role: RoleUser, Content: "what is a node?"})
	s.Append(Message{Role: RoleAssistant, Content: "A chunk."})

	_, err := e.Chat(context.Background(), s, "and documents?")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "answer call failed")

	assert.Equal(t, 2, llm.callCount())
	assert.Equal(t, TokenCounters{Prompt: 40, Completion: 8}, s.Counters)
}

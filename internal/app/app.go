package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/dcarpintero/llamaindexchat/internal/chunker"
	"github.com/dcarpintero/llamaindexchat/internal/config"
	"github.com/dcarpintero/llamaindexchat/internal/github"
	"github.com/dcarpintero/llamaindexchat/internal/index"
	"github.com/dcarpintero/llamaindexchat/internal/logger"
	"github.com/dcarpintero/llamaindexchat/internal/openai"
)

type App struct {
	cfg     *config.Config
	llm     *openai.Client
	tok     chunker.Tokenizer
	engine  *Engine
	session *Session
	in      io.Reader
	out     io.Writer
}

// New checks the provider credential and builds the model client. No remote
// call is made.
func New(cfg *config.Config) (*App, error) {
	if err := cfg.RequireOpenAI(); err != nil {
		return nil, err
	}

	llm, err := openai.NewClient(openai.Config{
		APIKey:     cfg.OpenAIKey,
		BaseURL:    cfg.OpenAIBaseURL,
		ChatModel:  cfg.LLMModel,
		EmbedModel: cfg.EmbedModel,
	})
	if err != nil {
		return nil, fmt.Errorf("create model client: %w", err)
	}

	logger.Debug("model client ready", "chat_model", llm.ChatModel(), "embed_model", llm.EmbedModel())

	tok, err := chunker.NewTokenizer(cfg.Tokenizer, cfg.EmbedModel)
	if err != nil {
		return nil, fmt.Errorf("create tokenizer: %w", err)
	}

	return &App{
		cfg: cfg,
		llm: llm,
		tok: tok,
		in:  os.Stdin,
		out: os.Stdout,
	}, nil
}

func (a *App) SetIO(in io.Reader, out io.Writer) {
	a.in = in
	a.out = out
}

// Ingest fetches the configured repository and replaces the persisted index.
func (a *App) Ingest(ctx context.Context) (index.Manifest, error) {
	if err := a.cfg.RequireGitHub(); err != nil {
		return index.Manifest{}, err
	}

	client, err := github.NewClient(ctx, a.cfg.GitHubToken)
	if err != nil {
		return index.Manifest{}, err
	}

	chunkCfg := chunker.Config{MaxChunkSize: a.cfg.ChunkSize, Overlap: a.cfg.ChunkOverlap}
	factory, err := chunker.NewFactory(chunkCfg, a.tok)
	if err != nil {
		return index.Manifest{}, err
	}

	ing := NewIngester(github.NewFetcher(client), factory, a.llm, IngestOptions{
		Query: github.Query{
			Owner:       a.cfg.GitHubOwner,
			Repo:        a.cfg.GitHubRepo,
			Branch:      a.cfg.GitHubBranch,
			Dirs:        a.cfg.GitHubDirs,
			Exts:        a.cfg.GitHubExts,
			Concurrency: a.cfg.FetchConcurrency,
		},
		Author:     a.cfg.DocAuthor,
		StorageDir: a.cfg.StorageDir,
		EmbedModel: a.cfg.EmbedModel,
		BatchSize:  a.cfg.EmbedBatch,
		Chunk:      chunkCfg,
	})
	return ing.Run(ctx)
}

// Init loads the index (once per process) and starts a fresh session.
func (a *App) Init() error {
	logger.Info("loading vector store index", "dir", a.cfg.StorageDir)
	idx, err := index.LoadCached(a.cfg.StorageDir, a.cfg.EmbedModel)
	if err != nil {
		if errors.Is(err, index.ErrNotFound) {
			return fmt.Errorf("%w (run the ingest command first)", err)
		}
		return err
	}

	a.engine, err = NewEngine(a.llm, a.llm, idx, a.tok, EngineConfig{
		TopK:             a.cfg.TopK,
		SystemPrompt:     a.cfg.SystemPrompt,
		Temperature:      a.cfg.Temperature,
		CacheSize:        a.cfg.CacheSize,
		CountCachedUsage: a.cfg.CountCachedUsage,
	})
	if err != nil {
		return err
	}

	a.session = NewSession(Settings{
		Cache:     a.cfg.WithCache,
		Sources:   a.cfg.WithSources,
		Streaming: a.cfg.WithStreaming,
	})
	return nil
}

// Ask answers one question and records both turns in the session. On error
// the session is left as it was.
func (a *App) Ask(ctx context.Context, question string) (Message, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return Message{}, errors.New("empty question")
	}

	resp, err := a.engine.Chat(ctx, a.session, question)
	if err != nil {
		return Message{}, err
	}

	a.session.Append(Message{Role: RoleUser, Content: question})
	msg := Message{Role: RoleAssistant, Content: resp.Answer, Sources: SourcesFromNodes(resp.Sources)}
	a.session.Append(msg)
	return msg, nil
}

func (a *App) Session() *Session {
	return a.session
}

func (a *App) prices() Prices {
	return Prices{PromptPer1K: a.cfg.PromptPrice, CompletionPer1K: a.cfg.CompletionPrice}
}

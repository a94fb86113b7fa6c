package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/dcarpintero/llamaindexchat/internal/app"
	"github.com/dcarpintero/llamaindexchat/internal/config"
	"github.com/dcarpintero/llamaindexchat/internal/logger"
)

type rootFlags struct {
	storageDir string
	logLevel   string
	noCache    bool
	noSources  bool
}

func main() {
	// .env is optional
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd().ExecuteContext(ctx); err != nil {
		logger.Error("command failed", "err", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	flags := &rootFlags{}
	root := &cobra.Command{
		Use:           "llamaindexchat",
		Short:         "Chat with the LlamaIndex docs",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&flags.storageDir, "storage", "", "index storage directory (overrides STORAGE_DIR)")
	root.PersistentFlags().StringVar(&flags.logLevel, "log-level", "", "log level (overrides LOG_LEVEL)")
	root.PersistentFlags().BoolVar(&flags.noCache, "no-cache", false, "disable the response cache")
	root.PersistentFlags().BoolVar(&flags.noSources, "no-sources", false, "hide response sources")

	root.AddCommand(
		ingestCmd(flags),
		chatCmd(flags),
		askCmd(flags),
	)
	return root
}

func ingestCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "ingest",
		Short: "Fetch the docs from GitHub and build the vector index",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(flags)
			if err != nil {
				return err
			}
			a, err := app.New(cfg)
			if err != nil {
				return err
			}
			m, err := a.Ingest(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "indexed %d chunks from %d documents into %s\n",
				m.Chunks, m.Documents, cfg.StorageDir)
			return nil
		},
	}
}

func chatCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive chat over the indexed docs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newChatApp(flags)
			if err != nil {
				return err
			}
			a.SetIO(cmd.InOrStdin(), cmd.OutOrStdout())
			return a.Run(cmd.Context())
		},
	}
}

func askCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "ask <question>",
		Short: "Answer a single question and exit",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newChatApp(flags)
			if err != nil {
				return err
			}
			a.SetIO(cmd.InOrStdin(), cmd.OutOrStdout())
			msg, err := a.Ask(cmd.Context(), strings.Join(args, " "))
			if err != nil {
				return err
			}
			a.Render(msg)
			return nil
		},
	}
}

func newChatApp(flags *rootFlags) (*app.App, error) {
	cfg, err := loadConfig(flags)
	if err != nil {
		return nil, err
	}
	if cfg.OpenAIKey == "" {
		key, err := promptSecret("OpenAI API key: ")
		if err != nil {
			return nil, err
		}
		cfg.OpenAIKey = key
	}
	a, err := app.New(cfg)
	if err != nil {
		return nil, err
	}
	if err := a.Init(); err != nil {
		return nil, err
	}
	return a, nil
}

func loadConfig(flags *rootFlags) (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if flags.storageDir != "" {
		cfg.StorageDir = flags.storageDir
	}
	if flags.logLevel != "" {
		cfg.LogLevel = flags.logLevel
	}
	if flags.noCache {
		cfg.WithCache = false
	}
	if flags.noSources {
		cfg.WithSources = false
	}
	logger.Init(logger.Config{Level: cfg.LogLevel, JSON: cfg.LogJSON})
	return cfg, nil
}

// promptSecret reads a line from the terminal without echo. Without a
// terminal the key must come from the environment.
func promptSecret(prompt string) (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", fmt.Errorf("%w: OPENAI_API_KEY environment variable not set", config.ErrMissingCredential)
	}
	fmt.Fprint(os.Stderr, prompt)
	b, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("read api key: %w", err)
	}
	return strings.TrimSpace(string(b)), nil
}

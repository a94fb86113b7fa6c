package app

import (
	"bufio"
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/fatih/color"

	"github.com/dcarpintero/llamaindexchat/internal/logger"
)

var (
	assistantColor = color.New(color.FgGreen)
	sourcesColor   = color.New(color.FgCyan)
	errorColor     = color.New(color.FgRed)
	mutedColor     = color.New(color.Faint)
)

const helpText = `Commands:
  /1 .. /4            ask a sample question (once per conversation)
  /clear              clear the conversation
  /cost               show token usage and cost estimation
  /sources on|off     display sources
  /cache on|off       cache results
  /stream on|off      streaming (not available)
  /help               this message
  /quit               exit`

// Run reads questions and commands from the input, one per line, until EOF
// or cancellation.
func (a *App) Run(ctx context.Context) error {
	logger.Info("chat started")
	a.printGreeting()

	scanner := bufio.NewScanner(a.in)
	const maxLineSize = 1024 * 1024
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)

	for {
		select {
		case <-ctx.Done():
			logger.Info("shutting down chat")
			return nil
		default:
		}

		fmt.Fprint(a.out, "> ")
		if !scanner.Scan() {
			if err := scanner.Err(); err != nil {
				return fmt.Errorf("stdin error: %w", err)
			}
			return nil
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "/") {
			if quit := a.handleCommand(ctx, line); quit {
				return nil
			}
			continue
		}
		a.handleQuestion(ctx, line)
	}
}

func (a *App) printGreeting() {
	assistantColor.Fprintln(a.out, a.session.Messages[0].Content)
	for i, q := range PresetQuestions {
		mutedColor.Fprintf(a.out, "  /%d %s\n", i+1, q)
	}
}

func (a *App) handleCommand(ctx context.Context, line string) (quit bool) {
	fields := strings.Fields(line)
	cmd, arg := fields[0], ""
	if len(fields) > 1 {
		arg = strings.ToLower(fields[1])
	}

	if n, err := strconv.Atoi(strings.TrimPrefix(cmd, "/")); err == nil {
		q, err := a.session.UsePreset(n)
		if err != nil {
			errorColor.Fprintln(a.out, err)
			return false
		}
		fmt.Fprintf(a.out, "%s\n", q)
		a.handleQuestion(ctx, q)
		return false
	}

	switch cmd {
	case "/quit", "/exit":
		return true
	case "/help":
		fmt.Fprintln(a.out, helpText)
	case "/clear":
		a.session.Reset()
		a.printGreeting()
	case "/cost":
		fmt.Fprintln(a.out, FormatCost(a.session.Counters, a.prices()))
	case "/sources":
		a.toggle(&a.session.Settings.Sources, "display sources", arg)
	case "/cache":
		a.toggle(&a.session.Settings.Cache, "cache results", arg)
	case "/stream":
		a.toggle(&a.session.Settings.Streaming, "streaming", arg)
		mutedColor.Fprintln(a.out, "streaming is not available; answers are printed when complete")
	default:
		errorColor.Fprintf(a.out, "unknown command %s (try /help)\n", cmd)
	}
	return false
}

func (a *App) toggle(flag *bool, name, arg string) {
	switch arg {
	case "on":
		*flag = true
	case "off":
		*flag = false
	case "":
		*flag = !*flag
	default:
		errorColor.Fprintf(a.out, "expected on or off, got %q\n", arg)
		return
	}
	state := "off"
	if *flag {
		state = "on"
	}
	mutedColor.Fprintf(a.out, "%s: %s\n", name, state)
}

func (a *App) handleQuestion(ctx context.Context, question string) {
	msg, err := a.Ask(ctx, question)
	if err != nil {
		logger.Error("query failed", "err", err)
		errorColor.Fprintf(a.out, "Error: %v\n", err)
		return
	}
	a.render(msg)
}

func (a *App) render(m Message) {
	if a.session.Settings.Sources && len(m.Sources) > 0 {
		sourcesColor.Fprintf(a.out, "The sources of this response are:\n\n%s\n\n",
			FormatSources(a.cfg.SourceBaseURL, m.Sources))
	}
	assistantColor.Fprintln(a.out, m.Content)
}

// Render prints one assistant message honouring the session settings.
func (a *App) Render(m Message) {
	a.render(m)
}

package app

import (
	"fmt"

	"github.com/dcarpintero/llamaindexchat/internal/openai"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

const greeting = "Try one of the sample questions or ask your own!"

// PresetQuestions can each be asked once per session until it is cleared.
var PresetQuestions = []string{
	"explain the basic usage pattern in LlamaIndex",
	"how can I ingest data from the GoogleDocsReader?",
	"what's the difference between document and node?",
	"how can I make a RAG application performant?",
}

type Message struct {
	Role    Role
	Content string
	Sources []Source
}

// Settings are the per-session toggles.
type Settings struct {
	Cache   bool
	Sources bool
	// Streaming is accepted for parity and has no effect.
	Streaming bool
}

// TokenCounters hold running totals of billed tokens.
type TokenCounters struct {
	Prompt     int
	Completion int
}

func (c *TokenCounters) Add(u openai.Usage) {
	c.Prompt += u.PromptTokens
	c.Completion += u.CompletionTokens
}

// Session is the state of one conversation. It is never persisted.
type Session struct {
	Messages []Message
	Counters TokenCounters
	Settings Settings

	usedPresets map[int]bool
}

func NewSession(settings Settings) *Session {
	s := &Session{Settings: settings}
	s.Reset()
	return s
}

// Reset clears the conversation and re-enables preset questions. Token
// counters and settings survive.
func (s *Session) Reset() {
	s.Messages = []Message{{Role: RoleAssistant, Content: greeting}}
	s.usedPresets = make(map[int]bool)
}

// UsePreset returns preset question n (1-based) and marks it used.
func (s *Session) UsePreset(n int) (string, error) {
	if n < 1 || n > len(PresetQuestions) {
		return "", fmt.Errorf("no sample question %d", n)
	}
	if s.usedPresets[n] {
		return "", fmt.Errorf("sample question %d was already asked", n)
	}
	s.usedPresets[n] = true
	return PresetQuestions[n-1], nil
}

func (s *Session) PresetUsed(n int) bool {
	return s.usedPresets[n]
}

func (s *Session) Append(m Message) {
	s.Messages = append(s.Messages, m)
}

// History returns the conversation turns, skipping the greeting.
func (s *Session) History() []openai.Message {
	start := len(s.Messages)
	for i, m := range s.Messages {
		if m.Role == RoleUser {
			start = i
			break
		}
	}
	out := make([]openai.Message, 0, len(s.Messages)-start)
	for _, m := range s.Messages[start:] {
		out = append(out, openai.Message{Role: string(m.Role), Content: m.Content})
	}
	return out
}

func (s *Session) Last() Message {
	return s.Messages[len(s.Messages)-1]
}

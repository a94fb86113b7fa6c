package chunker

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"

	"github.com/dcarpintero/llamaindexchat/internal/logger"
)

const defaultEncoding = "cl100k_base"

// Tokenizer maps text to units and back. Decode(Encode(s)) must equal s for
// valid UTF-8 s.
type Tokenizer interface {
	Encode(text string) []int
	Decode(tokens []int) string
}

// NewTokenizer returns the tokenizer named by kind ("tiktoken" or "runes").
// For tiktoken the encoding is resolved from model, falling back to cl100k_base.
// The BPE ranks are downloaded on first use; when that fails the rune
// tokenizer is used and a warning is logged.
func NewTokenizer(kind, model string) (Tokenizer, error) {
	switch kind {
	case "runes":
		return RuneTokenizer{}, nil
	case "", "tiktoken":
		tok, err := NewTiktokenizer(model)
		if err != nil {
			logger.Warn("tiktoken unavailable, counting runes instead", "model", model, "err", err)
			return RuneTokenizer{}, nil
		}
		return tok, nil
	default:
		return nil, fmt.Errorf("chunker: unknown tokenizer %q", kind)
	}
}

// Tiktokenizer counts in the BPE tokens OpenAI models use.
type Tiktokenizer struct {
	tke *tiktoken.Tiktoken
}

var (
	encodingForModel = tiktoken.EncodingForModel
	getEncoding      = tiktoken.GetEncoding
)

func NewTiktokenizer(model string) (*Tiktokenizer, error) {
	tke, err := encodingForModel(model)
	if err != nil {
		tke, err = getEncoding(defaultEncoding)
		if err != nil {
			return nil, fmt.Errorf("chunker: load encoding %s: %w", defaultEncoding, err)
		}
	}
	return &Tiktokenizer{tke: tke}, nil
}

func (t *Tiktokenizer) Encode(text string) []int {
	return t.tke.Encode(text, nil, nil)
}

func (t *Tiktokenizer) Decode(tokens []int) string {
	return t.tke.Decode(tokens)
}

// RuneTokenizer treats every rune as one unit. It needs no vocabulary files.
// Invalid UTF-8 is replaced with U+FFFD before encoding, so Decode(Encode(s))
// equals s only for valid UTF-8 input. Callers that map tokens back to byte
// offsets should pass SanitizeUTF8(s).
type RuneTokenizer struct{}

func (RuneTokenizer) Encode(text string) []int {
	runes := []rune(SanitizeUTF8(text))
	out := make([]int, len(runes))
	for i, r := range runes {
		out[i] = int(r)
	}
	return out
}

func (RuneTokenizer) Decode(tokens []int) string {
	runes := make([]rune, len(tokens))
	for i, t := range tokens {
		runes[i] = rune(t)
	}
	return string(runes)
}

// SanitizeUTF8 replaces each run of invalid bytes with U+FFFD.
func SanitizeUTF8(s string) string {
	if utf8.ValidString(s) {
		return s
	}
	return strings.ToValidUTF8(s, string(utf8.RuneError))
}

// CountTokens is a convenience for usage accounting.
func CountTokens(tok Tokenizer, text string) int {
	if tok == nil || text == "" {
		return 0
	}
	return len(tok.Encode(text))
}

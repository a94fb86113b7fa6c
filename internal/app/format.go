package app

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/dcarpintero/llamaindexchat/internal/chunker"
)

// Source is the displayable citation of a source node.
type Source struct {
	Filename string
	Author   string
	Score    float64
}

// SourcesFromNodes extracts citations, skipping nodes without filename or author.
func SourcesFromNodes(nodes []SourceNode) []Source {
	out := make([]Source, 0, len(nodes))
	for _, n := range nodes {
		filename, okF := n.Metadata[chunker.MetaFilename]
		author, okA := n.Metadata[chunker.MetaAuthor]
		if !okF || !okA || filename == "" {
			continue
		}
		out = append(out, Source{
			Filename: normalizePath(filename),
			Author:   author,
			Score:    math.Round(float64(n.Score)*1000) / 1000,
		})
	}
	return out
}

// FormatSources renders one line per source as "- <base><filename> (author: '<author>'; score: <score>)".
func FormatSources(base string, sources []Source) string {
	lines := make([]string, 0, len(sources))
	for _, s := range sources {
		lines = append(lines, fmt.Sprintf("- %s%s (author: '%s'; score: %s)",
			base, s.Filename, s.Author, strconv.FormatFloat(s.Score, 'f', -1, 64)))
	}
	return strings.Join(lines, "\n")
}

type Prices struct {
	PromptPer1K     float64
	CompletionPer1K float64
}

// Cost is the estimated spend for the counted tokens, rounded to 5 decimals.
func Cost(c TokenCounters, p Prices) decimal.Decimal {
	thousand := decimal.NewFromInt(1000)
	in := decimal.NewFromInt(int64(c.Prompt)).Div(thousand).Mul(decimal.NewFromFloat(p.PromptPer1K))
	out := decimal.NewFromInt(int64(c.Completion)).Div(thousand).Mul(decimal.NewFromFloat(p.CompletionPer1K))
	return in.Add(out).Round(5)
}

func FormatCost(c TokenCounters, p Prices) string {
	return fmt.Sprintf("LLM Prompt: %d tokens\nLLM Completion: %d tokens\nCost Estimation: $%s",
		c.Prompt, c.Completion, Cost(c, p).String())
}

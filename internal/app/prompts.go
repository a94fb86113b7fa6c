package app

import (
	"fmt"
	"strings"

	"github.com/dcarpintero/llamaindexchat/internal/openai"
)

// buildCondensePrompt asks the model to rewrite a follow-up into a
// standalone question.
func buildCondensePrompt(history []openai.Message, question string) string {
	var buf strings.Builder

	buf.WriteString("Given a conversation (between Human and Assistant) and a follow up message from Human, ")
	buf.WriteString("rewrite the message to be a standalone question that captures all relevant context ")
	buf.WriteString("from the conversation.\n\n")
	buf.WriteString("<Chat History>\n")
	for _, m := range history {
		buf.WriteString(fmt.Sprintf("%s: %s\n", m.Role, m.Content))
	}
	buf.WriteString("\n<Follow Up Message>\n")
	buf.WriteString(question)
	buf.WriteString("\n\n<Standalone question>\n")

	return buf.String()
}

// buildQAPrompt puts the retrieved chunks in front of the question.
func buildQAPrompt(question string, nodes []SourceNode) string {
	var buf strings.Builder

	buf.WriteString("Context information is below.\n")
	buf.WriteString("---------------------\n")
	for i, n := range nodes {
		if i > 0 {
			buf.WriteString("\n\n")
		}
		if f := n.Metadata["filename"]; f != "" {
			buf.WriteString(fmt.Sprintf("filename: %s\n\n", f))
		}
		buf.WriteString(n.Text)
	}
	buf.WriteString("\n---------------------\n")
	buf.WriteString("Given the context information and not prior knowledge, answer the query.\n")
	buf.WriteString("Query: ")
	buf.WriteString(question)
	buf.WriteString("\nAnswer: ")

	return buf.String()
}

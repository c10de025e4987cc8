// Package prompt renders the inference prompt. Build is pure: no I/O, no
// clock, same inputs always produce byte-identical output.
package prompt

import (
	"strings"

	"chatrelay/internal/domain"
)

// Build combines the system message, an optional transcript, and the new user
// message into the single text blob the inference backend consumes. The
// history section is omitted entirely when the transcript is empty.
func Build(systemMessage string, transcript domain.Transcript, userMessage string) string {
	var b strings.Builder
	b.WriteString(systemMessage)
	b.WriteString("\n\n")

	if len(transcript) > 0 {
		b.WriteString("Conversation history:\n")
		for _, e := range transcript {
			if e.Role == domain.RoleAssistant {
				b.WriteString("Assistant: ")
			} else {
				b.WriteString("User: ")
			}
			b.WriteString(e.Text)
			b.WriteString("\n")
		}
	}

	b.WriteString("User: ")
	b.WriteString(userMessage)
	b.WriteString("\nAssistant:")
	return b.String()
}

package discord

import (
	"fmt"
	"strings"

	"reddit_watcher/internal/model"
)

const snippetLimit = 200

// FormatMatch formats a match as a Discord notification message.
func FormatMatch(m *model.Match) string {
	text := m.Title
	if text == "" {
		text = m.Body
	}
	snippet := []rune(text)
	if len(snippet) > snippetLimit {
		snippet = append(snippet[:snippetLimit], []rune("...")...)
	}

	header := fmt.Sprintf("[%s] r/%s", strings.ToUpper(string(m.Kind)), m.Subreddit)
	if len(m.Keywords) > 0 {
		header += " | " + strings.Join(m.Keywords, ", ")
	}

	var b strings.Builder
	fmt.Fprintf(&b, "**%s**\n", header)
	b.WriteString(string(snippet))
	b.WriteString("\n")
	b.WriteString(m.URL)
	return b.String()
}

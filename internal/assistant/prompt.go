package assistant

import "strings"

// DefaultSystemPrompt is used when no system prompt is configured
const DefaultSystemPrompt = `You are Langly, a personal dashboard assistant.
Answer concisely. Use markdown for lists and tables.`

// SystemPrompt returns the effective system prompt for req
func SystemPrompt(req Request) string {
	if s := strings.TrimSpace(req.SystemPrompt); s != "" {
		return s
	}
	return DefaultSystemPrompt
}

// LineBuffer accumulates streamed text and yields complete lines
type LineBuffer struct {
	buf strings.Builder
}

// Write appends chunk and returns every completed, non-blank line
func (l *LineBuffer) Write(chunk string) []string {
	l.buf.WriteString(chunk)
	text := l.buf.String()

	idx := strings.LastIndexByte(text, '\n')
	if idx < 0 {
		return nil
	}

	l.buf.Reset()
	l.buf.WriteString(text[idx+1:])
	return nonBlankLines(text[:idx])
}

// Flush returns whatever remains in the buffer
func (l *LineBuffer) Flush() []string {
	text := l.buf.String()
	l.buf.Reset()
	return nonBlankLines(text)
}

func nonBlankLines(text string) []string {
	var lines []string
	for _, line := range strings.Split(text, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			lines = append(lines, line)
		}
	}
	return lines
}

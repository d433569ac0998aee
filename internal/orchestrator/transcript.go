package orchestrator

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"conclave/pkg/types"
)

// Transcript formats.
const (
	FormatMarkdown = "md"
	FormatJSON     = "json"
)

// MarkdownTranscript renders the conversation as a Markdown document.
func MarkdownTranscript(conv *types.Conversation) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Conversation %s\n\n", conv.ID)
	fmt.Fprintf(&b, "Started: %s\n", conv.CreatedAt.UTC().Format(time.RFC3339))

	for _, round := range conv.Rounds {
		fmt.Fprintf(&b, "\n## Round %d\n\n", round.Number)
		if round.User != nil {
			fmt.Fprintf(&b, "_Time: %s_\n\n", round.User.CreatedAt.UTC().Format(time.RFC3339))
			if titles := attachmentTitles(round.User); len(titles) > 0 {
				fmt.Fprintf(&b, "Attachments: %s\n\n", strings.Join(titles, ", "))
			}
			b.WriteString("### User\n\n")
			writeFenced(&b, round.User.Content)
		}
		for _, agent := range round.Agents {
			fmt.Fprintf(&b, "### %s\n\n", agentLabel(agent))
			writeFenced(&b, agent.Content)
		}
	}
	return b.String()
}

// JSONTranscript renders the conversation as indented JSON.
func JSONTranscript(conv *types.Conversation) ([]byte, error) {
	return json.MarshalIndent(conv, "", "  ")
}

// WriteTranscript writes the transcript file into dir and returns its
// path.
func WriteTranscript(dir string, conv *types.Conversation, format string) (string, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", fmt.Errorf("failed to create transcripts directory: %w", err)
	}

	var content []byte
	ext := format
	switch format {
	case FormatJSON:
		data, err := JSONTranscript(conv)
		if err != nil {
			return "", fmt.Errorf("failed to render transcript: %w", err)
		}
		content = data
	case FormatMarkdown, "":
		content = []byte(MarkdownTranscript(conv))
		ext = FormatMarkdown
	default:
		return "", fmt.Errorf("unknown transcript format %q", format)
	}

	path := filepath.Join(dir, fmt.Sprintf("conversation-%s.%s", conv.ID, ext))
	if err := os.WriteFile(path, content, 0o640); err != nil {
		return "", fmt.Errorf("failed to write transcript: %w", err)
	}
	return path, nil
}

func writeFenced(b *strings.Builder, content string) {
	b.WriteString("```\n")
	b.WriteString(content)
	if !strings.HasSuffix(content, "\n") {
		b.WriteString("\n")
	}
	b.WriteString("```\n\n")
}

func agentLabel(msg *types.Message) string {
	if name, ok := msg.Metadata["name"].(string); ok && name != "" {
		return name
	}
	if model, ok := msg.Metadata["model_id"].(string); ok && model != "" {
		return model
	}
	return msg.Speaker
}

func attachmentTitles(msg *types.Message) []string {
	raw, ok := msg.Metadata["attachments"].([]any)
	if !ok {
		return nil
	}
	var titles []string
	for _, item := range raw {
		if title, ok := item.(string); ok && title != "" {
			titles = append(titles, title)
		}
	}
	return titles
}

// Package export renders conversations for use outside the portal.
// Three formats: json, markdown, csv.
package export

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/chatlens/chatlens/pkg/insight"
	"github.com/chatlens/chatlens/pkg/store"
)

type Format string

const (
	FormatJSON     Format = "json"
	FormatMarkdown Format = "markdown"
	FormatCSV      Format = "csv"
)

var ErrUnsupportedFormat = errors.New("unsupported export format")

// ParseFormat normalizes a user-supplied format name.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "json":
		return FormatJSON, nil
	case "markdown", "md":
		return FormatMarkdown, nil
	case "csv":
		return FormatCSV, nil
	}
	return "", fmt.Errorf("%w: %q (supported: json, markdown, csv)", ErrUnsupportedFormat, s)
}

// Render serializes a conversation with its messages in the given format.
func Render(format Format, conv store.Conversation) ([]byte, error) {
	switch format {
	case FormatJSON:
		return renderJSON(conv)
	case FormatMarkdown:
		return renderMarkdown(conv)
	case FormatCSV:
		return renderCSV(conv)
	}
	return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
}

type jsonEnvelope struct {
	Conversation jsonConversation `json:"conversation"`
	Messages     []jsonMessage    `json:"messages"`
	ExportDate   time.Time        `json:"export_date"`
	ExportFormat string           `json:"export_format"`
}

type jsonConversation struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	Summary      string    `json:"summary,omitempty"`
	Status       string    `json:"status"`
	Pinned       bool      `json:"pinned"`
	MessageCount int       `json:"message_count"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

type jsonMessage struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
	Truncated bool      `json:"truncated,omitempty"`
	ModelUsed string    `json:"model_used,omitempty"`
}

func renderJSON(conv store.Conversation) ([]byte, error) {
	env := jsonEnvelope{
		Conversation: jsonConversation{
			ID:           conv.ID,
			Title:        conv.Title,
			Summary:      conv.Summary,
			Status:       string(conv.Status),
			Pinned:       conv.Pinned,
			MessageCount: len(conv.Messages),
			CreatedAt:    conv.CreatedAt,
			UpdatedAt:    conv.UpdatedAt,
		},
		Messages:     make([]jsonMessage, 0, len(conv.Messages)),
		ExportDate:   time.Now(),
		ExportFormat: "json",
	}
	for _, m := range conv.Messages {
		env.Messages = append(env.Messages, jsonMessage{
			Role:      string(m.Role),
			Content:   m.Content,
			CreatedAt: m.CreatedAt,
			Truncated: m.Truncated,
			ModelUsed: m.ModelUsed,
		})
	}
	return json.MarshalIndent(env, "", "  ")
}

func renderMarkdown(conv store.Conversation) ([]byte, error) {
	var b bytes.Buffer

	fmt.Fprintf(&b, "# %s\n\n", conv.Title)
	fmt.Fprintf(&b, "## Conversation Details\n")
	fmt.Fprintf(&b, "- **ID:** %s\n", conv.ID)
	fmt.Fprintf(&b, "- **Created:** %s\n", conv.CreatedAt.Format(time.RFC3339))
	fmt.Fprintf(&b, "- **Updated:** %s\n", conv.UpdatedAt.Format(time.RFC3339))
	fmt.Fprintf(&b, "- **Status:** %s\n", conv.Status)

	summary := conv.Summary
	if summary == "" {
		summary = "No summary available"
	}
	fmt.Fprintf(&b, "\n## Summary\n%s\n\n---\n\n## Messages\n\n", summary)

	for _, m := range conv.Messages {
		fmt.Fprintf(&b, "### %s\n", strings.ToUpper(string(m.Role)))
		fmt.Fprintf(&b, "- **Time:** %s\n", m.CreatedAt.Format(time.RFC3339))
		fmt.Fprintf(&b, "- **Sentiment:** %s\n\n", sentimentLabel(m.Content))
		fmt.Fprintf(&b, "%s\n\n---\n\n", m.Content)
	}

	fmt.Fprintf(&b, "*Exported on %s*\n", time.Now().Format("2006-01-02 15:04:05"))
	return b.Bytes(), nil
}

func renderCSV(conv store.Conversation) ([]byte, error) {
	var b bytes.Buffer
	w := csv.NewWriter(&b)

	if err := w.Write([]string{"Timestamp", "Role", "Sentiment", "Content"}); err != nil {
		return nil, err
	}
	for _, m := range conv.Messages {
		row := []string{
			m.CreatedAt.Format(time.RFC3339),
			string(m.Role),
			sentimentLabel(m.Content),
			m.Content,
		}
		if err := w.Write(row); err != nil {
			return nil, err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return b.Bytes(), nil
}

func sentimentLabel(content string) string {
	switch score := insight.SentimentScore(content); {
	case score > 0.2:
		return "positive"
	case score < -0.2:
		return "negative"
	default:
		return "neutral"
	}
}

// Filename builds a filesystem-safe export filename from the title.
func Filename(title string, format Format) string {
	var safe strings.Builder
	for _, r := range title {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			safe.WriteRune(r)
		case r == ' ', r == '-', r == '_':
			safe.WriteRune(r)
		}
		if safe.Len() >= 50 {
			break
		}
	}
	name := strings.TrimSpace(safe.String())
	if name == "" {
		name = "conversation"
	}
	ext := string(format)
	if format == FormatMarkdown {
		ext = "md"
	}
	return fmt.Sprintf("%s_%s.%s", name, time.Now().Format("20060102_150405"), ext)
}

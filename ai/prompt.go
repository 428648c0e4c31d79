package ai

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/schacon/git-glance/model"
)

const systemPrompt = "You are a senior software developer writing changelog entries for a release. " +
	"You answer with JSON only."

// maxFieldLen bounds each free-text field copied into a prompt.
const maxFieldLen = 4000

// BuildPrompt describes one change unit: the pull request when there is one,
// otherwise the raw commit messages.
func BuildPrompt(unit model.ChangeUnit) string {
	var b strings.Builder

	if pr := unit.PR; pr != nil {
		b.WriteString("Write a category and a one line summary for this pull request.\n\n")
		fmt.Fprintf(&b, "Title: %s\n", pr.Title)
		if len(pr.Labels) > 0 {
			fmt.Fprintf(&b, "Labels: %s\n", strings.Join(pr.Labels, ", "))
		}
		if body := strings.TrimSpace(pr.Body); body != "" {
			fmt.Fprintf(&b, "Body:\n%s\n", clip(body))
		}
		if len(pr.Comments) > 0 {
			b.WriteString("Comments:\n")
			for _, c := range pr.Comments {
				fmt.Fprintf(&b, "- %s\n", indent(clip(strings.TrimSpace(c))))
			}
		}
		b.WriteString("Commit summaries:\n")
		for _, msg := range unit.Messages {
			fmt.Fprintf(&b, "* %s\n", model.FirstLine(msg))
		}
	} else {
		b.WriteString("Write a category and a one line summary for this change.\n\n")
		b.WriteString("Commit messages:\n")
		for _, msg := range unit.Messages {
			fmt.Fprintf(&b, "* %s\n", indent(clip(strings.TrimSpace(msg))))
		}
	}

	names := make([]string, len(model.DisplayOrder))
	for i, c := range model.DisplayOrder {
		names[i] = string(c)
	}
	fmt.Fprintf(&b, "\nThe category must be one of: %s.\n", strings.Join(names, ", "))
	b.WriteString(`Respond with only this JSON object: {"category": "<category>", "summary": "<one line summary>"}`)
	b.WriteString("\n")
	return b.String()
}

type rawResult struct {
	Category string `json:"category"`
	Tag      string `json:"tag"`
	Summary  string `json:"summary"`
}

// ParseResult decodes a model answer. Markdown code fences and prose around the
// JSON object are tolerated; anything else is a malformed response.
func ParseResult(provider, raw string) (model.ClassificationResult, error) {
	text := stripFences(raw)
	start, end := strings.IndexByte(text, '{'), strings.LastIndexByte(text, '}')
	if start < 0 || end < start {
		return model.ClassificationResult{}, malformed(provider, "no JSON object in response")
	}

	var r rawResult
	if err := json.Unmarshal([]byte(text[start:end+1]), &r); err != nil {
		return model.ClassificationResult{}, model.NewProviderError(provider, model.KindMalformed, err)
	}

	tag := r.Category
	if tag == "" {
		tag = r.Tag
	}
	category, ok := model.ParseCategory(tag)
	if !ok {
		return model.ClassificationResult{}, malformed(provider, fmt.Sprintf("unknown category %q", tag))
	}
	summary := model.FirstLine(r.Summary)
	if summary == "" {
		return model.ClassificationResult{}, malformed(provider, "empty summary")
	}

	return model.ClassificationResult{Category: category, Summary: summary, Provider: provider}, nil
}

func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	} else {
		s = strings.TrimPrefix(s, "```")
	}
	return strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), "```"))
}

func malformed(provider, msg string) error {
	return model.NewProviderError(provider, model.KindMalformed, errors.New(msg))
}

func clip(s string) string {
	if len(s) <= maxFieldLen {
		return s
	}
	n := maxFieldLen
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}

func indent(s string) string {
	return strings.ReplaceAll(s, "\n", "\n  ")
}

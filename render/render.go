// Package render turns classified change units into a changelog document.
package render

import (
	"fmt"
	"strings"
	"time"

	"github.com/gomarkdown/markdown"
	"github.com/gomarkdown/markdown/html"
	"github.com/gomarkdown/markdown/parser"

	"github.com/schacon/git-glance/model"
)

const (
	defaultTitle = "Changelog"
	dateLayout   = "January 2, 2006"
)

type Options struct {
	Title string
	// Release, when set, replaces the title with the release name and its date.
	Release string
	Date    time.Time
	// RepoURL is used to link pull requests that carry no URL of their own.
	RepoURL string
	// Debug lists each entry's commits and the provider that summarized it.
	Debug bool
}

// Markdown renders units grouped by category in display order. Units keep their
// relative order within a category; empty categories are left out.
func Markdown(units []model.ChangeUnit, opts Options) string {
	var b strings.Builder
	b.WriteString("# ")
	b.WriteString(heading(opts))
	b.WriteString("\n")

	if len(units) == 0 {
		b.WriteString("\nNo changes.\n")
		return b.String()
	}

	groups := make(map[model.Category][]model.ChangeUnit, len(model.DisplayOrder))
	for _, u := range units {
		c := u.Category
		if !c.Valid() {
			c = model.CategoryOther
		}
		groups[c] = append(groups[c], u)
	}

	for _, c := range model.DisplayOrder {
		entries := groups[c]
		if len(entries) == 0 {
			continue
		}
		fmt.Fprintf(&b, "\n## %s\n\n", c.Heading())
		for _, u := range entries {
			writeEntry(&b, u, opts)
		}
	}
	return b.String()
}

func heading(opts Options) string {
	if opts.Release != "" {
		if opts.Date.IsZero() {
			return opts.Release
		}
		return fmt.Sprintf("%s (%s)", opts.Release, opts.Date.Format(dateLayout))
	}
	if opts.Title != "" {
		return opts.Title
	}
	return defaultTitle
}

func writeEntry(b *strings.Builder, u model.ChangeUnit, opts Options) {
	summary := oneLine(u.Summary)
	if summary == "" {
		summary = u.FallbackSummary()
	}

	b.WriteString("- ")
	b.WriteString(summary)
	if pr := u.PR; pr != nil {
		fmt.Fprintf(b, " (%s %s)", prLink(pr, opts.RepoURL), oneLine(pr.Title))
	} else if len(u.Commits) > 0 {
		fmt.Fprintf(b, " (%s)", shortHash(u.Commits[0]))
	}
	b.WriteString("\n")

	if !opts.Debug {
		return
	}
	hashes := make([]string, len(u.Commits))
	for i, h := range u.Commits {
		hashes[i] = shortHash(h)
	}
	fmt.Fprintf(b, "  - commits: %s\n", strings.Join(hashes, ", "))
	provider := u.Provider
	if u.Degraded || provider == "" {
		provider = "fallback"
	}
	fmt.Fprintf(b, "  - summarized by: %s\n", provider)
}

func prLink(pr *model.PullRequest, repoURL string) string {
	switch {
	case pr.URL != "":
		return fmt.Sprintf("[#%d](%s)", pr.Number, pr.URL)
	case repoURL != "":
		return fmt.Sprintf("[#%d](%s/pull/%d)", pr.Number, strings.TrimSuffix(repoURL, "/"), pr.Number)
	default:
		return fmt.Sprintf("#%d", pr.Number)
	}
}

func shortHash(h string) string {
	return model.Commit{Hash: h}.ShortHash()
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// HTML converts a rendered markdown document into an HTML fragment.
func HTML(md string) string {
	p := parser.NewWithExtensions(parser.CommonExtensions | parser.AutoHeadingIDs)
	renderer := html.NewRenderer(html.RendererOptions{Flags: html.CommonFlags | html.HrefTargetBlank})
	return string(markdown.ToHTML([]byte(md), p, renderer))
}

// Package export renders a session report as Markdown or sanitized HTML.
package export

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/renderer/html"

	"github.com/ericfisherdev/reviewmesh/internal/domain/model"
)

var (
	mdRenderer    goldmark.Markdown
	htmlSanitizer *bluemonday.Policy
)

func init() {
	mdRenderer = goldmark.New(
		goldmark.WithExtensions(extension.GFM),
		goldmark.WithRendererOptions(html.WithUnsafe()),
	)

	htmlSanitizer = bluemonday.UGCPolicy()
}

// Markdown renders the report: session header, the diff grouped by file with
// each hunk's comments quoted beneath it, then every comment and chat line.
func Markdown(r model.SessionReport) string {
	var b strings.Builder

	fmt.Fprintf(&b, "# ReviewMesh Export: %s\n", r.Session.Title)
	fmt.Fprintf(&b, "Session ID: %s\n", r.Session.ID)
	fmt.Fprintf(&b, "Created: %s\n", formatTime(r.Session.CreatedAt))
	fmt.Fprintf(&b, "Participants: %s\n\n", strings.Join(r.Session.Participants, ", "))

	b.WriteString("## Diffs\n\n")
	byHunk := r.CommentsByHunk()
	for _, f := range r.Files {
		fmt.Fprintf(&b, "### File: %s\n\n", f.File)
		for _, h := range f.Hunks {
			fence := codeFence(h.Content)
			fmt.Fprintf(&b, "%sdiff\n%s\n%s\n", fence, strings.TrimRight(h.Content, "\n"), fence)
			for _, c := range byHunk[h.ID] {
				fmt.Fprintf(&b, "> %s\n", commentLine(c))
			}
			b.WriteByte('\n')
		}
	}

	b.WriteString("## Comments\n\n")
	for _, c := range r.Comments {
		loc := c.File
		if c.Line > 0 {
			loc = fmt.Sprintf("%s:%d", c.File, c.Line)
		}
		if loc != "" {
			fmt.Fprintf(&b, "- `%s` %s\n", loc, commentLine(c))
			continue
		}
		fmt.Fprintf(&b, "- %s\n", commentLine(c))
	}

	b.WriteString("\n## Chat\n\n")
	for _, l := range r.Chat {
		fmt.Fprintf(&b, "- %s **%s**: %s\n", formatTime(l.CreatedAt), l.Author, l.Body)
	}

	return b.String()
}

// HTML renders the report's Markdown to sanitized HTML.
func HTML(r model.SessionReport) string {
	return RenderMarkdown(Markdown(r))
}

func commentLine(c model.Comment) string {
	line := fmt.Sprintf("**%s**: %s", c.Author, oneLine(c.Body))
	if c.Resolved {
		line += fmt.Sprintf(" _(resolved by %s)_", c.ResolvedBy)
	}
	return line
}

// codeFence returns a backtick fence longer than any backtick run in
// content, so a hunk that itself contains ``` cannot close the block early.
func codeFence(content string) string {
	longest, run := 0, 0
	for _, r := range content {
		if r != '`' {
			run = 0
			continue
		}
		run++
		longest = max(longest, run)
	}
	return strings.Repeat("`", max(3, longest+1))
}

// oneLine keeps multi-line bodies inside a single list item or quote.
func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "unknown"
	}
	return t.UTC().Format(time.RFC3339)
}

// RenderMarkdown converts a markdown string to sanitized HTML.
// Returns empty string for empty input.
func RenderMarkdown(src string) string {
	if src == "" {
		return ""
	}

	var buf bytes.Buffer
	if err := mdRenderer.Convert([]byte(src), &buf); err != nil {
		return htmlSanitizer.Sanitize(src)
	}

	return htmlSanitizer.Sanitize(buf.String())
}

// RenderDiffHunk converts a hunk's content into HTML with a CSS class per
// line: diff-header, diff-add, diff-del or diff-ctx.
func RenderDiffHunk(hunk string) string {
	hunk = strings.TrimRight(hunk, "\n")
	if hunk == "" {
		return ""
	}

	lines := strings.Split(hunk, "\n")
	var buf strings.Builder
	buf.Grow(len(hunk) * 2)

	for i, line := range lines {
		if i > 0 {
			buf.WriteByte('\n')
		}

		buf.WriteString(`<span class="`)
		buf.WriteString(classForDiffLine(line))
		buf.WriteString(`">`)
		buf.WriteString(htmlSanitizer.Sanitize(line))
		buf.WriteString(`</span>`)
	}

	return buf.String()
}

func classForDiffLine(line string) string {
	switch {
	case strings.HasPrefix(line, "@@"):
		return "diff-header"
	case strings.HasPrefix(line, "+"):
		return "diff-add"
	case strings.HasPrefix(line, "-"):
		return "diff-del"
	default:
		return "diff-ctx"
	}
}

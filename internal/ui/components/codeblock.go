// Copyright (c) 2024-2025 Kestrel Works
// SPDX-License-Identifier: AGPL-3.0-or-later

package components

import (
	"fmt"
	"strings"

	"github.com/alecthomas/chroma/v2"
	"github.com/alecthomas/chroma/v2/formatters"
	"github.com/alecthomas/chroma/v2/lexers"
	chromastyles "github.com/alecthomas/chroma/v2/styles"
	"github.com/charmbracelet/lipgloss"

	"github.com/kestrelworks/loom-tui/internal/ui/styles"
)

// =============================================================================
// CODE BLOCK
// =============================================================================

// CodeBlock renders a fenced code block with syntax highlighting.
type CodeBlock struct {
	Language    string
	Code        string
	ShowNumbers bool
	Width       int
}

var codeBlockFrame = lipgloss.NewStyle().
	Border(lipgloss.RoundedBorder()).
	BorderForeground(styles.Overlay).
	Padding(0, 1)

var codeBlockHeader = lipgloss.NewStyle().
	Foreground(styles.TextDim).
	Bold(true)

// Render highlights the code and wraps it in a bordered frame with the
// language as a header. Highlighting failures fall back to plain text;
// a code block must never take the transcript down with it.
func (cb CodeBlock) Render() string {
	code := strings.TrimRight(cb.Code, "\n")

	highlighted, err := highlightCode(code, cb.Language)
	if err != nil {
		highlighted = code
	}

	if cb.ShowNumbers {
		highlighted = addLineNumbers(highlighted)
	}

	header := ""
	if cb.Language != "" {
		header = codeBlockHeader.Render(cb.Language) + "\n"
	}

	frame := codeBlockFrame
	if cb.Width > 0 {
		frame = frame.Width(cb.Width)
	}
	return frame.Render(header + highlighted)
}

// highlightCode runs chroma over the source. An empty language falls
// back to content analysis.
func highlightCode(code, language string) (string, error) {
	var lexer chroma.Lexer
	if language != "" {
		lexer = lexers.Get(language)
	}
	if lexer == nil {
		lexer = lexers.Analyse(code)
	}
	if lexer == nil {
		lexer = lexers.Fallback
	}
	lexer = chroma.Coalesce(lexer)

	style := chromastyles.Get("monokai")
	if style == nil {
		style = chromastyles.Fallback
	}

	formatter := formatters.Get("terminal256")
	if formatter == nil {
		formatter = formatters.Fallback
	}

	iterator, err := lexer.Tokenise(nil, code)
	if err != nil {
		return "", fmt.Errorf("tokenize failed: %w", err)
	}

	var sb strings.Builder
	if err := formatter.Format(&sb, style, iterator); err != nil {
		return "", fmt.Errorf("format failed: %w", err)
	}
	return strings.TrimRight(sb.String(), "\n"), nil
}

// addLineNumbers prefixes each line with a right-aligned number in the
// dim foreground.
func addLineNumbers(code string) string {
	lines := strings.Split(code, "\n")
	width := len(fmt.Sprintf("%d", len(lines)))

	numStyle := lipgloss.NewStyle().Foreground(styles.TextDim)
	var sb strings.Builder
	for i, line := range lines {
		sb.WriteString(numStyle.Render(fmt.Sprintf("%*d │ ", width, i+1)))
		sb.WriteString(line)
		if i < len(lines)-1 {
			sb.WriteByte('\n')
		}
	}
	return sb.String()
}

// =============================================================================
// FENCE PARSING
// =============================================================================

// Segment is one run of transcript text, either plain prose or the
// body of a fenced code block.
type Segment struct {
	IsCode   bool
	Language string
	Text     string
}

// ParseCodeBlocks scans for triple-backtick fences. An unterminated
// fence runs to the end of the input, which keeps streaming output
// renderable while the closing fence has not arrived yet.
func ParseCodeBlocks(text string) []Segment {
	var segments []Segment
	lines := strings.Split(text, "\n")

	var plain []string
	var code []string
	var language string
	inFence := false

	flushPlain := func() {
		if len(plain) > 0 {
			segments = append(segments, Segment{Text: strings.Join(plain, "\n")})
			plain = nil
		}
	}

	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "```") {
			if inFence {
				segments = append(segments, Segment{
					IsCode:   true,
					Language: language,
					Text:     strings.Join(code, "\n"),
				})
				code = nil
				inFence = false
			} else {
				flushPlain()
				language = strings.TrimSpace(strings.TrimPrefix(trimmed, "```"))
				inFence = true
			}
			continue
		}
		if inFence {
			code = append(code, line)
		} else {
			plain = append(plain, line)
		}
	}

	if inFence {
		segments = append(segments, Segment{IsCode: true, Language: language, Text: strings.Join(code, "\n")})
	} else {
		flushPlain()
	}
	return segments
}

// RenderInlineCode styles single-backtick spans without a frame.
func RenderInlineCode(code string) string {
	return lipgloss.NewStyle().
		Foreground(styles.Amber).
		Background(styles.Surface).
		Render(code)
}

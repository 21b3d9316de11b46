package stencil

import (
	"fmt"
	"io"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/dpotapov/go-stencil/shtml"
)

// SourceExcerpt is a window of template source lines around an error position.
type SourceExcerpt struct {
	Template string        `json:"template"`
	Lines    []ExcerptLine `json:"lines"`

	// ErrorLine and ErrorColumn are 1-based. ErrorColumn counts runes.
	ErrorLine   int `json:"errorLine"`
	ErrorColumn int `json:"errorColumn"`

	// ErrorLength is the length in runes of the token at the error position, at least 1.
	ErrorLength int `json:"errorLength"`
}

type ExcerptLine struct {
	Number int    `json:"number"`
	Text   string `json:"text"`
}

// Excerpt returns the source lines of the template within radius lines of the error
// position. It returns nil when the error has no position or the source can't be read.
func (e *Engine) Excerpt(ce *shtml.CompileError, radius int) *SourceExcerpt {
	if ce == nil || ce.Template == "" || ce.Line <= 0 {
		return nil
	}
	src, err := e.readSource(ce.Template)
	if err != nil {
		return nil
	}
	return newSourceExcerpt(ce.Template, string(src), ce.Line, ce.Column, radius)
}

func newSourceExcerpt(template, src string, line, column, radius int) *SourceExcerpt {
	lines := strings.Split(src, "\n")
	if line > len(lines) {
		return nil
	}

	first := max(line-radius, 1)
	last := min(line+radius, len(lines))

	ex := &SourceExcerpt{
		Template:    template,
		ErrorLine:   line,
		ErrorColumn: max(column, 1),
		ErrorLength: 1,
	}
	for n := first; n <= last; n++ {
		ex.Lines = append(ex.Lines, ExcerptLine{
			Number: n,
			Text:   strings.TrimRight(lines[n-1], "\r"),
		})
	}

	// measure the word starting at the error column
	text := []rune(strings.TrimRight(lines[line-1], "\r"))
	if i := ex.ErrorColumn - 1; i < len(text) {
		n := 0
		for ; i < len(text) && isTokenRune(text[i]); i++ {
			n++
		}
		ex.ErrorLength = max(n, 1)
	}

	return ex
}

func isTokenRune(r rune) bool {
	return r == '-' || r == ':' || r == '_' || r == '$' || unicode.IsLetter(r) || unicode.IsDigit(r)
}

// WriteTo renders the excerpt with line numbers and a marker under the error token.
func (ex *SourceExcerpt) WriteTo(w io.Writer) (int64, error) {
	var sb strings.Builder

	width := len(fmt.Sprint(ex.Lines[len(ex.Lines)-1].Number))

	for _, l := range ex.Lines {
		mark := " "
		if l.Number == ex.ErrorLine {
			mark = ">"
		}
		fmt.Fprintf(&sb, "%s %*d | %s\n", mark, width, l.Number, untab(l.Text))

		if l.Number == ex.ErrorLine {
			col := ex.ErrorColumn - 1
			if prefix := []rune(l.Text); col <= len(prefix) {
				col = utf8.RuneCountInString(untab(string(prefix[:col])))
			}
			fmt.Fprintf(&sb, "  %*s | %s%s\n", width, "", strings.Repeat(" ", col), strings.Repeat("^", ex.ErrorLength))
		}
	}

	n, err := io.WriteString(w, sb.String())
	return int64(n), err
}

func (ex *SourceExcerpt) String() string {
	var sb strings.Builder
	_, _ = ex.WriteTo(&sb)
	return sb.String()
}

// untab expands tabs so the error marker lines up with the source text.
func untab(s string) string {
	return strings.ReplaceAll(s, "\t", "    ")
}

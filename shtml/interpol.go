package shtml

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

const (
	eof            rune = -1
	leftDelim           = "${"
	rawLeftDelim        = "$!{"
	rightDelim          = "}"
	pipeDelim           = "|>"
	maxBracesLevel      = 64
)

// interpolate splits s into static *Text and dynamic *Output nodes. Expressions are kept
// verbatim; only the pipe chain is separated from the expression. at maps a byte offset
// within s to a source position.
func interpolate(s string, origin string, at func(off int) Pos) ([]Node, error) {
	items, err := lexInterpol(s)
	if err != nil {
		return nil, err
	}
	nodes := make([]Node, 0, len(items))
	for _, it := range items {
		switch it.typ {
		case itemText:
			nodes = append(nodes, At(&Text{Content: it.val}, at(it.start), origin))
		case itemExpr, itemRawExpr:
			// outputs are positioned at their opening delimiter
			p := at(it.start - len(leftDelim))
			if it.typ == itemRawExpr {
				p = at(it.start - len(rawLeftDelim))
			}
			expr, pipes, err := splitPipes(it.val)
			if err != nil {
				return nil, err
			}
			if expr == "" {
				return nil, fmt.Errorf("empty expression at offset %d", it.start)
			}
			nodes = append(nodes, At(&Output{
				Expr:   expr,
				Escape: it.typ == itemExpr,
				Pipes:  pipes,
			}, p, origin))
		}
	}
	return nodes, nil
}

// hasInterpolation reports whether s contains an output expression.
func hasInterpolation(s string) bool {
	return strings.Contains(s, leftDelim) || strings.Contains(s, rawLeftDelim)
}

// splitPipes separates "expr |> pipe |> pipe(args)" into the expression and its pipes.
// Pipe delimiters inside strings and brackets are part of the expression.
func splitPipes(s string) (string, []Pipe, error) {
	var parts []string
	depth, start := 0, 0
	var quote byte
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case quote != 0:
			if c == '\\' {
				i++
			} else if c == quote {
				quote = 0
			}
		case c == '"' || c == '\'' || c == '`':
			quote = c
		case c == '(' || c == '[' || c == '{':
			depth++
		case c == ')' || c == ']' || c == '}':
			depth--
		case depth == 0 && strings.HasPrefix(s[i:], pipeDelim):
			parts = append(parts, s[start:i])
			start = i + len(pipeDelim)
			i++
		}
	}
	if quote != 0 {
		return "", nil, fmt.Errorf("unterminated string in %q", s)
	}
	parts = append(parts, s[start:])

	expr := strings.TrimSpace(parts[0])
	var pipes []Pipe
	for _, p := range parts[1:] {
		p = strings.TrimSpace(p)
		if p == "" {
			return "", nil, fmt.Errorf("empty pipe in %q", s)
		}
		name, args := p, ""
		if i := strings.IndexByte(p, '('); i >= 0 {
			if !strings.HasSuffix(p, ")") {
				return "", nil, fmt.Errorf("malformed pipe %q", p)
			}
			name, args = strings.TrimSpace(p[:i]), strings.TrimSpace(p[i+1:len(p)-1])
		}
		pipes = append(pipes, Pipe{Name: name, Args: args})
	}
	return expr, pipes, nil
}

// Implementation of the lexer & interpolator based on https://go.dev/talks/2011/lex.slide

// exprLexer holds the state of the scanner.
type exprLexer struct {
	input       string // the string being scanned
	start       int    // start position of this item.
	pos         int    // current position in the input.
	width       int    // width of last rune read from input.
	bracesDepth int    // nesting depth of braces {}
	rawExpr     bool   // the current expression was opened with $!{
	items       []item
}

func lexInterpol(s string) ([]item, error) {
	l := &exprLexer{input: s}
	for state := lexText; state != nil; {
		state = state(l)
	}
	for _, it := range l.items {
		if it.typ == itemError {
			return nil, fmt.Errorf("%s", it.val)
		}
	}
	return l.items, nil
}

// emit passes an item back to the client.
func (l *exprLexer) emit(t itemType) {
	l.items = append(l.items, item{typ: t, val: l.input[l.start:l.pos], start: l.start})
	l.start = l.pos
}

// errorf returns an error token and terminates the scan
// by passing back a nil pointer that will be the next
// state, terminating l.run.
func (l *exprLexer) errorf(format string, args ...any) stateFn {
	l.items = append(l.items, item{typ: itemError, val: fmt.Sprintf(format, args...), start: l.start})
	return nil
}

func (l *exprLexer) scanString(quote rune) bool {
	for ch := l.next(); ch != quote; ch = l.next() {
		if ch == eof {
			return false
		}
		if ch == '\\' {
			l.next()
		}
	}
	return true
}

// next returns the next rune in the input.
func (l *exprLexer) next() rune {
	if l.pos >= len(l.input) {
		l.width = 0
		return eof
	}
	r, w := utf8.DecodeRuneInString(l.input[l.pos:])
	l.width = w
	l.pos += w
	return r
}

// ignore skips over the pending input before this point.
func (l *exprLexer) ignore() {
	l.start = l.pos
}

// atRightDelim reports whether the lexer is at a right delimiter
func (l *exprLexer) atRightDelim() bool {
	return l.bracesDepth == 0 && strings.HasPrefix(l.input[l.pos:], rightDelim)
}

func lexText(l *exprLexer) stateFn {
	x := strings.Index(l.input[l.pos:], leftDelim)
	y := strings.Index(l.input[l.pos:], rawLeftDelim)
	if y >= 0 && (x < 0 || y < x) {
		if y > 0 {
			l.pos += y
			l.emit(itemText)
		}
		l.pos += len(rawLeftDelim)
		l.rawExpr = true
		l.ignore()
		return lexExpr
	}
	if x >= 0 {
		if x > 0 {
			l.pos += x
			l.emit(itemText)
		}
		l.pos += len(leftDelim)
		l.rawExpr = false
		l.ignore()
		return lexExpr
	}
	l.pos = len(l.input)
	// Correctly reached EOF.
	if l.pos > l.start {
		l.emit(itemText)
	}
	return nil
}

func lexRightDelim(l *exprLexer) stateFn {
	l.pos += len(rightDelim)
	l.ignore()
	return lexText
}

func lexExpr(l *exprLexer) stateFn {
	if l.atRightDelim() {
		if l.rawExpr {
			l.emit(itemRawExpr)
		} else {
			l.emit(itemExpr)
		}
		return lexRightDelim
	}
	switch r := l.next(); {
	case r == eof:
		return l.errorf("unclosed action")
	case r == '\'' || r == '"' || r == '`':
		if !l.scanString(r) {
			return l.errorf("unterminated string")
		}
	case r == '{':
		l.bracesDepth++
		if l.bracesDepth > maxBracesLevel {
			return l.errorf("expression nested too deeply")
		}
	case r == '}':
		l.bracesDepth--
	}
	return lexExpr
}

type itemType int

const (
	itemError itemType = iota
	itemText
	itemExpr
	itemRawExpr
)

type item struct {
	typ   itemType
	val   string
	start int
}

// stateFn represents the state of the scanner
// as a function that returns the next state.
type stateFn func(*exprLexer) stateFn

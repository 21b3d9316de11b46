package shtml

import (
	"errors"
	"fmt"
	"strings"

	"github.com/beevik/etree"
	"golang.org/x/net/html"
)

var (
	ErrDuplicateDirective = errors.New("duplicate directive")
	ErrFragmentAttribute  = errors.New("fragment attribute")
	ErrDuplicateBlock     = errors.New("duplicate block")
	ErrOrphanPlaceholder  = errors.New("orphaned placeholder")
	ErrMissingCompanion   = errors.New("missing companion directive")
	ErrMultipleFallback   = errors.New("multiple fallback directives")
	ErrMultipleExtends    = errors.New("multiple extends")
	ErrUnknownDirective   = errors.New("unknown directive")
	ErrTemplateNotFound   = errors.New("template not found")
	ErrCycle              = errors.New("composition cycle")
	ErrInvalidSyntax      = errors.New("invalid syntax")
)

// ErrorKind classifies compile errors.
type ErrorKind int

const (
	// SyntaxError is a structural error in a single template.
	SyntaxError ErrorKind = iota
	// CompositionError is a failure to resolve, load or compose a referenced template.
	CompositionError
	// ClassificationError is an unknown directive.
	ClassificationError
)

func (k ErrorKind) String() string {
	switch k {
	case SyntaxError:
		return "syntax"
	case CompositionError:
		return "composition"
	case ClassificationError:
		return "classification"
	default:
		return fmt.Sprintf("ErrorKind(%d)", int(k))
	}
}

// CompileError is the error returned by every stage of the compiler. It carries enough
// position and identity data to render a precise diagnostic.
type CompileError struct {
	Kind     ErrorKind
	Msg      string
	Template string
	Line     int
	Column   int

	// Chain is the composition chain (outermost first) for composition errors.
	Chain []string

	// Suggestion is the nearest known directive name for unknown directives.
	Suggestion string

	err error
	doc *etree.Element
}

func newCompileError(kind ErrorKind, n Node, err error, format string, args ...any) *CompileError {
	e := &CompileError{
		Kind: kind,
		Msg:  fmt.Sprintf(format, args...),
		err:  err,
	}
	if n != nil {
		p := n.Pos()
		e.Template, e.Line, e.Column = n.Origin(), p.Line, p.Column
		e.doc = buildErrorContext(n)
	}
	return e
}

func syntaxError(n Node, err error, format string, args ...any) *CompileError {
	return newCompileError(SyntaxError, n, err, format, args...)
}

func (e *CompileError) Error() string {
	var sb strings.Builder
	if e.Template != "" {
		sb.WriteString(e.Template)
		sb.WriteByte(':')
	}
	if e.Line > 0 {
		fmt.Fprintf(&sb, "%d:%d:", e.Line, e.Column)
	}
	if sb.Len() > 0 {
		sb.WriteByte(' ')
	}
	sb.WriteString(e.Msg)
	if e.Suggestion != "" {
		fmt.Fprintf(&sb, " (did you mean %q?)", e.Suggestion)
	}
	if len(e.Chain) > 0 {
		sb.WriteString(" [")
		sb.WriteString(strings.Join(e.Chain, " -> "))
		sb.WriteString("]")
	}
	return sb.String()
}

func (e *CompileError) Unwrap() error {
	return e.err
}

// HTMLContext returns a markup snippet around the offending node.
func (e *CompileError) HTMLContext() string {
	if e.doc == nil {
		return ""
	}
	return renderErrorContext(e.doc)
}

// errorContextBuilder is a type to organize helper functions for building error context trees.
type errorContextBuilder struct{}

func (b errorContextBuilder) addNode(doc *etree.Element, n Node, depth int) {
	switch n := n.(type) {
	case *Element:
		el := doc.CreateElement(n.Tag)
		b.addAttrs(el, n.Attrs)
		b.addChildren(el, n.Nodes, depth)
	case *Fragment:
		el := doc.CreateElement("s:template")
		b.addAttrs(el, n.Attrs)
		b.addChildren(el, n.Nodes, depth)
	case *Component:
		name := "s-" + n.Name
		if n.NameExpr != "" {
			name = "s:component"
		}
		el := doc.CreateElement(name)
		b.addAttrs(el, n.Attrs)
		b.addChildren(el, n.Nodes, depth)
	case *Directive:
		el := doc.CreateElement("s:" + n.Name)
		if n.Expr != "" {
			el.CreateAttr("expr", n.Expr)
		}
		b.addChildren(el, n.Nodes, depth)
	case *Text:
		if !isWhitespace(n.Content) {
			doc.CreateText(n.Content)
		}
	case *Output:
		doc.CreateText(formatOutput(n))
	case *RawCode:
		doc.CreateText("<?s " + n.Code + " ?>")
	case *Import:
		doc.CreateText(n.Statement())
	case *Attribute:
		el := doc.CreateElement("attr")
		b.addAttrs(el, []*Attribute{n})
	case *Document:
		b.addChildren(doc, n.Nodes, depth)
	}
}

func (b errorContextBuilder) addAttrs(el *etree.Element, attrs []*Attribute) {
	for _, a := range attrs {
		name := a.Name
		if name == "" {
			name = "s:spread"
		}
		el.CreateAttr(name, formatAttrValue(a))
	}
}

// addChildren adds the first level of children; deeper levels are elided.
func (b errorContextBuilder) addChildren(el *etree.Element, nodes []Node, depth int) {
	if len(nodes) == 0 {
		return
	}
	if depth > 0 {
		el.CreateText("...")
		return
	}
	for _, c := range nodes {
		b.addNode(el, c, depth+1)
	}
}

// buildErrorContext creates an XML tree around the node n to provide context for an error.
func buildErrorContext(n Node) *etree.Element {
	doc := &etree.Element{}
	errorContextBuilder{}.addNode(doc, n, 0)
	return doc
}

func renderErrorContext(doc *etree.Element) string {
	dst := &html.Node{Type: html.DocumentNode}

	// traverse the etree.Element and build the html.Node
	var render func(*html.Node, *etree.Element)
	render = func(dst *html.Node, src *etree.Element) {
		for _, c := range src.Child {
			switch t := c.(type) {
			case *etree.Element:
				n := &html.Node{Type: html.ElementNode, Data: t.FullTag()}
				for _, a := range t.Attr {
					n.Attr = append(n.Attr, html.Attribute{Key: a.FullKey(), Val: a.Value})
				}
				dst.AppendChild(n)
				render(n, t)
			case *etree.CharData:
				dst.AppendChild(&html.Node{Type: html.TextNode, Data: t.Data})
			}
		}
	}

	render(dst, doc)

	var buf strings.Builder
	_ = html.Render(&buf, dst)

	return buf.String()
}

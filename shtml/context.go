package shtml

import (
	"strings"

	"golang.org/x/net/html/atom"
)

// EscapeContext is the output-escaping classification of a dynamic output node.
type EscapeContext int

const (
	// ContextUnset marks an output that has not been analyzed yet.
	ContextUnset EscapeContext = iota
	ContextHTML
	ContextAttribute
	ContextJavaScript
	ContextCSS
	ContextURL
	ContextJSON
)

var contextNames = [...]string{
	ContextUnset:      "unset",
	ContextHTML:       "html",
	ContextAttribute:  "attr",
	ContextJavaScript: "js",
	ContextCSS:        "css",
	ContextURL:        "url",
	ContextJSON:       "json",
}

func (c EscapeContext) String() string {
	if int(c) < len(contextNames) {
		return contextNames[c]
	}
	return "unknown"
}

// elementStack is an immutable stack of open element names. Pushing returns a new stack
// and never modifies the receiver.
type elementStack struct {
	tag    atom.Atom
	json   bool
	parent *elementStack
}

func (s *elementStack) push(e *Element) *elementStack {
	frame := &elementStack{parent: s}
	if e.DynamicTag == "" {
		frame.tag = atom.Lookup([]byte(strings.ToLower(e.Tag)))
		if frame.tag == atom.Script {
			frame.json = isJSONScript(e)
		}
	}
	return frame
}

func isJSONScript(e *Element) bool {
	t := e.Attr("type")
	if t == nil || t.Kind != AttrStatic {
		return false
	}
	mt := strings.ToLower(strings.TrimSpace(t.Value))
	return mt == "application/json" || mt == "application/ld+json" || strings.HasSuffix(mt, "+json")
}

// determineContext returns the text context for the innermost open element.
func determineContext(s *elementStack) EscapeContext {
	if s == nil {
		return ContextHTML
	}
	switch s.tag {
	case atom.Script:
		if s.json {
			return ContextJSON
		}
		return ContextJavaScript
	case atom.Style:
		return ContextCSS
	}
	return ContextHTML
}

// assign sets the context of o unless the output is verbatim or was pre-assigned a
// non-default context upstream.
func assign(o *Output, c EscapeContext) {
	if o == nil || !o.Escape {
		return
	}
	if o.Context != ContextUnset && o.Context != ContextHTML {
		return
	}
	o.Context = c
}

// AnalyzeContexts assigns an escaping context to every dynamic output node in the tree.
// The analysis is a single forward traversal keeping the stack of open elements.
func AnalyzeContexts(n Node) {
	analyze(n, nil)
}

func analyze(n Node, stack *elementStack) {
	switch n := n.(type) {
	case *Output:
		assign(n, determineContext(stack))
	case *Element:
		// attribute values are decided before the children, each part independently
		analyzeAttrs(n.Attrs)
		inner := stack.push(n)
		for _, c := range n.Nodes {
			analyze(c, inner)
		}
	case *Fragment:
		analyzeAttrs(n.Attrs)
		for _, c := range n.Nodes {
			analyze(c, stack)
		}
	case *Component:
		analyzeAttrs(n.Attrs)
		for _, c := range n.Nodes {
			analyze(c, stack)
		}
	case *Directive:
		for _, c := range n.Nodes {
			analyze(c, stack)
		}
		if n.fallback != nil {
			analyze(n.fallback, stack)
		}
		if n.element != nil {
			analyze(n.element, stack)
		}
	case *Document:
		for _, c := range n.Nodes {
			analyze(c, stack)
		}
	}
}

func analyzeAttrs(attrs []*Attribute) {
	for _, a := range attrs {
		for _, o := range a.Outputs() {
			assign(o, ContextAttribute)
		}
	}
}

func contextPass() Pass {
	return Pass{
		Name: "context",
		Before: func(n Node, _ *Context) (Action, error) {
			if d, ok := n.(*Document); ok {
				AnalyzeContexts(d)
			}
			return Skip(), nil
		},
	}
}

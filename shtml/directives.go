package shtml

import (
	"fmt"
	"slices"
	"strings"

	"golang.org/x/text/cases"
)

// DirectivePrefix is the prefix of directive attributes and element-claiming tags.
const DirectivePrefix = "s:"

// Built-in directive names.
const (
	DirIf      = "if"
	DirElseIf  = "elseif"
	DirElse    = "else"
	DirUnless  = "unless"
	DirForeach = "foreach"
	DirForelse = "forelse"
	DirEmpty   = "empty"
	DirWhile   = "while"
	DirText    = "text"
	DirHTML    = "html"
	DirNoWrap  = "nowrap"
	DirClass   = "class"
	DirSpread  = "spread"
	DirJSON    = "json"
	DirExtends = "extends"
	DirBlock   = "block"
	DirAppend  = "append"
	DirPrepend = "prepend"
	DirInclude = "include"
	DirSlot    = "slot"
	DirBind    = "bind"
	DirParent  = "parent"
)

// Kind is the extraction kind of a directive.
type Kind int

const (
	KindControlFlow Kind = iota + 1
	KindContent
	KindAttribute
	KindPassThrough
	KindExtraction
)

func (k Kind) String() string {
	switch k {
	case KindControlFlow:
		return "control-flow"
	case KindContent:
		return "content"
	case KindAttribute:
		return "attribute"
	case KindPassThrough:
		return "pass-through"
	case KindExtraction:
		return "extraction"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Handler compiles one directive.
type Handler interface {
	Kind() Kind
}

// Extractor is implemented by KindExtraction handlers. Extract receives the node carrying
// the directive (with the directive attribute removed) and returns its replacement.
// Extractors on one node run in declaration order, each seeing the previous output.
type Extractor interface {
	Handler
	Extract(n Node, attr *Attribute, c *Context) (Node, error)
}

// AttrCompiler is implemented by KindAttribute handlers. CompileAttr turns the directive
// attribute into plain attributes merged into the host attribute list.
type AttrCompiler interface {
	Handler
	CompileAttr(attr *Attribute, host []*Attribute, c *Context) ([]*Attribute, error)
}

// Paired is implemented by directives followed by a fallback sibling directive.
type Paired interface {
	PairsWith() string
}

// ElementForm is implemented by directives that may claim a whole element
// (<s:NAME attr="expr">). ElementAttr names the attribute supplying the expression; an
// empty name means the directive takes no expression.
type ElementForm interface {
	ElementAttr() string
}

// ControlFlow is the handler of conditional and iteration directives.
type ControlFlow struct {
	// Attr is the attribute of the element form supplying the expression.
	Attr string
	// Pair names the fallback directive following the directive.
	Pair string
	// After lists the directives the directive must follow (e.g. elseif after if).
	After []string
	// NoExpr marks directives that take no expression.
	NoExpr bool
}

func (ControlFlow) Kind() Kind            { return KindControlFlow }
func (d ControlFlow) PairsWith() string   { return d.Pair }
func (d ControlFlow) ElementAttr() string { return d.Attr }

// Content is the handler of s:text and s:html.
type Content struct {
	Raw bool
}

func (Content) Kind() Kind { return KindContent }

// NoWrap discards the host element of a content directive.
type NoWrap struct{}

func (NoWrap) Kind() Kind { return KindPassThrough }

// PassThrough is the handler of markers consumed by later stages.
type PassThrough struct {
	// Attr is the attribute of the element form supplying the expression. Element is set
	// when the directive has an element form at all.
	Attr    string
	Element bool

	// Inheritance marks the markers allowed on fragments.
	Inheritance bool
}

func (PassThrough) Kind() Kind            { return KindPassThrough }
func (d PassThrough) ElementAttr() string { return d.Attr }

// Registry maps directive names to handlers.
type Registry struct {
	handlers map[string]Handler
}

// NewRegistry returns a registry of the built-in directives.
func NewRegistry() *Registry {
	r := &Registry{}
	r.handlers = map[string]Handler{
		DirIf:      ControlFlow{Attr: "condition"},
		DirElseIf:  ControlFlow{Attr: "condition", After: []string{DirIf, DirElseIf}},
		DirElse:    ControlFlow{NoExpr: true, After: []string{DirIf, DirElseIf}},
		DirUnless:  ControlFlow{Attr: "condition"},
		DirForeach: ControlFlow{Attr: "each"},
		DirForelse: ControlFlow{Attr: "each", Pair: DirEmpty},
		DirEmpty:   ControlFlow{NoExpr: true, After: []string{DirForelse}},
		DirWhile:   ControlFlow{Attr: "condition"},
		DirText:    Content{},
		DirHTML:    Content{Raw: true},
		DirNoWrap:  NoWrap{},
		DirClass:   classList{},
		DirSpread:  spread{},
		DirJSON:    jsonOutput{},
		DirExtends: PassThrough{Inheritance: true},
		DirBlock:   PassThrough{Inheritance: true},
		DirAppend:  PassThrough{Inheritance: true},
		DirPrepend: PassThrough{Inheritance: true},
		DirInclude: PassThrough{Inheritance: true},
		DirSlot:    PassThrough{Inheritance: true},
		DirBind:    PassThrough{},
		DirParent:  PassThrough{Element: true},
	}
	return r
}

// Register adds a user directive. Built-in directives cannot be replaced.
func (r *Registry) Register(name string, h Handler) error {
	if name == "" || strings.ContainsAny(name, " \t\r\n:") {
		return fmt.Errorf("invalid directive name %q", name)
	}
	if _, ok := r.handlers[name]; ok {
		return fmt.Errorf("directive %q already registered", name)
	}
	switch h.Kind() {
	case KindExtraction:
		if _, ok := h.(Extractor); !ok {
			return fmt.Errorf("directive %q: extraction handler must implement Extractor", name)
		}
	case KindAttribute:
		if _, ok := h.(AttrCompiler); !ok {
			return fmt.Errorf("directive %q: attribute handler must implement AttrCompiler", name)
		}
	case KindControlFlow, KindContent, KindPassThrough:
	default:
		return fmt.Errorf("directive %q: unknown kind %v", name, h.Kind())
	}
	r.handlers[name] = h
	return nil
}

// Get returns the handler of the directive name.
func (r *Registry) Get(name string) (Handler, bool) {
	h, ok := r.handlers[name]
	return h, ok
}

// Has reports whether the directive name is registered.
func (r *Registry) Has(name string) bool {
	_, ok := r.handlers[name]
	return ok
}

// Names returns the registered directive names in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.handlers))
	for n := range r.handlers {
		names = append(names, n)
	}
	slices.Sort(names)
	return names
}

// Suggest returns the registered name nearest to name, or "" if nothing is close enough.
func (r *Registry) Suggest(name string) string {
	fold := cases.Fold() // a Caser is stateful, it can't be shared between compilations
	folded := fold.String(name)
	best, bestDist := "", len(folded)/2+2
	for _, cand := range r.Names() {
		d := levenshtein(folded, fold.String(cand))
		if d < bestDist {
			best, bestDist = cand, d
		}
	}
	return best
}

// classify returns the handler of a directive attribute, failing for unknown names.
func (r *Registry) classify(n Node, name string) (Handler, error) {
	if h, ok := r.handlers[name]; ok {
		return h, nil
	}
	e := newCompileError(ClassificationError, n, ErrUnknownDirective, "unknown directive %s%s", DirectivePrefix, name)
	if s := r.Suggest(name); s != "" {
		e.Suggestion = DirectivePrefix + s
	}
	return nil, e
}

// directiveName returns the directive name of an attribute or tag name.
func directiveName(s string) (string, bool) {
	if len(s) > len(DirectivePrefix) && strings.HasPrefix(s, DirectivePrefix) {
		return s[len(DirectivePrefix):], true
	}
	return "", false
}

// levenshtein returns the edit distance between a and b.
func levenshtein(a, b string) int {
	ra, rb := []rune(a), []rune(b)
	prev := make([]int, len(rb)+1)
	cur := make([]int, len(rb)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(ra); i++ {
		cur[0] = i
		for j := 1; j <= len(rb); j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			cur[j] = min(prev[j]+1, cur[j-1]+1, prev[j-1]+cost)
		}
		prev, cur = cur, prev
	}
	return prev[len(rb)]
}

// classList compiles s:class into a class attribute. The static class value, if any, is
// kept in front of the computed class list.
type classList struct{}

func (classList) Kind() Kind { return KindAttribute }

func (classList) CompileAttr(attr *Attribute, host []*Attribute, c *Context) ([]*Attribute, error) {
	expr := strings.TrimSpace(attr.Value)
	if expr == "" {
		return nil, syntaxError(attr, ErrInvalidSyntax, "s:class requires an expression")
	}
	out := At(&Output{Expr: expr, Escape: true, Pipes: []Pipe{{Name: "classList"}}}, attr.Pos(), attr.Origin())

	existing := findAttr(host, "class")
	if existing == nil {
		cls := At(&Attribute{Name: "class", Kind: AttrDynamic, Expr: out}, attr.Pos(), attr.Origin())
		return append(host, cls), nil
	}

	var parts []Node
	switch existing.Kind {
	case AttrStatic:
		if existing.Value != "" {
			parts = append(parts, At(&Text{Content: existing.Value + " "}, existing.Pos(), existing.Origin()))
		}
	case AttrDynamic:
		parts = append(parts, existing.Expr, At(&Text{Content: " "}, existing.Pos(), existing.Origin()))
	case AttrParts:
		parts = append(parts, existing.Parts...)
		parts = append(parts, At(&Text{Content: " "}, existing.Pos(), existing.Origin()))
	}
	parts = append(parts, out)

	res := slices.Clone(host)
	for i, a := range res {
		if a == existing {
			merged := *existing
			merged.Kind, merged.Value, merged.Expr, merged.Parts = AttrParts, "", nil, parts
			res[i] = &merged
		}
	}
	return res, nil
}

// spread compiles s:spread into a nameless attribute whose value yields attributes.
type spread struct{}

func (spread) Kind() Kind { return KindAttribute }

func (spread) CompileAttr(attr *Attribute, host []*Attribute, c *Context) ([]*Attribute, error) {
	expr := strings.TrimSpace(attr.Value)
	if expr == "" {
		return nil, syntaxError(attr, ErrInvalidSyntax, "s:spread requires an expression")
	}
	out := At(&Output{Expr: expr, Escape: true}, attr.Pos(), attr.Origin())
	return append(host, At(&Attribute{Kind: AttrDynamic, Expr: out}, attr.Pos(), attr.Origin())), nil
}

// jsonOutput replaces the children of its host with a structured-data output of the
// directive expression.
type jsonOutput struct{}

func (jsonOutput) Kind() Kind { return KindExtraction }

func (jsonOutput) Extract(n Node, attr *Attribute, c *Context) (Node, error) {
	expr := strings.TrimSpace(attr.Value)
	if expr == "" {
		return nil, syntaxError(attr, ErrInvalidSyntax, "s:json requires an expression")
	}
	out := At(&Output{Expr: expr, Escape: true, Context: ContextJSON}, attr.Pos(), attr.Origin())
	switch n := n.(type) {
	case *Element:
		e := *n
		e.Nodes = []Node{out}
		e.SelfClosing = false
		return &e, nil
	case *Fragment:
		f := *n
		f.Nodes = []Node{out}
		return &f, nil
	}
	return nil, syntaxError(n, ErrInvalidSyntax, "s:json is allowed on elements and fragments only")
}

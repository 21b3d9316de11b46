package shtml

import (
	"slices"
)

// Node is a node of a SHTML template tree. Every node carries its source position and the
// identity of the template it was parsed from.
//
// A parent exclusively owns its children: a node never appears in two trees. Use Clone to
// move a subtree into another tree.
type Node interface {
	// Pos returns the source position of the node.
	Pos() Pos

	// Origin returns the identity of the template the node was parsed from.
	Origin() string

	// Clone returns a deep copy of the node that shares nothing with the original.
	Clone() Node

	meta() *nodeMeta
}

// Container is implemented by nodes that own an ordered list of children.
type Container interface {
	Node
	Children() []Node
	SetChildren([]Node)
}

type nodeMeta struct {
	pos    Pos
	origin string
}

func (m *nodeMeta) Pos() Pos           { return m.pos }
func (m *nodeMeta) Origin() string     { return m.origin }
func (m *nodeMeta) meta() *nodeMeta    { return m }
func (m *nodeMeta) at(p Pos, o string) { m.pos, m.origin = p, o }

// At sets the position and origin of n and returns it.
func At[N Node](n N, p Pos, origin string) N {
	n.meta().at(p, origin)
	return n
}

// Document is the root of a template tree.
type Document struct {
	nodeMeta
	Nodes []Node
}

func NewDocument(nodes ...Node) *Document { return &Document{Nodes: nodes} }

func (d *Document) Children() []Node     { return d.Nodes }
func (d *Document) SetChildren(c []Node) { d.Nodes = c }
func (d *Document) Clone() Node {
	return &Document{nodeMeta: d.nodeMeta, Nodes: cloneNodes(d.Nodes)}
}

// Element is a markup tag.
type Element struct {
	nodeMeta
	Tag         string
	Attrs       []*Attribute
	Nodes       []Node
	SelfClosing bool

	// DynamicTag holds an expression producing the tag name at runtime. Tag is used as a
	// fallback when the expression is empty.
	DynamicTag string
}

func (e *Element) Children() []Node     { return e.Nodes }
func (e *Element) SetChildren(c []Node) { e.Nodes = c }
func (e *Element) Clone() Node {
	c := *e
	c.Attrs = cloneAttrs(e.Attrs)
	c.Nodes = cloneNodes(e.Nodes)
	return &c
}

// Attr returns the first attribute named name.
func (e *Element) Attr(name string) *Attribute { return findAttr(e.Attrs, name) }

// Fragment is a wrapper-less container (<s:template>). A fragment only carries directive
// and inheritance attributes.
type Fragment struct {
	nodeMeta
	Attrs []*Attribute
	Nodes []Node
}

func (f *Fragment) Children() []Node     { return f.Nodes }
func (f *Fragment) SetChildren(c []Node) { f.Nodes = c }
func (f *Fragment) Clone() Node {
	return &Fragment{nodeMeta: f.nodeMeta, Attrs: cloneAttrs(f.Attrs), Nodes: cloneNodes(f.Nodes)}
}

func (f *Fragment) Attr(name string) *Attribute { return findAttr(f.Attrs, name) }

// Component is a component call site. It is structurally parallel to Element but is
// expanded from the component template during compilation.
type Component struct {
	nodeMeta
	Name string

	// NameExpr holds the expression that computes the component name at runtime. Dynamic
	// call sites are never expanded at compile time.
	NameExpr string

	Attrs []*Attribute
	Nodes []Node

	// Template is the resolved identity of the component template. It is set once the call
	// site has been expanded, and Nodes then hold the resolved component body.
	Template string
}

func (c *Component) Children() []Node     { return c.Nodes }
func (c *Component) SetChildren(n []Node) { c.Nodes = n }
func (c *Component) Clone() Node {
	cc := *c
	cc.Attrs = cloneAttrs(c.Attrs)
	cc.Nodes = cloneNodes(c.Nodes)
	return &cc
}

func (c *Component) Attr(name string) *Attribute { return findAttr(c.Attrs, name) }

// Expanded reports whether the call site was replaced by the component body.
func (c *Component) Expanded() bool { return c.Template != "" }

// Text is static markup emitted verbatim.
type Text struct {
	nodeMeta
	Content string
}

func (t *Text) Clone() Node { c := *t; return &c }

// RawCode is a block of host-runtime code passed through untouched.
type RawCode struct {
	nodeMeta
	Code string
}

func (r *RawCode) Clone() Node { c := *r; return &c }

// Import is a canonical namespace import, hoisted from the leading declarations of a raw
// code block.
type Import struct {
	nodeMeta
	Path  string
	Alias string
}

func (i *Import) Clone() Node { c := *i; return &c }

// Statement returns the canonical form of the import used for deduplication.
func (i *Import) Statement() string {
	if i.Alias != "" {
		return "use " + i.Path + " as " + i.Alias + ";"
	}
	return "use " + i.Path + ";"
}

// Pipe is a post-processing transform applied to an output value before escaping.
type Pipe struct {
	Name string `json:"name"`
	Args string `json:"args,omitempty"`
}

// Output is a dynamic output expression.
type Output struct {
	nodeMeta
	Expr    string
	Escape  bool
	Context EscapeContext
	Pipes   []Pipe
}

func (o *Output) Clone() Node {
	c := *o
	c.Pipes = slices.Clone(o.Pipes)
	return &c
}

// AttrKind is the kind of an attribute value.
type AttrKind int

const (
	// AttrBool is a presence-only attribute.
	AttrBool AttrKind = iota
	// AttrStatic is a plain string value.
	AttrStatic
	// AttrDynamic is a value computed by a single expression.
	AttrDynamic
	// AttrParts is an interpolated value made of static *Text and dynamic *Output parts.
	AttrParts
)

// Attribute is an attribute of an element, fragment or component. An empty Name means
// spread output: the value expression yields a set of attributes.
type Attribute struct {
	nodeMeta
	Name  string
	Kind  AttrKind
	Value string
	Expr  *Output
	Parts []Node
}

func (a *Attribute) Clone() Node { return a.clone() }

func (a *Attribute) clone() *Attribute {
	c := *a
	if a.Expr != nil {
		c.Expr = a.Expr.Clone().(*Output)
	}
	c.Parts = cloneNodes(a.Parts)
	return &c
}

// IsDirective reports whether the attribute carries the directive prefix.
func (a *Attribute) IsDirective() bool {
	_, ok := directiveName(a.Name)
	return ok
}

// Outputs returns the dynamic output nodes of the attribute value.
func (a *Attribute) Outputs() []*Output {
	switch a.Kind {
	case AttrDynamic:
		return []*Output{a.Expr}
	case AttrParts:
		var outs []*Output
		for _, p := range a.Parts {
			if o, ok := p.(*Output); ok {
				outs = append(outs, o)
			}
		}
		return outs
	}
	return nil
}

// Directive is a compiled directive wrapping the subtree to render when its condition or
// iteration admits.
//
// The fallback and element references are fixed at construction time by NewDirective.
type Directive struct {
	nodeMeta
	Name  string
	Expr  string
	Nodes []Node

	fallback *Directive
	element  *Element
}

// DirectiveOption configures a Directive built by NewDirective.
type DirectiveOption func(*Directive)

// WithChildren sets the directive body.
func WithChildren(nodes ...Node) DirectiveOption {
	return func(d *Directive) { d.Nodes = nodes }
}

// WithFallback pairs the directive with a sibling directive rendered when the primary
// one renders nothing (e.g. s:empty for s:forelse).
func WithFallback(f *Directive) DirectiveOption {
	return func(d *Directive) { d.fallback = f }
}

// WithElement attaches the host element the directive re-wraps when it is compiled.
func WithElement(e *Element) DirectiveOption {
	return func(d *Directive) { d.element = e }
}

// NewDirective builds a directive node.
func NewDirective(name, expr string, opts ...DirectiveOption) *Directive {
	d := &Directive{Name: name, Expr: expr}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *Directive) Children() []Node     { return d.Nodes }
func (d *Directive) SetChildren(c []Node) { d.Nodes = c }

// Fallback returns the paired fallback directive, if any.
func (d *Directive) Fallback() *Directive { return d.fallback }

// Element returns the host element reference, if any.
func (d *Directive) Element() *Element { return d.element }

// Rebuild returns a copy of d with the options applied. The receiver is not modified.
func (d *Directive) Rebuild(opts ...DirectiveOption) *Directive {
	c := *d
	for _, opt := range opts {
		opt(&c)
	}
	return &c
}

func (d *Directive) Clone() Node {
	c := *d
	c.Nodes = cloneNodes(d.Nodes)
	if d.fallback != nil {
		c.fallback = d.fallback.Clone().(*Directive)
	}
	if d.element != nil {
		c.element = d.element.Clone().(*Element)
	}
	return &c
}

func cloneNodes(nodes []Node) []Node {
	if nodes == nil {
		return nil
	}
	res := make([]Node, len(nodes))
	for i, n := range nodes {
		res[i] = n.Clone()
	}
	return res
}

func cloneAttrs(attrs []*Attribute) []*Attribute {
	if attrs == nil {
		return nil
	}
	res := make([]*Attribute, len(attrs))
	for i, a := range attrs {
		res[i] = a.clone()
	}
	return res
}

func findAttr(attrs []*Attribute, name string) *Attribute {
	for _, a := range attrs {
		if a.Name == name {
			return a
		}
	}
	return nil
}

// attrsOf returns the attribute list of elements, fragments and components.
func attrsOf(n Node) []*Attribute {
	switch n := n.(type) {
	case *Element:
		return n.Attrs
	case *Fragment:
		return n.Attrs
	case *Component:
		return n.Attrs
	}
	return nil
}

func removeAttr(attrs []*Attribute, names ...string) []*Attribute {
	return slices.DeleteFunc(slices.Clone(attrs), func(a *Attribute) bool {
		return slices.Contains(names, a.Name)
	})
}

// isBlank reports whether n is a text node made only of whitespace.
func isBlank(n Node) bool {
	t, ok := n.(*Text)
	return ok && isWhitespace(t.Content)
}

func isWhitespace(s string) bool {
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case ' ', '\t', '\r', '\n', '\f':
		default:
			return false
		}
	}
	return true
}

// Walk calls fn for n and every descendant in depth-first pre-order. Attribute value parts
// are not visited. Walk stops descending into a node when fn returns false.
func Walk(n Node, fn func(Node) bool) {
	if !fn(n) {
		return
	}
	if c, ok := n.(Container); ok {
		for _, child := range c.Children() {
			Walk(child, fn)
		}
	}
	if d, ok := n.(*Directive); ok && d.fallback != nil {
		Walk(d.fallback, fn)
	}
}

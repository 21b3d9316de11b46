package shtml

import (
	"fmt"
	"slices"
	"strings"
)

// structuralMarkers are pass-through attributes consumed by composition and slot
// resolution. They wrap control-flow directives rather than being wrapped by them, so that
// later stages find them at the outermost level.
var structuralMarkers = []string{
	DirectivePrefix + DirBlock,
	DirectivePrefix + DirAppend,
	DirectivePrefix + DirPrepend,
	DirectivePrefix + DirSlot,
	DirectivePrefix + DirInclude,
	DirectivePrefix + DirExtends,
}

// extraction is the result of partitioning the attribute list of a node.
type extraction struct {
	control      *Attribute
	controlH     ControlFlow
	content      *Attribute
	nowrap       *Attribute
	extractors   []*Attribute
	attrDirs     []*Attribute
	kept         []*Attribute // plain and pass-through attributes, in order
	hasDirective bool
}

func extractPass() Pass {
	return Pass{
		Name:   "extract",
		Before: extractBefore,
		After:  extractAfter,
	}
}

func extractBefore(n Node, c *Context) (Action, error) {
	switch n := n.(type) {
	case *Element:
		if name, ok := directiveName(n.Tag); ok {
			res, err := claimElement(n, name, c)
			if err != nil {
				return Action{}, err
			}
			act, err := extractBefore(res, c)
			if err == nil && act.kind == actionNoop {
				return Replace(res), nil
			}
			return act, err
		}
		return extractNode(n, n.Attrs, c)
	case *Fragment:
		return extractNode(n, n.Attrs, c)
	case *Component:
		return extractNode(n, n.Attrs, c)
	}
	return NoOp(), nil
}

// extractAfter dissolves fragments that carry no attributes once their children have been
// extracted.
func extractAfter(n Node, _ *Context) (Action, error) {
	if f, ok := n.(*Fragment); ok && len(f.Attrs) == 0 {
		return Splice(f.Nodes...), nil
	}
	return NoOp(), nil
}

// claimElement converts an element-claiming directive tag (<s:if condition="x">) into the
// equivalent fragment or placeholder.
func claimElement(e *Element, name string, c *Context) (Node, error) {
	h, err := c.Registry.classify(e, name)
	if err != nil {
		return nil, err
	}
	var attr string
	switch h := h.(type) {
	case PassThrough:
		if !h.Element {
			return nil, syntaxError(e, ErrInvalidSyntax, "%s%s cannot be used as an element", DirectivePrefix, name)
		}
		if name == DirParent {
			if slices.ContainsFunc(e.Nodes, func(n Node) bool { return !isBlank(n) }) {
				return nil, syntaxError(e, ErrInvalidSyntax, "s:parent must be empty")
			}
			return At(NewDirective(DirParent, ""), e.Pos(), e.Origin()), nil
		}
		attr = h.Attr
	case ElementForm:
		attr = h.ElementAttr()
	default:
		return nil, syntaxError(e, ErrInvalidSyntax, "%s%s cannot be used as an element", DirectivePrefix, name)
	}

	f := At(&Fragment{Nodes: e.Nodes}, e.Pos(), e.Origin())
	d := At(&Attribute{Name: DirectivePrefix + name, Kind: AttrStatic}, e.Pos(), e.Origin())
	f.Attrs = append(f.Attrs, d)
	for _, a := range e.Attrs {
		if attr != "" && a.Name == attr {
			d.Value = a.Value
			d.meta().at(a.Pos(), a.Origin())
			continue
		}
		f.Attrs = append(f.Attrs, a)
	}
	if cf, ok := h.(ControlFlow); ok && !cf.NoExpr && strings.TrimSpace(d.Value) == "" {
		return nil, syntaxError(e, ErrInvalidSyntax, "<%s> requires the %q attribute", e.Tag, attr)
	}
	return f, nil
}

// partition classifies the attributes of n by directive kind and enforces the
// one-per-node cardinality of control-flow and content directives.
func partition(n Node, attrs []*Attribute, c *Context) (*extraction, error) {
	x := &extraction{}
	for _, a := range attrs {
		name, ok := directiveName(a.Name)
		if !ok {
			x.kept = append(x.kept, a)
			continue
		}
		h, err := c.Registry.classify(a, name)
		if err != nil {
			return nil, err
		}
		switch h := h.(type) {
		case ControlFlow:
			if x.control != nil {
				return nil, duplicateError(n, x.control, a)
			}
			x.control, x.controlH = a, h
		case Content:
			if x.content != nil {
				return nil, duplicateError(n, x.content, a)
			}
			x.content = a
		case NoWrap:
			x.nowrap = a
		default:
			switch h.Kind() {
			case KindControlFlow, KindContent:
				return nil, syntaxError(a, ErrInvalidSyntax, "directive %s: custom %v directives are not supported", a.Name, h.Kind())
			case KindExtraction:
				x.extractors = append(x.extractors, a)
			case KindAttribute:
				x.attrDirs = append(x.attrDirs, a)
			default:
				x.kept = append(x.kept, a)
				continue
			}
		}
		x.hasDirective = true
	}
	return x, nil
}

func duplicateError(n Node, first, second *Attribute) error {
	tag := nodeLabel(n)
	return syntaxError(second, ErrDuplicateDirective,
		"%s has both %s and %s; nest elements instead: <s:template %s=%q><%s %s=%q>...</%s></s:template>",
		tag, first.Name, second.Name, first.Name, first.Value, strings.Trim(tag, "<>"), second.Name, second.Value, strings.Trim(tag, "<>"))
}

func nodeLabel(n Node) string {
	switch n := n.(type) {
	case *Element:
		return "<" + n.Tag + ">"
	case *Fragment:
		return "<s:template>"
	case *Component:
		if n.NameExpr != "" {
			return "<s:component>"
		}
		return "<s-" + n.Name + ">"
	}
	return fmt.Sprintf("%T", n)
}

// extractNode restructures a node into its directive-wrapped shape:
// node (remaining attributes) -> content directive -> control-flow directive.
func extractNode(n Node, attrs []*Attribute, c *Context) (Action, error) {
	x, err := partition(n, attrs, c)
	if err != nil {
		return Action{}, err
	}
	if _, ok := n.(*Fragment); ok {
		for _, a := range x.kept {
			if !isInheritanceAttr(a, c.Registry) {
				return Action{}, syntaxError(a, ErrFragmentAttribute,
					"<s:template> cannot have the plain attribute %q; move it to an element", a.Name)
			}
		}
	}
	if !x.hasDirective {
		return NoOp(), nil
	}

	comp, isComponent := n.(*Component)
	if x.nowrap != nil && x.content == nil {
		return Action{}, syntaxError(x.nowrap, ErrMissingCompanion, "s:nowrap requires s:text or s:html on the same element")
	}
	if isComponent && (x.content != nil || x.nowrap != nil) {
		return Action{}, syntaxError(n, ErrInvalidSyntax, "content directives are not allowed on component <s-%s>", comp.Name)
	}

	// attribute-modifying directives compile into plain attributes right away
	kept := x.kept
	for _, a := range x.attrDirs {
		name, _ := directiveName(a.Name)
		h, _ := c.Registry.Get(name)
		if kept, err = h.(AttrCompiler).CompileAttr(a, kept, c); err != nil {
			return Action{}, err
		}
	}

	var node Node
	switch n := n.(type) {
	case *Element:
		e := *n
		e.Attrs = kept
		node = &e
	case *Fragment:
		f := *n
		f.Attrs = kept
		node = &f
	case *Component:
		cc := *n
		cc.Attrs = kept
		node = &cc
	}

	for _, a := range x.extractors {
		name, _ := directiveName(a.Name)
		h, _ := c.Registry.Get(name)
		if node, err = h.(Extractor).Extract(node, a, c); err != nil {
			return Action{}, err
		}
		if node == nil {
			return Action{}, syntaxError(a, ErrInvalidSyntax, "directive %s produced no node", a.Name)
		}
	}

	// structural markers move to a wrapper fragment around the directives
	var markers []*Attribute
	if x.control != nil || (x.nowrap != nil && x.content != nil) {
		markers, node = takeMarkers(node)
	}

	if x.content != nil {
		node, err = wrapContent(node, x)
		if err != nil {
			return Action{}, err
		}
	}

	if x.control != nil {
		node, err = wrapControl(node, x)
		if err != nil {
			return Action{}, err
		}
	}

	if len(markers) > 0 {
		node = At(&Fragment{Attrs: markers, Nodes: []Node{node}}, n.Pos(), n.Origin())
	}
	return Replace(node), nil
}

// takeMarkers removes the structural markers from n and returns them.
func takeMarkers(n Node) ([]*Attribute, Node) {
	var markers []*Attribute
	for _, a := range attrsOf(n) {
		if slices.Contains(structuralMarkers, a.Name) {
			markers = append(markers, a)
		}
	}
	if len(markers) == 0 {
		return nil, n
	}
	switch n := n.(type) {
	case *Element:
		n.Attrs = removeAttr(n.Attrs, structuralMarkers...)
	case *Fragment:
		n.Attrs = removeAttr(n.Attrs, structuralMarkers...)
	case *Component:
		n.Attrs = removeAttr(n.Attrs, structuralMarkers...)
	}
	return markers, n
}

func wrapContent(n Node, x *extraction) (Node, error) {
	a := x.content
	expr := strings.TrimSpace(a.Value)
	if expr == "" {
		return nil, syntaxError(a, ErrInvalidSyntax, "%s requires an expression", a.Name)
	}
	name, _ := directiveName(a.Name)
	switch n := n.(type) {
	case *Element:
		if x.nowrap != nil {
			return At(NewDirective(name, expr), a.Pos(), a.Origin()), nil
		}
		if n.SelfClosing || len(n.Nodes) > 0 {
			e := *n
			e.SelfClosing = false
			e.Nodes = nil
			n = &e
		}
		return At(NewDirective(name, expr, WithElement(n)), a.Pos(), a.Origin()), nil
	case *Fragment:
		d := At(NewDirective(name, expr), a.Pos(), a.Origin())
		if len(n.Attrs) == 0 {
			return d, nil
		}
		f := *n
		f.Nodes = []Node{d}
		return &f, nil
	}
	return nil, syntaxError(a, ErrInvalidSyntax, "%s is not allowed on %s", a.Name, nodeLabel(n))
}

func wrapControl(n Node, x *extraction) (Node, error) {
	a := x.control
	name, _ := directiveName(a.Name)
	expr := strings.TrimSpace(a.Value)
	switch {
	case x.controlH.NoExpr && expr != "":
		return nil, syntaxError(a, ErrInvalidSyntax, "%s takes no expression", a.Name)
	case !x.controlH.NoExpr && expr == "":
		return nil, syntaxError(a, ErrInvalidSyntax, "%s requires an expression", a.Name)
	}

	body := []Node{n}
	if f, ok := n.(*Fragment); ok && len(f.Attrs) == 0 {
		body = f.Nodes
	}
	return At(NewDirective(name, expr, WithChildren(body...)), a.Pos(), a.Origin()), nil
}

// isInheritanceAttr reports whether a is a directive or inheritance marker allowed on
// fragments.
func isInheritanceAttr(a *Attribute, r *Registry) bool {
	name, ok := directiveName(a.Name)
	if !ok {
		return false
	}
	h, ok := r.Get(name)
	if !ok {
		return false
	}
	if pt, ok := h.(PassThrough); ok {
		return pt.Inheritance
	}
	return true
}

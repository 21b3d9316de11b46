package shtml

import (
	"slices"
	"strings"
)

const (
	slotAttr     = "slot"
	slotDirAttr  = DirectivePrefix + DirSlot
	defaultSlot  = ""
	mergeClasses = "class"
)

func componentsPass() Pass {
	return Pass{
		Name:   "components",
		Before: expandComponent,
	}
}

// expandComponent replaces the children of a static component call site with the compiled
// component template, filling its outlets with the caller-supplied content.
func expandComponent(n Node, c *Context) (Action, error) {
	comp, ok := n.(*Component)
	if !ok || comp.NameExpr != "" || comp.Expanded() {
		return NoOp(), nil
	}
	ref := comp.Name
	if c.compiler != nil {
		ref = c.compiler.componentRef(comp.Name)
	}
	id, err := c.resolve(comp, ref)
	if err != nil {
		return Action{}, err
	}
	if err := c.enter(comp, id); err != nil {
		return Action{}, err
	}
	defer c.leave()

	doc, err := c.load(comp, id)
	if err != nil {
		return Action{}, err
	}
	body, err := c.derive(id).compileFull(doc)
	if err != nil {
		return Action{}, err
	}

	nodes, err := ResolveSlots(body.Nodes, comp.Nodes, c.Debug)
	if err != nil {
		return Action{}, err
	}
	c.logger().Debug("Expand component", "template", c.Template, "component", comp.Name, "resolved", id)

	res := *comp
	res.Nodes = nodes
	res.Template = id
	return Replace(&res), nil
}

// ResolveSlots maps the caller-supplied content into the outlets of the component body.
// Caller nodes marked with slot="name" (or s:slot="name") go to the named outlet, the rest
// goes to the default outlet. An outlet without supplied content renders its fallback
// children. In strict mode, content for a slot the component does not declare is an error.
func ResolveSlots(body, caller []Node, strict bool) ([]Node, error) {
	supplied, order := partitionCaller(caller)

	declared := make(map[string]bool)
	collectOutlets(body, declared)
	if strict {
		for _, name := range order {
			if name != defaultSlot && !declared[name] {
				var first Node
				if s := supplied[name]; len(s) > 0 {
					first = s[0]
				}
				return nil, syntaxError(first, ErrInvalidSyntax, "component has no slot %q", name)
			}
		}
	}

	used := make(map[string]int)
	return fillOutlets(body, supplied, used)
}

// partitionCaller groups the caller children by target slot name. Blank default content
// counts as not supplied.
func partitionCaller(caller []Node) (map[string][]Node, []string) {
	supplied := make(map[string][]Node)
	var order []string
	add := func(name string, nodes ...Node) {
		if _, ok := supplied[name]; !ok {
			order = append(order, name)
		}
		supplied[name] = append(supplied[name], nodes...)
	}
	for _, n := range caller {
		name, target, ok := slotTarget(n)
		if !ok {
			add(defaultSlot, n)
			continue
		}
		add(name, target...)
	}
	if d, ok := supplied[defaultSlot]; ok && !slices.ContainsFunc(d, func(n Node) bool { return !isBlank(n) }) {
		delete(supplied, defaultSlot)
		order = slices.DeleteFunc(order, func(s string) bool { return s == defaultSlot })
	}
	return supplied, order
}

// slotTarget returns the slot named by a caller node and the nodes it contributes.
func slotTarget(n Node) (string, []Node, bool) {
	switch n := n.(type) {
	case *Element:
		for _, name := range []string{slotAttr, slotDirAttr} {
			if a := n.Attr(name); a != nil && a.Kind == AttrStatic {
				e := *n
				e.Attrs = removeAttr(n.Attrs, name)
				return strings.TrimSpace(a.Value), []Node{&e}, true
			}
		}
	case *Component:
		if a := n.Attr(slotAttr); a != nil && a.Kind == AttrStatic {
			cc := *n
			cc.Attrs = removeAttr(n.Attrs, slotAttr)
			return strings.TrimSpace(a.Value), []Node{&cc}, true
		}
	case *Fragment:
		if a := n.Attr(slotDirAttr); a != nil {
			rest := removeAttr(n.Attrs, slotDirAttr)
			if len(rest) == 0 {
				return strings.TrimSpace(a.Value), n.Nodes, true
			}
			f := *n
			f.Attrs = rest
			return strings.TrimSpace(a.Value), []Node{&f}, true
		}
	}
	return "", nil, false
}

func outletName(n Node) (string, bool) {
	switch n.(type) {
	case *Element, *Fragment:
		if a := findAttr(attrsOf(n), slotDirAttr); a != nil {
			return strings.TrimSpace(a.Value), true
		}
	}
	return "", false
}

func collectOutlets(nodes []Node, declared map[string]bool) {
	for _, n := range nodes {
		Walk(n, func(n Node) bool {
			if _, ok := n.(*Component); ok {
				return false
			}
			if name, ok := outletName(n); ok {
				declared[name] = true
			}
			return true
		})
	}
}

func fillOutlets(nodes []Node, supplied map[string][]Node, used map[string]int) ([]Node, error) {
	var out []Node
	for _, n := range nodes {
		name, ok := outletName(n)
		if !ok {
			if _, isComp := n.(*Component); !isComp {
				if ct, ok := n.(Container); ok {
					kids, err := fillOutlets(ct.Children(), supplied, used)
					if err != nil {
						return nil, err
					}
					ct.SetChildren(kids)
				}
				if d, ok := n.(*Directive); ok && d.fallback != nil {
					kids, err := fillOutlets(d.fallback.Nodes, supplied, used)
					if err != nil {
						return nil, err
					}
					d.fallback.Nodes = kids
				}
			}
			out = append(out, n)
			continue
		}

		content, ok := supplied[name]
		if ok {
			// a slot rendered by more than one outlet gets a copy each time
			if used[name] > 0 {
				content = cloneNodes(content)
			}
			used[name]++
		} else {
			var err error
			content, err = fillOutlets(contentOf(n), supplied, used)
			if err != nil {
				return nil, err
			}
		}
		out = append(out, fillOutlet(n, content, ok)...)
	}
	return out, nil
}

// fillOutlet renders the outlet n with content. A fragment outlet is replaced by the
// content. An element outlet keeps its tag, unless the content is a single caller element
// which is merged into it.
func fillOutlet(n Node, content []Node, supplied bool) []Node {
	switch o := n.(type) {
	case *Fragment:
		rest := removeAttr(o.Attrs, slotDirAttr)
		if len(rest) == 0 {
			return content
		}
		f := *o
		f.Attrs, f.Nodes = rest, content
		return []Node{&f}
	case *Element:
		e := *o
		e.Attrs = removeAttr(o.Attrs, slotDirAttr)
		if supplied {
			if ce := singleElement(content); ce != nil {
				return []Node{mergeElement(&e, ce)}
			}
		}
		e.Nodes = content
		if len(content) > 0 {
			e.SelfClosing = false
		}
		return []Node{&e}
	}
	return content
}

// singleElement returns the caller element if content is a single element surrounded by
// blank text.
func singleElement(content []Node) *Element {
	var found *Element
	for _, n := range content {
		if isBlank(n) {
			continue
		}
		e, ok := n.(*Element)
		if !ok || found != nil {
			return nil
		}
		found = e
	}
	return found
}

// mergeElement merges the caller element into the outlet element: the caller tag and
// children win, class values are concatenated outlet first, other caller attributes
// override the outlet ones.
func mergeElement(outlet, caller *Element) *Element {
	res := *caller
	attrs := slices.Clone(outlet.Attrs)
	for _, a := range caller.Attrs {
		i := slices.IndexFunc(attrs, func(o *Attribute) bool { return a.Name != "" && o.Name == a.Name })
		switch {
		case i < 0:
			attrs = append(attrs, a)
		case a.Name == mergeClasses:
			attrs[i] = concatAttr(attrs[i], a)
		default:
			attrs[i] = a
		}
	}
	res.Attrs = attrs
	return &res
}

// concatAttr joins two attribute values with a space.
func concatAttr(first, second *Attribute) *Attribute {
	if first.Kind == AttrBool {
		return second
	}
	if second.Kind == AttrBool {
		return first
	}
	if first.Kind == AttrStatic && second.Kind == AttrStatic {
		merged := *first
		merged.Value = strings.TrimSpace(first.Value + " " + second.Value)
		return &merged
	}
	parts := attrParts(first)
	parts = append(parts, At(&Text{Content: " "}, second.Pos(), second.Origin()))
	parts = append(parts, attrParts(second)...)
	merged := *first
	merged.Kind, merged.Value, merged.Expr, merged.Parts = AttrParts, "", nil, parts
	return &merged
}

func attrParts(a *Attribute) []Node {
	switch a.Kind {
	case AttrStatic:
		return []Node{At(&Text{Content: a.Value}, a.Pos(), a.Origin())}
	case AttrDynamic:
		return []Node{a.Expr}
	case AttrParts:
		return slices.Clone(a.Parts)
	}
	return nil
}

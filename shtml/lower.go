package shtml

import (
	"regexp"
	"slices"
	"strings"
)

func directivesPass() Pass {
	return Pass{
		Name:   "directives",
		Before: lowerBefore,
		After:  lowerAfter,
	}
}

func lowerBefore(n Node, c *Context) (Action, error) {
	switch n := n.(type) {
	case *Directive:
		h, ok := c.Registry.Get(n.Name)
		if !ok {
			return NoOp(), nil
		}
		if ct, ok := h.(Content); ok {
			res, err := lowerContent(n, ct)
			if err != nil {
				return Action{}, err
			}
			return Replace(res), nil
		}
	case *RawCode:
		imports, rest := splitImports(n)
		if len(imports) == 0 {
			return NoOp(), nil
		}
		nodes := make([]Node, 0, len(imports)+1)
		for _, imp := range imports {
			nodes = append(nodes, imp)
		}
		if rest != nil {
			nodes = append(nodes, rest)
		}
		return Splice(nodes...), nil
	}
	return NoOp(), nil
}

func lowerAfter(n Node, c *Context) (Action, error) {
	if d, ok := n.(*Document); ok {
		d.Nodes = hoistImports(d.Nodes)
	}
	return NoOp(), nil
}

// lowerContent compiles s:text and s:html into an output node, re-wrapped into the host
// element when the directive keeps one.
func lowerContent(d *Directive, h Content) (Node, error) {
	expr, pipes, err := splitPipes(d.Expr)
	if err != nil {
		return nil, syntaxError(d, ErrInvalidSyntax, "s:%s: %v", d.Name, err)
	}
	out := At(&Output{Expr: expr, Escape: !h.Raw, Pipes: pipes}, d.Pos(), d.Origin())
	if d.element == nil {
		return out, nil
	}
	e := d.element.Clone().(*Element)
	e.SelfClosing = false
	e.Nodes = []Node{out}
	return e, nil
}

var importRe = regexp.MustCompile(`^use\s+([A-Za-z_\\][A-Za-z0-9_\\]*)(?:\s+as\s+([A-Za-z_][A-Za-z0-9_]*))?\s*;`)

// splitImports separates the leading import declarations of a raw code block. rest is nil
// when nothing but imports remain.
func splitImports(r *RawCode) ([]*Import, *RawCode) {
	var imports []*Import
	code := strings.TrimLeft(r.Code, " \t\r\n")
	for {
		m := importRe.FindStringSubmatchIndex(code)
		if m == nil {
			break
		}
		imp := At(&Import{Path: code[m[2]:m[3]]}, r.Pos(), r.Origin())
		if m[4] >= 0 {
			imp.Alias = code[m[4]:m[5]]
		}
		imports = append(imports, imp)
		code = strings.TrimLeft(code[m[1]:], " \t\r\n")
	}
	if len(imports) == 0 {
		return nil, r
	}
	if code == "" {
		return imports, nil
	}
	rest := At(&RawCode{Code: strings.TrimSpace(code)}, r.Pos(), r.Origin())
	return imports, rest
}

// hoistImports moves every import of the tree to the front of nodes, keeping the first
// occurrence of each statement.
func hoistImports(nodes []Node) []Node {
	var imports []Node
	seen := make(map[string]bool)
	var strip func([]Node) []Node
	strip = func(nodes []Node) []Node {
		var out []Node
		changed := false
		for i, n := range nodes {
			if imp, ok := n.(*Import); ok {
				if !seen[imp.Statement()] {
					seen[imp.Statement()] = true
					imports = append(imports, imp)
				}
				if !changed {
					out = slices.Clone(nodes[:i])
					changed = true
				}
				continue
			}
			if ct, ok := n.(Container); ok {
				ct.SetChildren(strip(ct.Children()))
			}
			if d, ok := n.(*Directive); ok && d.fallback != nil {
				d.fallback.SetChildren(strip(d.fallback.Children()))
			}
			if changed {
				out = append(out, n)
			}
		}
		if !changed {
			return nodes
		}
		return out
	}
	rest := strip(nodes)
	if len(imports) == 0 {
		return rest
	}
	return append(imports, rest...)
}

package shtml

import (
	"slices"
	"strings"
)

var (
	extendsAttr = DirectivePrefix + DirExtends
	includeAttr = DirectivePrefix + DirInclude
	blockAttr   = DirectivePrefix + DirBlock
	appendAttr  = DirectivePrefix + DirAppend
	prependAttr = DirectivePrefix + DirPrepend
)

func composePass() Pass {
	return Pass{
		Name: "compose",
		Before: func(n Node, c *Context) (Action, error) {
			doc, ok := n.(*Document)
			if !ok {
				return Skip(), nil
			}
			nodes, err := composeTop(doc, c)
			if err != nil {
				return Action{}, err
			}
			doc.Nodes = nodes
			return Skip(), nil
		},
	}
}

// composeTop composes the document of a top-level compilation and removes the block markers
// from the result.
func composeTop(doc *Document, c *Context) ([]Node, error) {
	var (
		nodes []Node
		err   error
	)
	if len(c.blocks) > 0 {
		nodes, err = selectBlocks(doc, c)
	} else {
		nodes, err = composeTree(doc, c)
	}
	if err != nil {
		return nil, err
	}
	nodes, err = finalizeBlocks(nodes)
	if err != nil {
		return nil, err
	}
	return hoistImports(nodes), nil
}

// composeTree resolves the extends and include relations of doc. Block markers are kept
// in the result so that the caller can merge it further.
func composeTree(doc *Document, c *Context) ([]Node, error) {
	ext, err := findExtends(doc)
	if err != nil {
		return nil, err
	}
	if ext == nil {
		return expandIncludes(doc.Nodes, c)
	}
	return extend(doc, ext, c)
}

// findExtends returns the node carrying the s:extends marker of doc, if any.
func findExtends(doc *Document) (Node, error) {
	var found Node
	var err error
	Walk(doc, func(n Node) bool {
		if err != nil {
			return false
		}
		if _, ok := n.(*Component); ok {
			return false
		}
		if findAttr(attrsOf(n), extendsAttr) == nil {
			return true
		}
		if found != nil {
			err = syntaxError(n, ErrMultipleExtends, "a template can extend only one parent; first s:extends at %s", found.Pos())
			return false
		}
		found = n
		return true
	})
	return found, err
}

// loadComposed loads, prepares and composes the template referenced by ref from node n.
func loadComposed(n Node, ref string, c *Context) ([]Node, error) {
	id, err := c.resolve(n, ref)
	if err != nil {
		return nil, err
	}
	if err := c.enter(n, id); err != nil {
		return nil, err
	}
	defer c.leave()

	doc, err := c.load(n, id)
	if err != nil {
		return nil, err
	}
	dc := c.derive(id)
	if doc, err = dc.prepare(doc); err != nil {
		return nil, err
	}
	return composeTree(doc, dc)
}

func markerValue(n Node, attr string) (string, *Attribute) {
	a := findAttr(attrsOf(n), attr)
	if a == nil {
		return "", nil
	}
	return strings.TrimSpace(a.Value), a
}

// blockMarker returns the kind of the block declaration carried by n and the block name.
func blockMarker(n Node) (kind, name string, err error) {
	for _, k := range [...]string{DirBlock, DirAppend, DirPrepend} {
		v, a := markerValue(n, DirectivePrefix+k)
		if a == nil {
			continue
		}
		if kind != "" {
			return "", "", syntaxError(a, ErrInvalidSyntax, "s:%s and s:%s cannot be combined", kind, k)
		}
		if v == "" {
			return "", "", syntaxError(a, ErrInvalidSyntax, "s:%s requires a block name", k)
		}
		kind, name = k, v
	}
	return kind, name, nil
}

func contentOf(n Node) []Node {
	if ct, ok := n.(Container); ok {
		return ct.Children()
	}
	return nil
}

// withChildren returns a shallow copy of the element or fragment n owning nodes.
func withChildren(n Node, nodes []Node) Node {
	switch n := n.(type) {
	case *Element:
		e := *n
		e.Nodes = nodes
		if len(nodes) > 0 {
			e.SelfClosing = false
		}
		return &e
	case *Fragment:
		f := *n
		f.Nodes = nodes
		return &f
	}
	return n
}

// blockDecl is a block declaration of an extending document.
type blockDecl struct {
	kind string
	name string
	node Node
}

// blockSet collects the block declarations of an extending document.
type blockSet struct {
	replace  map[string]blockDecl
	promoted map[string][]blockDecl
	prepend  map[string][]blockDecl
	append   map[string][]blockDecl
}

func newBlockSet() *blockSet {
	return &blockSet{
		replace:  make(map[string]blockDecl),
		promoted: make(map[string][]blockDecl),
		prepend:  make(map[string][]blockDecl),
		append:   make(map[string][]blockDecl),
	}
}

func (bs *blockSet) add(d blockDecl, promoted bool) error {
	switch d.kind {
	case DirAppend:
		bs.append[d.name] = append(bs.append[d.name], d)
	case DirPrepend:
		bs.prepend[d.name] = append(bs.prepend[d.name], d)
	default:
		if promoted {
			bs.promoted[d.name] = append(bs.promoted[d.name], d)
			return nil
		}
		if prev, ok := bs.replace[d.name]; ok {
			return syntaxError(d.node, ErrDuplicateBlock, "block %q is already declared at %s:%s",
				d.name, prev.node.Origin(), prev.node.Pos())
		}
		bs.replace[d.name] = d
	}
	return nil
}

// resolve applies the precedence of explicit declarations over the ones promoted from
// includes. Conflicting promoted declarations without an explicit one are an error.
func (bs *blockSet) resolve() error {
	names := make([]string, 0, len(bs.promoted))
	for name := range bs.promoted {
		names = append(names, name)
	}
	slices.Sort(names)
	for _, name := range names {
		decls := bs.promoted[name]
		if _, ok := bs.replace[name]; ok {
			continue
		}
		if len(decls) > 1 {
			return syntaxError(decls[1].node, ErrDuplicateBlock,
				"block %q is declared by more than one included template (%s, %s); declare it explicitly",
				name, decls[0].node.Origin(), decls[1].node.Origin())
		}
		bs.replace[name] = decls[0]
	}
	bs.promoted = nil
	return nil
}

// extend merges the block declarations of the extending document doc into its parent.
func extend(doc *Document, ext Node, c *Context) ([]Node, error) {
	ref, _ := markerValue(ext, extendsAttr)
	if ref == "" {
		return nil, syntaxError(ext, ErrInvalidSyntax, "s:extends requires a template reference")
	}
	c.logger().Debug("Extend template", "template", c.Template, "parent", ref)

	parent, err := loadComposed(ext, ref, c)
	if err != nil {
		return nil, err
	}

	decls := newBlockSet()
	var imports []Node
	if err := collectDecls(doc.Nodes, ext, c, decls, &imports, false); err != nil {
		return nil, err
	}
	if err := decls.resolve(); err != nil {
		return nil, err
	}

	merged, err := mergeBlocks(parent, decls)
	if err != nil {
		return nil, err
	}
	return append(imports, merged...), nil
}

// collectDecls gathers the block declarations and imports of an extending document. Other
// content is discarded.
func collectDecls(nodes []Node, ext Node, c *Context, decls *blockSet, imports *[]Node, promoted bool) error {
	for _, n := range nodes {
		if imp, ok := n.(*Import); ok {
			*imports = append(*imports, imp)
			continue
		}
		if _, ok := n.(*Component); ok {
			continue
		}
		kind, name, err := blockMarker(n)
		if err != nil {
			return err
		}
		if kind != "" {
			var content []Node
			if _, a := markerValue(n, includeAttr); a != nil {
				// the included template becomes the content of the declaration
				hosts, err := expandIncludes([]Node{n}, c)
				if err != nil {
					return err
				}
				if len(hosts) != 1 {
					return syntaxError(a, ErrInvalidSyntax, "s:include on a block declaration must keep its host")
				}
				n = hosts[0]
				content = contentOf(n)
			} else {
				content, err = expandIncludes(contentOf(n), c)
				if err != nil {
					return err
				}
			}
			d := blockDecl{kind: kind, name: name, node: withChildren(n, content)}
			if err := decls.add(d, promoted); err != nil {
				return err
			}
			continue
		}
		if ref, a := markerValue(n, includeAttr); a != nil && n != ext {
			// an include outside of any block contributes its block declarations
			if ref == "" {
				return syntaxError(a, ErrInvalidSyntax, "s:include requires a template reference")
			}
			included, err := loadComposed(n, ref, c)
			if err != nil {
				return err
			}
			if err := collectDecls(included, nil, c, decls, imports, true); err != nil {
				return err
			}
			continue
		}
		if err := collectDecls(contentOf(n), ext, c, decls, imports, promoted); err != nil {
			return err
		}
	}
	return nil
}

// expandIncludes replaces the content of every s:include site with the composed included
// template. An include fragment without other markers is replaced by the included nodes.
func expandIncludes(nodes []Node, c *Context) ([]Node, error) {
	var out []Node
	for _, n := range nodes {
		if d, ok := n.(*Directive); ok && d.fallback != nil {
			kids, err := expandIncludes(d.fallback.Nodes, c)
			if err != nil {
				return nil, err
			}
			d.fallback.Nodes = kids
		}
		if _, ok := n.(*Component); !ok {
			if ref, a := markerValue(n, includeAttr); a != nil {
				if ref == "" {
					return nil, syntaxError(a, ErrInvalidSyntax, "s:include requires a template reference")
				}
				c.logger().Debug("Include template", "template", c.Template, "include", ref)
				included, err := loadComposed(n, ref, c)
				if err != nil {
					return nil, err
				}
				host := withChildren(n, included)
				switch h := host.(type) {
				case *Element:
					h.Attrs = removeAttr(h.Attrs, includeAttr)
				case *Fragment:
					h.Attrs = removeAttr(h.Attrs, includeAttr)
					if len(h.Attrs) == 0 {
						out = append(out, included...)
						continue
					}
				}
				out = append(out, host)
				continue
			}
		}
		if ct, ok := n.(Container); ok {
			kids, err := expandIncludes(ct.Children(), c)
			if err != nil {
				return nil, err
			}
			ct.SetChildren(kids)
		}
		out = append(out, n)
	}
	return out, nil
}

// mergeBlocks applies the declarations to the blocks of the parent skeleton. Nested blocks
// are merged before their enclosing block.
func mergeBlocks(nodes []Node, decls *blockSet) ([]Node, error) {
	out := make([]Node, 0, len(nodes))
	for _, n := range nodes {
		kind, name, err := blockMarker(n)
		if err != nil {
			return nil, err
		}
		if kind == DirBlock {
			base, err := mergeBlocks(contentOf(n), decls)
			if err != nil {
				return nil, err
			}
			res, err := applyBlock(n, name, base, decls)
			if err != nil {
				return nil, err
			}
			out = append(out, res)
			continue
		}
		if d, ok := n.(*Directive); ok && d.fallback != nil {
			kids, err := mergeBlocks(d.fallback.Nodes, decls)
			if err != nil {
				return nil, err
			}
			d.fallback.Nodes = kids
		}
		if ct, ok := n.(Container); ok {
			if _, isComp := n.(*Component); !isComp {
				kids, err := mergeBlocks(ct.Children(), decls)
				if err != nil {
					return nil, err
				}
				ct.SetChildren(kids)
			}
		}
		out = append(out, n)
	}
	return out, nil
}

// applyBlock builds the merged block from the parent block p, its merged content base and
// the child declarations for the block name.
func applyBlock(p Node, name string, base []Node, decls *blockSet) (Node, error) {
	_, concrete := p.(*Element)
	// wrapped returns the part of a declaration that goes into the merged block
	wrapped := func(d blockDecl) []Node {
		if e, ok := d.node.(*Element); ok && !concrete {
			e = e.Clone().(*Element)
			e.Attrs = removeAttr(e.Attrs, appendAttr, prependAttr)
			return []Node{e}
		}
		return cloneNodes(contentOf(d.node))
	}

	var content []Node
	for _, d := range decls.prepend[name] {
		content = append(content, wrapped(d)...)
	}

	rep, replaced := decls.replace[name]
	if replaced {
		body, err := substituteParent(cloneNodes(contentOf(rep.node)), base)
		if err != nil {
			return nil, err
		}
		content = append(content, body...)
	} else {
		content = append(content, base...)
	}

	for _, d := range decls.append[name] {
		content = append(content, wrapped(d)...)
	}

	if e, ok := rep.node.(*Element); replaced && !concrete && ok {
		// the child's wrapper survives a wrapper-less parent block
		res := withChildren(e, content).(*Element)
		res.Attrs = cloneAttrs(res.Attrs)
		return res, nil
	}
	return withChildren(p, content), nil
}

// substituteParent replaces every <s:parent/> placeholder in nodes with a copy of base.
func substituteParent(nodes []Node, base []Node) ([]Node, error) {
	var out []Node
	for _, n := range nodes {
		if d, ok := n.(*Directive); ok && d.Name == DirParent {
			out = append(out, cloneNodes(base)...)
			continue
		}
		if _, ok := n.(*Component); !ok {
			if ct, ok := n.(Container); ok {
				kids, err := substituteParent(ct.Children(), base)
				if err != nil {
					return nil, err
				}
				ct.SetChildren(kids)
			}
		}
		if d, ok := n.(*Directive); ok && d.fallback != nil {
			kids, err := substituteParent(d.fallback.Nodes, base)
			if err != nil {
				return nil, err
			}
			d.fallback.Nodes = kids
		}
		out = append(out, n)
	}
	return out, nil
}

// selectBlocks returns the blocks of doc named in the allow-list, in document order.
// Composition is skipped.
func selectBlocks(doc *Document, c *Context) ([]Node, error) {
	var out []Node
	var walk func(nodes []Node) error
	walk = func(nodes []Node) error {
		for _, n := range nodes {
			if imp, ok := n.(*Import); ok {
				out = append(out, imp)
				continue
			}
			kind, name, err := blockMarker(n)
			if err != nil {
				return err
			}
			if kind == DirBlock && blockAllowed(c.blocks, name) {
				content, err := expandIncludes(contentOf(n), c)
				if err != nil {
					return err
				}
				// there is no parent block to insert
				if content, err = substituteParent(content, nil); err != nil {
					return err
				}
				out = append(out, withChildren(n, content))
				continue
			}
			if _, ok := n.(*Component); ok {
				continue
			}
			if err := walk(contentOf(n)); err != nil {
				return err
			}
			if d, ok := n.(*Directive); ok && d.fallback != nil {
				if err := walk(d.fallback.Nodes); err != nil {
					return err
				}
			}
		}
		return nil
	}
	if err := walk(doc.Nodes); err != nil {
		return nil, err
	}
	c.logger().Debug("Select blocks", "template", c.Template, "blocks", c.blocks, "found", len(out))
	return out, nil
}

// finalizeBlocks removes the block markers of a composed tree. Fragments left without
// attributes are replaced by their children. A remaining <s:parent/> placeholder is
// an error.
func finalizeBlocks(nodes []Node) ([]Node, error) {
	var out []Node
	for _, n := range nodes {
		if d, ok := n.(*Directive); ok {
			if d.Name == DirParent {
				return nil, syntaxError(d, ErrOrphanPlaceholder, "s:parent is only allowed inside a block overriding a parent block")
			}
			if d.fallback != nil {
				kids, err := finalizeBlocks(d.fallback.Nodes)
				if err != nil {
					return nil, err
				}
				d.fallback.Nodes = kids
			}
		}
		switch n := n.(type) {
		case *Element:
			n.Attrs = removeAttr(n.Attrs, blockAttr, appendAttr, prependAttr)
		case *Fragment:
			n.Attrs = removeAttr(n.Attrs, blockAttr, appendAttr, prependAttr)
			if len(n.Attrs) == 0 {
				kids, err := finalizeBlocks(n.Nodes)
				if err != nil {
					return nil, err
				}
				out = append(out, kids...)
				continue
			}
		}
		if ct, ok := n.(Container); ok {
			if _, isComp := n.(*Component); !isComp {
				kids, err := finalizeBlocks(ct.Children())
				if err != nil {
					return nil, err
				}
				ct.SetChildren(kids)
			}
		}
		out = append(out, n)
	}
	return out, nil
}

// Copyright 2010 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.
//
// Modifications:
// Copyright 2024 Daniel Potapov
//  - Removed context-aware HTML parsing. The goal is to produce the Node tree as close to the
//    original source as possible, but honor some of the HTML5 parsing rules (e.g. void
//    elements and implied end tags of list items).
//  - Split interpolated expressions in the HTML attributes and text nodes.
//  - Raw code blocks, fragments and component call sites.

package shtml

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/net/html"
	a "golang.org/x/net/html/atom"
)

const (
	rawCodeOpen  = "<?s"
	rawCodeClose = "?>"

	fragmentTag  = DirectivePrefix + "template"
	slotTag      = DirectivePrefix + DirSlot
	componentTag = DirectivePrefix + "component"

	// ComponentPrefix is the tag prefix of static component call sites (<s-card>).
	ComponentPrefix = "s-"
)

// A shtmlParser parses a SHTML document and builds a Node tree. It uses the tokenizer from the
// golang.org/x/net/html package to tokenize the input. There is no goal to parse in a way like the
// browser does, but to produce a Node tree as close to the original source as possible.
type shtmlParser struct {
	// tokenizer provides the tokens for the shtmlParser.
	tokenizer *html.Tokenizer
	// tok is the most recently read token.
	tok html.Token
	// raw is the source text of the most recently read token.
	raw []byte
	// offset is the byte offset of the most recently read token in the source.
	offset int
	// Self-closing tags like <hr/> are treated as start tags, except that
	// hasSelfClosingToken is set while they are being processed.
	hasSelfClosingToken bool
	// doc is the document root.
	doc *Document
	// The stack of open nodes.
	oe []openNode
	// id is the identity of the template, stamped on every node as its origin.
	id    string
	lines *lineIndex
	// errs captures all errors encountered during parsing.
	errs []error
}

type openNode struct {
	tag  string
	atom a.Atom
	node Container
}

func (p *shtmlParser) top() Container {
	if len(p.oe) > 0 {
		return p.oe[len(p.oe)-1].node
	}
	return p.doc
}

func (p *shtmlParser) at(offset int) Pos {
	return p.lines.pos(offset)
}

// addChild adds a child node n to the top node, and pushes n onto the stack of open nodes if
// it is a container.
func (p *shtmlParser) addChild(n Node) {
	t := p.top()
	t.SetChildren(append(t.Children(), n))
}

func (p *shtmlParser) push(tag string, n Container) {
	p.addChild(n)
	p.oe = append(p.oe, openNode{tag: tag, atom: a.Lookup([]byte(tag)), node: n})
}

func (p *shtmlParser) pop() {
	p.oe = p.oe[:len(p.oe)-1]
}

// addText adds text to the top node. Interpolated expressions are split into output nodes.
func (p *shtmlParser) addText(text string, offset int) {
	if text == "" {
		return
	}
	if !hasInterpolation(text) {
		t := p.top()
		kids := t.Children()
		if n := len(kids); n > 0 {
			if prev, ok := kids[n-1].(*Text); ok {
				prev.Content += text
				return
			}
		}
		p.addChild(At(&Text{Content: text}, p.at(offset), p.id))
		return
	}
	nodes, err := interpolate(text, p.id, func(off int) Pos { return p.at(offset + off) })
	if err != nil {
		p.error(At(&Text{Content: text}, p.at(offset), p.id), err)
		return
	}
	for _, n := range nodes {
		p.addChild(n)
	}
}

// parseAttrs builds the attribute nodes of the current start tag token.
func (p *shtmlParser) parseAttrs() []*Attribute {
	if len(p.tok.Attr) == 0 {
		return nil
	}
	spans := scanAttributeSpans(p.raw)
	attrs := make([]*Attribute, 0, len(p.tok.Attr))
	for i, t := range p.tok.Attr {
		span := attrSpan{value: -1}
		if i < len(spans) {
			span = spans[i]
		}
		attr := At(&Attribute{Name: t.Key}, p.at(p.offset+span.name), p.id)
		valueAt := func(off int) Pos { return p.at(p.offset + span.value + off) }

		switch {
		case attr.IsDirective():
			// directive values are opaque expressions
			attr.Kind, attr.Value = AttrStatic, t.Val
			if span.value < 0 {
				attr.Kind = AttrBool
			}
		case span.value < 0 && t.Val == "":
			attr.Kind = AttrBool
		case !hasInterpolation(t.Val):
			attr.Kind, attr.Value = AttrStatic, t.Val
		default:
			parts, err := interpolate(t.Val, p.id, valueAt)
			if err != nil {
				p.error(attr, fmt.Errorf("attribute %s: %w", t.Key, err))
				continue
			}
			if len(parts) == 1 {
				if o, ok := parts[0].(*Output); ok {
					attr.Kind, attr.Expr = AttrDynamic, o
					break
				}
			}
			attr.Kind, attr.Parts = AttrParts, parts
		}
		attrs = append(attrs, attr)
	}
	return attrs
}

// addElement adds a child node based on the current start tag token.
func (p *shtmlParser) addElement() {
	tag := p.tok.Data
	pos := p.at(p.offset)
	attrs := p.parseAttrs()

	var n Container
	switch {
	case tag == fragmentTag:
		n = At(&Fragment{Attrs: attrs}, pos, p.id)
	case tag == slotTag:
		n = p.slotOutlet(attrs, pos)
	case tag == componentTag:
		n = p.dynamicComponent(attrs, pos)
	case strings.HasPrefix(tag, ComponentPrefix) && len(tag) > len(ComponentPrefix):
		n = At(&Component{Name: tag[len(ComponentPrefix):], Attrs: attrs}, pos, p.id)
	default:
		n = At(&Element{Tag: tag, Attrs: attrs, SelfClosing: p.hasSelfClosingToken}, pos, p.id)
	}

	if p.hasSelfClosingToken || isVoidElement(p.tok.DataAtom) {
		p.addChild(n)
		p.hasSelfClosingToken = false
		return
	}
	p.push(tag, n)
}

// slotOutlet converts <s:slot name="x"> into the equivalent <s:template s:slot="x">.
func (p *shtmlParser) slotOutlet(attrs []*Attribute, pos Pos) *Fragment {
	marker := At(&Attribute{Name: DirectivePrefix + DirSlot, Kind: AttrStatic}, pos, p.id)
	f := At(&Fragment{Attrs: []*Attribute{marker}}, pos, p.id)
	for _, attr := range attrs {
		if attr.Name == "name" {
			if attr.Kind == AttrDynamic || attr.Kind == AttrParts {
				p.error(attr, errors.New("slot names must be static"))
			}
			marker.Value = strings.TrimSpace(attr.Value)
			continue
		}
		f.Attrs = append(f.Attrs, attr)
	}
	return f
}

// dynamicComponent converts <s:component is="..."> into a component call site.
func (p *shtmlParser) dynamicComponent(attrs []*Attribute, pos Pos) *Component {
	c := At(&Component{}, pos, p.id)
	for _, attr := range attrs {
		if attr.Name != "is" {
			c.Attrs = append(c.Attrs, attr)
			continue
		}
		switch attr.Kind {
		case AttrStatic:
			c.Name = strings.TrimSpace(attr.Value)
		case AttrDynamic:
			c.NameExpr = attr.Expr.Expr
		default:
			p.error(attr, errors.New(`the "is" attribute must be a component name or a single expression`))
		}
	}
	if c.Name == "" && c.NameExpr == "" {
		p.error(c, errors.New(`<s:component> requires the "is" attribute`))
	}
	return c
}

// implyEndTags closes the list items and options implicitly ended by the current start tag.
func (p *shtmlParser) implyEndTags() {
	if len(p.oe) == 0 {
		return
	}
	top := p.oe[len(p.oe)-1].atom
	switch p.tok.DataAtom {
	case a.Li:
		if top == a.Li {
			p.pop()
		}
	case a.Dd, a.Dt:
		if top == a.Dd || top == a.Dt {
			p.pop()
		}
	case a.Option:
		if top == a.Option {
			p.pop()
		}
	case a.Optgroup:
		if top == a.Option || top == a.Optgroup {
			p.pop()
		}
	}
}

// endTag performs the "any other end tag" algorithm: pop up to the matching open node,
// ignoring the token if there is none.
func (p *shtmlParser) endTag(tag string) {
	for i := len(p.oe) - 1; i >= 0; i-- {
		if p.oe[i].tag == tag {
			for j := len(p.oe) - 1; j > i; j-- {
				p.checkImplicitClose(p.oe[j])
			}
			p.oe = p.oe[:i]
			return
		}
	}
}

// checkImplicitClose reports template constructs that were never closed explicitly.
func (p *shtmlParser) checkImplicitClose(o openNode) {
	switch o.node.(type) {
	case *Fragment, *Component:
		p.error(o.node, fmt.Errorf("unclosed <%s>", o.tag))
	case *Element:
		if _, ok := directiveName(o.tag); ok {
			p.error(o.node, fmt.Errorf("unclosed <%s>", o.tag))
		}
	}
}

func isVoidElement(t a.Atom) bool {
	switch t {
	case a.Area, a.Base, a.Br, a.Col, a.Embed, a.Hr, a.Img, a.Input, a.Keygen, a.Link, a.Meta,
		a.Param, a.Source, a.Track, a.Wbr:
		return true
	}
	return false
}

func isVoidTag(tag string) bool {
	return isVoidElement(a.Lookup([]byte(strings.ToLower(tag))))
}

func (p *shtmlParser) parseCurrentToken() {
	switch p.tok.Type {
	case html.DoctypeToken, html.CommentToken:
		p.addChild(At(&Text{Content: string(p.raw)}, p.at(p.offset), p.id))
	case html.TextToken:
		d := strings.ReplaceAll(string(p.raw), "\x00", "")
		p.addText(d, p.offset)
	case html.SelfClosingTagToken:
		p.hasSelfClosingToken = true
		p.implyEndTags()
		p.addElement()
	case html.StartTagToken:
		p.implyEndTags()
		p.addElement()
	case html.EndTagToken:
		p.endTag(p.tok.Data)
	}
}

// parseMarkup tokenizes one markup segment starting at the byte offset base of the source.
func (p *shtmlParser) parseMarkup(src []byte, base int) error {
	p.tokenizer = html.NewTokenizer(bytes.NewReader(src))
	offset := base
	for {
		tt := p.tokenizer.Next()
		if tt == html.ErrorToken {
			if err := p.tokenizer.Err(); err != io.EOF {
				return err
			}
			return nil
		}
		p.raw = p.tokenizer.Raw()
		p.offset = offset
		p.tok = p.tokenizer.Token()
		p.parseCurrentToken()
		offset += len(p.raw)
	}
}

func (p *shtmlParser) parse(src []byte) error {
	offset := 0
	for offset < len(src) {
		i := indexRawCode(src[offset:])
		if i < 0 {
			return p.parseMarkup(src[offset:], offset)
		}
		if err := p.parseMarkup(src[offset:offset+i], offset); err != nil {
			return err
		}
		start := offset + i
		body := start + len(rawCodeOpen)
		end := bytes.Index(src[body:], []byte(rawCodeClose))
		if end < 0 {
			p.error(At(&RawCode{}, p.at(start), p.id), errors.New("unterminated raw code block"))
			return nil
		}
		code := strings.TrimSpace(string(src[body : body+end]))
		p.addChild(At(&RawCode{Code: code}, p.at(start), p.id))
		offset = body + end + len(rawCodeClose)
	}
	return nil
}

// indexRawCode returns the index of the first "<?s" opening a raw code block, or -1.
func indexRawCode(src []byte) int {
	off := 0
	for {
		i := bytes.Index(src[off:], []byte(rawCodeOpen))
		if i < 0 {
			return -1
		}
		j := off + i + len(rawCodeOpen)
		if j == len(src) || isAttrSpace(src[j]) || bytes.HasPrefix(src[j:], []byte(rawCodeClose)) {
			return off + i
		}
		off = j
	}
}

func (p *shtmlParser) error(n Node, err error) {
	p.errs = append(p.errs, syntaxError(n, ErrInvalidSyntax, "%v", err))
}

// Parse returns the raw *Document tree for the template from the given Reader. The input is
// assumed to be UTF-8 encoded. id is the identity of the template recorded as the origin of
// every node.
func Parse(r io.Reader, id string) (*Document, error) {
	src, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", id, err)
	}
	p := &shtmlParser{
		doc:   At(&Document{}, Pos{Line: 1, Column: 1}, id),
		id:    id,
		lines: newLineIndex(src),
	}
	if err := p.parse(src); err != nil {
		return nil, err
	}
	for i := len(p.oe) - 1; i >= 0; i-- {
		p.checkImplicitClose(p.oe[i])
	}
	if len(p.errs) > 0 {
		return nil, errors.Join(p.errs...)
	}
	return p.doc, nil
}

// ParseString is like Parse, but parses the given string.
func ParseString(src, id string) (*Document, error) {
	return Parse(strings.NewReader(src), id)
}

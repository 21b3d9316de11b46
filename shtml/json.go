package shtml

import (
	"encoding/json"
)

// jsonNode is the JSON shape of a tree node.
type jsonNode struct {
	Type     string      `json:"type"`
	Line     int         `json:"line,omitempty"`
	Column   int         `json:"column,omitempty"`
	Origin   string      `json:"origin,omitempty"`
	Tag      string      `json:"tag,omitempty"`
	Name     string      `json:"name,omitempty"`
	Expr     string      `json:"expr,omitempty"`
	Escape   *bool       `json:"escape,omitempty"`
	Context  string      `json:"context,omitempty"`
	Pipes    []Pipe      `json:"pipes,omitempty"`
	Content  string      `json:"content,omitempty"`
	Template string      `json:"template,omitempty"`
	Attrs    []jsonAttr  `json:"attrs,omitempty"`
	Children []*jsonNode `json:"children,omitempty"`
	Fallback *jsonNode   `json:"fallback,omitempty"`
	Element  *jsonNode   `json:"element,omitempty"`
}

type jsonAttr struct {
	Name  string      `json:"name"`
	Kind  string      `json:"kind"`
	Value string      `json:"value,omitempty"`
	Parts []*jsonNode `json:"parts,omitempty"`
}

var attrKinds = [...]string{
	AttrBool:    "bool",
	AttrStatic:  "static",
	AttrDynamic: "dynamic",
	AttrParts:   "parts",
}

// MarshalJSON encodes the tree n as JSON.
func MarshalJSON(n Node) ([]byte, error) {
	return json.Marshal(toJSON(n))
}

func toJSON(n Node) *jsonNode {
	if n == nil {
		return nil
	}
	p := n.Pos()
	j := &jsonNode{Line: p.Line, Column: p.Column, Origin: n.Origin()}
	switch n := n.(type) {
	case *Document:
		j.Type = "document"
		j.Children = toJSONList(n.Nodes)
	case *Element:
		j.Type = "element"
		j.Tag = n.Tag
		j.Expr = n.DynamicTag
		j.Attrs = toJSONAttrs(n.Attrs)
		j.Children = toJSONList(n.Nodes)
	case *Fragment:
		j.Type = "fragment"
		j.Attrs = toJSONAttrs(n.Attrs)
		j.Children = toJSONList(n.Nodes)
	case *Component:
		j.Type = "component"
		j.Name = n.Name
		j.Expr = n.NameExpr
		j.Template = n.Template
		j.Attrs = toJSONAttrs(n.Attrs)
		j.Children = toJSONList(n.Nodes)
	case *Directive:
		j.Type = "directive"
		j.Name = n.Name
		j.Expr = n.Expr
		j.Children = toJSONList(n.Nodes)
		if n.fallback != nil {
			j.Fallback = toJSON(n.fallback)
		}
		if n.element != nil {
			j.Element = toJSON(n.element)
		}
	case *Text:
		j.Type = "text"
		j.Content = n.Content
	case *RawCode:
		j.Type = "raw"
		j.Content = n.Code
	case *Import:
		j.Type = "import"
		j.Content = n.Statement()
	case *Output:
		j.Type = "output"
		j.Expr = n.Expr
		escape := n.Escape
		j.Escape = &escape
		j.Context = n.Context.String()
		j.Pipes = n.Pipes
	case *Attribute:
		j.Type = "attribute"
		j.Attrs = toJSONAttrs([]*Attribute{n})
	}
	return j
}

func toJSONList(nodes []Node) []*jsonNode {
	if len(nodes) == 0 {
		return nil
	}
	res := make([]*jsonNode, len(nodes))
	for i, n := range nodes {
		res[i] = toJSON(n)
	}
	return res
}

func toJSONAttrs(attrs []*Attribute) []jsonAttr {
	if len(attrs) == 0 {
		return nil
	}
	res := make([]jsonAttr, len(attrs))
	for i, a := range attrs {
		ja := jsonAttr{Name: a.Name, Kind: attrKinds[a.Kind]}
		switch a.Kind {
		case AttrStatic:
			ja.Value = a.Value
		case AttrDynamic:
			ja.Parts = []*jsonNode{toJSON(a.Expr)}
		case AttrParts:
			ja.Parts = toJSONList(a.Parts)
		}
		res[i] = ja
	}
	return res
}

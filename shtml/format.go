package shtml

import (
	"fmt"
	"io"
	"strings"
)

// Format renders the tree n back as template markup. Directives are rendered as
// <s:NAME expr="..."> elements followed by their fallback, outputs keep their ${...} form.
func Format(n Node) string {
	var sb strings.Builder
	formatNode(&sb, n)
	return sb.String()
}

func formatNode(w *strings.Builder, n Node) {
	switch n := n.(type) {
	case *Document:
		formatNodes(w, n.Nodes)
	case *Element:
		tag := n.Tag
		if n.DynamicTag != "" {
			tag = "${" + n.DynamicTag + "}"
		}
		w.WriteString("<" + tag)
		formatAttrs(w, n.Attrs)
		if n.SelfClosing && len(n.Nodes) == 0 {
			w.WriteString("/>")
			return
		}
		w.WriteString(">")
		formatNodes(w, n.Nodes)
		if len(n.Nodes) > 0 || !isVoidTag(n.Tag) {
			w.WriteString("</" + tag + ">")
		}
	case *Fragment:
		w.WriteString("<" + fragmentTag)
		formatAttrs(w, n.Attrs)
		w.WriteString(">")
		formatNodes(w, n.Nodes)
		w.WriteString("</" + fragmentTag + ">")
	case *Component:
		tag := ComponentPrefix + n.Name
		if n.NameExpr != "" {
			tag = componentTag
		}
		w.WriteString("<" + tag)
		if n.NameExpr != "" {
			w.WriteString(` is="${` + n.NameExpr + `}"`)
		}
		formatAttrs(w, n.Attrs)
		w.WriteString(">")
		formatNodes(w, n.Nodes)
		w.WriteString("</" + tag + ">")
	case *Directive:
		tag := DirectivePrefix + n.Name
		w.WriteString("<" + tag)
		if n.Expr != "" {
			fmt.Fprintf(w, " expr=%q", n.Expr)
		}
		if n.element != nil {
			w.WriteString(">")
			formatNode(w, n.element)
		} else if len(n.Nodes) == 0 {
			w.WriteString("/>")
		} else {
			w.WriteString(">")
		}
		if len(n.Nodes) > 0 || n.element != nil {
			formatNodes(w, n.Nodes)
			w.WriteString("</" + tag + ">")
		}
		if n.fallback != nil {
			formatNode(w, n.fallback)
		}
	case *Text:
		w.WriteString(n.Content)
	case *Output:
		w.WriteString(formatOutput(n))
	case *RawCode:
		w.WriteString(rawCodeOpen + " " + n.Code + " " + rawCodeClose)
	case *Import:
		w.WriteString(rawCodeOpen + " " + n.Statement() + " " + rawCodeClose)
	case *Attribute:
		formatAttrs(w, []*Attribute{n})
	}
}

func formatNodes(w *strings.Builder, nodes []Node) {
	for _, n := range nodes {
		formatNode(w, n)
	}
}

func formatAttrs(w *strings.Builder, attrs []*Attribute) {
	for _, a := range attrs {
		w.WriteByte(' ')
		name := a.Name
		if name == "" {
			name = DirectivePrefix + DirSpread
		}
		if a.Kind == AttrBool {
			w.WriteString(name)
			continue
		}
		w.WriteString(name + `="` + strings.ReplaceAll(formatAttrValue(a), `"`, "&quot;") + `"`)
	}
}

// formatAttrValue returns the source form of the attribute value.
func formatAttrValue(a *Attribute) string {
	switch a.Kind {
	case AttrStatic:
		return a.Value
	case AttrDynamic:
		if a.Expr == nil {
			return ""
		}
		return formatOutput(a.Expr)
	case AttrParts:
		var sb strings.Builder
		for _, p := range a.Parts {
			switch p := p.(type) {
			case *Text:
				sb.WriteString(p.Content)
			case *Output:
				sb.WriteString(formatOutput(p))
			}
		}
		return sb.String()
	}
	return ""
}

// formatOutput returns the source form of an output expression with its pipes.
func formatOutput(o *Output) string {
	var sb strings.Builder
	if o.Escape {
		sb.WriteString(leftDelim)
	} else {
		sb.WriteString(rawLeftDelim)
	}
	sb.WriteString(o.Expr)
	for _, p := range o.Pipes {
		sb.WriteString(" " + pipeDelim + " " + p.Name)
		if p.Args != "" {
			sb.WriteString("(" + p.Args + ")")
		}
	}
	sb.WriteString(rightDelim)
	return sb.String()
}

// Dump writes an indented, one-node-per-line description of the tree n to w. Attributes are
// listed in source order under their node, analyzed outputs show their escaping context.
func Dump(w io.Writer, n Node) error {
	if d, ok := n.(*Document); ok {
		for _, c := range d.Nodes {
			if err := dumpLevel(w, c, 0); err != nil {
				return err
			}
		}
		return nil
	}
	return dumpLevel(w, n, 0)
}

// DumpString is like Dump, but returns the description as a string.
func DumpString(n Node) string {
	var sb strings.Builder
	_ = Dump(&sb, n)
	return sb.String()
}

func dumpIndent(w io.Writer, level int) {
	_, _ = io.WriteString(w, "| ")
	for i := 0; i < level; i++ {
		_, _ = io.WriteString(w, "  ")
	}
}

func dumpAttrs(w io.Writer, attrs []*Attribute, level int) {
	for _, a := range attrs {
		dumpIndent(w, level)
		name := a.Name
		if name == "" {
			name = "..."
		}
		switch a.Kind {
		case AttrBool:
			_, _ = io.WriteString(w, name)
		case AttrStatic:
			_, _ = fmt.Fprintf(w, `%s="%s"`, name, a.Value)
		default:
			_, _ = fmt.Fprintf(w, `%s="%s"`, name, formatAttrValue(a))
			for _, o := range a.Outputs() {
				if o.Context != ContextUnset {
					_, _ = fmt.Fprintf(w, " [%s]", o.Context)
					break
				}
			}
		}
		_, _ = io.WriteString(w, "\n")
	}
}

func dumpLevel(w io.Writer, n Node, level int) error {
	dumpIndent(w, level)
	var kids []Node
	switch n := n.(type) {
	case *Document:
		return fmt.Errorf("unexpected nested document")
	case *Element:
		if n.DynamicTag != "" {
			_, _ = fmt.Fprintf(w, "<${%s}>\n", n.DynamicTag)
		} else {
			_, _ = fmt.Fprintf(w, "<%s>\n", n.Tag)
		}
		dumpAttrs(w, n.Attrs, level+1)
		kids = n.Nodes
	case *Fragment:
		_, _ = io.WriteString(w, "<"+fragmentTag+">\n")
		dumpAttrs(w, n.Attrs, level+1)
		kids = n.Nodes
	case *Component:
		switch {
		case n.NameExpr != "":
			_, _ = fmt.Fprintf(w, "<%s is=${%s}>", componentTag, n.NameExpr)
		default:
			_, _ = fmt.Fprintf(w, "<%s%s>", ComponentPrefix, n.Name)
		}
		if n.Template != "" {
			_, _ = fmt.Fprintf(w, " => %s", n.Template)
		}
		_, _ = io.WriteString(w, "\n")
		dumpAttrs(w, n.Attrs, level+1)
		kids = n.Nodes
	case *Directive:
		_, _ = io.WriteString(w, DirectivePrefix+n.Name)
		if n.Expr != "" {
			_, _ = fmt.Fprintf(w, " %q", n.Expr)
		}
		_, _ = io.WriteString(w, "\n")
		if n.element != nil {
			dumpIndent(w, level+1)
			_, _ = io.WriteString(w, "element:\n")
			if err := dumpLevel(w, n.element, level+2); err != nil {
				return err
			}
		}
		for _, c := range n.Nodes {
			if err := dumpLevel(w, c, level+1); err != nil {
				return err
			}
		}
		if n.fallback != nil {
			dumpIndent(w, level+1)
			_, _ = io.WriteString(w, "fallback:\n")
			if err := dumpLevel(w, n.fallback, level+2); err != nil {
				return err
			}
		}
		return nil
	case *Text:
		_, _ = fmt.Fprintf(w, "%q\n", n.Content)
	case *Output:
		_, _ = io.WriteString(w, formatOutput(n))
		if n.Context != ContextUnset {
			_, _ = fmt.Fprintf(w, " [%s]", n.Context)
		}
		_, _ = io.WriteString(w, "\n")
	case *RawCode:
		_, _ = fmt.Fprintf(w, "<?s %s ?>\n", n.Code)
	case *Import:
		_, _ = fmt.Fprintf(w, "import %s\n", n.Statement())
	case *Attribute:
		_, _ = io.WriteString(w, "attr\n")
		dumpAttrs(w, []*Attribute{n}, level+1)
	default:
		return fmt.Errorf("unknown node type %T", n)
	}
	for _, c := range kids {
		if err := dumpLevel(w, c, level+1); err != nil {
			return err
		}
	}
	return nil
}

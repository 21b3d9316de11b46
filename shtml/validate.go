package shtml

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/expr-lang/expr/file"
	"github.com/expr-lang/expr/parser"
)

func validatePass() Pass {
	return Pass{
		Name:   "validate",
		Before: validateNode,
	}
}

// validateNode syntax-checks the expressions of n. Expressions are parsed, never evaluated.
func validateNode(n Node, c *Context) (Action, error) {
	switch n := n.(type) {
	case *Output:
		if err := checkOutput(n); err != nil {
			return Action{}, err
		}
	case *Element:
		if err := checkAttrs(n.Attrs); err != nil {
			return Action{}, err
		}
		if n.DynamicTag != "" {
			if err := checkExpr(n, n.DynamicTag); err != nil {
				return Action{}, err
			}
		}
	case *Fragment:
		if err := checkAttrs(n.Attrs); err != nil {
			return Action{}, err
		}
	case *Component:
		if err := checkAttrs(n.Attrs); err != nil {
			return Action{}, err
		}
		if n.NameExpr != "" {
			if err := checkExpr(n, n.NameExpr); err != nil {
				return Action{}, err
			}
		}
	case *Directive:
		if err := checkDirective(n, c); err != nil {
			return Action{}, err
		}
	}
	return NoOp(), nil
}

func checkAttrs(attrs []*Attribute) error {
	for _, a := range attrs {
		for _, o := range a.Outputs() {
			if err := checkOutput(o); err != nil {
				return err
			}
		}
	}
	return nil
}

var identRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

func checkOutput(o *Output) error {
	if err := checkExpr(o, o.Expr); err != nil {
		return err
	}
	for _, p := range o.Pipes {
		if !identRe.MatchString(p.Name) {
			return syntaxError(o, ErrInvalidSyntax, "invalid pipe name %q", p.Name)
		}
		if p.Args != "" {
			if err := checkExpr(o, "["+p.Args+"]"); err != nil {
				return err
			}
		}
	}
	return nil
}

func checkDirective(d *Directive, c *Context) error {
	h, ok := c.Registry.Get(d.Name)
	if !ok {
		return nil
	}
	if _, ok := h.(ControlFlow); !ok || d.Expr == "" {
		return nil
	}
	expr := d.Expr
	switch d.Name {
	case DirForeach, DirForelse:
		_, _, coll, err := parseLoopExpr(d.Expr)
		if err != nil {
			return syntaxError(d, ErrInvalidSyntax, "s:%s: %v", d.Name, err)
		}
		expr = coll
	}
	return checkExpr(d, expr)
}

func checkExpr(n Node, expr string) error {
	if _, err := parser.Parse(expr); err != nil {
		var fileErr *file.Error
		if errors.As(err, &fileErr) {
			return syntaxError(n, ErrInvalidSyntax, "invalid expression %q: %s", expr, fileErr.Message)
		}
		return syntaxError(n, ErrInvalidSyntax, "invalid expression %q: %v", expr, err)
	}
	return nil
}

// parseLoopExpr splits an iteration expression "v in expr" or "v, k in expr".
func parseLoopExpr(s string) (v, k, expr string, err error) {
	vars, expr, ok := strings.Cut(s, " in ")
	if !ok {
		return "", "", "", fmt.Errorf("expected \"item in items\", got %q", s)
	}
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return "", "", "", errors.New("missing loop collection")
	}
	idents := strings.Split(vars, ",")
	for i := range idents {
		idents[i] = strings.TrimSpace(idents[i])
		if !identRe.MatchString(idents[i]) {
			return "", "", "", fmt.Errorf("invalid loop variable %q", idents[i])
		}
	}
	switch len(idents) {
	case 1:
		return idents[0], "", expr, nil
	case 2:
		return idents[0], idents[1], expr, nil
	default:
		return "", "", "", errors.New("too many loop variables")
	}
}

package shtml

import (
	"slices"
)

func pairPass() Pass {
	return Pass{
		Name:   "pair",
		Before: pairBefore,
	}
}

// pairBefore links the primary directives among the children of n with their fallback
// siblings. The consumed siblings, and the blank text separating them from the primary,
// are removed from the children.
func pairBefore(n Node, c *Context) (Action, error) {
	ct, ok := n.(Container)
	if !ok {
		return NoOp(), nil
	}
	kids, changed, err := pairSiblings(ct.Children(), c)
	if err != nil {
		return Action{}, err
	}
	if changed {
		ct.SetChildren(kids)
	}
	return NoOp(), nil
}

func pairSiblings(kids []Node, c *Context) ([]Node, bool, error) {
	var (
		out     []Node
		changed bool
		prev    *Directive // last non-blank sibling if it is a directive
		prevAt  = -1       // index of prev in out
	)
	for _, k := range kids {
		if isBlank(k) {
			out = append(out, k)
			continue
		}
		d, ok := k.(*Directive)
		if !ok {
			out = append(out, k)
			prev, prevAt = nil, -1
			continue
		}
		h, ok := c.Registry.Get(d.Name)
		if !ok {
			// placeholders and user directives without handlers stay as is
			out = append(out, d)
			prev, prevAt = d, len(out)-1
			continue
		}

		if cf, ok := h.(ControlFlow); ok && len(cf.After) > 0 {
			if prev == nil || !slices.Contains(cf.After, prev.Name) {
				return nil, false, syntaxError(d, ErrMissingCompanion,
					"s:%s must directly follow %s", d.Name, joinDirectives(cf.After))
			}
			if isFallbackOf(c.Registry, prev.Name, d.Name) {
				if prev.fallback != nil {
					return nil, false, syntaxError(d, ErrMultipleFallback,
						"s:%s already has a s:%s fallback", prev.Name, d.Name)
				}
				paired := prev.Rebuild(WithFallback(d))
				out = append(out[:prevAt], paired)
				prev = paired
				changed = true
				continue
			}
		}
		out = append(out, d)
		prev, prevAt = d, len(out)-1
	}
	if !changed {
		return kids, false, nil
	}
	return out, true, nil
}

// isFallbackOf reports whether the directive fallback is the pairing sibling of primary.
func isFallbackOf(r *Registry, primary, fallback string) bool {
	h, ok := r.Get(primary)
	if !ok {
		return false
	}
	p, ok := h.(Paired)
	return ok && p.PairsWith() != "" && p.PairsWith() == fallback
}

func joinDirectives(names []string) string {
	s := ""
	for i, n := range names {
		switch {
		case i == 0:
		case i == len(names)-1:
			s += " or "
		default:
			s += ", "
		}
		s += DirectivePrefix + n
	}
	return s
}

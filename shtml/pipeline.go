package shtml

import (
	"cmp"
	"fmt"
	"slices"
)

type actionKind int

const (
	actionNoop actionKind = iota
	actionReplace
	actionSplice
	actionSkip
)

// Action is the result of a pass visiting a node.
type Action struct {
	kind  actionKind
	node  Node
	nodes []Node
}

// NoOp keeps the node as is.
func NoOp() Action { return Action{} }

// Replace substitutes the visited node with n.
func Replace(n Node) Action { return Action{kind: actionReplace, node: n} }

// Splice substitutes the visited node with nodes in its parent's children list. Splicing
// the root document is an error.
func Splice(nodes ...Node) Action { return Action{kind: actionSplice, nodes: nodes} }

// Skip keeps the node and does not descend into its children. It has the effect of NoOp
// when returned from After.
func Skip() Action { return Action{kind: actionSkip} }

// Visitor is invoked for every node of the tree by a pass.
type Visitor func(n Node, c *Context) (Action, error)

// Pass is a tree-rewriting stage. Before is invoked pre-order, After post-order; either may
// be nil. Passes keep no state of their own: cross-cutting state lives on the Context.
type Pass struct {
	Name   string
	Before Visitor
	After  Visitor
}

// Priority orders passes in the pipeline.
type Priority int

// Built-in stage priorities.
const (
	PriorityExtract    Priority = 100
	PriorityPair       Priority = 200
	PriorityDirectives Priority = 300
	PriorityCompose    Priority = 400
	PriorityContext    Priority = 500
	PriorityComponents Priority = 600
	PriorityValidate   Priority = 700
)

// Slot is a named extension point between built-in stages.
type Slot Priority

const (
	SlotBeforeExtraction Slot = Slot(PriorityExtract - 50)
	SlotAfterExtraction  Slot = Slot(PriorityExtract + 50)
	SlotAfterPairing     Slot = Slot(PriorityPair + 50)
	SlotAfterDirectives  Slot = Slot(PriorityDirectives + 50)
	SlotAfterComposition Slot = Slot(PriorityCompose + 50)
	SlotAfterContext     Slot = Slot(PriorityContext + 50)
	SlotAfterComponents  Slot = Slot(PriorityComponents + 50)
)

// SlotPass places a custom pass into an extension slot.
type SlotPass struct {
	Slot Slot
	Pass Pass
}

type stage struct {
	priority Priority
	pass     Pass
}

// Pipeline is an ordered list of passes. The order is fixed at construction: passes run by
// priority and, within the same priority, in registration order.
type Pipeline struct {
	stages []stage
}

// NewPipeline builds the pipeline of built-in stages plus the extra passes. Debug enables
// the validation stage.
func NewPipeline(debug bool, extra ...SlotPass) *Pipeline {
	p := &Pipeline{stages: []stage{
		{PriorityExtract, extractPass()},
		{PriorityPair, pairPass()},
		{PriorityDirectives, directivesPass()},
		{PriorityCompose, composePass()},
		{PriorityContext, contextPass()},
		{PriorityComponents, componentsPass()},
	}}
	if debug {
		p.stages = append(p.stages, stage{PriorityValidate, validatePass()})
	}
	for _, sp := range extra {
		p.stages = append(p.stages, stage{Priority(sp.Slot), sp.Pass})
	}
	slices.SortStableFunc(p.stages, func(a, b stage) int { return cmp.Compare(a.priority, b.priority) })
	return p
}

// Passes returns the pass names in execution order.
func (p *Pipeline) Passes() []string {
	names := make([]string, len(p.stages))
	for i, s := range p.stages {
		names[i] = s.pass.Name
	}
	return names
}

// Execute runs every pass over the document. The first error aborts the execution and no
// partial tree is returned.
func (p *Pipeline) Execute(doc *Document, c *Context) (*Document, error) {
	return p.run(doc, c, func(Priority) bool { return true })
}

// executeBelow runs the passes with a priority lower than limit.
func (p *Pipeline) executeBelow(doc *Document, c *Context, limit Priority) (*Document, error) {
	return p.run(doc, c, func(pr Priority) bool { return pr < limit })
}

func (p *Pipeline) run(doc *Document, c *Context, admit func(Priority) bool) (*Document, error) {
	for _, s := range p.stages {
		if !admit(s.priority) {
			continue
		}
		c.logger().Debug("Run pass", "pass", s.pass.Name, "template", c.Template)
		res, err := traverse(s.pass, doc, c)
		if err != nil {
			return nil, err
		}
		if len(res) != 1 {
			return nil, fmt.Errorf("pass %s: document was spliced", s.pass.Name)
		}
		d, ok := res[0].(*Document)
		if !ok {
			return nil, fmt.Errorf("pass %s: document replaced by %T", s.pass.Name, res[0])
		}
		doc = d
	}
	return doc, nil
}

// traverse visits n depth-first with the pass and returns the nodes that take its place.
func traverse(pass Pass, n Node, c *Context) ([]Node, error) {
	var out []Node
	if pass.Before != nil {
		act, err := pass.Before(n, c)
		if err != nil {
			return nil, err
		}
		switch act.kind {
		case actionSkip:
			return []Node{n}, nil
		case actionReplace:
			n = act.node
		case actionSplice:
			for _, sn := range act.nodes {
				res, err := descend(pass, sn, c)
				if err != nil {
					return nil, err
				}
				out = append(out, res...)
			}
			return out, nil
		}
	}
	return descend(pass, n, c)
}

// descend traverses the children of n and invokes After on n.
func descend(pass Pass, n Node, c *Context) ([]Node, error) {
	if ct, ok := n.(Container); ok {
		kids := ct.Children()
		var next []Node
		for i, child := range kids {
			res, err := traverse(pass, child, c)
			if err != nil {
				return nil, err
			}
			// keep the original slice when nothing changed so far
			if next == nil && len(res) == 1 && res[0] == child {
				continue
			}
			if next == nil {
				next = make([]Node, 0, len(kids))
				next = append(next, kids[:i]...)
			}
			next = append(next, res...)
		}
		if next != nil {
			ct.SetChildren(next)
		}
	}
	if d, ok := n.(*Directive); ok && d.fallback != nil {
		res, err := traverse(pass, d.fallback, c)
		if err != nil {
			return nil, err
		}
		var f *Directive
		if len(res) == 1 {
			f, _ = res[0].(*Directive)
		}
		if f == nil {
			return nil, syntaxError(d.fallback, ErrInvalidSyntax, "pass %s: fallback of s:%s must stay a directive", pass.Name, d.Name)
		}
		if f != d.fallback {
			n = d.Rebuild(WithFallback(f))
		}
	}
	if pass.After == nil {
		return []Node{n}, nil
	}
	act, err := pass.After(n, c)
	if err != nil {
		return nil, err
	}
	switch act.kind {
	case actionReplace:
		return []Node{act.node}, nil
	case actionSplice:
		return act.nodes, nil
	}
	return []Node{n}, nil
}

package shtml

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

func namedPass(name string) Pass {
	return Pass{Name: name}
}

func TestPipeline_Order(t *testing.T) {
	p := NewPipeline(false)
	require.Equal(t, []string{"extract", "pair", "directives", "compose", "context", "components"}, p.Passes())

	p = NewPipeline(true,
		SlotPass{Slot: SlotAfterComponents, Pass: namedPass("last")},
		SlotPass{Slot: SlotAfterPairing, Pass: namedPass("p1")},
		SlotPass{Slot: SlotBeforeExtraction, Pass: namedPass("first")},
		SlotPass{Slot: SlotAfterPairing, Pass: namedPass("p2")},
	)
	want := []string{"first", "extract", "pair", "p1", "p2", "directives", "compose", "context", "components", "last", "validate"}
	require.Equal(t, want, p.Passes())
}

func TestPipeline_Actions(t *testing.T) {
	upper := Pass{
		Name: "upper",
		Before: func(n Node, _ *Context) (Action, error) {
			if t, ok := n.(*Text); ok {
				return Replace(&Text{Content: strings.ToUpper(t.Content)}), nil
			}
			return NoOp(), nil
		},
	}
	unwrap := Pass{
		Name: "unwrap",
		After: func(n Node, _ *Context) (Action, error) {
			if e, ok := n.(*Element); ok && e.Tag == "x-unwrap" {
				return Splice(e.Nodes...), nil
			}
			return NoOp(), nil
		},
	}
	opaque := Pass{
		Name: "opaque",
		Before: func(n Node, _ *Context) (Action, error) {
			if e, ok := n.(*Element); ok && e.Tag == "pre" {
				return Skip(), nil
			}
			if t, ok := n.(*Text); ok {
				return Replace(&Text{Content: t.Content + "!"}), nil
			}
			return NoOp(), nil
		},
	}

	doc, err := compileString(`<div><x-unwrap>a<b>b</b></x-unwrap><pre>c</pre></div>`, Options{Passes: []SlotPass{
		{Slot: SlotBeforeExtraction, Pass: upper},
		{Slot: SlotAfterExtraction, Pass: unwrap},
		{Slot: SlotAfterContext, Pass: opaque},
	}})
	require.NoError(t, err)

	want := removeIndent(`
		| <div>
		|   "A!"
		|   <b>
		|     "B!"
		|   <pre>
		|     "C"
		`)
	if diff := cmp.Diff(want, DumpString(doc)); diff != "" {
		t.Errorf("Compile() mismatch (-want +got):\n%s", diff)
	}
}

func TestPipeline_SpliceIsNotRevisited(t *testing.T) {
	var visited []string
	explode := Pass{
		Name: "explode",
		Before: func(n Node, _ *Context) (Action, error) {
			switch n := n.(type) {
			case *Element:
				visited = append(visited, n.Tag)
				if n.Tag == "x" {
					return Splice(n.Nodes...), nil
				}
			case *Text:
				visited = append(visited, n.Content)
			}
			return NoOp(), nil
		},
	}
	_, err := compileString(`<x><y>t</y></x>`, Options{Passes: []SlotPass{{Slot: SlotBeforeExtraction, Pass: explode}}})
	require.NoError(t, err)

	// the spliced <y> is not passed to Before again, but its children are visited
	require.Equal(t, []string{"x", "t"}, visited)
}

func TestPipeline_ErrorAborts(t *testing.T) {
	boom := errors.New("boom")
	var ran bool
	failing := Pass{
		Name: "failing",
		Before: func(n Node, _ *Context) (Action, error) {
			if _, ok := n.(*Text); ok {
				return Action{}, boom
			}
			return NoOp(), nil
		},
	}
	after := Pass{
		Name: "after",
		Before: func(Node, *Context) (Action, error) {
			ran = true
			return Skip(), nil
		},
	}

	doc, err := compileString(`<p>a</p>`, Options{Passes: []SlotPass{
		{Slot: SlotAfterDirectives, Pass: failing},
		{Slot: SlotAfterComponents, Pass: after},
	}})
	require.ErrorIs(t, err, boom)
	require.Nil(t, doc)
	require.False(t, ran)
}

func TestPipeline_DocumentCannotBeSpliced(t *testing.T) {
	bad := Pass{
		Name: "bad",
		Before: func(n Node, _ *Context) (Action, error) {
			if _, ok := n.(*Document); ok {
				return Splice(), nil
			}
			return NoOp(), nil
		},
	}
	_, err := compileString(`<p>a</p>`, Options{Passes: []SlotPass{{Slot: SlotAfterPairing, Pass: bad}}})
	require.ErrorContains(t, err, "pass bad: document was spliced")
}

func TestPipeline_ContextBlocks(t *testing.T) {
	var got []string
	probe := Pass{
		Name: "probe",
		Before: func(n Node, c *Context) (Action, error) {
			got = c.Blocks()
			return Skip(), nil
		},
	}
	_, err := compileString(`<p>a</p>`, Options{
		Blocks: []string{"main"},
		Passes: []SlotPass{{Slot: SlotBeforeExtraction, Pass: probe}},
	})
	require.NoError(t, err)
	require.Equal(t, []string{"main"}, got)
}

func TestClone(t *testing.T) {
	doc, err := compileString(`<ul class="a ${b}"><li s:forelse="x in xs">${x}</li><li s:empty>none</li></ul>`, Options{})
	require.NoError(t, err)

	clone := doc.Clone().(*Document)
	require.Equal(t, DumpString(doc), DumpString(clone))

	ul := clone.Nodes[0].(*Element)
	ul.Attrs[0].Parts[0].(*Text).Content = "changed "
	d := ul.Nodes[0].(*Directive)
	d.Fallback().Nodes = nil

	orig := doc.Nodes[0].(*Element)
	require.Equal(t, "a ", orig.Attrs[0].Parts[0].(*Text).Content)
	require.NotSame(t, orig.Nodes[0].(*Directive).Fallback(), d.Fallback())
	require.Len(t, orig.Nodes[0].(*Directive).Fallback().Nodes, 1)
}

func TestDirective_Rebuild(t *testing.T) {
	d := NewDirective(DirForelse, "x in xs", WithChildren(&Text{Content: "a"}))
	f := NewDirective(DirEmpty, "")
	paired := d.Rebuild(WithFallback(f))

	require.Nil(t, d.Fallback())
	require.Same(t, f, paired.Fallback())
	require.Equal(t, d.Nodes, paired.Nodes)
}

func TestCompiler_DefaultLogger(t *testing.T) {
	c := NewCompiler(Options{})
	require.Same(t, discardLogger, c.logger)
	require.False(t, c.logger.Enabled(context.Background(), slog.LevelError))
}

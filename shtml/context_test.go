package shtml

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAnalyzeContexts(t *testing.T) {
	runCompileCases(t, []compileCase{
		{
			name: "text and attributes",
			text: `<a href="/u/${id}" title="${t}">${v}</a>`,
			want: `
			| <a>
			|   href="/u/${id}" [attr]
			|   title="${t}" [attr]
			|   ${v} [html]
			`,
		},
		{
			name: "script and style",
			text: `<script>var x = ${b};</script><style>.a{color:${c}}</style>`,
			want: `
			| <script>
			|   "var x = "
			|   ${b} [js]
			|   ";"
			| <style>
			|   ".a{color:"
			|   ${c} [css]
			|   "}"
			`,
		},
		{
			name: "json script",
			text: `<script type="application/json">${d}</script>`,
			want: `
			| <script>
			|   type="application/json"
			|   ${d} [json]
			`,
		},
		{
			name: "siblings return to the enclosing context",
			text: `<div><script>${a}</script>${b}</div>${c}`,
			want: `
			| <div>
			|   <script>
			|     ${a} [js]
			|   ${b} [html]
			| ${c} [html]
			`,
		},
		{
			name: "raw outputs are not analyzed",
			text: `<script>$!{code}</script>`,
			want: `
			| <script>
			|   $!{code}
			`,
		},
		{
			name: "directives are transparent",
			text: `<style s:if="x">${a}</style>`,
			want: `
			| s:if "x"
			|   <style>
			|     ${a} [css]
			`,
		},
	})
}

func TestAnalyzeContexts_KeepsAssignedContext(t *testing.T) {
	url := &Output{Expr: "u", Escape: true, Context: ContextURL}
	plain := &Output{Expr: "h", Escape: true, Context: ContextHTML}
	doc := NewDocument(&Element{Tag: "script", Nodes: []Node{url, plain}})

	AnalyzeContexts(doc)

	require.Equal(t, ContextURL, url.Context)
	require.Equal(t, ContextJavaScript, plain.Context)
}

func TestAnalyzeContexts_SiblingOrder(t *testing.T) {
	script := `<script>var a = ${a};</script>`
	link := `<a href="${u}" title="${t}">${v}</a>`
	style := `<style>.x{color:${c}}</style>`

	doc, err := compileString(script+link+style, Options{})
	require.NoError(t, err)
	reordered, err := compileString(style+link+script, Options{})
	require.NoError(t, err)

	require.Len(t, doc.Nodes, 3)
	require.Len(t, reordered.Nodes, 3)
	for i, j := range []int{2, 1, 0} {
		require.Equal(t, DumpString(doc.Nodes[i]), DumpString(reordered.Nodes[j]))
	}
}

func TestAnalyzeContexts_Idempotent(t *testing.T) {
	doc, err := compileString(`<p title="${a}">${b}<script>${c}</script></p>`, Options{})
	require.NoError(t, err)

	before := DumpString(doc)
	AnalyzeContexts(doc)
	require.Equal(t, before, DumpString(doc))
}

func TestEscapeContext_String(t *testing.T) {
	require.Equal(t, "unset", ContextUnset.String())
	require.Equal(t, "js", ContextJavaScript.String())
	require.Equal(t, "unknown", EscapeContext(42).String())
}

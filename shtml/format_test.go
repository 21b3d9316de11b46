package shtml

import (
	"encoding/json"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

func TestFormat(t *testing.T) {
	tests := []struct {
		name string
		text string
		want string
	}{
		{
			name: "markup is kept",
			text: `<p class="a ${b}" hidden>x ${y |> upper} $!{z}</p><br/>`,
			want: `<p class="a ${b}" hidden>x ${y |> upper} $!{z}</p><br/>`,
		},
		{
			name: "directives",
			text: `<li s:forelse="x in xs">${x}</li><li s:empty>none</li>`,
			want: `<s:forelse expr="x in xs"><li>${x}</li></s:forelse><s:empty><li>none</li></s:empty>`,
		},
		{
			name: "imports and raw code",
			text: `<?s use A\B; $x = 1; ?><p>a</p>`,
			want: `<?s use A\B; ?><?s $x = 1; ?><p>a</p>`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc, err := compileString(tt.text, Options{})
			require.NoError(t, err)
			if diff := cmp.Diff(tt.want, Format(doc)); diff != "" {
				t.Errorf("Format() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestFormat_Reparse(t *testing.T) {
	src := `<div title="${t}"><s:template s:if="a"><b>${b}</b></s:template></div>`
	doc, err := ParseString(src, "/f.shtml")
	require.NoError(t, err)

	again, err := ParseString(Format(doc), "/f.shtml")
	require.NoError(t, err)
	require.Equal(t, DumpString(doc), DumpString(again))
}

func TestMarshalJSON(t *testing.T) {
	doc, err := compileString(`<p title="${t}">${x |> upper}</p>`, Options{})
	require.NoError(t, err)

	data, err := MarshalJSON(doc)
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, json.Unmarshal(data, &got))

	p := got["children"].([]any)[0].(map[string]any)
	require.Equal(t, "element", p["type"])
	require.Equal(t, "p", p["tag"])

	attr := p["attrs"].([]any)[0].(map[string]any)
	require.Equal(t, "title", attr["name"])
	require.Equal(t, "dynamic", attr["kind"])
	part := attr["parts"].([]any)[0].(map[string]any)
	require.Equal(t, "attr", part["context"])

	out := p["children"].([]any)[0].(map[string]any)
	want := map[string]any{
		"type":    "output",
		"line":    float64(1),
		"column":  float64(17),
		"origin":  "/test.shtml",
		"expr":    "x",
		"escape":  true,
		"context": "html",
		"pipes":   []any{map[string]any{"name": "upper"}},
	}
	if diff := cmp.Diff(want, out); diff != "" {
		t.Errorf("MarshalJSON() mismatch (-want +got):\n%s", diff)
	}
}

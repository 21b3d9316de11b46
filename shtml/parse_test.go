package shtml

import (
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

// removeIndent removes the indentation of the first line from every line of s.
func removeIndent(s string) string {
	s = strings.TrimLeft(s, "\n") // ignore leading newline

	// find first non-whitespace character
	i := strings.IndexFunc(s, func(r rune) bool {
		return r != ' ' && r != '\t'
	})
	if i == -1 {
		return s
	}

	// remove that amount of leading whitespace from all lines
	lines := strings.Split(s, "\n")
	for j, line := range lines {
		if len(line) < i {
			lines[j] = strings.TrimLeft(line, " \t")
			continue
		}
		lines[j] = line[i:]
	}
	return strings.Join(lines, "\n")
}

func TestParse(t *testing.T) {
	tests := []struct {
		name string
		text string
		want string
	}{
		{
			name: "text and outputs",
			text: `<p class="a ${b}">Hi ${name}</p>`,
			want: `
			| <p>
			|   class="a ${b}"
			|   "Hi "
			|   ${name}
			`,
		},
		{
			name: "raw output and pipes",
			text: `<div>$!{body}${ title |> upper |> trim(1) }</div>`,
			want: `
			| <div>
			|   $!{body}
			|   ${title |> upper |> trim(1)}
			`,
		},
		{
			name: "attribute kinds",
			text: `<input disabled value="${v}" name="q" s:if="x">`,
			want: `
			| <input>
			|   disabled
			|   value="${v}"
			|   name="q"
			|   s:if="x"
			`,
		},
		{
			name: "fragments, outlets and components",
			text: `<s:template s:block="main"><s:slot name="footer">none</s:slot><s-card title="x"></s-card></s:template>`,
			want: `
			| <s:template>
			|   s:block="main"
			|   <s:template>
			|     s:slot="footer"
			|     "none"
			|   <s-card>
			|     title="x"
			`,
		},
		{
			name: "dynamic component",
			text: `<s:component is="${kind}" size="2"></s:component>`,
			want: `
			| <s:component is=${kind}>
			|   size="2"
			`,
		},
		{
			name: "raw code",
			text: `<?s use App\Models\User; $x = 1; ?><p>x</p>`,
			want: `
			| <?s use App\Models\User; $x = 1; ?>
			| <p>
			|   "x"
			`,
		},
		{
			name: "implied end tags",
			text: `<ul><li>a<li>b</ul>`,
			want: `
			| <ul>
			|   <li>
			|     "a"
			|   <li>
			|     "b"
			`,
		},
		{
			name: "comments are kept verbatim",
			text: `<!-- c --><br/>`,
			want: `
			| "<!-- c -->"
			| <br>
			`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc, err := ParseString(tt.text, "/test.shtml")
			require.NoError(t, err)
			if diff := cmp.Diff(removeIndent(tt.want), DumpString(doc)); diff != "" {
				t.Errorf("Parse() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name string
		text string
		want string
	}{
		{
			name: "unclosed fragment",
			text: `<s:template s:if="x"><p>a</p>`,
			want: "unclosed <s:template>",
		},
		{
			name: "unclosed component",
			text: `<div><s-card></div>`,
			want: "unclosed <s-card>",
		},
		{
			name: "unterminated raw code",
			text: `<p>a</p><?s $x = 1;`,
			want: "unterminated raw code block",
		},
		{
			name: "unclosed action",
			text: `<p>${a</p>`,
			want: "unclosed action",
		},
		{
			name: "missing component name",
			text: `<s:component></s:component>`,
			want: `requires the "is" attribute`,
		},
		{
			name: "dynamic slot name",
			text: `<s:slot name="${n}"></s:slot>`,
			want: "slot names must be static",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseString(tt.text, "/test.shtml")
			require.Error(t, err)
			require.ErrorIs(t, err, ErrInvalidSyntax)
			require.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestParse_Positions(t *testing.T) {
	src := "<div>\n  <span s:if=\"x\">${a}</span>\n</div>"
	doc, err := ParseString(src, "/pos.shtml")
	require.NoError(t, err)

	div := doc.Nodes[0].(*Element)
	require.Equal(t, Pos{Offset: 0, Line: 1, Column: 1}, div.Pos())
	require.Equal(t, "/pos.shtml", div.Origin())

	span := div.Nodes[1].(*Element)
	require.Equal(t, 2, span.Pos().Line)
	require.Equal(t, 3, span.Pos().Column)

	attr := span.Attr("s:if")
	require.NotNil(t, attr)
	require.Equal(t, 9, attr.Pos().Column)

	out := span.Nodes[0].(*Output)
	require.Equal(t, "2:18", out.Pos().String())
	require.Equal(t, "/pos.shtml", out.Origin())
}

func TestParse_PositionsAfterRawCode(t *testing.T) {
	src := "<?s $a = 1; ?>\n<p>${a}</p>"
	doc, err := ParseString(src, "/raw.shtml")
	require.NoError(t, err)

	require.IsType(t, &RawCode{}, doc.Nodes[0])
	p := doc.Nodes[2].(*Element)
	require.Equal(t, "2:1", p.Pos().String())
	require.Equal(t, "2:4", p.Nodes[0].Pos().String())
}

func TestParse_ErrorPosition(t *testing.T) {
	_, err := ParseString("<p>\n\n  <s-card></p>", "/err.shtml")
	require.Error(t, err)

	var ce *CompileError
	require.True(t, errors.As(err, &ce))
	require.Equal(t, SyntaxError, ce.Kind)
	require.Equal(t, "/err.shtml", ce.Template)
	require.Equal(t, 3, ce.Line)
	require.Equal(t, 3, ce.Column)
}

func TestScanAttributeSpans(t *testing.T) {
	tests := []struct {
		raw  string
		want []attrSpan
	}{
		{raw: `<p>`, want: nil},
		{raw: `<p a="1" b>`, want: []attrSpan{{name: 3, value: 6}, {name: 9, value: -1}}},
		{raw: `<p  a='x y'  c=d/>`, want: []attrSpan{{name: 4, value: 7}, {name: 13, value: 15}}},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got := scanAttributeSpans([]byte(tt.raw))
			if diff := cmp.Diff(tt.want, got, cmp.AllowUnexported(attrSpan{})); diff != "" {
				t.Errorf("scanAttributeSpans() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

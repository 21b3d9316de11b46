package shtml

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

// compileString parses and compiles a single template with the identity /test.shtml.
func compileString(src string, opts Options) (*Document, error) {
	doc, err := ParseString(src, "/test.shtml")
	if err != nil {
		return nil, err
	}
	return Compile(doc, "/test.shtml", opts)
}

type compileCase struct {
	name string
	text string
	want string
}

func runCompileCases(t *testing.T, tests []compileCase) {
	t.Helper()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc, err := compileString(tt.text, Options{})
			require.NoError(t, err)
			if diff := cmp.Diff(removeIndent(tt.want), DumpString(doc)); diff != "" {
				t.Errorf("Compile() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestExtract(t *testing.T) {
	runCompileCases(t, []compileCase{
		{
			name: "control flow wraps the element",
			text: `<p s:if="show" class="x">a</p>`,
			want: `
			| s:if "show"
			|   <p>
			|     class="x"
			|     "a"
			`,
		},
		{
			name: "content inside control flow",
			text: `<li s:foreach="item in items" s:text="item.name"></li>`,
			want: `
			| s:foreach "item in items"
			|   <li>
			|     ${item.name} [html]
			`,
		},
		{
			name: "content replaces children",
			text: `<div s:html="body">ignored</div>`,
			want: `
			| <div>
			|   $!{body}
			`,
		},
		{
			name: "nowrap drops the element",
			text: `<span s:text="name |> upper" s:nowrap>x</span>`,
			want: `
			| ${name |> upper} [html]
			`,
		},
		{
			name: "fragment dissolves into the directive",
			text: `<s:template s:if="a"><b>1</b><i>2</i></s:template>`,
			want: `
			| s:if "a"
			|   <b>
			|     "1"
			|   <i>
			|     "2"
			`,
		},
		{
			name: "bare fragment is spliced",
			text: `<div><s:template><b>1</b></s:template></div>`,
			want: `
			| <div>
			|   <b>
			|     "1"
			`,
		},
		{
			name: "element-claiming form",
			text: `<s:if condition="user.admin"><b>admin</b></s:if>`,
			want: `
			| s:if "user.admin"
			|   <b>
			|     "admin"
			`,
		},
		{
			name: "element-claiming loop",
			text: `<ul><s:foreach each="x in xs"><li>${x}</li></s:foreach></ul>`,
			want: `
			| <ul>
			|   s:foreach "x in xs"
			|     <li>
			|       ${x} [html]
			`,
		},
		{
			name: "class list keeps the static class first",
			text: `<p class="btn" s:class="{'active': on}">x</p>`,
			want: `
			| <p>
			|   class="btn ${{'active': on} |> classList}" [attr]
			|   "x"
			`,
		},
		{
			name: "spread",
			text: `<a s:spread="attrs">x</a>`,
			want: `
			| <a>
			|   ...="${attrs}" [attr]
			|   "x"
			`,
		},
		{
			name: "structured data",
			text: `<script type="application/ld+json" s:json="schema"></script>`,
			want: `
			| <script>
			|   type="application/ld+json"
			|   ${schema} [json]
			`,
		},
		{
			name: "markers are hoisted above control flow",
			text: `<h1 s:block="title" s:if="show">t</h1>`,
			want: `
			| s:if "show"
			|   <h1>
			|     "t"
			`,
		},
	})
}

func TestExtract_NoWrapWithMarkers(t *testing.T) {
	doc, err := ParseString(`<span s:slot="title" s:text="t" s:nowrap></span>`, "/c.shtml")
	require.NoError(t, err)

	c := &Context{Template: "/c.shtml", Registry: NewRegistry(), stack: new([]string)}
	res, err := NewPipeline(false).executeBelow(doc, c, PriorityPair)
	require.NoError(t, err)

	want := removeIndent(`
		| <s:template>
		|   s:slot="title"
		|   s:text "t"
		`)
	if diff := cmp.Diff(want, DumpString(res)); diff != "" {
		t.Errorf("extract mismatch (-want +got):\n%s", diff)
	}
}

func TestExtract_Errors(t *testing.T) {
	tests := []struct {
		name    string
		text    string
		wantErr error
		wantMsg string
	}{
		{
			name:    "two control-flow directives",
			text:    `<div s:if="a" s:foreach="x in y"></div>`,
			wantErr: ErrDuplicateDirective,
			wantMsg: `nest elements instead: <s:template s:if="a"><div s:foreach="x in y">...</div></s:template>`,
		},
		{
			name:    "two content directives",
			text:    `<div s:text="a" s:html="b"></div>`,
			wantErr: ErrDuplicateDirective,
			wantMsg: "<div> has both s:text and s:html",
		},
		{
			name:    "plain attribute on a fragment",
			text:    `<s:template class="x"><p>a</p></s:template>`,
			wantErr: ErrFragmentAttribute,
			wantMsg: `cannot have the plain attribute "class"`,
		},
		{
			name:    "plain attribute on a fragment with a directive",
			text:    `<s:template s:if="a" id="x"></s:template>`,
			wantErr: ErrFragmentAttribute,
		},
		{
			name:    "nowrap without content",
			text:    `<p s:nowrap>a</p>`,
			wantErr: ErrMissingCompanion,
		},
		{
			name:    "unknown directive",
			text:    `<p s:iff="a">a</p>`,
			wantErr: ErrUnknownDirective,
			wantMsg: `unknown directive s:iff (did you mean "s:if"?)`,
		},
		{
			name:    "missing expression",
			text:    `<p s:if="">a</p>`,
			wantErr: ErrInvalidSyntax,
			wantMsg: "s:if requires an expression",
		},
		{
			name:    "unexpected expression",
			text:    `<p s:if="a">a</p><p s:else="b">b</p>`,
			wantErr: ErrInvalidSyntax,
			wantMsg: "s:else takes no expression",
		},
		{
			name:    "element form without its attribute",
			text:    `<s:if><p>a</p></s:if>`,
			wantErr: ErrInvalidSyntax,
			wantMsg: `<s:if> requires the "condition" attribute`,
		},
		{
			name:    "parent with content",
			text:    `<div><s:parent>x</s:parent></div>`,
			wantErr: ErrInvalidSyntax,
			wantMsg: "s:parent must be empty",
		},
		{
			name:    "content directive on a component",
			text:    `<s-card s:text="x"></s-card>`,
			wantErr: ErrInvalidSyntax,
			wantMsg: "content directives are not allowed on component <s-card>",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := compileString(tt.text, Options{})
			require.Error(t, err)
			require.ErrorIs(t, err, tt.wantErr)
			if tt.wantMsg != "" {
				require.Contains(t, err.Error(), tt.wantMsg)
			}
		})
	}
}

func TestExtract_UnknownDirectiveKind(t *testing.T) {
	_, err := compileString(`<p s:iff="a">a</p>`, Options{})

	var ce *CompileError
	require.True(t, errors.As(err, &ce))
	require.Equal(t, ClassificationError, ce.Kind)
	require.Equal(t, "s:if", ce.Suggestion)
	require.Equal(t, 1, ce.Line)
	require.Equal(t, 4, ce.Column)
}

func TestPair(t *testing.T) {
	runCompileCases(t, []compileCase{
		{
			name: "forelse with empty",
			text: "<ul><li s:forelse=\"x in xs\">${x}</li>\n<li s:empty>none</li></ul>",
			want: `
			| <ul>
			|   s:forelse "x in xs"
			|     <li>
			|       ${x} [html]
			|     fallback:
			|       s:empty
			|         <li>
			|           "none"
			`,
		},
		{
			name: "if chain stays siblings",
			text: `<b s:if="a">1</b><i s:elseif="b">2</i><u s:else>3</u>`,
			want: `
			| s:if "a"
			|   <b>
			|     "1"
			| s:elseif "b"
			|   <i>
			|     "2"
			| s:else
			|   <u>
			|     "3"
			`,
		},
		{
			name: "forelse without empty",
			text: `<p s:forelse="x in xs">${x}</p>`,
			want: `
			| s:forelse "x in xs"
			|   <p>
			|     ${x} [html]
			`,
		},
	})
}

func TestPair_Errors(t *testing.T) {
	tests := []struct {
		name    string
		text    string
		wantErr error
		wantMsg string
	}{
		{
			name:    "orphan empty",
			text:    `<li s:empty>none</li>`,
			wantErr: ErrMissingCompanion,
			wantMsg: "s:empty must directly follow s:forelse",
		},
		{
			name:    "orphan else",
			text:    `<p>x</p><p s:else>y</p>`,
			wantErr: ErrMissingCompanion,
			wantMsg: "s:else must directly follow s:if or s:elseif",
		},
		{
			name:    "else after else",
			text:    `<p s:if="a">x</p><p s:else>y</p><p s:else>z</p>`,
			wantErr: ErrMissingCompanion,
		},
		{
			name:    "two fallbacks",
			text:    `<p s:forelse="x in xs">x</p><p s:empty>a</p><p s:empty>b</p>`,
			wantErr: ErrMultipleFallback,
		},
		{
			name:    "separated by markup",
			text:    `<p s:forelse="x in xs">x</p><hr><p s:empty>a</p>`,
			wantErr: ErrMissingCompanion,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := compileString(tt.text, Options{})
			require.Error(t, err)
			require.ErrorIs(t, err, tt.wantErr)
			if tt.wantMsg != "" {
				require.Contains(t, err.Error(), tt.wantMsg)
			}
		})
	}
}

func TestPair_FallbackInsideFallback(t *testing.T) {
	src := `<s:template s:forelse="x in xs">${x}</s:template><s:template s:empty><p s:if="a">1</p><p s:else>2</p></s:template>`
	doc, err := compileString(src, Options{})
	require.NoError(t, err)

	d := doc.Nodes[0].(*Directive)
	require.NotNil(t, d.Fallback())
	require.Len(t, d.Fallback().Nodes, 2)
	require.Equal(t, DirElse, d.Fallback().Nodes[1].(*Directive).Name)
}

func TestLower_Imports(t *testing.T) {
	runCompileCases(t, []compileCase{
		{
			name: "imports are hoisted and deduplicated",
			text: `<?s use App\Models\User; use App\Helpers as H; $x = 1; ?><p>${x}</p><div><?s use App\Models\User; ?></div>`,
			want: `
			| import use App\Models\User;
			| import use App\Helpers as H;
			| <?s $x = 1; ?>
			| <p>
			|   ${x} [html]
			| <div>
			`,
		},
		{
			name: "code without imports is kept",
			text: `<?s $x = 1; ?>`,
			want: `
			| <?s $x = 1; ?>
			`,
		},
	})
}

package stencil

import (
	"errors"
	"fmt"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/require"
)

func TestEngine_ErrorViews(t *testing.T) {
	e := &Engine{FileSystem: fstest.MapFS{
		"page.shtml": {Data: []byte(`<p s:fi="x">a</p>`)},
		"loop.shtml": {Data: []byte(`<s:template s:extends="loop"></s:template>`)},
	}}

	_, errDirective := e.Compile("page")
	require.Error(t, errDirective)
	_, errCycle := e.Compile("loop")
	require.Error(t, errCycle)

	tests := []struct {
		name      string
		err       error
		wantKinds []string
	}{
		{name: "nil", err: nil},
		{name: "generic", err: errors.New("boom"), wantKinds: []string{"generic"}},
		{name: "compile error", err: errDirective, wantKinds: []string{"classification"}},
		{name: "wrapped", err: fmt.Errorf("serve: %w", errCycle), wantKinds: []string{"composition"}},
		{
			name:      "joined",
			err:       errors.Join(errDirective, errors.Join(errors.New("x"), errCycle)),
			wantKinds: []string{"classification", "generic", "composition"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			views := e.ErrorViews(tt.err)
			var kinds []string
			for _, v := range views {
				kinds = append(kinds, v.Kind)
			}
			require.Equal(t, tt.wantKinds, kinds)
		})
	}
}

func TestEngine_ErrorViewsDetails(t *testing.T) {
	e := &Engine{FileSystem: fstest.MapFS{
		"page.shtml": {Data: []byte(`<p s:fi="x">a</p>`)},
	}}

	_, err := e.Compile("page")
	views := e.ErrorViews(err)
	require.Len(t, views, 1)

	v := views[0]
	require.Equal(t, "/page.shtml", v.Template)
	require.Equal(t, 1, v.Line)
	require.Equal(t, 4, v.Column)
	require.Equal(t, "s:if", v.Suggestion)
	require.NotNil(t, v.Source)
	require.Equal(t, 4, v.Source.ErrorLength)
}

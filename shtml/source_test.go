package shtml

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestResolveRef(t *testing.T) {
	tests := []struct {
		ref, referrer string
		want          string
		wantErr       bool
	}{
		{ref: "layout.shtml", referrer: "/pages/index.shtml", want: "/pages/layout.shtml"},
		{ref: "../layout.shtml", referrer: "/pages/index.shtml", want: "/layout.shtml"},
		{ref: "/a/./b.shtml", referrer: "/pages/index.shtml", want: "/a/b.shtml"},
		{ref: "x.shtml", referrer: "", want: "/x.shtml"},
		{ref: "@ui/button.shtml", referrer: "/pages/index.shtml", want: "@ui/button.shtml"},
		{ref: "icon.shtml", referrer: "@ui/forms/input.shtml", want: "@ui/forms/icon.shtml"},
		{ref: "@ui", wantErr: true},
		{ref: "  ", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.ref, func(t *testing.T) {
			got, err := ResolveRef(tt.ref, tt.referrer)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}
}

func TestDependencies(t *testing.T) {
	var deps Dependencies
	var wg sync.WaitGroup
	for _, id := range []string{"/b", "/a", "/b", "/c"} {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			deps.Track(id)
		}(id)
	}
	wg.Wait()

	require.Equal(t, []string{"/a", "/b", "/c"}, deps.List())
	require.True(t, deps.Has("/a"))
	require.False(t, deps.Has("/d"))
}

func TestMapSource(t *testing.T) {
	src := MapSource{"/a.shtml": `<p>a</p>`}

	require.True(t, src.Exists("/a.shtml"))
	require.False(t, src.Exists("/b.shtml"))

	doc, err := src.Load("/a.shtml")
	require.NoError(t, err)
	require.Equal(t, "/a.shtml", doc.Origin())

	_, err = src.Load("/b.shtml")
	require.ErrorIs(t, err, ErrTemplateNotFound)
}

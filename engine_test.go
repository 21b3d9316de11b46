package stencil

import (
	"io/fs"
	"sync"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/require"

	"github.com/dpotapov/go-stencil/shtml"
)

func testFS() fstest.MapFS {
	return fstest.MapFS{
		"layout.shtml":          {Data: []byte(`<html><header s:block="title">Site</header><main s:block="content"><p>default</p></main></html>`)},
		"index.shtml":           {Data: []byte(`<s:template s:extends="layout"></s:template><h1 s:block="title">Home | <s:parent/></h1><s:template s:block="content"><p>Hello</p></s:template>`)},
		"about.shtml":           {Data: []byte(`<div><s-card><p>about</p></s-card></div>`)},
		"plain.shtml":           {Data: []byte(`<p>${x}</p>`)},
		"bom.shtml":             {Data: append([]byte{0xEF, 0xBB, 0xBF}, `<p>bom</p>`...)},
		"components/card.shtml": {Data: []byte(`<div class="card"><s:slot></s:slot></div>`)},
		"drafts/wip.shtml":      {Data: []byte(`<p>wip</p>`)},
		".hidden/x.shtml":       {Data: []byte(`<p>x</p>`)},
		"posts/_id.shtml":       {Data: []byte(`<article>${id}</article>`)},
		"docs/__path.shtml":     {Data: []byte(`<p>${path}</p>`)},
		"static.txt":            {Data: []byte(`text`)},
	}
}

func TestEngine_Resolve(t *testing.T) {
	e := &Engine{FileSystem: testFS()}

	tests := []struct {
		ref, referrer string
		want          string
	}{
		{ref: "layout", want: "/layout.shtml"},
		{ref: "layout.shtml", referrer: "/posts/_id.shtml", want: "/posts/layout.shtml"},
		{ref: "/layout", referrer: "/posts/_id.shtml", want: "/layout.shtml"},
		{ref: "@ui/button", want: "@ui/button.shtml"},
	}
	for _, tt := range tests {
		t.Run(tt.ref, func(t *testing.T) {
			got, err := e.Resolve(tt.ref, tt.referrer)
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}
}

func TestEngine_ExistsLoad(t *testing.T) {
	e := &Engine{
		FileSystem: testFS(),
		Namespaces: map[string]fs.FS{
			"ui": fstest.MapFS{"button.shtml": {Data: []byte(`<button>ok</button>`)}},
		},
	}

	require.True(t, e.Exists("/layout.shtml"))
	require.True(t, e.Exists("@ui/button.shtml"))
	require.False(t, e.Exists("/missing.shtml"))
	require.False(t, e.Exists("/components"))
	require.False(t, e.Exists("@nope/button.shtml"))

	doc, err := e.Load("@ui/button.shtml")
	require.NoError(t, err)
	require.Equal(t, "<button>ok</button>", shtml.Format(doc))

	doc, err = e.Load("/bom.shtml")
	require.NoError(t, err)
	require.Equal(t, "<p>bom</p>", shtml.Format(doc))

	_, err = e.Load("/missing.shtml")
	require.ErrorIs(t, err, shtml.ErrTemplateNotFound)

	_, err = e.Load("@nope/button.shtml")
	require.ErrorIs(t, err, shtml.ErrTemplateNotFound)
}

func TestEngine_Compile(t *testing.T) {
	e := &Engine{FileSystem: testFS()}

	res, err := e.Compile("index")
	require.NoError(t, err)
	require.Equal(t, "/index.shtml", res.Template)
	require.Equal(t, []string{"/layout.shtml"}, res.Dependencies)
	require.Equal(t, `<html><header>Home | Site</header><main><p>Hello</p></main></html>`, shtml.Format(res.Doc))

	again, err := e.Compile("/index.shtml")
	require.NoError(t, err)
	require.Same(t, res, again)

	blocks, err := e.Compile("index", "title", "title")
	require.NoError(t, err)
	require.NotSame(t, res, blocks)
	require.Equal(t, []string{"title"}, blocks.Blocks)
	require.Empty(t, blocks.Dependencies)

	comp, err := e.Compile("about")
	require.NoError(t, err)
	require.Equal(t, []string{"/components/card.shtml"}, comp.Dependencies)
}

func TestEngine_CompileError(t *testing.T) {
	e := &Engine{FileSystem: fstest.MapFS{
		"page.shtml": {Data: []byte(`<s:template s:extends="missing"></s:template>`)},
	}}

	_, err := e.Compile("page")
	require.ErrorIs(t, err, shtml.ErrTemplateNotFound)

	_, err = e.Compile("nothing")
	require.ErrorIs(t, err, shtml.ErrTemplateNotFound)
}

func TestEngine_Invalidate(t *testing.T) {
	e := &Engine{FileSystem: testFS()}

	events, cancel := e.Subscribe()
	defer cancel()

	index, err := e.Compile("index")
	require.NoError(t, err)
	_, err = e.Compile("about")
	require.NoError(t, err)
	_, err = e.Compile("plain")
	require.NoError(t, err)

	deps, err := e.Dependents("/layout.shtml")
	require.NoError(t, err)
	require.Equal(t, []string{"/index.shtml"}, deps)

	require.Equal(t, []string{"/index.shtml"}, e.Invalidate("/layout.shtml"))
	require.Equal(t, Event{Path: "/layout.shtml", Templates: []string{"/index.shtml"}}, <-events)

	recompiled, err := e.Compile("index")
	require.NoError(t, err)
	require.NotSame(t, index, recompiled)

	require.Equal(t, []string{"/about.shtml"}, e.Invalidate("/components/card.shtml"))
	require.Equal(t, []string{"/plain.shtml"}, e.Invalidate("/plain.shtml"))
	require.Empty(t, e.Invalidate("/plain.shtml"))
}

// changingFS replaces a file with new content the first time it is read and runs
// onChange before the old content is returned.
type changingFS struct {
	fstest.MapFS
	name     string
	data     string
	once     sync.Once
	onChange func()
}

func (f *changingFS) ReadFile(name string) ([]byte, error) {
	data, err := f.MapFS.ReadFile(name)
	if name == f.name {
		f.once.Do(func() {
			f.MapFS[name] = &fstest.MapFile{Data: []byte(f.data)}
			f.onChange()
		})
	}
	return data, err
}

func TestEngine_InvalidateDuringCompile(t *testing.T) {
	fsys := &changingFS{
		MapFS: fstest.MapFS{
			"layout.shtml": {Data: []byte(`<div>v1</div>`)},
			"page.shtml":   {Data: []byte(`<s:template s:extends="layout"></s:template>`)},
		},
		name: "layout.shtml",
		data: `<div>v2</div>`,
	}
	e := &Engine{FileSystem: fsys}
	fsys.onChange = func() { e.Invalidate("/layout.shtml") }

	res, err := e.Compile("page")
	require.NoError(t, err)
	require.Equal(t, `<div>v1</div>`, shtml.Format(res.Doc))

	res, err = e.Compile("page")
	require.NoError(t, err)
	require.Equal(t, `<div>v2</div>`, shtml.Format(res.Doc))

	cached, err := e.Compile("page")
	require.NoError(t, err)
	require.Same(t, res, cached)
}

func TestEngine_Subscribe(t *testing.T) {
	e := &Engine{}

	events, cancel := e.Subscribe()
	cancel()
	cancel()

	_, ok := <-events
	require.False(t, ok)

	// no subscribers left to notify
	e.Invalidate("/x.shtml")
}

func TestEngine_Templates(t *testing.T) {
	e := &Engine{FileSystem: testFS(), Ignore: []string{"drafts/**"}}

	got, err := e.Templates()
	require.NoError(t, err)
	require.Equal(t, []string{
		"/about.shtml",
		"/bom.shtml",
		"/components/card.shtml",
		"/docs/__path.shtml",
		"/index.shtml",
		"/layout.shtml",
		"/plain.shtml",
		"/posts/_id.shtml",
	}, got)
}

func TestEngine_DepStore(t *testing.T) {
	store, err := OpenDepStore(":memory:")
	require.NoError(t, err)
	defer store.Close()

	e := &Engine{FileSystem: testFS(), DepStore: store}

	_, err = e.Compile("index")
	require.NoError(t, err)
	_, err = e.Compile("index", "title")
	require.NoError(t, err)

	deps, err := store.Dependencies("/index.shtml")
	require.NoError(t, err)
	require.Equal(t, []string{"/layout.shtml"}, deps)

	// the store answers even after the cache was dropped
	e.Invalidate("/index.shtml")
	dependents, err := e.Dependents("/layout.shtml")
	require.NoError(t, err)
	require.Equal(t, []string{"/index.shtml"}, dependents)
}

func TestEngine_Concurrent(t *testing.T) {
	e := &Engine{FileSystem: testFS()}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			res, err := e.Compile("index")
			require.NoError(t, err)
			require.Equal(t, []string{"/layout.shtml"}, res.Dependencies)
		}()
		go func() {
			defer wg.Done()
			e.Invalidate("/layout.shtml")
		}()
	}
	wg.Wait()
}

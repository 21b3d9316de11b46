package stencil

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path"
	"slices"
	"strings"
	"sync"

	"github.com/bmatcuk/doublestar/v4"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"

	"github.com/dpotapov/go-stencil/shtml"
)

// DefaultExt is the extension of the template files. References without an extension get
// it appended.
const DefaultExt = ".shtml"

// Engine compiles templates stored in a file system and caches the results until one of
// the templates they were composed from changes.
type Engine struct {
	// FileSystem to load templates from. Template identities starting with "/" are
	// looked up relative to its root.
	FileSystem fs.FS

	// Namespaces maps a namespace to the file system backing "@ns/..." references.
	Namespaces map[string]fs.FS

	// Ext is the template file extension. DefaultExt is used when empty.
	Ext string

	// ComponentDir is the directory component templates are looked up in. If not set,
	// "/components" is used.
	ComponentDir string

	// Debug enables the stricter validation stage of the compiler.
	Debug bool

	// Ignore is a list of doublestar patterns excluded from template discovery and
	// file watching.
	Ignore []string

	// Registry holds the directive handlers. The compiler default is used when nil.
	Registry *shtml.Registry

	// Passes are additional compiler passes.
	Passes []shtml.SlotPass

	// DepStore persists the dependency set of every fully compiled template when set.
	DepStore *DepStore

	// Logger configures logging for internal events.
	Logger *slog.Logger

	init   sync.Once
	logger *slog.Logger

	mu    sync.RWMutex
	cache map[string]*Result
	gen   uint64 // bumped by every invalidation

	subsMu sync.Mutex
	subs   map[chan Event]struct{}
}

var _ shtml.Source = (*Engine)(nil)

// Result is a cached compilation. The document is shared between callers and must not
// be modified.
type Result struct {
	// Template is the identity of the compiled template.
	Template string

	// Blocks is the sorted block allow-list the template was compiled with.
	Blocks []string

	Doc *shtml.Document

	// Dependencies lists every other template the result was composed from.
	Dependencies []string
}

// dependsOn reports whether a change of the template id affects the result.
func (r *Result) dependsOn(id string) bool {
	if r.Template == id {
		return true
	}
	_, found := slices.BinarySearch(r.Dependencies, id)
	return found
}

// Event is sent to subscribers whenever cached compilations are invalidated.
type Event struct {
	// Path is the identity of the changed template.
	Path string `json:"path"`

	// Templates lists the compiled templates affected by the change.
	Templates []string `json:"templates"`
}

func (e *Engine) setup() {
	e.init.Do(func() {
		e.logger = discardLogger
		if e.Logger != nil {
			e.logger = e.Logger
		}
		e.cache = make(map[string]*Result)
		e.subs = make(map[chan Event]struct{})
	})
}

var discardLogger = slog.New(slog.DiscardHandler)

func (e *Engine) ext() string {
	if e.Ext == "" {
		return DefaultExt
	}
	return e.Ext
}

// Resolve implements shtml.Source. A reference without an extension gets the template
// extension appended.
func (e *Engine) Resolve(ref, referrer string) (string, error) {
	id, err := shtml.ResolveRef(ref, referrer)
	if err != nil {
		return "", err
	}
	if path.Ext(id) == "" {
		id += e.ext()
	}
	return id, nil
}

// Exists implements shtml.Source.
func (e *Engine) Exists(id string) bool {
	fsys, p, err := e.locate(id)
	if err != nil {
		return false
	}
	fi, err := fs.Stat(fsys, p)
	return err == nil && !fi.IsDir()
}

// Load implements shtml.Source.
func (e *Engine) Load(id string) (*shtml.Document, error) {
	src, err := e.readSource(id)
	if err != nil {
		return nil, err
	}
	return shtml.Parse(bytes.NewReader(src), id)
}

// locate maps a template identity to a file system and a path within it.
func (e *Engine) locate(id string) (fs.FS, string, error) {
	if strings.HasPrefix(id, "@") {
		ns, p, _ := strings.Cut(id[1:], "/")
		fsys, ok := e.Namespaces[ns]
		if !ok {
			return nil, "", fmt.Errorf("%s: unknown namespace %q: %w", id, ns, shtml.ErrTemplateNotFound)
		}
		return fsys, p, nil
	}
	if e.FileSystem == nil {
		return nil, "", fmt.Errorf("%s: no file system: %w", id, shtml.ErrTemplateNotFound)
	}
	p := strings.TrimPrefix(path.Clean("/"+id), "/")
	if p == "" {
		p = "."
	}
	return e.FileSystem, p, nil
}

// readSource returns the template source decoded to UTF-8. A UTF-8 or UTF-16 byte order
// mark selects the decoding and is removed.
func (e *Engine) readSource(id string) ([]byte, error) {
	fsys, p, err := e.locate(id)
	if err != nil {
		return nil, err
	}
	if !fs.ValidPath(p) {
		return nil, fmt.Errorf("%s: invalid path: %w", id, shtml.ErrTemplateNotFound)
	}
	raw, err := fs.ReadFile(fsys, p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%s: %w", id, shtml.ErrTemplateNotFound)
	} else if err != nil {
		return nil, fmt.Errorf("read template %s: %w", id, err)
	}
	dec := unicode.BOMOverride(unicode.UTF8.NewDecoder())
	src, _, err := transform.Bytes(dec, raw)
	if err != nil {
		return nil, fmt.Errorf("decode template %s: %w", id, err)
	}
	return src, nil
}

func (e *Engine) componentRef(name string) string {
	dir := e.ComponentDir
	if dir == "" {
		dir = "/components"
	}
	return path.Join(dir, name+e.ext())
}

func cacheKey(id string, blocks []string) string {
	return id + "#" + strings.Join(blocks, ",")
}

// Compile returns the compiled template name, restricted to blocks when any are given.
// Results are cached until Invalidate is called with one of the templates they depend on.
func (e *Engine) Compile(name string, blocks ...string) (*Result, error) {
	e.setup()

	id, err := e.Resolve(name, "")
	if err != nil {
		return nil, err
	}

	blocks = slices.Clone(blocks)
	slices.Sort(blocks)
	blocks = slices.Compact(blocks)
	key := cacheKey(id, blocks)

	e.mu.RLock()
	res, ok := e.cache[key]
	gen := e.gen
	e.mu.RUnlock()
	if ok {
		e.logger.Debug("Template cache hit", "template", id, "blocks", blocks)
		return res, nil
	}

	e.logger.Debug("Template cache miss", "template", id, "blocks", blocks)

	deps := &shtml.Dependencies{}
	c := shtml.NewCompiler(shtml.Options{
		Debug:        e.Debug,
		Source:       e,
		Registry:     e.Registry,
		Passes:       e.Passes,
		ComponentRef: e.componentRef,
		Logger:       e.logger,
	})
	doc, err := c.CompileTemplate(id, deps, blocks)
	if err != nil {
		return nil, err
	}

	res = &Result{
		Template:     id,
		Blocks:       blocks,
		Doc:          doc,
		Dependencies: deps.List(),
	}

	// a template may have changed while compiling, the result is not cached then
	e.mu.Lock()
	fresh := e.gen == gen
	if fresh {
		e.cache[key] = res
	}
	e.mu.Unlock()

	if !fresh {
		e.logger.Debug("Skip caching of a compilation invalidated in flight", "template", id)
		return res, nil
	}

	// block compilations skip the parents, so only full ones describe the dependencies
	if e.DepStore != nil && len(blocks) == 0 {
		if err := e.DepStore.Save(id, res.Dependencies); err != nil {
			e.logger.Error("Save template dependencies", "template", id, "error", err)
		}
	}

	return res, nil
}

// Invalidate evicts every cached result composed from the template id and notifies the
// subscribers. It returns the affected templates in sorted order.
func (e *Engine) Invalidate(id string) []string {
	e.setup()

	var affected []string

	e.mu.Lock()
	e.gen++
	for key, res := range e.cache {
		if res.dependsOn(id) {
			delete(e.cache, key)
			affected = append(affected, res.Template)
		}
	}
	e.mu.Unlock()

	slices.Sort(affected)
	affected = slices.Compact(affected)

	e.logger.Info("Invalidate template", "template", id, "affected", affected)

	e.notify(Event{Path: id, Templates: affected})

	return affected
}

// Dependents returns the templates whose last compilation depended on id. The dependency
// store answers when configured since it outlives the cache.
func (e *Engine) Dependents(id string) ([]string, error) {
	e.setup()

	if e.DepStore != nil {
		return e.DepStore.Dependents(id)
	}

	var res []string
	e.mu.RLock()
	for _, r := range e.cache {
		if r.Template != id && r.dependsOn(id) {
			res = append(res, r.Template)
		}
	}
	e.mu.RUnlock()

	slices.Sort(res)
	return slices.Compact(res), nil
}

// Templates lists the identities of the templates in the file system, skipping the ones
// matching an Ignore pattern and hidden files.
func (e *Engine) Templates() ([]string, error) {
	if e.FileSystem == nil {
		return nil, nil
	}

	matches, err := doublestar.Glob(e.FileSystem, "**/*"+e.ext())
	if err != nil {
		return nil, fmt.Errorf("glob templates: %w", err)
	}

	res := make([]string, 0, len(matches))
	for _, m := range matches {
		if e.ignored(m) {
			continue
		}
		res = append(res, "/"+m)
	}
	slices.Sort(res)
	return res, nil
}

// ignored reports whether the slash-separated path p relative to the file system root is
// excluded from discovery.
func (e *Engine) ignored(p string) bool {
	for _, seg := range strings.Split(p, "/") {
		if strings.HasPrefix(seg, ".") && seg != "." && seg != ".." {
			return true
		}
	}
	for _, pattern := range e.Ignore {
		if ok, _ := doublestar.Match(pattern, p); ok {
			return true
		}
	}
	return false
}

// Subscribe returns a channel receiving invalidation events. Slow subscribers miss
// events rather than blocking the engine. The returned function cancels the
// subscription and closes the channel.
func (e *Engine) Subscribe() (<-chan Event, func()) {
	e.setup()

	sub := make(chan Event, 16)

	e.subsMu.Lock()
	e.subs[sub] = struct{}{}
	e.subsMu.Unlock()

	var once sync.Once
	return sub, func() {
		once.Do(func() {
			e.subsMu.Lock()
			defer e.subsMu.Unlock()
			delete(e.subs, sub)
			close(sub)
		})
	}
}

func (e *Engine) notify(ev Event) {
	e.subsMu.Lock()
	defer e.subsMu.Unlock()
	for sub := range e.subs {
		select {
		case sub <- ev:
		default:
			e.logger.Warn("Drop invalidation event for a slow subscriber", "template", ev.Path)
		}
	}
}

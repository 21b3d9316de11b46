package shtml

import (
	"errors"
	"log/slog"
	"slices"
	"strings"
)

// maxCompositionDepth caps template composition recursion. Exceeding it is reported as a
// composition cycle.
const maxCompositionDepth = 256

// Options configures a compilation.
type Options struct {
	// Debug enables the stricter validation stage.
	Debug bool

	// Tracker receives every parent, include and component template touched by the
	// compilation.
	Tracker DependencyTracker

	// Blocks restricts the composed output to the named blocks. Composition is skipped
	// when the list is not empty.
	Blocks []string

	// Passes are additional passes placed into the pipeline extension slots.
	Passes []SlotPass

	// Source loads referenced templates. Compiling a document that references another
	// template without a Source fails with ErrTemplateNotFound.
	Source Source

	// Registry holds the directive handlers. NewRegistry() is used when nil.
	Registry *Registry

	// ComponentRef maps a component name to a template reference. If not set, components
	// are looked up as "/components/NAME.shtml".
	ComponentRef func(name string) string

	// Logger configures logging for internal events.
	Logger *slog.Logger
}

// Context is the state shared by the passes of a single top-level compilation. It is
// created fresh for every compilation and must not be shared between goroutines.
type Context struct {
	// Template is the identity of the template being compiled.
	Template string

	Debug    bool
	Tracker  DependencyTracker
	Source   Source
	Registry *Registry

	// blocks is the block-name allow-list of the top-level compilation.
	blocks []string

	// stack holds the identities of the templates being composed, outermost first.
	stack *[]string

	compiler *Compiler
}

func (c *Context) logger() *slog.Logger {
	if c.compiler == nil {
		return discardLogger
	}
	return c.compiler.logger
}

// Blocks returns the block allow-list of the compilation.
func (c *Context) Blocks() []string { return c.blocks }

// Stack returns the composition chain, outermost first.
func (c *Context) Stack() []string {
	if c.stack == nil {
		return nil
	}
	return slices.Clone(*c.stack)
}

// derive returns a context for compiling another template within the same compilation.
func (c *Context) derive(id string) *Context {
	d := *c
	d.Template = id
	d.blocks = nil
	return &d
}

func (c *Context) track(id string) {
	c.logger().Debug("Resolve dependency", "template", c.Template, "dependency", id)
	if c.Tracker != nil {
		c.Tracker.Track(id)
	}
}

// enter pushes id onto the composition stack. It fails when id is already being composed
// or the stack is too deep.
func (c *Context) enter(n Node, id string) error {
	st := *c.stack
	if i := slices.Index(st, id); i >= 0 {
		e := newCompileError(CompositionError, n, ErrCycle, "circular template composition via %q", id)
		e.Chain = append(slices.Clone(st[i:]), id)
		return e
	}
	if len(st) >= maxCompositionDepth {
		e := newCompileError(CompositionError, n, ErrCycle, "template composition deeper than %d levels", maxCompositionDepth)
		e.Chain = slices.Clone(st)
		return e
	}
	*c.stack = append(st, id)
	return nil
}

func (c *Context) leave() {
	st := *c.stack
	*c.stack = st[:len(st)-1]
}

var discardLogger = slog.New(slog.DiscardHandler)

// Compiler compiles raw template trees into analyzed trees. It is safe for concurrent use:
// every compilation gets its own Context.
type Compiler struct {
	opts     Options
	pipeline *Pipeline
	registry *Registry
	logger   *slog.Logger
}

func NewCompiler(opts Options) *Compiler {
	c := &Compiler{
		opts:     opts,
		pipeline: NewPipeline(opts.Debug, opts.Passes...),
		registry: opts.Registry,
		logger:   opts.Logger,
	}
	if c.registry == nil {
		c.registry = NewRegistry()
	}
	if c.logger == nil {
		c.logger = discardLogger
	}
	return c
}

// Pipeline returns the pipeline used by the compiler.
func (c *Compiler) Pipeline() *Pipeline { return c.pipeline }

// Compile runs the pipeline over doc, the raw tree of the template id. The input tree is
// consumed by the compilation.
func (c *Compiler) Compile(doc *Document, id string) (*Document, error) {
	return c.CompileWith(doc, id, c.opts.Tracker, c.opts.Blocks)
}

// CompileWith is like Compile, but overrides the tracker and the block allow-list.
func (c *Compiler) CompileWith(doc *Document, id string, tracker DependencyTracker, blocks []string) (*Document, error) {
	ctx := c.newContext(id, tracker, blocks)
	if err := ctx.enter(doc, id); err != nil {
		return nil, err
	}
	defer ctx.leave()
	return c.pipeline.Execute(doc, ctx)
}

// CompileTemplate loads the template id from the Source and compiles it.
func (c *Compiler) CompileTemplate(id string, tracker DependencyTracker, blocks []string) (*Document, error) {
	// the template itself is not a dependency of its compilation
	ctx := c.newContext(id, nil, blocks)
	doc, err := ctx.load(nil, id)
	if err != nil {
		return nil, err
	}
	return c.CompileWith(doc, id, tracker, blocks)
}

func (c *Compiler) newContext(id string, tracker DependencyTracker, blocks []string) *Context {
	return &Context{
		Template: id,
		Debug:    c.opts.Debug,
		Tracker:  tracker,
		Source:   c.opts.Source,
		Registry: c.registry,
		blocks:   slices.Clone(blocks),
		stack:    new([]string),
		compiler: c,
	}
}

func (c *Compiler) componentRef(name string) string {
	if c.opts.ComponentRef != nil {
		return c.opts.ComponentRef(name)
	}
	return "/components/" + name + ".shtml"
}

// Compile compiles the raw tree of the template id with the given options.
func Compile(doc *Document, id string, opts Options) (*Document, error) {
	return NewCompiler(opts).Compile(doc, id)
}

// resolve resolves a reference found in node n of the current template.
func (c *Context) resolve(n Node, ref string) (string, error) {
	if c.Source == nil {
		return "", c.compositionError(n, ref, ErrTemplateNotFound, "cannot resolve %q: no template source", ref)
	}
	id, err := c.Source.Resolve(ref, c.Template)
	if err != nil {
		return "", c.compositionError(n, ref, err, "resolve %q: %v", ref, err)
	}
	return id, nil
}

// load loads and parses the template id referenced by node n.
func (c *Context) load(n Node, id string) (*Document, error) {
	if c.Source == nil || !c.Source.Exists(id) {
		return nil, c.compositionError(n, id, ErrTemplateNotFound, "template %q not found", id)
	}
	doc, err := c.Source.Load(id)
	if err != nil {
		var ce *CompileError
		if errors.As(err, &ce) {
			return nil, err
		}
		return nil, c.compositionError(n, id, err, "load %q: %v", id, err)
	}
	c.track(id)
	return doc, nil
}

func (c *Context) compositionError(n Node, ref string, err error, format string, args ...any) *CompileError {
	e := newCompileError(CompositionError, n, err, format, args...)
	if e.Template == "" {
		e.Template = c.Template
	}
	e.Chain = c.Stack()
	if len(e.Chain) == 0 || e.Chain[len(e.Chain)-1] != ref {
		e.Chain = append(e.Chain, ref)
	}
	return e
}

// prepare runs the stages that precede composition over a loaded template.
func (c *Context) prepare(doc *Document) (*Document, error) {
	return c.compiler.pipeline.executeBelow(doc, c, PriorityCompose)
}

// compileFull runs the whole pipeline over a loaded template.
func (c *Context) compileFull(doc *Document) (*Document, error) {
	return c.compiler.pipeline.Execute(doc, c)
}

func blockAllowed(blocks []string, name string) bool {
	for _, b := range blocks {
		if strings.TrimSpace(b) == name {
			return true
		}
	}
	return false
}

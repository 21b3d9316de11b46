package stencil

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"net/url"
	"path"
	"regexp"
	"slices"
	"strings"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/dpotapov/go-stencil/shtml"
)

// DefaultLivePath is the URL path of the websocket endpoint streaming invalidation events.
const DefaultLivePath = "/_live"

// validIdentifierRegex is a regular expression that matches valid keywords for dynamic
// matching purposes.
var validIdentifierRegex = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// wsUpgrader is a Gorilla WebSocket instance, used to respond HTTP requests with WebSocket.
var wsUpgrader = websocket.Upgrader{}

// Handler serves compiled templates of an Engine for inspection by tools and editors.
//
// A request path is mapped onto the template file system the way pages are routed:
//   - /foo/bar -> /foo/bar.shtml
//   - /foo/ -> /foo/index.shtml
//   - /posts/123 -> /posts/_id.shtml with the param id=123
//   - /docs/a/b -> /docs/__path.shtml with the param path=/a/b
//
// The compiled tree is returned as JSON. The query parameter "blocks" restricts the
// output to a comma-separated list of blocks and "format" selects "json", "markup" or
// "dump" output. Compilation errors are reported with status 422 and a JSON body.
type Handler struct {
	Engine *Engine

	// LivePath is the path of the invalidation events websocket. If not set,
	// DefaultLivePath is used.
	LivePath string

	// OnError is a callback that is called when an error occurs while serving a request.
	OnError func(*http.Request, error)

	// Logger configures logging for internal events.
	Logger *slog.Logger

	// init is used to initialize the handler only once.
	init sync.Once

	// logger is a private logger instance that is used to log internal events.
	logger *slog.Logger
}

type templateResponse struct {
	Template     string            `json:"template"`
	Blocks       []string          `json:"blocks,omitempty"`
	Params       map[string]string `json:"params,omitempty"`
	Dependencies []string          `json:"dependencies"`
	Tree         json.RawMessage   `json:"tree"`
}

type errorResponse struct {
	Errors []ErrorView `json:"errors"`
}

// liveRequest is a websocket message narrowing the events to the listed templates.
type liveRequest struct {
	Templates []string `json:"templates"`
}

// ServeHTTP implements the http.Handler interface.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.init.Do(func() {
		h.logger = discardLogger
		if h.Logger != nil {
			h.logger = h.Logger
		}
	})

	if err := h.handleRequest(w, r); err != nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		h.reportError(r, err)
	}
}

func (h *Handler) reportError(r *http.Request, err error) {
	h.logger.Error("Serve HTTP request", "url", r.URL.Redacted(), "error", err)

	if h.OnError != nil {
		h.OnError(r, err)
	}
}

func (h *Handler) livePath() string {
	if h.LivePath == "" {
		return DefaultLivePath
	}
	return h.LivePath
}

func (h *Handler) handleRequest(w http.ResponseWriter, r *http.Request) error {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD")
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
		return nil
	}

	urlPath := cleanPath(r.URL.EscapedPath())

	if urlPath == h.livePath() {
		h.serveLive(w, r)
		return nil
	}

	params := map[string]string{}

	fsPath, err := h.matchFS(urlPath, ".", params)
	if err != nil {
		return err
	}

	if fsPath == "" || path.Ext(fsPath) != h.Engine.ext() || h.Engine.ignored(fsPath) {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
		return nil
	}

	return h.serveTemplate(w, r, "/"+fsPath, params)
}

func (h *Handler) serveTemplate(w http.ResponseWriter, r *http.Request, id string, params map[string]string) error {
	q := r.URL.Query()

	var blocks []string
	for _, b := range strings.Split(q.Get("blocks"), ",") {
		if b = strings.TrimSpace(b); b != "" {
			blocks = append(blocks, b)
		}
	}

	format := q.Get("format")
	if format != "" && format != "json" && format != "markup" && format != "dump" {
		http.Error(w, fmt.Sprintf("unknown format %q", format), http.StatusBadRequest)
		return nil
	}

	res, err := h.Engine.Compile(id, blocks...)
	if err != nil {
		var ce *shtml.CompileError
		if !errors.As(err, &ce) {
			return fmt.Errorf("compile %s: %w", id, err)
		}
		h.logger.Warn("Compile template", "template", id, "error", err)
		return writeJSON(w, http.StatusUnprocessableEntity, errorResponse{Errors: h.Engine.ErrorViews(err)})
	}

	switch format {
	case "markup":
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, err := io.WriteString(w, shtml.Format(res.Doc))
		return err
	case "dump":
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		return shtml.Dump(w, res.Doc)
	}

	tree, err := shtml.MarshalJSON(res.Doc)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", id, err)
	}

	return writeJSON(w, http.StatusOK, templateResponse{
		Template:     res.Template,
		Blocks:       res.Blocks,
		Params:       params,
		Dependencies: res.Dependencies,
		Tree:         tree,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, err = w.Write(append(data, '\n'))
	return err
}

// serveLive streams invalidation events over a websocket until the client goes away.
// A client may send a liveRequest message anytime to receive only the events
// affecting the listed templates.
func (h *Handler) serveLive(w http.ResponseWriter, r *http.Request) {
	if !websocket.IsWebSocketUpgrade(r) {
		http.Error(w, "websocket upgrade required", http.StatusBadRequest)
		return
	}

	// Upgrade replies to the client on failure
	ws, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug("Upgrade websocket", "error", err)
		return
	}
	defer ws.Close()

	events, cancel := h.Engine.Subscribe()
	defer cancel()

	filters := make(chan []string)
	done := make(chan error, 1)

	go func() {
		for {
			var req liveRequest
			if err := ws.ReadJSON(&req); err != nil {
				if websocket.IsCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					err = nil
				} else {
					err = fmt.Errorf("read websocket message: %w", err)
				}
				done <- err
				return
			}
			select {
			case filters <- req.Templates:
			case <-r.Context().Done():
				return
			}
		}
	}()

	var filter []string

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			if len(filter) > 0 && !slices.ContainsFunc(ev.Templates, func(t string) bool {
				return slices.Contains(filter, t)
			}) {
				continue
			}
			if err := ws.WriteJSON(ev); err != nil {
				h.reportError(r, fmt.Errorf("write websocket message: %w", err))
				return
			}
		case filter = <-filters:
		case err := <-done:
			if err != nil {
				h.reportError(r, err)
			}
			return
		case <-r.Context().Done():
			return
		}
	}
}

// matchFS finds the template for urlPath in dir, recording dynamic segments in params.
func (h *Handler) matchFS(urlPath, dir string, params map[string]string) (string, error) {
	if urlPath == "" {
		return "", nil
	}

	entries, err := fs.ReadDir(h.Engine.FileSystem, dir)
	if err != nil {
		return "", fmt.Errorf("read directory %s: %w", dir, err)
	}

	seg, rest := firstSegment(urlPath)

	// skip hidden files and directories
	if seg == "" || seg[0] == '.' {
		return "", nil
	}

	var m string

	if rest != "" {
		dir, err = h.matchDir(seg, dir, entries, params)
		if err != nil {
			return "", err
		}
		if dir != "" {
			m, err = h.matchFS(rest, dir, params)
		}
	} else {
		m, err = h.matchFile(seg, dir, entries, params)
	}
	if m != "" || err != nil {
		return m, err
	}

	// no match, try catch-all
	catchAllFile, err := h.findCatchAllFile(entries)
	if err != nil {
		return "", err
	}

	if catchAllFile != "" {
		argName := catchAllFile[2 : len(catchAllFile)-len(h.Engine.ext())]
		params[argName] = urlPath

		return path.Join(dir, catchAllFile), nil
	}

	return "", nil // no match
}

// matchDir returns the subdirectory of dir matching seg. A "_name" directory matches any
// segment and records it as the param name.
func (h *Handler) matchDir(seg, dir string, entries []fs.DirEntry, params map[string]string) (string, error) {
	var dyn dynamicMatch

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		name := entry.Name()

		if name == seg {
			return path.Join(dir, name), nil
		}
		if name[0] == '_' {
			if err := dyn.set(name, name[1:], dir, params); err != nil {
				return "", err
			}
		}
	}

	return dyn.apply(seg, dir, params), nil
}

// matchFile returns the template in dir matching seg. A "_name" template matches any
// segment and records it as the param name.
func (h *Handler) matchFile(seg, dir string, entries []fs.DirEntry, params map[string]string) (string, error) {
	ext := h.Engine.ext()
	var dyn dynamicMatch

	if seg == "/" {
		seg = "index"
	}

	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || path.Ext(name) != ext {
			continue
		}

		base := strings.TrimSuffix(name, ext)
		if base == seg {
			return path.Join(dir, name), nil
		}
		if len(base) > 1 && base[0] == '_' && base[1] != '_' {
			if err := dyn.set(name, base[1:], dir, params); err != nil {
				return "", err
			}
		}
	}

	return dyn.apply(seg, dir, params), nil
}

// dynamicMatch is the single "_param" entry of a directory.
type dynamicMatch struct {
	entry, param string
}

func (m *dynamicMatch) set(entry, param, dir string, params map[string]string) error {
	switch {
	case !validIdentifierRegex.MatchString(param):
		return fmt.Errorf("invalid dynamic match in %s", dir)
	case m.entry != "":
		return fmt.Errorf("multiple dynamic matches in %s", dir)
	case params[param] != "":
		return fmt.Errorf("duplicate dynamic match in %s", dir)
	}
	m.entry, m.param = entry, param
	return nil
}

func (m *dynamicMatch) apply(seg, dir string, params map[string]string) string {
	if m.entry == "" {
		return ""
	}
	params[m.param] = seg
	return path.Join(dir, m.entry)
}

func (h *Handler) findCatchAllFile(entries []fs.DirEntry) (string, error) {
	ext := h.Engine.ext()
	catchAll := ""

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !strings.HasSuffix(name, ext) || len(name) <= len(ext)+2 || name[:2] != "__" {
			continue
		}
		if catchAll != "" {
			return "", fmt.Errorf("multiple catch-all files found")
		}
		catchAll = name
	}

	return catchAll, nil
}

// cleanPath returns the canonical path for p, eliminating . and .. elements.
//
// Copied from net/http/server.go
func cleanPath(p string) string {
	if p == "" {
		return "/"
	}
	if p[0] != '/' {
		p = "/" + p
	}
	np := path.Clean(p)
	// path.Clean removes trailing slash except for root;
	// put the trailing slash back if necessary.
	if p[len(p)-1] == '/' && np != "/" {
		// Fast path for common case of p being the string we want:
		if len(p) == len(np)+1 && strings.HasPrefix(p, np) {
			np = p
		} else {
			np += "/"
		}
	}
	return np
}

// firstSegment splits path into its first segment, and the rest.
// The path must begin with "/".
// If path consists of only a slash, firstSegment returns ("/", "").
// The segment is returned unescaped, if possible.
//
// Copied from net/http/routing_tree.go.
func firstSegment(path string) (seg, rest string) {
	if path == "/" {
		return "/", ""
	}
	path = path[1:] // drop initial slash
	i := strings.IndexByte(path, '/')
	if i < 0 {
		i = len(path)
	}
	return pathUnescape(path[:i]), path[i:]
}

// Copied from net/http/routing_tree.go.
func pathUnescape(path string) string {
	u, err := url.PathUnescape(path)
	if err != nil {
		// Invalidly escaped path; use the original
		return path
	}
	return u
}

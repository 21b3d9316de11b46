package shtml

import (
	"fmt"
	"path"
	"slices"
	"strings"
	"sync"
)

// Source locates and loads templates. It is invoked whenever a template references another
// one through s:extends, s:include or a component call site.
type Source interface {
	// Resolve returns the canonical identity of ref as referenced from the template
	// referrer. References are relative to the referrer's directory, absolute ("/x") or
	// namespace-qualified ("@ns/x").
	Resolve(ref, referrer string) (string, error)

	// Load returns the raw tree of the template. A missing template must be reported with
	// an error wrapping ErrTemplateNotFound.
	Load(id string) (*Document, error)

	// Exists reports whether the template exists.
	Exists(id string) bool
}

// DependencyTracker receives every template identity resolved during a compilation.
type DependencyTracker interface {
	Track(id string)
}

// Dependencies is a concurrency-safe DependencyTracker collecting a set of identities.
type Dependencies struct {
	mu  sync.Mutex
	ids map[string]struct{}
}

func (d *Dependencies) Track(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.ids == nil {
		d.ids = make(map[string]struct{})
	}
	d.ids[id] = struct{}{}
}

// List returns the tracked identities in sorted order.
func (d *Dependencies) List() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	res := make([]string, 0, len(d.ids))
	for id := range d.ids {
		res = append(res, id)
	}
	slices.Sort(res)
	return res
}

// Has reports whether id was tracked.
func (d *Dependencies) Has(id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.ids[id]
	return ok
}

// ResolveRef implements the reference rules shared by the sources of this package: the
// namespace of a "@ns/x" reference is kept as a "@ns/" prefix of the identity, absolute
// references are cleaned, relative references are joined with the referrer's directory.
func ResolveRef(ref, referrer string) (string, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return "", fmt.Errorf("empty template reference")
	}
	if strings.HasPrefix(ref, "@") {
		ns, p, ok := strings.Cut(ref[1:], "/")
		if !ok || ns == "" || p == "" {
			return "", fmt.Errorf("malformed namespaced reference %q", ref)
		}
		return "@" + ns + path.Clean("/"+p), nil
	}
	if path.IsAbs(ref) {
		return path.Clean(ref), nil
	}
	dir := "/"
	if referrer != "" {
		if strings.HasPrefix(referrer, "@") {
			// relative to a namespaced referrer stays within the namespace
			ns, p, _ := strings.Cut(referrer[1:], "/")
			return "@" + ns + path.Join(path.Dir("/"+p), ref), nil
		}
		dir = path.Dir(referrer)
	}
	return path.Join(dir, ref), nil
}

// MapSource is an in-memory Source of template sources keyed by identity.
type MapSource map[string]string

var _ Source = MapSource(nil)

func (m MapSource) Resolve(ref, referrer string) (string, error) {
	return ResolveRef(ref, referrer)
}

func (m MapSource) Load(id string) (*Document, error) {
	src, ok := m[id]
	if !ok {
		return nil, fmt.Errorf("%s: %w", id, ErrTemplateNotFound)
	}
	return ParseString(src, id)
}

func (m MapSource) Exists(id string) bool {
	_, ok := m[id]
	return ok
}

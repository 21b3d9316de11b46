package stencil

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDepStore(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "db", "deps.db")

	store, err := OpenDepStore(dbPath)
	require.NoError(t, err)

	require.NoError(t, store.Save("/index.shtml", []string{"/layout.shtml", "/components/card.shtml"}))
	require.NoError(t, store.Save("/about.shtml", []string{"/layout.shtml", "/layout.shtml"}))

	deps, err := store.Dependencies("/index.shtml")
	require.NoError(t, err)
	require.Equal(t, []string{"/components/card.shtml", "/layout.shtml"}, deps)

	dependents, err := store.Dependents("/layout.shtml")
	require.NoError(t, err)
	require.Equal(t, []string{"/about.shtml", "/index.shtml"}, dependents)

	// saving again replaces the previous set
	require.NoError(t, store.Save("/index.shtml", []string{"/base.shtml"}))
	dependents, err = store.Dependents("/layout.shtml")
	require.NoError(t, err)
	require.Equal(t, []string{"/about.shtml"}, dependents)

	require.NoError(t, store.Forget("/about.shtml"))
	dependents, err = store.Dependents("/layout.shtml")
	require.NoError(t, err)
	require.Empty(t, dependents)

	templates, err := store.Templates()
	require.NoError(t, err)
	require.Equal(t, []string{"/index.shtml"}, templates)

	require.NoError(t, store.Close())

	// the index survives reopening
	store, err = OpenDepStore(dbPath)
	require.NoError(t, err)
	defer store.Close()

	deps, err = store.Dependencies("/index.shtml")
	require.NoError(t, err)
	require.Equal(t, []string{"/base.shtml"}, deps)
}

func TestDepStore_NoDependencies(t *testing.T) {
	store, err := OpenDepStore(":memory:")
	require.NoError(t, err)
	defer store.Close()

	require.NoError(t, store.Save("/plain.shtml", nil))

	deps, err := store.Dependencies("/plain.shtml")
	require.NoError(t, err)
	require.Empty(t, deps)

	templates, err := store.Templates()
	require.NoError(t, err)
	require.Equal(t, []string{"/plain.shtml"}, templates)
}

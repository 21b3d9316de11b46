package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func testSite(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	files := map[string]string{
		"layout.shtml": `<main s:block="main">base</main>`,
		"index.shtml":  `<s:template s:extends="layout"></s:template><p s:block="main">hi ${name}</p>`,
		"broken.shtml": "<div>\n<p s:fi=\"x\">a</p>\n</div>",
		"stencil.yaml": "root: .\nlog:\n  level: error\n",
	}
	for name, content := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0644))
	}
	return dir
}

func TestRun(t *testing.T) {
	dir := testSite(t)
	config := filepath.Join(dir, "stencil.yaml")

	tests := []struct {
		name       string
		args       []string
		wantCode   int
		wantStdout string
		wantStderr string
	}{
		{
			name:       "markup",
			args:       []string{"-config", config, "compile", "-format", "markup", "index"},
			wantStdout: "<main>hi ${name}</main>\n",
		},
		{
			name:       "dump",
			args:       []string{"-config", config, "compile", "index"},
			wantStdout: "| <main>\n|   \"hi \"\n|   ${name} [html]\n",
		},
		{
			name:       "list",
			args:       []string{"-config", config, "list"},
			wantStdout: "/broken.shtml\n/index.shtml\n/layout.shtml\n",
		},
		{
			name:       "deps",
			args:       []string{"-config", config, "deps", "index"},
			wantStdout: "/layout.shtml\n",
		},
		{
			name:       "reverse deps",
			args:       []string{"-config", config, "deps", "-reverse", "layout"},
			wantStdout: "/index.shtml\n",
		},
		{
			name:       "root flag",
			args:       []string{"-root", dir, "deps", "index"},
			wantStdout: "/layout.shtml\n",
		},
		{
			name:       "unknown command",
			args:       []string{"-config", config, "render"},
			wantCode:   2,
			wantStderr: "unknown command \"render\"\n",
		},
		{
			name:       "missing template",
			args:       []string{"-config", config, "compile"},
			wantCode:   1,
			wantStderr: "compile: expected exactly one template\n",
		},
		{
			name:       "missing config",
			args:       []string{"-config", filepath.Join(dir, "nope.yaml"), "list"},
			wantCode:   1,
			wantStderr: "Failed to load config: open " + filepath.Join(dir, "nope.yaml") + ": no such file or directory\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var stdout, stderr bytes.Buffer
			code := run(tt.args, &stdout, &stderr)
			require.Equal(t, tt.wantCode, code, stderr.String())
			require.Equal(t, tt.wantStdout, stdout.String())
			require.Equal(t, tt.wantStderr, stderr.String())
		})
	}
}

func TestRun_CompileError(t *testing.T) {
	dir := testSite(t)
	config := filepath.Join(dir, "stencil.yaml")

	var stdout, stderr bytes.Buffer
	code := run([]string{"-config", config, "compile", "broken"}, &stdout, &stderr)
	require.Equal(t, 1, code)
	require.Empty(t, stdout.String())
	require.Contains(t, stderr.String(), "error: unknown directive s:fi\n")
	require.Contains(t, stderr.String(), "  --> /broken.shtml:2:4\n")
	require.Contains(t, stderr.String(), "  help: did you mean \"s:if\"?\n")
	require.Contains(t, stderr.String(), "> 2 | <p s:fi=\"x\">a</p>\n")
	require.Contains(t, stderr.String(), "    |    ^^^^\n")
}

func TestRun_CompileErrorJSON(t *testing.T) {
	dir := testSite(t)

	var stdout, stderr bytes.Buffer
	code := run([]string{"-root", dir, "compile", "-format", "json", "broken"}, &stdout, &stderr)
	require.Equal(t, 1, code)

	var views []map[string]any
	require.NoError(t, json.Unmarshal(stdout.Bytes(), &views))
	require.Len(t, views, 1)
	require.Equal(t, "classification", views[0]["kind"])
	require.Equal(t, "/broken.shtml", views[0]["template"])
}

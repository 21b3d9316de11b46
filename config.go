package stencil

import (
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is the configuration file name looked up in the working directory.
const DefaultConfigFile = "stencil.yaml"

// Config is the engine configuration as stored in a YAML file.
type Config struct {
	// Root is the directory holding the templates. Relative paths are resolved against
	// the directory of the configuration file.
	Root string `yaml:"root"`

	// Namespaces maps a namespace to a template directory for "@ns/..." references.
	Namespaces map[string]string `yaml:"namespaces"`

	Extension string `yaml:"extension"`

	// Components is the directory component templates are looked up in.
	Components string `yaml:"components"`

	Debug bool `yaml:"debug"`

	// Ignore is a list of doublestar patterns relative to Root.
	Ignore []string `yaml:"ignore"`

	Watch    bool          `yaml:"watch"`
	Debounce time.Duration `yaml:"debounce"`

	// DepDB is the path of the sqlite dependency index. The index is disabled when empty.
	DepDB string `yaml:"dep_db"`

	Log LogConfig `yaml:"log"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// DefaultConfig returns the configuration used when no file is present.
func DefaultConfig() Config {
	return Config{
		Root:       ".",
		Extension:  DefaultExt,
		Components: "/components",
		Ignore: []string{
			"**/node_modules/**",
			"**/vendor/**",
		},
		Debounce: DefaultDebounce,
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// LoadConfig reads the configuration file at path over the defaults. Relative
// directories in the file are made relative to the file's directory.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}

	base := filepath.Dir(path)
	cfg.Root = relTo(base, cfg.Root)
	for ns, dir := range cfg.Namespaces {
		cfg.Namespaces[ns] = relTo(base, dir)
	}
	if cfg.DepDB != "" && cfg.DepDB != ":memory:" {
		cfg.DepDB = relTo(base, cfg.DepDB)
	}

	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("config %s: %w", path, err)
	}

	return cfg, nil
}

func relTo(base, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(base, p)
}

func (c Config) Validate() error {
	if c.Root == "" {
		return fmt.Errorf("root is required")
	}
	if c.Extension != "" && !strings.HasPrefix(c.Extension, ".") {
		return fmt.Errorf("extension %q must start with a dot", c.Extension)
	}
	for ns := range c.Namespaces {
		if ns == "" || strings.ContainsAny(ns, "/@") {
			return fmt.Errorf("invalid namespace %q", ns)
		}
	}
	if _, err := c.Log.level(); err != nil {
		return err
	}
	if c.Log.Format != "" && c.Log.Format != "text" && c.Log.Format != "json" {
		return fmt.Errorf("unknown log format %q", c.Log.Format)
	}
	return nil
}

func (c LogConfig) level() (slog.Level, error) {
	var l slog.Level
	if c.Level == "" {
		return slog.LevelInfo, nil
	}
	if err := l.UnmarshalText([]byte(c.Level)); err != nil {
		return l, fmt.Errorf("log level: %w", err)
	}
	return l, nil
}

// NewLogger builds the logger described by the configuration writing to w.
func (c LogConfig) NewLogger(w io.Writer) *slog.Logger {
	level, _ := c.level()
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if c.Format == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler)
}

// NewEngine builds an engine over the configured directories. The dependency store is
// opened when DepDB is set and must be closed by the caller.
func (c Config) NewEngine(logger *slog.Logger) (*Engine, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}

	fi, err := os.Stat(c.Root)
	if err != nil {
		return nil, fmt.Errorf("template root: %w", err)
	}
	if !fi.IsDir() {
		return nil, fmt.Errorf("template root %s is not a directory", c.Root)
	}

	e := &Engine{
		FileSystem:   os.DirFS(c.Root),
		Ext:          c.Extension,
		ComponentDir: c.Components,
		Debug:        c.Debug,
		Ignore:       c.Ignore,
		Logger:       logger,
	}

	if len(c.Namespaces) > 0 {
		e.Namespaces = make(map[string]fs.FS, len(c.Namespaces))
		for ns, dir := range c.Namespaces {
			e.Namespaces[ns] = os.DirFS(dir)
		}
	}

	if c.DepDB != "" {
		store, err := OpenDepStore(c.DepDB)
		if err != nil {
			return nil, fmt.Errorf("open dependency store: %w", err)
		}
		e.DepStore = store
	}

	return e, nil
}

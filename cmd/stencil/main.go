// Command stencil compiles templates and serves the compiled trees for inspection.
//
// Usage:
//
//	stencil [-config stencil.yaml] compile [-blocks a,b] [-format dump|markup|json] TEMPLATE
//	stencil [-config stencil.yaml] list
//	stencil [-config stencil.yaml] deps [-reverse] TEMPLATE
//	stencil [-config stencil.yaml] serve [-addr :8080]
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/dpotapov/go-stencil"
	"github.com/dpotapov/go-stencil/shtml"
)

// errReported is returned by commands that already printed their errors.
var errReported = errors.New("errors reported")

func LoggerMiddleware(next http.Handler, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		logger.Info("HTTP request", "method", r.Method, "url", r.URL)
		next.ServeHTTP(w, r)
	})
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	fl := flag.NewFlagSet("stencil", flag.ContinueOnError)
	fl.SetOutput(stderr)
	configPath := fl.String("config", "", "configuration file (default "+stencil.DefaultConfigFile+" if present)")
	root := fl.String("root", "", "template directory, overrides the configuration")
	debug := fl.Bool("debug", false, "enable debug validation of expressions")
	if err := fl.Parse(args); err != nil {
		return 2
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(stderr, "Failed to load config: %v\n", err)
		return 1
	}
	if *root != "" {
		cfg.Root = *root
	}
	if *debug {
		cfg.Debug = true
	}

	logger := cfg.Log.NewLogger(stderr)

	if fl.NArg() == 0 {
		fl.Usage()
		return 2
	}
	cmd, cmdArgs := fl.Arg(0), fl.Args()[1:]

	e, err := cfg.NewEngine(logger)
	if err != nil {
		fmt.Fprintf(stderr, "Failed to create engine: %v\n", err)
		return 1
	}
	if e.DepStore != nil {
		defer e.DepStore.Close()
	}

	switch cmd {
	case "compile":
		err = compileCmd(e, cmdArgs, stdout, stderr)
	case "list":
		err = listCmd(e, stdout)
	case "deps":
		err = depsCmd(e, cmdArgs, stdout, stderr)
	case "serve":
		err = serveCmd(e, cfg, cmdArgs, logger, stderr)
	default:
		fmt.Fprintf(stderr, "unknown command %q\n", cmd)
		return 2
	}

	var ce *shtml.CompileError
	switch {
	case err == nil:
		return 0
	case errors.Is(err, flag.ErrHelp):
		return 2
	case errors.Is(err, errReported):
		return 1
	case errors.As(err, &ce):
		printErrors(e, err, stderr)
		return 1
	default:
		fmt.Fprintf(stderr, "%s: %v\n", cmd, err)
		return 1
	}
}

// loadConfig reads the given configuration file, or the default one from the working
// directory if it exists.
func loadConfig(path string) (stencil.Config, error) {
	if path != "" {
		return stencil.LoadConfig(path)
	}
	cfg, err := stencil.LoadConfig(stencil.DefaultConfigFile)
	if errors.Is(err, fs.ErrNotExist) {
		return stencil.DefaultConfig(), nil
	}
	return cfg, err
}

func compileCmd(e *stencil.Engine, args []string, stdout, stderr io.Writer) error {
	fl := flag.NewFlagSet("compile", flag.ContinueOnError)
	fl.SetOutput(stderr)
	blocks := fl.String("blocks", "", "comma-separated list of blocks to output")
	format := fl.String("format", "dump", "output format: dump, markup or json")
	if err := fl.Parse(args); err != nil {
		return err
	}
	if fl.NArg() != 1 {
		return fmt.Errorf("expected exactly one template")
	}

	var bl []string
	for _, b := range strings.Split(*blocks, ",") {
		if b = strings.TrimSpace(b); b != "" {
			bl = append(bl, b)
		}
	}

	res, err := e.Compile(fl.Arg(0), bl...)
	var ce *shtml.CompileError
	if *format == "json" && errors.As(err, &ce) {
		if err := jsonErrors(e, err, stdout); err != nil {
			return err
		}
		return errReported
	} else if err != nil {
		return err
	}

	switch *format {
	case "dump":
		return shtml.Dump(stdout, res.Doc)
	case "markup":
		_, err := fmt.Fprintln(stdout, shtml.Format(res.Doc))
		return err
	case "json":
		data, err := shtml.MarshalJSON(res.Doc)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(stdout, string(data))
		return err
	default:
		return fmt.Errorf("unknown format %q", *format)
	}
}

func listCmd(e *stencil.Engine, stdout io.Writer) error {
	templates, err := e.Templates()
	if err != nil {
		return err
	}
	for _, t := range templates {
		fmt.Fprintln(stdout, t)
	}
	return nil
}

func depsCmd(e *stencil.Engine, args []string, stdout, stderr io.Writer) error {
	fl := flag.NewFlagSet("deps", flag.ContinueOnError)
	fl.SetOutput(stderr)
	reverse := fl.Bool("reverse", false, "list the templates depending on TEMPLATE instead")
	if err := fl.Parse(args); err != nil {
		return err
	}
	if fl.NArg() != 1 {
		return fmt.Errorf("expected exactly one template")
	}

	id, err := e.Resolve(fl.Arg(0), "")
	if err != nil {
		return err
	}

	var list []string
	if *reverse {
		list, err = dependents(e, id)
	} else {
		var res *stencil.Result
		if res, err = e.Compile(id); err == nil {
			list = res.Dependencies
		}
	}
	if err != nil {
		return err
	}

	for _, d := range list {
		fmt.Fprintln(stdout, d)
	}
	return nil
}

// dependents compiles every template so the reverse lookup sees the current tree.
// Templates that fail to compile have no dependencies to report.
func dependents(e *stencil.Engine, id string) ([]string, error) {
	templates, err := e.Templates()
	if err != nil {
		return nil, err
	}
	for _, t := range templates {
		_, _ = e.Compile(t)
	}
	return e.Dependents(id)
}

func serveCmd(e *stencil.Engine, cfg stencil.Config, args []string, logger *slog.Logger, stderr io.Writer) error {
	fl := flag.NewFlagSet("serve", flag.ContinueOnError)
	fl.SetOutput(stderr)
	addr := fl.String("addr", ":8080", "listen address")
	if err := fl.Parse(args); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Watch {
		w, err := stencil.NewWatcher(e, cfg.Root, cfg.Debounce)
		if err != nil {
			return fmt.Errorf("watch templates: %w", err)
		}
		w.Start(ctx)
		defer w.Stop()
	}

	srv := &http.Server{
		Addr:    *addr,
		Handler: LoggerMiddleware(&stencil.Handler{Engine: e, Logger: logger}, logger),
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("Starting HTTP server", "address", *addr, "root", cfg.Root)

	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		logger.Error("HTTP server error", "error", err)
		return err
	}
	return nil
}

// printErrors writes each compile error with its source excerpt.
func printErrors(e *stencil.Engine, err error, w io.Writer) {
	for _, v := range e.ErrorViews(err) {
		fmt.Fprintf(w, "error: %s\n", v.Message)
		if v.Template != "" {
			fmt.Fprintf(w, "  --> %s:%d:%d\n", v.Template, v.Line, v.Column)
		}
		if len(v.Chain) > 0 {
			fmt.Fprintf(w, "  via %s\n", strings.Join(v.Chain, " -> "))
		}
		if v.Suggestion != "" {
			fmt.Fprintf(w, "  help: did you mean %q?\n", v.Suggestion)
		}
		if v.Source != nil {
			_, _ = v.Source.WriteTo(w)
		}
	}
}

// jsonErrors is the machine-readable error report written with -format json.
func jsonErrors(e *stencil.Engine, err error, w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(e.ErrorViews(err))
}

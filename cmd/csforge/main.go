// Command csforge is the CLI entry point: it loads a plan file, resolves
// the requested targets/projects/architectures, and drives a build (or a
// clean) via pkg/driver. Flag parsing follows the teacher's
// cmd/buckley/main.go convention of hand-rolled stdlib flag.Value types
// for repeatable flags rather than a third-party CLI framework.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/oklog/ulid/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"golang.org/x/term"

	"github.com/odvcencio/csforge/pkg/driver"
	"github.com/odvcencio/csforge/pkg/logging"
	"github.com/odvcencio/csforge/pkg/planfile"
	"github.com/odvcencio/csforge/pkg/project"
	"github.com/odvcencio/csforge/pkg/telemetry"
	"github.com/odvcencio/csforge/pkg/tool"
	"github.com/odvcencio/csforge/pkg/tool/builtin"
)

const version = "csforge 0.1.0"

// repeatedFlag collects every occurrence of a flag passed more than once,
// e.g. -t foo -t bar.
type repeatedFlag []string

func (r *repeatedFlag) String() string { return fmt.Sprint([]string(*r)) }
func (r *repeatedFlag) Set(v string) error {
	*r = append(*r, v)
	return nil
}

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	fs := flag.NewFlagSet("csforge", flag.ContinueOnError)

	var targets, projects, toolchains, architectures repeatedFlag
	fs.Var(&targets, "t", "build target (repeatable)")
	fs.Var(&targets, "target", "build target (repeatable)")
	fs.Var(&projects, "p", "project name (repeatable)")
	fs.Var(&projects, "project", "project name (repeatable)")
	fs.Var(&toolchains, "o", "toolchain name (repeatable)")
	fs.Var(&toolchains, "toolchain", "toolchain name (repeatable)")
	fs.Var(&architectures, "a", "architecture (repeatable)")
	fs.Var(&architectures, "architecture", "architecture (repeatable)")

	allTargets := fs.Bool("at", false, "build all targets")
	fs.BoolVar(allTargets, "all-targets", false, "build all targets")
	allToolchains := fs.Bool("ao", false, "use all toolchains")
	fs.BoolVar(allToolchains, "all-toolchains", false, "use all toolchains")
	allArchitectures := fs.Bool("aa", false, "build all architectures")
	fs.BoolVar(allArchitectures, "all-architectures", false, "build all architectures")

	clean := fs.Bool("c", false, "remove prior build artifacts and exit")
	fs.BoolVar(clean, "clean", false, "remove prior build artifacts and exit")
	rebuild := fs.Bool("r", false, "clean, then build (retains output directories)")
	fs.BoolVar(rebuild, "rebuild", false, "clean, then build (retains output directories)")

	jobs := fs.Int("j", runtime.NumCPU(), "number of concurrent worker goroutines")

	verbose := fs.Bool("v", false, "verbose (debug-level) logging")
	quiet := fs.Bool("q", false, "quiet (warn-level) logging")
	veryQuiet := fs.Bool("qq", false, "very quiet (error-level) logging")

	stopOnError := fs.Bool("stop-on-error", false, "abort the build on the first failure")
	showCommands := fs.Bool("show-commands", false, "accepted and ignored; no command lines are logged")
	forceColor := fs.String("force-color", "auto", "on|off|auto")
	forceProgressBar := fs.String("force-progress-bar", "", "on|off")
	perfReport := fs.String("perf-report", "", "tree|flat|html")
	showVersion := fs.Bool("version", false, "print the version and exit")

	watch := fs.Bool("watch", false, "re-run the build when a tracked input file changes")
	metricsAddr := fs.String("metrics-addr", "", "expose Prometheus metrics on this address (disabled if empty)")
	trace := fs.String("trace", "none", "stdout|none")
	config := fs.String("config", "", "plan override file, merged over the base plan")

	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "usage: csforge [flags] <planfile.yaml>\n")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return 1
	}

	if *showVersion {
		fmt.Println(version)
		return 0
	}

	color := useColor(*forceColor)
	_ = forceProgressBar
	_ = perfReport
	_ = showCommands

	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "csforge: missing plan file argument")
		fs.Usage()
		return 1
	}
	planPath := fs.Arg(0)

	plan, err := planfile.LoadWithOverride(planPath, *config)
	if err != nil {
		fmt.Fprintln(os.Stderr, "csforge:", err)
		return 1
	}

	reg := builtinRegistry()
	allProjects, err := plan.Resolve(reg)
	if err != nil {
		fmt.Fprintln(os.Stderr, "csforge:", err)
		return 1
	}

	selected := selectProjects(allProjects, projects, targets, architectures, *allTargets, *allArchitectures)
	_ = toolchains
	_ = *allToolchains
	if len(selected) == 0 {
		fmt.Fprintln(os.Stderr, "csforge: no projects matched the given selection")
		return 1
	}

	runID := ulid.Make().String()
	logDir := logDirFor(selected)
	logger, err := logging.NewLogger(logDir, runID)
	if err != nil {
		fmt.Fprintln(os.Stderr, "csforge:", err)
		return 1
	}
	defer logger.Close()
	logger.SetMinLevel(levelFrom(*verbose, *quiet, *veryQuiet))

	hub := telemetry.NewHub(256, 50)
	defer hub.Stop()

	if *metricsAddr != "" {
		unsubscribe := telemetry.NewMetrics(prometheus.DefaultRegisterer).Observer(hub)
		defer unsubscribe()
		go serveMetrics(*metricsAddr, logger)
	}

	shutdownTracing := setupTracing(*trace)
	defer shutdownTracing(context.Background())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	toolsOf, err := instantiateTools(selected)
	if err != nil {
		fmt.Fprintln(os.Stderr, "csforge:", err)
		return 1
	}

	if *clean || *rebuild {
		if err := driver.Clean(ctx, selected, *rebuild); err != nil {
			fmt.Fprintln(os.Stderr, "csforge:", err)
			return 1
		}
		if *clean {
			return 0
		}
	}

	d := driver.New(*jobs, *stopOnError, logger)
	d.Hub = hub

	failures, err := buildOnce(ctx, d, selected, toolsOf)
	if err != nil {
		fmt.Fprintln(os.Stderr, "csforge:", err)
		return 1
	}
	printSummary(len(selected), failures, color)

	if *watch {
		return runWatch(ctx, d, selected, toolsOf)
	}

	if failures > 0 {
		return failures
	}
	return 0
}

// useColor resolves the --force-color mode: "on"/"off" are literal, and
// "auto" (the default) defers to the teacher's isInteractiveTerminal
// check, asking whether stdout is itself a terminal.
func useColor(mode string) bool {
	switch mode {
	case "on":
		return true
	case "off":
		return false
	default:
		return term.IsTerminal(int(os.Stdout.Fd()))
	}
}

func colorize(s, ansiCode string, color bool) string {
	if !color {
		return s
	}
	return "\x1b[" + ansiCode + "m" + s + "\x1b[0m"
}

func printSummary(projectCount, failures int, color bool) {
	if failures > 0 {
		fmt.Println(colorize(fmt.Sprintf("build: %d project(s), %d failure(s)", projectCount, failures), "31", color))
		return
	}
	fmt.Println(colorize(fmt.Sprintf("build: %d project(s), ok", projectCount), "32", color))
}

func buildOnce(ctx context.Context, d *driver.Driver, selected []*project.Project, toolsOf map[*project.Project][]tool.Tool) (int, error) {
	tracer := otel.Tracer("csforge")
	ctx, span := tracer.Start(ctx, "build")
	defer span.End()

	res, err := d.Run(ctx, selected, toolsOf)
	if err != nil {
		return res.Failures, err
	}
	return res.Failures, nil
}

func runWatch(ctx context.Context, d *driver.Driver, selected []*project.Project, toolsOf map[*project.Project][]tool.Tool) int {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		fmt.Fprintln(os.Stderr, "csforge: watch:", err)
		return 1
	}
	defer watcher.Close()

	for _, proj := range selected {
		_ = watcher.Add(proj.WorkingDir)
	}

	debounce := time.NewTimer(0)
	if !debounce.Stop() {
		<-debounce.C
	}

	for {
		select {
		case <-ctx.Done():
			return 0
		case err := <-watcher.Errors:
			fmt.Fprintln(os.Stderr, "csforge: watch:", err)
		case ev := <-watcher.Events:
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			debounce.Reset(200 * time.Millisecond)
		case <-debounce.C:
			if _, err := buildOnce(ctx, d, selected, toolsOf); err != nil {
				fmt.Fprintln(os.Stderr, "csforge:", err)
			}
		}
	}
}

func serveMetrics(addr string, logger *logging.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(prometheus.DefaultGatherer, promhttp.HandlerOpts{}))
	if err := http.ListenAndServe(addr, mux); err != nil && logger != nil {
		logger.Warn(logging.CategoryDriver, "metrics_server_exited", "", "", err.Error(), nil)
	}
}

func setupTracing(mode string) func(context.Context) error {
	switch mode {
	case "stdout":
		exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
		if err != nil {
			otel.SetTracerProvider(otel.GetTracerProvider())
			return func(context.Context) error { return nil }
		}
		tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exporter))
		otel.SetTracerProvider(tp)
		return tp.Shutdown
	default:
		return func(context.Context) error { return nil }
	}
}

func levelFrom(verbose, quiet, veryQuiet bool) logging.Level {
	switch {
	case veryQuiet:
		return logging.LevelError
	case quiet:
		return logging.LevelWarn
	case verbose:
		return logging.LevelDebug
	default:
		return logging.LevelInfo
	}
}

func logDirFor(selected []*project.Project) string {
	if len(selected) == 0 {
		return ".csforge/logs"
	}
	return selected[0].CsbuildDir + "-logs"
}

func selectProjects(all []*project.Project, names, targets, architectures repeatedFlag, allTargets, allArchitectures bool) []*project.Project {
	nameSet := toSet(names)
	targetSet := toSet(targets)
	archSet := toSet(architectures)

	var out []*project.Project
	for _, p := range all {
		if len(nameSet) > 0 && !nameSet[p.Name] {
			continue
		}
		if !allTargets && len(targetSet) > 0 && !targetSet[p.Target] {
			continue
		}
		if !allArchitectures && len(archSet) > 0 && !archSet[p.Architecture] {
			continue
		}
		out = append(out, p)
	}
	if len(out) == 0 && len(nameSet) == 0 && len(targetSet) == 0 && len(archSet) == 0 {
		return all
	}
	return out
}

func toSet(vals repeatedFlag) map[string]bool {
	if len(vals) == 0 {
		return nil
	}
	set := make(map[string]bool, len(vals))
	for _, v := range vals {
		set[v] = true
	}
	return set
}

// builtinRegistry exposes the module's only shipped tool implementations.
// A real deployment would populate this from a plugin-loading layer; this
// module's scope ends at the scheduling core plus two illustrative tools.
func builtinRegistry() planfile.Registry {
	return planfile.Registry{
		"doubler": builtin.Doubler{}.Info(),
		"summer":  builtin.Summer{}.Info(),
	}
}

func instantiateTools(selected []*project.Project) (map[*project.Project][]tool.Tool, error) {
	out := make(map[*project.Project][]tool.Tool, len(selected))
	for _, p := range selected {
		var tools []tool.Tool
		for _, info := range p.Toolchain.GetAllTools() {
			switch info.Name {
			case "doubler":
				tools = append(tools, builtin.Doubler{})
			case "summer":
				tools = append(tools, builtin.Summer{})
			default:
				return nil, fmt.Errorf("csforge: project %q references unimplemented tool %q", p.Name, info.Name)
			}
		}
		out[p] = tools
	}
	return out, nil
}

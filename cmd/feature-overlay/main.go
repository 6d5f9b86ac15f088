package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"runtime"
	"sort"
	"strings"

	"feature-overlay/internal/config"
	"feature-overlay/internal/debug"
	"feature-overlay/internal/logger"
	"feature-overlay/internal/services"
	"feature-overlay/internal/shutdown"
)

const (
	AppName    = "feature-overlay"
	AppVersion = "1.0.0"
)

var errUsage = errors.New("usage")

// Application carries what every subcommand needs.
type Application struct {
	cfg      config.Config
	logger   logger.Logger
	debug    *debug.Coordinator
	shutdown *shutdown.Manager
	stdout   io.Writer

	processing *services.ProcessingService
}

type command struct {
	summary string
	run     func(ctx context.Context, app *Application, args []string) error
}

var commands = map[string]command{
	"process": {"run the feature overlay on one image", runProcess},
	"batch":   {"process a directory of images or the pages of a PDF", runBatch},
	"pattern": {"write a synthetic test frame", runPattern},
	"ls":      {"list the shared folder", runList},
	"add":     {"copy a file into the shared folder", runAdd},
	"rm":      {"remove a file from the shared folder", runRemove},
	"exec":    {"run a script from the shared folder (disabled by default)", runExec},
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	global := flag.NewFlagSet(AppName, flag.ContinueOnError)
	global.SetOutput(stderr)
	configPath := global.String("config", "", "path to a YAML config file")
	logLevel := global.String("log-level", "", "override the configured log level")
	global.Usage = func() { usage(global) }

	if err := global.Parse(args); err != nil {
		return 2
	}
	rest := global.Args()
	if len(rest) == 0 {
		usage(global)
		return 2
	}

	cmd, ok := commands[rest[0]]
	if !ok {
		fmt.Fprintf(stderr, "%s: unknown command %q\n", AppName, rest[0])
		usage(global)
		return 2
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(stderr, "%s: %v\n", AppName, err)
		return 1
	}
	if *logLevel != "" {
		cfg.Log.Level = *logLevel
	}

	log, err := logger.NewWithWriter(stderr, cfg.Log.Level, cfg.Log.JSON)
	if err != nil {
		fmt.Fprintf(stderr, "%s: %v\n", AppName, err)
		return 1
	}

	app := newApplication(cfg, log, stdout)
	app.shutdown.Listen()
	defer app.shutdown.Shutdown()

	log.Debug("Main", "starting", map[string]interface{}{
		"version":    AppVersion,
		"command":    rest[0],
		"go_version": runtime.Version(),
		"num_cpu":    runtime.NumCPU(),
	})

	if err := cmd.run(app.shutdown.Context(), app, rest[1:]); err != nil {
		if errors.Is(err, errUsage) || errors.Is(err, flag.ErrHelp) {
			return 2
		}
		log.Error("Main", err, map[string]interface{}{"command": rest[0]})
		fmt.Fprintf(stderr, "%s %s: %v\n", AppName, rest[0], err)
		return 1
	}
	return 0
}

func newApplication(cfg config.Config, log logger.Logger, stdout io.Writer) *Application {
	app := &Application{
		cfg:      cfg,
		logger:   log,
		shutdown: shutdown.NewManager(log),
		stdout:   stdout,
		debug: debug.NewCoordinator(debug.Config{
			TrackMats:    cfg.Debug.TrackMats,
			StackTraces:  cfg.Debug.StackTraces,
			TimingWindow: cfg.Debug.TimingWindow,
		}, log),
	}
	app.shutdown.Register(app.debug)
	return app
}

// Processing builds the processing service on first use.
func (app *Application) Processing() (*services.ProcessingService, error) {
	if app.processing != nil {
		return app.processing, nil
	}

	ps, err := services.NewProcessingService(services.ProcessingConfig{
		Height:        app.cfg.Frame.Height,
		Width:         app.cfg.Frame.Width,
		InitialTarget: app.cfg.Features.TargetCount,
		Options:       app.cfg.FilterOptions(),
		TimingWindow:  app.cfg.Debug.TimingWindow,
		PoolSize:      app.cfg.Debug.PoolSize,
		MemoryTracker: app.debug.MatTracker(),
		Logger:        app.logger,
	})
	if err != nil {
		return nil, err
	}

	app.shutdown.Register(ps)
	app.processing = ps
	return ps, nil
}

func (app *Application) printf(format string, args ...interface{}) {
	fmt.Fprintf(app.stdout, format, args...)
}

func usage(fs *flag.FlagSet) {
	out := fs.Output()
	fmt.Fprintf(out, "Usage: %s [-config file] <command> [flags]\n\nCommands:\n", AppName)

	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(out, "  %-8s %s\n", name, commands[name].summary)
	}

	fmt.Fprintf(out, "\nGlobal flags:\n")
	fs.PrintDefaults()
	fmt.Fprintf(out, "\nEnvironment: %s\n", strings.Join([]string{
		config.EnvPrefix + "LOG_LEVEL",
		config.EnvPrefix + "JSON_LOGS",
		config.EnvPrefix + "SHARED_DIR",
		config.EnvPrefix + "ALLOW_EXEC",
		config.EnvPrefix + "TRACK_MATS",
		config.EnvPrefix + "FEATURES",
	}, ", "))
}

package commands

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"os"
	"os/signal"
	"sync"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sys/unix"

	"miren.dev/studio/assets"
	"miren.dev/studio/assets/builtin"
	"miren.dev/studio/assets/bundle"
	"miren.dev/studio/assets/library"
	"miren.dev/studio/assets/project"
	"miren.dev/studio/pkg/studioconfig"
)

type GlobalFlags struct {
	Verbose []bool `short:"v" long:"verbose" description:"Enable verbose output"`
	Config  string `long:"config" description:"Path to configuration file" type:"path"`
	Project string `short:"P" long:"project" description:"Project directory" type:"path"`
	Options string `long:"options" description:"Read command options from a TOML file" type:"path"`
}

type Context struct {
	context.Context

	verbose int
	Log     *slog.Logger

	Stdout io.Writer
	Stderr io.Writer

	Config  *studioconfig.SourcedConfig
	Metrics *prometheus.Registry

	cancels []func()
	closers []io.Closer

	mu         sync.Mutex
	unresolved map[uuid.UUID]error

	exitCode int
}

func setup(ctx context.Context, flags *GlobalFlags) (*Context, error) {
	s := &Context{
		verbose: len(flags.Verbose),
		Stdout:  os.Stdout,
		Stderr:  os.Stderr,
		Metrics: prometheus.NewRegistry(),
	}

	cliFlags := &studioconfig.CLIFlags{
		ProjectPath: flags.Project,
		SetFlags:    map[string]bool{"project": flags.Project != ""},
	}

	// Config loading logs at debug, which is only visible with -vv.
	bootLevel := slog.LevelWarn
	if s.verbose > 1 {
		bootLevel = slog.LevelDebug
	}

	cfg, err := studioconfig.Load(flags.Config, cliFlags, slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: bootLevel,
	})))
	if err != nil {
		return nil, err
	}

	s.Config = cfg

	level, err := cfg.Config.Log.SlogLevel()
	if err != nil {
		return nil, err
	}

	level -= slog.Level(4 * s.verbose)
	if level < slog.LevelDebug {
		level = slog.LevelDebug
	}

	dynLevel := new(slog.LevelVar)
	dynLevel.Set(level)

	hopts := &slog.HandlerOptions{Level: dynLevel}

	if cfg.Config.Log.Format == "json" {
		s.Log = slog.New(slog.NewJSONHandler(os.Stderr, hopts))
	} else {
		s.Log = slog.New(slog.NewTextHandler(os.Stderr, hopts))
	}

	sigCh := make(chan os.Signal, 1)

	signal.Notify(sigCh, os.Interrupt, unix.SIGQUIT, unix.SIGTERM,
		unix.SIGTTIN, unix.SIGTTOU,
	)

	ctx, cancel := context.WithCancel(ctx)
	s.cancels = append(s.cancels, cancel)

	sigCtx, sigCancel := context.WithCancel(ctx)
	s.cancels = append(s.cancels, sigCancel)

	go func() {
		defer signal.Stop(sigCh)

		var shutdownRequests int
		for {
			select {
			case <-sigCtx.Done():
				return
			case sig := <-sigCh:
				var target slog.Level

				switch sig {
				case unix.SIGTTIN:
					target = dynLevel.Level() - 4
				case unix.SIGTTOU:
					target = dynLevel.Level() + 4
				case os.Interrupt, unix.SIGQUIT, unix.SIGTERM:
					shutdownRequests++
					switch shutdownRequests {
					case 1:
						s.Log.InfoContext(sigCtx, "Signal received, shutting down")
						cancel()
					case 2:
						s.Log.InfoContext(sigCtx, "Shutdown urgency detected, exitting")
						os.Exit(130)
					}

					continue
				}

				if target < slog.LevelDebug || target > slog.LevelError {
					continue
				}

				if dynLevel.Level() == target {
					continue
				}

				dynLevel.Set(target)

				s.Log.ErrorContext(sigCtx, "Log leveling changed", "level", target)
			}
		}
	}()

	s.Log.DebugContext(ctx, "Configured logging", "level", level, "format", cfg.Config.Log.Format)
	s.Log.DebugContext(ctx, "Dynamic leveling enabled via signals", "more-logging", "SIGTTIN", "less-logging", "SIGTTOU")

	s.Context = ctx
	return s, nil
}

func (c *Context) Close() error {
	for _, cancel := range c.cancels {
		cancel()
	}

	var err error
	for i := len(c.closers) - 1; i >= 0; i-- {
		if cerr := c.closers[i].Close(); cerr != nil && err == nil {
			err = cerr
		}
	}

	return err
}

func (c *Context) SetExitCode(code int) {
	c.exitCode = code
}

func (c *Context) Printf(format string, args ...interface{}) {
	fmt.Fprintf(c.Stdout, format, args...)
}

// Registry returns the asset types every command knows about.
func (c *Context) Registry() (*assets.Registry, error) {
	reg, err := builtin.NewRegistry()
	if err != nil {
		return nil, err
	}

	if _, err := bundle.RegisterConfig(reg); err != nil {
		return nil, err
	}

	return reg, nil
}

// OpenProject opens the configured project directory.
func (c *Context) OpenProject() (*project.Project, error) {
	cfg := &c.Config.Config.Project

	opts := []project.Option{
		project.WithDebounce(cfg.Debounce()),
	}
	for _, ext := range cfg.ShaderExts {
		opts = append(opts, project.WithExtension(ext, builtin.ShaderSourceID))
	}

	return project.Open(c.Log, cfg.Path, opts...)
}

// OpenLibrary opens the configured library. It is closed along with the
// context.
func (c *Context) OpenLibrary() (*library.Library, error) {
	lib, err := library.Open(c.Log, c.Config.Config.Library.Path)
	if err != nil {
		return nil, err
	}

	c.closers = append(c.closers, lib)
	return lib, nil
}

// Loader builds a loader over sources, consulted in order, with the cache
// settings from the config.
func (c *Context) Loader(sources ...assets.Source) (*assets.Loader, error) {
	reg, err := c.Registry()
	if err != nil {
		return nil, err
	}

	cfg := &c.Config.Config.Cache

	cache, err := assets.NewCache(reg,
		assets.RetainRecent(cfg.RetainRecent),
		assets.CacheMetrics(c.Metrics),
		assets.CacheLog(c.Log),
	)
	if err != nil {
		return nil, err
	}

	opts := []assets.LoaderOption{
		assets.WithCache(cache),
		assets.WithLog(c.Log),
		assets.WithConcurrency(cfg.Concurrency),
		assets.WithErrorReporter(c.recordUnresolved),
	}
	for _, s := range sources {
		opts = append(opts, assets.WithSource(s))
	}

	return assets.NewLoader(reg, opts...)
}

func (c *Context) recordUnresolved(id uuid.UUID, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.unresolved == nil {
		c.unresolved = make(map[uuid.UUID]error)
	}
	c.unresolved[id] = err
}

// Unresolved returns the references that could not be loaded by the
// loaders of this context, keyed by the uuid of the missing asset.
func (c *Context) Unresolved() map[uuid.UUID]error {
	c.mu.Lock()
	defer c.mu.Unlock()

	return maps.Clone(c.unresolved)
}

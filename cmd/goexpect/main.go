// goexpect drives an interactive program, socket or SSH session from
// expect scripts and can hand it over to the terminal.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	flag "github.com/spf13/pflag"

	"github.com/acolita/goexpect/internal/adapters/realclock"
	"github.com/acolita/goexpect/internal/adapters/realfs"
	"github.com/acolita/goexpect/internal/config"
	"github.com/acolita/goexpect/internal/console"
	"github.com/acolita/goexpect/internal/logging"
	"github.com/acolita/goexpect/internal/recording"
	"github.com/acolita/goexpect/internal/script"
	"github.com/acolita/goexpect/internal/session"
)

// Version information - set at build time.
var (
	Version   = "0.1.0"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// cliOptions holds parsed command line flags.
type cliOptions struct {
	configPath  string
	timeout     string
	scripts     []string
	tcp         string
	ssh         string
	pty         bool
	interact    bool
	debug       bool
	showVersion bool
	command     []string
}

func parseArgs(args []string) (*cliOptions, error) {
	opts := &cliOptions{}
	fs := flag.NewFlagSet("goexpect", flag.ContinueOnError)
	fs.SetInterspersed(false)

	fs.StringVarP(&opts.configPath, "config", "c", "", "Path to configuration file")
	fs.StringVarP(&opts.timeout, "timeout", "t", "", `Default expect timeout ("30s", "10", "forever")`)
	fs.StringArrayVarP(&opts.scripts, "script", "s", nil, "Expect script file or glob (repeatable)")
	fs.StringVar(&opts.tcp, "tcp", "", "Connect to host:port instead of running a command")
	fs.StringVar(&opts.ssh, "ssh", "", "Connect to user@host[:port] over SSH")
	fs.BoolVar(&opts.pty, "pty", false, "Run the command on a pseudo-terminal")
	fs.BoolVarP(&opts.interact, "interact", "i", false, "Hand the session to the terminal after the scripts")
	fs.BoolVar(&opts.debug, "debug", false, "Enable debug logging")
	fs.BoolVar(&opts.showVersion, "version", false, "Show version information")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: goexpect [flags] [--] [command [args...]]\n\n")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	opts.command = fs.Args()

	if opts.showVersion {
		return opts, nil
	}

	switch {
	case opts.tcp != "" && opts.ssh != "":
		return nil, errors.New("--tcp and --ssh are mutually exclusive")
	case opts.tcp != "" && (len(opts.command) > 0 || opts.pty):
		return nil, errors.New("--tcp takes neither a command nor --pty")
	case opts.tcp == "" && opts.ssh == "" && len(opts.command) == 0 && !opts.pty:
		return nil, errors.New("nothing to run: give a command, --pty, --tcp or --ssh")
	}
	return opts, nil
}

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	opts, err := parseArgs(args)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 2
	}

	if opts.showVersion {
		fmt.Printf("goexpect version %s\n", Version)
		fmt.Printf("  Build time: %s\n", BuildTime)
		fmt.Printf("  Git commit: %s\n", GitCommit)
		return 0
	}

	configPath := opts.configPath
	if configPath == "" {
		configPath = config.DefaultConfigPath()
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		return 1
	}
	if err := applyOverrides(cfg, opts); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 2
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		return 1
	}

	logging.Setup(cfg.Logging.Level, cfg.Logging.Sanitize)

	scripts, err := loadScripts(opts.scripts)
	if err != nil {
		slog.Error("failed to load scripts", slog.String("error", err.Error()))
		return 1
	}

	fsys := realfs.New()
	term := console.Std()
	factory, err := buildFactory(opts, cfg, fsys, term)
	if err != nil {
		slog.Error("invalid target", slog.String("error", err.Error()))
		return 1
	}

	sopts := session.Options{
		DefaultTimeout: cfg.DefaultTimeout.Duration(),
		PollInterval:   cfg.PollInterval,
		Console:        term.Streams(),
		Logger:         slog.Default(),
	}
	if cfg.Echo {
		sopts.StdoutEcho = os.Stdout
		sopts.StderrEcho = os.Stderr
	}
	if cfg.Recording.Enabled {
		cols, rows, _ := term.Size()
		rec, err := recording.New(recording.Options{
			Dir:    config.ExpandHome(cfg.Recording.Path, fsys),
			Name:   "goexpect",
			Title:  targetName(opts),
			Width:  cols,
			Height: rows,
		}, fsys, realclock.New())
		if err != nil {
			slog.Error("failed to start recording", slog.String("error", err.Error()))
			return 1
		}
		slog.Info("recording session", slog.String("path", rec.Path()))
		sopts.Recorder = rec
	}

	sess, err := session.New(factory, sopts)
	if err != nil {
		if sopts.Recorder != nil {
			_ = sopts.Recorder.Close()
		}
		slog.Error("failed to start session",
			slog.String("target", targetName(opts)),
			slog.String("error", err.Error()),
		)
		return 1
	}
	defer sess.Stop()

	watcher := watchConfig(configPath, opts, sess)
	if watcher != nil {
		defer watcher.Close()
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		_ = sess.Stop()
	}()

	runner := script.NewRunner()
	for _, s := range scripts {
		if _, err := runner.Run(ctx, s, sess); err != nil {
			slog.Error("script failed",
				slog.String("script", s.Name),
				slog.String("error", err.Error()),
			)
			return 1
		}
	}

	if opts.interact || len(scripts) == 0 || usesInteract(scripts) {
		if err := interact(sess, term); err != nil {
			slog.Error("interactive mode failed", slog.String("error", err.Error()))
			return 1
		}
	}

	code, err := sess.ExitValue()
	if err != nil {
		return 0
	}
	return code
}

func usesInteract(scripts []*script.Script) bool {
	for _, s := range scripts {
		for _, step := range s.Steps {
			if step.Kind == script.KindInteract {
				return true
			}
		}
	}
	return false
}

// applyOverrides applies command line flags on top of the file configuration.
func applyOverrides(cfg *config.Config, opts *cliOptions) error {
	if opts.timeout != "" {
		t, err := config.ParseTimeout(opts.timeout)
		if err != nil {
			return fmt.Errorf("--timeout: %w", err)
		}
		cfg.DefaultTimeout = t
	}
	if opts.debug {
		cfg.Logging.Level = "debug"
	}
	return nil
}

func loadScripts(patterns []string) ([]*script.Script, error) {
	var all []*script.Script
	for _, p := range patterns {
		scripts, err := script.LoadGlob(p)
		if err != nil {
			return nil, err
		}
		all = append(all, scripts...)
	}
	return all, nil
}

// watchConfig applies reloaded timeouts and log levels to the live session.
func watchConfig(path string, opts *cliOptions, sess *session.Session) *config.Watcher {
	if _, err := os.Stat(path); err != nil {
		return nil
	}
	w, err := config.NewWatcher(path, func(newCfg *config.Config) {
		if err := applyReload(newCfg, opts, sess); err != nil {
			slog.Warn("reloaded config rejected", slog.String("error", err.Error()))
		}
	})
	if err != nil {
		slog.Warn("config hot-reload disabled", slog.String("error", err.Error()))
		return nil
	}
	slog.Debug("config hot-reload enabled", slog.String("path", path))
	return w
}

type timeoutSetter interface {
	SetDefaultTimeout(d time.Duration) error
}

// applyReload applies a reloaded configuration to the live session.
func applyReload(newCfg *config.Config, opts *cliOptions, sess timeoutSetter) error {
	if err := applyOverrides(newCfg, opts); err != nil {
		return err
	}
	logging.SetLevel(newCfg.Logging.Level)
	if err := sess.SetDefaultTimeout(newCfg.DefaultTimeout.Duration()); err != nil {
		return fmt.Errorf("default timeout: %w", err)
	}
	return nil
}

// interact hands the session to the terminal until the subordinate exits.
func interact(sess *session.Session, term *console.Terminal) error {
	restore, err := term.MakeRaw()
	if err != nil {
		return err
	}
	defer restore()

	// A script may already have started interactive mode.
	if err := sess.Interact(); err != nil && !errors.Is(err, session.ErrAlreadyInteractive) {
		return err
	}

	winch := make(chan os.Signal, 1)
	stopNotify := notifyResize(winch)
	done := make(chan struct{})
	defer func() {
		stopNotify()
		close(done)
	}()
	syncSize(sess, term)
	go func() {
		for {
			select {
			case <-done:
				return
			case <-winch:
				syncSize(sess, term)
			}
		}
	}()

	return sess.ExpectCloseTimeout(session.Forever)
}

// sizer is the part of a session that accepts window sizes.
type sizer interface {
	Resize(rows, cols uint16) error
}

// syncSize copies the terminal's size to the subordinate, if it has one.
func syncSize(s sizer, term interface{ Size() (int, int, error) }) {
	cols, rows, err := term.Size()
	if err != nil {
		return
	}
	if err := s.Resize(uint16(rows), uint16(cols)); err != nil && !errors.Is(err, session.ErrUnsupported) {
		slog.Debug("resize failed", slog.String("error", err.Error()))
	}
}

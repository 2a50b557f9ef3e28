// apiconform verifies that a REST API honors its behavioral contract.
//
// Usage:
//
//	apiconform run [--only glob] [--parallel N] [--format text|json|junit]
//	apiconform test [paths or globs...]
//	apiconform list
//	apiconform twin [--port 8000] [--latency d] [--seed file]
//	apiconform version
//
// The exit code is 0 when every scenario passed, 1 when any failed and 2
// on command or configuration errors.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"github.com/wondertwin-ai/apiconform/internal/config"
)

// version is set at build time via -ldflags "-X main.version=..."
var version = "dev"

// Exit codes.
const (
	exitOK     = 0
	exitFailed = 1
	exitUsage  = 2
)

// ExitError carries a process exit code out of a command.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("exit status %d", e.Code)
	}
	return e.Err.Error()
}

func (e *ExitError) Unwrap() error { return e.Err }

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := execute(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// execute runs the CLI and maps its error to an exit code.
func execute(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	root := newRootCmd(stdout, stderr)
	root.SetArgs(args)
	err := root.ExecuteContext(ctx)
	if err == nil {
		return exitOK
	}

	var ee *ExitError
	if errors.As(err, &ee) {
		if ee.Err != nil {
			fmt.Fprintf(stderr, "apiconform: %v\n", ee.Err)
		}
		return ee.Code
	}
	fmt.Fprintf(stderr, "apiconform: %v\n", err)
	return exitUsage
}

// app is the state shared by the subcommands.
type app struct {
	stdout, stderr io.Writer

	configFile string
	envFile    string

	cfg    *config.Config
	logger *slog.Logger
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	a := &app{stdout: stdout, stderr: stderr, logger: slog.New(slog.DiscardHandler)}

	root := &cobra.Command{
		Use:           "apiconform",
		Short:         "Black-box conformance tests for REST APIs",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(stdout)
	root.SetErr(stderr)

	pf := root.PersistentFlags()
	pf.SortFlags = false
	pf.StringVarP(&a.configFile, "config", "c", "", "config file (default ./apiconform.yaml when present)")
	pf.StringVar(&a.envFile, "env-file", "", "dotenv file (default ./.env when present)")
	config.RegisterFlags(pf)

	root.AddCommand(
		a.newRunCmd(),
		a.newTestCmd(),
		a.newListCmd(),
		a.newTwinCmd(),
		a.newVersionCmd(),
	)
	return root
}

// setup loads the configuration and installs the logger. Failures are
// usage errors.
func (a *app) setup(cmd *cobra.Command) error {
	cfg, err := config.Load(config.Options{
		ConfigFile: a.configFile,
		EnvFile:    a.envFile,
		Flags:      cmd.Flags(),
	})
	if err != nil {
		return &ExitError{Code: exitUsage, Err: err}
	}
	level, _ := cfg.SlogLevel()
	a.cfg = cfg
	a.logger = newLogger(a.stderr, level)
	slog.SetDefault(a.logger)
	if cfg.File != "" {
		a.logger.Debug("config loaded", "file", cfg.File)
	}
	return nil
}

func newLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(tint.NewHandler(w, &tint.Options{
		Level:      level,
		TimeFormat: time.TimeOnly,
		NoColor:    !isTerminal(w),
	}))
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

func (a *app) newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(a.stdout, "apiconform version %s\n", version)
		},
	}
}

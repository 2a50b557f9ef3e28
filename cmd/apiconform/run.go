package main

import (
	"fmt"
	"io"
	"slices"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/wondertwin-ai/apiconform/internal/auth"
	"github.com/wondertwin-ai/apiconform/internal/client"
	"github.com/wondertwin-ai/apiconform/internal/conformance"
	"github.com/wondertwin-ai/apiconform/internal/report"
	"github.com/wondertwin-ai/apiconform/internal/scenario"
)

var formats = []string{"text", "json", "junit"}

func checkFormat(format string) error {
	if !slices.Contains(formats, format) {
		return &ExitError{Code: exitUsage, Err: fmt.Errorf("unknown format %q (want text, json or junit)", format)}
	}
	return nil
}

func (a *app) newClient() (*client.Client, error) {
	c, err := client.New(a.cfg.BaseURL, client.WithTimeout(a.cfg.Timeout), client.WithLogger(a.logger))
	if err != nil {
		return nil, &ExitError{Code: exitUsage, Err: err}
	}
	return c, nil
}

func (a *app) credentials() auth.Credentials {
	return auth.Credentials{Email: a.cfg.Email, Password: a.cfg.Password}
}

// render writes rep in format and turns failures into exit code 1.
func (a *app) render(rep report.Report, format, suite string) error {
	var err error
	switch format {
	case "json":
		err = report.WriteJSON(a.stdout, rep)
	case "junit":
		err = report.WriteJUnit(a.stdout, rep, suite)
	default:
		err = report.WriteText(a.stdout, rep, isTerminal(a.stdout))
	}
	if err != nil {
		return fmt.Errorf("writing report: %w", err)
	}
	if code := rep.ExitCode(); code != exitOK {
		return &ExitError{Code: code}
	}
	return nil
}

func (a *app) newRunCmd() *cobra.Command {
	var (
		only     []string
		parallel int
		format   string
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the built-in conformance suite",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := checkFormat(format); err != nil {
				return err
			}
			if err := a.setup(cmd); err != nil {
				return err
			}
			scenarios, err := conformance.Select(only)
			if err != nil {
				return &ExitError{Code: exitUsage, Err: err}
			}
			ct, err := a.cfg.Contract()
			if err != nil {
				return &ExitError{Code: exitUsage, Err: err}
			}
			c, err := a.newClient()
			if err != nil {
				return err
			}

			env := conformance.NewEnv(c, ct, a.credentials(), conformance.Options{
				PageLimit:    a.cfg.PageLimit,
				MaxPages:     a.cfg.MaxPages,
				FixtureCount: a.cfg.FixtureCount,
				Concurrency:  a.cfg.Concurrency,
				LatencyBound: a.cfg.LatencyBound,
			}, a.logger)
			a.logger.Info("running suite", "base_url", a.cfg.BaseURL, "scenarios", len(scenarios), "parallel", parallel)
			rep := conformance.Run(cmd.Context(), env, scenarios, parallel)
			return a.render(rep, format, "apiconform")
		},
	}
	f := cmd.Flags()
	f.StringSliceVar(&only, "only", nil, "run only scenarios matching these globs (e.g. 'tasks/*')")
	f.IntVar(&parallel, "parallel", 1, "scenarios to run at once")
	f.StringVar(&format, "format", "text", "report format: text, json or junit")
	return cmd
}

func (a *app) newTestCmd() *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "test [paths or globs...]",
		Short: "Run declarative scenario files (JSON or YAML)",
		Long: "Run declarative scenario files. Arguments may be files, directories " +
			"(searched recursively) or doublestar globs. The default is ./scenarios.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := checkFormat(format); err != nil {
				return err
			}
			if err := a.setup(cmd); err != nil {
				return err
			}
			if len(args) == 0 {
				args = []string{"scenarios"}
			}
			scenarios, err := scenario.LoadAll(args)
			if err != nil {
				return &ExitError{Code: exitUsage, Err: err}
			}
			ct, err := a.cfg.Contract()
			if err != nil {
				return &ExitError{Code: exitUsage, Err: err}
			}
			c, err := a.newClient()
			if err != nil {
				return err
			}

			runner, err := scenario.NewRunner(c, auth.NewProvider(c, ct.Auth, a.logger), a.credentials(),
				scenario.WithAdminURL(a.cfg.AdminURL), scenario.WithLogger(a.logger))
			if err != nil {
				return err
			}
			rec := report.NewRecorder()
			for _, s := range scenarios {
				res := runner.Run(cmd.Context(), s)
				rec.RecordTimed(s.Name, res.Outcome(), res.Duration)
			}
			return a.render(rec.Summarize(), format, "apiconform scenarios")
		},
	}
	cmd.Flags().StringVar(&format, "format", "text", "report format: text, json or junit")
	return cmd
}

func (a *app) newListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List the built-in scenarios",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			return writeCatalog(a.stdout)
		},
	}
}

func writeCatalog(w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for _, s := range conformance.Catalog() {
		fmt.Fprintf(tw, "%s\t%s\n", s.Name, s.Description)
	}
	return tw.Flush()
}

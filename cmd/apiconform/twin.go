package main

import (
	"log/slog"
	"time"

	"github.com/spf13/cobra"
	"github.com/wondertwin-ai/apiconform/internal/twin"
	"github.com/wondertwin-ai/apiconform/pkg/twincore"
)

func (a *app) newTwinCmd() *cobra.Command {
	var (
		port     int
		latency  time.Duration
		failRate float64
		seed     string
		verbose  bool
	)
	cmd := &cobra.Command{
		Use:   "twin",
		Short: "Serve the in-memory reference backend at /api/v1",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			level := slog.LevelInfo
			if verbose {
				level = slog.LevelDebug
			}
			logger := slog.New(slog.NewJSONHandler(a.stderr, &slog.HandlerOptions{Level: level}))

			b, err := twin.New(twin.Options{
				Config: &twincore.Config{
					Name:     "apiconform-twin",
					Port:     port,
					Latency:  latency,
					FailRate: failRate,
					SeedFile: seed,
					Verbose:  verbose,
				},
				Logger: logger,
			})
			if err != nil {
				return &ExitError{Code: exitUsage, Err: err}
			}
			return b.Serve(cmd.Context())
		},
	}
	f := cmd.Flags()
	f.IntVar(&port, "port", twin.DefaultPort, "port to listen on")
	f.DurationVar(&latency, "latency", 0, "simulated latency per request")
	f.Float64Var(&failRate, "fail-rate", 0, "fraction of requests answered with a 500")
	f.StringVar(&seed, "seed", "", "JSON state file loaded at startup and on reset")
	f.BoolVar(&verbose, "verbose", false, "log every request")
	return cmd
}

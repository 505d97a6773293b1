// Package cmd wires configuration, transport, search and reporting into
// the linkprobe command line.
package cmd

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"linkprobe/internal/config"
	"linkprobe/internal/errors"
	"linkprobe/internal/logging"
	"linkprobe/internal/payload"
	"linkprobe/internal/progress"
	"linkprobe/internal/report"
	"linkprobe/internal/search"
	"linkprobe/internal/transport"
	"linkprobe/internal/trial"
)

// Exit codes
const (
	ExitOK          = 0
	ExitFailure     = 1 // configuration fault or endpoint that could not be opened
	ExitBelowTarget = 2 // --require was not met
	ExitInterrupted = 130
)

// ExitError carries the process exit code out of a command
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

func (e *ExitError) Unwrap() error {
	return e.Err
}

func exitWith(code int, err error) error {
	return &ExitError{Code: code, Err: err}
}

// NewRootCmd builds the linkprobe command with its own flag state
func NewRootCmd() *cobra.Command {
	cfg := config.Default()
	var profile string

	root := &cobra.Command{
		Use:   "linkprobe [port-a port-b]",
		Short: "Find the largest payload a bidirectional serial link carries intact",
		Long: `linkprobe sends random printable payloads across a link in both directions
at once, doubling the size after every fully successful trial until a trial
fails or the maximum size is reached.

Endpoints are serial devices (/dev/ttyUSB0, COM3), TCP serial bridges
(tcp://host:port) or simulated links (sim://bench/a, sim://bench/b).`,
		Example: `  linkprobe /dev/ttyUSB0 /dev/ttyUSB1 --baud 57600
  linkprobe --port-a tcp://10.0.0.5:4001 --port-b /dev/ttyS1 --require 4096
  linkprobe sim://bench/a?capacity=256 sim://bench/b?capacity=256 -o json`,
		Args:          endpointArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := applyProfile(cmd.Flags(), profile, cfg); err != nil {
				return exitWith(ExitFailure, err)
			}
			if len(args) == 2 {
				if !cmd.Flags().Changed("port-a") {
					cfg.PortA = args[0]
				}
				if !cmd.Flags().Changed("port-b") {
					cfg.PortB = args[1]
				}
			}
			return run(cmd.Context(), cmd.OutOrStdout(), cmd.ErrOrStderr(), cfg)
		},
	}

	f := root.Flags()
	f.StringVar(&profile, "config", "", "YAML profile; flags given on the command line override it")
	f.StringVar(&cfg.PortA, "port-a", cfg.PortA, "endpoint A")
	f.StringVar(&cfg.PortB, "port-b", cfg.PortB, "endpoint B")
	f.IntVarP(&cfg.BaudRate, "baud", "b", cfg.BaudRate, "baud rate applied to both endpoints")
	f.IntVar(&cfg.DataBits, "data-bits", cfg.DataBits, "data bits per character (5-8)")
	f.StringVar(&cfg.Parity, "parity", cfg.Parity, "parity: none, odd, even, mark, space")
	f.Float64Var(&cfg.StopBits, "stop-bits", cfg.StopBits, "stop bits: 1, 1.5 or 2")
	f.DurationVar(&cfg.ReadTimeout, "read-timeout", cfg.ReadTimeout, "poll window of a single read")
	f.DurationVar(&cfg.WriteTimeout, "write-timeout", cfg.WriteTimeout, "deadline of a single write on tcp:// endpoints (default: --timeout); serial writes are bounded by --write-chunk")
	f.IntVar(&cfg.StartSize, "start-size", cfg.StartSize, "first payload size in bytes")
	f.IntVar(&cfg.MaxSize, "max-size", cfg.MaxSize, "largest payload size to try")
	f.Float64Var(&cfg.Factor, "factor", cfg.Factor, "growth factor between trials (> 1)")
	f.DurationVarP(&cfg.Timeout, "timeout", "t", cfg.Timeout, "time allowed for one trial")
	f.DurationVar(&cfg.Grace, "grace", cfg.Grace, "time allowed for workers to stop after a trial")
	f.DurationVar(&cfg.PollInterval, "poll", cfg.PollInterval, "completion check interval")
	f.IntVar(&cfg.WriteChunk, "write-chunk", cfg.WriteChunk, "bytes per write call")
	f.Uint64Var(&cfg.Seed, "seed", cfg.Seed, "payload seed for reproducible runs (0 = random)")
	f.IntVar(&cfg.Require, "require", cfg.Require, "exit with status 2 when the max reliable size is below this")
	f.StringVarP(&cfg.OutputFormat, "output", "o", cfg.OutputFormat, "output format: text, json, yaml")
	f.BoolVar(&cfg.ShowProgress, "progress", cfg.ShowProgress, "draw a live progress bar during trials")
	f.StringVar(&cfg.LogDir, "log-dir", cfg.LogDir, "directory for log files (empty: console only)")
	f.BoolVarP(&cfg.Verbose, "verbose", "v", cfg.Verbose, "enable debug logging")
	f.BoolVar(&cfg.ListPorts, "list-ports", cfg.ListPorts, "list serial ports and exit")

	return root
}

func endpointArgs(cmd *cobra.Command, args []string) error {
	if len(args) != 0 && len(args) != 2 {
		return exitWith(ExitFailure, errors.NewValidationError("args", args, "expected either no endpoints or both port-a and port-b"))
	}
	return nil
}

// applyProfile loads the YAML profile into cfg, then re-applies every flag
// set on the command line so that flags win over the file.
func applyProfile(flags *pflag.FlagSet, path string, cfg *config.Config) error {
	if path == "" {
		return nil
	}

	// Flag values point into cfg, so capture them before the file overwrites it
	given := map[*pflag.Flag]string{}
	flags.Visit(func(f *pflag.Flag) {
		if f.Name != "config" {
			given[f] = f.Value.String()
		}
	})

	if err := config.LoadFile(path, cfg); err != nil {
		return err
	}

	for f, v := range given {
		if err := f.Value.Set(v); err != nil {
			return errors.NewValidationError(f.Name, v, err.Error())
		}
	}
	return nil
}

func run(ctx context.Context, stdout, stderr io.Writer, cfg *config.Config) error {
	if err := cfg.Validate(); err != nil {
		return exitWith(ExitFailure, err)
	}
	if err := logging.SetupLogger(stderr, cfg.LogDir, cfg.Verbose); err != nil {
		return exitWith(ExitFailure, err)
	}

	settings := cfg.TransportSettings()
	rep := report.New(stdout, report.Options{
		Format:    cfg.OutputFormat,
		EndpointA: cfg.PortA,
		EndpointB: cfg.PortB,
		Settings:  settings,
	})

	if cfg.ListPorts {
		ports, err := transport.ListPorts()
		if err != nil {
			logging.LogError(err, "list_ports")
			return exitWith(ExitFailure, err)
		}
		return rep.Ports(ports)
	}

	logging.LogConfig(cfg)

	a, b, err := transport.OpenPair(cfg.PortA, cfg.PortB, settings)
	if err != nil {
		logging.LogError(err, "open")
		return exitWith(ExitFailure, err)
	}
	defer a.Close()
	defer b.Close()

	gen := payload.NewRandom()
	if cfg.Seed != 0 {
		gen = payload.New(cfg.Seed)
	}

	runner := func(ctx context.Context, size int) trial.Result {
		rep.TrialStart(size)

		tc := trialConfig(cfg, a, b, size)

		var bar *progress.Reporter
		if cfg.ShowProgress && !rep.Structured() {
			tc.Progress = progress.NewStats(size)
			bar = progress.NewReporter(tc.Progress, stderr, time.Second)
			bar.Start()
		}

		res := trial.Run(ctx, tc, gen)
		if bar != nil {
			bar.Stop()
		}

		rep.TrialResult(res)
		return res
	}

	params := searchParams(cfg)
	ctrl, err := search.New(params, runner)
	if err != nil {
		return exitWith(ExitFailure, err)
	}

	rep.Header(params)
	outcome := ctrl.Run(ctx)

	if err := rep.Summary(outcome); err != nil {
		return exitWith(ExitFailure, err)
	}

	if outcome.Err != nil {
		return exitWith(ExitInterrupted, outcome.Err)
	}
	if cfg.Require > 0 && outcome.MaxReliableSize < cfg.Require {
		return exitWith(ExitBelowTarget, fmt.Errorf("max reliable size %d is below the required %d bytes",
			outcome.MaxReliableSize, cfg.Require))
	}
	return nil
}

// trialConfig projects the trial timing of cfg onto one trial of size bytes
func trialConfig(cfg *config.Config, a, b transport.Handle, size int) trial.Config {
	return trial.Config{
		A:            a,
		B:            b,
		Rate:         cfg.BaudRate,
		Size:         size,
		Timeout:      cfg.Timeout,
		Grace:        cfg.Grace,
		PollInterval: cfg.PollInterval,
		WriteChunk:   cfg.WriteChunk,
	}
}

// searchParams projects the search bounds of cfg
func searchParams(cfg *config.Config) search.Params {
	return search.Params{StartSize: cfg.StartSize, MaxSize: cfg.MaxSize, Factor: cfg.Factor}
}

// Execute runs the root command and returns the process exit code
func Execute(ctx context.Context) int {
	return executeWith(ctx, NewRootCmd(), os.Args[1:])
}

func executeWith(ctx context.Context, root *cobra.Command, args []string) int {
	root.SetArgs(args)

	err := root.ExecuteContext(ctx)
	if err == nil {
		return ExitOK
	}

	fmt.Fprintln(root.ErrOrStderr(), "Error:", err)

	var exitErr *ExitError
	if stderrors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitFailure
}

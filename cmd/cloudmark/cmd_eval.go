package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"syscall"
	"time"

	"github.com/oklog/run"
	"github.com/spf13/cobra"

	"github.com/yairfalse/cloudmark/internal/emitter"
	"github.com/yairfalse/cloudmark/internal/ruleset"
	"github.com/yairfalse/cloudmark/internal/runner"
	"github.com/yairfalse/cloudmark/internal/telemetry"
)

const shutdownTimeout = 5 * time.Second

var metricsAddr string

// evalCmd represents the eval command
var evalCmd = &cobra.Command{
	Use:   "eval [file...]",
	Short: "Evaluate records and print generated events",
	Long: `Evaluate a stream of JSON records against the loaded rules.

Records are read from the given files, or from stdin when no file (or "-")
is given. Each input value must be a JSON object; other values are skipped
with a warning. Events are written to stdout, one JSON object per line.`,
	Example: `  cloudmark eval records.json                    # Built-in rules
  cat records.json | cloudmark eval               # Read stdin
  cloudmark eval -r team.yaml records.json        # Add rules from a file
  cloudmark eval --disable az_postgres_log_duration records.json
  cloudmark eval --metrics-addr :9090 records.json`,
	RunE: runEval,
}

func init() {
	rootCmd.AddCommand(evalCmd)

	addRuleFlags(evalCmd)
	evalCmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Serve /metrics and /healthz on this address while evaluating")
}

func runEval(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	var opts []telemetry.Option
	if cfg.Metrics.Addr != "" {
		opts = append(opts, telemetry.WithPrometheus())
	}
	provider, err := telemetry.NewProvider(ctx, cfg.OTEL, opts...)
	if err != nil {
		return fmt.Errorf("failed to init telemetry: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := provider.Shutdown(sctx); err != nil {
			logger.Warn().Err(err).Msg("telemetry shutdown failed")
		}
	}()

	reg, err := ruleset.Load(ctx, ruleset.Options{
		Builtin: cfg.Rules.BuiltinEnabled(),
		Files:   cfg.Rules.Files,
		Disable: cfg.Rules.Disable,
		Logger:  logger,
	})
	if err != nil {
		return fmt.Errorf("failed to load rules: %w", err)
	}

	var emit emitter.Emitter = emitter.NewJSONEmitter(cmd.OutOrStdout())
	if cfg.Metrics.Addr != "" || cfg.OTEL.Metrics.Enabled {
		findings, err := emitter.NewMetricsEmitter(provider.Meter())
		if err != nil {
			return errors.Join(err, reg.Done())
		}
		emit = emitter.NewMultiEmitter(emit, findings)
	}

	r, err := runner.New(runner.Config{
		Registry:  reg,
		Emitter:   emit,
		Telemetry: provider,
		Logger:    logger,
	})
	if err != nil {
		return errors.Join(err, reg.Done())
	}

	var g run.Group
	{
		ctx, cancel := context.WithCancel(ctx)
		g.Add(func() error {
			start := time.Now()
			stats, err := evalInputs(ctx, r, args, cmd.InOrStdin())
			logger.Info().
				Int("records", stats.Records).
				Int("malformed", stats.Malformed).
				Int("events", stats.Events).
				Dur("duration", time.Since(start)).
				Msg("evaluation finished")
			return err
		}, func(error) {
			cancel()
		})
	}
	if cfg.Metrics.Addr != "" {
		ln, err := net.Listen("tcp", cfg.Metrics.Addr)
		if err != nil {
			return errors.Join(fmt.Errorf("failed to listen on %s: %w", cfg.Metrics.Addr, err), r.Close())
		}
		srv := &http.Server{
			Handler:           newRouter(reg, provider.Handler(), logger),
			ReadHeaderTimeout: shutdownTimeout,
		}
		g.Add(func() error {
			logger.Info().Str("addr", ln.Addr().String()).Msg("starting metrics server")
			if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		}, func(error) {
			sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			_ = srv.Shutdown(sctx)
		})
	}
	g.Add(run.SignalHandler(ctx, os.Interrupt, syscall.SIGTERM))

	err = g.Run()
	var sig run.SignalError
	if errors.As(err, &sig) {
		logger.Info().Str("signal", sig.Signal.String()).Msg("interrupted")
		err = nil
	}
	return errors.Join(err, r.Close())
}

// evalInputs runs every path through r, or stdin when paths is empty.
// "-" also means stdin.
func evalInputs(ctx context.Context, r *runner.Runner, paths []string, stdin io.Reader) (runner.Stats, error) {
	if len(paths) == 0 {
		paths = []string{"-"}
	}

	var total runner.Stats
	for _, path := range paths {
		stats, err := evalInput(ctx, r, path, stdin)
		total.Records += stats.Records
		total.Malformed += stats.Malformed
		total.Events += stats.Events
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func evalInput(ctx context.Context, r *runner.Runner, path string, stdin io.Reader) (runner.Stats, error) {
	if path == "-" {
		stats, err := r.Run(ctx, stdin)
		if err != nil {
			return stats, fmt.Errorf("stdin: %w", err)
		}
		return stats, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return runner.Stats{}, fmt.Errorf("open input: %w", err)
	}
	defer func() { _ = f.Close() }()

	stats, err := r.Run(ctx, f)
	if err != nil {
		return stats, fmt.Errorf("%s: %w", path, err)
	}
	return stats, nil
}

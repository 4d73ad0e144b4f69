// Command clinicsync mirrors the clinic's EHR and scheduling exports into the
// canonical document store.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"clinicsync/internal/config"
	"clinicsync/internal/logging"
	"clinicsync/internal/pipeline"
	"clinicsync/internal/secrets"
)

var exitFunc = os.Exit

func main() {
	exitFunc(execute(os.Args[1:], os.Stdout, os.Stderr))
}

// exitError carries a process exit code through cobra.
type exitError struct{ code int }

func (e exitError) Error() string { return fmt.Sprintf("exit %d", e.code) }

func execute(args []string, stdout, stderr io.Writer) int {
	root := newRootCmd(stdout)
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)
	err := root.Execute()
	var exit exitError
	switch {
	case err == nil:
		return 0
	case errors.As(err, &exit):
		return exit.code
	default:
		fmt.Fprintln(stderr, "clinicsync:", err)
		return 1
	}
}

type syncFlags struct {
	force        bool
	skipExtract  bool
	status       bool
	clearCache   bool
	keepCount    int
	patients     bool
	appointments bool
	medical      bool
	financial    bool
	growth       bool
	bf           bool
}

func (f syncFlags) scope() (pipeline.Scope, error) {
	selected := pipeline.ScopeAll
	for _, s := range []struct {
		on    bool
		scope pipeline.Scope
	}{
		{f.patients, pipeline.ScopePatients},
		{f.appointments, pipeline.ScopeAppointments},
		{f.medical, pipeline.ScopeMedical},
		{f.financial, pipeline.ScopeFinancial},
		{f.growth, pipeline.ScopeGrowth},
		{f.bf, pipeline.ScopeBF},
	} {
		if !s.on {
			continue
		}
		if selected != pipeline.ScopeAll {
			return "", fmt.Errorf("--%s and --%s are mutually exclusive", selected, s.scope)
		}
		selected = s.scope
	}
	return selected, nil
}

func newRootCmd(stdout io.Writer) *cobra.Command {
	root := &cobra.Command{
		Use:           "clinicsync",
		Short:         "Clinical data ingestion and reconciliation pipeline",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(syncCmd(stdout), statusCmd(stdout), clearCacheCmd())
	return root
}

func syncCmd(stdout io.Writer) *cobra.Command {
	var f syncFlags
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Extract, reconcile and load every changed dataset",
		RunE: func(cmd *cobra.Command, _ []string) error {
			switch {
			case f.status:
				return withPipeline(cmd.Context(), func(_ context.Context, p *pipeline.Pipeline, _ *config.Config, _ zerolog.Logger) error {
					return printStatus(stdout, p)
				})
			case f.clearCache:
				return withPipeline(cmd.Context(), func(ctx context.Context, p *pipeline.Pipeline, _ *config.Config, _ zerolog.Logger) error {
					return p.ClearCache(ctx)
				})
			}
			scope, err := f.scope()
			if err != nil {
				return err
			}
			return withPipeline(cmd.Context(), func(ctx context.Context, p *pipeline.Pipeline, cfg *config.Config, log zerolog.Logger) error {
				keep := cfg.KeepCount
				if cmd.Flags().Changed("keep-count") {
					keep = f.keepCount
				}
				res, err := p.Run(ctx, pipeline.Options{
					Force:        f.force || cfg.ForceSync,
					Scope:        scope,
					KeepCount:    keep,
					SoftCap:      cfg.RunSoftCap,
					BatchTimeout: cfg.BatchTimeout,
					SkipExtract:  f.skipExtract,
				})
				if err != nil {
					if pipeline.IsAlreadyRunning(err) {
						log.Error().Msg("already running")
						return exitError{code: 1}
					}
					return err
				}
				if code := res.ExitCode(); code != 0 {
					return exitError{code: code}
				}
				return nil
			})
		},
	}
	fl := cmd.Flags()
	fl.BoolVar(&f.force, "force", false, "bypass change detection")
	fl.BoolVar(&f.skipExtract, "skip-extract", false, "process stored revisions without contacting the sources")
	fl.BoolVar(&f.status, "status", false, "print the sync status as JSON and exit")
	fl.BoolVar(&f.clearCache, "clear-cache", false, "forget every dataset hash and exit")
	fl.IntVar(&f.keepCount, "keep-count", 0, "revisions to keep per dataset (0 keeps all)")
	fl.BoolVar(&f.patients, "patients", false, "limit the run to patients")
	fl.BoolVar(&f.appointments, "appointments", false, "limit the run to appointments")
	fl.BoolVar(&f.medical, "medical", false, "limit the run to medical records")
	fl.BoolVar(&f.financial, "financial", false, "limit the run to services and payments")
	fl.BoolVar(&f.growth, "growth", false, "limit the run to growth measurements")
	fl.BoolVar(&f.bf, "bf", false, "limit the run to well-child data and rederive every patient")
	return cmd
}

func statusCmd(stdout io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Print the sync status as JSON",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withPipeline(cmd.Context(), func(_ context.Context, p *pipeline.Pipeline, _ *config.Config, _ zerolog.Logger) error {
				return printStatus(stdout, p)
			})
		},
	}
}

func clearCacheCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clear-cache",
		Short: "Forget every dataset hash so the next run reloads everything",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withPipeline(cmd.Context(), func(ctx context.Context, p *pipeline.Pipeline, _ *config.Config, _ zerolog.Logger) error {
				return p.ClearCache(ctx)
			})
		},
	}
}

func printStatus(w io.Writer, p *pipeline.Pipeline) error {
	status, err := p.Status()
	if err != nil {
		return err
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(status)
}

// withPipeline loads configuration, wires the clients and hands a pipeline to fn.
// SIGINT and SIGTERM cancel the context; the run finishes its current dataset.
func withPipeline(parent context.Context, fn func(context.Context, *pipeline.Pipeline, *config.Config, zerolog.Logger) error) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, v, err := config.Load()
	if err != nil {
		return err
	}
	log := logging.New(os.Stderr, cfg.LogLevel, cfg.LogFormat)
	sec := secrets.NewStore(secrets.NewViperProvider(v))

	clients, err := pipeline.NewClients(ctx, cfg, sec, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := clients.Close(); err != nil {
			log.Warn().Err(err).Msg("close clients")
		}
	}()
	return fn(ctx, pipeline.New(clients, log), cfg, log)
}

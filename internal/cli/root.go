// Package cli implements the krakefactory command line: the HTTP server and
// station-side mirrors of the service operations.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"github.com/spf13/cobra"

	"krakefactory/internal/config"
	"krakefactory/internal/core"
	"krakefactory/internal/logging"
	"krakefactory/pkg/domain"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	ConfigFile string
	EnvFile    string
	Format     string // "json" | "text"
	LogLevel   string
	TraceFile  string
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the krakefactory root command.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "krakefactory",
		Short: "Krake board test-run inventory",
		Long: `Records hardware test results for manufactured Krake boards and serves
the inventory API, label printing and exports.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return NewExitError(ExitCommandError, fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, ValidFormats))
			}
			return nil
		},
	}

	cmd.PersistentFlags().StringVarP(&opts.ConfigFile, "config", "c", "", "config file (yaml, toml or json)")
	cmd.PersistentFlags().StringVar(&opts.EnvFile, "env-file", "", "dotenv file to load (default .env)")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVar(&opts.LogLevel, "log-level", "", "override log.level (debug|info|warn|error)")
	cmd.PersistentFlags().StringVar(&opts.TraceFile, "trace-file", "", "append JSON trace spans of service operations to this file")

	cmd.AddCommand(NewServeCommand(opts))
	cmd.AddCommand(NewSubmitCommand(opts))
	cmd.AddCommand(NewShowCommand(opts))
	cmd.AddCommand(NewSummariesCommand(opts))
	cmd.AddCommand(NewExportCommand(opts))
	cmd.AddCommand(NewPingCommand(opts))

	return cmd
}

func (o *RootOptions) formatter(cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{Format: o.Format, Writer: cmd.OutOrStdout()}
}

func (o *RootOptions) loadConfig() (config.Config, error) {
	var envFiles []string
	if o.EnvFile != "" {
		envFiles = []string{o.EnvFile}
	}
	cfg, err := config.Load(config.Options{ConfigFile: o.ConfigFile, EnvFiles: envFiles})
	if err != nil {
		return config.Config{}, WrapExitError(ExitCommandError, "load config", err)
	}
	if o.LogLevel != "" {
		cfg.Log.Level = o.LogLevel
	}
	return cfg, nil
}

// app is the wiring shared by every command: config, logger, store and service.
type app struct {
	cfg    config.Config
	logger *slog.Logger
	store  domain.PersistentStore
	svc    *core.Service
	closer []io.Closer
}

func (o *RootOptions) openApp(ctx context.Context, cmd *cobra.Command, extra ...core.Option) (*app, error) {
	cfg, err := o.loadConfig()
	if err != nil {
		return nil, err
	}
	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format, cmd.ErrOrStderr())
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "configure logging", err)
	}

	a := &app{cfg: cfg, logger: logger}
	svcOpts := []core.Option{
		core.WithLogger(logger),
		core.WithReaderConcurrency(cfg.Reader.Concurrency),
	}
	if o.TraceFile != "" {
		f, err := os.OpenFile(o.TraceFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
		if err != nil {
			return nil, WrapExitError(ExitCommandError, "open trace file", err)
		}
		a.closer = append(a.closer, f)
		svcOpts = append(svcOpts, core.WithTracer(core.NewJSONTracer(f)))
	}

	store, err := core.OpenPersistentStore(ctx, cfg.Storage, nil)
	if err != nil {
		_ = a.Close()
		return nil, WrapExitError(ExitFailure, "open storage", err)
	}
	a.store = store
	a.svc = core.NewService(store, append(svcOpts, extra...)...)
	logger.Debug("storage opened", "driver", cfg.Storage.Driver)
	return a, nil
}

// Close releases the store and any open trace file.
func (a *app) Close() error {
	var errs []error
	if a.store != nil {
		errs = append(errs, a.store.Close())
	}
	for _, c := range a.closer {
		errs = append(errs, c.Close())
	}
	return errors.Join(errs...)
}

// commandError maps a service error to an exit code.
func commandError(message string, err error) error {
	if domain.IsValidation(err) {
		return WrapExitError(ExitCommandError, message, err)
	}
	return WrapExitError(ExitFailure, message, err)
}

package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/dunamismax/rasterkit/internal/config"
	"github.com/dunamismax/rasterkit/internal/domain"
	"github.com/dunamismax/rasterkit/internal/id"
	"github.com/dunamismax/rasterkit/internal/pipeline"
	"github.com/dunamismax/rasterkit/internal/telemetry"
	homedir "github.com/mitchellh/go-homedir"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	ExitOK      = 0
	ExitFailure = 1
	ExitUsage   = 2

	defaultConfigName = ".rasterkit.yaml"
	serviceName       = "rasterkit"
)

type options struct {
	configFile  string
	metricsFile string
	verbose     bool
}

// Execute runs the rasterkit command with argv (without the program name) and
// returns the process exit code.
func Execute(ctx context.Context, argv []string, stdout, stderr io.Writer) int {
	cmd := NewCommand(stdout, stderr)
	cmd.SetArgs(argv)

	err := cmd.ExecuteContext(ctx)
	switch {
	case err == nil:
		return ExitOK
	case errors.Is(err, ErrUsage):
		fmt.Fprintln(stdout, UsageText)
		return ExitUsage
	default:
		fmt.Fprintf(stderr, "rasterkit: %v\n", err)
		return ExitFailure
	}
}

func NewCommand(stdout, stderr io.Writer) *cobra.Command {
	var opts options
	v := config.New()

	cmd := &cobra.Command{
		Use:           "rasterkit <in-file> <out-file> <filter> [motion-blur-length]",
		Short:         "Apply a filter to a plain-text PPM image",
		Long:          UsageText,
		Args:          cobra.ArbitraryArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			parsed, err := ParseArgs(args)
			if err != nil {
				return err
			}
			if err := loadConfigFile(v, opts.configFile); err != nil {
				return err
			}
			return run(cmd.Context(), parsed, config.FromViper(v), opts, stderr)
		},
	}
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	cmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return fmt.Errorf("%w: %v", ErrUsage, err)
	})

	flags := cmd.Flags()
	flags.StringVarP(&opts.configFile, "config", "c", "", "config file (default is $HOME/"+defaultConfigName+")")
	flags.Int("workers", 1, "goroutines sharing the rows of the image")
	flags.String("trace-exporter", "none", "trace exporter: none, stdout or otlp")
	flags.StringVar(&opts.metricsFile, "metrics-file", "", "write run metrics in Prometheus text format to this file")
	flags.BoolVarP(&opts.verbose, "verbose", "v", false, "log progress to stderr")

	_ = v.BindPFlag("filter.workers", flags.Lookup("workers"))
	_ = v.BindPFlag("telemetry.exporter", flags.Lookup("trace-exporter"))

	return cmd
}

// loadConfigFile reads the explicit --config file, or the default file in the
// home directory when one exists.
func loadConfigFile(v *viper.Viper, file string) error {
	if file != "" {
		return config.ReadFile(v, file)
	}

	path, err := homedir.Expand("~/" + defaultConfigName)
	if err != nil {
		return nil
	}
	if _, err := os.Stat(path); err != nil {
		return nil
	}
	return config.ReadFile(v, path)
}

func run(ctx context.Context, args Args, cfg config.Config, opts options, stderr io.Writer) (err error) {
	logger := log.New(io.Discard, "", 0)
	if opts.verbose {
		logger = log.New(stderr, "[rasterkit] ", log.LstdFlags|log.Lmsgprefix)
	}

	traceCfg := telemetry.NewTraceConfig(serviceName, cfg.Telemetry)
	traceCfg.Writer = stderr
	shutdown, err := telemetry.SetupTracing(ctx, traceCfg, logger)
	if err != nil {
		return fmt.Errorf("setup tracing: %w", err)
	}
	defer func() {
		if shutdownErr := shutdown(context.WithoutCancel(ctx)); shutdownErr != nil {
			logger.Printf("tracer shutdown failed: %v", shutdownErr)
		}
	}()

	metrics := newRunMetrics()
	if opts.metricsFile != "" {
		defer func() {
			if writeErr := metrics.writeTo(opts.metricsFile); writeErr != nil && err == nil {
				err = fmt.Errorf("write metrics file: %w", writeErr)
			}
		}()
	}

	logger.Printf("filtering in=%s out=%s filter=%s length=%d workers=%d",
		args.Input, args.Output, args.Step.Filter, args.Step.Length, cfg.Filter.Workers)

	startedAt := time.Now()
	processor := pipeline.NewProcessor(pipeline.LocalFileFetcher{}, pipeline.LocalFileEmitter{}, cfg.Filter.Workers)
	result, err := processor.Process(ctx, pipeline.Request{
		JobID:      id.New(),
		SourceType: domain.SourceTypeLocalFile,
		ObjectKey:  args.Input,
		OutputKey:  args.Output,
		Step:       args.Step,
	})
	if err != nil {
		metrics.observe(args.Step.Filter, domain.JobStatusFailed, time.Since(startedAt))
		return err
	}

	metrics.observe(args.Step.Filter, domain.JobStatusSucceeded, time.Since(startedAt))
	metrics.pixels.Add(float64(result.Pixels()))
	metrics.bytesIn.Add(float64(result.SourceBytes))
	metrics.bytesOut.Add(float64(result.Output.Bytes))

	logger.Printf("wrote out=%s width=%d height=%d bytes=%d elapsed=%s",
		result.Output.Path, result.Output.Width, result.Output.Height, result.Output.Bytes, time.Since(startedAt))
	return nil
}

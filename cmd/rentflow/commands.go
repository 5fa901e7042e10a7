package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/rentflow/rentflow/pkg/checkpoint"
	"github.com/rentflow/rentflow/pkg/config"
	"github.com/rentflow/rentflow/pkg/fetch"
	"github.com/rentflow/rentflow/pkg/pipeline"
	"github.com/rentflow/rentflow/pkg/release"
	"github.com/rentflow/rentflow/pkg/report"
	s3sink "github.com/rentflow/rentflow/pkg/storage/s3"
	"github.com/rentflow/rentflow/pkg/store"
	"github.com/rentflow/rentflow/pkg/telemetry"
	"github.com/rentflow/rentflow/pkg/tui"
	"github.com/rentflow/rentflow/pkg/validate"
	"github.com/rentflow/rentflow/pkg/watch"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Execute the full pipeline once",
	RunE:  runPipeline,
}

var fetchCmd = &cobra.Command{
	Use:   "fetch [destination]",
	Short: "Download the current snapshot without processing it",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runFetch,
}

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Run quality checks against the silver layer",
	RunE:  runValidate,
}

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Print grouped rent statistics from the silver layer",
	RunE:  runReport,
}

var watchCmd = &cobra.Command{
	Use:   "watch [snapshot-file]",
	Short: "Re-run the pipeline whenever a local snapshot changes",
	Args:  cobra.ExactArgs(1),
	RunE:  runWatch,
}

// signalContext cancels on SIGINT/SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

// buildRunner wires the runner's collaborators from configuration.
func buildRunner(ctx context.Context, cfg *config.Config) (*pipeline.Runner, func(), error) {
	cleanup := func() {}

	if cfg.Telemetry.Enabled && cfg.Telemetry.Endpoint != "" {
		shutdown, err := telemetry.Setup(ctx, telemetry.DefaultConfig(cfg.Telemetry.Endpoint))
		if err != nil {
			return nil, cleanup, err
		}
		cleanup = func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			shutdown(shutdownCtx)
		}
	}

	opts := []pipeline.Option{}
	if !skipDownload {
		opts = append(opts, pipeline.WithDownloader(fetch.New(cfg.Source.URL,
			fetch.WithRetryPolicy(fetch.RetryPolicy{
				MaxAttempts:     cfg.Retry.MaxAttempts,
				InitialInterval: cfg.Retry.InitialInterval,
				MaxInterval:     cfg.Retry.MaxInterval,
			}),
			fetch.WithProgress(true))))
	}

	if cfg.Publish.Enabled {
		publisher, err := release.NewClient(cfg.Publish.Repo, cfg.Publish.Token,
			release.WithRetries(cfg.Retry.MaxAttempts),
			release.WithTagFunc(func() string { return cfg.ReleaseTag(time.Now()) }))
		if err != nil {
			return nil, cleanup, err
		}
		opts = append(opts, pipeline.WithPublisher(publisher))

		if cfg.Publish.S3Bucket != "" {
			uploader, err := s3sink.NewClient(ctx,
				s3sink.DefaultConfig(cfg.Publish.S3Bucket, cfg.Publish.S3Region))
			if err != nil {
				return nil, cleanup, err
			}
			opts = append(opts, pipeline.WithUploader(uploader))
		}
	}

	var backend checkpoint.Backend
	if cfg.Storage.RedisAddr != "" {
		redisBackend, err := checkpoint.NewRedisBackend(
			checkpoint.DefaultRedisConfig(cfg.Storage.RedisAddr))
		if err != nil {
			return nil, cleanup, err
		}
		backend = redisBackend
	} else {
		fileBackend, err := checkpoint.NewFileBackend(cfg.Storage.StateDir)
		if err != nil {
			return nil, cleanup, err
		}
		backend = fileBackend
	}
	opts = append(opts, pipeline.WithStateBackend(backend))

	return pipeline.New(cfg, opts...), cleanup, nil
}

func runPipeline(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx, cancel := signalContext()
	defer cancel()

	runner, cleanup, err := buildRunner(ctx, cfg)
	defer cleanup()
	if err != nil {
		return err
	}

	summary, err := runner.Run(ctx)
	if err != nil {
		return err
	}
	fmt.Print(tui.RenderSummary(summary))
	return nil
}

func runFetch(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := cfg.ValidateForRun(); err != nil {
		return err
	}
	ctx, cancel := signalContext()
	defer cancel()

	dest := fmt.Sprintf("%s/rent_contracts_%s.csv",
		cfg.Source.DownloadDir, time.Now().Format("2006-01-02"))
	if len(args) == 1 {
		dest = args[0]
	}

	fetcher := fetch.New(cfg.Source.URL,
		fetch.WithRetryPolicy(fetch.RetryPolicy{
			MaxAttempts:     cfg.Retry.MaxAttempts,
			InitialInterval: cfg.Retry.InitialInterval,
			MaxInterval:     cfg.Retry.MaxInterval,
		}),
		fetch.WithProgress(true))
	if err := fetcher.Run(ctx, dest); err != nil {
		return err
	}
	fmt.Println(dest)
	return nil
}

func runValidate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx, cancel := signalContext()
	defer cancel()

	s, err := store.Open(cfg.Storage.Database)
	if err != nil {
		return err
	}
	defer s.Close()

	result, err := validate.New(s.DB(), cfg.Validation.Strict).Validate(ctx, store.SilverTable)
	if err != nil {
		return err
	}
	fmt.Print(tui.RenderValidation(result))
	return result.Err()
}

func runReport(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx, cancel := signalContext()
	defer cancel()

	s, err := store.Open(cfg.Storage.Database)
	if err != nil {
		return err
	}
	defer s.Close()

	rep, err := report.New(s.DB()).Summarize(ctx, store.SilverTable, groupColumn)
	if err != nil {
		return err
	}
	if outputFlag != "" {
		if err := rep.SaveCSV(outputFlag); err != nil {
			return err
		}
		fmt.Println(outputFlag)
		return nil
	}
	return rep.WriteCSV(os.Stdout)
}

func runWatch(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx, cancel := signalContext()
	defer cancel()

	backend, err := checkpoint.NewFileBackend(cfg.Storage.StateDir)
	if err != nil {
		return err
	}

	watcher, err := watch.New()
	if err != nil {
		return err
	}
	watcher.OnChange = func(ctx context.Context, path string) error {
		runner := pipeline.New(cfg,
			pipeline.WithLocalSource(path),
			pipeline.WithStateBackend(backend))
		summary, err := runner.Run(ctx)
		if err != nil {
			return err
		}
		fmt.Print(tui.RenderSummary(summary))
		return nil
	}
	if err := watcher.Watch(args[0]); err != nil {
		return err
	}
	return watcher.Run(ctx)
}

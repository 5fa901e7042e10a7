// Package pipeline orchestrates a full rent-contracts run: download,
// medallion load, validation gate, exports, reporting and publishing.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/rentflow/rentflow/pkg/artifact"
	"github.com/rentflow/rentflow/pkg/checkpoint"
	"github.com/rentflow/rentflow/pkg/config"
	rferrors "github.com/rentflow/rentflow/pkg/errors"
	"github.com/rentflow/rentflow/pkg/report"
	"github.com/rentflow/rentflow/pkg/store"
	"github.com/rentflow/rentflow/pkg/telemetry"
	"github.com/rentflow/rentflow/pkg/validate"
	"github.com/rentflow/rentflow/pkg/verify"
)

// Downloader fetches the source snapshot to a local file.
type Downloader interface {
	Run(ctx context.Context, dest string) error
}

// Publisher guards against duplicate runs and receives artifacts.
type Publisher interface {
	Tag() string
	ReleaseExists(ctx context.Context, tag string) (bool, error)
	Publish(ctx context.Context, files []string) error
}

// Uploader mirrors artifacts to object storage.
type Uploader interface {
	UploadAll(ctx context.Context, runTag string, paths []string) ([]string, error)
}

// Summary reports what one run produced.
type Summary struct {
	RunID     string
	Skipped   bool
	Rows      map[string]int64
	Artifacts []string
	Report    *report.Report
	Duration  time.Duration
}

// Runner executes the pipeline. Collaborators that talk to the outside
// world are injected so runs can be tested against fakes.
type Runner struct {
	cfg        *config.Config
	downloader Downloader
	publisher  Publisher
	uploader   Uploader
	state      checkpoint.Backend
	now        func() time.Time

	// sourcePath, when set, bypasses the fetcher and ingests this file.
	sourcePath string
}

// Option configures a Runner.
type Option func(*Runner)

// WithDownloader overrides the source fetcher.
func WithDownloader(d Downloader) Option {
	return func(r *Runner) { r.downloader = d }
}

// WithPublisher sets the release sink.
func WithPublisher(p Publisher) Option {
	return func(r *Runner) { r.publisher = p }
}

// WithUploader sets the optional object-storage mirror.
func WithUploader(u Uploader) Option {
	return func(r *Runner) { r.uploader = u }
}

// WithStateBackend sets where run state is persisted.
func WithStateBackend(b checkpoint.Backend) Option {
	return func(r *Runner) { r.state = b }
}

// WithClock overrides the wall clock, for deterministic naming in tests.
func WithClock(now func() time.Time) Option {
	return func(r *Runner) { r.now = now }
}

// WithLocalSource ingests an already-downloaded snapshot instead of
// fetching one.
func WithLocalSource(path string) Option {
	return func(r *Runner) { r.sourcePath = path }
}

// New builds a runner for a configuration.
func New(cfg *config.Config, opts ...Option) *Runner {
	r := &Runner{cfg: cfg, now: time.Now}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run executes the whole pipeline once. A failure at any stage aborts
// the run; completed artifacts stay on disk and are reused next time.
func (r *Runner) Run(ctx context.Context) (*Summary, error) {
	if err := r.cfg.ValidateForRun(); err != nil {
		return nil, err
	}

	started := r.now()
	dateStamp := started.Format("2006-01-02")
	summary := &Summary{
		RunID: "run-" + dateStamp + "-" + uuid.NewString()[:8],
		Rows:  make(map[string]int64),
	}
	log := slog.With("run_id", summary.RunID)
	log.Info("pipeline starting", "source", r.cfg.Source.URL)

	// Duplicate-run guard: one release per day.
	if r.cfg.Publish.Enabled && r.publisher != nil {
		tag := r.publisher.Tag()
		exists, err := r.publisher.ReleaseExists(ctx, tag)
		if err != nil {
			return nil, err
		}
		if exists {
			log.Info("release already published for today, skipping run", "tag", tag)
			summary.Skipped = true
			return summary, nil
		}
	}

	state := checkpoint.NewRunState(summary.RunID, r.cfg.Source.URL)
	defer r.saveState(ctx, state)

	csvPath := r.sourcePath
	if csvPath == "" {
		csvPath = filepath.Join(r.cfg.Source.DownloadDir,
			fmt.Sprintf("rent_contracts_%s.csv", dateStamp))
		if err := r.download(ctx, csvPath, state); err != nil {
			return nil, err
		}
	}

	s, err := store.Open(r.cfg.Storage.Database)
	if err != nil {
		return nil, err
	}
	defer s.Close()

	if err := r.loadAndClean(ctx, s, csvPath, summary, state); err != nil {
		return nil, err
	}
	if err := r.validateSilver(ctx, s, log); err != nil {
		return nil, err
	}

	silverPath, err := r.exportSilver(ctx, s, dateStamp, summary, state)
	if err != nil {
		return nil, err
	}
	summary.Artifacts = append(summary.Artifacts, silverPath)

	goldPaths, err := r.buildGold(ctx, s, dateStamp, summary, state)
	if err != nil {
		return nil, err
	}
	summary.Artifacts = append(summary.Artifacts, goldPaths...)

	reportPaths, err := r.buildReport(ctx, s, dateStamp, summary)
	if err != nil {
		return nil, err
	}
	summary.Artifacts = append(summary.Artifacts, reportPaths...)

	if err := r.publish(ctx, dateStamp, summary, log); err != nil {
		return nil, err
	}

	state.Complete()
	summary.Duration = r.now().Sub(started)
	log.Info("pipeline finished",
		"rows", summary.Rows["silver"],
		"artifacts", len(summary.Artifacts),
		"duration", summary.Duration.Round(time.Millisecond))
	return summary, nil
}

func (r *Runner) saveState(ctx context.Context, state *checkpoint.RunState) {
	if r.state == nil {
		return
	}
	if err := r.state.Save(ctx, state); err != nil {
		slog.Warn("failed to persist run state", "error", err)
	}
}

func (r *Runner) download(ctx context.Context, csvPath string, state *checkpoint.RunState) error {
	ctx, end := telemetry.StartPhase(ctx, "download")
	var err error
	defer func() { end(0, err) }()

	if r.downloader == nil {
		if _, statErr := os.Stat(csvPath); statErr != nil {
			err = rferrors.New(rferrors.CodeInvalidConfig, "no downloader configured and no local snapshot present").
				WithContext("path", csvPath)
			return err
		}
		slog.Info("phase: download", "status", "using existing snapshot", "path", csvPath)
		return nil
	}

	reused, err := artifact.Materialize(ctx, "source snapshot",
		artifact.FileExists(csvPath),
		func(ctx context.Context) error {
			return r.downloader.Run(ctx, csvPath)
		})
	if err != nil {
		return err
	}
	state.MarkPhase("download", csvPath, 0)
	slog.Info("phase: download", "path", csvPath, "reused", reused)
	return nil
}

func (r *Runner) loadAndClean(ctx context.Context, s *store.Store, csvPath string, summary *Summary, state *checkpoint.RunState) error {
	ctx, endBronze := telemetry.StartPhase(ctx, "bronze")
	bronzeRows, err := s.IngestCSV(ctx, csvPath)
	endBronze(bronzeRows, err)
	if err != nil {
		return err
	}
	summary.Rows["bronze"] = bronzeRows
	slog.Info("phase: bronze", "rows", bronzeRows)

	ctx, endSilver := telemetry.StartPhase(ctx, "silver")
	silverRows, err := s.Clean(ctx)
	endSilver(silverRows, err)
	if err != nil {
		return err
	}
	summary.Rows["silver"] = silverRows
	slog.Info("phase: silver", "rows", silverRows)

	fingerprint, err := s.Fingerprint(ctx, store.SilverTable)
	if err != nil {
		return err
	}
	state.MarkPhase("bronze", csvPath, bronzeRows)
	state.MarkPhase("silver", fingerprint, silverRows)
	return nil
}

func (r *Runner) validateSilver(ctx context.Context, s *store.Store, log *slog.Logger) error {
	if !r.cfg.Validation.Enabled {
		return nil
	}
	ctx, end := telemetry.StartPhase(ctx, "validate")
	result, err := validate.New(s.DB(), r.cfg.Validation.Strict).Validate(ctx, store.SilverTable)
	end(0, err)
	if err != nil {
		return err
	}

	for _, w := range result.Warnings {
		log.Warn("validation warning", "detail", w)
	}
	for _, i := range result.Info {
		log.Info("validation info", "detail", i)
	}
	if !result.IsValid() {
		for _, e := range result.Errors {
			log.Error("validation error", "detail", e)
		}
		return result.Err()
	}
	slog.Info("phase: validate", "status", "passed")
	return nil
}

func (r *Runner) exportSilver(ctx context.Context, s *store.Store, dateStamp string, summary *Summary, state *checkpoint.RunState) (string, error) {
	ctx, end := telemetry.StartPhase(ctx, "export")
	var err error
	defer func() { end(0, err) }()

	path := filepath.Join(r.cfg.Storage.OutputDir,
		fmt.Sprintf("rent_contracts_%s.parquet", dateStamp))

	_, err = artifact.Materialize(ctx, "silver parquet",
		artifact.FileExists(path),
		func(ctx context.Context) error {
			return s.ExportParquet(ctx, store.SilverTable, path, r.cfg.Storage.Compression)
		})
	if err != nil {
		return "", err
	}

	if err = verify.Export(path, summary.Rows["silver"], []string{"contract_id", "annual_amount"}); err != nil {
		return "", err
	}
	if err = s.CreateExpiringView(ctx, r.cfg.Storage.ExpiringDays); err != nil {
		return "", err
	}

	state.MarkPhase("export", path, summary.Rows["silver"])
	slog.Info("phase: export", "path", path)
	return path, nil
}

func (r *Runner) buildGold(ctx context.Context, s *store.Store, dateStamp string, summary *Summary, state *checkpoint.RunState) ([]string, error) {
	ctx, end := telemetry.StartPhase(ctx, "gold")
	result, err := s.StarSchema(ctx)
	end(0, err)
	if err != nil {
		return nil, err
	}
	for table, count := range result.Counts {
		summary.Rows[table] = count
	}
	slog.Info("phase: gold", "tables", len(result.Counts), "reused", result.Reused)

	var paths []string
	for table := range result.Counts {
		path := filepath.Join(r.cfg.Storage.OutputDir,
			fmt.Sprintf("%s_%s.parquet", table, dateStamp))
		if _, err := artifact.Materialize(ctx, table,
			artifact.FileExists(path),
			func(ctx context.Context) error {
				return s.ExportParquet(ctx, "gold."+table, path, r.cfg.Storage.Compression)
			}); err != nil {
			return nil, err
		}
		paths = append(paths, path)
	}

	if err := verify.Export(
		filepath.Join(r.cfg.Storage.OutputDir, fmt.Sprintf("fact_rent_contract_%s.parquet", dateStamp)),
		result.Counts["fact_rent_contract"], nil); err != nil {
		return nil, err
	}

	state.MarkPhase("gold", dateStamp, result.Counts["fact_rent_contract"])
	return paths, nil
}

func (r *Runner) buildReport(ctx context.Context, s *store.Store, dateStamp string, summary *Summary) ([]string, error) {
	ctx, end := telemetry.StartPhase(ctx, "report")
	rep, err := report.New(s.DB()).Summarize(ctx, store.SilverTable, "property_usage_en")
	if err != nil {
		end(0, err)
		return nil, err
	}
	end(int64(len(rep.Rows)), nil)
	summary.Report = rep

	csvPath := filepath.Join(r.cfg.Storage.OutputDir,
		fmt.Sprintf("rent_summary_%s.csv", dateStamp))
	if err := rep.SaveCSV(csvPath); err != nil {
		return nil, err
	}
	xlsxPath := filepath.Join(r.cfg.Storage.OutputDir,
		fmt.Sprintf("rent_summary_%s.xlsx", dateStamp))
	if err := rep.SaveXLSX(xlsxPath); err != nil {
		return nil, err
	}

	slog.Info("phase: report", "groups", len(rep.Rows), "csv", csvPath, "xlsx", xlsxPath)
	return []string{csvPath, xlsxPath}, nil
}

func (r *Runner) publish(ctx context.Context, dateStamp string, summary *Summary, log *slog.Logger) error {
	if !r.cfg.Publish.Enabled || r.publisher == nil {
		return nil
	}
	ctx, end := telemetry.StartPhase(ctx, "publish")
	var err error
	defer func() { end(int64(len(summary.Artifacts)), err) }()

	if err = r.publisher.Publish(ctx, summary.Artifacts); err != nil {
		return err
	}
	log.Info("phase: publish", "tag", r.publisher.Tag(), "files", len(summary.Artifacts))

	if r.uploader != nil {
		if _, err = r.uploader.UploadAll(ctx, dateStamp, summary.Artifacts); err != nil {
			return err
		}
	}
	return nil
}

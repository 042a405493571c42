package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/nvidra/photoflow/internal/engine"
	"github.com/nvidra/photoflow/internal/logging"
	"github.com/nvidra/photoflow/internal/scheduler"
	"github.com/nvidra/photoflow/internal/service"
	"github.com/nvidra/photoflow/internal/stages"
	"github.com/nvidra/photoflow/internal/store"
	"github.com/nvidra/photoflow/internal/validation"
	"github.com/nvidra/photoflow/pkg/mcp"
	"github.com/nvidra/photoflow/pkg/schema"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "photoflow:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg := loadConfig()
	logger := newLogger(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	st, err := store.NewLibSQLStore("file:" + cfg.DBPath)
	if err != nil {
		return err
	}
	defer st.Close()
	if err := st.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	events := store.NewEventLog(st)

	validator, err := validation.NewValidator()
	if err != nil {
		return err
	}

	registry, err := buildRegistry(cfg, logger)
	if err != nil {
		return err
	}

	eng := engine.New(registry, validator, events, logger)
	svc := service.New(eng, st, service.DirItemSource{}, logger)

	if err := registerPipelines(svc, cfg, logger); err != nil {
		return err
	}

	sched := scheduler.New(st, svc, logger)
	if cfg.Scheduler {
		if err := sched.RecoverMissed(ctx); err != nil {
			logger.Warn("missed job recovery failed", slog.String("error", err.Error()))
		}
		if err := sched.Start(ctx); err != nil {
			return err
		}
		defer func() { _ = sched.Stop() }()
	}

	srv := mcp.NewPhotoflowServer(mcp.PhotoflowServerDeps{
		Service:   svc,
		Store:     st,
		Scheduler: sched,
		Logger:    logger,
	})

	logger.Info("photoflow serving MCP over stdio",
		slog.String("db", cfg.DBPath),
		slog.Any("pipelines", svc.PipelineNames()))

	if err := srv.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	// Stdout belongs to the MCP transport; logs go to stderr.
	inner := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})
	return slog.New(logging.NewCorrelationHandler(inner))
}

// buildRegistry wires the built-in photo processors. Vision-backed stages are
// registered only when an API key is configured; pipelines referencing them
// without one fail with a configuration error at submission.
func buildRegistry(cfg Config, logger *slog.Logger) (*stages.Registry, error) {
	reg := stages.NewRegistry()
	reg.Register(stages.NewMetadataProcessor(stages.FileMetadataReader{}))

	filterOpts, err := stages.ParseFilteringOptions(nil)
	if err != nil {
		return nil, err
	}
	filtering, err := stages.NewFilteringProcessor(filterOpts)
	if err != nil {
		return nil, err
	}
	reg.Register(filtering)

	if cfg.OpenAIAPIKey == "" {
		logger.Warn("no OpenAI API key configured, vision stages unavailable")
		return reg, nil
	}

	vision := stages.NewOpenAIVisionClient(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, cfg.VisionModel)
	reg.Register(stages.NewQualityProcessor(stages.NewVisionQualityScorer(vision)))
	reg.Register(stages.NewAestheticProcessor(vision))
	reg.Register(stages.NewCaptionProcessor(vision))
	return reg, nil
}

// registerPipelines loads pipeline definitions from the pipelines directory,
// falling back to the built-in travel batch when the directory is empty.
func registerPipelines(svc *service.Service, cfg Config, logger *slog.Logger) error {
	entries, err := os.ReadDir(cfg.PipelinesDir)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("read pipelines dir: %w", err)
	}

	loaded := 0
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		path := filepath.Join(cfg.PipelinesDir, entry.Name())
		data, readErr := os.ReadFile(path)
		if readErr != nil {
			return fmt.Errorf("read pipeline %s: %w", path, readErr)
		}
		var def schema.PipelineDefinition
		if err := json.Unmarshal(data, &def); err != nil {
			return fmt.Errorf("parse pipeline %s: %w", path, err)
		}
		if def.Name == "" {
			return fmt.Errorf("pipeline %s has no name", path)
		}
		svc.RegisterPipeline(&def)
		loaded++
		logger.Info("pipeline registered", slog.String("name", def.Name), slog.String("file", entry.Name()))
	}

	if loaded == 0 {
		svc.RegisterPipeline(defaultPipeline(cfg.Workers))
		logger.Info("pipeline registered", slog.String("name", "travel-batch"), slog.String("file", "built-in"))
	}
	return nil
}

// defaultPipeline is the full five-stage travel photo batch.
func defaultPipeline(workers int) *schema.PipelineDefinition {
	return &schema.PipelineDefinition{
		Name: "travel-batch",
		Stages: []schema.StageDefinition{
			{Name: "metadata_extraction", Workers: workers},
			{Name: "quality_assessment", DependsOn: []string{"metadata_extraction"}, Workers: workers, Timeout: "60s"},
			{Name: "aesthetic_assessment", DependsOn: []string{"metadata_extraction"}, Workers: workers, Timeout: "60s"},
			{Name: "caption_generation", DependsOn: []string{"metadata_extraction", "aesthetic_assessment"}, Workers: workers, Timeout: "60s"},
			{
				Name:      "filtering_categorization",
				DependsOn: []string{"metadata_extraction", "quality_assessment", "aesthetic_assessment"},
				Workers:   workers,
			},
		},
	}
}

package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/fpang/image-edit/internal/auth"
	"github.com/fpang/image-edit/internal/chat"
	"github.com/fpang/image-edit/internal/config"
	"github.com/fpang/image-edit/internal/gate"
	"github.com/fpang/image-edit/internal/history"
	"github.com/fpang/image-edit/internal/ingest"
	"github.com/fpang/image-edit/internal/logging"
	"github.com/fpang/image-edit/internal/metrics"
	"github.com/fpang/image-edit/internal/workflow"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

// app is one wired workflow: ingestion, the Gemini editor, the ledger and
// the download gate.
type app struct {
	cfg      config.Config
	workflow *workflow.Orchestrator
	gate     *gate.Gate
	previews *ingest.TempPreviewStore
	sinkName string
}

// loadConfig reads the environment and applies any flags that were set.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, err
	}

	flags := cmd.Flags()
	if flags.Changed("model") {
		cfg.Model = modelFlag
	}
	if flags.Changed("output-dir") {
		cfg.OutputDir = outputDirFlag
	}
	if flags.Changed("s3-bucket") {
		cfg.S3Bucket = s3BucketFlag
	}
	if flags.Changed("s3-prefix") {
		cfg.S3Prefix = s3PrefixFlag
	}
	if flags.Changed("system-instruction") {
		cfg.SystemInstruction = systemInstructionFlag
	}
	if flags.Changed("log-level") {
		cfg.LogLevel = logLevelFlag
	}
	if flags.Changed("metrics") {
		cfg.Metrics = metricsFlag
	}
	return cfg, cfg.Validate()
}

// setup initializes logging and metrics, then builds the app.
func setup(ctx context.Context, cmd *cobra.Command, dialogs bool) (*app, error) {
	start := time.Now()
	logging.Init()

	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, fmt.Errorf("configuration: %w", err)
	}
	logging.SetLevel(cfg.LogLevel)
	if cfg.Metrics {
		metrics.SetOutput(os.Stderr)
	}

	a, err := newApp(ctx, cfg, dialogs)
	if err != nil {
		return nil, err
	}

	logging.NewStartupLogger(cmd.Name()).
		Version(version).
		Service("model", cfg.Model).
		Service("sink", a.sinkName).
		Feature("metrics", cfg.Metrics).
		Feature("dialogs", dialogs).
		Feature("systemInstruction", cfg.SystemInstruction != "").
		Config("historySize", fmt.Sprint(cfg.HistorySize)).
		Config("editTimeout", cfg.EditTimeout.String()).
		Config("maxImageBytes", fmt.Sprint(cfg.MaxImageBytes)).
		InitDuration(time.Since(start)).
		Log()
	return a, nil
}

func newApp(ctx context.Context, cfg config.Config, dialogs bool) (*app, error) {
	apiKey, err := auth.GetAPIKey(cfg.APIKey)
	if err != nil {
		return nil, err
	}
	client, err := chat.NewGeminiClient(ctx, apiKey)
	if err != nil {
		return nil, err
	}
	if !skipValidateFlag {
		if err := auth.ValidateAPIKey(ctx, client, cfg.ValidationModel); err != nil {
			return nil, fmt.Errorf("invalid API key: %w", err)
		}
	}

	sink, sinkName, err := newSink(ctx, cfg, dialogs)
	if err != nil {
		return nil, err
	}

	editor := chat.NewGeminiEditor(client, cfg.Model, cfg.SystemInstruction)
	return assemble(cfg, editor, sink, sinkName, dialogs)
}

// assemble wires everything below the editor and sink.
func assemble(cfg config.Config, editor workflow.Editor, sink gate.Sink, sinkName string, dialogs bool) (*app, error) {
	dir, err := os.MkdirTemp("", "image-edit-previews-")
	if err != nil {
		return nil, fmt.Errorf("create preview directory: %w", err)
	}
	previews := ingest.NewTempPreviewStore(dir, cfg.PreviewMaxDimension, ingest.WithMaxPixels(cfg.PreviewMaxPixels))
	ingestor := ingest.NewIngestor(previews, ingest.WithMaxBytes(cfg.MaxImageBytes))

	wf := workflow.New(ingestor, editor, history.New(cfg.HistorySize), workflow.WithEditTimeout(cfg.EditTimeout))

	var notifier gate.Notifier = gate.LogNotifier{}
	if dialogs {
		notifier = gate.DialogNotifier{}
	}
	g := gate.New(wf, sink, gate.WithNotifier(notifier))

	return &app{cfg: cfg, workflow: wf, gate: g, previews: previews, sinkName: sinkName}, nil
}

func newSink(ctx context.Context, cfg config.Config, dialogs bool) (gate.Sink, string, error) {
	switch {
	case cfg.S3Bucket != "":
		s, err := gate.NewS3Sink(ctx, cfg.S3Bucket, cfg.S3Prefix)
		if err != nil {
			return nil, "", err
		}
		return s, "s3://" + cfg.S3Bucket + "/" + cfg.S3Prefix, nil
	case dialogs:
		return gate.DialogSink{Dir: cfg.OutputDir}, "dialog", nil
	default:
		return gate.DirSink{Dir: cfg.OutputDir}, cfg.OutputDir, nil
	}
}

// Close releases the live preview and removes the preview directory.
func (a *app) Close() {
	if err := a.workflow.Close(); err != nil {
		log.Warn().Err(err).Msg("Failed to release preview")
	}
	if err := os.RemoveAll(a.previews.Dir()); err != nil {
		log.Warn().Err(err).Msg("Failed to remove preview directory")
	}
}

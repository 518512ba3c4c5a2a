package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/velkorra/whisper/internal/audio"
	"github.com/velkorra/whisper/internal/download"
	"github.com/velkorra/whisper/internal/history"
	"github.com/velkorra/whisper/internal/output"
	"github.com/velkorra/whisper/internal/platform"
	"github.com/velkorra/whisper/internal/transcribe"
	"github.com/velkorra/whisper/internal/transcript"
	"github.com/velkorra/whisper/internal/whisper"
	"go.uber.org/zap"
)

// runTranscribe is the root command: transcribe, report, save and record.
func (a *appState) runTranscribe(ctx context.Context, audioPath string) error {
	format, err := output.ParseFormat(a.format)
	if err != nil {
		return err
	}

	opts := a.opts
	opts.AudioPath = audioPath
	opts.Format = format
	for _, notice := range opts.Normalize() {
		a.log().Warn(notice)
	}
	if err := opts.Validate(); err != nil {
		return err
	}

	out := a.outWriter()
	printHeader(out, opts)

	started := a.now()
	report, runErr := a.runFn(ctx, opts)
	if runErr != nil {
		a.log().Error("transcription failed", zap.Error(runErr), zap.Duration("elapsed", time.Since(started)))
		a.recordHistory(ctx, opts, report, "", runErr)
		return runErr
	}

	printResult(out, report, opts.ShowFullText)

	outputPath := opts.OutputFile
	if strings.TrimSpace(outputPath) == "" {
		outputPath = output.DefaultPath(opts.AudioPath, opts.Format)
	}
	data, err := output.Render(opts.Format, report.Result, output.Meta{
		Audio:       filepath.Base(opts.AudioPath),
		Model:       opts.Model,
		Engine:      opts.Engine,
		Device:      opts.Device,
		ComputeType: opts.ComputeType,
	})
	if err != nil {
		a.recordHistory(ctx, opts, report, "", err)
		return err
	}

	backup, err := output.SaveWithBackup(outputPath, data)
	if err != nil {
		err = fmt.Errorf("save transcript: %w", err)
		a.recordHistory(ctx, opts, report, "", err)
		return err
	}
	printSaved(out, outputPath, backup)

	a.recordHistory(ctx, opts, report, outputPath, nil)
	return nil
}

// runTranscription is the production runFn: it builds the engine for
// opts.Engine and drives the runner with progress output.
func (a *appState) runTranscription(ctx context.Context, opts transcribe.Options) (transcribe.Report, error) {
	// Fail before any model download or server health check.
	if _, err := os.Stat(opts.AudioPath); err != nil {
		return transcribe.Report{}, fmt.Errorf("audio file not found: %w", err)
	}

	engine, modelPath, err := a.buildEngine(ctx, opts)
	if err != nil {
		return transcribe.Report{}, err
	}

	if opts.Engine == whisper.EngineBundled && opts.VADFilter && opts.VADModel == "" {
		opts.VADModel = a.ensureVADModel(ctx, opts.AutoDownload)
	}

	runner := &transcribe.Runner{
		Engine:    engine,
		ModelPath: modelPath,
		Logger:    a.log(),
		DetectGPU: a.detectGPUFn,
		Now:       a.now,
	}

	tools, err := audio.NewTools(a.log())
	if err != nil {
		a.log().Debug("ffmpeg unavailable; audio conversion disabled", zap.Error(err))
	} else {
		runner.Audio = tools
	}

	progress := startTranscriptionProgress(a.progressEnabled(), "Transcribing")
	defer progress.Stop()
	runner.OnProgress = func(p transcript.Progress) {
		progress.Update(p)
	}

	return runner.Run(ctx, opts)
}

// buildEngine returns the engine and, for the bundled engine, the local
// model path.
func (a *appState) buildEngine(ctx context.Context, opts transcribe.Options) (whisper.Engine, string, error) {
	switch opts.Engine {
	case whisper.EngineSidecar:
		url := opts.ServerURL
		if strings.TrimSpace(url) == "" {
			url = whisper.DefaultSidecarURL
		}
		engine := whisper.NewSidecarEngine(url, a.log())
		if err := engine.Health(ctx); err != nil {
			return nil, "", err
		}
		return engine, "", nil

	case whisper.EngineOpenAI:
		if strings.TrimSpace(opts.APIKey) == "" && strings.TrimSpace(opts.ServerURL) == "" {
			return nil, "", errors.New("the openai engine needs --api-key (or TRANSCRIBE_API_KEY / OPENAI_API_KEY) or a --server-url for a self-hosted endpoint")
		}
		// Local model names mean nothing to the hosted API.
		model := ""
		if opts.ServerURL == "" {
			if _, ok := whisper.LookupModel(opts.Model); ok {
				model = "whisper-1"
			}
		}
		return whisper.NewOpenAIEngine(opts.APIKey, opts.ServerURL, model, a.log()), "", nil

	default:
		model, err := a.ensureModelAvailable(ctx, opts)
		if err != nil {
			return nil, "", err
		}
		engine, err := whisper.NewBundledEngine(a.log())
		if err != nil {
			return nil, "", err
		}
		return engine, model.Path, nil
	}
}

func (a *appState) ensureModelAvailable(ctx context.Context, opts transcribe.Options) (whisper.ResolvedModel, error) {
	modelDir, err := a.modelStorageDir()
	if err != nil {
		return whisper.ResolvedModel{}, err
	}

	resolved, err := whisper.ResolveModel(opts.Model, modelDir)
	if err != nil {
		return whisper.ResolvedModel{}, err
	}

	if !resolved.NeedsDownload {
		return resolved, nil
	}

	if !opts.AutoDownload {
		return whisper.ResolvedModel{}, fmt.Errorf("model %q is missing at %s; run `transcribe setup --model %s` or use --auto-download=true", resolved.Name, resolved.Path, resolved.Name)
	}

	a.log().Info("model not found, downloading", zap.String("model", resolved.Name), zap.String("destination", resolved.Path))
	if err := download.DownloadFile(ctx, download.Options{
		URL:            resolved.URL,
		Destination:    resolved.Path,
		ExpectedSHA256: resolved.SHA256,
		ChecksumURL:    resolved.SHA256URL,
		Label:          "Downloading " + resolved.Name,
		NoProgress:     a.noProgress,
		Logger:         a.log(),
	}); err != nil {
		return whisper.ResolvedModel{}, fmt.Errorf("download model %q: %w", resolved.Name, err)
	}

	resolved.NeedsDownload = false
	return resolved, nil
}

// ensureVADModel returns the managed VAD model path, downloading it when
// allowed. An empty result leaves the engine to run without VAD.
func (a *appState) ensureVADModel(ctx context.Context, autoDownload bool) string {
	modelDir, err := a.modelStorageDir()
	if err != nil {
		a.log().Warn("cannot locate VAD model", zap.Error(err))
		return ""
	}
	vad, err := whisper.ResolveVADModel(modelDir)
	if err != nil {
		a.log().Warn("cannot locate VAD model", zap.Error(err))
		return ""
	}
	if !vad.NeedsDownload {
		return vad.Path
	}
	if !autoDownload {
		a.log().Warn("VAD model missing; run `transcribe setup --vad` or pass --vad-model", zap.String("path", vad.Path))
		return ""
	}

	if err := download.DownloadFile(ctx, download.Options{
		URL:         vad.URL,
		Destination: vad.Path,
		Label:       "Downloading " + vad.Name,
		NoProgress:  a.noProgress,
		Logger:      a.log(),
	}); err != nil {
		a.log().Warn("VAD model download failed; continuing without VAD", zap.Error(err))
		return ""
	}
	return vad.Path
}

// recordHistory never fails the run; history problems are only logged.
func (a *appState) recordHistory(ctx context.Context, opts transcribe.Options, report transcribe.Report, outputPath string, runErr error) {
	if a.noHistory {
		return
	}

	store, err := a.openHistory(ctx)
	if err != nil {
		a.log().Warn("history unavailable", zap.Error(err))
		return
	}
	defer store.Close()

	result := report.Result
	run := history.Run{
		ID:               a.runID,
		AudioPath:        absPath(opts.AudioPath),
		Model:            opts.Model,
		Engine:           opts.Engine,
		Device:           opts.Device,
		ComputeType:      opts.ComputeType,
		Language:         result.Language,
		Duration:         result.Duration,
		ProcessingTime:   result.ProcessingTime,
		TotalSegments:    result.TotalSegments,
		AcceptedSegments: len(result.Segments),
		SkippedSegments:  result.SkippedLoops,
		OutputPath:       outputPath,
	}
	if outputPath != "" {
		run.OutputPath = absPath(outputPath)
	}
	if runErr != nil {
		run.Error = runErr.Error()
	}

	id, err := store.Record(ctx, run)
	if err != nil {
		a.log().Warn("could not record run in history", zap.Error(err))
		return
	}
	a.log().Debug("run recorded", zap.String("id", id))
}

func (a *appState) openHistory(ctx context.Context) (*history.Store, error) {
	dir, err := platform.ResolveDataDir(a.dataDir)
	if err != nil {
		return nil, err
	}
	return history.Open(ctx, filepath.Join(dir, history.FileName))
}

func absPath(path string) string {
	if abs, err := filepath.Abs(path); err == nil {
		return abs
	}
	return path
}

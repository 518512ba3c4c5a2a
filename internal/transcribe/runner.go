// Package transcribe drives one transcription run from an input file to a
// collected transcript.
package transcribe

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/velkorra/whisper/internal/audio"
	"github.com/velkorra/whisper/internal/gpu"
	"github.com/velkorra/whisper/internal/transcript"
	"github.com/velkorra/whisper/internal/whisper"
	"go.uber.org/zap"
)

type AudioTools interface {
	Probe(ctx context.Context, path string) (audio.Probe, error)
	Prepare(ctx context.Context, inputPath, workDir string) (audio.Prepared, error)
}

type Runner struct {
	Engine whisper.Engine
	// ModelPath is the local model file for the bundled engine.
	ModelPath string
	// Audio may be nil when ffmpeg is not installed; only whisper-ready WAV
	// input then works with the bundled engine.
	Audio  AudioTools
	Logger *zap.Logger

	DetectGPU  func(ctx context.Context) gpu.Report
	OnProgress func(transcript.Progress)
	OnSegment  func(whisper.Segment)

	WorkDir string
	Now     func() time.Time
}

type Report struct {
	Result    transcript.Result
	SizeBytes int64
	Probe     audio.Probe
	Advice    []string
	// Silent is set when the silence gate skipped the engine.
	Silent bool
}

func (r *Runner) Run(ctx context.Context, opts Options) (Report, error) {
	if r.Engine == nil {
		return Report{}, errors.New("no transcription engine configured")
	}
	logger := r.log()

	audioPath := filepath.Clean(opts.AudioPath)
	stat, err := os.Stat(audioPath)
	if err != nil {
		return Report{}, fmt.Errorf("audio file not found: %w", err)
	}
	if stat.IsDir() {
		return Report{}, fmt.Errorf("audio path %s is a directory", audioPath)
	}

	report := Report{SizeBytes: stat.Size(), Advice: opts.Advise(stat.Size())}
	logger.Info("audio file", zap.String("audio", audioPath), zap.String("size", formatMB(stat.Size())))
	for _, hint := range report.Advice {
		logger.Info("large file: " + hint)
	}

	if r.Audio != nil {
		probe, err := r.Audio.Probe(ctx, audioPath)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return report, ctxErr
			}
			logger.Warn("could not probe audio; duration unknown", zap.Error(err))
		} else {
			report.Probe = probe
			logger.Info("audio duration",
				zap.String("seconds", fmt.Sprintf("%.2f", probe.Duration)),
				zap.String("minutes", fmt.Sprintf("%.1f", probe.Duration/60)),
			)
		}
	}

	r.warnIfNoGPU(ctx, opts)

	enginePath := audioPath
	if r.Engine.Name() == whisper.EngineBundled {
		prepared, err := r.prepare(ctx, audioPath)
		if err != nil {
			return report, err
		}
		defer prepared.Cleanup()
		enginePath = prepared.Path
	}

	duration := report.Probe.Duration
	if duration == 0 && strings.EqualFold(filepath.Ext(enginePath), ".wav") {
		if info, err := audio.InspectWAV(enginePath); err == nil {
			duration = info.Duration()
		}
	}

	collector := transcript.NewCollector(transcript.Options{
		Duration:   duration,
		Logger:     logger,
		OnProgress: r.OnProgress,
		OnAccept:   r.OnSegment,
		Now:        r.Now,
	})

	if opts.SilenceGate && r.silent(enginePath, opts.SilenceDBFS) {
		report.Silent = true
		report.Result = collector.Finish(whisper.Info{Duration: duration})
		return report, nil
	}

	req := opts.Request(enginePath, r.ModelPath)
	logger.Debug("starting engine",
		zap.String("engine", r.Engine.Name()),
		zap.String("model", req.ModelName),
		zap.String("language", req.Language),
		zap.Int("beam_size", req.BeamSize),
		zap.Bool("vad_filter", req.VADFilter),
	)

	info, err := r.Engine.Transcribe(ctx, req, collector.Add)
	if err != nil {
		return report, err
	}
	if info.Language != "" {
		logger.Info("language", zap.String("language", info.Language), zap.String("probability", fmt.Sprintf("%.2f", info.LanguageProbability)))
	}

	report.Result = collector.Finish(info)
	return report, nil
}

func (r *Runner) prepare(ctx context.Context, audioPath string) (audio.Prepared, error) {
	if r.Audio != nil {
		workDir := r.WorkDir
		if workDir == "" {
			dir, err := os.MkdirTemp("", "transcribe-*")
			if err != nil {
				return audio.Prepared{}, fmt.Errorf("create work directory: %w", err)
			}
			workDir = dir
			prepared, err := r.Audio.Prepare(ctx, audioPath, workDir)
			if err != nil {
				_ = os.RemoveAll(dir)
				return audio.Prepared{}, err
			}
			cleanup := prepared.Cleanup
			prepared.Cleanup = func() {
				cleanup()
				_ = os.RemoveAll(dir)
			}
			return prepared, nil
		}
		return r.Audio.Prepare(ctx, audioPath, workDir)
	}

	if info, err := audio.InspectWAV(audioPath); err == nil && info.IsWhisperReady() {
		return audio.Prepared{Path: audioPath, Cleanup: func() {}}, nil
	}
	return audio.Prepared{}, fmt.Errorf("%w: install ffmpeg to transcribe %s, or pass 16 kHz mono PCM WAV", audio.ErrToolMissing, filepath.Base(audioPath))
}

func (r *Runner) silent(path string, thresholdDBFS float64) bool {
	if !strings.EqualFold(filepath.Ext(path), ".wav") {
		return false
	}

	silent, metrics, err := audio.IsSilentWAV(path, thresholdDBFS)
	if err != nil {
		r.log().Warn("silence gate analysis failed; continuing transcription", zap.Error(err), zap.String("audio", path))
		return false
	}
	if silent {
		r.log().Info("audio considered silent; skipping transcription",
			zap.Float64("rms_dbfs", metrics.RMSdBFS),
			zap.Float64("peak_dbfs", metrics.PeakdBFS),
			zap.Float64("threshold_dbfs", thresholdDBFS),
		)
	}
	return silent
}

func (r *Runner) warnIfNoGPU(ctx context.Context, opts Options) {
	if r.DetectGPU == nil || opts.Device != "cuda" || r.Engine.Name() != whisper.EngineBundled {
		return
	}
	report := r.DetectGPU(ctx)
	if report.Available {
		return
	}
	r.log().Warn("device cuda requested but no GPU is visible; whisper.cpp will fall back to CPU or fail. Use --device cpu to silence this warning",
		zap.String("reason", report.Reason))
}

func (r *Runner) log() *zap.Logger {
	if r.Logger == nil {
		return zap.NewNop()
	}
	return r.Logger
}

func formatMB(size int64) string {
	return fmt.Sprintf("%.1f MB", float64(size)/(1024*1024))
}

package audio

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"go.uber.org/zap"
)

// TargetSampleRate is the sample rate whisper models are trained on.
const TargetSampleRate = 16000

var ErrToolMissing = errors.New("ffmpeg tooling not found on PATH")

// Probe is the subset of ffprobe output the transcriber cares about.
type Probe struct {
	Duration   float64
	FormatName string
	Codec      string
	SampleRate int
	Channels   int
}

// Prepared is an engine-ready audio file. Cleanup removes it when it was
// produced by conversion and is a no-op otherwise.
type Prepared struct {
	Path      string
	Converted bool
	Cleanup   func()
}

type Tools struct {
	FFmpeg  string
	FFprobe string
	Logger  *zap.Logger
}

func NewTools(logger *zap.Logger) (*Tools, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	ffmpeg, err := exec.LookPath("ffmpeg")
	if err != nil {
		return nil, fmt.Errorf("%w: ffmpeg", ErrToolMissing)
	}
	ffprobe, err := exec.LookPath("ffprobe")
	if err != nil {
		return nil, fmt.Errorf("%w: ffprobe", ErrToolMissing)
	}

	return &Tools{FFmpeg: ffmpeg, FFprobe: ffprobe, Logger: logger}, nil
}

type ffprobeOutput struct {
	Streams []struct {
		CodecType  string `json:"codec_type"`
		CodecName  string `json:"codec_name"`
		SampleRate string `json:"sample_rate"`
		Channels   int    `json:"channels"`
		Duration   string `json:"duration"`
	} `json:"streams"`
	Format struct {
		FormatName string `json:"format_name"`
		Duration   string `json:"duration"`
	} `json:"format"`
}

func (t *Tools) Probe(ctx context.Context, path string) (Probe, error) {
	cmd := exec.CommandContext(ctx, t.FFprobe, "-v", "error", "-print_format", "json", "-show_format", "-show_streams", path)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	out, err := cmd.Output()
	if err != nil {
		return Probe{}, fmt.Errorf("ffprobe %s: %w (%s)", path, err, strings.TrimSpace(stderr.String()))
	}

	return parseProbe(out)
}

func parseProbe(raw []byte) (Probe, error) {
	var parsed ffprobeOutput
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return Probe{}, fmt.Errorf("decode ffprobe output: %w", err)
	}

	probe := Probe{FormatName: parsed.Format.FormatName}
	probe.Duration = parseSeconds(parsed.Format.Duration)

	found := false
	for _, stream := range parsed.Streams {
		if stream.CodecType != "audio" {
			continue
		}
		found = true
		probe.Codec = stream.CodecName
		probe.Channels = stream.Channels
		probe.SampleRate, _ = strconv.Atoi(stream.SampleRate)
		if probe.Duration == 0 {
			probe.Duration = parseSeconds(stream.Duration)
		}
		break
	}

	if !found {
		return Probe{}, errors.New("no audio stream found")
	}

	return probe, nil
}

func parseSeconds(value string) float64 {
	seconds, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil || seconds < 0 {
		return 0
	}
	return seconds
}

// ConvertToWAV resamples any ffmpeg-readable input into 16 kHz mono
// 16-bit PCM.
func (t *Tools) ConvertToWAV(ctx context.Context, inputPath, outputPath string) error {
	args := []string{
		"-nostdin", "-hide_banner", "-loglevel", "error", "-y",
		"-i", inputPath,
		"-vn",
		"-ac", "1",
		"-ar", strconv.Itoa(TargetSampleRate),
		"-c:a", "pcm_s16le",
		outputPath,
	}

	cmd := exec.CommandContext(ctx, t.FFmpeg, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	t.log().Debug("running ffmpeg", zap.String("ffmpeg", t.FFmpeg), zap.Strings("args", args))
	if err := cmd.Run(); err != nil {
		_ = os.Remove(outputPath)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return fmt.Errorf("ffmpeg convert %s: %w (%s)", inputPath, err, strings.TrimSpace(stderr.String()))
	}

	return nil
}

// Prepare returns a path the engines can read directly, converting into
// workDir when the input is not already a whisper-ready WAV.
func (t *Tools) Prepare(ctx context.Context, inputPath, workDir string) (Prepared, error) {
	if strings.EqualFold(filepath.Ext(inputPath), ".wav") {
		if info, err := InspectWAV(inputPath); err == nil && info.IsWhisperReady() {
			t.log().Debug("input already 16 kHz mono PCM; skipping conversion", zap.String("audio", inputPath))
			return Prepared{Path: inputPath, Cleanup: func() {}}, nil
		}
	}

	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return Prepared{}, fmt.Errorf("create work directory: %w", err)
	}

	base := strings.TrimSuffix(filepath.Base(inputPath), filepath.Ext(inputPath))
	out := filepath.Join(workDir, base+"_16khz.wav")

	t.log().Info("converting audio to 16 kHz mono wav", zap.String("audio", inputPath), zap.String("output", out))
	if err := t.ConvertToWAV(ctx, inputPath, out); err != nil {
		return Prepared{}, err
	}

	return Prepared{
		Path:      out,
		Converted: true,
		Cleanup: func() {
			if err := os.Remove(out); err != nil && !errors.Is(err, os.ErrNotExist) {
				t.log().Warn("failed to remove converted audio", zap.String("path", out), zap.Error(err))
			}
		},
	}, nil
}

func (t *Tools) log() *zap.Logger {
	if t.Logger == nil {
		return zap.NewNop()
	}
	return t.Logger
}

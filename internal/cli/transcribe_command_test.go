package cli

import (
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/velkorra/whisper/internal/history"
	"github.com/velkorra/whisper/internal/transcribe"
	"github.com/velkorra/whisper/internal/transcript"
	"github.com/velkorra/whisper/internal/whisper"
)

func sampleReport() transcribe.Report {
	return transcribe.Report{Result: transcript.Result{
		Text: "Hello there.\nGeneral remarks follow.",
		Segments: []whisper.Segment{
			{Start: 0, End: 2, Text: "Hello there."},
			{Start: 2, End: 5, Text: "General remarks follow."},
		},
		TotalSegments:       3,
		SkippedLoops:        1,
		Duration:            120,
		ProcessingTime:      30 * time.Second,
		Language:            "en",
		LanguageProbability: 0.97,
	}}
}

func TestTranscribeSavesTranscriptAndPrintsReport(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	outputPath := filepath.Join(dir, "out.txt")

	var got transcribe.Options
	app := newTestApp(t, nil)
	app.runFn = func(_ context.Context, opts transcribe.Options) (transcribe.Report, error) {
		got = opts
		return sampleReport(), nil
	}

	stdout, _, err := execute(t, app, []string{"talk.mp3", "--output-file", outputPath, "--device", "CPU", "--language", "EN", "--no-progress"})
	require.NoError(t, err)

	require.Equal(t, "talk.mp3", got.AudioPath)
	require.Equal(t, "cpu", got.Device)
	require.Equal(t, "int8", got.ComputeType)
	require.Equal(t, "en", got.Language)

	data, err := os.ReadFile(outputPath)
	require.NoError(t, err)
	require.Equal(t, "Hello there.\nGeneral remarks follow.", string(data))

	require.Contains(t, stdout, "Transcribing: talk.mp3")
	require.Contains(t, stdout, "TRANSCRIPTION RESULT")
	require.Contains(t, stdout, "Language: en (probability 0.97)")
	require.Contains(t, stdout, "Audio duration: 2.0 min")
	require.Contains(t, stdout, "Speed: 4.0x real time")
	require.Contains(t, stdout, "Segments: 2 of 3 kept (1 repetition loops skipped)")
	require.Contains(t, stdout, "Hello there.")
	require.Contains(t, stdout, "Transcript saved to "+outputPath)
	require.NotContains(t, stdout, "--show-full-text")
}

func TestTranscribeRotatesExistingOutput(t *testing.T) {
	t.Parallel()

	outputPath := filepath.Join(t.TempDir(), "out.txt")
	require.NoError(t, os.WriteFile(outputPath, []byte("old"), 0o644))

	app := newTestApp(t, nil)
	app.runFn = func(context.Context, transcribe.Options) (transcribe.Report, error) {
		return sampleReport(), nil
	}

	stdout, _, err := execute(t, app, []string{"talk.mp3", "--output-file", outputPath})
	require.NoError(t, err)
	require.Contains(t, stdout, "Previous transcript moved to "+outputPath+".backup")

	backup, err := os.ReadFile(outputPath + ".backup")
	require.NoError(t, err)
	require.Equal(t, "old", string(backup))
}

func TestTranscribeRendersRequestedFormat(t *testing.T) {
	t.Parallel()

	outputPath := filepath.Join(t.TempDir(), "out.srt")
	app := newTestApp(t, nil)
	app.runFn = func(context.Context, transcribe.Options) (transcribe.Report, error) {
		return sampleReport(), nil
	}

	_, _, err := execute(t, app, []string{"talk.mp3", "--format", "srt", "--output-file", outputPath})
	require.NoError(t, err)

	data, err := os.ReadFile(outputPath)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(string(data), "1\n00:00:00,000 --> 00:00:02,000\nHello there.\n"))
}

func TestTranscribeEmptyResultIsSavedWithHint(t *testing.T) {
	t.Parallel()

	outputPath := filepath.Join(t.TempDir(), "out.txt")
	app := newTestApp(t, nil)
	app.runFn = func(context.Context, transcribe.Options) (transcribe.Report, error) {
		return transcribe.Report{Result: transcript.Result{Duration: 60}}, nil
	}

	stdout, _, err := execute(t, app, []string{"talk.mp3", "--output-file", outputPath})
	require.NoError(t, err)
	require.Contains(t, stdout, "No speech was recognised")

	data, err := os.ReadFile(outputPath)
	require.NoError(t, err)
	require.Empty(t, data)
}

func TestTranscribeSilentResultSaysSo(t *testing.T) {
	t.Parallel()

	outputPath := filepath.Join(t.TempDir(), "out.txt")
	app := newTestApp(t, nil)
	app.runFn = func(context.Context, transcribe.Options) (transcribe.Report, error) {
		return transcribe.Report{Silent: true}, nil
	}

	stdout, _, err := execute(t, app, []string{"quiet.wav", "--output-file", outputPath})
	require.NoError(t, err)
	require.Contains(t, stdout, "The audio is silent")
}

func TestTranscribePreviewAndFullText(t *testing.T) {
	t.Parallel()

	long := strings.Repeat("word ", 100)
	report := transcribe.Report{Result: transcript.Result{Text: long}}

	app := newTestApp(t, nil)
	app.runFn = func(context.Context, transcribe.Options) (transcribe.Report, error) { return report, nil }
	stdout, _, err := execute(t, app, []string{"talk.mp3", "--output-file", filepath.Join(t.TempDir(), "a.txt")})
	require.NoError(t, err)
	require.Contains(t, stdout, "use --show-full-text")
	require.NotContains(t, stdout, long)

	app = newTestApp(t, nil)
	app.runFn = func(context.Context, transcribe.Options) (transcribe.Report, error) { return report, nil }
	stdout, _, err = execute(t, app, []string{"talk.mp3", "--show-full-text", "--output-file", filepath.Join(t.TempDir(), "b.txt")})
	require.NoError(t, err)
	require.Contains(t, stdout, long)
	require.NotContains(t, stdout, "use --show-full-text")
}

func TestTranscribeFailureIsRecordedAndReturned(t *testing.T) {
	t.Parallel()

	outputPath := filepath.Join(t.TempDir(), "out.txt")
	boom := errors.New("engine crashed")

	app := newTestApp(t, nil)
	app.runFn = func(context.Context, transcribe.Options) (transcribe.Report, error) {
		return transcribe.Report{}, boom
	}

	_, _, err := execute(t, app, []string{"talk.mp3", "--output-file", outputPath})
	require.ErrorIs(t, err, boom)
	require.NoFileExists(t, outputPath)

	store, err := history.Open(context.Background(), filepath.Join(app.dataDir, history.FileName))
	require.NoError(t, err)
	defer store.Close()

	runs, err := store.Recent(context.Background(), 5)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	require.Equal(t, history.StatusFailed, runs[0].Status)
	require.Equal(t, "engine crashed", runs[0].Error)
}

func TestTranscribeSaveFailureIsAnError(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	app := newTestApp(t, nil)
	app.runFn = func(context.Context, transcribe.Options) (transcribe.Report, error) {
		return sampleReport(), nil
	}

	_, _, err := execute(t, app, []string{"talk.mp3", "--output-file", dir})
	require.Error(t, err)
	require.Contains(t, err.Error(), "save transcript")
}

func TestTranscribeRecordsSuccessfulRunInHistory(t *testing.T) {
	t.Parallel()

	outputPath := filepath.Join(t.TempDir(), "out.txt")
	app := newTestApp(t, nil)
	app.runFn = func(context.Context, transcribe.Options) (transcribe.Report, error) {
		return sampleReport(), nil
	}

	_, _, err := execute(t, app, []string{"talk.mp3", "--output-file", outputPath, "--model", "small"})
	require.NoError(t, err)

	stdout, _, err := execute(t, app, []string{"history", "--limit", "5"})
	require.NoError(t, err)
	require.Contains(t, stdout, "talk.mp3")
	require.Contains(t, stdout, "small")
	require.Contains(t, stdout, "2/3")
	require.Contains(t, stdout, history.StatusOK)
}

func TestTranscribeNoHistory(t *testing.T) {
	t.Parallel()

	app := newTestApp(t, nil)
	app.runFn = func(context.Context, transcribe.Options) (transcribe.Report, error) {
		return sampleReport(), nil
	}

	_, _, err := execute(t, app, []string{"talk.mp3", "--no-history", "--output-file", filepath.Join(t.TempDir(), "out.txt")})
	require.NoError(t, err)
	require.NoFileExists(t, filepath.Join(app.dataDir, history.FileName))
}

func TestHistoryEmpty(t *testing.T) {
	t.Parallel()

	stdout, _, err := execute(t, newTestApp(t, nil), []string{"history"})
	require.NoError(t, err)
	require.Contains(t, stdout, "No transcription runs recorded yet.")
}

func TestModelsListsInstalledState(t *testing.T) {
	t.Parallel()

	modelDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(modelDir, "ggml-tiny.bin"), []byte("model"), 0o644))

	stdout, _, err := execute(t, newTestApp(t, nil), []string{"models", "--model-dir", modelDir})
	require.NoError(t, err)

	lines := strings.Split(stdout, "\n")
	var tiny, base string
	for _, line := range lines {
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		switch fields[0] {
		case "tiny":
			tiny = fields[1]
		case "base":
			base = fields[1]
		}
	}
	require.Equal(t, "yes", tiny)
	require.Equal(t, "no", base)
	require.Contains(t, stdout, "Model directory: "+modelDir)
}

// The bundled engine path end to end, with a stand-in whisper-cli.
func TestTranscribeBundledEngineEndToEnd(t *testing.T) {
	dir := t.TempDir()

	script := "#!/bin/sh\n" +
		"echo 'auto-detected language: de (p = 0.912345)' >&2\n" +
		"echo '[00:00:00.000 --> 00:00:00.500]   Guten Tag.'\n" +
		"echo '[00:00:00.500 --> 00:00:01.000]   Wie geht es?'\n"
	enginePath := filepath.Join(dir, "whisper-cli")
	require.NoError(t, os.WriteFile(enginePath, []byte(script), 0o755))
	t.Setenv(whisper.WhisperPathEnv, enginePath)

	modelPath := filepath.Join(dir, "ggml-custom.bin")
	require.NoError(t, os.WriteFile(modelPath, []byte("model"), 0o644))

	samples := make([]int16, 16000)
	for i := range samples {
		samples[i] = int16(8000 * math.Sin(2*math.Pi*440*float64(i)/16000))
	}
	audioPath := filepath.Join(dir, "talk.wav")
	require.NoError(t, os.WriteFile(audioPath, makePCM16WAVForTest(samples, 16000, 1), 0o644))

	outputPath := filepath.Join(dir, "talk.json")
	app := newTestApp(t, nil)
	app.runFn = app.runTranscription

	stdout, _, err := execute(t, app, []string{audioPath, "--model", modelPath, "--device", "cpu", "--format", "json", "--output-file", outputPath, "--no-progress"})
	require.NoError(t, err)
	require.Contains(t, stdout, "Language: de (probability 0.91)")
	require.Contains(t, stdout, "Guten Tag.\nWie geht es?")

	data, err := os.ReadFile(outputPath)
	require.NoError(t, err)
	require.Contains(t, string(data), `"language": "de"`)
	require.Contains(t, string(data), `"text": "Wie geht es?"`)
}

func TestSetupReportsInstalledModels(t *testing.T) {
	t.Parallel()

	modelDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(modelDir, "ggml-tiny.en.bin"), []byte("model"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(modelDir, whisper.VADModel.FileName), []byte("vad"), 0o644))

	stdout, _, err := execute(t, newTestApp(t, nil), []string{"setup", "--model", "tiny.en", "--model-dir", modelDir, "--vad"})
	require.NoError(t, err)
	require.Contains(t, stdout, "Model tiny.en already present at "+filepath.Join(modelDir, "ggml-tiny.en.bin"))
	require.Contains(t, stdout, "Model silero-v5.1.2 already present")
}

func TestSetupRejectsCustomPath(t *testing.T) {
	t.Parallel()

	modelPath := filepath.Join(t.TempDir(), "ggml-mine.bin")
	require.NoError(t, os.WriteFile(modelPath, []byte("model"), 0o644))

	_, _, err := execute(t, newTestApp(t, nil), []string{"setup", "--model", modelPath})
	require.Error(t, err)
	require.Contains(t, err.Error(), "setup expects a named model")
}

func TestOpenAIEngineRequiresCredentials(t *testing.T) {
	t.Parallel()

	audioPath := filepath.Join(t.TempDir(), "talk.mp3")
	require.NoError(t, os.WriteFile(audioPath, []byte("ID3"), 0o644))

	app := newTestApp(t, nil)
	app.runFn = app.runTranscription
	_, _, err := execute(t, app, []string{audioPath, "--engine", "openai", "--output-file", filepath.Join(t.TempDir(), "out.txt")})
	require.Error(t, err)
	require.Contains(t, err.Error(), "needs --api-key")
}

func TestSidecarEngineFailsFastWhenUnreachable(t *testing.T) {
	t.Parallel()

	audioPath := filepath.Join(t.TempDir(), "talk.mp3")
	require.NoError(t, os.WriteFile(audioPath, []byte("ID3"), 0o644))

	app := newTestApp(t, nil)
	app.runFn = app.runTranscription
	_, _, err := execute(t, app, []string{audioPath, "--engine", "sidecar", "--server-url", "http://127.0.0.1:1", "--output-file", filepath.Join(t.TempDir(), "out.txt")})
	require.ErrorIs(t, err, whisper.ErrEngineUnavailable)
}

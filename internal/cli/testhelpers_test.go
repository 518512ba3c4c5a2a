package cli

import (
	"bytes"
	"context"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/velkorra/whisper/internal/config"
	"github.com/velkorra/whisper/internal/gpu"
	"github.com/velkorra/whisper/internal/transcribe"
)

// newTestApp isolates the app from the user's environment, config file and
// history database.
func newTestApp(t *testing.T, env map[string]string) *appState {
	t.Helper()

	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.yaml")
	if _, ok := env[config.EnvConfig]; !ok {
		require.NoError(t, os.WriteFile(configPath, nil, 0o644))
	}

	app := newAppState()
	app.dataDir = filepath.Join(dir, "data")
	app.opts.ModelDir = filepath.Join(dir, "models")
	app.getenv = func(key string) string {
		if key == config.EnvConfig {
			if value, ok := env[key]; ok {
				return value
			}
			return configPath
		}
		return env[key]
	}
	app.detectGPUFn = func(context.Context) gpu.Report {
		return gpu.Report{Reason: "test"}
	}
	app.runFn = func(context.Context, transcribe.Options) (transcribe.Report, error) {
		t.Fatal("runFn must be stubbed for this test")
		return transcribe.Report{}, nil
	}
	return app
}

func execute(t *testing.T, app *appState, args []string) (stdout string, stderr string, err error) {
	t.Helper()

	cmd := newRootCmd(app)
	outBuf := new(bytes.Buffer)
	errBuf := new(bytes.Buffer)

	cmd.SetOut(outBuf)
	cmd.SetErr(errBuf)
	cmd.SetArgs(args)

	err = cmd.Execute()
	return outBuf.String(), errBuf.String(), err
}

func runCommand(t *testing.T, args []string) (stdout string, stderr string, err error) {
	t.Helper()

	app := newTestApp(t, nil)
	app.runFn = app.runTranscription
	return execute(t, app, args)
}

func makePCM16WAVForTest(samples []int16, sampleRate int, channels int) []byte {
	bytesPerSample := 2
	dataSize := len(samples) * bytesPerSample
	fmtChunkSize := 16
	riffSize := 4 + (8 + fmtChunkSize) + (8 + dataSize)

	out := make([]byte, 12+8+fmtChunkSize+8+dataSize)
	off := 0

	copy(out[off:], []byte("RIFF"))
	off += 4
	binary.LittleEndian.PutUint32(out[off:], uint32(riffSize))
	off += 4
	copy(out[off:], []byte("WAVE"))
	off += 4

	copy(out[off:], []byte("fmt "))
	off += 4
	binary.LittleEndian.PutUint32(out[off:], uint32(fmtChunkSize))
	off += 4
	binary.LittleEndian.PutUint16(out[off:], 1)
	off += 2
	binary.LittleEndian.PutUint16(out[off:], uint16(channels))
	off += 2
	binary.LittleEndian.PutUint32(out[off:], uint32(sampleRate))
	off += 4
	binary.LittleEndian.PutUint32(out[off:], uint32(sampleRate*channels*bytesPerSample))
	off += 4
	binary.LittleEndian.PutUint16(out[off:], uint16(channels*bytesPerSample))
	off += 2
	binary.LittleEndian.PutUint16(out[off:], 16)
	off += 2

	copy(out[off:], []byte("data"))
	off += 4
	binary.LittleEndian.PutUint32(out[off:], uint32(dataSize))
	off += 4

	for _, s := range samples {
		binary.LittleEndian.PutUint16(out[off:], uint16(s))
		off += 2
	}

	return out
}

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/require"
)

func testFlags() *pflag.FlagSet {
	flags := pflag.NewFlagSet("transcribe", pflag.ContinueOnError)
	flags.String("model", "medium", "")
	flags.String("device", "cuda", "")
	flags.String("api-key", "", "")
	flags.String("server-url", "", "")
	flags.Int("beam-size", 5, "")
	flags.Bool("vad-filter", false, "")
	return flags
}

func TestLoadYAML(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("model: large-v3\nbeam_size: 2\nvad_filter: false\ncompute_type: int8\n"), 0o644))

	file, err := Load(path, true)
	require.NoError(t, err)
	require.Equal(t, "large-v3", file.Model)
	require.Equal(t, map[string]string{
		"model":        "large-v3",
		"beam-size":    "2",
		"vad-filter":   "false",
		"compute-type": "int8",
	}, file.Values())
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("modle: tiny\n"), 0o644))

	_, err := Load(path, true)
	require.Error(t, err)
	require.Contains(t, err.Error(), "modle")
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "absent.yaml")

	file, err := Load(path, false)
	require.NoError(t, err)
	require.Empty(t, file.Values())

	_, err = Load(path, true)
	require.Error(t, err)
}

func TestLoadEmptyFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, nil, 0o644))

	file, err := Load(path, true)
	require.NoError(t, err)
	require.Empty(t, file.Values())
}

func TestEnvValuesPrefersTranscribeKey(t *testing.T) {
	t.Parallel()

	env := map[string]string{
		EnvAPIKey:    "tk",
		envOpenAIKey: "sk-other",
		EnvServerURL: " http://gpu-box:8000/v1 ",
	}
	values := EnvValues(func(key string) string { return env[key] })
	require.Equal(t, "tk", values["api-key"])
	require.Equal(t, "http://gpu-box:8000/v1", values["server-url"])
	require.NotContains(t, values, "model")

	values = EnvValues(func(key string) string {
		if key == envOpenAIKey {
			return "sk-fallback"
		}
		return ""
	})
	require.Equal(t, "sk-fallback", values["api-key"])
}

func TestApplyPrecedence(t *testing.T) {
	t.Parallel()

	flags := testFlags()
	require.NoError(t, flags.Parse([]string{"--device", "cpu"}))

	applied, err := Apply(flags, map[string]string{"server-url": "http://env", "device": "cuda"})
	require.NoError(t, err)
	require.Equal(t, []string{"server-url"}, applied)

	applied, err = Apply(flags, map[string]string{"server-url": "http://file", "model": "tiny", "beam-size": "1", "unknown": "x"})
	require.NoError(t, err)
	require.Equal(t, []string{"beam-size", "model"}, applied)

	device, _ := flags.GetString("device")
	serverURL, _ := flags.GetString("server-url")
	model, _ := flags.GetString("model")
	beam, _ := flags.GetInt("beam-size")
	require.Equal(t, "cpu", device)
	require.Equal(t, "http://env", serverURL)
	require.Equal(t, "tiny", model)
	require.Equal(t, 1, beam)
}

func TestApplyRejectsBadValue(t *testing.T) {
	t.Parallel()

	_, err := Apply(testFlags(), map[string]string{"beam-size": "many"})
	require.Error(t, err)
	require.Contains(t, err.Error(), "beam-size")
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(path, []byte("TRANSCRIBE_TEST_DOTENV=from-file\n"), 0o644))
	t.Setenv("TRANSCRIBE_TEST_DOTENV", "")
	require.NoError(t, os.Unsetenv("TRANSCRIBE_TEST_DOTENV"))

	loaded, err := LoadDotEnv(filepath.Join(dir, "missing.env"), path)
	require.NoError(t, err)
	require.Equal(t, path, loaded)
	require.Equal(t, "from-file", os.Getenv("TRANSCRIBE_TEST_DOTENV"))

	loaded, err = LoadDotEnv(filepath.Join(dir, "missing.env"))
	require.NoError(t, err)
	require.Empty(t, loaded)
}

// Package config layers environment variables and an optional YAML file
// underneath command-line flags.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

const (
	EnvConfig    = "TRANSCRIBE_CONFIG"
	EnvAPIKey    = "TRANSCRIBE_API_KEY"
	EnvServerURL = "TRANSCRIBE_SERVER_URL"
	EnvModel     = "TRANSCRIBE_MODEL"
	EnvEngine    = "TRANSCRIBE_ENGINE"
	EnvModelDir  = "TRANSCRIBE_MODEL_DIR"

	// OpenAI tooling conventionally reads this one.
	envOpenAIKey = "OPENAI_API_KEY"
)

// File mirrors the long flag names of the root command. Pointer fields
// distinguish an explicit false or zero from an absent key.
type File struct {
	Model        string `yaml:"model"`
	Language     string `yaml:"language"`
	Device       string `yaml:"device"`
	ComputeType  string `yaml:"compute_type"`
	BeamSize     *int   `yaml:"beam_size"`
	VADFilter    *bool  `yaml:"vad_filter"`
	VADModel     string `yaml:"vad_model"`
	Format       string `yaml:"format"`
	Engine       string `yaml:"engine"`
	ServerURL    string `yaml:"server_url"`
	APIKey       string `yaml:"api_key"`
	ModelDir     string `yaml:"model_dir"`
	AutoDownload *bool  `yaml:"auto_download"`
	ShowFullText *bool  `yaml:"show_full_text"`
	NoHistory    *bool  `yaml:"no_history"`
}

// LoadDotEnv loads the first existing file among paths into the process
// environment without overriding variables that are already set.
func LoadDotEnv(paths ...string) (string, error) {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, path := range paths {
		if _, err := os.Stat(path); err != nil {
			continue
		}
		if err := godotenv.Load(path); err != nil {
			return "", fmt.Errorf("load %s: %w", path, err)
		}
		return path, nil
	}
	return "", nil
}

// Load reads a YAML config file. A missing file is only an error when the
// path was given explicitly.
func Load(path string, explicit bool) (File, error) {
	var file File
	if strings.TrimSpace(path) == "" {
		return file, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) && !explicit {
			return file, nil
		}
		return file, fmt.Errorf("read config %s: %w", path, err)
	}

	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&file); err != nil && !errors.Is(err, io.EOF) {
		return file, fmt.Errorf("parse config %s: %w", path, err)
	}
	return file, nil
}

// Values maps flag names to the settings present in the file.
func (f File) Values() map[string]string {
	values := map[string]string{}
	set := func(flag, value string) {
		if strings.TrimSpace(value) != "" {
			values[flag] = value
		}
	}
	setBool := func(flag string, value *bool) {
		if value != nil {
			values[flag] = strconv.FormatBool(*value)
		}
	}

	set("model", f.Model)
	set("language", f.Language)
	set("device", f.Device)
	set("compute-type", f.ComputeType)
	if f.BeamSize != nil {
		values["beam-size"] = strconv.Itoa(*f.BeamSize)
	}
	setBool("vad-filter", f.VADFilter)
	set("vad-model", f.VADModel)
	set("format", f.Format)
	set("engine", f.Engine)
	set("server-url", f.ServerURL)
	set("api-key", f.APIKey)
	set("model-dir", f.ModelDir)
	setBool("auto-download", f.AutoDownload)
	setBool("show-full-text", f.ShowFullText)
	setBool("no-history", f.NoHistory)
	return values
}

// EnvValues maps flag names to settings from the environment.
func EnvValues(getenv func(string) string) map[string]string {
	if getenv == nil {
		getenv = os.Getenv
	}

	values := map[string]string{}
	for flag, keys := range map[string][]string{
		"api-key":    {EnvAPIKey, envOpenAIKey},
		"server-url": {EnvServerURL},
		"model":      {EnvModel},
		"engine":     {EnvEngine},
		"model-dir":  {EnvModelDir},
	} {
		for _, key := range keys {
			if value := strings.TrimSpace(getenv(key)); value != "" {
				values[flag] = value
				break
			}
		}
	}
	return values
}

// Apply sets every flag in values that was not given on the command line
// and returns the names it applied. Call it with the highest-precedence
// source first: applied flags count as changed afterwards.
func Apply(flags *pflag.FlagSet, values map[string]string) ([]string, error) {
	names := make([]string, 0, len(values))
	for name := range values {
		names = append(names, name)
	}
	sort.Strings(names)

	applied := make([]string, 0, len(names))
	for _, name := range names {
		flag := flags.Lookup(name)
		if flag == nil || flag.Changed {
			continue
		}
		if err := flags.Set(name, values[name]); err != nil {
			return applied, fmt.Errorf("apply %s=%q: %w", name, values[name], err)
		}
		applied = append(applied, name)
	}
	return applied, nil
}

package whisper

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

const DefaultModel = "medium"

const ggmlBaseURL = "https://huggingface.co/ggerganov/whisper.cpp/resolve/main/"

type Model struct {
	Name      string
	FileName  string
	URL       string
	SHA256    string
	SHA256URL string
	// EnglishOnly models ignore the language option.
	EnglishOnly bool
}

type ResolvedModel struct {
	Name          string
	Path          string
	URL           string
	SHA256        string
	SHA256URL     string
	EnglishOnly   bool
	NeedsDownload bool
	IsCustomPath  bool
}

func ggml(name, sha string) Model {
	file := "ggml-" + name + ".bin"
	return Model{
		Name:        name,
		FileName:    file,
		URL:         ggmlBaseURL + file,
		SHA256:      sha,
		EnglishOnly: strings.HasSuffix(name, ".en"),
	}
}

func distil(name, repo, file string) Model {
	return Model{
		Name:        name,
		FileName:    file,
		URL:         "https://huggingface.co/distil-whisper/" + repo + "/resolve/main/" + file,
		// Every distil-whisper checkpoint is English only, suffix or not.
		EnglishOnly: true,
	}
}

var registry = map[string]Model{
	"tiny":      ggml("tiny", "be07e048e1e599ad46341c8d2a135645097a538221678b7acdd1b1919c6e1b21"),
	"tiny.en":   ggml("tiny.en", ""),
	"base":      ggml("base", "60ed5bc3dd14eea856493d334349b405782ddcaf0028d4b5df4088345fba2efe"),
	"base.en":   ggml("base.en", ""),
	"small":     ggml("small", "1be3a9b2063867b937e64e2ec7483364a79917e157fa98c5d94b5c1fffea987b"),
	"small.en":  ggml("small.en", ""),
	"medium":    ggml("medium", "6c14d5adee5f86394037b4e4e8b59f1673b6cee10e3cf0b11bbdbee79c156208"),
	"medium.en": ggml("medium.en", ""),
	"large-v1":  ggml("large-v1", ""),
	"large-v2":  ggml("large-v2", ""),
	"large-v3":  ggml("large-v3", "64d182b440b98d5203c4f9bd541544d84c605196c4f7b845dfa11fb23594d1e2"),

	"distil-small.en":  distil("distil-small.en", "distil-small.en", "ggml-distil-small.en.bin"),
	"distil-medium.en": distil("distil-medium.en", "distil-medium.en", "ggml-medium-32-2.en.bin"),
	"distil-large-v2":  distil("distil-large-v2", "distil-large-v2", "ggml-large-32-2.en.bin"),
	"distil-large-v3":  distil("distil-large-v3", "distil-large-v3-ggml", "ggml-distil-large-v3.bin"),
}

// VADModel is the Silero voice activity model whisper.cpp loads for --vad.
var VADModel = Model{
	Name:     "silero-v5.1.2",
	FileName: "ggml-silero-v5.1.2.bin",
	URL:      "https://huggingface.co/ggml-org/whisper-vad/resolve/main/ggml-silero-v5.1.2.bin",
}

// ResolveVADModel locates the VAD model inside modelDir.
func ResolveVADModel(modelDir string) (ResolvedModel, error) {
	if strings.TrimSpace(modelDir) == "" {
		return ResolvedModel{}, errors.New("model directory must not be empty for the VAD model")
	}

	path := filepath.Join(modelDir, VADModel.FileName)
	_, statErr := os.Stat(path)
	if statErr != nil && !errors.Is(statErr, os.ErrNotExist) {
		return ResolvedModel{}, fmt.Errorf("stat VAD model path: %w", statErr)
	}

	return ResolvedModel{
		Name:          VADModel.Name,
		Path:          path,
		URL:           VADModel.URL,
		NeedsDownload: errors.Is(statErr, os.ErrNotExist),
	}, nil
}

func ModelNames() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func LookupModel(name string) (Model, bool) {
	model, ok := registry[name]
	return model, ok
}

func ResolveModel(modelRef, modelDir string) (ResolvedModel, error) {
	if strings.TrimSpace(modelRef) == "" {
		modelRef = DefaultModel
	}

	if model, ok := LookupModel(modelRef); ok {
		if strings.TrimSpace(modelDir) == "" {
			return ResolvedModel{}, errors.New("model directory must not be empty for named model")
		}

		modelPath := filepath.Join(modelDir, model.FileName)
		_, statErr := os.Stat(modelPath)
		if statErr != nil && !errors.Is(statErr, os.ErrNotExist) {
			return ResolvedModel{}, fmt.Errorf("stat model path: %w", statErr)
		}

		return ResolvedModel{
			Name:          model.Name,
			Path:          modelPath,
			URL:           model.URL,
			SHA256:        model.SHA256,
			SHA256URL:     model.SHA256URL,
			EnglishOnly:   model.EnglishOnly,
			NeedsDownload: errors.Is(statErr, os.ErrNotExist),
		}, nil
	}

	if !IsModelPath(modelRef) {
		return ResolvedModel{}, fmt.Errorf("unknown model %q (known models: %s)", modelRef, strings.Join(ModelNames(), ", "))
	}

	customPath := filepath.Clean(modelRef)
	if _, err := os.Stat(customPath); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return ResolvedModel{}, fmt.Errorf("custom model path does not exist: %s", customPath)
		}
		return ResolvedModel{}, fmt.Errorf("stat custom model path: %w", err)
	}

	return ResolvedModel{
		Name:         strings.TrimSuffix(filepath.Base(customPath), filepath.Ext(customPath)),
		Path:         customPath,
		IsCustomPath: true,
	}, nil
}

// IsModelPath reports whether ref names a model file rather than a
// registry entry.
func IsModelPath(input string) bool {
	return strings.ContainsRune(input, os.PathSeparator) || strings.HasSuffix(strings.ToLower(input), ".bin")
}

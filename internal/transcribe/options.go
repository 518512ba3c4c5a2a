package transcribe

import (
	"errors"
	"fmt"
	"strings"

	"github.com/samber/lo"
	"github.com/velkorra/whisper/internal/output"
	"github.com/velkorra/whisper/internal/whisper"
)

const (
	DefaultDevice      = "cuda"
	DefaultComputeType = "float16"
	DefaultBeamSize    = 5
	DefaultSilenceDBFS = -65.0

	// LargeFileBytes is the size above which Advise suggests cheaper settings.
	LargeFileBytes = 100 * 1024 * 1024
)

var (
	Devices      = []string{"cuda", "cpu"}
	ComputeTypes = []string{"float16", "int8_float16", "int8", "float32"}
	Engines      = []string{whisper.EngineBundled, whisper.EngineSidecar, whisper.EngineOpenAI}

	// cpuComputeTypes are the precisions CTranslate2 runs efficiently on CPU.
	cpuComputeTypes = []string{"int8", "float32"}
)

type Options struct {
	AudioPath   string
	Model       string
	ModelDir    string
	Language    string
	Device      string
	ComputeType string
	BeamSize    int
	VADFilter   bool
	VADModel    string

	Engine       string
	ServerURL    string
	APIKey       string
	AutoDownload bool

	OutputFile   string
	Format       output.Format
	ShowFullText bool

	SilenceGate bool
	SilenceDBFS float64
}

func DefaultOptions() Options {
	return Options{
		Model:        whisper.DefaultModel,
		Language:     "auto",
		Device:       DefaultDevice,
		ComputeType:  DefaultComputeType,
		BeamSize:     DefaultBeamSize,
		Engine:       whisper.EngineBundled,
		AutoDownload: true,
		Format:       output.FormatTXT,
		SilenceGate:  true,
		SilenceDBFS:  DefaultSilenceDBFS,
	}
}

// Normalize canonicalises free-form values and applies the CPU precision
// rule. It returns notices for every value it had to change.
func (o *Options) Normalize() []string {
	var notices []string

	o.Language = strings.ToLower(strings.TrimSpace(o.Language))
	if o.Language == "" {
		o.Language = "auto"
	}
	o.Device = strings.ToLower(strings.TrimSpace(o.Device))
	o.ComputeType = strings.ToLower(strings.TrimSpace(o.ComputeType))
	o.Engine = strings.ToLower(strings.TrimSpace(o.Engine))
	o.Model = strings.TrimSpace(o.Model)
	if o.Model == "" {
		o.Model = whisper.DefaultModel
	}

	if o.Device == "cpu" && !lo.Contains(cpuComputeTypes, o.ComputeType) {
		notices = append(notices, fmt.Sprintf("compute type %q is not suited to CPU; using int8", o.ComputeType))
		o.ComputeType = "int8"
	}

	if model, ok := whisper.LookupModel(o.Model); ok && model.EnglishOnly && o.Language != "auto" && o.Language != "en" {
		notices = append(notices, fmt.Sprintf("model %s is English only; language %q will not be honoured", o.Model, o.Language))
	}

	return notices
}

func (o Options) Validate() error {
	if strings.TrimSpace(o.AudioPath) == "" {
		return errors.New("audio file path is required")
	}
	if !lo.Contains(Devices, o.Device) {
		return fmt.Errorf("invalid device %q (expected one of %s)", o.Device, strings.Join(Devices, ", "))
	}
	if !lo.Contains(ComputeTypes, o.ComputeType) {
		return fmt.Errorf("invalid compute type %q (expected one of %s)", o.ComputeType, strings.Join(ComputeTypes, ", "))
	}
	if !lo.Contains(Engines, o.Engine) {
		return fmt.Errorf("invalid engine %q (expected one of %s)", o.Engine, strings.Join(Engines, ", "))
	}
	if o.BeamSize < 1 {
		return fmt.Errorf("beam size must be at least 1, got %d", o.BeamSize)
	}
	if _, err := output.ParseFormat(string(o.Format)); err != nil {
		return err
	}

	// Hosted APIs name their own models (whisper-1 and the like).
	if o.Engine != whisper.EngineOpenAI {
		if _, ok := whisper.LookupModel(o.Model); !ok && !whisper.IsModelPath(o.Model) {
			return fmt.Errorf("unknown model %q (known models: %s)", o.Model, strings.Join(whisper.ModelNames(), ", "))
		}
	}
	if o.Engine == whisper.EngineSidecar && whisper.IsModelPath(o.Model) {
		return fmt.Errorf("the sidecar engine loads models by name; %q looks like a local file", o.Model)
	}
	return nil
}

// Advise returns tuning suggestions for large inputs.
func (o Options) Advise(sizeBytes int64) []string {
	if sizeBytes <= LargeFileBytes {
		return nil
	}

	var advice []string
	if !o.VADFilter {
		advice = append(advice, "enable the VAD filter (--vad-filter) to skip silence")
	}
	if o.Device == "cuda" && o.ComputeType == "float16" {
		advice = append(advice, "use --compute-type int8 to save GPU memory")
	}
	if o.BeamSize > 3 {
		advice = append(advice, fmt.Sprintf("lower --beam-size to 1-3 for speed (currently %d)", o.BeamSize))
	}
	return advice
}

// Request maps the options onto an engine request. modelPath is the local
// model file, empty for server engines.
func (o Options) Request(audioPath, modelPath string) whisper.Request {
	vad := whisper.DefaultVAD()
	vad.ModelPath = o.VADModel

	return whisper.Request{
		AudioPath:   audioPath,
		ModelPath:   modelPath,
		ModelName:   o.Model,
		Language:    o.Language,
		Device:      o.Device,
		ComputeType: o.ComputeType,
		BeamSize:    o.BeamSize,
		VADFilter:   o.VADFilter,
		VAD:         vad,
		Decoding:    whisper.DefaultDecoding(),
	}
}

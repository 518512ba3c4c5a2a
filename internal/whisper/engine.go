package whisper

import (
	"context"
	"errors"
	"strings"
)

const (
	EngineBundled = "bundled"
	EngineSidecar = "sidecar"
	EngineOpenAI  = "openai"
)

// ErrEngineUnavailable marks failures to locate or reach an engine, as
// opposed to failures while transcribing.
var ErrEngineUnavailable = errors.New("transcription engine unavailable")

// VADParams mirrors the silero VAD knobs exposed by faster-whisper and
// whisper.cpp.
type VADParams struct {
	ModelPath            string
	MinSilenceDurationMS int
	SpeechPadMS          int
}

type DecodingParams struct {
	Temperature               float64
	ConditionOnPreviousText   bool
	CompressionRatioThreshold float64
	NoSpeechThreshold         float64
	WordTimestamps            bool
}

// DefaultDecoding favours stable output on long recordings: greedy
// temperature and no conditioning on earlier text, which keeps a single
// hallucinated phrase from repeating for the rest of the file.
func DefaultDecoding() DecodingParams {
	return DecodingParams{
		Temperature:               0,
		ConditionOnPreviousText:   false,
		CompressionRatioThreshold: 2.4,
		NoSpeechThreshold:         0.6,
		WordTimestamps:            false,
	}
}

func DefaultVAD() VADParams {
	return VADParams{
		MinSilenceDurationMS: 1000,
		SpeechPadMS:          400,
	}
}

type Request struct {
	AudioPath string
	// ModelPath is a local model file, used by the bundled engine.
	ModelPath string
	// ModelName is passed verbatim to server engines.
	ModelName   string
	Language    string
	Device      string
	ComputeType string
	BeamSize    int
	VADFilter   bool
	VAD         VADParams
	Decoding    DecodingParams
}

// AutoLanguage reports whether the request leaves language detection to
// the engine.
func (r Request) AutoLanguage() bool {
	lang := strings.TrimSpace(r.Language)
	return lang == "" || strings.EqualFold(lang, "auto")
}

type Info struct {
	Language            string
	LanguageProbability float64
	// Duration is the audio length in seconds; zero when the engine does not
	// report it.
	Duration float64
}

type Segment struct {
	Index int
	Start float64
	End   float64
	Text  string
}

// SegmentFunc receives segments in order. Returning an error stops the
// engine and the error is returned from Transcribe.
type SegmentFunc func(Segment) error

type Engine interface {
	Name() string
	Transcribe(ctx context.Context, req Request, onSegment SegmentFunc) (Info, error)
}

func emit(onSegment SegmentFunc, seg Segment) error {
	if onSegment == nil {
		return nil
	}
	return onSegment(seg)
}

package whisper

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

// OpenAIEngine transcribes through any server that speaks the OpenAI audio
// API, including self-hosted faster-whisper servers.
type OpenAIEngine struct {
	client *openai.Client
	model  string
	logger *zap.Logger
}

// NewOpenAIEngine builds a client for baseURL, or api.openai.com when
// baseURL is empty. model overrides the request's model name when set.
func NewOpenAIEngine(apiKey, baseURL, model string, logger *zap.Logger) *OpenAIEngine {
	config := openai.DefaultConfig(apiKey)
	if strings.TrimSpace(baseURL) != "" {
		config.BaseURL = strings.TrimRight(baseURL, "/")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OpenAIEngine{
		client: openai.NewClientWithConfig(config),
		model:  model,
		logger: logger,
	}
}

func (o *OpenAIEngine) Name() string {
	return EngineOpenAI
}

func (o *OpenAIEngine) Transcribe(ctx context.Context, req Request, onSegment SegmentFunc) (Info, error) {
	if strings.TrimSpace(req.AudioPath) == "" {
		return Info{}, errors.New("audio path is required")
	}

	model := o.model
	if model == "" {
		model = req.ModelName
	}
	if model == "" {
		model = openai.Whisper1
	}

	audioReq := openai.AudioRequest{
		Model:       model,
		FilePath:    req.AudioPath,
		Temperature: float32(req.Decoding.Temperature),
		Format:      openai.AudioResponseFormatVerboseJSON,
	}
	if !req.AutoLanguage() {
		audioReq.Language = strings.ToLower(strings.TrimSpace(req.Language))
	}
	if req.VADFilter || req.BeamSize != 0 {
		o.logger.Debug("OpenAI audio API ignores local decoding options", zap.Bool("vad_filter", req.VADFilter), zap.Int("beam_size", req.BeamSize))
	}

	o.logger.Debug("requesting transcription", zap.String("model", model), zap.String("audio", req.AudioPath))
	resp, err := o.client.CreateTranscription(ctx, audioReq)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Info{}, ctxErr
		}
		var apiErr *openai.APIError
		if errors.As(err, &apiErr) {
			return Info{}, fmt.Errorf("openai transcription failed (status %d): %s", apiErr.HTTPStatusCode, apiErr.Message)
		}
		var reqErr *openai.RequestError
		if errors.As(err, &reqErr) {
			return Info{}, fmt.Errorf("openai transcription failed (status %d): %w", reqErr.HTTPStatusCode, err)
		}
		return Info{}, fmt.Errorf("%w: %v", ErrEngineUnavailable, err)
	}

	if len(resp.Segments) == 0 && strings.TrimSpace(resp.Text) != "" {
		if err := emit(onSegment, Segment{Start: 0, End: resp.Duration, Text: resp.Text}); err != nil {
			return Info{}, err
		}
	}
	for i, seg := range resp.Segments {
		if err := emit(onSegment, Segment{Index: i, Start: seg.Start, End: seg.End, Text: seg.Text}); err != nil {
			return Info{}, err
		}
	}

	info := Info{Language: resp.Language, Duration: resp.Duration}
	if !req.AutoLanguage() {
		info.Language = audioReq.Language
		info.LanguageProbability = 1
	}
	return info, nil
}

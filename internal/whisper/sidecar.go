package whisper

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	DefaultSidecarURL = "http://localhost:8387"

	defaultSidecarTimeout = 2 * time.Hour
	ndjsonContentType     = "application/x-ndjson"
)

// SidecarEngine posts audio to a faster-whisper HTTP sidecar. The sidecar
// answers either with one JSON document or, when it supports streaming, with
// newline-delimited JSON events.
type SidecarEngine struct {
	URL     string
	Client  *http.Client
	Logger  *zap.Logger
	Retries int
	Backoff time.Duration
}

func NewSidecarEngine(url string, logger *zap.Logger) *SidecarEngine {
	if strings.TrimSpace(url) == "" {
		url = DefaultSidecarURL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SidecarEngine{
		URL:     strings.TrimRight(url, "/"),
		Client:  &http.Client{Timeout: defaultSidecarTimeout},
		Logger:  logger,
		Retries: 2,
		Backoff: time.Second,
	}
}

func (s *SidecarEngine) Name() string {
	return EngineSidecar
}

// Health checks the sidecar's /health endpoint.
func (s *SidecarEngine) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.URL+"/health", nil)
	if err != nil {
		return fmt.Errorf("create health request: %w", err)
	}
	resp, err := s.client().Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrEngineUnavailable, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: sidecar health returned status %d", ErrEngineUnavailable, resp.StatusCode)
	}
	return nil
}

type sidecarSegment struct {
	ID    int     `json:"id"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

type sidecarResponse struct {
	Language            string           `json:"language"`
	LanguageProbability float64          `json:"language_probability"`
	Duration            float64          `json:"duration"`
	Segments            []sidecarSegment `json:"segments"`
}

type sidecarEvent struct {
	Type string `json:"type"`
	sidecarSegment
	Language            string  `json:"language"`
	LanguageProbability float64 `json:"language_probability"`
	Duration            float64 `json:"duration"`
	Error               string  `json:"error"`
}

func (s *SidecarEngine) Transcribe(ctx context.Context, req Request, onSegment SegmentFunc) (Info, error) {
	if strings.TrimSpace(req.AudioPath) == "" {
		return Info{}, errors.New("audio path is required")
	}
	if _, err := os.Stat(req.AudioPath); err != nil {
		return Info{}, fmt.Errorf("stat audio: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= s.Retries; attempt++ {
		if attempt > 0 {
			wait := s.Backoff * time.Duration(1<<(attempt-1))
			s.log().Warn("retrying sidecar request", zap.Int("attempt", attempt+1), zap.Duration("backoff", wait), zap.Error(lastErr))
			select {
			case <-ctx.Done():
				return Info{}, ctx.Err()
			case <-time.After(wait):
			}
		}

		resp, err := s.post(ctx, req)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return Info{}, ctxErr
			}
			lastErr = fmt.Errorf("%w: %v", ErrEngineUnavailable, err)
			continue
		}

		if resp.StatusCode != http.StatusOK {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			resp.Body.Close()
			lastErr = fmt.Errorf("sidecar error (status %d): %s", resp.StatusCode, strings.TrimSpace(string(body)))
			if retryableStatus(resp.StatusCode) {
				continue
			}
			return Info{}, lastErr
		}

		// Segments may already have been delivered, so a failure from here on
		// is never retried.
		info, err := s.decode(resp, onSegment)
		resp.Body.Close()
		return info, err
	}

	return Info{}, lastErr
}

func retryableStatus(code int) bool {
	return code == http.StatusTooManyRequests || (code >= 500 && code != http.StatusNotImplemented)
}

func (s *SidecarEngine) post(ctx context.Context, req Request) (*http.Response, error) {
	body, contentType := multipartBody(req)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.URL+"/transcribe", body)
	if err != nil {
		body.Close()
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", contentType)
	httpReq.Header.Set("Accept", ndjsonContentType+", application/json")

	s.log().Debug("posting audio to sidecar", zap.String("url", s.URL), zap.String("audio", req.AudioPath), zap.String("model", req.ModelName))
	return s.client().Do(httpReq)
}

// multipartBody streams the audio file into the form so large recordings are
// never held in memory.
func multipartBody(req Request) (io.ReadCloser, string) {
	pr, pw := io.Pipe()
	writer := multipart.NewWriter(pw)

	go func() {
		err := writeForm(writer, req)
		if closeErr := writer.Close(); err == nil {
			err = closeErr
		}
		pw.CloseWithError(err)
	}()

	return pr, writer.FormDataContentType()
}

func writeForm(writer *multipart.Writer, req Request) error {
	fields := sidecarFields(req)
	for _, key := range sidecarFieldOrder {
		value, ok := fields[key]
		if !ok {
			continue
		}
		if err := writer.WriteField(key, value); err != nil {
			return err
		}
	}

	f, err := os.Open(req.AudioPath)
	if err != nil {
		return fmt.Errorf("open audio: %w", err)
	}
	defer f.Close()

	part, err := writer.CreateFormFile("audio", filepath.Base(req.AudioPath))
	if err != nil {
		return fmt.Errorf("create form file: %w", err)
	}
	if _, err := io.Copy(part, f); err != nil {
		return fmt.Errorf("write audio data: %w", err)
	}
	return nil
}

var sidecarFieldOrder = []string{
	"model", "language", "device", "compute_type", "beam_size",
	"vad_filter", "min_silence_duration_ms", "speech_pad_ms",
	"temperature", "condition_on_previous_text", "compression_ratio_threshold",
	"no_speech_threshold", "word_timestamps", "stream",
}

func sidecarFields(req Request) map[string]string {
	fields := map[string]string{
		"model":                       req.ModelName,
		"device":                      req.Device,
		"compute_type":                req.ComputeType,
		"vad_filter":                  strconv.FormatBool(req.VADFilter),
		"temperature":                 formatFloat(req.Decoding.Temperature),
		"condition_on_previous_text":  strconv.FormatBool(req.Decoding.ConditionOnPreviousText),
		"compression_ratio_threshold": formatFloat(req.Decoding.CompressionRatioThreshold),
		"no_speech_threshold":         formatFloat(req.Decoding.NoSpeechThreshold),
		"word_timestamps":             strconv.FormatBool(req.Decoding.WordTimestamps),
		"stream":                      "true",
	}
	if !req.AutoLanguage() {
		fields["language"] = strings.ToLower(strings.TrimSpace(req.Language))
	}
	if req.BeamSize > 0 {
		fields["beam_size"] = strconv.Itoa(req.BeamSize)
	}
	if req.VADFilter {
		fields["min_silence_duration_ms"] = strconv.Itoa(req.VAD.MinSilenceDurationMS)
		fields["speech_pad_ms"] = strconv.Itoa(req.VAD.SpeechPadMS)
	}
	for key, value := range fields {
		if value == "" {
			delete(fields, key)
		}
	}
	return fields
}

func (s *SidecarEngine) decode(resp *http.Response, onSegment SegmentFunc) (Info, error) {
	mediaType, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if mediaType == ndjsonContentType {
		return decodeSidecarStream(resp.Body, onSegment)
	}

	var result sidecarResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return Info{}, fmt.Errorf("decode sidecar response: %w", err)
	}

	for i, seg := range result.Segments {
		if err := emit(onSegment, Segment{Index: i, Start: seg.Start, End: seg.End, Text: seg.Text}); err != nil {
			return Info{}, err
		}
	}

	return Info{
		Language:            result.Language,
		LanguageProbability: result.LanguageProbability,
		Duration:            result.Duration,
	}, nil
}

func decodeSidecarStream(r io.Reader, onSegment SegmentFunc) (Info, error) {
	var info Info
	index := 0

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		var event sidecarEvent
		if err := json.Unmarshal([]byte(line), &event); err != nil {
			return Info{}, fmt.Errorf("decode sidecar event: %w", err)
		}

		switch event.Type {
		case "info":
			info.Language = event.Language
			info.LanguageProbability = event.LanguageProbability
			info.Duration = event.Duration
		case "segment":
			seg := Segment{Index: index, Start: event.Start, End: event.End, Text: event.Text}
			index++
			if err := emit(onSegment, seg); err != nil {
				return Info{}, err
			}
		case "error":
			return Info{}, fmt.Errorf("sidecar transcription failed: %s", event.Error)
		}
	}
	if err := scanner.Err(); err != nil {
		return Info{}, fmt.Errorf("read sidecar stream: %w", err)
	}

	return info, nil
}

func (s *SidecarEngine) client() *http.Client {
	if s.Client == nil {
		return http.DefaultClient
	}
	return s.Client
}

func (s *SidecarEngine) log() *zap.Logger {
	if s.Logger == nil {
		return zap.NewNop()
	}
	return s.Logger
}

package output

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/samber/lo"
	"github.com/velkorra/whisper/internal/transcript"
	"github.com/velkorra/whisper/internal/whisper"
)

// Meta describes the run that produced a transcript; only the JSON format
// carries it.
type Meta struct {
	Audio       string
	Model       string
	Engine      string
	Device      string
	ComputeType string
}

type jsonSegment struct {
	Index int     `json:"index"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

type jsonDocument struct {
	Audio               string        `json:"audio"`
	Model               string        `json:"model"`
	Engine              string        `json:"engine"`
	Device              string        `json:"device,omitempty"`
	ComputeType         string        `json:"compute_type,omitempty"`
	Language            string        `json:"language,omitempty"`
	LanguageProbability float64       `json:"language_probability,omitempty"`
	Duration            float64       `json:"duration"`
	ProcessingSeconds   float64       `json:"processing_seconds"`
	RealTimeFactor      float64       `json:"real_time_factor"`
	TotalSegments       int           `json:"total_segments"`
	SkippedLoops        int           `json:"skipped_loops"`
	Text                string        `json:"text"`
	Segments            []jsonSegment `json:"segments"`
}

func Render(format Format, result transcript.Result, meta Meta) ([]byte, error) {
	switch format {
	case FormatTXT, "":
		return []byte(result.Text), nil
	case FormatSRT:
		return renderSRT(result), nil
	case FormatVTT:
		return renderVTT(result), nil
	case FormatJSON:
		return renderJSON(result, meta)
	default:
		return nil, fmt.Errorf("unsupported output format %q", format)
	}
}

func renderSRT(result transcript.Result) []byte {
	var buf bytes.Buffer
	for i, seg := range result.Segments {
		if i > 0 {
			buf.WriteByte('\n')
		}
		fmt.Fprintf(&buf, "%d\n%s --> %s\n%s\n", i+1, timestamp(seg.Start, ','), timestamp(seg.End, ','), seg.Text)
	}
	return buf.Bytes()
}

func renderVTT(result transcript.Result) []byte {
	var buf bytes.Buffer
	buf.WriteString("WEBVTT\n")
	for _, seg := range result.Segments {
		// "-->" would end the cue timing line early.
		text := strings.ReplaceAll(seg.Text, "-->", "->")
		fmt.Fprintf(&buf, "\n%s --> %s\n%s\n", timestamp(seg.Start, '.'), timestamp(seg.End, '.'), text)
	}
	return buf.Bytes()
}

func renderJSON(result transcript.Result, meta Meta) ([]byte, error) {
	doc := jsonDocument{
		Audio:               meta.Audio,
		Model:               meta.Model,
		Engine:              meta.Engine,
		Device:              meta.Device,
		ComputeType:         meta.ComputeType,
		Language:            result.Language,
		LanguageProbability: result.LanguageProbability,
		Duration:            result.Duration,
		ProcessingSeconds:   math.Round(result.ProcessingTime.Seconds()*1000) / 1000,
		RealTimeFactor:      math.Round(result.RealTimeFactor()*100) / 100,
		TotalSegments:       result.TotalSegments,
		SkippedLoops:        result.SkippedLoops,
		Text:                result.Text,
		Segments: lo.Map(result.Segments, func(seg whisper.Segment, _ int) jsonSegment {
			return jsonSegment{Index: seg.Index, Start: seg.Start, End: seg.End, Text: seg.Text}
		}),
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode transcript json: %w", err)
	}
	return append(data, '\n'), nil
}

// timestamp formats seconds as hh:mm:ss followed by sep and milliseconds.
func timestamp(seconds float64, sep byte) string {
	if seconds < 0 {
		seconds = 0
	}
	total := int64(math.Round(seconds * 1000))
	ms := total % 1000
	s := total / 1000
	return fmt.Sprintf("%02d:%02d:%02d%c%03d", s/3600, (s/60)%60, s%60, sep, ms)
}

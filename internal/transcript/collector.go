// Package transcript turns the raw segment stream of a whisper engine into a
// clean transcript, dropping blank output and runaway repetition loops.
package transcript

import (
	"strings"
	"time"

	"github.com/samber/lo"
	"github.com/velkorra/whisper/internal/whisper"
	"go.uber.org/zap"
)

const (
	// BlankAudioToken is what whisper.cpp prints for stretches without speech.
	BlankAudioToken = "[BLANK_AUDIO]"

	DefaultProgressInterval = 10 * time.Second
	DefaultProgressEvery    = 50

	// A repeated segment only counts toward a loop when its text is longer
	// than loopMinChars; short interjections repeat legitimately.
	loopMinChars   = 10
	loopMaxRepeats = 3
)

type Progress struct {
	Segments int
	// Percent is 0 when the audio duration is unknown.
	Percent  float64
	Position float64
	Duration float64
	Elapsed  time.Duration
}

type Options struct {
	// Duration of the audio in seconds, usually from ffprobe.
	Duration float64
	Logger   *zap.Logger

	OnProgress func(Progress)
	// OnAccept sees every segment that makes it into the transcript.
	OnAccept func(whisper.Segment)

	ProgressInterval time.Duration
	ProgressEvery    int
	Now              func() time.Time
}

// Collector is fed one segment at a time by an engine. It is not safe for
// concurrent use.
type Collector struct {
	opts   Options
	logger *zap.Logger

	started      time.Time
	lastProgress time.Time

	total    int
	skipped  int
	repeats  int
	lastText string
	accepted []whisper.Segment
}

func NewCollector(opts Options) *Collector {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.ProgressInterval <= 0 {
		opts.ProgressInterval = DefaultProgressInterval
	}
	if opts.ProgressEvery <= 0 {
		opts.ProgressEvery = DefaultProgressEvery
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	now := opts.Now()
	return &Collector{
		opts:         opts,
		logger:       logger,
		started:      now,
		lastProgress: now,
	}
}

// Add is a whisper.SegmentFunc.
func (c *Collector) Add(seg whisper.Segment) error {
	c.total++

	now := c.opts.Now()
	if now.Sub(c.lastProgress) > c.opts.ProgressInterval || c.total%c.opts.ProgressEvery == 0 {
		c.reportProgress(now, seg.End)
	}

	text := strings.TrimSpace(seg.Text)
	if text == c.lastText && len([]rune(text)) > loopMinChars {
		c.repeats++
		if c.repeats > loopMaxRepeats {
			c.skipped++
			c.logger.Warn("repetition loop detected; skipping segment",
				zap.Int("segment", c.total),
				zap.String("text", truncate(text, 50)),
			)
			return nil
		}
	} else {
		c.repeats = 0
		c.lastText = text
	}

	if isBlank(text) {
		return nil
	}

	seg.Text = text
	seg.Index = len(c.accepted)
	c.accepted = append(c.accepted, seg)
	if c.opts.OnAccept != nil {
		c.opts.OnAccept(seg)
	}
	return nil
}

func (c *Collector) reportProgress(now time.Time, position float64) {
	p := Progress{
		Segments: c.total,
		Position: position,
		Duration: c.opts.Duration,
		Elapsed:  now.Sub(c.started),
	}
	if c.opts.Duration > 0 {
		p.Percent = position / c.opts.Duration * 100
	}
	c.lastProgress = now

	c.logger.Info("progress",
		zap.Int("segments", p.Segments),
		zap.String("percent", formatPercent(p.Percent)),
		zap.Duration("elapsed", p.Elapsed.Round(time.Second)),
		zap.Float64("position_s", p.Position),
		zap.Float64("duration_s", p.Duration),
	)
	if c.opts.OnProgress != nil {
		c.opts.OnProgress(p)
	}
}

// Finish closes the run. info comes from the engine; its duration wins over
// the probed one when reported.
func (c *Collector) Finish(info whisper.Info) Result {
	duration := c.opts.Duration
	if info.Duration > 0 {
		duration = info.Duration
	}

	result := Result{
		Text:                strings.Join(lo.Map(c.accepted, func(seg whisper.Segment, _ int) string { return seg.Text }), "\n"),
		Segments:            c.accepted,
		TotalSegments:       c.total,
		SkippedLoops:        c.skipped,
		Duration:            duration,
		ProcessingTime:      c.opts.Now().Sub(c.started),
		Language:            info.Language,
		LanguageProbability: info.LanguageProbability,
	}

	if c.total == 0 && duration > 0 {
		c.logger.Warn("no segments produced although the audio has a duration; the audio may be silent, the VAD filter too aggressive, or the format unreadable",
			zap.Float64("duration_s", duration))
	}
	if c.skipped > 0 {
		c.logger.Warn("dropped looping segments", zap.Int("skipped", c.skipped))
	}

	return result
}

func isBlank(text string) bool {
	return text == "" || strings.EqualFold(text, BlankAudioToken)
}

func truncate(text string, n int) string {
	runes := []rune(text)
	if len(runes) <= n {
		return text
	}
	return string(runes[:n]) + "..."
}

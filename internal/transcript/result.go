package transcript

import (
	"strconv"
	"time"
	"unicode/utf8"

	"github.com/velkorra/whisper/internal/whisper"
)

type Result struct {
	Text                string
	Segments            []whisper.Segment
	TotalSegments       int
	SkippedLoops        int
	Duration            float64
	ProcessingTime      time.Duration
	Language            string
	LanguageProbability float64
}

// Empty reports a run that produced no usable text.
func (r Result) Empty() bool {
	return r.Text == ""
}

func (r Result) Chars() int {
	return utf8.RuneCountInString(r.Text)
}

// RealTimeFactor is audio seconds transcribed per wall-clock second.
func (r Result) RealTimeFactor() float64 {
	seconds := r.ProcessingTime.Seconds()
	if seconds <= 0 || r.Duration <= 0 {
		return 0
	}
	return r.Duration / seconds
}

func formatPercent(p float64) string {
	return strconv.FormatFloat(p, 'f', 1, 64) + "%"
}

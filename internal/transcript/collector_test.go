package transcript

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/velkorra/whisper/internal/whisper"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

type fakeClock struct {
	now time.Time
}

func (f *fakeClock) Now() time.Time { return f.now }

func (f *fakeClock) Advance(d time.Duration) { f.now = f.now.Add(d) }

func newTestCollector(duration float64) (*Collector, *fakeClock, *[]Progress) {
	clock := &fakeClock{now: time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)}
	var reports []Progress
	c := NewCollector(Options{
		Duration:   duration,
		Now:        clock.Now,
		OnProgress: func(p Progress) { reports = append(reports, p) },
	})
	return c, clock, &reports
}

func feed(t *testing.T, c *Collector, texts ...string) {
	t.Helper()

	for i, text := range texts {
		require.NoError(t, c.Add(whisper.Segment{Index: i, Start: float64(i), End: float64(i + 1), Text: text}))
	}
}

func TestCollectorJoinsTrimmedSegments(t *testing.T) {
	t.Parallel()

	c, _, _ := newTestCollector(10)
	feed(t, c, "  Hello there. ", "General Kenobi.")

	result := c.Finish(whisper.Info{Language: "en", LanguageProbability: 0.99})
	require.Equal(t, "Hello there.\nGeneral Kenobi.", result.Text)
	require.Equal(t, 2, result.TotalSegments)
	require.Len(t, result.Segments, 2)
	require.Equal(t, "en", result.Language)
	require.False(t, result.Empty())
}

func TestCollectorDropsBlankSegments(t *testing.T) {
	t.Parallel()

	c, _, _ := newTestCollector(10)
	feed(t, c, "   ", "First.", "[BLANK_AUDIO]", "", "Second.")

	result := c.Finish(whisper.Info{})
	require.Equal(t, "First.\nSecond.", result.Text)
	require.Equal(t, 5, result.TotalSegments)
	require.Equal(t, 0, result.Segments[0].Index)
	require.Equal(t, 1, result.Segments[1].Index)
}

func TestCollectorSkipsRepetitionLoops(t *testing.T) {
	t.Parallel()

	c, _, _ := newTestCollector(0)
	loop := "Thank you for watching."
	// The first occurrence plus three repeats are kept, the rest skipped.
	feed(t, c, loop, loop, loop, loop, loop, loop, "Something new.")

	result := c.Finish(whisper.Info{})
	require.Equal(t, 2, result.SkippedLoops)
	require.Equal(t, 7, result.TotalSegments)
	require.Len(t, result.Segments, 5)
	require.Equal(t, "Something new.", result.Segments[4].Text)
}

func TestCollectorLoopCounterResetsOnNewText(t *testing.T) {
	t.Parallel()

	c, _, _ := newTestCollector(0)
	loop := "This keeps repeating."
	feed(t, c, loop, loop, loop, loop, "Break.", loop, loop, loop, loop)

	result := c.Finish(whisper.Info{})
	require.Equal(t, 0, result.SkippedLoops)
	require.Len(t, result.Segments, 9)
}

func TestCollectorShortRepeatsAreNotLoops(t *testing.T) {
	t.Parallel()

	c, _, _ := newTestCollector(0)
	// Ten characters exactly is still too short to count.
	feed(t, c, "Yes, yes!!", "Yes, yes!!", "Yes, yes!!", "Yes, yes!!", "Yes, yes!!", "Yes, yes!!")

	result := c.Finish(whisper.Info{})
	require.Equal(t, 0, result.SkippedLoops)
	require.Len(t, result.Segments, 6)
}

func TestCollectorReportsProgressEveryFiftySegments(t *testing.T) {
	t.Parallel()

	c, _, reports := newTestCollector(200)
	for i := 0; i < 120; i++ {
		require.NoError(t, c.Add(whisper.Segment{Start: float64(i), End: float64(i + 1), Text: "segment text"}))
	}

	require.Len(t, *reports, 2)
	first := (*reports)[0]
	require.Equal(t, 50, first.Segments)
	require.InDelta(t, 25.0, first.Percent, 1e-9)
	require.Equal(t, 100, (*reports)[1].Segments)
}

func TestCollectorLogsEachProgressTickOnce(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zap.DebugLevel)
	var reports []Progress
	c := NewCollector(Options{
		Duration:   200,
		Logger:     zap.New(core),
		Now:        (&fakeClock{now: time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)}).Now,
		OnProgress: func(p Progress) { reports = append(reports, p) },
	})
	for i := 0; i < 100; i++ {
		require.NoError(t, c.Add(whisper.Segment{Start: float64(i), End: float64(i + 1), Text: "segment text"}))
	}

	require.Len(t, reports, 2)
	require.Equal(t, 2, logs.FilterMessage("progress").Len())
}

func TestCollectorReportsProgressAfterInterval(t *testing.T) {
	t.Parallel()

	c, clock, reports := newTestCollector(0)
	feed(t, c, "a")
	require.Empty(t, *reports)

	clock.Advance(10 * time.Second)
	feed(t, c, "b")
	require.Empty(t, *reports, "exactly the interval is not enough")

	clock.Advance(11 * time.Second)
	require.NoError(t, c.Add(whisper.Segment{End: 42, Text: "c"}))
	require.Len(t, *reports, 1)
	require.Equal(t, 3, (*reports)[0].Segments)
	require.Zero(t, (*reports)[0].Percent)
	require.Equal(t, 21*time.Second, (*reports)[0].Elapsed)
}

func TestCollectorFinishStats(t *testing.T) {
	t.Parallel()

	c, clock, _ := newTestCollector(30)
	var accepted []string
	c.opts.OnAccept = func(seg whisper.Segment) { accepted = append(accepted, seg.Text) }

	feed(t, c, "One.", "Two.")
	clock.Advance(15 * time.Second)

	result := c.Finish(whisper.Info{Duration: 60})
	require.Equal(t, []string{"One.", "Two."}, accepted)
	require.InDelta(t, 60, result.Duration, 1e-9)
	require.Equal(t, 15*time.Second, result.ProcessingTime)
	require.InDelta(t, 4.0, result.RealTimeFactor(), 1e-9)
	require.Equal(t, 9, result.Chars())
}

func TestCollectorEmptyRun(t *testing.T) {
	t.Parallel()

	c, _, _ := newTestCollector(12)
	result := c.Finish(whisper.Info{})
	require.True(t, result.Empty())
	require.Zero(t, result.TotalSegments)
	require.InDelta(t, 12, result.Duration, 1e-9)
	require.Zero(t, result.RealTimeFactor())
}

func TestTruncate(t *testing.T) {
	t.Parallel()

	require.Equal(t, "short", truncate("short", 10))
	require.Equal(t, "Привет...", truncate("Привет мир", 6))
}

package cli

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/velkorra/whisper/internal/transcript"
)

// spinner is an indeterminate progress indicator on stderr. The zero value
// and a nil *spinner are valid no-ops.
type spinner struct {
	bar    *progressbar.ProgressBar
	stopCh chan struct{}
	doneCh chan struct{}
	once   sync.Once
}

func startSpinner(enabled bool, description string) *spinner {
	return startSpinnerTo(enabled, os.Stderr, description)
}

func startSpinnerTo(enabled bool, w io.Writer, description string) *spinner {
	if !enabled {
		return &spinner{}
	}

	s := &spinner{
		bar: progressbar.NewOptions(
			-1,
			progressbar.OptionSetDescription(description),
			progressbar.OptionSetWriter(w),
			progressbar.OptionSpinnerType(14),
			progressbar.OptionThrottle(80*time.Millisecond),
			progressbar.OptionClearOnFinish(),
		),
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}

	go func() {
		defer close(s.doneCh)
		ticker := time.NewTicker(120 * time.Millisecond)
		defer ticker.Stop()

		for {
			select {
			case <-s.stopCh:
				_ = s.bar.Finish()
				return
			case <-ticker.C:
				_ = s.bar.Add(1)
			}
		}
	}()

	return s
}

func (s *spinner) Describe(description string) {
	if s == nil || s.bar == nil {
		return
	}
	s.bar.Describe(description)
}

func (s *spinner) Stop() {
	if s == nil || s.bar == nil {
		return
	}
	s.once.Do(func() {
		close(s.stopCh)
		<-s.doneCh
	})
}

type transcriptionProgress struct {
	*spinner
	label string
}

func startTranscriptionProgress(enabled bool, label string) *transcriptionProgress {
	return &transcriptionProgress{spinner: startSpinner(enabled, label), label: label}
}

func (p *transcriptionProgress) Update(progress transcript.Progress) {
	p.Describe(describeProgress(p.label, progress))
}

func describeProgress(label string, p transcript.Progress) string {
	if p.Percent > 0 {
		return fmt.Sprintf("%s %5.1f%% (%d segments)", label, p.Percent, p.Segments)
	}
	return fmt.Sprintf("%s (%d segments)", label, p.Segments)
}

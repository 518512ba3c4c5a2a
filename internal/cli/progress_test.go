package cli

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/velkorra/whisper/internal/transcript"
)

func TestStartSpinnerEnabled(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	s := startSpinnerTo(true, &buf, "testing")
	require.NotNil(t, s)
	s.Describe("still testing")
	s.Stop()
	s.Stop()
}

func TestStartSpinnerDisabled(t *testing.T) {
	t.Parallel()
	s := startSpinner(false, "testing")
	require.NotNil(t, s)
	s.Describe("ignored")
	s.Stop()
}

func TestNilSpinnerIsNoop(t *testing.T) {
	t.Parallel()
	var s *spinner
	s.Describe("x")
	s.Stop()
}

func TestTranscriptionProgressDisabled(t *testing.T) {
	t.Parallel()
	p := startTranscriptionProgress(false, "Transcribing")
	p.Update(transcript.Progress{Segments: 3, Percent: 12})
	p.Stop()
}

func TestDescribeProgress(t *testing.T) {
	t.Parallel()
	require.Equal(t, "Transcribing  42.5% (7 segments)", describeProgress("Transcribing", transcript.Progress{Segments: 7, Percent: 42.5}))
	require.Equal(t, "Transcribing (7 segments)", describeProgress("Transcribing", transcript.Progress{Segments: 7}))
}

package cli

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/velkorra/whisper/internal/output"
	"github.com/velkorra/whisper/internal/transcribe"
)

const rule = "============================================================"

func printHeader(w io.Writer, opts transcribe.Options) {
	fmt.Fprintln(w, rule)
	fmt.Fprintf(w, "Transcribing: %s\n", opts.AudioPath)
	fmt.Fprintf(w, "Engine: %s | Model: %s | Language: %s\n", opts.Engine, opts.Model, opts.Language)
	fmt.Fprintf(w, "Device: %s | Compute type: %s | Beam size: %d | VAD: %t\n", opts.Device, opts.ComputeType, opts.BeamSize, opts.VADFilter)
	fmt.Fprintln(w, rule)
}

func printResult(w io.Writer, report transcribe.Report, fullText bool) {
	result := report.Result

	fmt.Fprintln(w)
	fmt.Fprintln(w, rule)
	fmt.Fprintln(w, "TRANSCRIPTION RESULT")
	fmt.Fprintln(w, rule)
	if result.Language != "" {
		fmt.Fprintf(w, "Language: %s (probability %.2f)\n", result.Language, result.LanguageProbability)
	}
	if result.Duration > 0 {
		fmt.Fprintf(w, "Audio duration: %.1f min\n", result.Duration/60)
	}
	fmt.Fprintf(w, "Processing time: %s\n", result.ProcessingTime.Round(100*time.Millisecond))
	if rtf := result.RealTimeFactor(); rtf > 0 {
		fmt.Fprintf(w, "Speed: %.1fx real time\n", rtf)
	}
	fmt.Fprintf(w, "Segments: %d of %d kept", len(result.Segments), result.TotalSegments)
	if result.SkippedLoops > 0 {
		fmt.Fprintf(w, " (%d repetition loops skipped)", result.SkippedLoops)
	}
	fmt.Fprintln(w)
	fmt.Fprintf(w, "Characters: %d\n", result.Chars())
	fmt.Fprintln(w, rule)

	if result.Empty() {
		if report.Silent {
			fmt.Fprintln(w, "The audio is silent; nothing to transcribe.")
		} else {
			fmt.Fprintln(w, "No speech was recognised. Check that the file contains speech, try without --vad-filter, or pass --language explicitly.")
		}
		return
	}

	if fullText {
		fmt.Fprintln(w, result.Text)
		return
	}

	preview, truncated := output.Preview(result.Text, output.DefaultPreviewChars)
	fmt.Fprintln(w, strings.TrimSpace(preview))
	if truncated {
		fmt.Fprintf(w, "\n(preview of first %d characters; use --show-full-text to print everything)\n", output.DefaultPreviewChars)
	}
}

func printSaved(w io.Writer, path, backup string) {
	if backup != "" {
		fmt.Fprintf(w, "Previous transcript moved to %s\n", backup)
	}
	fmt.Fprintf(w, "Transcript saved to %s\n", path)
}

package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"github.com/velkorra/whisper/internal/audio"
	"github.com/velkorra/whisper/internal/gpu"
	"github.com/velkorra/whisper/internal/version"
	"github.com/velkorra/whisper/internal/whisper"
)

func newCheckCmd(app *appState) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Report GPU, CUDA and tool availability",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			detect := app.detectGPUFn
			if detect == nil {
				detect = gpu.Detect
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "transcribe version: %s\n", version.Resolve())
			printGPUReport(out, detect(cmd.Context()))

			if engine, err := whisper.NewBundledEngine(app.log()); err != nil {
				fmt.Fprintf(out, "whisper-cli: not found (%v)\n", err)
			} else {
				fmt.Fprintf(out, "whisper-cli: %s\n", engine.Executable)
			}
			if tools, err := audio.NewTools(app.log()); err != nil {
				fmt.Fprintln(out, "ffmpeg: not found; only 16 kHz mono WAV input works with the bundled engine")
			} else {
				fmt.Fprintf(out, "ffmpeg: %s\n", tools.FFmpeg)
			}
			return nil
		},
	}
}

func printGPUReport(w io.Writer, report gpu.Report) {
	fmt.Fprintf(w, "CUDA available: %t\n", report.Available)
	if !report.Available {
		fmt.Fprintln(w, "CUDA is NOT available. Transcription will run on CPU (use --device cpu).")
		if report.Reason != "" {
			fmt.Fprintf(w, "Reason: %s\n", report.Reason)
		}
		return
	}

	if report.CUDAVersion != "" {
		fmt.Fprintf(w, "CUDA version: %s\n", report.CUDAVersion)
	}
	if report.Driver != "" {
		fmt.Fprintf(w, "Driver version: %s\n", report.Driver)
	}
	fmt.Fprintf(w, "Number of GPUs: %d\n", len(report.Devices))
	for _, device := range report.Devices {
		fmt.Fprintf(w, "GPU %d: %s (%d MiB)\n", device.Index, device.Name, device.MemoryMB)
	}
}

package cli

import (
	"context"
	"fmt"
	"io"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/velkorra/whisper/internal/download"
	"github.com/velkorra/whisper/internal/whisper"
	"go.uber.org/zap"
)

func newSetupCmd(app *appState) *cobra.Command {
	var withVAD bool

	cmd := &cobra.Command{
		Use:   "setup",
		Short: "Download and verify a whisper model for the bundled engine",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			modelDir, err := app.modelStorageDir()
			if err != nil {
				return err
			}

			resolved, err := whisper.ResolveModel(app.opts.Model, modelDir)
			if err != nil {
				return err
			}
			if resolved.IsCustomPath {
				return fmt.Errorf("setup expects a named model; got custom path %s", resolved.Path)
			}
			if err := app.installModel(cmd.Context(), cmd.OutOrStdout(), resolved); err != nil {
				return err
			}

			if !withVAD {
				return nil
			}
			vad, err := whisper.ResolveVADModel(modelDir)
			if err != nil {
				return err
			}
			return app.installModel(cmd.Context(), cmd.OutOrStdout(), vad)
		},
	}

	bindModelFlags(cmd, app)
	cmd.Flags().BoolVar(&withVAD, "vad", false, "Also install the Silero VAD model used by --vad-filter")

	return cmd
}

// installModel verifies an existing copy against its checksum and downloads
// the model when it is missing or corrupt.
func (a *appState) installModel(ctx context.Context, out io.Writer, resolved whisper.ResolvedModel) error {
	expectedChecksum := resolved.SHA256
	if expectedChecksum == "" && resolved.SHA256URL != "" {
		checksum, err := download.ResolveExpectedChecksum(ctx, resolved.SHA256URL, filepath.Base(resolved.Path), nil)
		if err != nil {
			return fmt.Errorf("resolve checksum for model %s: %w", resolved.Name, err)
		}
		expectedChecksum = checksum
	}

	if !resolved.NeedsDownload && expectedChecksum != "" {
		if err := download.VerifyFileChecksum(resolved.Path, expectedChecksum); err != nil {
			a.log().Warn("model checksum verification failed; downloading fresh copy", zap.String("model", resolved.Name), zap.Error(err))
			resolved.NeedsDownload = true
		}
	}

	if !resolved.NeedsDownload {
		a.log().Info("model already present", zap.String("model", resolved.Name), zap.String("path", resolved.Path))
		fmt.Fprintf(out, "Model %s already present at %s\n", resolved.Name, resolved.Path)
		return nil
	}

	a.log().Info("downloading model", zap.String("model", resolved.Name), zap.String("path", resolved.Path))
	if err := download.DownloadFile(ctx, download.Options{
		URL:            resolved.URL,
		Destination:    resolved.Path,
		ExpectedSHA256: expectedChecksum,
		ChecksumURL:    resolved.SHA256URL,
		Label:          "Downloading " + resolved.Name,
		NoProgress:     a.noProgress,
		Logger:         a.log(),
	}); err != nil {
		return fmt.Errorf("download model %s: %w", resolved.Name, err)
	}

	fmt.Fprintf(out, "Model %s installed at %s\n", resolved.Name, resolved.Path)
	return nil
}

package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/velkorra/whisper/internal/config"
	"github.com/velkorra/whisper/internal/gpu"
	"github.com/velkorra/whisper/internal/logging"
	"github.com/velkorra/whisper/internal/output"
	"github.com/velkorra/whisper/internal/platform"
	"github.com/velkorra/whisper/internal/transcribe"
	"github.com/velkorra/whisper/internal/version"
	"github.com/velkorra/whisper/internal/whisper"
	"go.uber.org/zap"
	"golang.org/x/term"
)

type appState struct {
	opts       transcribe.Options
	format     string
	verbose    bool
	quiet      bool
	jsonLogs   bool
	noProgress bool
	noHistory  bool
	configPath string
	dataDir    string

	runID  string
	logger *zap.Logger
	now    func() time.Time
	out    io.Writer
	getenv func(string) string

	runFn       func(ctx context.Context, opts transcribe.Options) (transcribe.Report, error)
	detectGPUFn func(ctx context.Context) gpu.Report
}

func NewRootCmd() *cobra.Command {
	return newRootCmd(newAppState())
}

func newAppState() *appState {
	app := &appState{
		opts:   transcribe.DefaultOptions(),
		format: string(output.FormatTXT),
		now:    time.Now,
		out:    os.Stdout,
		getenv: os.Getenv,
	}
	app.runFn = app.runTranscription
	app.detectGPUFn = gpu.Detect
	return app
}

func newRootCmd(app *appState) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "transcribe <audio-file>",
		Short: "Transcribe an audio file with whisper",
		Long: "Transcribe an audio file with a whisper model.\n\n" +
			"The bundled engine runs whisper.cpp locally; --engine sidecar posts audio to a\n" +
			"faster-whisper HTTP service and --engine openai uses any OpenAI-compatible API.",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       version.Resolve(),
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return app.initialize(cmd)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			app.out = cmd.OutOrStdout()
			return app.runTranscribe(cmd.Context(), args[0])
		},
	}

	cmd.SetVersionTemplate("{{.Name}} v{{.Version}}\n")

	bindLoggingFlags(cmd, app)
	bindTranscriptionFlags(cmd, app)

	cmd.AddCommand(newSetupCmd(app))
	cmd.AddCommand(newModelsCmd(app))
	cmd.AddCommand(newCheckCmd(app))
	cmd.AddCommand(newHistoryCmd(app))
	cmd.AddCommand(newVersionCmd())

	return cmd
}

func bindLoggingFlags(cmd *cobra.Command, app *appState) {
	flags := cmd.PersistentFlags()
	flags.BoolVar(&app.verbose, "verbose", app.verbose, "Enable verbose logs")
	flags.BoolVarP(&app.quiet, "quiet", "q", app.quiet, "Only log warnings and errors")
	flags.BoolVar(&app.jsonLogs, "json", app.jsonLogs, "Enable JSON logging")
	flags.BoolVar(&app.noProgress, "no-progress", app.noProgress, "Disable progress indicators")
	flags.StringVar(&app.configPath, "config", app.configPath, "YAML config file (default: $XDG_CONFIG_HOME/transcribe/config.yaml)")
	flags.StringVar(&app.dataDir, "data-dir", app.dataDir, "Directory for the run history database")
}

func bindModelFlags(cmd *cobra.Command, app *appState) {
	cmd.Flags().StringVar(&app.opts.Model, "model", app.opts.Model, "Model name ("+strings.Join(whisper.ModelNames(), ", ")+") or model file path")
	cmd.Flags().StringVar(&app.opts.ModelDir, "model-dir", app.opts.ModelDir, "Directory where models are stored")
}

func bindTranscriptionFlags(cmd *cobra.Command, app *appState) {
	bindModelFlags(cmd, app)

	flags := cmd.Flags()
	flags.StringVar(&app.opts.Language, "language", app.opts.Language, "Language code (auto|en|de|ru|...); auto detects it")
	flags.StringVar(&app.opts.Device, "device", app.opts.Device, "Compute device: "+strings.Join(transcribe.Devices, "|"))
	flags.StringVar(&app.opts.ComputeType, "compute-type", app.opts.ComputeType, "Compute type: "+strings.Join(transcribe.ComputeTypes, "|")+"; int8 saves memory on large files")
	flags.IntVar(&app.opts.BeamSize, "beam-size", app.opts.BeamSize, "Beam size for decoding; 1-3 is faster and less prone to loops on long files")
	flags.BoolVar(&app.opts.VADFilter, "vad-filter", app.opts.VADFilter, "Skip silence with voice activity detection (recommended for large files)")
	flags.StringVar(&app.opts.VADModel, "vad-model", app.opts.VADModel, "VAD model file for the bundled engine")
	flags.StringVar(&app.opts.OutputFile, "output-file", app.opts.OutputFile, "Where to save the transcript (default: <audio>_transcribed_fw.<format>)")
	flags.StringVar(&app.format, "format", app.format, "Output format: txt|srt|vtt|json")
	flags.BoolVar(&app.opts.ShowFullText, "show-full-text", app.opts.ShowFullText, "Print the whole transcript instead of a preview")
	flags.StringVar(&app.opts.Engine, "engine", app.opts.Engine, "Engine: "+strings.Join(transcribe.Engines, "|"))
	flags.StringVar(&app.opts.ServerURL, "server-url", app.opts.ServerURL, "Base URL for the sidecar or OpenAI-compatible engine")
	flags.StringVar(&app.opts.APIKey, "api-key", app.opts.APIKey, "API key for the openai engine")
	flags.BoolVar(&app.opts.AutoDownload, "auto-download", app.opts.AutoDownload, "Automatically download missing models")
	flags.BoolVar(&app.opts.SilenceGate, "silence-gate", app.opts.SilenceGate, "Detect near-silent WAV audio and skip transcription")
	flags.Float64Var(&app.opts.SilenceDBFS, "silence-threshold-dbfs", app.opts.SilenceDBFS, "Silence gate threshold in dBFS")
	flags.BoolVar(&app.noHistory, "no-history", app.noHistory, "Do not record this run in the history database")
}

// initialize layers .env, environment and config file values under the
// flags, then builds the logger.
func (a *appState) initialize(cmd *cobra.Command) error {
	envFile, err := config.LoadDotEnv()
	if err != nil {
		return err
	}

	getenv := a.getenv
	if getenv == nil {
		getenv = os.Getenv
	}

	configPath, explicit := a.configPath, a.configPath != ""
	if !explicit {
		if fromEnv := strings.TrimSpace(getenv(config.EnvConfig)); fromEnv != "" {
			configPath, explicit = fromEnv, true
		} else if defaultPath, err := platform.ResolveConfigPath(); err == nil {
			configPath = defaultPath
		}
	}
	file, err := config.Load(configPath, explicit)
	if err != nil {
		return err
	}

	fromEnv, err := config.Apply(cmd.Flags(), config.EnvValues(getenv))
	if err != nil {
		return fmt.Errorf("environment: %w", err)
	}
	fromFile, err := config.Apply(cmd.Flags(), file.Values())
	if err != nil {
		return fmt.Errorf("config %s: %w", configPath, err)
	}

	a.runID = uuid.NewString()
	logger, err := logging.New(logging.Options{Verbose: a.verbose, Quiet: a.quiet, JSON: a.jsonLogs, RunID: a.runID})
	if err != nil {
		return fmt.Errorf("initialize logger: %w", err)
	}
	a.logger = logger

	if envFile != "" {
		logger.Debug("loaded environment file", zap.String("path", envFile))
	}
	if len(fromEnv) > 0 {
		logger.Debug("settings from environment", zap.Strings("flags", fromEnv))
	}
	if len(fromFile) > 0 {
		logger.Debug("settings from config file", zap.String("path", configPath), zap.Strings("flags", fromFile))
	}
	return nil
}

func (a *appState) modelStorageDir() (string, error) {
	dir, err := platform.ResolveModelDir(a.opts.ModelDir)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create model directory %s: %w", dir, err)
	}
	return dir, nil
}

func (a *appState) log() *zap.Logger {
	if a.logger == nil {
		return zap.NewNop()
	}
	return a.logger
}

func (a *appState) progressEnabled() bool {
	if a.noProgress {
		return false
	}
	return term.IsTerminal(int(os.Stderr.Fd()))
}

func (a *appState) outWriter() io.Writer {
	if a.out == nil {
		return os.Stdout
	}
	return a.out
}

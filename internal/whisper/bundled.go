package whisper

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"runtime"
	"strconv"
	"strings"
	"sync"

	"github.com/velkorra/whisper/internal/platform"
	"go.uber.org/zap"
)

const WhisperPathEnv = "TRANSCRIBE_WHISPER_PATH"

var (
	segmentLinePattern  = regexp.MustCompile(`^\[(\d+):(\d{2}):(\d{2})[.,](\d{3}) --> (\d+):(\d{2}):(\d{2})[.,](\d{3})\]\s?(.*)$`)
	detectedLangPattern = regexp.MustCompile(`auto-detected language: ([a-z]{2,3}) \(p = ([0-9.]+)\)`)
)

// BundledEngine runs a whisper.cpp whisper-cli binary and streams the
// timestamped segments it prints on stdout.
type BundledEngine struct {
	Executable string
	Logger     *zap.Logger
}

func NewBundledEngine(logger *zap.Logger) (*BundledEngine, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	if override := strings.TrimSpace(os.Getenv(WhisperPathEnv)); override != "" {
		if err := ensureExecutable(override); err != nil {
			return nil, fmt.Errorf("%w: %s is not executable: %v", ErrEngineUnavailable, WhisperPathEnv, err)
		}
		return &BundledEngine{Executable: override, Logger: logger}, nil
	}

	self, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("resolve transcribe executable path: %w", err)
	}

	whisperExe, err := ResolveBundledEnginePath(self)
	if err != nil {
		if onPath, lookErr := exec.LookPath(engineBinaryName()); lookErr == nil {
			return &BundledEngine{Executable: onPath, Logger: logger}, nil
		}
		return nil, err
	}

	return &BundledEngine{Executable: whisperExe, Logger: logger}, nil
}

func ResolveBundledEnginePath(selfExecutable string) (string, error) {
	for _, candidate := range EnginePathCandidates(selfExecutable) {
		if err := ensureExecutable(candidate); err == nil {
			return candidate, nil
		}
	}

	return "", fmt.Errorf("%w: whisper engine not found near %s; expected ../libexec/whisper/%s or set %s", ErrEngineUnavailable, selfExecutable, engineBinaryName(), WhisperPathEnv)
}

func EnginePathCandidates(selfExecutable string) []string {
	binDir := filepath.Dir(selfExecutable)
	engineName := engineBinaryName()

	return []string{
		filepath.Join(binDir, "..", "libexec", "whisper", engineName),
		filepath.Join(binDir, "libexec", "whisper", engineName),
		filepath.Join(binDir, "packaging", "whisper", platform.CurrentRuntime().Target(), engineName),
		filepath.Join(binDir, engineName),
	}
}

func (b *BundledEngine) Name() string {
	return EngineBundled
}

func (b *BundledEngine) Transcribe(ctx context.Context, req Request, onSegment SegmentFunc) (Info, error) {
	if strings.TrimSpace(req.AudioPath) == "" {
		return Info{}, errors.New("audio path is required")
	}
	if strings.TrimSpace(req.ModelPath) == "" {
		return Info{}, errors.New("model path is required")
	}
	if err := ensureExecutable(b.Executable); err != nil {
		return Info{}, fmt.Errorf("%w: whisper engine missing or not executable: %v", ErrEngineUnavailable, err)
	}

	logger := b.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if req.VADFilter && req.VAD.ModelPath == "" {
		logger.Warn("VAD filter requested but no VAD model configured; transcribing without VAD")
	}
	if req.ComputeType != "" {
		logger.Debug("whisper.cpp precision follows the model file; compute type not forwarded", zap.String("compute_type", req.ComputeType))
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	args := bundledArgs(req)
	cmd := exec.CommandContext(runCtx, b.Executable, args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return Info{}, fmt.Errorf("open whisper stdout: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return Info{}, fmt.Errorf("open whisper stderr: %w", err)
	}

	logger.Debug("running whisper engine", zap.String("engine", b.Executable), zap.Strings("args", args))
	if err := cmd.Start(); err != nil {
		return Info{}, fmt.Errorf("start whisper engine: %w", err)
	}

	diag := &stderrWatcher{tail: tailBuffer{limit: 16 * 1024}}
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		diag.consume(stderr)
	}()

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	var sinkErr error
	index := 0
	for scanner.Scan() {
		seg, ok := parseSegmentLine(scanner.Text())
		if !ok {
			continue
		}
		seg.Index = index
		index++
		if err := emit(onSegment, seg); err != nil {
			sinkErr = err
			break
		}
	}
	scanErr := scanner.Err()
	if sinkErr != nil || scanErr != nil {
		cancel()
		_, _ = io.Copy(io.Discard, stdout)
	}

	wg.Wait()
	waitErr := cmd.Wait()

	if sinkErr != nil {
		return Info{}, sinkErr
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return Info{}, ctxErr
	}
	if waitErr != nil {
		return Info{}, classifyEngineFailure(b.Executable, waitErr, diag.tail.String(), req.Device)
	}
	if scanErr != nil {
		return Info{}, fmt.Errorf("read whisper output: %w", scanErr)
	}

	info := Info{Language: diag.language, LanguageProbability: diag.probability}
	if !req.AutoLanguage() {
		info.Language = strings.ToLower(strings.TrimSpace(req.Language))
		info.LanguageProbability = 1
	}
	return info, nil
}

func bundledArgs(req Request) []string {
	args := []string{"-m", req.ModelPath, "-f", req.AudioPath}

	// whisper-cli defaults to English rather than detection.
	lang := "auto"
	if !req.AutoLanguage() {
		lang = strings.ToLower(strings.TrimSpace(req.Language))
	}
	args = append(args, "-l", lang)

	if req.BeamSize > 0 {
		args = append(args, "-bs", strconv.Itoa(req.BeamSize))
	}

	d := req.Decoding
	args = append(args, "-tp", formatFloat(d.Temperature))
	if d.Temperature == 0 {
		args = append(args, "-nf")
	}
	if !d.ConditionOnPreviousText {
		args = append(args, "-mc", "0")
	}
	if d.CompressionRatioThreshold > 0 {
		args = append(args, "-et", formatFloat(d.CompressionRatioThreshold))
	}
	if d.NoSpeechThreshold > 0 {
		args = append(args, "-nth", formatFloat(d.NoSpeechThreshold))
	}

	if strings.EqualFold(req.Device, "cpu") {
		args = append(args, "-ng")
	}

	if req.VADFilter && req.VAD.ModelPath != "" {
		args = append(args, "--vad", "--vad-model", req.VAD.ModelPath)
		if req.VAD.MinSilenceDurationMS > 0 {
			args = append(args, "--vad-min-silence-duration-ms", strconv.Itoa(req.VAD.MinSilenceDurationMS))
		}
		if req.VAD.SpeechPadMS > 0 {
			args = append(args, "--vad-speech-pad-ms", strconv.Itoa(req.VAD.SpeechPadMS))
		}
	}

	return args
}

func parseSegmentLine(line string) (Segment, bool) {
	match := segmentLinePattern.FindStringSubmatch(strings.TrimRight(line, "\r"))
	if match == nil {
		return Segment{}, false
	}

	return Segment{
		Start: clockSeconds(match[1], match[2], match[3], match[4]),
		End:   clockSeconds(match[5], match[6], match[7], match[8]),
		Text:  match[9],
	}, true
}

func clockSeconds(h, m, s, ms string) float64 {
	hours, _ := strconv.Atoi(h)
	minutes, _ := strconv.Atoi(m)
	seconds, _ := strconv.Atoi(s)
	millis, _ := strconv.Atoi(ms)
	return float64(hours*3600+minutes*60+seconds) + float64(millis)/1000
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

type stderrWatcher struct {
	tail        tailBuffer
	language    string
	probability float64
}

func (w *stderrWatcher) consume(r io.Reader) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 16*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		w.tail.WriteLine(line)
		if match := detectedLangPattern.FindStringSubmatch(line); match != nil {
			w.language = match[1]
			w.probability, _ = strconv.ParseFloat(match[2], 64)
		}
	}
	_, _ = io.Copy(io.Discard, r)
}

// tailBuffer keeps the last limit bytes of engine diagnostics.
type tailBuffer struct {
	limit int
	buf   []byte
}

func (t *tailBuffer) WriteLine(line string) {
	t.buf = append(t.buf, line...)
	t.buf = append(t.buf, '\n')
	if over := len(t.buf) - t.limit; t.limit > 0 && over > 0 {
		t.buf = t.buf[over:]
	}
}

func (t *tailBuffer) String() string {
	return strings.TrimSpace(string(t.buf))
}

func classifyEngineFailure(executable string, err error, stderr, device string) error {
	switch {
	case isMissingSharedLibraryError(stderr):
		return fmt.Errorf("whisper engine at %s is missing required shared libraries (%s); rebuild whisper-cli with BUILD_SHARED_LIBS=OFF or install its runtime libraries", executable, stderr)
	case isIllegalInstructionError(stderr) || isIllegalInstructionError(err.Error()):
		return fmt.Errorf("whisper engine crashed with an illegal CPU instruction; " +
			"your CPU may lack required instruction set extensions; " +
			"set " + WhisperPathEnv + " to a whisper-cli binary built for your CPU")
	case isGPUError(stderr) && !strings.EqualFold(device, "cpu"):
		return fmt.Errorf("whisper engine failed to use the GPU (%s); check `transcribe check` or rerun with --device cpu", lastLine(stderr))
	case isOutOfMemoryError(stderr):
		return fmt.Errorf("whisper engine ran out of memory (%s); try a smaller model, --compute-type int8 or --vad-filter", lastLine(stderr))
	default:
		return fmt.Errorf("whisper transcribe failed: %w (%s)", err, lastLine(stderr))
	}
}

func engineBinaryName() string {
	if runtime.GOOS == "windows" {
		return "whisper-cli.exe"
	}
	return "whisper-cli"
}

func ensureExecutable(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if info.IsDir() {
		return fmt.Errorf("%s is a directory", path)
	}
	if runtime.GOOS != "windows" && info.Mode()&0o111 == 0 {
		return fmt.Errorf("%s is not executable", path)
	}
	return nil
}

func containsAny(value string, patterns ...string) bool {
	value = strings.ToLower(strings.TrimSpace(value))
	if value == "" {
		return false
	}
	for _, pattern := range patterns {
		if strings.Contains(value, pattern) {
			return true
		}
	}
	return false
}

func isMissingSharedLibraryError(stderr string) bool {
	return containsAny(stderr,
		"error while loading shared libraries",
		"cannot open shared object file",
		"dyld: library not loaded",
		"image not found",
	)
}

func isIllegalInstructionError(stderr string) bool {
	return containsAny(stderr, "illegal instruction")
}

func isGPUError(stderr string) bool {
	return containsAny(stderr, "cuda error", "no cuda-capable device", "cudamalloc failed", "ggml_cuda_init: failed")
}

func isOutOfMemoryError(stderr string) bool {
	return containsAny(stderr, "out of memory", "failed to allocate")
}

func lastLine(text string) string {
	text = strings.TrimSpace(text)
	if i := strings.LastIndexByte(text, '\n'); i >= 0 {
		return text[i+1:]
	}
	return text
}

package output

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/samber/lo"
)

type Format string

const (
	FormatTXT  Format = "txt"
	FormatSRT  Format = "srt"
	FormatVTT  Format = "vtt"
	FormatJSON Format = "json"
)

const (
	defaultSuffix = "_transcribed_fw"
	backupSuffix  = ".backup"

	DefaultPreviewChars = 200
)

var Formats = []Format{FormatTXT, FormatSRT, FormatVTT, FormatJSON}

func ParseFormat(value string) (Format, error) {
	format := Format(strings.ToLower(strings.TrimSpace(value)))
	if format == "" {
		return FormatTXT, nil
	}
	if !lo.Contains(Formats, format) {
		return "", fmt.Errorf("unsupported output format %q (expected one of %s)", value, strings.Join(lo.Map(Formats, func(f Format, _ int) string { return string(f) }), ", "))
	}
	return format, nil
}

// DefaultPath names the output after the audio file, relative to the
// working directory.
func DefaultPath(audioPath string, format Format) string {
	if format == "" {
		format = FormatTXT
	}
	base := filepath.Base(audioPath)
	// Leading dots belong to the name, so ".mp3" has no extension.
	stem := strings.TrimLeft(base, ".")
	base = base[:len(base)-len(stem)] + strings.TrimSuffix(stem, filepath.Ext(stem))
	return base + defaultSuffix + "." + string(format)
}

// SaveWithBackup writes data to path. An existing file is first renamed to
// path+".backup", replacing any older backup. The backup path is returned
// when one was made.
func SaveWithBackup(path string, data []byte) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", errors.New("output path is empty")
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return "", fmt.Errorf("create output directory: %w", err)
		}
	}

	backup := ""
	info, err := os.Stat(path)
	switch {
	case err == nil:
		if info.IsDir() {
			return "", fmt.Errorf("output path %s is a directory", path)
		}
		backup = path + backupSuffix
		if err := os.Rename(path, backup); err != nil {
			return "", fmt.Errorf("back up existing output: %w", err)
		}
	case !errors.Is(err, os.ErrNotExist):
		return "", fmt.Errorf("stat output path: %w", err)
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return backup, fmt.Errorf("write transcript: %w", err)
	}
	return backup, nil
}

// Preview shortens text to n runes, marking the cut with "...".
func Preview(text string, n int) (string, bool) {
	if n <= 0 || utf8.RuneCountInString(text) <= n {
		return text, false
	}
	runes := []rune(text)
	return string(runes[:n]) + "...", true
}

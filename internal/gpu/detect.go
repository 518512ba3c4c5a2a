// Package gpu reports CUDA devices visible to the NVIDIA driver.
package gpu

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
)

const defaultBinary = "nvidia-smi"

var cudaVersionPattern = regexp.MustCompile(`CUDA Version:\s*([0-9]+(?:\.[0-9]+)*)`)

type Device struct {
	Index    int
	Name     string
	MemoryMB int
}

type Report struct {
	Available   bool
	Driver      string
	CUDAVersion string
	Devices     []Device
	// Reason explains why no device is available.
	Reason string
}

type Detector struct {
	// Binary defaults to nvidia-smi on PATH.
	Binary string
}

func Detect(ctx context.Context) Report {
	return Detector{}.Detect(ctx)
}

// Detect never fails: a missing driver or tool is reported as an
// unavailable GPU.
func (d Detector) Detect(ctx context.Context) Report {
	binary := d.Binary
	if binary == "" {
		path, err := exec.LookPath(defaultBinary)
		if err != nil {
			return Report{Reason: "nvidia-smi not found; NVIDIA driver is not installed or not visible in this container"}
		}
		binary = path
	}

	out, err := run(ctx, binary, "--query-gpu=index,name,driver_version,memory.total", "--format=csv,noheader,nounits")
	if err != nil {
		return Report{Reason: err.Error()}
	}

	devices, driver, err := parseQuery(out)
	if err != nil {
		return Report{Reason: err.Error()}
	}
	if len(devices) == 0 {
		return Report{Driver: driver, Reason: "no CUDA devices reported by nvidia-smi"}
	}

	report := Report{Available: true, Driver: driver, Devices: devices}
	if banner, err := run(ctx, binary); err == nil {
		report.CUDAVersion = parseCUDAVersion(banner)
	}
	return report
}

func run(ctx context.Context, binary string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, binary, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	out, err := cmd.Output()
	if err != nil {
		detail := strings.TrimSpace(stderr.String())
		if detail == "" {
			detail = strings.TrimSpace(string(out))
		}
		return nil, fmt.Errorf("nvidia-smi failed: %v (%s)", err, detail)
	}
	return out, nil
}

func parseQuery(out []byte) ([]Device, string, error) {
	reader := csv.NewReader(bytes.NewReader(out))
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1

	var (
		devices []Device
		driver  string
	)
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, "", fmt.Errorf("parse nvidia-smi output: %w", err)
		}
		if len(record) < 3 {
			continue
		}

		index, err := strconv.Atoi(strings.TrimSpace(record[0]))
		if err != nil {
			return nil, "", fmt.Errorf("parse nvidia-smi device index %q: %w", record[0], err)
		}
		device := Device{Index: index, Name: strings.TrimSpace(record[1])}
		if len(record) > 3 {
			device.MemoryMB, _ = strconv.Atoi(strings.TrimSpace(record[3]))
		}
		if driver == "" {
			driver = strings.TrimSpace(record[2])
		}
		devices = append(devices, device)
	}
	return devices, driver, nil
}

func parseCUDAVersion(banner []byte) string {
	match := cudaVersionPattern.FindSubmatch(banner)
	if match == nil {
		return ""
	}
	return string(match[1])
}

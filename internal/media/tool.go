// Package media wraps the external audio tooling used by the acquisition
// pipeline: probing produced files and spot-decoding windows of them to
// detect corruption left behind by a bad decrypt.
package media

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// Tool is the decode-capable audio tool collaborator. The production
// implementation shells out to ffprobe/ffmpeg; tests substitute a scripted
// fake.
type Tool interface {
	// Probe returns the total playable duration of the file at path.
	Probe(ctx context.Context, path string) (time.Duration, error)

	// DecodeWindow decodes window seconds of audio starting at offset and
	// returns the number of decoder-reported error lines.
	DecodeWindow(ctx context.Context, path string, offset, window time.Duration) (int, error)
}

// ExecTool implements Tool by invoking ffprobe and ffmpeg as external
// processes.
type ExecTool struct {
	FFprobePath string
	FFmpegPath  string
}

// NewExecTool creates an ExecTool using the given binary paths, defaulting
// to ffprobe/ffmpeg on PATH.
func NewExecTool(ffprobePath, ffmpegPath string) *ExecTool {
	if ffprobePath == "" {
		ffprobePath = "ffprobe"
	}
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	return &ExecTool{FFprobePath: ffprobePath, FFmpegPath: ffmpegPath}
}

// Probe asks ffprobe for the container duration.
func (t *ExecTool) Probe(ctx context.Context, path string) (time.Duration, error) {
	cmd := exec.CommandContext(ctx, t.FFprobePath,
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path)

	out, err := cmd.Output()
	if err != nil {
		return 0, fmt.Errorf("probe failed for %s: %w", path, err)
	}

	raw := strings.TrimSpace(string(out))
	seconds, err := strconv.ParseFloat(raw, 64)
	if err != nil || seconds <= 0 {
		return 0, fmt.Errorf("probe returned no usable duration for %s: %q", path, raw)
	}

	return time.Duration(seconds * float64(time.Second)), nil
}

// DecodeWindow decodes a window of audio to the null muxer and counts the
// error lines ffmpeg reports on stderr. A clean window produces none.
func (t *ExecTool) DecodeWindow(
	ctx context.Context,
	path string,
	offset, window time.Duration,
) (int, error) {
	cmd := exec.CommandContext(ctx, t.FFmpegPath,
		"-v", "error",
		"-ss", formatSeconds(offset),
		"-t", formatSeconds(window),
		"-i", path,
		"-f", "null", "-")

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	// ffmpeg exits nonzero on hard failures but still decodes (and logs)
	// through recoverable stream errors, so the error line count is the
	// signal, not the exit code.
	runErr := cmd.Run()

	count := 0
	scanner := bufio.NewScanner(&stderr)
	for scanner.Scan() {
		if strings.TrimSpace(scanner.Text()) != "" {
			count++
		}
	}

	if runErr != nil && count == 0 {
		return 0, fmt.Errorf("decode window at %s failed for %s: %w", offset, path, runErr)
	}
	return count, nil
}

func formatSeconds(d time.Duration) string {
	return strconv.FormatFloat(d.Seconds(), 'f', 3, 64)
}

package convert

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"
)

// FFmpegConverter implements Converter by invoking ffmpeg as an external
// process. The encrypted input is decrypted in-flight using the key material
// from license negotiation and remuxed to the output container without
// re-encoding.
type FFmpegConverter struct {
	FFmpegPath string
	logger     *slog.Logger
}

// NewFFmpegConverter creates a converter using the given ffmpeg binary,
// defaulting to ffmpeg on PATH.
func NewFFmpegConverter(ffmpegPath string, logger *slog.Logger) *FFmpegConverter {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	return &FFmpegConverter{
		FFmpegPath: ffmpegPath,
		logger:     logger.With("component", "ffmpeg_converter"),
	}
}

// Convert runs the tool to completion, streaming progress from ffmpeg's
// machine-readable progress output. Cancelling ctx kills the process.
func (c *FFmpegConverter) Convert(ctx context.Context, st *SubTask, progress func(Progress)) error {
	args := []string{"-v", "error", "-y"}
	if st.Key != "" {
		args = append(args, "-audible_key", st.Key, "-audible_iv", st.IV)
	}
	args = append(args,
		"-i", st.InputPath,
		"-map_metadata", "0",
		"-codec", "copy",
		"-progress", "pipe:1",
		st.OutputPath,
	)

	cmd := exec.CommandContext(ctx, c.FFmpegPath, args...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("failed to attach to converter output: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start converter: %w", err)
	}

	c.logger.Debug("converter process started",
		"sub_task_id", st.ID,
		"input", st.InputPath,
		"output", st.OutputPath)

	// ffmpeg emits key=value blocks terminated by a progress= line; each
	// block is one update.
	cur := Progress{DurationMs: st.DurationMs}
	scanner := bufio.NewScanner(stdout)
	for scanner.Scan() {
		key, value, found := strings.Cut(strings.TrimSpace(scanner.Text()), "=")
		if !found {
			continue
		}
		switch key {
		case "out_time_us":
			if us, err := strconv.ParseInt(value, 10, 64); err == nil {
				cur.CurrentTimeMs = us / 1000
			}
		case "speed":
			if ratio, err := strconv.ParseFloat(strings.TrimSuffix(value, "x"), 64); err == nil {
				cur.SpeedRatio = ratio
			}
		case "progress":
			if progress != nil {
				progress(cur)
			}
		}
	}

	if err := cmd.Wait(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("converter exited with error: %w", err)
	}
	return nil
}

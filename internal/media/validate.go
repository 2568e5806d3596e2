package media

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"
)

// Validation parameters. A corrupted decrypt can yield a byte-complete file
// with decode errors scattered through the stream, so validation samples
// checkpoints across the whole duration instead of checking only the head.
const (
	// decodeWindow is how much audio is decoded at each checkpoint.
	decodeWindow = 10 * time.Second

	// abortThreshold stops sampling further checkpoints once the running
	// error count exceeds it; the file is already clearly corrupt.
	abortThreshold = 50
)

// ErrDurationUnknown is returned when the file's duration cannot be probed,
// which on its own marks the file unusable.
var ErrDurationUnknown = errors.New("could not determine media duration")

// CheckpointResult records the outcome of decoding one sampled window.
type CheckpointResult struct {
	Offset time.Duration `json:"offset"`
	Errors int           `json:"errors"`
}

// CorruptionError reports a failed validation with the per-checkpoint
// breakdown for diagnostics.
type CorruptionError struct {
	Path        string
	Total       int
	Checkpoints []CheckpointResult
}

// Error implements the error interface.
func (e *CorruptionError) Error() string {
	parts := make([]string, len(e.Checkpoints))
	for i, cp := range e.Checkpoints {
		parts[i] = fmt.Sprintf("%s=%d", cp.Offset, cp.Errors)
	}
	return fmt.Sprintf("%d decode errors at checkpoints [%s] in %s",
		e.Total, strings.Join(parts, " "), e.Path)
}

// Validator spot-checks produced audio files for decode corruption.
type Validator struct {
	tool   Tool
	logger *slog.Logger
}

// NewValidator creates a Validator using the given decode tool.
func NewValidator(tool Tool, logger *slog.Logger) *Validator {
	return &Validator{
		tool:   tool,
		logger: logger.With("component", "media_validator"),
	}
}

// Checkpoints returns the sampled offsets for a file of the given duration:
// 30 seconds in, the 25%/50%/75% marks, and near the end (duration minus 30
// seconds, floored at 60 seconds for short files), deduplicated and sorted.
func Checkpoints(duration time.Duration) []time.Duration {
	nearEnd := duration - 30*time.Second
	if nearEnd < 60*time.Second {
		nearEnd = 60 * time.Second
	}

	candidates := []time.Duration{
		30 * time.Second,
		duration / 4,
		duration / 2,
		duration * 3 / 4,
		nearEnd,
	}

	seen := make(map[time.Duration]struct{}, len(candidates))
	out := make([]time.Duration, 0, len(candidates))
	for _, c := range candidates {
		if _, dup := seen[c]; dup {
			continue
		}
		seen[c] = struct{}{}
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Validate probes the file and decodes a window at each checkpoint. The file
// is valid iff the total error count across all checkpoints is exactly zero.
// Sampling aborts early once the running count exceeds the hard threshold.
func (v *Validator) Validate(ctx context.Context, path string) error {
	duration, err := v.tool.Probe(ctx, path)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDurationUnknown, err)
	}

	log := v.logger.With("path", path, "duration", duration)
	log.Debug("validating media file")

	var results []CheckpointResult
	total := 0

	for _, offset := range Checkpoints(duration) {
		count, err := v.tool.DecodeWindow(ctx, path, offset, decodeWindow)
		if err != nil {
			return fmt.Errorf("validation decode at %s failed: %w", offset, err)
		}

		results = append(results, CheckpointResult{Offset: offset, Errors: count})
		total += count

		if total > abortThreshold {
			log.Warn("aborting validation early, file is clearly corrupt",
				"errors_so_far", total,
				"checkpoints_sampled", len(results))
			break
		}
	}

	if total != 0 {
		return &CorruptionError{Path: path, Total: total, Checkpoints: results}
	}

	log.Debug("media file validated clean", "checkpoints", len(results))
	return nil
}

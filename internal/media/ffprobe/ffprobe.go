package ffprobe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// Result represents the parsed output from an ffprobe inspection
type Result struct {
	Streams []Stream `json:"streams"`
	Format  Format   `json:"format"`
}

// Stream describes a single stream in the media container
type Stream struct {
	Index     int    `json:"index"`
	CodecName string `json:"codec_name"`
	CodecType string `json:"codec_type"`
	Duration  string `json:"duration"`
	Width     int    `json:"width"`
	Height    int    `json:"height"`
}

// Format captures container-level metadata extracted by ffprobe
type Format struct {
	Filename   string `json:"filename"`
	NBStreams  int    `json:"nb_streams"`
	Duration   string `json:"duration"`
	Size       string `json:"size"`
	FormatName string `json:"format_name"`
}

// DurationSeconds returns the container duration in seconds. When the
// container does not report one, the longest stream duration is used.
// Returns 0 when no usable duration is present.
func (r Result) DurationSeconds() float64 {
	if d := parseFloat(r.Format.Duration); !math.IsNaN(d) && d > 0 {
		return d
	}

	longest := 0.0
	for _, stream := range r.Streams {
		if d := parseFloat(stream.Duration); !math.IsNaN(d) && d > longest {
			longest = d
		}
	}
	return longest
}

// SizeBytes returns the reported container size in bytes, or 0 when unavailable
func (r Result) SizeBytes() int64 {
	size := parseFloat(r.Format.Size)
	if math.IsNaN(size) || size < 0 {
		return 0
	}
	return int64(size)
}

// VideoDimensions returns the width and height of the first video stream,
// or zeros when the container has none.
func (r Result) VideoDimensions() (int, int) {
	for _, stream := range r.Streams {
		if strings.EqualFold(stream.CodecType, "video") {
			return stream.Width, stream.Height
		}
	}
	return 0, 0
}

func parseFloat(value string) float64 {
	cleaned := strings.TrimSpace(value)
	if cleaned == "" {
		return 0
	}
	if parsed, err := strconv.ParseFloat(cleaned, 64); err == nil {
		return parsed
	}
	return math.NaN()
}

// Prober inspects media sources with ffprobe. Sources can be local paths
// or URLs, ffprobe handles both.
type Prober interface {
	// Probe runs a full inspection of the source
	Probe(ctx context.Context, source string) (Result, error)
	// Duration returns the playback length of the source in whole seconds
	Duration(ctx context.Context, source string) (int64, error)
}

type prober struct {
	binary  string
	timeout time.Duration
}

// NewProber creates a Prober around the given ffprobe binary.
// A bare binary name is resolved via PATH.
func NewProber(binary string, timeout time.Duration) Prober {
	binary = strings.TrimSpace(binary)
	if binary == "" {
		binary = "ffprobe"
	}
	return &prober{binary: binary, timeout: timeout}
}

// Probe runs a full inspection of the source
func (p *prober) Probe(ctx context.Context, source string) (Result, error) {
	source = strings.TrimSpace(source)
	if source == "" {
		return Result{}, errors.New("ffprobe: empty source")
	}

	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, p.binary,
		"-v", "error", "-hide_banner",
		"-show_format", "-show_streams",
		"-of", "json", "--", source)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return Result{}, fmt.Errorf("ffprobe %s: %w: %s", source, err, strings.TrimSpace(string(output)))
	}

	var result Result
	if err := json.Unmarshal(output, &result); err != nil {
		return Result{}, fmt.Errorf("ffprobe parse: %w", err)
	}
	return result, nil
}

// Duration returns the playback length of the source in whole seconds
func (p *prober) Duration(ctx context.Context, source string) (int64, error) {
	result, err := p.Probe(ctx, source)
	if err != nil {
		return 0, err
	}

	seconds := result.DurationSeconds()
	if math.IsNaN(seconds) || seconds <= 0 {
		return 0, fmt.Errorf("ffprobe %s: no usable duration reported", source)
	}
	return int64(seconds), nil
}

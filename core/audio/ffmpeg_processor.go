package audio

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"PIIReview/logger"
	"PIIReview/model"
)

// FFmpegProcessor implements Prober using a WAV fast path and ffprobe for everything else.
type FFmpegProcessor struct {
	ffmpegPath string
}

// NewFFmpegProcessor creates a new FFmpegProcessor.
func NewFFmpegProcessor(ffmpegPath string) *FFmpegProcessor {
	return &FFmpegProcessor{ffmpegPath: ffmpegPath}
}

// FFprobePath derives the ffprobe binary from the ffmpeg path.
func (p *FFmpegProcessor) FFprobePath() string {
	return strings.Replace(p.ffmpegPath, "ffmpeg", "ffprobe", 1)
}

// Duration returns the playable length of an artifact in seconds.
func (p *FFmpegProcessor) Duration(ctx context.Context, a *model.Artifact) (float64, error) {
	if a == nil || a.Size() == 0 {
		return 0, fmt.Errorf("%w: empty payload", ErrUndecodable)
	}

	data := a.Bytes()
	if IsWAV(data) {
		return WAVDuration(data)
	}

	// ffprobe needs a seekable file for containers such as webm
	tmp, err := os.CreateTemp("", "piireview-probe-*"+a.Ext())
	if err != nil {
		return 0, fmt.Errorf("create probe file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return 0, fmt.Errorf("write probe file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return 0, fmt.Errorf("close probe file: %w", err)
	}

	return p.GetAudioDuration(ctx, tmp.Name())
}

// ffprobeOutput defines the structure for ffprobe JSON output.
type ffprobeOutput struct {
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
}

// GetAudioDuration uses ffprobe to get the duration of an audio file in seconds.
func (p *FFmpegProcessor) GetAudioDuration(ctx context.Context, inputFile string) (float64, error) {
	args := []string{
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "json",
		inputFile,
	}

	cmd := exec.CommandContext(ctx, p.FFprobePath(), args...)
	var out bytes.Buffer
	var stderr bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}
		return 0, fmt.Errorf("%w: ffprobe failed for %s: %v: %s", ErrUndecodable, inputFile, err, strings.TrimSpace(stderr.String()))
	}

	var probeData ffprobeOutput
	if err := json.Unmarshal(out.Bytes(), &probeData); err != nil {
		return 0, fmt.Errorf("%w: unmarshal ffprobe output: %v", ErrUndecodable, err)
	}

	// live-recorded webm often reports N/A until remuxed
	if probeData.Format.Duration == "" || probeData.Format.Duration == "N/A" {
		logger.Debug("ffprobe 未返回时长", logger.String("file", inputFile))
		return 0, fmt.Errorf("%w: duration not found in ffprobe output", ErrUndecodable)
	}

	duration, err := strconv.ParseFloat(probeData.Format.Duration, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: parse duration %q: %v", ErrUndecodable, probeData.Format.Duration, err)
	}
	return duration, nil
}

package extract

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"imageocr/internal/imgproc"
	"imageocr/internal/preprocess"
)

// ErrNoFrame is returned by a FrameSampler when no frame exists at the requested time.
var ErrNoFrame = errors.New("no frame at requested time")

// FrameSampler reads single frames out of a video file.
type FrameSampler interface {
	Duration(ctx context.Context, path string) (time.Duration, error)
	FrameAt(ctx context.Context, path string, at time.Duration) (image.Image, error)
}

// FFmpegSampler samples frames with the ffprobe and ffmpeg binaries.
type FFmpegSampler struct {
	FFmpegPath  string
	FFprobePath string
}

// NewFFmpegSampler returns a sampler using the given binaries, falling back to PATH lookups.
func NewFFmpegSampler(ffmpeg, ffprobe string) FFmpegSampler {
	if ffmpeg == "" {
		ffmpeg = "ffmpeg"
	}
	if ffprobe == "" {
		ffprobe = "ffprobe"
	}
	return FFmpegSampler{FFmpegPath: ffmpeg, FFprobePath: ffprobe}
}

// Duration returns the container duration reported by ffprobe.
func (s FFmpegSampler) Duration(ctx context.Context, path string) (time.Duration, error) {
	cmd := exec.CommandContext(ctx, s.FFprobePath,
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		return 0, fmt.Errorf("ffprobe failed: %w: %s", err, strings.TrimSpace(stderr.String()))
	}
	secs, err := strconv.ParseFloat(strings.TrimSpace(string(out)), 64)
	if err != nil {
		return 0, fmt.Errorf("unreadable duration %q: %w", strings.TrimSpace(string(out)), err)
	}
	return time.Duration(secs * float64(time.Second)), nil
}

// FrameAt decodes the frame at offset at as PNG piped from ffmpeg.
func (s FFmpegSampler) FrameAt(ctx context.Context, path string, at time.Duration) (image.Image, error) {
	cmd := exec.CommandContext(ctx, s.FFmpegPath,
		"-v", "error",
		"-ss", strconv.FormatFloat(at.Seconds(), 'f', 3, 64),
		"-i", path,
		"-frames:v", "1",
		"-f", "image2pipe",
		"-vcodec", "png",
		"-")
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("ffmpeg failed at %s: %w: %s", at, err, strings.TrimSpace(stderr.String()))
	}
	if stdout.Len() == 0 {
		return nil, ErrNoFrame
	}
	return png.Decode(&stdout)
}

// extractVideo writes the clip to a private scratch directory, samples one
// frame per interval and reads each with the page recognizer. The scratch
// directory is removed on every return path.
func (d *Dispatcher) extractVideo(ctx context.Context, doc document) (outcome, error) {
	if d.frames == nil || d.page == nil {
		return outcome{}, errors.New("video extraction is not configured")
	}

	dir, err := os.MkdirTemp(d.opts.TempDir, "imageocr-video-*")
	if err != nil {
		return outcome{}, err
	}
	defer func() {
		if err := os.RemoveAll(dir); err != nil {
			d.log.Warn().Err(err).Str("dir", dir).Msg("Failed to remove video scratch directory")
		}
	}()

	path := filepath.Join(dir, "input."+doc.ext)
	if err := os.WriteFile(path, doc.content, 0o600); err != nil {
		return outcome{}, err
	}

	duration, err := d.frames.Duration(ctx, path)
	if err != nil {
		return outcome{}, err
	}

	var texts []string
	for at := time.Duration(0); at < duration; at += d.opts.VideoFrameInterval {
		if err := ctx.Err(); err != nil {
			return outcome{}, err
		}
		img, err := d.frames.FrameAt(ctx, path, at)
		if errors.Is(err, ErrNoFrame) {
			break
		}
		if err != nil {
			return outcome{}, err
		}
		text, err := d.readPage(ctx, imgproc.FromImage(img))
		if err != nil {
			return outcome{}, err
		}
		if strings.TrimSpace(text) != "" {
			texts = append(texts, text)
		}
	}

	d.log.Debug().Dur("duration", duration).Int("frames_with_text", len(texts)).Msg("Video sampled")
	return outcome{
		text:    strings.Join(texts, "\n\n"),
		message: fmt.Sprintf("Extracted text from %d video frames", len(texts)),
	}, nil
}

// readPage enhances a whole frame and recognizes it.
func (d *Dispatcher) readPage(ctx context.Context, frame *imgproc.Frame) (string, error) {
	enhanced, err := preprocess.EnhanceFrame(frame)
	if err != nil {
		return "", err
	}
	return d.page.Recognize(ctx, enhanced)
}

package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"

	"github.com/K3das/sparkbridge/asr"
)

var ErrInputTooLong = fmt.Errorf("audio input too long")

type CaptureOptions struct {
	// Format is passed to ffmpeg as the input format (-f), ie: "alsa",
	// "pulse", "avfoundation". Empty means Input is a file or URL.
	Format string `env:"FORMAT"`
	Input  string `env:"INPUT" envDefault:"default"`
	// MaxFileDuration, in seconds, rejects longer file inputs
	MaxFileDuration float64 `env:"MAX_FILE_DURATION" envDefault:"60"`
}

// Source returns an asr.AudioSource capturing from the configured input.
func (f *FFmpeg) Source(options CaptureOptions) asr.AudioSource {
	return &captureSource{ffmpeg: f, options: options}
}

type captureSource struct {
	ffmpeg  *FFmpeg
	options CaptureOptions
}

func (c *captureSource) Open(ctx context.Context) (io.ReadCloser, error) {
	if c.options.Format == "" && c.options.MaxFileDuration > 0 {
		duration, err := c.ffmpeg.FFprobeDurationFromFile(ctx, c.options.Input)
		if err != nil {
			return nil, fmt.Errorf("probing input: %w", err)
		}
		if duration > c.options.MaxFileDuration {
			return nil, fmt.Errorf("%w: %fs", ErrInputTooLong, duration)
		}
	}

	return c.ffmpeg.FFmpegCaptureAudio(ctx, c.options.Format, c.options.Input)
}

// FFmpegCaptureAudio streams the input as PCM16LE 16kHz mono. The process is
// killed when ctx is done or the returned reader is closed.
func (f *FFmpeg) FFmpegCaptureAudio(ctx context.Context, format, input string) (io.ReadCloser, error) {
	args := []string{"-hide_banner", "-loglevel", "error"}
	if format != "" {
		args = append(args, "-f", format)
	}
	args = append(args,
		"-i", input,
		"-ac", "1",
		"-ar", "16000",
		"-f", "s16le",
		"-",
	)

	ctx, cancel := context.WithCancel(ctx)
	cmd := exec.CommandContext(ctx, f.ffmpegBinary, args...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("creating stdout pipe: %w", err)
	}

	err = cmd.Start()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("starting ffmpeg: %w", err)
	}

	return &captureReader{
		ReadCloser: stdout,
		cmd:        cmd,
		cancel:     cancel,
	}, nil
}

type captureReader struct {
	io.ReadCloser
	cmd    *exec.Cmd
	cancel context.CancelFunc
	closed bool
}

func (r *captureReader) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true

	r.cancel()
	err := r.cmd.Wait()

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		// killed on purpose
		return nil
	}
	if err != nil {
		return fmt.Errorf("waiting for ffmpeg: %w", err)
	}
	return nil
}

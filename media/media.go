// Package media wraps ffmpeg and ffprobe for audio capture.
package media

import (
	"time"
)

const DefaultFFmpegBinary = "ffmpeg"
const DefaultFFprobeBinary = "ffprobe"

// DefaultCommandTimeout bounds one-shot commands such as probing, not
// captures.
const DefaultCommandTimeout = time.Second * 30

type BinaryOptions struct {
	FFmpeg  string `env:"FFMPEG_BINARY" envDefault:"ffmpeg"`
	FFprobe string `env:"FFPROBE_BINARY" envDefault:"ffprobe"`
}

type FFmpegOptions func(*FFmpeg)

type FFmpeg struct {
	ffmpegBinary   string
	ffprobeBinary  string
	commandTimeout time.Duration
}

func WithBinaries(binaries BinaryOptions) FFmpegOptions {
	return func(f *FFmpeg) {
		if binaries.FFmpeg != "" {
			f.ffmpegBinary = binaries.FFmpeg
		}
		if binaries.FFprobe != "" {
			f.ffprobeBinary = binaries.FFprobe
		}
	}
}

func WithCommandTimeout(timeout time.Duration) FFmpegOptions {
	return func(f *FFmpeg) {
		f.commandTimeout = timeout
	}
}

func NewFFmpeg(options ...FFmpegOptions) *FFmpeg {
	ffmpeg := &FFmpeg{
		ffmpegBinary:   DefaultFFmpegBinary,
		ffprobeBinary:  DefaultFFprobeBinary,
		commandTimeout: DefaultCommandTimeout,
	}

	for _, option := range options {
		option(ffmpeg)
	}

	return ffmpeg
}

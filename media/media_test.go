package media

import (
	"context"
	"errors"
	"io"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseProbeOutput(t *testing.T) {
	packets, err := parseProbeOutput([]byte(`{"packets":[
		{"pts_time":"0.000000","duration_time":"0.020000"},
		{"pts_time":"0.040000","duration_time":"0.020000"},
		{"pts_time":"0.020000","duration_time":"0.020000"}
	]}`))
	require.NoError(t, err)
	require.Len(t, packets, 3)

	duration, err := durationFromPackets(packets)
	require.NoError(t, err)
	assert.InDelta(t, 0.06, duration, 1e-9)
}

func TestParseProbeOutputInvalid(t *testing.T) {
	_, err := parseProbeOutput([]byte(`{"packets":[{"pts_time":"N/A","duration_time":"0.02"}]}`))
	assert.Error(t, err)

	_, err = parseProbeOutput([]byte(`nope`))
	assert.Error(t, err)
}

func TestDurationFromNoPackets(t *testing.T) {
	_, err := durationFromPackets(nil)
	assert.True(t, errors.Is(err, ErrFFprobeDurationInvalid))
}

func TestWithBinaries(t *testing.T) {
	f := NewFFmpeg(WithBinaries(BinaryOptions{FFmpeg: "/opt/ffmpeg"}))
	assert.Equal(t, "/opt/ffmpeg", f.ffmpegBinary)
	assert.Equal(t, DefaultFFprobeBinary, f.ffprobeBinary)
}

func TestCaptureFromLavfi(t *testing.T) {
	if _, err := exec.LookPath(DefaultFFmpegBinary); err != nil {
		t.Skip("ffmpeg not installed")
	}

	f := NewFFmpeg()
	r, err := f.FFmpegCaptureAudio(context.Background(), "lavfi", "sine=frequency=440:duration=0.5")
	require.NoError(t, err)

	data, err := io.ReadAll(r)
	require.NoError(t, err)
	require.NoError(t, r.Close())

	// 0.5s of 16kHz 16 bit mono
	assert.InDelta(t, 16000, len(data), 640)
}

func writeSineWav(t *testing.T, seconds string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sine.wav")
	out, err := exec.Command(DefaultFFmpegBinary, "-hide_banner", "-loglevel", "error",
		"-f", "lavfi", "-i", "sine=frequency=440:duration="+seconds, path).CombinedOutput()
	require.NoError(t, err, string(out))
	return path
}

func requireFFmpeg(t *testing.T) {
	t.Helper()
	for _, binary := range []string{DefaultFFmpegBinary, DefaultFFprobeBinary} {
		if _, err := exec.LookPath(binary); err != nil {
			t.Skipf("%s not installed", binary)
		}
	}
}

func TestSourceRejectsLongFile(t *testing.T) {
	requireFFmpeg(t)
	path := writeSineWav(t, "1")

	source := NewFFmpeg().Source(CaptureOptions{Input: path, MaxFileDuration: 0.5})
	_, err := source.Open(context.Background())
	assert.ErrorIs(t, err, ErrInputTooLong)
}

func TestSourceStreamsShortFile(t *testing.T) {
	requireFFmpeg(t)
	path := writeSineWav(t, "0.5")

	source := NewFFmpeg().Source(CaptureOptions{Input: path, MaxFileDuration: 1})
	r, err := source.Open(context.Background())
	require.NoError(t, err)

	data, err := io.ReadAll(r)
	require.NoError(t, err)
	require.NoError(t, r.Close())
	assert.InDelta(t, 16000, len(data), 640)
}

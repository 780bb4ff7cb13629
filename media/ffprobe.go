package media

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"
)

var ErrFFprobeDurationInvalid = fmt.Errorf("got no audio packets from ffprobe, likely a bad file")

type probePacket struct {
	PtsTime      string `json:"pts_time"`
	DurationTime string `json:"duration_time"`
}

type probeOutput struct {
	Packets []probePacket `json:"packets"`
}

// audioPacket is a probePacket with parsed timestamps, in seconds
type audioPacket struct {
	Pts      float64
	Duration float64
}

func (f *FFmpeg) ffprobeAudioPackets(ctx context.Context, filePath string) ([]audioPacket, error) {
	cmd := exec.CommandContext(ctx,
		f.ffprobeBinary,
		"-i", filePath,
		"-v", "error",
		"-select_streams", "a:0",
		"-print_format", "json",
		"-show_entries", "packet=pts_time,duration_time",
	)

	output, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("running ffprobe: %w", err)
	}

	return parseProbeOutput(output)
}

func parseProbeOutput(output []byte) ([]audioPacket, error) {
	var response probeOutput
	if err := json.Unmarshal(output, &response); err != nil {
		return nil, fmt.Errorf("parsing ffprobe json response: %w", err)
	}

	packets := make([]audioPacket, 0, len(response.Packets))
	for _, p := range response.Packets {
		pts, err := strconv.ParseFloat(p.PtsTime, 64)
		if err != nil {
			return nil, fmt.Errorf("parsing pts_time: %w", err)
		}
		duration, err := strconv.ParseFloat(p.DurationTime, 64)
		if err != nil {
			return nil, fmt.Errorf("parsing duration_time: %w", err)
		}
		packets = append(packets, audioPacket{Pts: pts, Duration: duration})
	}

	return packets, nil
}

// FFprobeDurationFromFile gets the duration of the first audio stream of the
// input file using ffprobe.
//
// Parses packet metadata to determine length: `max pts time + duration time`.
// Returns ErrFFprobeDurationInvalid if no packets.
//
// This uses packet metadata because some containers don't really include duration
// metadata (like recordings cut from a live capture), and it's more accurate to
// what is streamed to the recognizer.
func (f *FFmpeg) FFprobeDurationFromFile(ctx context.Context, filePath string) (float64, error) {
	ctx, cancel := context.WithTimeout(ctx, f.commandTimeout)
	defer cancel()

	packets, err := f.ffprobeAudioPackets(ctx, filePath)
	if err != nil {
		return 0, fmt.Errorf("getting packets: %w", err)
	}

	return durationFromPackets(packets)
}

func durationFromPackets(packets []audioPacket) (float64, error) {
	if len(packets) == 0 {
		return 0, ErrFFprobeDurationInvalid
	}

	last := packets[0]
	for _, p := range packets[1:] {
		if p.Pts > last.Pts {
			last = p
		}
	}

	return last.Pts + last.Duration, nil
}

// Package media wraps ffmpeg and ffprobe: probing, frame extraction, video assembly and
// audio restoration.
package media

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/andresmejia3/facereel/internal/frames"
	"github.com/andresmejia3/facereel/internal/types"
	"github.com/andresmejia3/facereel/internal/utils"
	"github.com/hashicorp/go-hclog"
)

const megabyte = 1024 * 1024

// ErrNoVideoStream is returned when a file has no video stream.
var ErrNoVideoStream = errors.New("no video stream")

// Info is what the pipeline needs to know about a video.
type Info struct {
	Width     int
	Height    int
	FPS       float64
	FrameRate string
	Frames    int
	Duration  float64
	HasAudio  bool
}

// FrameSink receives encoded frames during extraction.
type FrameSink interface {
	Put(index int, data []byte) (types.FrameRef, error)
}

type ExtractOptions struct {
	// Format is "png" or "jpg".
	Format string
	// FPS re-times the stream when > 0.
	FPS float64
	// Quality is the JPEG quality (1-100); ignored for png.
	Quality int
}

type AssembleOptions struct {
	Pattern     string
	StartNumber int
	FPS         float64
	Codec       string
	Quality     int
	Output      string
}

// Codec is the media backend of a run.
type Codec interface {
	Probe(ctx context.Context, path string) (Info, error)
	ExtractFrames(ctx context.Context, path string, sink FrameSink, opts ExtractOptions) (int, error)
	AssembleVideo(ctx context.Context, opts AssembleOptions) error
	RestoreAudio(ctx context.Context, original, video, output string) error
}

// FFmpeg shells out to the ffmpeg and ffprobe binaries.
type FFmpeg struct {
	FFmpegBin  string
	FFprobeBin string
	log        hclog.Logger
}

var _ Codec = (*FFmpeg)(nil)

func NewFFmpeg(ffmpegBin, ffprobeBin string, log hclog.Logger) *FFmpeg {
	if ffmpegBin == "" {
		ffmpegBin = "ffmpeg"
	}
	if ffprobeBin == "" {
		ffprobeBin = "ffprobe"
	}
	if log == nil {
		log = hclog.NewNullLogger()
	}
	return &FFmpeg{FFmpegBin: ffmpegBin, FFprobeBin: ffprobeBin, log: log}
}

type probeOutput struct {
	Streams []struct {
		CodecType     string `json:"codec_type"`
		Width         int    `json:"width"`
		Height        int    `json:"height"`
		RFrameRate    string `json:"r_frame_rate"`
		AvgFrameRate  string `json:"avg_frame_rate"`
		NbFrames      string `json:"nb_frames"`
		NbReadPackets string `json:"nb_read_packets"`
		Duration      string `json:"duration"`
	} `json:"streams"`
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
}

func (f *FFmpeg) probe(ctx context.Context, args ...string) (probeOutput, error) {
	cmd := utils.NewSafeCommand(ctx, f.FFprobeBin, append([]string{"-v", "error", "-of", "json"}, args...)...)
	out, err := cmd.Output()
	if err != nil {
		return probeOutput{}, fmt.Errorf("ffprobe: %w: %s", err, strings.TrimSpace(cmd.Logs()))
	}
	var res probeOutput
	if err := json.Unmarshal(out, &res); err != nil {
		return probeOutput{}, fmt.Errorf("ffprobe parse: %w", err)
	}
	return res, nil
}

// Probe reads stream metadata. The frame count comes from container metadata when present
// and from counting packets otherwise.
func (f *FFmpeg) Probe(ctx context.Context, path string) (Info, error) {
	res, err := f.probe(ctx, "-show_format", "-show_streams", "--", path)
	if err != nil {
		return Info{}, err
	}

	var info Info
	found := false
	for _, s := range res.Streams {
		switch s.CodecType {
		case "audio":
			info.HasAudio = true
		case "video":
			if found {
				continue
			}
			found = true
			info.Width, info.Height = s.Width, s.Height
			info.FrameRate = s.RFrameRate
			info.FPS = ParseFrameRate(s.RFrameRate)
			if info.FPS == 0 {
				info.FrameRate = s.AvgFrameRate
				info.FPS = ParseFrameRate(s.AvgFrameRate)
			}
			info.Frames, _ = strconv.Atoi(s.NbFrames)
			info.Duration, _ = strconv.ParseFloat(s.Duration, 64)
		}
	}
	if !found {
		return Info{}, fmt.Errorf("%w in %s", ErrNoVideoStream, path)
	}
	if info.Duration == 0 {
		info.Duration, _ = strconv.ParseFloat(res.Format.Duration, 64)
	}
	if info.Frames <= 0 {
		// Slow path: metadata missing (common for mkv/webm).
		f.log.Debug("frame count missing from metadata, counting packets", "path", path)
		counted, err := f.probe(ctx, "-select_streams", "v:0", "-count_packets", "-show_entries", "stream=nb_read_packets", "--", path)
		if err == nil && len(counted.Streams) > 0 {
			info.Frames, _ = strconv.Atoi(counted.Streams[0].NbReadPackets)
		}
	}
	return info, nil
}

// ParseFrameRate parses ffprobe rates like "30000/1001" or "25". It returns 0 when unknown.
func ParseFrameRate(rate string) float64 {
	rate = strings.TrimSpace(rate)
	if rate == "" {
		return 0
	}
	num, den, ok := strings.Cut(rate, "/")
	n, err := strconv.ParseFloat(num, 64)
	if err != nil {
		return 0
	}
	if !ok {
		return n
	}
	d, err := strconv.ParseFloat(den, 64)
	if err != nil || d == 0 {
		return 0
	}
	v := n / d
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}

// ExtractFrames decodes path into sink, numbering frames from frames.FirstIndex in stream order.
func (f *FFmpeg) ExtractFrames(ctx context.Context, path string, sink FrameSink, opts ExtractOptions) (int, error) {
	format, err := frames.NormalizeFormat(opts.Format)
	if err != nil {
		return 0, err
	}
	args := []string{"-hide_banner", "-loglevel", "error", "-i", path}
	if opts.FPS > 0 {
		args = append(args, "-vf", "fps="+strconv.FormatFloat(opts.FPS, 'f', -1, 64))
	}
	split := SplitPNG
	if format == "png" {
		args = append(args, "-f", "image2pipe", "-vcodec", "png", "-")
	} else {
		split = SplitJpeg
		args = append(args, "-f", "image2pipe", "-vcodec", "mjpeg", "-q:v", strconv.Itoa(jpegQScale(opts.Quality)), "-")
	}

	cmd := utils.NewSafeCommand(ctx, f.FFmpegBin, args...)
	out, err := cmd.StdoutPipe()
	if err != nil {
		return 0, fmt.Errorf("ffmpeg stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return 0, fmt.Errorf("start ffmpeg: %w", err)
	}

	scanner := bufio.NewScanner(out)
	scanner.Buffer(make([]byte, megabyte), 256*megabyte)
	scanner.Split(split)

	index := frames.FirstIndex
	count := 0
	var putErr error
	for scanner.Scan() {
		if _, putErr = sink.Put(index, scanner.Bytes()); putErr != nil {
			break
		}
		index++
		count++
	}
	scanErr := scanner.Err()
	if putErr != nil || scanErr != nil {
		// Stop ffmpeg before waiting, it may be blocked writing to a full pipe.
		if cmd.Process != nil {
			_ = cmd.Process.Kill()
		}
	}
	waitErr := cmd.Wait()

	switch {
	case putErr != nil:
		return count, putErr
	case scanErr != nil:
		return count, fmt.Errorf("frame scanner failed: %w", scanErr)
	case waitErr != nil:
		return count, fmt.Errorf("ffmpeg extract: %w: %s", waitErr, strings.TrimSpace(cmd.Logs()))
	}
	f.log.Debug("extracted frames", "path", path, "frames", count, "format", format)
	return count, nil
}

// jpegQScale maps a 1-100 quality to ffmpeg's 2-31 mjpeg qscale (lower is better).
func jpegQScale(quality int) int {
	if quality <= 0 || quality > 100 {
		quality = 95
	}
	q := 31 - int(math.Round(float64(quality)*29/100))
	if q < 2 {
		q = 2
	}
	return q
}

// AssembleVideo encodes the numbered sequence at the given rate.
func (f *FFmpeg) AssembleVideo(ctx context.Context, opts AssembleOptions) error {
	if opts.FPS <= 0 {
		return fmt.Errorf("assemble: invalid frame rate %v", opts.FPS)
	}
	codec := opts.Codec
	if codec == "" {
		codec = "libx264"
	}
	args := []string{
		"-hide_banner", "-loglevel", "error", "-y",
		"-framerate", strconv.FormatFloat(opts.FPS, 'f', -1, 64),
		"-start_number", strconv.Itoa(opts.StartNumber),
		"-i", opts.Pattern,
		"-c:v", codec,
	}
	args = append(args, qualityArgs(codec, opts.Quality)...)
	args = append(args,
		"-pix_fmt", "yuv420p",
		// yuv420p needs even dimensions.
		"-vf", "pad=ceil(iw/2)*2:ceil(ih/2)*2",
		opts.Output,
	)

	cmd := utils.NewSafeCommand(ctx, f.FFmpegBin, args...)
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("ffmpeg assemble: %w: %s", err, strings.TrimSpace(cmd.Logs()))
	}
	f.log.Debug("assembled video", "output", opts.Output, "codec", codec, "fps", opts.FPS)
	return nil
}

func qualityArgs(codec string, quality int) []string {
	if quality < 0 {
		return nil
	}
	q := strconv.Itoa(quality)
	switch {
	case strings.HasSuffix(codec, "_nvenc"):
		return []string{"-cq", q}
	case codec == "libx264", codec == "libx265", codec == "libvpx-vp9":
		return []string{"-crf", q}
	}
	return nil
}

// RestoreAudio muxes the audio of original onto video, writing output.
func (f *FFmpeg) RestoreAudio(ctx context.Context, original, video, output string) error {
	args := []string{
		"-hide_banner", "-loglevel", "error", "-y",
		"-i", video,
		"-i", original,
		"-map", "0:v:0", "-map", "1:a:0",
		"-c:v", "copy", "-c:a", "copy",
		"-shortest",
		output,
	}
	cmd := utils.NewSafeCommand(ctx, f.FFmpegBin, args...)
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("ffmpeg restore audio: %w: %s", err, strings.TrimSpace(cmd.Logs()))
	}
	return nil
}

// TempVideoPath is where the silent assembled video is written before finalizing.
func TempVideoPath(workspace, output string) string {
	return filepath.Join(workspace, "assembled"+filepath.Ext(output))
}

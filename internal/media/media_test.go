package media

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"image/color"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/andresmejia3/facereel/internal/frames"
	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitJpeg(t *testing.T) {
	// [Garbage] [JPEG] [Garbage]
	jpegData := []byte{0xFF, 0xD8, 0x01, 0x02, 0x03, 0xFF, 0xD9}
	stream := append([]byte{0x00, 0x00}, jpegData...)
	stream = append(stream, 0x00, 0x00)

	scanner := bufio.NewScanner(bytes.NewReader(stream))
	scanner.Split(SplitJpeg)

	require.True(t, scanner.Scan(), "expected to find a token")
	assert.Equal(t, jpegData, scanner.Bytes())
	assert.False(t, scanner.Scan(), "trailing garbage is not a JPEG")
}

func encodePNG(t *testing.T, c color.NRGBA) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, imaging.Encode(&buf, imaging.New(3, 2, c), imaging.PNG))
	return buf.Bytes()
}

func TestSplitPNG(t *testing.T) {
	a := encodePNG(t, color.NRGBA{R: 255, A: 255})
	b := encodePNG(t, color.NRGBA{B: 255, A: 255})
	var stream []byte
	stream = append(stream, a...)
	stream = append(stream, b...)

	scanner := bufio.NewScanner(bytes.NewReader(stream))
	scanner.Split(SplitPNG)

	var got [][]byte
	for scanner.Scan() {
		got = append(got, append([]byte(nil), scanner.Bytes()...))
	}
	require.NoError(t, scanner.Err())
	require.Len(t, got, 2)
	assert.Equal(t, a, got[0])
	assert.Equal(t, b, got[1])
}

func TestSplitPNGNeedsMoreData(t *testing.T) {
	a := encodePNG(t, color.NRGBA{G: 255, A: 255})
	advance, token, err := SplitPNG(a[:len(a)-4], false)
	assert.NoError(t, err)
	assert.Zero(t, advance)
	assert.Nil(t, token)
}

func TestParseFrameRate(t *testing.T) {
	cases := []struct {
		in   string
		want float64
	}{
		{"25", 25},
		{"30/1", 30},
		{"30000/1001", 30000.0 / 1001.0},
		{"0/0", 0},
		{"", 0},
		{"abc", 0},
	}
	for _, tc := range cases {
		t.Run(tc.in, func(t *testing.T) {
			assert.InDelta(t, tc.want, ParseFrameRate(tc.in), 1e-9)
		})
	}
}

func TestMediaKinds(t *testing.T) {
	assert.True(t, IsImage("a/b/face.JPG"))
	assert.True(t, IsImage("x.png"))
	assert.False(t, IsImage("clip.mp4"))
	assert.True(t, IsVideo("clip.MKV"))
	assert.False(t, IsVideo("notes.txt"))
}

func TestQualityArgs(t *testing.T) {
	assert.Equal(t, []string{"-crf", "18"}, qualityArgs("libx264", 18))
	assert.Equal(t, []string{"-cq", "20"}, qualityArgs("h264_nvenc", 20))
	assert.Nil(t, qualityArgs("mpeg4", 5))
	assert.Equal(t, 2, jpegQScale(100))
	assert.Equal(t, 31, jpegQScale(1))
}

// fakeCodec only implements RestoreAudio; Finalize never calls the rest.
type fakeCodec struct {
	Codec
	restoreErr error
	restored   int
}

func (f *fakeCodec) RestoreAudio(_ context.Context, _, video, output string) error {
	f.restored++
	if f.restoreErr != nil {
		return f.restoreErr
	}
	return CopyFile(video, output)
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestFinalize(t *testing.T) {
	t.Run("no audio requested moves the video", func(t *testing.T) {
		dir := t.TempDir()
		video, out := filepath.Join(dir, "assembled.mp4"), filepath.Join(dir, "out", "final.mp4")
		writeFile(t, video, "video")
		c := &fakeCodec{}

		warnings, err := Finalize(context.Background(), c, FinalizeOptions{Video: video, Output: out}, nil)
		require.NoError(t, err)
		assert.Empty(t, warnings)
		assert.Zero(t, c.restored)
		assert.NoError(t, ValidateArtifact(out))
		_, err = os.Stat(video)
		assert.True(t, os.IsNotExist(err))
	})

	t.Run("audio failure is soft", func(t *testing.T) {
		dir := t.TempDir()
		video, out := filepath.Join(dir, "assembled.mp4"), filepath.Join(dir, "final.mp4")
		writeFile(t, video, "video")
		c := &fakeCodec{restoreErr: errors.New("Stream map '1:a:0' matches no streams")}

		warnings, err := Finalize(context.Background(), c, FinalizeOptions{Video: video, Output: out, RestoreAudio: true}, nil)
		require.NoError(t, err)
		require.Len(t, warnings, 1)
		assert.Contains(t, warnings[0], "audio not restored")
		data, err := os.ReadFile(out)
		require.NoError(t, err)
		assert.Equal(t, "video", string(data))
	})

	t.Run("retimed video warns about drift", func(t *testing.T) {
		dir := t.TempDir()
		video, out := filepath.Join(dir, "assembled.mp4"), filepath.Join(dir, "final.mp4")
		writeFile(t, video, "video")

		warnings, err := Finalize(context.Background(), &fakeCodec{}, FinalizeOptions{
			Video: video, Output: out, RestoreAudio: true, Retimed: true,
		}, nil)
		require.NoError(t, err)
		assert.Equal(t, []string{DriftWarning}, warnings)
		assert.NoError(t, ValidateArtifact(out))
	})
}

func TestValidateArtifact(t *testing.T) {
	dir := t.TempDir()
	empty := filepath.Join(dir, "empty.mp4")
	writeFile(t, empty, "")
	assert.ErrorIs(t, ValidateArtifact(empty), ErrEmptyArtifact)
	assert.ErrorIs(t, ValidateArtifact(filepath.Join(dir, "missing.mp4")), ErrEmptyArtifact)
	assert.ErrorIs(t, ValidateArtifact(dir), ErrEmptyArtifact)
}

func requireFFmpeg(t *testing.T) {
	t.Helper()
	for _, bin := range []string{"ffmpeg", "ffprobe"} {
		if _, err := exec.LookPath(bin); err != nil {
			t.Skipf("%s not on PATH", bin)
		}
	}
}

// makeClip renders n test-pattern frames at rate fps.
func makeClip(t *testing.T, dir string, n int, fps string) string {
	t.Helper()
	path := filepath.Join(dir, "clip.mp4")
	cmd := exec.Command("ffmpeg", "-hide_banner", "-loglevel", "error", "-y",
		"-f", "lavfi", "-i", "testsrc=size=64x48:rate="+fps,
		"-frames:v", strconv.Itoa(n), "-pix_fmt", "yuv420p", "-c:v", "libx264", path)
	out, err := cmd.CombinedOutput()
	if err != nil {
		t.Skipf("cannot render test clip: %v: %s", err, out)
	}
	return path
}

func TestRoundTripPreservesFramesAndRate(t *testing.T) {
	requireFFmpeg(t)
	ctx := context.Background()
	dir := t.TempDir()
	clip := makeClip(t, dir, 12, "10")
	ff := NewFFmpeg("", "", nil)

	info, err := ff.Probe(ctx, clip)
	require.NoError(t, err)
	assert.Equal(t, 12, info.Frames)
	assert.InDelta(t, 10, info.FPS, 1e-6)
	assert.Equal(t, 64, info.Width)

	for _, format := range []string{"png", "jpg"} {
		t.Run(format, func(t *testing.T) {
			store, err := frames.OpenDisk(filepath.Join(dir, "work-"+format), format, 90, nil)
			require.NoError(t, err)
			defer store.Cleanup()

			n, err := ff.ExtractFrames(ctx, clip, store, ExtractOptions{Format: format, Quality: 90})
			require.NoError(t, err)
			assert.Equal(t, 12, n)
			refs, err := store.Refs()
			require.NoError(t, err)
			require.NoError(t, frames.ValidateContiguous(refs))
			assert.Equal(t, frames.FirstIndex, refs[0].Index)

			out := filepath.Join(dir, "out-"+format+".mp4")
			require.NoError(t, ff.AssembleVideo(ctx, AssembleOptions{
				Pattern: store.Pattern(), StartNumber: frames.FirstIndex, FPS: info.FPS,
				Codec: "libx264", Quality: 18, Output: out,
			}))

			again, err := ff.Probe(ctx, out)
			require.NoError(t, err)
			assert.Equal(t, 12, again.Frames)
			assert.InDelta(t, info.FPS, again.FPS, 1e-6)
		})
	}
}

func TestRestoreAudioWithoutAudioTrackFails(t *testing.T) {
	requireFFmpeg(t)
	dir := t.TempDir()
	clip := makeClip(t, dir, 5, "5")
	ff := NewFFmpeg("", "", nil)
	err := ff.RestoreAudio(context.Background(), clip, clip, filepath.Join(dir, "muxed.mp4"))
	assert.Error(t, err, "the test clip has no audio stream")
}

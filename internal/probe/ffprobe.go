package probe

import (
	"bytes"
	"context"
	"encoding/json"
	"os/exec"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/standardbeagle/mjrindex/internal/mjrerr"
)

// MediaInfo is the decoded ffprobe container/stream report.
type MediaInfo struct {
	Format  Format   `json:"format"`
	Streams []Stream `json:"streams"`
}

// Format carries container-level facts.
type Format struct {
	Filename string            `json:"filename"`
	Duration string            `json:"duration"`
	BitRate  string            `json:"bit_rate"`
	Tags     map[string]string `json:"tags"`
}

// Stream is one container stream.
type Stream struct {
	Index      int               `json:"index"`
	CodecType  string            `json:"codec_type"`
	CodecName  string            `json:"codec_name"`
	Width      int               `json:"width"`
	Height     int               `json:"height"`
	Duration   string            `json:"duration"`
	BitRate    string            `json:"bit_rate"`
	SampleRate string            `json:"sample_rate"`
	Channels   int               `json:"channels"`
	Tags       map[string]string `json:"tags"`
}

// VideoStream returns the first video stream, nil when absent.
func (m *MediaInfo) VideoStream() *Stream {
	return m.firstOfType("video")
}

// AudioStream returns the first audio stream, nil when absent.
func (m *MediaInfo) AudioStream() *Stream {
	return m.firstOfType("audio")
}

func (m *MediaInfo) firstOfType(t string) *Stream {
	for i := range m.Streams {
		if m.Streams[i].CodecType == t {
			return &m.Streams[i]
		}
	}
	return nil
}

// DurationSeconds resolves the best duration: container first, then the
// longest stream.
func (m *MediaInfo) DurationSeconds() (float64, bool) {
	if d, err := strconv.ParseFloat(m.Format.Duration, 64); err == nil && d > 0 {
		return d, true
	}
	best := 0.0
	for _, s := range m.Streams {
		if d, err := strconv.ParseFloat(s.Duration, 64); err == nil && d > best {
			best = d
		}
	}
	return best, best > 0
}

// FFprobe shells out to ffprobe for container and stream facts.
type FFprobe struct {
	path    string
	timeout time.Duration
	log     *zap.Logger

	availOnce sync.Once
	avail     bool
}

// NewFFprobe builds the adapter. path defaults to "ffprobe".
func NewFFprobe(path string, timeout time.Duration, log *zap.Logger) *FFprobe {
	if path == "" {
		path = "ffprobe"
	}
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &FFprobe{path: path, timeout: timeout, log: log}
}

// IsAvailable reports whether the tool resolves on PATH.
func (f *FFprobe) IsAvailable() bool {
	f.availOnce.Do(func() {
		_, err := exec.LookPath(f.path)
		f.avail = err == nil
	})
	return f.avail
}

// Read probes one file.
func (f *FFprobe) Read(ctx context.Context, path string) (*MediaInfo, error) {
	if !f.IsAvailable() {
		return nil, mjrerr.New(mjrerr.CodeToolMissing, "ffprobe not found on PATH")
	}

	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, f.path,
		"-v", "quiet",
		"-print_format", "json",
		"-show_format", "-show_streams",
		path)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if ctx.Err() == context.DeadlineExceeded {
		return nil, mjrerr.New(mjrerr.CodeTimeout, "ffprobe timed out after %v", f.timeout)
	}
	if err != nil {
		f.log.Debug("ffprobe failed", zap.Error(err), zap.String("stderr", stderr.String()))
		return nil, mjrerr.Wrap(mjrerr.CodeFFprobeError, err, "ffprobe: %s", firstLine(stderr.String()))
	}

	var info MediaInfo
	if err := json.Unmarshal(stdout.Bytes(), &info); err != nil {
		return nil, mjrerr.Wrap(mjrerr.CodeParseError, err, "ffprobe output not JSON")
	}
	return &info, nil
}

// ReadBatch probes several files with the bounded executor; ffprobe has
// no native multi-file mode.
func (f *FFprobe) ReadBatch(ctx context.Context, paths []string) map[string]Result {
	raw := runBatch(ctx, paths, f.Read)
	out := make(map[string]Result, len(raw))
	for p, r := range raw {
		out[p] = Result{Info: r.Value, Err: r.Err}
	}
	return out
}

// Result pairs per-file media info with its error.
type Result struct {
	Info *MediaInfo
	Err  error
}

// GetDuration probes just the duration of a file.
func (f *FFprobe) GetDuration(ctx context.Context, path string) (float64, error) {
	info, err := f.Read(ctx, path)
	if err != nil {
		return 0, err
	}
	d, ok := info.DurationSeconds()
	if !ok {
		return 0, mjrerr.New(mjrerr.CodeParseError, "no duration in probe output")
	}
	return d, nil
}

// GetResolution probes just the video resolution of a file.
func (f *FFprobe) GetResolution(ctx context.Context, path string) (width, height int, err error) {
	info, err := f.Read(ctx, path)
	if err != nil {
		return 0, 0, err
	}
	vs := info.VideoStream()
	if vs == nil || vs.Width == 0 {
		return 0, 0, mjrerr.New(mjrerr.CodeParseError, "no video stream in probe output")
	}
	return vs.Width, vs.Height, nil
}

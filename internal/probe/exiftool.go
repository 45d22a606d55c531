// Package probe adapts the two external metadata tools, exiftool and
// ffprobe, behind small typed interfaces. Both are treated as black
// boxes: a child process per call, a hard timeout, and coded errors
// (TOOL_MISSING, TIMEOUT, PARSE_ERROR) for every failure mode.
package probe

import (
	"bytes"
	"context"
	"encoding/json"
	"os/exec"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/standardbeagle/mjrindex/internal/mjrerr"
)

// batchParallel bounds concurrent probe processes when a tool has no
// native batch mode.
const batchParallel = 4

// TagMap is the decoded tag payload of a single file.
type TagMap map[string]any

// ExifTool shells out to exiftool for tag reads and small writes.
type ExifTool struct {
	path    string
	timeout time.Duration
	log     *zap.Logger

	availOnce sync.Once
	avail     bool
}

// NewExifTool builds the adapter. path defaults to "exiftool".
func NewExifTool(path string, timeout time.Duration, log *zap.Logger) *ExifTool {
	if path == "" {
		path = "exiftool"
	}
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &ExifTool{path: path, timeout: timeout, log: log}
}

// IsAvailable reports whether the tool resolves on PATH. The result is
// cached for the process lifetime.
func (e *ExifTool) IsAvailable() bool {
	e.availOnce.Do(func() {
		_, err := exec.LookPath(e.path)
		e.avail = err == nil
	})
	return e.avail
}

// Read returns the tag map for one file. tags, when non-empty, narrows
// the read to those tag names (exiftool -TAG flags).
func (e *ExifTool) Read(ctx context.Context, path string, tags ...string) (TagMap, error) {
	maps, err := e.readFiles(ctx, []string{path}, tags)
	if err != nil {
		return nil, err
	}
	if len(maps) == 0 {
		return nil, mjrerr.New(mjrerr.CodeParseError, "exiftool returned no entries for %s", path)
	}
	return maps[0], nil
}

// ReadBatch reads many files in one exiftool invocation; exiftool has
// a native multi-file mode. Per-file results key by SourceFile.
func (e *ExifTool) ReadBatch(ctx context.Context, paths []string) (map[string]TagMap, error) {
	if len(paths) == 0 {
		return map[string]TagMap{}, nil
	}
	maps, err := e.readFiles(ctx, paths, nil)
	if err != nil {
		return nil, err
	}
	out := make(map[string]TagMap, len(maps))
	for _, m := range maps {
		if src, ok := m["SourceFile"].(string); ok {
			out[src] = m
		}
	}
	return out, nil
}

func (e *ExifTool) readFiles(ctx context.Context, paths []string, tags []string) ([]TagMap, error) {
	if !e.IsAvailable() {
		return nil, mjrerr.New(mjrerr.CodeToolMissing, "exiftool not found on PATH")
	}

	args := []string{"-json", "-n", "-a", "-G1", "-api", "largefilesupport=1"}
	for _, t := range tags {
		args = append(args, "-"+t)
	}
	args = append(args, paths...)

	out, err := e.run(ctx, args)
	if err != nil {
		return nil, err
	}

	var maps []TagMap
	if err := json.Unmarshal(out, &maps); err != nil {
		return nil, mjrerr.Wrap(mjrerr.CodeParseError, err, "exiftool output not JSON")
	}
	return maps, nil
}

// Write sets tag fields on a file. preserveWorkflow keeps embedded
// workflow payload tags untouched by restricting the write to the given
// fields only (exiftool never clears unrelated tags on assignment, so
// the flag only disables the -overwrite_original_in_place shortcut).
func (e *ExifTool) Write(ctx context.Context, path string, fields map[string]string, preserveWorkflow bool) error {
	if !e.IsAvailable() {
		return mjrerr.New(mjrerr.CodeToolMissing, "exiftool not found on PATH")
	}
	if len(fields) == 0 {
		return nil
	}
	args := []string{"-overwrite_original", "-P"}
	if preserveWorkflow {
		args = append(args, "-api", "NoDups=1")
	}
	for k, v := range fields {
		args = append(args, "-"+k+"="+v)
	}
	args = append(args, path)

	_, err := e.run(ctx, args)
	return err
}

func (e *ExifTool) run(ctx context.Context, args []string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, e.path, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if ctx.Err() == context.DeadlineExceeded {
		return nil, mjrerr.New(mjrerr.CodeTimeout, "exiftool timed out after %v", e.timeout)
	}
	if err != nil {
		// exiftool exits 1 when some files had no readable tags but
		// still prints JSON for the rest; accept output if present.
		if stdout.Len() > 0 {
			return stdout.Bytes(), nil
		}
		e.log.Debug("exiftool failed", zap.Error(err), zap.String("stderr", stderr.String()))
		return nil, mjrerr.Wrap(mjrerr.CodeExifToolError, err, "exiftool: %s", firstLine(stderr.String()))
	}
	return stdout.Bytes(), nil
}

func firstLine(s string) string {
	for i := range s {
		if s[i] == '\n' {
			return s[:i]
		}
	}
	return s
}

// runBatch fans out fn over paths with the bounded executor; used by
// adapters lacking a native batch mode.
func runBatch[T any](ctx context.Context, paths []string, fn func(context.Context, string) (T, error)) map[string]result[T] {
	out := make(map[string]result[T], len(paths))
	var mu sync.Mutex

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(batchParallel)
	for _, p := range paths {
		g.Go(func() error {
			v, err := fn(ctx, p)
			mu.Lock()
			out[p] = result[T]{Value: v, Err: err}
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return out
}

// result pairs a per-file value with its error for batch maps.
type result[T any] struct {
	Value T
	Err   error
}

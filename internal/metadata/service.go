package metadata

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/standardbeagle/mjrindex/internal/geninfo"
	"github.com/standardbeagle/mjrindex/internal/mjrerr"
	"github.com/standardbeagle/mjrindex/internal/probe"
	"github.com/standardbeagle/mjrindex/internal/types"
)

// Service runs metadata extraction. Probe calls are gated by a
// semaphore so a scan cannot fork an unbounded number of exiftool and
// ffprobe processes.
type Service struct {
	router *probe.Router
	parser *geninfo.Parser
	sem    *semaphore.Weighted
	log    *zap.Logger
}

// NewService wires the probe router and the graph parser. workers is
// clamped to at least one.
func NewService(router *probe.Router, workers int, log *zap.Logger) *Service {
	if workers < 1 {
		workers = 1
	}
	return &Service{
		router: router,
		parser: geninfo.NewParser(log),
		sem:    semaphore.NewWeighted(int64(workers)),
		log:    log,
	}
}

// Router exposes the probe router for callers that write tags back.
func (s *Service) Router() *probe.Router { return s.router }

// Extract builds the full metadata record for one file. Probe failures
// degrade the record instead of failing the call; only invalid input
// and unsupported kinds return errors.
func (s *Service) Extract(ctx context.Context, path string) (*Record, error) {
	rec, err := s.newRecord(path)
	if err != nil {
		return nil, err
	}
	if err := s.sem.Acquire(ctx, 1); err != nil {
		return nil, mjrerr.Wrap(mjrerr.CodeTimeout, err, "extraction queue for %s", path)
	}
	defer s.sem.Release(1)

	s.probeInto(ctx, path, rec)
	s.deriveGenInfo(rec)
	return rec, nil
}

// ExtractBatch extracts records for many files, batching the exiftool
// reads into single processes. Per-file failures yield degraded
// records, never a batch failure.
func (s *Service) ExtractBatch(ctx context.Context, paths []string) (map[string]*Record, error) {
	out := make(map[string]*Record, len(paths))
	var exifPaths, ffPaths []string
	for _, path := range paths {
		rec, err := s.newRecord(path)
		if err != nil {
			s.log.Debug("metadata: skipping file", zap.String("path", path), zap.Error(err))
			continue
		}
		out[path] = rec
		plan := s.router.PlanFor(rec.FileInfo.Kind)
		if plan.UseExifTool {
			exifPaths = append(exifPaths, path)
		}
		if plan.UseFFprobe {
			ffPaths = append(ffPaths, path)
		}
	}
	if len(out) == 0 {
		return out, nil
	}

	if err := s.sem.Acquire(ctx, 1); err != nil {
		return nil, mjrerr.Wrap(mjrerr.CodeTimeout, err, "extraction queue for batch of %d", len(paths))
	}
	defer s.sem.Release(1)

	var exifTags map[string]probe.TagMap
	if len(exifPaths) > 0 && s.router.ExifTool() != nil {
		var err error
		exifTags, err = s.router.ExifTool().ReadBatch(ctx, exifPaths)
		if err != nil {
			s.log.Warn("metadata: exiftool batch failed", zap.Error(err))
		}
	}
	var ffResults map[string]probe.Result
	if len(ffPaths) > 0 && s.router.FFprobe() != nil {
		ffResults = s.router.FFprobe().ReadBatch(ctx, ffPaths)
	}

	for path, rec := range out {
		tags := exifTags[path]
		var mi *probe.MediaInfo
		if res, ok := ffResults[path]; ok && res.Err == nil {
			mi = res.Info
		}
		s.fill(rec, tags, mi)
		s.deriveGenInfo(rec)
	}
	return out, nil
}

// WorkflowOnly reads just the embedded workflow and prompt graphs,
// skipping dimension and rating extraction. Used by self-heal paths
// that re-parse generation data without a full re-probe.
func (s *Service) WorkflowOnly(ctx context.Context, path string) (workflow, prompt map[string]any, err error) {
	rec, err := s.newRecord(path)
	if err != nil {
		return nil, nil, err
	}
	if err := s.sem.Acquire(ctx, 1); err != nil {
		return nil, nil, mjrerr.Wrap(mjrerr.CodeTimeout, err, "extraction queue for %s", path)
	}
	defer s.sem.Release(1)

	s.probeInto(ctx, path, rec)
	return rec.Workflow, rec.Prompt, nil
}

// RatingTagsOnly reads only the user-facing rating and tag fields via
// a targeted exiftool call.
func (s *Service) RatingTagsOnly(ctx context.Context, path string) (rating *int, tags []string, err error) {
	et := s.router.ExifTool()
	if et == nil || !et.IsAvailable() {
		return nil, nil, mjrerr.New(mjrerr.CodeToolMissing, "exiftool not available")
	}
	if err := s.sem.Acquire(ctx, 1); err != nil {
		return nil, nil, mjrerr.Wrap(mjrerr.CodeTimeout, err, "extraction queue for %s", path)
	}
	defer s.sem.Release(1)

	tm, err := et.Read(ctx, path,
		"XMP:Rating", "XMP:RatingPercent", "Rating", "RatingPercent",
		"XMP:Subject", "IPTC:Keywords", "XMP:TagsList", "Category")
	if err != nil {
		return nil, nil, mjrerr.Wrap(mjrerr.CodeExifToolError, err, "rating read for %s", path)
	}
	if r, ok := ExtractRating(tm); ok {
		rating = &r
	}
	return rating, ExtractTags(tm), nil
}

// newRecord stats the file and classifies it. Unknown kinds are
// rejected with UNSUPPORTED so callers can journal the skip.
func (s *Service) newRecord(path string) (*Record, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return nil, mjrerr.Wrap(mjrerr.CodeStatFailed, err, "stat %s", path)
	}
	if fi.IsDir() {
		return nil, mjrerr.New(mjrerr.CodeInvalidInput, "%s is a directory", path)
	}
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	kind := types.KindOfExt(ext)
	if kind == types.KindUnknown {
		return nil, mjrerr.New(mjrerr.CodeUnsupported, "unsupported extension %q", ext)
	}
	return &Record{
		FileInfo: FileInfo{
			Size:  fi.Size(),
			Mtime: float64(fi.ModTime().UnixNano()) / 1e9,
			Kind:  kind,
			Ext:   ext,
		},
		Quality: types.QualityNone,
	}, nil
}

// probeInto runs the planned tools for one file and fills the record.
func (s *Service) probeInto(ctx context.Context, path string, rec *Record) {
	plan := s.router.PlanFor(rec.FileInfo.Kind)

	var tags probe.TagMap
	if plan.UseExifTool {
		var err error
		tags, err = s.router.ExifTool().Read(ctx, path)
		if err != nil {
			s.log.Debug("metadata: exiftool failed", zap.String("path", path), zap.Error(err))
		}
	}
	var mi *probe.MediaInfo
	if plan.UseFFprobe {
		var err error
		mi, err = s.router.FFprobe().Read(ctx, path)
		if err != nil {
			s.log.Debug("metadata: ffprobe failed", zap.String("path", path), zap.Error(err))
		}
	}
	s.fill(rec, tags, mi)
}

// fill routes probe output through the kind-specific extractor.
func (s *Service) fill(rec *Record, tags probe.TagMap, mi *probe.MediaInfo) {
	if tags == nil {
		tags = probe.TagMap{}
	}
	switch rec.FileInfo.Kind {
	case types.KindVideo:
		extractVideo(rec, mi, tags)
	case types.KindAudio:
		extractAudio(rec, mi, tags)
	default:
		extractImage(rec, tags)
		if mi != nil {
			// ffprobe fallback path for images when exiftool is missing.
			rec.FFprobe = mi
			if vs := mi.VideoStream(); vs != nil && rec.Width == nil && vs.Width > 0 {
				w, h := vs.Width, vs.Height
				rec.Width, rec.Height = &w, &h
			}
		}
	}
}

// deriveGenInfo parses the embedded graphs (or the parameters text)
// into structured generation info. Parse never raises; a nil result
// with no status simply leaves the record without geninfo.
func (s *Service) deriveGenInfo(rec *Record) {
	gi, status, _ := s.parser.Parse(rec.Prompt, rec.Workflow)
	if gi == nil && rec.Parameters != "" {
		if p := ParseAuto1111(rec.Parameters); p != nil {
			gi = GenInfoFromParams(p)
			if rec.Width == nil && p.Width != nil {
				rec.Width, rec.Height = p.Width, p.Height
			}
		}
	}
	rec.GenInfo = gi
	rec.GenInfoStatus = status
	if gi != nil && gi.Score() > 0 {
		rec.upgradeQuality(types.QualityFull)
	}
}

package probe

import (
	"github.com/standardbeagle/mjrindex/internal/types"
)

// Backend selects which probe tool(s) run for a file.
type Backend string

const (
	BackendAuto     Backend = "auto"
	BackendExifTool Backend = "exiftool"
	BackendFFprobe  Backend = "ffprobe"
	BackendBoth     Backend = "both"
)

// ParseBackend maps a config string onto a Backend, defaulting to auto.
func ParseBackend(s string) Backend {
	switch Backend(s) {
	case BackendExifTool, BackendFFprobe, BackendBoth:
		return Backend(s)
	default:
		return BackendAuto
	}
}

// Plan names the tools to invoke for one file.
type Plan struct {
	UseExifTool bool
	UseFFprobe  bool
}

// Router decides the probe plan per file kind and configured backend.
// Unavailable tools are silently dropped from the plan; extraction then
// degrades instead of failing.
type Router struct {
	backend  Backend
	exiftool *ExifTool
	ffprobe  *FFprobe
}

// NewRouter builds a router over the two adapters.
func NewRouter(backend Backend, exiftool *ExifTool, ffprobe *FFprobe) *Router {
	return &Router{backend: backend, exiftool: exiftool, ffprobe: ffprobe}
}

// PlanFor resolves the plan for a file kind.
func (r *Router) PlanFor(kind types.Kind) Plan {
	var p Plan
	switch r.backend {
	case BackendExifTool:
		p.UseExifTool = true
	case BackendFFprobe:
		p.UseFFprobe = true
	case BackendBoth:
		p.UseExifTool = true
		p.UseFFprobe = true
	default: // auto
		switch kind {
		case types.KindVideo, types.KindAudio:
			p.UseExifTool = true
			p.UseFFprobe = true
		case types.KindImage:
			p.UseExifTool = true
			if !r.exifAvailable() {
				p.UseFFprobe = true
			}
		default:
			p.UseExifTool = true
		}
	}

	if p.UseExifTool && !r.exifAvailable() {
		p.UseExifTool = false
	}
	if p.UseFFprobe && !r.ffprobeAvailable() {
		p.UseFFprobe = false
	}
	return p
}

func (r *Router) exifAvailable() bool {
	return r.exiftool != nil && r.exiftool.IsAvailable()
}

func (r *Router) ffprobeAvailable() bool {
	return r.ffprobe != nil && r.ffprobe.IsAvailable()
}

// ExifTool exposes the underlying tag reader.
func (r *Router) ExifTool() *ExifTool { return r.exiftool }

// FFprobe exposes the underlying media probe.
func (r *Router) FFprobe() *FFprobe { return r.ffprobe }

// WithBackend derives a router with an overridden backend, used by
// per-request probe overrides.
func (r *Router) WithBackend(backend Backend) *Router {
	return &Router{backend: backend, exiftool: r.exiftool, ffprobe: r.ffprobe}
}

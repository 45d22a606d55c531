package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/standardbeagle/mjrindex/internal/mjrerr"
)

// Validator validates configuration and clamps out-of-range values.
type Validator struct{}

// NewValidator creates a new configuration validator.
func NewValidator() *Validator {
	return &Validator{}
}

// ValidateAndSetDefaults validates cfg and applies bound clamps.
// Returns a coded error when a value cannot be repaired.
func (v *Validator) ValidateAndSetDefaults(cfg *Config) error {
	if err := v.validateRoots(&cfg.Roots); err != nil {
		return mjrerr.Wrap(mjrerr.CodeInvalidInput, err, "roots config")
	}
	if err := v.validateStore(&cfg.Store); err != nil {
		return mjrerr.Wrap(mjrerr.CodeInvalidInput, err, "store config")
	}
	v.clampScan(&cfg.Scan)
	if err := v.validateProbe(&cfg.Probe); err != nil {
		return mjrerr.Wrap(mjrerr.CodeInvalidInput, err, "probe config")
	}
	v.clampWatch(&cfg.Watch)
	return nil
}

func (v *Validator) validateRoots(r *Roots) error {
	if r.Output == "" {
		return errors.New("output root cannot be empty")
	}
	info, err := os.Stat(r.Output)
	if err != nil {
		return fmt.Errorf("output root %s: %w", r.Output, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("output root %s is not a directory", r.Output)
	}
	if r.Input != "" {
		info, err := os.Stat(r.Input)
		if err != nil || !info.IsDir() {
			return fmt.Errorf("input root %s is not a directory", r.Input)
		}
	}
	return nil
}

func (v *Validator) validateStore(s *Store) error {
	if s.PoolSize <= 0 {
		return fmt.Errorf("PoolSize must be positive, got %d", s.PoolSize)
	}
	if s.PoolSize > 64 {
		return fmt.Errorf("PoolSize should not exceed 64, got %d", s.PoolSize)
	}
	if s.StatementTimeout <= 0 {
		return fmt.Errorf("StatementTimeout must be positive, got %v", s.StatementTimeout)
	}
	return nil
}

func (v *Validator) clampScan(s *Scan) {
	if s.BatchSmall <= 0 {
		s.BatchSmall = 32
	}
	if s.BatchMed < s.BatchSmall {
		s.BatchMed = s.BatchSmall
	}
	if s.BatchLarge < s.BatchMed {
		s.BatchLarge = s.BatchMed
	}
	if s.BatchXL < s.BatchLarge {
		s.BatchXL = s.BatchLarge
	}
	if s.MaxTransactionBatch < s.BatchXL {
		s.MaxTransactionBatch = s.BatchXL
	}
	if s.StatRetries <= 0 {
		s.StatRetries = 3
	}
	if s.EnrichChunk <= 0 {
		s.EnrichChunk = 64
	}
}

func (v *Validator) validateProbe(p *Probe) error {
	switch p.Backend {
	case "auto", "exiftool", "ffprobe", "both":
	default:
		return fmt.Errorf("unknown probe backend %q", p.Backend)
	}
	if p.BatchParallel <= 0 {
		p.BatchParallel = 4
	}
	if p.BatchParallel > 4 {
		p.BatchParallel = 4
	}
	if p.ExtractWorkers <= 0 {
		p.ExtractWorkers = 1
	}
	return nil
}

func (v *Validator) clampWatch(w *Watch) {
	if w.DebounceMs <= 0 {
		w.DebounceMs = 1000
	}
	if w.SettleMs < 0 {
		w.SettleMs = 500
	}
}

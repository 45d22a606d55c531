package config

import (
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"time"
)

// IndexDirName is the hidden directory under the output root that holds
// the sqlite database, custom roots file and collection documents.
const IndexDirName = "_mjr_index"

// Config is the full engine configuration. Defaults come from
// DefaultConfig; a .mjrindex.kdl file and environment variables layer
// on top, then CLI flags override individual fields.
type Config struct {
	Roots    Roots
	Store    Store
	Scan     Scan
	Probe    Probe
	Watch    Watch
	Search   Search
	Include  []string
	Exclude  []string
	Verbose  bool
	DebugSQL bool
}

type Roots struct {
	Output string // required; the index lives under <Output>/_mjr_index
	Input  string // optional second root
}

type Store struct {
	PoolSize         int           // connections in the pool
	StatementTimeout time.Duration // per-statement deadline
	BusyTimeout      time.Duration // sqlite busy_timeout pragma
	CacheSizeKB      int           // negative cache_size target per connection
}

type Scan struct {
	BatchSmall          int // batch size while < 100 files seen
	BatchMed            int // batch size while < 1000 files seen
	BatchLarge          int // batch size while < 10000 files seen
	BatchXL             int // batch size beyond that
	MaxTransactionBatch int // hard cap of rows per write transaction
	ChannelCapacity     int // walker -> consumer channel; 0 = derived
	StatRetries         int
	FastMode            bool // skip metadata during scan, enrich later
	EnrichChunk         int  // enricher rows per transaction
}

type Probe struct {
	Backend        string // auto | exiftool | ffprobe | both
	ExifToolPath   string
	FFprobePath    string
	CallTimeout    time.Duration
	BatchParallel  int // concurrent probe processes in batch mode
	ExtractWorkers int // metadata extraction semaphore size
}

type Watch struct {
	Enabled      bool
	DebounceMs   int // per-path coalescing window
	SettleMs     int // delay before indexing a created file
	TempSuffixes []string
}

type Search struct {
	MaxQueryLen int
	MaxTokens   int
	MaxTokenLen int
	MaxBatchIDs int
	MergeChunk  int // per-side prefetch for the mtime merge
}

// DefaultConfig returns the baseline configuration.
func DefaultConfig() *Config {
	workers := runtime.NumCPU()
	if workers > 8 {
		workers = 8
	}
	return &Config{
		Store: Store{
			PoolSize:         8,
			StatementTimeout: 15 * time.Second,
			BusyTimeout:      5 * time.Second,
			CacheSizeKB:      64 * 1024,
		},
		Scan: Scan{
			BatchSmall:          32,
			BatchMed:            128,
			BatchLarge:          256,
			BatchXL:             512,
			MaxTransactionBatch: 512,
			StatRetries:         3,
			EnrichChunk:         64,
		},
		Probe: Probe{
			Backend:        "auto",
			ExifToolPath:   "exiftool",
			FFprobePath:    "ffprobe",
			CallTimeout:    20 * time.Second,
			BatchParallel:  4,
			ExtractWorkers: workers,
		},
		Watch: Watch{
			Enabled:      true,
			DebounceMs:   1000,
			SettleMs:     500,
			TempSuffixes: []string{".tmp", ".crdownload", ".part", ".lock", ".aria2"},
		},
		Search: Search{
			MaxQueryLen: 512,
			MaxTokens:   16,
			MaxTokenLen: 64,
			MaxBatchIDs: 500,
			MergeChunk:  200,
		},
		Exclude: []string{IndexDirName + "/**", "**/.*"},
	}
}

// IndexDir returns the directory holding the database and sidecar files.
func (c *Config) IndexDir() string {
	return filepath.Join(c.Roots.Output, IndexDirName)
}

// DatabasePath returns the sqlite file location.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.IndexDir(), "assets.sqlite")
}

// CustomRootsPath returns the custom roots JSON document location.
func (c *Config) CustomRootsPath() string {
	return filepath.Join(c.IndexDir(), "custom_roots.json")
}

// ChannelCapacity resolves the walker channel size: max(1000, 4×XL).
func (c *Config) ChannelCapacity() int {
	if c.Scan.ChannelCapacity > 0 {
		return c.Scan.ChannelCapacity
	}
	n := 4 * c.Scan.BatchXL
	if n < 1000 {
		n = 1000
	}
	return n
}

// Load reads configuration for the given output root: defaults, then a
// .mjrindex.kdl beside the root (or at an explicit path), then env vars.
func Load(configPath, outputRoot string) (*Config, error) {
	cfg := DefaultConfig()
	cfg.Roots.Output = outputRoot

	if configPath == "" && outputRoot != "" {
		configPath = filepath.Join(outputRoot, ".mjrindex.kdl")
	}
	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			if err := loadKDL(cfg, configPath); err != nil {
				return nil, err
			}
		}
	}

	applyEnv(cfg)

	if cfg.Roots.Output != "" {
		abs, err := filepath.Abs(cfg.Roots.Output)
		if err == nil {
			cfg.Roots.Output = filepath.Clean(abs)
		}
	}
	if cfg.Roots.Input != "" {
		abs, err := filepath.Abs(cfg.Roots.Input)
		if err == nil {
			cfg.Roots.Input = filepath.Clean(abs)
		}
	}
	return cfg, nil
}

// applyEnv layers MJR_* environment variables over the config.
func applyEnv(cfg *Config) {
	if v := os.Getenv("MJR_OUTPUT_ROOT"); v != "" {
		cfg.Roots.Output = v
	}
	if v := os.Getenv("MJR_INPUT_ROOT"); v != "" {
		cfg.Roots.Input = v
	}
	if v := os.Getenv("MJR_PROBE_BACKEND"); v != "" {
		cfg.Probe.Backend = v
	}
	if v := os.Getenv("MJR_POOL_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Store.PoolSize = n
		}
	}
	if v := os.Getenv("MJR_FAST_SCAN"); v == "1" || v == "true" {
		cfg.Scan.FastMode = true
	}
	if v := os.Getenv("MJR_WATCH_DEBOUNCE_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Watch.DebounceMs = n
		}
	}
}

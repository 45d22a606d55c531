package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	kdl "github.com/sblinch/kdl-go"
	"github.com/sblinch/kdl-go/document"
)

// loadKDL layers a .mjrindex.kdl file over cfg. Unknown nodes are
// ignored so older binaries tolerate newer config files.
func loadKDL(cfg *Config, path string) error {
	content, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}

	doc, err := kdl.Parse(strings.NewReader(string(content)))
	if err != nil {
		return fmt.Errorf("failed to parse KDL config %s: %w", path, err)
	}

	for _, n := range doc.Nodes {
		switch nodeName(n) {
		case "roots":
			for _, cn := range n.Children {
				switch nodeName(cn) {
				case "output":
					if s, ok := firstStringArg(cn); ok {
						cfg.Roots.Output = s
					}
				case "input":
					if s, ok := firstStringArg(cn); ok {
						cfg.Roots.Input = s
					}
				}
			}
		case "store":
			for _, cn := range n.Children {
				switch nodeName(cn) {
				case "pool_size":
					if v, ok := firstIntArg(cn); ok {
						cfg.Store.PoolSize = v
					}
				case "statement_timeout_ms":
					if v, ok := firstIntArg(cn); ok {
						cfg.Store.StatementTimeout = time.Duration(v) * time.Millisecond
					}
				case "busy_timeout_ms":
					if v, ok := firstIntArg(cn); ok {
						cfg.Store.BusyTimeout = time.Duration(v) * time.Millisecond
					}
				case "cache_size_kb":
					if v, ok := firstIntArg(cn); ok {
						cfg.Store.CacheSizeKB = v
					}
				}
			}
		case "scan":
			for _, cn := range n.Children {
				switch nodeName(cn) {
				case "batch_xl":
					if v, ok := firstIntArg(cn); ok {
						cfg.Scan.BatchXL = v
					}
				case "max_transaction_batch":
					if v, ok := firstIntArg(cn); ok {
						cfg.Scan.MaxTransactionBatch = v
					}
				case "fast":
					if b, ok := firstBoolArg(cn); ok {
						cfg.Scan.FastMode = b
					}
				case "stat_retries":
					if v, ok := firstIntArg(cn); ok {
						cfg.Scan.StatRetries = v
					}
				}
			}
		case "probe":
			for _, cn := range n.Children {
				switch nodeName(cn) {
				case "backend":
					if s, ok := firstStringArg(cn); ok {
						cfg.Probe.Backend = s
					}
				case "exiftool":
					if s, ok := firstStringArg(cn); ok {
						cfg.Probe.ExifToolPath = s
					}
				case "ffprobe":
					if s, ok := firstStringArg(cn); ok {
						cfg.Probe.FFprobePath = s
					}
				case "call_timeout_ms":
					if v, ok := firstIntArg(cn); ok {
						cfg.Probe.CallTimeout = time.Duration(v) * time.Millisecond
					}
				case "extract_workers":
					if v, ok := firstIntArg(cn); ok {
						cfg.Probe.ExtractWorkers = v
					}
				}
			}
		case "watch":
			for _, cn := range n.Children {
				switch nodeName(cn) {
				case "enabled":
					if b, ok := firstBoolArg(cn); ok {
						cfg.Watch.Enabled = b
					}
				case "debounce_ms":
					if v, ok := firstIntArg(cn); ok {
						cfg.Watch.DebounceMs = v
					}
				case "settle_ms":
					if v, ok := firstIntArg(cn); ok {
						cfg.Watch.SettleMs = v
					}
				}
			}
		case "include":
			if args := collectStringArgs(n); len(args) > 0 {
				cfg.Include = args
			}
		case "exclude":
			if args := collectStringArgs(n); len(args) > 0 {
				cfg.Exclude = append(cfg.Exclude, args...)
			}
		}
	}
	return nil
}

func nodeName(n *document.Node) string {
	if n == nil || n.Name == nil {
		return ""
	}
	return n.Name.NodeNameString()
}

func firstIntArg(n *document.Node) (int, bool) {
	if len(n.Arguments) == 0 {
		return 0, false
	}
	switch v := n.Arguments[0].Value.(type) {
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	default:
		return 0, false
	}
}

func firstStringArg(n *document.Node) (string, bool) {
	if len(n.Arguments) == 0 {
		return "", false
	}
	if s, ok := n.Arguments[0].Value.(string); ok {
		return s, true
	}
	return "", false
}

func firstBoolArg(n *document.Node) (bool, bool) {
	if len(n.Arguments) == 0 {
		return false, false
	}
	if b, ok := n.Arguments[0].Value.(bool); ok {
		return b, true
	}
	return false, false
}

func collectStringArgs(n *document.Node) []string {
	if n == nil {
		return nil
	}
	out := make([]string, 0, len(n.Arguments))
	for _, a := range n.Arguments {
		if s, ok := a.Value.(string); ok {
			out = append(out, s)
		}
	}
	// Also accept child nodes whose names are the patterns themselves,
	// matching the block form: exclude { "**/.cache/**"; }
	for _, cn := range n.Children {
		if s, ok := firstStringArg(cn); ok {
			out = append(out, s)
		} else if name := nodeName(cn); name != "" {
			out = append(out, name)
		}
	}
	return out
}

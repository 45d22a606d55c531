package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/standardbeagle/mjrindex/internal/config"
	"github.com/standardbeagle/mjrindex/internal/engine"
	"github.com/standardbeagle/mjrindex/internal/search"
	"github.com/standardbeagle/mjrindex/internal/types"
)

var version = "dev"

func main() {
	app := &cli.App{
		Name:                   "mjrindex",
		Usage:                  "Local index and search for generated media output trees",
		Version:                version,
		UseShortOptionHandling: true,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "root",
				Aliases: []string{"r"},
				Usage:   "Output root directory (the index lives under <root>/_mjr_index)",
				EnvVars: []string{"MJR_OUTPUT_ROOT"},
			},
			&cli.StringFlag{
				Name:    "input",
				Aliases: []string{"i"},
				Usage:   "Optional input root directory",
				EnvVars: []string{"MJR_INPUT_ROOT"},
			},
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Config file path (default: <root>/.mjrindex.kdl)",
			},
			&cli.BoolFlag{
				Name:    "verbose",
				Aliases: []string{"v"},
				Usage:   "Enable debug logging",
			},
		},
		Commands: []*cli.Command{
			{
				Name:  "scan",
				Usage: "Scan the configured roots and index new or changed files",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "source",
						Aliases: []string{"s"},
						Usage:   "What to scan: all, output, input, or a custom root id",
						Value:   "all",
					},
					&cli.BoolFlag{
						Name:  "no-recursive",
						Usage: "Scan only the top level of each root",
					},
					&cli.BoolFlag{
						Name:  "fast",
						Usage: "Defer metadata extraction to the background enricher",
					},
					&cli.BoolFlag{
						Name:  "full",
						Usage: "Reprocess every file, ignoring the scan journal",
					},
					jsonFlag(),
				},
				Action: scanCommand,
			},
			{
				Name:      "index",
				Usage:     "Index specific files under the output root",
				ArgsUsage: "<path> [path...]",
				Flags:     []cli.Flag{jsonFlag()},
				Action:    indexCommand,
			},
			{
				Name:      "remove",
				Usage:     "Remove a file or directory subtree from the index",
				ArgsUsage: "<path>",
				Action:    removeCommand,
			},
			{
				Name:      "search",
				Usage:     "Full-text search over filenames, prompts, tags and model names",
				ArgsUsage: "[query]",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "kind", Aliases: []string{"k"}, Usage: "Filter by kind: image, video, audio, model3d"},
					&cli.IntFlag{Name: "min-rating", Usage: "Minimum star rating (1-5)"},
					&cli.BoolFlag{Name: "has-workflow", Usage: "Only assets with an embedded workflow"},
					&cli.StringFlag{Name: "source", Aliases: []string{"s"}, Usage: "Filter by source: output, input, custom"},
					&cli.StringFlag{Name: "scope", Usage: "Restrict to a subfolder prefix"},
					&cli.IntFlag{Name: "limit", Aliases: []string{"n"}, Usage: "Max results", Value: 20},
					&cli.IntFlag{Name: "offset", Usage: "Result offset for paging"},
					&cli.BoolFlag{Name: "total", Usage: "Also report the total match count"},
					jsonFlag(),
				},
				Action: searchCommand,
			},
			{
				Name:      "get",
				Usage:     "Show one asset with its full metadata document",
				ArgsUsage: "<id>",
				Flags:     []cli.Flag{jsonFlag()},
				Action:    getCommand,
			},
			{
				Name:      "extract",
				Usage:     "Extract metadata from a file without touching the index",
				ArgsUsage: "<path>",
				Action:    extractCommand,
			},
			{
				Name:   "watch",
				Usage:  "Watch the output root and index changes as they happen",
				Action: watchCommand,
			},
			{
				Name:    "status",
				Aliases: []string{"st"},
				Usage:   "Show index counters, schema version and queue depths",
				Flags:   []cli.Flag{jsonFlag()},
				Action:  statusCommand,
			},
			{
				Name:  "roots",
				Usage: "Manage custom indexed roots",
				Subcommands: []*cli.Command{
					{
						Name:      "add",
						Usage:     "Register a directory as a custom root and scan it",
						ArgsUsage: "<path>",
						Flags: []cli.Flag{
							&cli.StringFlag{Name: "label", Aliases: []string{"l"}, Usage: "Display label for the root"},
							&cli.BoolFlag{Name: "no-scan", Usage: "Register without scanning"},
						},
						Action: rootsAddCommand,
					},
					{
						Name:    "list",
						Aliases: []string{"ls"},
						Usage:   "List registered custom roots",
						Flags:   []cli.Flag{jsonFlag()},
						Action:  rootsListCommand,
					},
					{
						Name:      "remove",
						Aliases:   []string{"rm"},
						Usage:     "Unregister a custom root and drop its assets",
						ArgsUsage: "<root-id>",
						Flags: []cli.Flag{
							&cli.BoolFlag{Name: "keep-assets", Usage: "Keep indexed assets for the root"},
						},
						Action: rootsRemoveCommand,
					},
				},
			},
			{
				Name:      "rate",
				Usage:     "Set the star rating of an asset (0-5)",
				ArgsUsage: "<id> <stars>",
				Action:    rateCommand,
			},
			{
				Name:      "tag",
				Usage:     "Replace the tags of an asset",
				ArgsUsage: "<id> [tag...]",
				Action:    tagCommand,
			},
			{
				Name:  "tags",
				Usage: "List all tags with usage counts",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "suggest", Usage: "Suggest tags matching a fragment instead of listing"},
					&cli.IntFlag{Name: "limit", Aliases: []string{"n"}, Usage: "Max suggestions", Value: 10},
					jsonFlag(),
				},
				Action: tagsCommand,
			},
			{
				Name:   "migrate",
				Usage:  "Apply pending schema migrations and report the version",
				Action: migrateCommand,
			},
			{
				Name:   "vacuum",
				Usage:  "Reclaim free space in the index database",
				Action: vacuumCommand,
			},
			{
				Name:   "fts-rebuild",
				Usage:  "Rebuild the full-text indexes from the asset tables",
				Action: ftsRebuildCommand,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func jsonFlag() cli.Flag {
	return &cli.BoolFlag{Name: "json", Aliases: []string{"j"}, Usage: "Output as JSON"}
}

func loadConfig(c *cli.Context) (*config.Config, error) {
	root := c.String("root")
	if root == "" {
		root, _ = os.Getwd()
	}
	cfg, err := config.Load(c.String("config"), root)
	if err != nil {
		return nil, err
	}
	if input := c.String("input"); input != "" {
		cfg.Roots.Input = input
	}
	if c.Bool("verbose") {
		cfg.Verbose = true
	}
	if c.Bool("fast") {
		cfg.Scan.FastMode = true
	}
	return cfg, nil
}

func newLogger(verbose bool) *zap.Logger {
	enc := zap.NewDevelopmentEncoderConfig()
	enc.EncodeLevel = zapcore.CapitalLevelEncoder
	level := zapcore.WarnLevel
	if verbose {
		level = zapcore.DebugLevel
	}
	core := zapcore.NewCore(zapcore.NewConsoleEncoder(enc), zapcore.Lock(os.Stderr), level)
	return zap.New(core)
}

// withEngine opens the engine against the configured root and runs fn
// with a context that cancels on SIGINT/SIGTERM.
func withEngine(c *cli.Context, fn func(ctx context.Context, e *engine.Engine) error) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	log := newLogger(cfg.Verbose)
	defer log.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	e, err := engine.Open(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer e.Close()

	return fn(ctx, e)
}

func scanCommand(c *cli.Context) error {
	return withEngine(c, func(ctx context.Context, e *engine.Engine) error {
		recursive := !c.Bool("no-recursive")
		incremental := !c.Bool("full")

		var stats types.ScanStats
		var err error
		switch src := c.String("source"); src {
		case "all":
			stats, err = e.ScanAll(ctx, recursive, incremental)
		case "output":
			stats, err = e.ScanOutput(ctx, recursive, incremental)
		case "input":
			stats, err = e.ScanInput(ctx, recursive, incremental)
		default:
			stats, err = e.ScanCustomRoot(ctx, src, recursive, incremental)
		}
		if err != nil {
			return err
		}
		return printStats(c, stats)
	})
}

func indexCommand(c *cli.Context) error {
	if c.NArg() < 1 {
		return errors.New("usage: mjrindex index <path> [path...]")
	}
	return withEngine(c, func(ctx context.Context, e *engine.Engine) error {
		stats, err := e.IndexPaths(ctx, c.Args().Slice())
		if err != nil {
			return err
		}
		return printStats(c, stats)
	})
}

func removeCommand(c *cli.Context) error {
	if c.NArg() != 1 {
		return errors.New("usage: mjrindex remove <path>")
	}
	return withEngine(c, func(ctx context.Context, e *engine.Engine) error {
		removed, err := e.RemovePath(ctx, c.Args().First())
		if err != nil {
			return err
		}
		fmt.Printf("removed %d asset(s)\n", removed)
		return nil
	})
}

func searchCommand(c *cli.Context) error {
	return withEngine(c, func(ctx context.Context, e *engine.Engine) error {
		req := search.Request{
			Query:     strings.Join(c.Args().Slice(), " "),
			Kind:      types.Kind(c.String("kind")),
			MinRating: c.Int("min-rating"),
			Source:    types.Source(c.String("source")),
			Scope:     c.String("scope"),
			Limit:     c.Int("limit"),
			Offset:    c.Int("offset"),
			WithTotal: c.Bool("total"),
		}
		if c.Bool("has-workflow") {
			yes := true
			req.HasWorkflow = &yes
		}

		var resp *search.Response
		var err error
		if req.Query == "" {
			// No query: browse newest-first with the same filters.
			browse := search.BrowseRequest{
				Kind:      req.Kind,
				MinRating: req.MinRating,
				Scope:     req.Scope,
				Limit:     req.Limit,
				Offset:    req.Offset,
				WithTotal: req.WithTotal,
			}
			if req.Source != "" {
				browse.Sources = []types.Source{req.Source}
			}
			resp, err = e.Browse(ctx, browse)
		} else {
			resp, err = e.Search(ctx, req)
		}
		if err != nil {
			return err
		}

		if c.Bool("json") {
			return printJSON(resp)
		}
		for _, hit := range resp.Hits {
			a := hit.Asset
			extra := ""
			if a.Rating > 0 {
				extra = " " + strings.Repeat("*", a.Rating)
			}
			if len(a.Tags) > 0 {
				extra += " [" + strings.Join(a.Tags, ", ") + "]"
			}
			fmt.Printf("%8d  %-6s %s%s\n", a.ID, a.Kind, a.Filepath, extra)
		}
		if resp.Total != nil {
			fmt.Printf("total: %d\n", *resp.Total)
		}
		return nil
	})
}

func getCommand(c *cli.Context) error {
	id, err := argID(c)
	if err != nil {
		return err
	}
	return withEngine(c, func(ctx context.Context, e *engine.Engine) error {
		detail, err := e.GetAsset(ctx, id)
		if err != nil {
			return err
		}
		if c.Bool("json") {
			return printJSON(detail)
		}
		a := detail.Asset
		fmt.Printf("id:        %d\n", a.ID)
		fmt.Printf("path:      %s\n", a.Filepath)
		fmt.Printf("kind:      %s (%s)\n", a.Kind, a.Ext)
		fmt.Printf("source:    %s\n", a.Source)
		if a.Width != nil && a.Height != nil {
			fmt.Printf("size:      %dx%d\n", *a.Width, *a.Height)
		}
		if a.Duration != nil {
			fmt.Printf("duration:  %.1fs\n", *a.Duration)
		}
		fmt.Printf("rating:    %d\n", a.Rating)
		if len(a.Tags) > 0 {
			fmt.Printf("tags:      %s\n", strings.Join(a.Tags, ", "))
		}
		fmt.Printf("quality:   %s\n", a.MetadataQuality)
		if m := detail.Metadata; m != nil && m.GenInfo != nil {
			if cp := m.GenInfo.Checkpoint; cp != nil && cp.Name != "" {
				fmt.Printf("model:     %s\n", cp.Name)
			}
			if pos := m.GenInfo.Positive; pos != nil {
				if text, ok := pos.Value.(string); ok && text != "" {
					fmt.Printf("prompt:    %s\n", text)
				}
			}
		}
		return nil
	})
}

func extractCommand(c *cli.Context) error {
	if c.NArg() != 1 {
		return errors.New("usage: mjrindex extract <path>")
	}
	return withEngine(c, func(ctx context.Context, e *engine.Engine) error {
		rec, err := e.ExtractMetadata(ctx, c.Args().First())
		if err != nil {
			return err
		}
		return printJSON(rec)
	})
}

func watchCommand(c *cli.Context) error {
	return withEngine(c, func(ctx context.Context, e *engine.Engine) error {
		if err := e.StartWatcher(); err != nil {
			return err
		}
		fmt.Fprintln(os.Stderr, "watching; press Ctrl-C to stop")
		<-ctx.Done()
		return nil
	})
}

func statusCommand(c *cli.Context) error {
	return withEngine(c, func(ctx context.Context, e *engine.Engine) error {
		st, err := e.Status(ctx)
		if err != nil {
			return err
		}
		if c.Bool("json") {
			return printJSON(st)
		}
		fmt.Printf("database:        %s\n", st.DatabasePath)
		fmt.Printf("schema version:  %d\n", st.SchemaVersion)
		fmt.Printf("assets:          %d (%d rated, %d tagged, %d with generation data)\n",
			st.Counts.Assets, st.Counts.WithRating, st.Counts.WithTags, st.Counts.WithGenData)
		if st.LastScanEnd != nil {
			fmt.Printf("last scan:       %s\n", st.LastScanEnd.Format(time.RFC3339))
		}
		fmt.Printf("watcher:         active=%t pending=%d\n", st.WatcherActive, st.PendingEvents)
		fmt.Printf("queues:          jobs=%d enrich=%d\n", st.PendingJobs, st.PendingEnrich)
		fmt.Printf("probe backend:   %s\n", st.ProbeBackend)
		for _, root := range st.CustomRoots {
			fmt.Printf("custom root:     %s  %s (%s)\n", root.ID, root.Path, root.Label)
		}
		return nil
	})
}

func rootsAddCommand(c *cli.Context) error {
	if c.NArg() != 1 {
		return errors.New("usage: mjrindex roots add <path>")
	}
	return withEngine(c, func(ctx context.Context, e *engine.Engine) error {
		root, err := e.Roots().Add(c.Args().First(), c.String("label"))
		if err != nil {
			return err
		}
		fmt.Printf("registered %s as %s\n", root.Path, root.ID)
		if c.Bool("no-scan") {
			return nil
		}
		stats, err := e.ScanCustomRoot(ctx, root.ID, true, true)
		if err != nil {
			return err
		}
		return printStats(c, stats)
	})
}

func rootsListCommand(c *cli.Context) error {
	return withEngine(c, func(ctx context.Context, e *engine.Engine) error {
		roots := e.Roots().List()
		if c.Bool("json") {
			return printJSON(roots)
		}
		if len(roots) == 0 {
			fmt.Println("no custom roots registered")
			return nil
		}
		for _, root := range roots {
			label := root.Label
			if label == "" {
				label = "-"
			}
			fmt.Printf("%s  %-20s %s\n", root.ID, label, root.Path)
		}
		return nil
	})
}

func rootsRemoveCommand(c *cli.Context) error {
	if c.NArg() != 1 {
		return errors.New("usage: mjrindex roots remove <root-id>")
	}
	return withEngine(c, func(ctx context.Context, e *engine.Engine) error {
		root, err := e.Roots().Remove(c.Args().First())
		if err != nil {
			return err
		}
		fmt.Printf("unregistered %s (%s)\n", root.ID, root.Path)
		if c.Bool("keep-assets") {
			return nil
		}
		removed, err := e.RemovePath(ctx, root.Path)
		if err != nil {
			return err
		}
		fmt.Printf("removed %d asset(s)\n", removed)
		return nil
	})
}

func rateCommand(c *cli.Context) error {
	if c.NArg() != 2 {
		return errors.New("usage: mjrindex rate <id> <stars>")
	}
	id, err := argID(c)
	if err != nil {
		return err
	}
	stars, err := strconv.Atoi(c.Args().Get(1))
	if err != nil {
		return fmt.Errorf("invalid star rating %q", c.Args().Get(1))
	}
	return withEngine(c, func(ctx context.Context, e *engine.Engine) error {
		return e.SetRating(ctx, id, stars)
	})
}

func tagCommand(c *cli.Context) error {
	if c.NArg() < 1 {
		return errors.New("usage: mjrindex tag <id> [tag...]")
	}
	id, err := argID(c)
	if err != nil {
		return err
	}
	tags := c.Args().Slice()[1:]
	return withEngine(c, func(ctx context.Context, e *engine.Engine) error {
		return e.SetTags(ctx, id, tags)
	})
}

func tagsCommand(c *cli.Context) error {
	return withEngine(c, func(ctx context.Context, e *engine.Engine) error {
		if fragment := c.String("suggest"); fragment != "" {
			suggestions, err := e.SuggestTags(ctx, fragment, c.Int("limit"))
			if err != nil {
				return err
			}
			if c.Bool("json") {
				return printJSON(suggestions)
			}
			for _, s := range suggestions {
				fmt.Println(s)
			}
			return nil
		}
		tags, err := e.AllTags(ctx)
		if err != nil {
			return err
		}
		if c.Bool("json") {
			return printJSON(tags)
		}
		for _, tc := range tags {
			fmt.Printf("%6d  %s\n", tc.Count, tc.Tag)
		}
		return nil
	})
}

func migrateCommand(c *cli.Context) error {
	return withEngine(c, func(ctx context.Context, e *engine.Engine) error {
		// Open already runs migrations; report the resulting version.
		v, err := e.Store().GetSchemaVersion(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("schema version %d\n", v)
		return nil
	})
}

func vacuumCommand(c *cli.Context) error {
	return withEngine(c, func(ctx context.Context, e *engine.Engine) error {
		return e.Store().Vacuum(ctx)
	})
}

func ftsRebuildCommand(c *cli.Context) error {
	return withEngine(c, func(ctx context.Context, e *engine.Engine) error {
		return e.Store().RebuildFTS(ctx)
	})
}

func argID(c *cli.Context) (int64, error) {
	id, err := strconv.ParseInt(c.Args().First(), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid asset id %q", c.Args().First())
	}
	return id, nil
}

func printStats(c *cli.Context, stats types.ScanStats) error {
	if c.Bool("json") {
		return printJSON(stats)
	}
	elapsed := stats.EndTime.Sub(stats.StartTime).Round(time.Millisecond)
	fmt.Printf("scanned %d: %d added, %d updated, %d skipped, %d errors (%s)\n",
		stats.Scanned, stats.Added, stats.Updated, stats.Skipped, stats.Errors, elapsed)
	if stats.ToEnrich > 0 {
		fmt.Printf("%d file(s) queued for background enrichment\n", stats.ToEnrich)
	}
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/poiesic/baler"
	"github.com/poiesic/baler/config"
	"github.com/poiesic/baler/core"
	"github.com/poiesic/baler/ingestion"
	"github.com/poiesic/baler/metrics"
	"github.com/poiesic/baler/search"
	"github.com/urfave/cli/v2"
)

// openBaler is replaced in tests.
var openBaler = func(ctx context.Context, cfg *config.Config) (*baler.Baler, error) {
	return baler.Open(ctx, cfg)
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "baler",
		Usage: "Tag, embed and search music reviews",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "log-level",
				Aliases: []string{"l"},
				Usage:   "Set logging level (debug, info, warn, error)",
				Value:   "info",
			},
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to YAML configuration file",
				EnvVars: []string{"BALER_CONFIG"},
			},
			&cli.StringFlag{
				Name:    "db",
				Aliases: []string{"d"},
				Usage:   "Path to BadgerDB database directory (overrides store.path)",
			},
			&cli.StringFlag{
				Name:  "backend",
				Usage: "Vector store backend (badger, qdrant)",
			},
			&cli.StringFlag{
				Name:  "provider",
				Usage: "Language model backend (gemini, openai)",
			},
			&cli.StringFlag{
				Name:  "metrics-addr",
				Usage: "Serve Prometheus metrics on this address, e.g. :9090",
			},
		},
		Before: setupLogger,
		Commands: []*cli.Command{
			{
				Name:      "ingest",
				Usage:     "Tag, embed and store reviews from an NDJSON file",
				ArgsUsage: "[reviews.jsonl]",
				Action:    ingestCommand,
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:  "batch-size",
						Usage: "Number of reviews tagged and written together",
					},
					&cli.IntFlag{
						Name:  "concurrency",
						Usage: "Maximum concurrent tagging requests",
					},
					&cli.DurationFlag{
						Name:  "delay",
						Usage: "Pause between batches",
					},
					&cli.BoolFlag{
						Name:  "no-progress",
						Usage: "Do not print progress to stderr",
					},
				},
			},
			{
				Name:      "search",
				Usage:     "Print the stored excerpts closest to a query",
				ArgsUsage: "<query>",
				Action:    searchCommand,
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:    "top-k",
						Aliases: []string{"k"},
						Usage:   "Number of results",
						Value:   search.DefaultTopK,
					},
					&cli.IntFlag{
						Name:  "offset",
						Usage: "Number of results to skip",
					},
				},
			},
			{
				Name:      "recommend",
				Usage:     "Stream a recommendation as NDJSON",
				ArgsUsage: "<query>",
				Action:    recommendCommand,
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:    "top-k",
						Aliases: []string{"k"},
						Usage:   "Number of excerpts to ground the answer on",
					},
				},
			},
			{
				Name:   "count",
				Usage:  "Print the number of stored vectors",
				Action: countCommand,
			},
			{
				Name:   "inspect",
				Usage:  "Print a sample of stored documents and metadata",
				Action: inspectCommand,
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:    "limit",
						Aliases: []string{"n"},
						Usage:   "Number of items to print",
						Value:   5,
					},
				},
			},
			{
				Name:   "export",
				Usage:  "Write every stored metadata record as NDJSON",
				Action: exportCommand,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "output",
						Aliases: []string{"o"},
						Usage:   "Output file (default stdout)",
					},
				},
			},
			{
				Name:   "reembed",
				Usage:  "Re-embed every stored chunk, optionally into another store",
				Action: reembedCommand,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "to-backend",
						Usage: "Target vector store backend (badger or qdrant)",
					},
					&cli.StringFlag{
						Name:  "to-db",
						Usage: "Target badger database path",
					},
					&cli.BoolFlag{
						Name:  "no-progress",
						Usage: "Disable progress output",
					},
				},
			},
			{
				Name:      "clean",
				Usage:     "Drop invalid and duplicate reviews from an NDJSON file",
				ArgsUsage: "<input.jsonl>",
				Action:    cleanCommand,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "output",
						Aliases:  []string{"o"},
						Usage:    "Output NDJSON file",
						Required: true,
					},
				},
			},
		},
	}
}

// loadConfig reads the configuration and applies global flag overrides.
func loadConfig(c *cli.Context) (*config.Config, error) {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return nil, err
	}
	if v := c.String("db"); v != "" {
		cfg.Store.Path = v
	}
	if v := c.String("backend"); v != "" {
		cfg.Store.Backend = v
	}
	if v := c.String("provider"); v != "" {
		cfg.AI.Provider = v
	}
	if v := c.String("metrics-addr"); v != "" {
		cfg.Metrics.Addr = v
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// withBaler loads the configuration, starts the metrics endpoint if one is
// configured, opens the store and runs fn.
func withBaler(c *cli.Context, fn func(ctx context.Context, cfg *config.Config, b *baler.Baler) error) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	ctx := c.Context

	if cfg.Metrics.Addr != "" {
		go func() {
			if err := metrics.Serve(ctx, cfg.Metrics.Addr); err != nil {
				slog.Error("metrics endpoint failed", "addr", cfg.Metrics.Addr, "err", err)
			}
		}()
	}

	b, err := openBaler(ctx, cfg)
	if err != nil {
		return err
	}
	defer b.Close()

	if err := b.WaitReady(ctx); err != nil {
		return err
	}
	return fn(ctx, cfg, b)
}

func ingestCommand(c *cli.Context) error {
	path := c.Args().First()
	if path == "" {
		path = "reviews.jsonl"
	}

	return withBaler(c, func(ctx context.Context, cfg *config.Config, b *baler.Baler) error {
		var opts []ingestion.Option
		if c.IsSet("batch-size") {
			opts = append(opts, ingestion.WithBatchSize(c.Int("batch-size")))
		}
		if c.IsSet("concurrency") {
			opts = append(opts, ingestion.WithConcurrency(c.Int("concurrency")))
		}
		if c.IsSet("delay") {
			opts = append(opts, ingestion.WithInterBatchDelay(c.Duration("delay")))
		}
		if !c.Bool("no-progress") {
			opts = append(opts, ingestion.WithProgressWriter(c.App.ErrWriter))
		}

		pipeline, err := b.NewIngestionPipeline(opts...)
		if err != nil {
			return err
		}
		defer pipeline.Release()

		report, err := pipeline.Run(ctx, path)
		if report != nil {
			printReport(c.App.Writer, report)
		}
		return err
	})
}

func printReport(w io.Writer, r *ingestion.Report) {
	if r.NoOp {
		fmt.Fprintf(w, "No new reviews to process. Store holds %d vectors.\n", r.FinalCount)
		return
	}
	fmt.Fprintf(w, "Loaded %d reviews (%d malformed, %d invalid, %d duplicates, %d already stored)\n",
		r.Loaded, r.Skipped, r.Invalid, r.Duplicates, r.AlreadyProcessed)
	fmt.Fprintf(w, "Processed %d reviews: %d chunks tagged, %d dropped, %d vectors written, %d failed sub-batches\n",
		r.Processed, r.ChunksTagged, r.ChunksDropped, r.VectorsWritten, r.FailedSubBatches)
	fmt.Fprintf(w, "Store holds %d vectors (%s)\n", r.FinalCount, r.Elapsed.Round(time.Millisecond))
}

func queryArg(c *cli.Context) (string, error) {
	query := strings.TrimSpace(strings.Join(c.Args().Slice(), " "))
	if query == "" {
		return "", errors.New("a query is required")
	}
	return query, nil
}

func searchCommand(c *cli.Context) error {
	query, err := queryArg(c)
	if err != nil {
		return err
	}
	return withBaler(c, func(ctx context.Context, _ *config.Config, b *baler.Baler) error {
		results, err := b.Adapter().Search(ctx, query, c.Int("top-k"), c.Int("offset"))
		if err != nil {
			return err
		}
		enc := json.NewEncoder(c.App.Writer)
		for _, meta := range results {
			if err := enc.Encode(meta.Decoded()); err != nil {
				return err
			}
		}
		return nil
	})
}

func recommendCommand(c *cli.Context) error {
	query, err := queryArg(c)
	if err != nil {
		return err
	}
	return withBaler(c, func(ctx context.Context, _ *config.Config, b *baler.Baler) error {
		recommender, err := b.NewRecommender()
		if err != nil {
			return err
		}
		events, err := recommender.Recommend(ctx, query, c.Int("top-k"))
		if err != nil {
			return err
		}
		return search.WriteNDJSON(ctx, c.App.Writer, events)
	})
}

func countCommand(c *cli.Context) error {
	return withBaler(c, func(ctx context.Context, _ *config.Config, b *baler.Baler) error {
		count, err := b.Count(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintln(c.App.Writer, count)
		return nil
	})
}

func inspectCommand(c *cli.Context) error {
	limit := c.Int("limit")
	if limit < 1 {
		return fmt.Errorf("limit must be positive, got %d", limit)
	}
	return withBaler(c, func(ctx context.Context, _ *config.Config, b *baler.Baler) error {
		count, err := b.Count(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(c.App.Writer, "Collection contains %d items.\n", count)

		sample, err := b.Inspect(ctx, limit)
		if err != nil {
			return err
		}
		for _, meta := range sample {
			chunk := core.NewEnrichedChunk(&core.RawRecord{}, core.TextChunk{Text: meta[core.MetaTextChunk]}, meta.Tags())
			pretty, err := json.MarshalIndent(meta.Decoded(), "  ", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintf(c.App.Writer, "\nDocument:\n  %s\nMetadata:\n  %s\n", chunk.Document(), pretty)
		}
		return nil
	})
}

func exportCommand(c *cli.Context) error {
	return withBaler(c, func(ctx context.Context, _ *config.Config, b *baler.Baler) error {
		w := c.App.Writer
		if path := c.String("output"); path != "" {
			f, err := os.Create(path)
			if err != nil {
				return err
			}
			defer f.Close()
			w = f
		}
		n, err := b.Export(ctx, w)
		if err != nil {
			return err
		}
		slog.Info("export complete", "records", n)
		return nil
	})
}

func reembedCommand(c *cli.Context) error {
	return withBaler(c, func(ctx context.Context, cfg *config.Config, b *baler.Baler) error {
		var progress io.Writer
		if !c.Bool("no-progress") {
			progress = c.App.ErrWriter
		}

		var target *baler.Baler
		if c.IsSet("to-backend") || c.IsSet("to-db") {
			targetCfg := *cfg
			if v := c.String("to-backend"); v != "" {
				targetCfg.Store.Backend = v
			}
			if v := c.String("to-db"); v != "" {
				targetCfg.Store.Path = v
			}
			if err := targetCfg.Validate(); err != nil {
				return err
			}
			if targetCfg.Store == cfg.Store {
				return errors.New("target store is the same as the source, omit --to-backend and --to-db to re-embed in place")
			}

			t, err := openBaler(ctx, &targetCfg)
			if err != nil {
				return fmt.Errorf("opening target store: %w", err)
			}
			defer t.Close()
			if err := t.WaitReady(ctx); err != nil {
				return err
			}
			target = t
		}

		result, err := b.Reembed(ctx, target, progress)
		if result != nil {
			fmt.Fprintf(c.App.Writer, "Re-embedded %d of %d chunks (%d failed sub-batches) in %s.\n",
				result.Written, result.Read, result.FailedSubBatches, result.Elapsed.Round(time.Millisecond))
		}
		return err
	})
}

func cleanCommand(c *cli.Context) error {
	input := c.Args().First()
	if input == "" {
		return errors.New("an input file is required")
	}

	loaded, err := ingestion.LoadRecords(input, slog.Default())
	if err != nil {
		return err
	}
	cleaned := ingestion.Clean(loaded.Records, slog.Default())

	out, err := os.Create(c.String("output"))
	if err != nil {
		return err
	}
	defer out.Close()
	if err := ingestion.WriteRecords(out, cleaned.Records); err != nil {
		return err
	}

	fmt.Fprintf(c.App.Writer, "Loaded %d records, dropped %d malformed, %d invalid and %d duplicates, wrote %d\n",
		len(loaded.Records)+loaded.Skipped, loaded.Skipped, cleaned.Invalid, cleaned.Duplicates, len(cleaned.Records))
	return out.Close()
}

func setupLogger(c *cli.Context) error {
	levelStr := strings.ToLower(c.String("log-level"))

	var level slog.Level
	switch levelStr {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		return fmt.Errorf("invalid log level %q: must be one of debug, info, warn, error", levelStr)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	return nil
}

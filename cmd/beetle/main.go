package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"text/tabwriter"

	_ "github.com/joho/godotenv/autoload"
	"github.com/urfave/cli/v3"

	"github.com/starford/beetle/internal"
	"github.com/starford/beetle/internal/models"
	"github.com/starford/beetle/internal/service"
	"github.com/starford/beetle/internal/updater"
	pkgconfig "github.com/starford/beetle/pkg/config"
)

var version = "dev"

func loadConfig(cmd *cli.Command) (*internal.Config, error) {
	cfg := internal.NewDefaultConfig()
	if err := pkgconfig.LoadIfExists(cmd.String("config"), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if root := cmd.String("root"); root != "" {
		cfg.Storage.Root = root
	}
	return cfg, nil
}

// withService opens the indexes for a one-shot command. Logs go to stderr
// so stdout only carries command output.
func withService(cmd *cli.Command, fn func(svc *service.Service) error) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if !cmd.Bool("verbose") {
		cfg.App.LogLevel = slog.LevelWarn
	}
	app, err := internal.NewApp(nil, internal.WithConfig(cfg), internal.WithLogOutput(os.Stderr))
	if err != nil {
		return err
	}
	defer app.Close()
	return fn(app.Service)
}

func printStats(w io.Writer, name string, mode updater.Mode, st models.Stats) {
	fmt.Fprintf(w, "%s (%s): %d added, %d modified, %d removed; %d indexed, %d skipped, %d bytes in %s\n",
		name, mode, st.Added, st.Modified, st.Removed, st.Indexed, st.Skipped, st.TotalBytes, st.Duration)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func checkFormat(format string) error {
	switch format {
	case "text", "json":
		return nil
	}
	return fmt.Errorf("unknown format %q (want text or json)", format)
}

func indexFlag() cli.Flag {
	return &cli.StringFlag{
		Name:     "index",
		Aliases:  []string{"i"},
		Usage:    "Index name",
		Required: true,
	}
}

func formatFlag() cli.Flag {
	return &cli.StringFlag{
		Name:    "format",
		Aliases: []string{"f"},
		Usage:   "Output format: text or json",
		Value:   "text",
	}
}

func newCommand(stdout io.Writer) *cli.Command {
	return &cli.Command{
		Name:    "beetle",
		Usage:   "Incremental full-text indexing and search for source repositories",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "config",
				Aliases:     []string{"c"},
				Usage:       "Path to config file (YAML or TOML)",
				DefaultText: "beetle.yaml",
				Value:       "beetle.yaml",
				Sources:     cli.EnvVars(internal.EnvConfig),
			},
			&cli.StringFlag{
				Name:  "root",
				Usage: "Directory holding the indexes (overrides storage.root)",
			},
			&cli.BoolFlag{
				Name:  "verbose",
				Usage: "Log progress to stderr",
			},
		},
		Commands: []*cli.Command{
			{
				Name:  "new",
				Usage: "Create an index for a repository and build it",
				Flags: []cli.Flag{
					indexFlag(),
					&cli.StringFlag{
						Name:     "path",
						Aliases:  []string{"p"},
						Usage:    "Repository root to index",
						Required: true,
					},
				},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					return withService(cmd, func(svc *service.Service) error {
						info, st, err := svc.Create(ctx, cmd.String("index"), cmd.String("path"))
						if err != nil {
							return err
						}
						fmt.Fprintf(stdout, "created %s -> %s\n", info.Name, info.TargetPath)
						printStats(stdout, info.Name, updater.Full, st)
						return nil
					})
				},
			},
			{
				Name:  "update",
				Usage: "Bring an index up to date with its repository",
				Flags: []cli.Flag{
					indexFlag(),
					&cli.BoolFlag{Name: "incremental", Usage: "Only reprocess changed files (default)"},
					&cli.BoolFlag{Name: "reindex", Usage: "Drop everything and rebuild"},
				},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					if cmd.Bool("incremental") && cmd.Bool("reindex") {
						return fmt.Errorf("--incremental and --reindex are mutually exclusive")
					}
					mode := updater.Incremental
					if cmd.Bool("reindex") {
						mode = updater.Full
					}
					return withService(cmd, func(svc *service.Service) error {
						name := cmd.String("index")
						st, err := svc.Update(ctx, name, mode)
						if err != nil {
							return err
						}
						printStats(stdout, name, mode, st)
						return nil
					})
				},
			},
			{
				Name:  "search",
				Usage: "Search an index",
				Flags: []cli.Flag{
					indexFlag(),
					&cli.StringFlag{
						Name:     "query",
						Aliases:  []string{"q"},
						Usage:    "Query text",
						Required: true,
					},
					&cli.IntFlag{
						Name:    "limit",
						Aliases: []string{"n"},
						Usage:   "Maximum number of results (0 uses search.default_limit)",
					},
					formatFlag(),
				},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					format := cmd.String("format")
					if err := checkFormat(format); err != nil {
						return err
					}
					return withService(cmd, func(svc *service.Service) error {
						hits, err := svc.Search(ctx, cmd.String("index"), cmd.String("query"), int(cmd.Int("limit")))
						if err != nil {
							return err
						}
						if format == "json" {
							if hits == nil {
								hits = []models.Hit{}
							}
							return printJSON(stdout, hits)
						}
						if len(hits) == 0 {
							fmt.Fprintln(stdout, "no results")
							return nil
						}
						for _, h := range hits {
							fmt.Fprintf(stdout, "%s\t%.3f\n", h.Path, h.Score)
							if h.Snippet != "" {
								fmt.Fprintf(stdout, "    %s\n", strings.ReplaceAll(h.Snippet, "\n", " "))
							}
						}
						return nil
					})
				},
			},
			{
				Name:  "list",
				Usage: "List indexes",
				Flags: []cli.Flag{formatFlag()},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					format := cmd.String("format")
					if err := checkFormat(format); err != nil {
						return err
					}
					return withService(cmd, func(svc *service.Service) error {
						items, err := svc.List(ctx)
						if err != nil {
							return err
						}
						if format == "json" {
							return printJSON(stdout, items)
						}
						tw := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
						fmt.Fprintln(tw, "NAME\tPATH\tDOCUMENTS\tUPDATED")
						for _, it := range items {
							updated := "-"
							if it.LastUpdated != nil {
								updated = it.LastUpdated.Local().Format("2006-01-02 15:04:05")
							}
							fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n", it.Name, it.TargetPath, it.Documents, updated)
						}
						return tw.Flush()
					})
				},
			},
			{
				Name:    "remove",
				Aliases: []string{"delete"},
				Usage:   "Delete an index and its files",
				Flags:   []cli.Flag{indexFlag()},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					return withService(cmd, func(svc *service.Service) error {
						name := cmd.String("index")
						if err := svc.Remove(ctx, name); err != nil {
							return err
						}
						fmt.Fprintf(stdout, "removed %s\n", name)
						return nil
					})
				},
			},
			{
				Name:  "serve",
				Usage: "Run the HTTP API (and the watcher when indexing.watch is on)",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					cfg, err := loadConfig(cmd)
					if err != nil {
						return err
					}
					if err := internal.Run(ctx, internal.WithConfig(cfg)); err != nil {
						return fmt.Errorf("app run error: %w", err)
					}
					return nil
				},
			},
			{
				Name:  "mcp",
				Usage: "Serve the MCP protocol on stdin/stdout",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					cfg, err := loadConfig(cmd)
					if err != nil {
						return err
					}
					return internal.RunMCP(ctx, internal.WithConfig(cfg), internal.WithVersion(version))
				},
			},
		},
	}
}

func main() {
	if err := newCommand(os.Stdout).Run(context.Background(), os.Args); err != nil {
		slog.Error("application error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

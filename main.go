package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v2"

	"github.com/adlibio/adprep/internal/pipeline"
)

func main() {
	// Optional .env carrying SCRAPE_API_TOKEN; absence is fine.
	_ = godotenv.Load()

	app := &cli.App{
		Name:  "adprep",
		Usage: "acquire scraped ad datasets and prepare their media",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "config",
				Value: "config.yaml",
				Usage: "path to the YAML config file",
			},
			&cli.BoolFlag{
				Name:  "quiet",
				Usage: "log errors only",
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "run",
				Usage:  "await a provider job, then normalize, rank, fetch and optimize its media",
				Action: pipeline.RunAction,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "job-id",
						Usage: "id of an already-started provider job",
					},
					&cli.StringFlag{
						Name:  "actor",
						Usage: "provider actor to start when no --job-id is given",
					},
					&cli.StringFlag{
						Name:  "input",
						Usage: "JSON input for the actor run",
					},
					&cli.StringFlag{
						Name:  "base-url",
						Usage: "provider API root (defaults to the public endpoint)",
					},
					&cli.IntFlag{
						Name:  "timeout",
						Usage: "job poll deadline in seconds",
					},
					&cli.IntFlag{
						Name:  "top-n",
						Usage: "number of entities to select",
					},
					&cli.IntFlag{
						Name:  "per-entity-limit",
						Usage: "max media downloads per entity",
					},
					&cli.StringFlag{
						Name:  "data-dir",
						Usage: "base directory for run artifacts",
					},
					&cli.StringFlag{
						Name:  "method",
						Usage: "ranking method: heuristic or media-count",
					},
					&cli.BoolFlag{
						Name:  "embed",
						Usage: "embed encoded payloads into the manifest",
					},
				},
			},
			{
				Name:   "normalize",
				Usage:  "fold a local dataset file into per-entity aggregates",
				Action: pipeline.NormalizeAction,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "dataset",
						Usage: "path to the dataset file",
					},
					&cli.StringFlag{
						Name:  "format",
						Value: "ndjson",
						Usage: "dataset format: ndjson or csv",
					},
				},
			},
			{
				Name:   "rank",
				Usage:  "normalize a local dataset and print the top-ranked entities",
				Action: pipeline.RankAction,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "dataset",
						Usage: "path to the dataset file",
					},
					&cli.StringFlag{
						Name:  "format",
						Value: "ndjson",
						Usage: "dataset format: ndjson or csv",
					},
					&cli.IntFlag{
						Name:  "top-n",
						Usage: "number of entities to select",
					},
					&cli.StringFlag{
						Name:  "method",
						Usage: "ranking method: heuristic or media-count",
					},
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

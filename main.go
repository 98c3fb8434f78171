package main

import (
	"log"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/parkes-group/octopus/cmd"
)

func main() {
	commonFlags := []cli.Flag{
		&cli.StringFlag{
			Name:    "log-level",
			EnvVars: []string{"LOG_LEVEL"},
			Value:   "INFO",
		},
		&cli.StringFlag{
			Name:    "data-dir",
			EnvVars: []string{"DATA_DIR"},
			Value:   "data",
		},
		&cli.StringFlag{
			Name:    "product",
			EnvVars: []string{"OCTOPUS_PRODUCT_CODE"},
			Usage:   "Agile product code, e.g. AGILE-24-10-01",
		},
		&cli.StringSliceFlag{
			Name:  "region",
			Usage: "region codes to operate on, defaults to all",
		},
		&cli.StringFlag{
			Name:  "year",
			Usage: "year to operate on, defaults to the current UK year",
		},
	}

	app := &cli.App{
		Name:  "agile-pricing",
		Usage: "Octopus Agile price analysis and statistics",
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "run the API server with scheduled background updates",
				Action: cmd.ServeCommand,
				Flags: append([]cli.Flag{
					&cli.StringFlag{
						Name:    "listen-addr",
						EnvVars: []string{"LISTEN_ADDR"},
						Value:   ":8080",
					},
				}, commonFlags...),
			},
			{
				Name:   "ytd-update",
				Usage:  "refresh raw year data, statistics and caches once",
				Action: cmd.YtdUpdateCommand,
				Flags:  commonFlags,
			},
			{
				Name:   "stats",
				Usage:  "recompute annual statistics from stored raw data",
				Action: cmd.StatsCommand,
				Flags:  commonFlags,
			},
			{
				Name:   "download",
				Usage:  "download a full year of raw half-hourly prices",
				Action: cmd.DownloadCommand,
				Flags:  commonFlags,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

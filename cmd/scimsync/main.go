// Command scimsync copies users from one SCIM service to another.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/urfave/cli/v2"

	"github.com/marcelom97/scimcore/sync"
)

func main() {
	app := &cli.App{
		Name:  "scimsync",
		Usage: "one-way user sync between two SCIM endpoints",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "source", Usage: "source SCIM base URL", Required: true},
			&cli.StringFlag{Name: "source-token", Usage: "source bearer token", EnvVars: []string{"SCIM_SOURCE_TOKEN"}},
			&cli.StringFlag{Name: "target", Usage: "target SCIM base URL", Required: true},
			&cli.StringFlag{Name: "target-token", Usage: "target bearer token", EnvVars: []string{"SCIM_TARGET_TOKEN"}},
			&cli.IntFlag{Name: "page-size", Value: 100, Usage: "source read page size"},
			&cli.IntFlag{Name: "concurrency", Value: 4, Usage: "parallel upserts per page"},
			&cli.BoolFlag{Name: "delete-orphans", Usage: "delete target users absent from the source"},
			&cli.BoolFlag{Name: "verbose", Aliases: []string{"v"}, Usage: "log each synced user"},
		},
		Action: run,
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	level := zerolog.InfoLevel
	if c.Bool("verbose") {
		level = zerolog.DebugLevel
	}
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).Level(level).With().Timestamp().Logger()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	source := sync.NewClient(c.String("source"), c.String("source-token"))
	target := sync.NewClient(c.String("target"), c.String("target-token"))

	syncer := sync.NewSyncer(source, target, sync.Options{
		PageSize:      c.Int("page-size"),
		Concurrency:   c.Int("concurrency"),
		DeleteOrphans: c.Bool("delete-orphans"),
		Logger:        log,
	})

	stats, err := syncer.Run(ctx)
	if err != nil {
		return fmt.Errorf("sync failed after %d created, %d updated, %d deleted: %w",
			stats.Created, stats.Updated, stats.Deleted, err)
	}
	return nil
}

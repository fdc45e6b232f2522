// Command scimserver serves the SCIM 2.0 protocol engine over HTTP,
// backed by the in-memory store or MongoDB.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/urfave/cli/v2"
	"go.mongodb.org/mongo-driver/mongo"
	mongooptions "go.mongodb.org/mongo-driver/mongo/options"

	"github.com/marcelom97/scimcore"
	"github.com/marcelom97/scimcore/config"
	"github.com/marcelom97/scimcore/memory"
	scimmongo "github.com/marcelom97/scimcore/mongo"
	"github.com/marcelom97/scimcore/service"
)

func main() {
	app := &cli.App{
		Name:  "scimserver",
		Usage: "serve a SCIM 2.0 endpoint",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "path to the YAML config file",
			},
		},
		Action: run,
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return err
	}

	log := newLogger(cfg.Logging)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	userAdapter, groupAdapter, cleanup, err := buildAdapters(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer cleanup()

	engine := scimcore.New(scimcore.Options{
		UserAdapter:       userAdapter,
		GroupAdapter:      groupAdapter,
		BaseURL:           cfg.Server.BaseURL,
		MaxFilterResults:  cfg.SCIM.MaxFilterResults,
		BulkEnabled:       cfg.SCIM.BulkEnabled,
		MaxBulkOperations: cfg.SCIM.MaxBulkOperations,
		MaxPayloadSize:    cfg.SCIM.MaxPayloadSize,
		DocumentationURI:  cfg.SCIM.DocumentationURI,
		Logger:            &log,
	})

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	return scimcore.NewServer(engine, addr).ListenAndServe(ctx)
}

func buildAdapters(ctx context.Context, cfg *config.Config, log zerolog.Logger) (service.Adapter, service.Adapter, func(), error) {
	switch strings.ToLower(cfg.Storage.Type) {
	case config.StorageMemory:
		users := memory.NewStore("User", memory.Options{UniqueAttribute: "userName"})
		var groups service.Adapter
		if cfg.SCIM.GroupsEnabled {
			groups = memory.NewStore("Group", memory.Options{})
		}
		return users, groups, func() {}, nil

	case config.StorageMongo:
		connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		client, err := mongo.Connect(connectCtx, mongooptions.Client().ApplyURI(cfg.Storage.Mongo.URI))
		if err != nil {
			return nil, nil, nil, fmt.Errorf("connect to mongodb: %w", err)
		}
		cleanup := func() {
			disconnectCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := client.Disconnect(disconnectCtx); err != nil {
				log.Warn().Err(err).Msg("mongodb disconnect failed")
			}
		}

		db := client.Database(cfg.Storage.Mongo.Database)
		users := scimmongo.NewAdapter("User", db.Collection("users"), scimmongo.Options{UniqueAttribute: "userName"})
		if err := users.EnsureIndexes(ctx); err != nil {
			cleanup()
			return nil, nil, nil, err
		}

		var groups service.Adapter
		if cfg.SCIM.GroupsEnabled {
			groups = scimmongo.NewAdapter("Group", db.Collection("groups"), scimmongo.Options{})
		}
		return users, groups, cleanup, nil

	default:
		return nil, nil, nil, fmt.Errorf("unknown storage backend %q", cfg.Storage.Type)
	}
}

func newLogger(cfg config.LoggingConfig) zerolog.Logger {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}

	var logger zerolog.Logger
	if strings.EqualFold(cfg.Format, "console") {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr})
	} else {
		logger = zerolog.New(os.Stderr)
	}
	return logger.Level(level).With().Timestamp().Logger()
}

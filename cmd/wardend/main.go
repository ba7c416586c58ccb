package main

import (
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"github.com/carlmjohnson/versioninfo"
	_ "github.com/joho/godotenv/autoload"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	cli "github.com/urfave/cli/v2"

	"github.com/warden-project/warden/countstore"
	"github.com/warden-project/warden/engine"
	"github.com/warden-project/warden/server"
	"github.com/warden-project/warden/tickets"
	"github.com/warden-project/warden/util/cliutil"
)

func main() {
	if err := run(os.Args); err != nil {
		slog.Error("exiting", "err", err)
		os.Exit(-1)
	}
}

func run(args []string) error {

	app := cli.App{
		Name:    "wardend",
		Usage:   "moderation ticket engine daemon",
		Version: versioninfo.Short(),
	}

	app.Flags = []cli.Flag{
		&cli.StringFlag{
			Name:    "database-url",
			Value:   "sqlite://data/warden/warden.sqlite",
			EnvVars: []string{"DATABASE_URL"},
		},
		&cli.IntFlag{
			Name:    "max-db-connections",
			EnvVars: []string{"MAX_DB_CONNECTIONS"},
			Value:   40,
		},
		&cli.StringFlag{
			Name:    "log-level",
			Usage:   "info|debug|warn|error",
			EnvVars: []string{"WARDEN_LOG_LEVEL"},
		},
		&cli.StringFlag{
			Name:    "log-format",
			Usage:   "text|json",
			EnvVars: []string{"WARDEN_LOG_FMT"},
		},
	}

	app.Commands = []*cli.Command{
		runCmd,
		migrateCmd,
	}

	return app.Run(args)
}

var runCmd = &cli.Command{
	Name:  "run",
	Usage: "run the moderation service",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:    "bind",
			Usage:   "IP or address, and port, to listen on for the admin API",
			Value:   ":3984",
			EnvVars: []string{"WARDEN_BIND"},
		},
		&cli.StringFlag{
			Name:    "metrics-listen",
			Usage:   "IP or address, and port, to listen on for metrics",
			Value:   ":3985",
			EnvVars: []string{"WARDEN_METRICS_LISTEN"},
		},
		&cli.StringFlag{
			Name:    "admin-token",
			Usage:   "bearer token guarding the /admin endpoints",
			EnvVars: []string{"WARDEN_ADMIN_TOKEN"},
		},
		&cli.StringFlag{
			Name:    "redis-url",
			Usage:   "redis connection for moderation activity counters (in-memory when unset)",
			EnvVars: []string{"WARDEN_REDIS_URL"},
		},
	},
	Action: func(cctx *cli.Context) error {
		logger, err := cliutil.SetupSlog(cctx.String("log-level"), cctx.String("log-format"))
		if err != nil {
			return err
		}

		db, err := cliutil.SetupDatabase(cctx.String("database-url"), cctx.Int("max-db-connections"))
		if err != nil {
			return err
		}

		store, err := tickets.NewStore(db)
		if err != nil {
			return err
		}

		var counters countstore.CountStore
		if rurl := cctx.String("redis-url"); rurl != "" {
			counters, err = countstore.NewRedisCountStore(rurl)
			if err != nil {
				return fmt.Errorf("connecting to redis: %w", err)
			}
		} else {
			counters = countstore.NewMemCountStore()
		}

		eng := engine.New(store, counters)

		srv := server.NewServer(eng, db, server.Config{
			AdminToken: cctx.String("admin-token"),
		})

		go func() {
			listen := cctx.String("metrics-listen")
			logger.Info("starting metrics endpoint", "addr", listen)
			http.Handle("/metrics", promhttp.Handler())
			if err := http.ListenAndServe(listen, nil); err != nil {
				logger.Error("failed to start metrics endpoint", "err", err)
				panic(fmt.Errorf("failed to start metrics endpoint: %w", err))
			}
		}()

		if err := srv.RunAPI(cctx.String("bind")); err != nil {
			return fmt.Errorf("failed to run moderation service: %w", err)
		}
		return nil
	},
}

var migrateCmd = &cli.Command{
	Name:  "migrate",
	Usage: "run database migrations and exit",
	Action: func(cctx *cli.Context) error {
		if _, err := cliutil.SetupSlog(cctx.String("log-level"), cctx.String("log-format")); err != nil {
			return err
		}
		db, err := cliutil.SetupDatabase(cctx.String("database-url"), cctx.Int("max-db-connections"))
		if err != nil {
			return err
		}
		if _, err := tickets.NewStore(db); err != nil {
			return err
		}
		slog.Info("migrations complete")
		return nil
	},
}

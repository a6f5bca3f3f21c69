package main

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v5"
	"github.com/labstack/echo/v5/middleware"
	"github.com/urfave/cli/v3"

	"github.com/samcharles93/lattice/internal/api"
	"github.com/samcharles93/lattice/internal/delegate"
	"github.com/samcharles93/lattice/internal/device"
	"github.com/samcharles93/lattice/internal/executor"
	"github.com/samcharles93/lattice/internal/kernel"
	"github.com/samcharles93/lattice/internal/loader"
)

func serveCmd() *cli.Command {
	var (
		addr        string
		readTimeout time.Duration
	)

	return &cli.Command{
		Name:  "serve",
		Usage: "Serve the graph load/run REST API",
		Flags: append(append(commonGraphFlags(), loggingFlags()...),
			&cli.StringFlag{
				Name:        "addr",
				Usage:       "listen address",
				Value:       "127.0.0.1:8080",
				Destination: &addr,
			},
			&cli.DurationFlag{
				Name:        "read-timeout",
				Usage:       "read timeout",
				Value:       30 * time.Second,
				Destination: &readTimeout,
			},
		),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			applyCommonConfig(cmd, cfg)
			if cfg.ServerAddress != "" && !cmd.IsSet("addr") {
				addr = cfg.ServerAddress
			}
			log := setupLogger()

			ldr := loader.New(kernel.NewRuntimeRegistry(), loader.Options{
				Delegates: delegate.Available(),
				Plan:      loader.PlanOptions{DisableReuse: noBufferReuse},
				Logger:    log,
			})
			exec := executor.New(executor.Options{
				Pool:   device.NewPool(8),
				Logger: log,
			})
			server := api.NewServer(api.NewGraphStore(), ldr, exec, log)

			e := echo.New()
			e.Use(middleware.RequestLogger())
			e.Use(middleware.Recover())
			server.Register(e)

			log.Info("starting server", "address", addr, "delegates", delegate.Names())
			sc := echo.StartConfig{
				Address: addr,
				BeforeServeFunc: func(srv *http.Server) error {
					srv.ReadHeaderTimeout = readTimeout
					return nil
				},
			}
			return sc.Start(ctx, e)
		},
	}
}

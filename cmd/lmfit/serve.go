package main

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v5"
	"github.com/labstack/echo/v5/middleware"
	"github.com/urfave/cli/v3"

	"github.com/samcharles93/lmfit/internal/api"
	"github.com/samcharles93/lmfit/internal/logger"
)

func serveCmd() *cli.Command {
	var (
		addr        string
		readTimeout time.Duration
		storeSize   int
		maxBody     string
	)

	return &cli.Command{
		Name:  "serve",
		Usage: "Serve the fitting REST API",
		Flags: append(engineFlags(),
			&cli.StringFlag{
				Name:        "addr",
				Usage:       "listen address",
				Value:       "127.0.0.1:8080",
				Destination: &addr,
			},
			&cli.DurationFlag{
				Name:        "read-timeout",
				Usage:       "read header timeout",
				Value:       30 * time.Second,
				Destination: &readTimeout,
			},
			&cli.IntFlag{
				Name:        "store-size",
				Usage:       "completed fits kept for GET /v1/fits/:id",
				Value:       64,
				Destination: &storeSize,
			},
			&cli.StringFlag{
				Name:        "max-body",
				Usage:       "maximum request body size",
				Value:       "256MiB",
				Destination: &maxBody,
			},
		),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			log := logger.FromContext(ctx)
			applyServeConfig(cmd, fileConfig, &addr)

			limit, err := parseSize(maxBody)
			if err != nil {
				return cli.Exit("error: --max-body: "+err.Error(), 1)
			}
			fc, err := openContext(ctx, cmd)
			if err != nil {
				return exitError(err)
			}

			server := api.NewServer(fc, api.NewFitStore(storeSize), log)
			server.SetMaxBodyBytes(int64(limit))
			e := echo.New()
			e.Use(middleware.RequestLogger())
			e.Use(middleware.Recover())
			server.Register(e)
			log.Info("starting server", "address", addr, "device", fc.Device().Name, "solver", fc.Solver())
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

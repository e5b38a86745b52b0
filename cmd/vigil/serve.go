package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v5"
	"github.com/labstack/echo/v5/middleware"
	"github.com/urfave/cli/v3"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/samcharles93/vigil/internal/api"
	"github.com/samcharles93/vigil/internal/logger"
	"github.com/samcharles93/vigil/internal/monitor"
	"github.com/samcharles93/vigil/internal/version"
	"github.com/samcharles93/vigil/pkg/dsa"
	"github.com/samcharles93/vigil/pkg/dsa/dsatest"
)

func serveCmd() *cli.Command {
	var (
		addr         string
		readTimeout  time.Duration
		pollInterval time.Duration
		failFast     bool
		demo         bool
	)

	return &cli.Command{
		Name:  "serve",
		Usage: "Serve the assertion registry REST API",
		Flags: append(append(registryFlags(), loggingFlags()...),
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
			&cli.DurationFlag{
				Name:        "poll-interval",
				Usage:       "how often the monitor polls the registry for failures",
				Value:       monitor.DefaultInterval,
				Destination: &pollInterval,
			},
			&cli.BoolFlag{
				Name:        "fail-fast",
				Usage:       "shut down on the first device-side assertion failure",
				Destination: &failFast,
			},
			&cli.BoolFlag{
				Name:        "demo",
				Usage:       "feed the registry from a simulated workload (use vigil demo for workload knobs)",
				Destination: &demo,
			},
		),
		Action: func(ctx context.Context, c *cli.Command) error {
			cfg := LoadConfig()
			applyLoggingConfig(c, cfg)
			applyServeConfig(c, cfg, &addr)

			log := newLogger()
			ctx = logger.WithContext(ctx, log)

			platform := dsa.DetectPlatform(log)
			if demo {
				platform = dsatest.NewPlatform(2)
			}
			reg := dsa.New(dsa.Config{
				LogCapacity: int(logCapacity),
				Platform:    platform,
				Logger:      log,
			})
			defer func() { _ = reg.Close() }()

			e := echo.New()
			e.Use(middleware.RequestLogger())
			e.Use(middleware.Recover())
			api.NewServer(reg, version.String()).Register(e)

			g, ctx := errgroup.WithContext(ctx)

			if demo {
				g.Go(func() error {
					w := dsatest.Workload{
						Devices:   2,
						Launches:  512,
						FailEvery: 128,
						Streams:   4,
						Limiter:   rate.NewLimiter(64, 1),
					}
					log.Info("demo workload running",
						"devices", w.Devices, "launches", w.Launches, "fail_every", w.FailEvery)
					err := dsatest.Run(ctx, reg, w)
					if err != nil && !errors.Is(err, context.Canceled) {
						return err
					}
					return nil
				})
			}

			mon := monitor.New(reg, monitor.Config{Interval: pollInterval, Logger: log})
			g.Go(func() error {
				err := mon.Run(ctx)
				switch {
				case errors.Is(err, monitor.ErrAssertionFailure):
					if failFast {
						return err
					}
					log.Warn("continuing to serve after assertion failure",
						"report", "/v1/report")
					return nil
				case errors.Is(err, context.Canceled):
					return nil
				default:
					return err
				}
			})

			log.Info("starting server",
				"address", addr,
				"platform", reg.PlatformName(),
				"tracking", reg.Enabled())
			sc := echo.StartConfig{
				Address: addr,
				BeforeServeFunc: func(srv *http.Server) error {
					srv.ReadHeaderTimeout = readTimeout
					return nil
				},
			}
			g.Go(func() error {
				return sc.Start(ctx, e)
			})
			return g.Wait()
		},
	}
}

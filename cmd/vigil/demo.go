package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/urfave/cli/v3"
	"golang.org/x/time/rate"

	"github.com/samcharles93/vigil/internal/api"
	"github.com/samcharles93/vigil/internal/logger"
	"github.com/samcharles93/vigil/pkg/dsa"
	"github.com/samcharles93/vigil/pkg/dsa/dsatest"
)

func demoCmd() *cli.Command {
	var (
		devices    int64
		launches   int64
		failEvery  int64
		streams    int64
		ratePerSec float64
		stacks     bool
		output     string
	)

	return &cli.Command{
		Name:  "demo",
		Usage: "Run a simulated kernel workload and print the assertion report",
		Flags: append(append(registryFlags(), loggingFlags()...),
			&cli.Int64Flag{
				Name:        "devices",
				Aliases:     []string{"d"},
				Usage:       "number of simulated devices",
				Value:       2,
				Destination: &devices,
			},
			&cli.Int64Flag{
				Name:        "launches",
				Aliases:     []string{"n"},
				Usage:       "kernel launches per device",
				Value:       64,
				Destination: &launches,
			},
			&cli.Int64Flag{
				Name:        "fail-every",
				Usage:       "trip a device-side assertion every Nth launch (0 = never)",
				Value:       16,
				Destination: &failEvery,
			},
			&cli.Int64Flag{
				Name:        "streams",
				Usage:       "stream ids to cycle launches through",
				Value:       4,
				Destination: &streams,
			},
			&cli.Float64Flag{
				Name:        "rate",
				Usage:       "max launches per second across all devices (0 = unpaced)",
				Destination: &ratePerSec,
			},
			&cli.BoolFlag{
				Name:        "stacks",
				Usage:       "capture a host stack trace per launch (sets " + dsa.EnvStackTraces + ")",
				Destination: &stacks,
			},
			&cli.StringFlag{
				Name:        "output",
				Aliases:     []string{"o"},
				Usage:       "write the snapshot as JSON to a file",
				Destination: &output,
			},
		),
		Action: func(ctx context.Context, c *cli.Command) error {
			cfg := LoadConfig()
			applyLoggingConfig(c, cfg)
			applyDemoConfig(c, cfg, &devices, &launches, &failEvery)

			log := newLogger()
			ctx = logger.WithContext(ctx, log)

			// The registry reads the stack trace switch from the environment
			// at construction, same as an instrumented process would.
			if stacks {
				_ = os.Setenv(dsa.EnvStackTraces, "1")
			}

			reg := dsa.New(dsa.Config{
				LogCapacity: int(logCapacity),
				Platform:    dsatest.NewPlatform(int(devices)),
				Logger:      log,
			})
			defer func() { _ = reg.Close() }()

			w := dsatest.Workload{
				Devices:   int(devices),
				Launches:  int(launches),
				FailEvery: int(failEvery),
				Streams:   int(streams),
			}
			if ratePerSec > 0 {
				w.Limiter = rate.NewLimiter(rate.Limit(ratePerSec), 1)
			}

			log.Info("running simulated workload",
				"devices", devices, "launches", launches, "fail_every", failEvery)
			start := time.Now()
			if err := dsatest.Run(ctx, reg, w); err != nil {
				return cli.Exit(fmt.Sprintf("error: workload: %v", err), 1)
			}
			log.Info("workload finished",
				"duration", time.Since(start).Round(time.Millisecond),
				"launches", reg.Generations())

			fmt.Println(reg.Report())

			if output != "" {
				doc := api.NewSnapshotDocument(reg.Snapshot(), reg.PlatformName(), time.Now())
				b, err := api.EncodeSnapshot(doc)
				if err != nil {
					return cli.Exit(fmt.Sprintf("error: encode snapshot: %v", err), 1)
				}
				if err := os.WriteFile(output, b, 0o644); err != nil {
					return cli.Exit(fmt.Sprintf("error: write snapshot: %v", err), 1)
				}
				log.Info("snapshot written", "path", output, "bytes", len(b))
			}
			return nil
		},
	}
}

package main

import (
	"context"
	"fmt"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/vigil/internal/logger"
	"github.com/samcharles93/vigil/pkg/dsa"
)

func envCmd() *cli.Command {
	return &cli.Command{
		Name:  "env",
		Usage: "Print assertion tracking environment and platform state",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			log := logger.Default()
			reg := dsa.New(dsa.Config{
				Platform: dsa.DetectPlatform(log),
				Logger:   log,
			})
			defer func() { _ = reg.Close() }()

			fmt.Printf("%s=%q\n", dsa.EnvDisable, os.Getenv(dsa.EnvDisable))
			fmt.Printf("%s=%q\n", dsa.EnvStackTraces, os.Getenv(dsa.EnvStackTraces))
			fmt.Println()
			fmt.Printf("build support: %s\n", enabledWord(dsa.BuiltWithAssertions()))
			fmt.Printf("platform:      %s\n", reg.PlatformName())
			fmt.Printf("tracking:      %s\n", enabledWord(reg.Enabled()))
			fmt.Printf("stack traces:  %s\n", enabledWord(reg.StackTracesEnabled()))
			fmt.Printf("log capacity:  %d\n", reg.LogCapacity())
			return nil
		},
	}
}

func enabledWord(v bool) string {
	if v {
		return "enabled"
	}
	return "disabled"
}

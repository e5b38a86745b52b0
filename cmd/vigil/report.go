package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/vigil/internal/api"
	"github.com/samcharles93/vigil/internal/version"
)

// fetchClient bounds how long a snapshot fetch may hang on an unresponsive
// server.
var fetchClient = &http.Client{Timeout: 30 * time.Second}

func reportCmd() *cli.Command {
	var (
		input string
		addr  string
	)

	return &cli.Command{
		Name:  "report",
		Usage: "Render a captured snapshot as a human-readable report",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "input",
				Aliases:     []string{"i"},
				Usage:       "path to a snapshot JSON file (- for stdin)",
				Destination: &input,
			},
			&cli.StringFlag{
				Name:        "addr",
				Usage:       "fetch the snapshot from a running vigil server",
				Destination: &addr,
			},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			var (
				raw []byte
				err error
			)
			switch {
			case input == "-":
				raw, err = io.ReadAll(os.Stdin)
				if err != nil {
					return cli.Exit(fmt.Sprintf("error: read stdin: %v", err), 1)
				}
			case input != "":
				raw, err = os.ReadFile(input)
				if err != nil {
					return cli.Exit(fmt.Sprintf("error: read snapshot: %v", err), 1)
				}
			case addr != "":
				raw, err = fetchSnapshot(ctx, addr)
				if err != nil {
					return cli.Exit(fmt.Sprintf("error: fetch snapshot: %v", err), 1)
				}
			default:
				return cli.Exit("error: --input or --addr is required", 1)
			}

			doc, err := api.DecodeSnapshot(raw)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: decode snapshot: %v", err), 1)
			}
			snap := doc.Snapshot()
			fmt.Println(snap.Report())
			return nil
		},
	}
}

// fetchSnapshot pulls /v1/snapshot from a running server. A bare host:port is
// treated as http.
func fetchSnapshot(ctx context.Context, addr string) ([]byte, error) {
	base := addr
	if !strings.Contains(base, "://") {
		base = "http://" + base
	}
	url := strings.TrimRight(base, "/") + "/v1/snapshot"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", version.UserAgent())
	resp, err := fetchClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("GET %s: %s", url, resp.Status)
	}
	return io.ReadAll(resp.Body)
}

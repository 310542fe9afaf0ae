package main

import (
	"encoding/json"
	"fmt"
	"log"
	"log/slog"
	"os"
	"strings"

	"github.com/urfave/cli/v2"
	"grindstone.dev/grindstone/config"
	"grindstone.dev/grindstone/config/jsontemplate"
	"grindstone.dev/grindstone/coordinator/coordinatorserver"
	"grindstone.dev/grindstone/logging"
	"grindstone.dev/grindstone/rpc"
	"grindstone.dev/grindstone/rundev"
	"grindstone.dev/grindstone/workers/workerserver"
)

func main() {
	paramFlag := &cli.StringSliceFlag{
		Name:  "param",
		Usage: "resolve a config $param reference, written as NAME=value",
	}

	app := &cli.App{
		Name:  "grindstone",
		Usage: "Coordinate barriers between load generating workers",
		Commands: []*cli.Command{{
			Name:      "coordinator",
			Usage:     "Start the barrier coordinator",
			ArgsUsage: "[config.json]",
			Flags:     []cli.Flag{paramFlag},
			Action: func(ctx *cli.Context) error {
				data, err := readConfig(ctx.Args().First())
				if err != nil {
					return err
				}
				params, err := parseParams(ctx.StringSlice("param"))
				if err != nil {
					return err
				}
				c, err := config.UnmarshalCoordinator(data, params)
				if err != nil {
					return err
				}
				if err := c.Validate(); err != nil {
					return fmt.Errorf("coordinator config validation error: %v", err)
				}
				if err := setLogLevel(c.LogLevel); err != nil {
					return err
				}
				return coordinatorserver.Run(c)
			},
		}, {
			Name:      "worker",
			Usage:     "Start a worker that joins the coordinator's barriers",
			ArgsUsage: "[config.json]",
			Flags: []cli.Flag{
				paramFlag,
				&cli.StringFlag{
					Name:  "coordinator-addr",
					Usage: "overrides the coordinator address from the config",
				},
			},
			Action: func(ctx *cli.Context) error {
				data, err := readConfig(ctx.Args().First())
				if err != nil {
					return err
				}
				params, err := parseParams(ctx.StringSlice("param"))
				if err != nil {
					return err
				}
				c, err := config.UnmarshalWorker(data, params)
				if err != nil {
					return err
				}
				if addr := ctx.String("coordinator-addr"); addr != "" {
					c.CoordinatorAddr = addr
				}
				if err := c.Validate(); err != nil {
					return fmt.Errorf("worker config validation error: %v", err)
				}
				if err := setLogLevel(c.LogLevel); err != nil {
					return err
				}
				return workerserver.Run(c)
			},
		}, {
			Name:  "dev",
			Usage: "Start a self-contained cluster whose workers meet at a global barrier",
			Flags: []cli.Flag{
				&cli.IntFlag{
					Name:  "workers",
					Value: 3,
					Usage: "number of workers to start",
				},
				&cli.IntFlag{
					Name:  "rounds",
					Value: 0,
					Usage: "rounds to run before exiting, 0 runs until interrupted",
				},
				&cli.StringFlag{
					Name:  "barrier",
					Value: "round",
					Usage: "name of the shared global barrier",
				},
				&cli.StringFlag{
					Name:  "admin-addr",
					Value: "127.0.0.1:9009",
					Usage: "the coordinator will serve diagnostics on this address",
				},
			},
			Action: func(ctx *cli.Context) error {
				slog.SetDefault(slog.New(logging.NewTextHandler()))
				err := rundev.Run(rundev.RunParams{
					Workers:   ctx.Int("workers"),
					Rounds:    ctx.Int("rounds"),
					Barrier:   ctx.String("barrier"),
					AdminAddr: ctx.String("admin-addr"),
				})
				if err != nil {
					slog.Error("terminated with error", "error", err)
				}
				return err
			},
		}, {
			Name:  "status",
			Usage: "Print the coordinator's workers and barrier groups as JSON",
			Flags: []cli.Flag{
				&cli.StringFlag{
					Name:  "admin-addr",
					Value: "127.0.0.1:8080",
					Usage: "the coordinator's admin address, 127.0.0.1:9009 for the dev cluster",
				},
			},
			Action: func(ctx *cli.Context) error {
				client := rpc.NewCoordinatorUIConnectClient(ctx.String("admin-addr"))
				status, err := client.GetStatus(ctx.Context)
				if err != nil {
					return err
				}
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(status)
			},
		}},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

// An empty path means run with defaults.
func readConfig(path string) ([]byte, error) {
	if path == "" {
		return []byte("{}"), nil
	}
	return os.ReadFile(path)
}

func parseParams(pairs []string) (*jsontemplate.Params, error) {
	params := jsontemplate.NewParams()
	for _, pair := range pairs {
		name, value, ok := strings.Cut(pair, "=")
		if !ok {
			return nil, fmt.Errorf("invalid --param %q, expected NAME=value", pair)
		}
		params.Set(name, value)
	}
	return params, nil
}

func setLogLevel(level string) error {
	l, err := config.ParseLogLevel(level)
	if err != nil {
		return err
	}
	logging.SetLevel(l)
	return nil
}

package cmd

import (
	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/hostbridge/cli/tui"
	"github.com/pithecene-io/hostbridge/client"
	"github.com/pithecene-io/hostbridge/log"
	"github.com/pithecene-io/hostbridge/types"
)

// StatsCommand returns the stats command: the diagnostics surface.
func StatsCommand() *cli.Command {
	return &cli.Command{
		Name:  "stats",
		Usage: "Show bridge diagnostics (circuits, counters, latencies, cache)",
		Flags: append(CommonFlags(),
			&cli.BoolFlag{
				Name:    "watch",
				Aliases: []string{"w"},
				Usage:   "Interactive view refreshing periodically",
			},
		),
		Action: statsAction,
	}
}

func statsAction(c *cli.Context) error {
	if !c.Bool("watch") {
		resp, err := dispatch(c, types.Command{Type: "diagnostics"})
		if err != nil {
			return cli.Exit(err.Error(), 1)
		}
		return printResponse(resp)
	}

	cfg, err := loadConfig(c)
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}
	cl := client.New(cfg, log.New("cli"))
	defer cl.Close()

	fetch := func() (map[string]any, error) {
		resp, err := cl.SendRetryable(c.Context, types.Command{Type: "diagnostics"})
		if err != nil {
			return nil, err
		}
		if resp.IsError() {
			return nil, &statsError{msg: resp.Message}
		}
		if m, ok := resp.Result.(map[string]any); ok {
			return m, nil
		}
		return map[string]any{}, nil
	}

	return tui.RunStats(fetch)
}

type statsError struct{ msg string }

func (e *statsError) Error() string { return e.msg }

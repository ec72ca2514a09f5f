package cmd

import (
	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/hostbridge/types"
)

// CacheCommand returns the cache command with its subcommands.
func CacheCommand() *cli.Command {
	return &cli.Command{
		Name:  "cache",
		Usage: "Inspect or clear the bridge asset cache",
		Subcommands: []*cli.Command{
			{
				Name:   "stats",
				Usage:  "Show cache file count and total bytes",
				Flags:  CommonFlags(),
				Action: cacheStatsAction,
			},
			{
				Name:   "clear",
				Usage:  "Remove every cached asset",
				Flags:  CommonFlags(),
				Action: cacheClearAction,
			},
		},
	}
}

func cacheStatsAction(c *cli.Context) error {
	resp, err := dispatch(c, types.Command{Type: "cache_stats"})
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}
	return printResponse(resp)
}

func cacheClearAction(c *cli.Context) error {
	resp, err := dispatch(c, types.Command{Type: "clear_cache"})
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}
	return printResponse(resp)
}

package cmd

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/hostbridge/types"
)

// ExecCommand returns the exec command: submit a code fragment for
// sandboxed execution on the host.
func ExecCommand() *cli.Command {
	return &cli.Command{
		Name:      "exec",
		Usage:     "Execute a code fragment on the host",
		ArgsUsage: "<code>",
		Flags: append(CommonFlags(),
			&cli.StringFlag{
				Name:    "file",
				Aliases: []string{"f"},
				Usage:   "Read the code fragment from a file instead of the argument",
			},
		),
		Action: execAction,
	}
}

func execAction(c *cli.Context) error {
	code := c.Args().Get(0)
	if path := c.String("file"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cli.Exit(fmt.Sprintf("read code file: %v", err), 1)
		}
		code = string(data)
	}
	if code == "" {
		return cli.Exit("usage: hostbridge exec <code> (or --file)", 1)
	}

	resp, err := dispatch(c, types.Command{
		Type:   "execute_code",
		Params: map[string]any{"code": code},
	})
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}
	return printResponse(resp)
}

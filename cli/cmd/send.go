package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/hostbridge/client"
	"github.com/pithecene-io/hostbridge/log"
	"github.com/pithecene-io/hostbridge/types"
)

// SendCommand returns the send command: one command, one response, exit.
func SendCommand() *cli.Command {
	return &cli.Command{
		Name:      "send",
		Usage:     "Send one command to a running bridge",
		ArgsUsage: "<command> [params-json]",
		Flags:     CommonFlags(),
		Action:    sendAction,
	}
}

func sendAction(c *cli.Context) error {
	if c.NArg() < 1 {
		return cli.Exit("usage: hostbridge send <command> [params-json]", 1)
	}

	cmd := types.Command{Type: c.Args().Get(0)}
	if raw := c.Args().Get(1); raw != "" {
		if err := json.Unmarshal([]byte(raw), &cmd.Params); err != nil {
			return cli.Exit(fmt.Sprintf("invalid params JSON: %v", err), 1)
		}
	}

	resp, err := dispatch(c, cmd)
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}
	return printResponse(resp)
}

// dispatch sends one command over a short-lived client connection.
func dispatch(c *cli.Context, cmd types.Command) (types.Response, error) {
	cfg, err := loadConfig(c)
	if err != nil {
		return types.Response{}, err
	}

	cl := client.New(cfg, log.New("cli"))
	defer cl.Close()
	return cl.Send(c.Context, cmd)
}

// printResponse writes the response as indented JSON, exiting non-zero on
// an error status so scripts can branch on $?.
func printResponse(resp types.Response) error {
	out, err := json.MarshalIndent(resp, "", "  ")
	if err != nil {
		return cli.Exit(fmt.Sprintf("encode response: %v", err), 1)
	}
	fmt.Fprintln(os.Stdout, string(out))

	if resp.IsError() {
		return cli.Exit("", 1)
	}
	return nil
}

// Package cmd provides CLI commands for the hostbridge binary.
package cmd

import (
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/hostbridge/config"
)

// Shared flags across commands.
var (
	// ConfigFlag points at a hostbridge.yaml file.
	ConfigFlag = &cli.StringFlag{
		Name:    "config",
		Aliases: []string{"c"},
		Usage:   "Path to hostbridge.yaml",
		EnvVars: []string{"HOSTBRIDGE_CONFIG"},
	}

	// HostFlag overrides the endpoint host.
	HostFlag = &cli.StringFlag{
		Name:  "host",
		Usage: "Bridge host (overrides config)",
	}

	// PortFlag overrides the endpoint port.
	PortFlag = &cli.IntFlag{
		Name:  "port",
		Usage: "Bridge port (overrides config)",
	}
)

// CommonFlags returns the flags shared by every command that needs an
// endpoint.
func CommonFlags() []cli.Flag {
	return []cli.Flag{
		ConfigFlag,
		HostFlag,
		PortFlag,
	}
}

// loadConfig resolves the effective configuration: file (if given), then
// environment, then CLI flag overrides.
func loadConfig(c *cli.Context) (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if path := c.String("config"); path != "" {
		cfg, err = config.Load(path)
	} else {
		cfg, err = config.FromDefaults()
	}
	if err != nil {
		return nil, fmt.Errorf("load configuration: %w", err)
	}

	if c.IsSet("host") {
		cfg.Host = c.String("host")
	}
	if c.IsSet("port") {
		cfg.Port = c.Int("port")
	}
	return cfg, nil
}

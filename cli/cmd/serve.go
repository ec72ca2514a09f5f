package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/hostbridge/adapter"
	adapternats "github.com/pithecene-io/hostbridge/adapter/nats"
	adapterredis "github.com/pithecene-io/hostbridge/adapter/redis"
	adapterwebhook "github.com/pithecene-io/hostbridge/adapter/webhook"
	"github.com/pithecene-io/hostbridge/bridge"
	"github.com/pithecene-io/hostbridge/config"
	"github.com/pithecene-io/hostbridge/log"
	"github.com/pithecene-io/hostbridge/server"
	sources3 "github.com/pithecene-io/hostbridge/source/s3"
)

// ServeCommand returns the serve command: the standalone bridge host.
func ServeCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run the bridge server with a standalone main loop",
		Flags: append(CommonFlags(),
			&cli.IntFlag{
				Name:  "queue-size",
				Usage: "Main-loop task queue bound",
				Value: server.DefaultQueueSize,
			},
		),
		Action: serveAction,
	}
}

func serveAction(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}

	logger := log.New("hostbridge")

	opts, err := bridgeOptions(c.Context, cfg)
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}

	br, err := bridge.New(cfg, logger, opts...)
	if err != nil {
		return cli.Exit(fmt.Sprintf("wire bridge: %v", err), 1)
	}

	registry := server.NewRegistry()
	if err := br.Register(registry); err != nil {
		return cli.Exit(fmt.Sprintf("register handlers: %v", err), 1)
	}

	loop := server.NewMainLoop(c.Int("queue-size"), logger.Named("mainloop"))
	srv := server.New(registry, loop, logger.Named("server"), br.Stats())

	ctx, cancel := context.WithCancel(c.Context)
	defer cancel()

	adapters, err := buildAdapters(cfg)
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}
	pump := adapter.NewPump(adapters, logger.Named("pump"))
	pump.Start(ctx, br.Tracker())
	defer pump.Stop()

	go loop.Run(ctx)
	go br.RunSweeper(ctx)

	if err := srv.Start(cfg.Addr()); err != nil {
		return cli.Exit(fmt.Sprintf("start server: %v", err), 1)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		logger.Info("shutting down", map[string]any{"signal": sig.String()})
	case <-ctx.Done():
	}

	loop.Close()
	if err := srv.Close(); err != nil {
		return cli.Exit(fmt.Sprintf("stop server: %v", err), 1)
	}
	return nil
}

// bridgeOptions wires the configured asset source backend.
func bridgeOptions(ctx context.Context, cfg *config.Config) ([]bridge.Option, error) {
	if cfg.Source.Backend != "s3" {
		return nil, nil
	}

	src, err := sources3.New(ctx, sources3.Config{
		Bucket:       cfg.Source.Bucket,
		Prefix:       cfg.Source.Prefix,
		Region:       cfg.Source.Region,
		Endpoint:     cfg.Source.Endpoint,
		UsePathStyle: cfg.Source.S3PathStyle,
	})
	if err != nil {
		return nil, fmt.Errorf("wire s3 source: %w", err)
	}
	return []bridge.Option{bridge.WithSource("s3", src)}, nil
}

// buildAdapters instantiates the configured event publishers.
func buildAdapters(cfg *config.Config) ([]adapter.Adapter, error) {
	var adapters []adapter.Adapter
	for _, ac := range cfg.Adapters {
		retries := -1
		if ac.Retries != nil {
			retries = *ac.Retries
		}

		var (
			a   adapter.Adapter
			err error
		)
		switch ac.Type {
		case "webhook":
			wcfg := adapterwebhook.Config{URL: ac.URL, Headers: ac.Headers, Timeout: ac.Timeout.Duration}
			if retries >= 0 {
				wcfg.Retries = retries
			} else {
				wcfg.Retries = adapterwebhook.DefaultRetries
			}
			a, err = adapterwebhook.New(wcfg)
		case "redis":
			rcfg := adapterredis.Config{URL: ac.URL, Channel: ac.Channel, Timeout: ac.Timeout.Duration}
			if retries >= 0 {
				rcfg.Retries = retries
			} else {
				rcfg.Retries = adapterredis.DefaultRetries
			}
			a, err = adapterredis.New(rcfg)
		case "nats":
			ncfg := adapternats.Config{URL: ac.URL, Subject: ac.Channel}
			if retries >= 0 {
				ncfg.Retries = retries
			} else {
				ncfg.Retries = adapternats.DefaultRetries
			}
			a, err = adapternats.New(ncfg)
		default:
			return nil, fmt.Errorf("unknown adapter type %q", ac.Type)
		}
		if err != nil {
			return nil, fmt.Errorf("wire %s adapter: %w", ac.Type, err)
		}
		adapters = append(adapters, a)
	}
	return adapters, nil
}

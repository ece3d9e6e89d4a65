package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/guregu/null.v3"

	"devtoolsbridge/internal/bridge"
	"devtoolsbridge/internal/cdp"
	"devtoolsbridge/internal/launcher"
)

type serveCommand struct {
	cmd  *cobra.Command
	root *rootCommand

	host    string
	port    int
	timeout time.Duration

	launch     bool
	headless   bool
	execPath   string
	extraArgs  []string
	autoEnable bool
	connectNow bool
}

// newServeCommand builds the serve subcommand: read operations from
// stdin, write envelopes to stdout, until stdin closes.
func newServeCommand(root *rootCommand) *serveCommand {
	c := &serveCommand{root: root}

	c.cmd = &cobra.Command{
		Use:   "serve",
		Short: "Serve bridge operations over stdin/stdout",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.run(cmd)
		},
	}
	flags := c.cmd.Flags()
	flags.StringVar(&c.host, "host", "", "debug endpoint host (default localhost, or CDP_BRIDGE_DEBUG_HOST)")
	flags.IntVar(&c.port, "port", 0, "debug endpoint port (default 9222, or CDP_BRIDGE_DEBUG_PORT)")
	flags.DurationVar(&c.timeout, "timeout", 0, "per-command timeout (default 30s)")
	flags.BoolVar(&c.launch, "launch", false, "launch a local browser instead of attaching to a running one")
	flags.BoolVar(&c.headless, "headless", true, "run the launched browser headless")
	flags.StringVar(&c.execPath, "browser-path", "", "browser executable (default: discover a Chromium-family install)")
	flags.StringArrayVar(&c.extraArgs, "browser-arg", nil, "extra browser command line argument, repeatable")
	flags.BoolVar(&c.connectNow, "connect", false, "connect to the endpoint before serving")
	flags.BoolVar(&c.autoEnable, "enable-domains", false, "enable all protocol domains after connecting (implies --connect)")

	return c
}

func (c *serveCommand) run(cmd *cobra.Command) error {
	ctx := cmd.Context()
	logger := c.root.logger

	opts, err := cdp.NewOptions()
	if err != nil {
		return err
	}
	if c.host != "" {
		opts.Host = null.StringFrom(c.host)
	}
	if c.port > 0 {
		opts.Port = null.IntFrom(int64(c.port))
	}
	if c.timeout > 0 {
		opts.Timeout = null.StringFrom(c.timeout.String())
	}

	if c.launch {
		proc, lerr := launcher.New(logger).Launch(ctx, launcher.Options{
			ExecutablePath: c.execPath,
			Port:           int(opts.Port.Int64),
			Headless:       c.headless,
			Args:           c.extraArgs,
		})
		if lerr != nil {
			return fmt.Errorf("launching browser: %w", lerr)
		}
		defer proc.Stop()
		opts.Port = null.IntFrom(int64(proc.Port()))

		readyCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
		if err := launcher.WaitReady(readyCtx, "localhost", proc.Port()); err != nil {
			return err
		}
	}

	client := cdp.NewClient(opts, logger)
	if c.connectNow || c.autoEnable {
		if env := client.Connect(ctx); !env.Success {
			return fmt.Errorf("connecting to %s: %s", client.Endpoint(), env.Error)
		}
		defer client.Disconnect()
	}
	if c.autoEnable {
		if env := client.EnableDomains(ctx); !env.Success {
			return fmt.Errorf("enabling domains: %s", env.Error)
		}
	}

	logger.Infof("cmd", "serving bridge operations for %s", client.Endpoint())
	return bridge.New(client, logger).Serve(ctx, cmd.InOrStdin(), cmd.OutOrStdout())
}

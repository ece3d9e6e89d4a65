// Package cmd wires the command line surface of the bridge.
package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"devtoolsbridge/internal/log"
)

type rootCommand struct {
	cmd    *cobra.Command
	logger *log.Logger

	logLevel    string
	logCategory string
	logOutput   string

	stopLogger func()
	loggerDone chan struct{}
}

func newRootCommand() *rootCommand {
	c := &rootCommand{
		logger: newLogger(),
	}

	c.cmd = &cobra.Command{
		Use:           "devtoolsbridge",
		Short:         "Bridge between tool-calling agents and a browser debug endpoint",
		Long:          "devtoolsbridge connects to a Chromium remote debugging endpoint and exposes\nnavigation, script evaluation, DOM/CSS inspection, and network/console/storage\ncapture as named operations over line-delimited JSON.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := c.logger.SetLevel(c.logLevel); err != nil {
				return err
			}
			if err := c.logger.SetCategoryFilter(c.logCategory); err != nil {
				return err
			}
			return c.setupLogOutput()
		},
	}
	flags := c.cmd.PersistentFlags()
	flags.StringVar(&c.logLevel, "log-level", "info", "log level (trace, debug, info, warn, error)")
	flags.StringVar(&c.logCategory, "log-category", "", "regexp restricting which log categories are emitted")
	flags.StringVar(&c.logOutput, "log-output", "stderr", `log destination: "stderr", "none" or "file=path[,level=warn]"`)

	c.cmd.AddCommand(newServeCommand(c).cmd)
	c.cmd.AddCommand(newVersionCommand())

	return c
}

func (c *rootCommand) setupLogOutput() error {
	switch {
	case c.logOutput == "stderr":
		return nil
	case c.logOutput == "none":
		c.logger.Log.SetOutput(io.Discard)
		return nil
	case strings.HasPrefix(c.logOutput, "file"):
		hook, err := log.FileHookFromConfigLine(afero.NewOsFs(), os.Getwd, c.logger.Log, c.logOutput)
		if err != nil {
			return err
		}
		c.logger.Log.AddHook(hook)
		c.logger.Log.SetOutput(io.Discard)

		// The hook queues lines on a channel, so flush them on a
		// goroutine that outlives the command itself.
		listenCtx, cancel := context.WithCancel(context.Background())
		c.stopLogger = cancel
		c.loggerDone = make(chan struct{})
		go func() {
			defer close(c.loggerDone)
			hook.Listen(listenCtx)
		}()
		return nil
	default:
		// stdout carries the reply stream, so it is not offered here.
		return fmt.Errorf(`unsupported log output "%s"`, c.logOutput)
	}
}

func newLogger() *log.Logger {
	l := logrus.New()
	l.SetOutput(os.Stderr)
	return log.New(l, nil)
}

// Execute runs the root command and returns the process exit code.
func Execute(ctx context.Context) int {
	root := newRootCommand()
	err := root.cmd.ExecuteContext(ctx)
	if root.stopLogger != nil {
		root.stopLogger()
		<-root.loggerDone
	}
	if err != nil {
		root.logger.Errorf("cmd", "%v", err)
		return 1
	}
	return 0
}

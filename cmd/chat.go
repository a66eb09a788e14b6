package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/osahq/osa/internal/channels/cli"
	"github.com/osahq/osa/internal/config"
)

func chatCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive terminal session with the agent",
		RunE: func(cmd *cobra.Command, args []string) error {
			setupLogging()
			cfg, err := config.Load(resolveConfigPath())
			if err != nil {
				return err
			}
			return runChat(cfg)
		},
	}
}

func runChat(cfg *config.Config) error {
	rt, err := buildRuntime(cfg, false)
	if err != nil {
		return err
	}
	defer rt.close()

	repl := cli.New(rt.loop, rt.sessions, rt.assembler, rt.compactor, cfg)
	repl.Interactive = true

	// Ctrl+C cancels the in-flight run instead of killing the REPL; a
	// second interrupt (while idle) exits via the terminal as usual.
	ctx, stop := context.WithCancel(context.Background())
	defer stop()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT)
	defer signal.Stop(sigCh)
	go func() {
		for range sigCh {
			rt.loop.Cancel(repl.SessionID())
		}
	}()

	return repl.Run(ctx)
}

package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/osahq/osa/internal/config"
	"github.com/osahq/osa/internal/providers"
	"github.com/osahq/osa/internal/signal"
)

func classifyCmd() *cobra.Command {
	var channel string
	var noLLM bool

	cmd := &cobra.Command{
		Use:   "classify [message]",
		Short: "Classify a message and print its signal as JSON",
		Args:  cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			setupLogging()
			cfg, err := config.Load(resolveConfigPath())
			if err != nil {
				return err
			}

			text := strings.Join(args, " ")
			if strings.TrimSpace(text) == "" {
				data, err := io.ReadAll(cmd.InOrStdin())
				if err != nil || strings.TrimSpace(string(data)) == "" {
					return fmt.Errorf("no message given: pass it as arguments or on stdin")
				}
				text = string(data)
			}

			var llm signal.LLM
			if !noLLM {
				llm = providers.FromConfig(cfg)
			}
			classifier := signal.NewClassifier(llm, cfg.Classify)
			sig := classifier.Classify(context.Background(), text, channel)

			out, err := json.MarshalIndent(sig, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(out))
			return nil
		},
	}

	cmd.Flags().StringVar(&channel, "channel", "cli", "channel name used for format inference")
	cmd.Flags().BoolVar(&noLLM, "no-llm", false, "heuristic classification only, no provider call")
	return cmd
}

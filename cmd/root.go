// Package cmd holds the osa CLI: serve, chat, classify, cron, doctor,
// and migrate subcommands over a shared runtime wiring.
package cmd

import (
	"fmt"
	"log/slog"
	"os"
	goruntime "runtime"

	"github.com/spf13/cobra"
)

// Version is set at build time via -ldflags "-X github.com/osahq/osa/cmd.Version=v1.0.0".
var Version = "dev"

var (
	cfgFile string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "osa",
	Short: "osa — local-first conversational agent runtime",
	Long: "osa runs a conversational agent on your machine: signal-aware context assembly,\n" +
		"a tool-using reasoning loop, multi-agent orchestration, and HTTP/chat surfaces.",
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ~/.osa/config.json or $OSA_CONFIG)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(chatCmd())
	rootCmd.AddCommand(classifyCmd())
	rootCmd.AddCommand(cronCmd())
	rootCmd.AddCommand(doctorCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(versionCmd())
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("osa %s (%s)\n", Version, goruntime.Version())
		},
	}
}

func resolveConfigPath() string {
	if cfgFile != "" {
		return cfgFile
	}
	if v := os.Getenv("OSA_CONFIG"); v != "" {
		return v
	}
	return "~/.osa/config.json"
}

func setupLogging() {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})))
}

// Execute runs the root cobra command. It exits 1 on any command error.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

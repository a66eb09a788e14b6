package cmd

import (
	"database/sql"
	"fmt"
	"os"
	goruntime "runtime"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/spf13/cobra"

	"github.com/osahq/osa/internal/config"
	"github.com/osahq/osa/internal/upgrade"
)

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check environment and configuration health",
		Run: func(cmd *cobra.Command, args []string) {
			runDoctor()
		},
	}
}

func runDoctor() {
	fmt.Println("osa doctor")
	fmt.Printf("  Version:  %s\n", Version)
	fmt.Printf("  OS:       %s/%s\n", goruntime.GOOS, goruntime.GOARCH)
	fmt.Printf("  Go:       %s\n", goruntime.Version())
	fmt.Println()

	cfgPath := config.ExpandHome(resolveConfigPath())
	fmt.Printf("  Config:   %s", cfgPath)
	if _, err := os.Stat(cfgPath); err != nil {
		fmt.Println(" (NOT FOUND, using defaults)")
	} else {
		fmt.Println(" (OK)")
	}

	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		fmt.Printf("  Config load error: %s\n", err)
		return
	}

	fmt.Println()
	fmt.Println("  State:")
	checkDir("State dir", config.ExpandHome(cfg.Storage.StateDir))
	checkDir("Workspace", cfg.WorkspacePath())
	checkDir("Skills", cfg.Storage.SkillsDir)

	fmt.Println()
	fmt.Println("  Providers:")
	checkProvider("Anthropic", cfg.Providers.Anthropic.APIKey)
	checkProvider("OpenAI", cfg.Providers.OpenAI.APIKey)
	checkProvider("OpenRouter", cfg.Providers.OpenRouter.APIKey)
	fmt.Printf("    %-12s %s\n", "Default:", cfg.Providers.Default)

	fmt.Println()
	fmt.Println("  Channels:")
	checkChannel("Telegram", cfg.Channels.Telegram.Enabled, cfg.Channels.Telegram.Token != "")
	checkChannel("Discord", cfg.Channels.Discord.Enabled, cfg.Channels.Discord.Token != "")

	fmt.Println()
	fmt.Println("  Database:")
	mode := cfg.Database.Mode
	if mode == "" {
		mode = "file"
	}
	fmt.Printf("    %-12s %s\n", "Mode:", mode)
	if mode == "postgres" {
		checkPostgres(cfg.Database.PostgresDSN)
	}

	fmt.Println()
	fmt.Println("  Cron:")
	if cfg.Cron.Enabled {
		fmt.Printf("    %-12s enabled (%s)\n", "Jobs:", cfg.Cron.DBPath)
	} else {
		fmt.Printf("    %-12s disabled\n", "Jobs:")
	}

	if cfg.Telemetry.Enabled {
		fmt.Println()
		fmt.Printf("  Telemetry: %s (%s)\n", cfg.Telemetry.Endpoint, cfg.Telemetry.Protocol)
	}
}

func checkDir(label, path string) {
	fmt.Printf("    %-12s %s", label+":", path)
	info, err := os.Stat(path)
	switch {
	case err != nil:
		fmt.Println(" (missing, created on first run)")
	case !info.IsDir():
		fmt.Println(" (NOT A DIRECTORY)")
	default:
		fmt.Println(" (OK)")
	}
}

func checkProvider(name, key string) {
	if key != "" {
		fmt.Printf("    %-12s configured\n", name+":")
	} else {
		fmt.Printf("    %-12s no API key\n", name+":")
	}
}

func checkChannel(name string, enabled, hasToken bool) {
	switch {
	case enabled && hasToken:
		fmt.Printf("    %-12s enabled\n", name+":")
	case enabled:
		fmt.Printf("    %-12s enabled but MISSING TOKEN\n", name+":")
	default:
		fmt.Printf("    %-12s disabled\n", name+":")
	}
}

func checkPostgres(dsn string) {
	if dsn == "" {
		fmt.Printf("    %-12s OSA_POSTGRES_DSN not set\n", "Status:")
		return
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		fmt.Printf("    %-12s CONNECT FAILED (%s)\n", "Status:", err)
		return
	}
	defer db.Close()
	if err := db.Ping(); err != nil {
		fmt.Printf("    %-12s CONNECT FAILED (%s)\n", "Status:", err)
		return
	}
	fmt.Printf("    %-12s reachable\n", "Status:")

	status, err := upgrade.CheckSchema(db)
	if err != nil {
		fmt.Printf("    %-12s check failed (%s)\n", "Schema:", err)
		return
	}
	if status.Compatible {
		fmt.Printf("    %-12s v%d (OK)\n", "Schema:", status.CurrentVersion)
	} else {
		fmt.Printf("    %-12s %s\n", "Schema:", upgrade.Describe(status))
	}
}

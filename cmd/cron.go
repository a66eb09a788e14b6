package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/osahq/osa/internal/config"
	"github.com/osahq/osa/internal/cron"
)

func cronCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cron",
		Short: "Manage scheduled jobs",
	}
	cmd.AddCommand(cronListCmd())
	cmd.AddCommand(cronAddCmd())
	cmd.AddCommand(cronRemoveCmd())
	cmd.AddCommand(cronEnableCmd(true))
	cmd.AddCommand(cronEnableCmd(false))
	return cmd
}

func openCronStore() (*cron.Store, error) {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		return nil, err
	}
	return cron.OpenStore(cfg.Cron.DBPath)
}

func cronListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List scheduled jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openCronStore()
			if err != nil {
				return err
			}
			defer st.Close()

			jobs, err := st.List()
			if err != nil {
				return err
			}
			if len(jobs) == 0 {
				fmt.Println("no scheduled jobs")
				return nil
			}
			for _, job := range jobs {
				state := "enabled"
				if !job.Enabled {
					state = "disabled"
				}
				lastRun := "never"
				if !job.LastRun.IsZero() {
					lastRun = job.LastRun.Format("2006-01-02 15:04")
				}
				fmt.Printf("%s  %-20s %-16s %-8s last run: %s\n",
					job.ID, job.Name, job.Expr, state, lastRun)
				if job.LastError != "" {
					fmt.Printf("  last error: %s\n", job.LastError)
				}
			}
			return nil
		},
	}
}

func cronAddCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "add <name> <expression> <message>",
		Short: "Add a scheduled job (five-field cron expression)",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openCronStore()
			if err != nil {
				return err
			}
			defer st.Close()

			sched := cron.NewScheduler(st, nil, nil)
			id, err := sched.AddJob(args[0], args[1], args[2])
			if err != nil {
				return err
			}
			fmt.Println("added job", id)
			return nil
		},
	}
}

func cronRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <id>",
		Short: "Remove a scheduled job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openCronStore()
			if err != nil {
				return err
			}
			defer st.Close()
			return st.Remove(args[0])
		},
	}
}

func cronEnableCmd(enable bool) *cobra.Command {
	use, short := "enable <id>", "Enable a scheduled job"
	if !enable {
		use, short = "disable <id>", "Disable a scheduled job"
	}
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openCronStore()
			if err != nil {
				return err
			}
			defer st.Close()
			return st.SetEnabled(args[0], enable)
		},
	}
}

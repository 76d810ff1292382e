package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/loykin/jobsup"
	"github.com/spf13/cobra"
)

const baseDirEnvVar = "JOBSUP_BASE_DIR"

func main() {
	if err := buildRoot().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "jobsup:", err)
		os.Exit(1)
	}
}

func buildRoot() *cobra.Command {
	global := &GlobalFlags{}

	root := &cobra.Command{
		Use:          "jobsup",
		Short:        "Run and supervise local jobs",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&global.BaseDir, "base", "", "base directory for job state, logs, and the job database")
	root.PersistentFlags().StringVar(&global.ConfigPath, "config", "", "path to a jobsup config file")

	root.AddCommand(
		createRunCommand(global),
		createStopCommand(global),
		createStatusCommand(global),
		createListCommand(global),
		createLogsCommand(global),
	)
	return root
}

// openSupervisor loads config, applying the --base flag on top of any
// config file or environment value, and opens a Supervisor against it.
// Callers are responsible for calling Shutdown.
func openSupervisor(global *GlobalFlags) (*jobsup.Supervisor, error) {
	if global.BaseDir != "" {
		if err := os.Setenv(baseDirEnvVar, global.BaseDir); err != nil {
			return nil, err
		}
	}
	cfg, err := jobsup.LoadConfig(global.ConfigPath)
	if err != nil {
		return nil, err
	}
	return jobsup.New(cfg)
}

func createRunCommand(global *GlobalFlags) *cobra.Command {
	f := &RunFlags{}
	cmd := &cobra.Command{
		Use:   "run --id <job_id> -- <command>",
		Short: "Start a command as a supervised job",
		RunE: func(cc *cobra.Command, args []string) error {
			f.Command = strings.Join(args, " ")
			sup, err := openSupervisor(global)
			if err != nil {
				return err
			}
			defer func() { _ = sup.Shutdown() }()
			return command{sup: sup}.Run(*f)
		},
	}
	cmd.Flags().StringVar(&f.JobID, "id", "", "job id to run or relaunch")
	cmd.Flags().StringVar(&f.Cwd, "cwd", "", "working directory for the job")
	return cmd
}

func createStopCommand(global *GlobalFlags) *cobra.Command {
	f := &StopFlags{}
	cmd := &cobra.Command{
		Use:   "stop <job_id>",
		Short: "Stop a running job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cc *cobra.Command, args []string) error {
			f.JobID = args[0]
			sup, err := openSupervisor(global)
			if err != nil {
				return err
			}
			defer func() { _ = sup.Shutdown() }()
			return command{sup: sup}.Stop(*f)
		},
	}
	return cmd
}

func createStatusCommand(global *GlobalFlags) *cobra.Command {
	f := &StatusFlags{}
	cmd := &cobra.Command{
		Use:   "status <job_id>",
		Short: "Show a job's current status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cc *cobra.Command, args []string) error {
			f.JobID = args[0]
			sup, err := openSupervisor(global)
			if err != nil {
				return err
			}
			defer func() { _ = sup.Shutdown() }()
			return command{sup: sup}.Status(*f)
		},
	}
	return cmd
}

func createListCommand(global *GlobalFlags) *cobra.Command {
	f := &ListFlags{}
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List known jobs",
		RunE: func(cc *cobra.Command, args []string) error {
			sup, err := openSupervisor(global)
			if err != nil {
				return err
			}
			defer func() { _ = sup.Shutdown() }()
			return command{sup: sup}.List(*f)
		},
	}
	cmd.Flags().StringVar(&f.Status, "status", "", "filter by status (starting, running, finished, failed, failed_start, stopped)")
	return cmd
}

func createLogsCommand(global *GlobalFlags) *cobra.Command {
	f := &LogsFlags{}
	cmd := &cobra.Command{
		Use:   "logs <job_id>",
		Short: "Print a job's captured output",
		Args:  cobra.ExactArgs(1),
		RunE: func(cc *cobra.Command, args []string) error {
			f.JobID = args[0]
			sup, err := openSupervisor(global)
			if err != nil {
				return err
			}
			defer func() { _ = sup.Shutdown() }()
			return command{sup: sup}.Logs(*f)
		},
	}
	cmd.Flags().BoolVar(&f.Stderr, "stderr", false, "print stderr instead of stdout")
	return cmd
}

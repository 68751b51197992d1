package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"research-assistant/internal/archive"
	"research-assistant/internal/config"
	"research-assistant/internal/crew"
	"research-assistant/internal/jobs"
	"research-assistant/internal/logging"
	"research-assistant/internal/models"
	"research-assistant/internal/ratelimit"
	"research-assistant/internal/registry"
)

func newRunCmd() *cobra.Command {
	var outputDir string

	cmd := &cobra.Command{
		Use:   "run <topic>",
		Short: "Research a topic in the terminal and print the report",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			topic := strings.TrimSpace(strings.Join(args, " "))
			if topic == "" {
				return errors.New("topic is required")
			}
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if outputDir != "" {
				cfg.ReportOutputDir = outputDir
			}
			log := logging.New(cfg.LogLevel, cfg.LogFormat, cmd.ErrOrStderr())

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			tpm := ratelimit.NewWindow(cfg.ModelLimits, cfg.DefaultTPMLimit)
			factory := crew.NewFactory(cfg, crew.ModelClient(cfg, tpm))

			opts := []jobs.Option{jobs.WithLogger(log), jobs.WithEcho(cmd.OutOrStdout())}
			sink, err := archive.New(ctx, cfg)
			if err != nil {
				return err
			}
			if sink != nil {
				opts = append(opts, jobs.WithArchive(sink))
			}

			reg := registry.New()
			runner := jobs.New(ctx, reg, factory, opts...)
			job, err := runner.Submit(topic)
			if err != nil {
				return err
			}
			runner.Wait()
			return printOutcome(cmd, reg, job.ID)
		},
	}
	cmd.Flags().StringVarP(&outputDir, "output", "o", "", "directory to save the report in (overrides REPORT_OUTPUT_DIR)")
	return cmd
}

func printOutcome(cmd *cobra.Command, reg *registry.Registry, id string) error {
	job, err := reg.Get(id)
	if err != nil {
		return err
	}
	var result string
	if job.Result != nil {
		result = *job.Result
	}
	if job.Status != models.StatusCompleted {
		return fmt.Errorf("research failed: %s", result)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "\n%s\n", result)
	return nil
}

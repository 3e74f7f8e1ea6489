package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/liftci/liftci/internal/launch"
)

var launchFlags struct {
	script     string
	headerPath string
	trailerPath string
	name       string
	region     string
	size       string
	image      string
	envVars    string
	debug      bool
	dumpScript bool
}

var launchCmd = &cobra.Command{
	Use:   "launch",
	Short: "Create a one-shot CI instance with a templated startup payload",
	Long: `launch assembles header + workload + trailer into a startup payload,
substitutes __KEY__ secrets and run configuration into it, and creates a
cloud instance that executes the payload on boot. The payload's trailer
hands control to "liftci run", so the instance destroys itself when the
workload finishes.

With --dump-script the assembled payload is written to stderr and no
instance is created.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := loadConfig()
		if err != nil {
			return err
		}

		workload, err := os.ReadFile(launchFlags.script)
		if err != nil {
			return fmt.Errorf("reading workload script: %w", err)
		}

		header := launch.DefaultHeader
		if launchFlags.headerPath != "" {
			b, err := os.ReadFile(launchFlags.headerPath)
			if err != nil {
				return fmt.Errorf("reading header script: %w", err)
			}
			header = string(b)
		}

		trailer := launch.DefaultTrailer
		if launchFlags.trailerPath != "" {
			b, err := os.ReadFile(launchFlags.trailerPath)
			if err != nil {
				return fmt.Errorf("reading trailer script: %w", err)
			}
			trailer = string(b)
		}

		name := launchFlags.name
		if name == "" {
			name = cfg.Run.Name
		}
		if name == "" {
			name = launch.DefaultRunName(time.Now())
		}

		extra := launch.ParseExtraVars(launchFlags.envVars)
		if _, ok := extra["DEBUG"]; !ok {
			extra["DEBUG"] = "no"
			if launchFlags.debug || cfg.Run.Debug {
				extra["DEBUG"] = "yes"
			}
		}

		req := launch.Request{
			Name:     name,
			Region:   launchFlags.region,
			Size:     launchFlags.size,
			Image:    launchFlags.image,
			Header:   header,
			Workload: string(workload),
			Trailer:  trailer,
			Vars: launch.StandardVars(
				cfg.Cloud.DigitalOcean.Token,
				cfg.Spaces.AccessKey,
				cfg.Spaces.SecretKey,
				cfg.Run.SlackWebhook,
				os.Getenv("BINJA_DECODE_KEY"),
				name,
				extra,
			),
		}
		if req.Region == "" {
			req.Region = cfg.Cloud.DigitalOcean.Region
		}
		if req.Size == "" {
			req.Size = cfg.Cloud.DigitalOcean.Size
		}
		if req.Image == "" {
			req.Image = cfg.Cloud.DigitalOcean.Image
		}

		ctx := cmd.Context()

		if launchFlags.dumpScript {
			l := launch.New(nil, logger)
			return l.DumpPayload(req, os.Stderr)
		}

		if err := cfg.ValidateCloud(); err != nil {
			return err
		}
		if cfg.Run.SlackWebhook == "" {
			return fmt.Errorf("no Slack webhook: set run.slack_webhook or the SLACK_HOOK env var")
		}

		instances, err := cfg.NewInstances(ctx, logger)
		if err != nil {
			return fmt.Errorf("initializing cloud backend: %w", err)
		}

		l := launch.New(instances, logger)
		if _, err := l.Launch(ctx, req); err != nil {
			return err
		}
		return nil
	},
}

func init() {
	f := launchCmd.Flags()
	f.StringVar(&launchFlags.script, "script", "", "Workload script to run on instance start (required)")
	f.StringVar(&launchFlags.headerPath, "header", "", "Override the built-in payload header script")
	f.StringVar(&launchFlags.trailerPath, "trailer", "", "Override the built-in payload trailer script")
	f.StringVar(&launchFlags.name, "name", "", "Name to identify this run (NOT the provider hostname)")
	f.StringVar(&launchFlags.region, "region", "", "Region where to create the instance")
	f.StringVar(&launchFlags.size, "size", "", "Instance size to create")
	f.StringVar(&launchFlags.image, "image", "", "OS image to run on the instance")
	f.StringVar(&launchFlags.envVars, "env-vars", "", "Extra substitutions as k=v,k2=v2; replaces __k__ in the payload")
	f.BoolVar(&launchFlags.debug, "debug", false, "Launch the instance in debug mode (preserved after the run)")
	f.BoolVar(&launchFlags.dumpScript, "dump-script", false, "Do not create an instance; dump the payload on stderr")
	_ = launchCmd.MarkFlagRequired("script")
}

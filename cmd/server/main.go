package main

import (
	"log"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/JongoDB/ems-cop-sub001/internal/config"
	"github.com/JongoDB/ems-cop-sub001/internal/logger"
)

type cli struct {
	v      *viper.Viper
	cfg    *config.Config
	logger *zap.Logger
}

func (c *cli) setupConfig(cmd *cobra.Command, _ []string) error {
	configFile, err := cmd.Flags().GetString("config")
	if err != nil {
		return err
	}
	if c.cfg, err = config.Load(c.v, configFile); err != nil {
		return err
	}
	c.logger, err = logger.Init(c.cfg.Log.Level, c.cfg.Log.Format)
	return err
}

func newRootCommand() *cobra.Command {
	return (&cli{v: viper.New()}).command()
}

func (c *cli) command() *cobra.Command {
	root := &cobra.Command{
		Use:               "ems-workflow",
		Short:             "Workflow orchestration engine for EMS tickets",
		SilenceUsage:      true,
		PersistentPreRunE: c.setupConfig,
		RunE:              c.serve,
	}
	root.PersistentFlags().String("config", "", "path to config file (default ./config.yaml if present)")
	root.PersistentFlags().Int("port", 0, "http port, overrides server.port")
	if err := c.v.BindPFlag("server.port", root.PersistentFlags().Lookup("port")); err != nil {
		log.Fatal(err)
	}

	root.AddCommand(
		&cobra.Command{
			Use:   "serve",
			Short: "Run the HTTP API and the escalation scheduler",
			RunE:  c.serve,
		},
		&cobra.Command{
			Use:   "migrate",
			Short: "Create the workflow tables if they do not exist",
			RunE:  c.migrate,
		},
	)
	return root
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		log.Fatal(err)
	}
}

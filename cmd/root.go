package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"html2epub/config"
)

var (
	configPath string
	debugLog   bool

	conf   *config.Config
	logger = zap.NewNop()
)

var RootCmd = &cobra.Command{
	Use:           "html2epub",
	Short:         "Build epub books from html pages",
	Long:          "Build epub books from web pages, local html files or raw html",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		conf, err = config.Load(configPath)
		if err != nil {
			return fmt.Errorf("failed to load config: %v", err)
		}
		if debugLog {
			conf.Logging.ConsoleLogger.Level = "debug"
		}
		logger, err = conf.Logging.Prepare()
		if err != nil {
			return fmt.Errorf("failed to prepare logger: %v", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = logger.Sync()
	},
}

func init() {
	RootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (default ./html2epub.yaml)")
	RootCmd.PersistentFlags().BoolVar(&debugLog, "debug", false, "debug logging on console")
}

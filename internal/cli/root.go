// Package cli implements the rapidmedia command line.
package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"rapidmedia/config"
	"rapidmedia/internal/logging"
)

// Version is set at build time with -ldflags "-X rapidmedia/internal/cli.Version=...".
var Version = "dev"

type options struct {
	cfgFile  string
	logLevel string
}

// NewRootCmd builds the command tree.
func NewRootCmd() *cobra.Command {
	opts := &options{}

	rootCmd := &cobra.Command{
		Use:           "rapidmedia",
		Short:         "On-demand HLS transcoding server",
		Long:          "rapidmedia transcodes media files on request with an external transcoder and segmenter and serves the resulting HLS playlists.",
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       Version,
	}

	rootCmd.PersistentFlags().StringVar(&opts.cfgFile, "config", "", "config file (default ./rapidmedia.yaml if present)")
	rootCmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "log level (debug, info, warn, error), overrides LOG_LEVEL")

	rootCmd.AddCommand(newServeCmd(opts))
	rootCmd.AddCommand(newProbeCmd(opts))
	rootCmd.AddCommand(newVersionCmd())

	return rootCmd
}

// load reads the configuration and configures logging from it.
func (o *options) load() (*config.Config, error) {
	cfg, err := config.Load(o.cfgFile)
	if err != nil {
		return nil, err
	}
	if o.logLevel != "" {
		cfg.LogLevel = o.logLevel
	}
	logging.Configure(logging.Config{Level: cfg.LogLevel, Pretty: cfg.LogPretty})
	return cfg, nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "rapidmedia "+Version)
		},
	}
}

package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"emperror.dev/errors"
	"github.com/NYTimes/logrotate"
	"github.com/apex/log"
	"github.com/apex/log/handlers/multi"
	"github.com/spf13/cobra"

	"github.com/hypi-universe/rapid-fs/config"
	"github.com/hypi-universe/rapid-fs/internal/vfs"
	"github.com/hypi-universe/rapid-fs/loggers/cli"
)

// Version is set at build time through ldflags.
var Version = "develop"

var (
	configPath = config.DefaultLocation
	debug      = false
)

var root = &cobra.Command{
	Use:   "rapid-fs",
	Short: "Multi-tenant confined storage engine",
	Long: "rapid-fs confines every client-supplied path to its tenant's storage\n" +
		"root, resolving symlinks and rejecting any traversal outside of it.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return initialize()
	},
	Run: func(cmd *cobra.Command, args []string) {
		_ = cmd.Help()
	},
}

func init() {
	root.PersistentFlags().StringVar(&configPath, "config", config.DefaultLocation, "set the location for the configuration file")
	root.PersistentFlags().BoolVar(&debug, "debug", false, "pass in order to run in debug mode")

	root.AddCommand(versionCmd)
	root.AddCommand(checkCmd)
}

// Execute calls cobra to handle cli commands.
func Execute() error {
	return root.Execute()
}

// initialize loads the configuration and wires up the global logger before
// any subcommand runs.
func initialize() error {
	if configPath != config.DefaultLocation || fileExists(configPath) {
		if err := config.FromFile(configPath); err != nil {
			return err
		}
	} else {
		c, err := config.NewAtPath(configPath)
		if err != nil {
			return err
		}
		config.Set(c)
	}

	if debug {
		config.Update(func(c *config.Configuration) {
			c.Debug = true
		})
	}
	cfg := config.Get()

	if err := vfs.SetOpenat2Mode(cfg.System.OpenatMode); err != nil {
		return err
	}

	return configureLogging(cfg.System.LogDirectory, cfg.Debug)
}

// configureLogging sets up the global logger so that it can be called from
// any location in the code without having to pass around a logger instance.
func configureLogging(logDir string, debug bool) error {
	if err := os.MkdirAll(logDir, 0o700); err != nil {
		return errors.Wrap(err, "cmd: failed to create log directory")
	}

	p := filepath.Join(logDir, "rapid-fs.log")
	w, err := logrotate.NewFile(p)
	if err != nil {
		return errors.Wrap(err, "cmd: failed to open process log file")
	}

	if debug {
		log.SetLevel(log.DebugLevel)
	} else {
		log.SetLevel(log.InfoLevel)
	}

	log.SetHandler(multi.New(
		cli.Default,
		cli.New(w.File, false),
	))

	log.WithField("path", p).Info("writing log files to disk")

	return nil
}

func fileExists(p string) bool {
	_, err := os.Stat(p)
	return err == nil
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version and exit",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("rapid-fs %s\n", Version)
	},
}

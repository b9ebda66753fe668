// Command gatewayd is the gateway's composition-root binary, grounded
// on the teacher's cmd package: a cobra Root command that
// subcommands register themselves into via init(), the way cmd/rcd
// and cmd/about do.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	_ "github.com/arkstor/gatewayfs/driver/all"
	"github.com/arkstor/gatewayfs/internal/applog"
	"github.com/arkstor/gatewayfs/internal/config"
)

// Version is stamped at build time via -ldflags, mirroring the
// teacher's fs.Version pattern.
var Version = "dev"

var configPath string

// Root is the top-level command; subcommands in this package's other
// files register themselves into it from their own init().
var Root = &cobra.Command{
	Use:   "gatewayd",
	Short: "Unified storage gateway: aggregate many backends under one virtual tree.",
	Long: `
gatewayd serves a single virtual filesystem tree backed by any number of
mounted storage drivers (local disk, S3, SFTP, WebDAV, cloud drives, ...).
Use the "mount" subcommand group to manage mount records and "serve" to run
the gateway process.
`,
	Version: Version,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		applog.SetJSON(cfg.LogJSON)
		applog.SetLevel(levelFromString(cfg.LogLevel))
		loadedConfig = cfg
		return nil
	},
}

// loadedConfig is populated by Root's PersistentPreRunE before any
// subcommand's RunE executes.
var loadedConfig config.Config

func levelFromString(s string) applog.Level {
	switch s {
	case "debug":
		return applog.LevelDebug
	case "info":
		return applog.LevelInfo
	case "error":
		return applog.LevelError
	default:
		return applog.LevelNotice
	}
}

func init() {
	Root.PersistentFlags().StringVar(&configPath, "config", "", "path to a YAML config file")
}

// Main runs the CLI and exits the process with its result code,
// mirroring the teacher's cmd.Main shape.
func Main() {
	if err := Root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

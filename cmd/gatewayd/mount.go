package main

import (
	"context"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/arkstor/gatewayfs/driver"
	"github.com/arkstor/gatewayfs/internal/store/jsonstore"
	"github.com/arkstor/gatewayfs/internal/vfs"
)

// mountCmd is the admin-less local testing subcommand group spec §2
// calls for: add/list/remove mounts against the JSON-file mount
// store, grounded on the teacher's cmd/config (an interactive
// subcommand group for managing remotes) reduced to flags since the
// gateway's mounts are simpler records.
var mountCmd = &cobra.Command{
	Use:   "mount",
	Short: "Manage mount records in the JSON mount store.",
}

func openStore() (*jsonstore.Store, error) {
	return jsonstore.New(loadedConfig.MountStorePath)
}

var (
	mountName       string
	mountDriverKind string
	mountPath       string
	mountOption     []string
	mountDisabled   bool
	mountRemark     string
)

var mountAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Add a mount record.",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore()
		if err != nil {
			return err
		}
		cfg := driver.Config{}
		for _, kv := range mountOption {
			parts := strings.SplitN(kv, "=", 2)
			if len(parts) != 2 {
				return fmt.Errorf("invalid --option %q, want key=value", kv)
			}
			cfg[parts[0]] = parts[1]
		}
		m := vfs.Mount{
			ID:         uuid.NewString(),
			Name:       mountName,
			DriverKind: mountDriverKind,
			MountPath:  mountPath,
			Config:     cfg,
			Enabled:    !mountDisabled,
			Remark:     mountRemark,
		}
		if err := st.Create(context.Background(), m); err != nil {
			return err
		}
		fmt.Println(m.ID)
		return nil
	},
}

var mountListCmd = &cobra.Command{
	Use:   "list",
	Short: "List mount records.",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore()
		if err != nil {
			return err
		}
		mounts, err := st.List(context.Background())
		if err != nil {
			return err
		}
		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 2, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tNAME\tDRIVER\tMOUNT_PATH\tENABLED")
		for _, m := range mounts {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%v\n", m.ID, m.Name, m.DriverKind, m.MountPath, m.Enabled)
		}
		return tw.Flush()
	},
}

var mountRemoveCmd = &cobra.Command{
	Use:   "remove <id>",
	Short: "Remove a mount record.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore()
		if err != nil {
			return err
		}
		return st.Delete(context.Background(), args[0])
	},
}

func init() {
	mountAddCmd.Flags().StringVar(&mountName, "name", "", "display name")
	mountAddCmd.Flags().StringVar(&mountDriverKind, "driver", "", "driver kind (local, s3, sftp, ...)")
	mountAddCmd.Flags().StringVar(&mountPath, "path", "", "virtual mount path, e.g. /cloud")
	mountAddCmd.Flags().StringArrayVar(&mountOption, "option", nil, "driver config option as key=value, repeatable")
	mountAddCmd.Flags().BoolVar(&mountDisabled, "disabled", false, "create the mount disabled")
	mountAddCmd.Flags().StringVar(&mountRemark, "remark", "", "free-form note")
	_ = mountAddCmd.MarkFlagRequired("driver")
	_ = mountAddCmd.MarkFlagRequired("path")

	mountCmd.AddCommand(mountAddCmd, mountListCmd, mountRemoveCmd)
	Root.AddCommand(mountCmd)
}

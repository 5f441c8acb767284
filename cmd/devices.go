package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nhantruonghcmut/uitf/internal/device"
	"github.com/nhantruonghcmut/uitf/internal/observability"
)

var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "List Android devices known to the adb server.",
	RunE: func(cmd *cobra.Command, args []string) error {
		adb := device.NewADB(cfg.Device(), observability.GetLogger())
		devices, err := adb.Devices(cmd.Context())
		if err != nil {
			return err
		}
		if len(devices) == 0 {
			fmt.Println("no devices connected")
			return nil
		}
		for _, d := range devices {
			fmt.Printf("%-24s %s\n", d.Serial, d.State)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(devicesCmd)
}

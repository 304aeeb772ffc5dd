package cmd

import (
	"context"
	"fmt"
	"time"

	"signer-core/internal/bootstrap"

	"github.com/spf13/cobra"
)

var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "列出当前传输层上的设备",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		m, err := bootstrap.NewManager(cfg)
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
		defer cancel()
		defer m.Close(ctx)

		devices, err := m.ListDevices(ctx)
		if err != nil {
			return err
		}
		if len(devices) == 0 {
			fmt.Println("未发现设备")
			return nil
		}
		for _, d := range devices {
			fmt.Printf("%-10s %-10s %-20s %s\n", d.Transport, d.Model, d.Name, d.ID)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(devicesCmd)
}

package main

import (
	"os"

	"github.com/spf13/cobra"
)

var (
	cmdConfig = &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration as HCL",
		Long:  ``,
		RunE: func(cmd *cobra.Command, _ []string) error {
			conf, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			_, err = os.Stdout.Write(conf.Schema().Encode())
			return err
		},
	}
)

func init() {
	rootCmd.AddCommand(cmdConfig)
}

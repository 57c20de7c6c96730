package main

import (
	"github.com/spf13/cobra"

	"visca-bridge/internal/config"
)

// Set at build time with -ldflags "-X main.version=..."
var version = "dev"

var (
	rootCmd = &cobra.Command{
		Use:           "visca-bridge",
		Short:         "Bridge JSON camera commands to VISCA PTZ cameras on a serial bus.",
		Long:          ``,
		Version:       version,
		SilenceErrors: true,
		SilenceUsage:  true,
	}
)

var (
	confPath       string
	serialPort     string
	serialBaud     int
	serialDriver   string
	maxEscalations int
	debug          bool
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&confPath, "conf", "c", "", "HCL configuration file")
	rootCmd.PersistentFlags().StringVarP(&serialPort, "port", "p", config.DefaultPort, `Serial port, or "sim" for the simulated transport`)
	rootCmd.PersistentFlags().IntVarP(&serialBaud, "baud", "b", config.DefaultBaud, "Serial baud rate")
	rootCmd.PersistentFlags().StringVar(&serialDriver, "driver", config.DefaultDriver, "Serial driver (bugst or tarm)")
	rootCmd.PersistentFlags().IntVar(&maxEscalations, "max-escalations", config.DefaultMaxEscalations, "Long-timeout retries of a late Completion")
	rootCmd.PersistentFlags().BoolVarP(&debug, "debug", "d", false, "Debug logging (trace)")
}

func Execute() error {
	return rootCmd.Execute()
}

// loadConfig reads the config file if given, then applies any flags set on
// the command line.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	conf := config.Default()
	if confPath != "" {
		var err error
		if conf, err = config.Load(confPath); err != nil {
			return nil, err
		}
	}

	flags := cmd.Flags()
	if flags.Changed("port") {
		conf.Serial.Port = serialPort
	}
	if flags.Changed("baud") {
		conf.Serial.Baud = serialBaud
	}
	if flags.Changed("driver") {
		conf.Serial.Driver = serialDriver
	}
	if flags.Changed("max-escalations") {
		conf.Serial.MaxEscalations = maxEscalations
	}
	if flags.Changed("listen") {
		conf.Server.Listen = serveListen
	}
	if flags.Changed("metrics") {
		conf.Server.Metrics = serveMetrics
	}
	return conf, conf.Validate()
}

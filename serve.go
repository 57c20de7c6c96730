package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"visca-bridge/internal/config"
	"visca-bridge/internal/server"
)

var (
	cmdServe = &cobra.Command{
		Use:   "serve",
		Short: "Serve commands over HTTP and WebSocket",
		Long:  ``,
		RunE:  runServe,
	}
)

var serveListen string
var serveMetrics bool

func init() {
	rootCmd.AddCommand(cmdServe)
	cmdServe.Flags().StringVarP(&serveListen, "listen", "l", config.DefaultListen, "HTTP listen address")
	cmdServe.Flags().BoolVarP(&serveMetrics, "metrics", "m", true, "Expose Prometheus metrics on /metrics")
}

func runServe(cmd *cobra.Command, _ []string) error {
	conf, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	log := newLogger("visca-bridge.serve")
	b, err := newBridge(conf, log)
	if err != nil {
		return err
	}
	defer b.Close()

	srv := server.New(server.Config{
		ListenAddr: conf.Server.Listen,
		Metrics:    conf.Server.Metrics,
		SerialPort: conf.Serial.Port,
		Baud:       conf.Serial.Baud,
		Driver:     conf.Serial.Driver,
		Simulated:  b.controller.Simulated(),
		Version:    version,
	}, b.dispatcher, b.reg, log)

	// Handle graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigCh
		log.Info().Msg("shutting down")
		srv.Stop()
	}()

	log.Info().
		Str("listen", conf.Server.Listen).
		Str("port", conf.Serial.Port).
		Int("baud", conf.Serial.Baud).
		Str("driver", conf.Serial.Driver).
		Int("max_escalations", conf.Serial.MaxEscalations).
		Msg("VISCA bridge")

	return srv.Start()
}

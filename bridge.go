package main

import (
	"os"

	"github.com/loopholelabs/logging"
	"github.com/loopholelabs/logging/types"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"visca-bridge/internal/config"
	"visca-bridge/internal/dispatch"
	"visca-bridge/internal/metrics"
	"visca-bridge/internal/serialport"
	"visca-bridge/internal/visca"
)

// bridge holds the components shared by serve and exec
type bridge struct {
	conf       *config.Config
	log        types.RootLogger
	reg        *prometheus.Registry
	controller *visca.Controller
	dispatcher *dispatch.Dispatcher
}

func newLogger(name string) types.RootLogger {
	log := logging.New(logging.Zerolog, name, os.Stderr)
	if debug {
		log.SetLevel(types.TraceLevel)
	}
	return log
}

// newBridge opens the serial port and wires the controller and dispatcher.
// Failing to open the port is fatal to the caller.
func newBridge(conf *config.Config, log types.RootLogger) (*bridge, error) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	met := metrics.New(reg, metrics.DefaultConfig())

	port, err := serialport.Open(serialport.Config{
		Name:        conf.Serial.Port,
		Baud:        conf.Serial.Baud,
		Driver:      conf.Serial.Driver,
		ReadTimeout: conf.Serial.ReadTimeout,
		Logger:      log,
	})
	if err != nil {
		return nil, err
	}

	ctrl, err := visca.NewController(visca.Config{
		Port:              port,
		ReadTimeout:       conf.Serial.ReadTimeout,
		CompletionTimeout: conf.Serial.CompletionTimeout,
		WriteTimeout:      conf.Serial.WriteTimeout,
		MaxEscalations:    conf.Serial.MaxEscalations,
		Logger:            log,
		Metrics:           met,
	})
	if err != nil {
		port.Close()
		return nil, err
	}

	info := dispatch.Info{
		Name:      rootCmd.Name(),
		Version:   version,
		Port:      conf.Serial.Port,
		Baud:      conf.Serial.Baud,
		Driver:    conf.Serial.Driver,
		Simulated: ctrl.Simulated(),
	}

	return &bridge{
		conf:       conf,
		log:        log,
		reg:        reg,
		controller: ctrl,
		dispatcher: dispatch.New(ctrl, info, log, met),
	}, nil
}

func (b *bridge) Close() error {
	return b.controller.Close()
}

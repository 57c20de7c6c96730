package serialport

import (
	"fmt"
	"io"
	"time"

	"github.com/loopholelabs/logging/types"
)

// Simulated is the port name that selects the no-op simulated transport
const Simulated = "sim"

// Serial backends
const (
	DriverBugst = "bugst"
	DriverTarm  = "tarm"
)

// Port is a byte-oriented duplex link to a VISCA device.
// A Read that times out returns (0, nil).
type Port interface {
	io.ReadWriteCloser
	ResetInputBuffer() error
	SetReadTimeout(t time.Duration) error
}

// Config for opening a port
type Config struct {
	Name        string // device name, or Simulated
	Baud        int
	Driver      string // DriverBugst (default) or DriverTarm
	ReadTimeout time.Duration
	Logger      types.Logger
}

// Open opens the port described by cfg
func Open(cfg Config) (Port, error) {
	if cfg.Name == Simulated {
		return NewSimulator(cfg.Logger), nil
	}
	if cfg.Name == "" {
		return nil, fmt.Errorf("serial port name is required")
	}
	if cfg.Baud == 0 {
		cfg.Baud = 9600
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = time.Second
	}

	switch cfg.Driver {
	case "", DriverBugst:
		return openBugst(cfg)
	case DriverTarm:
		return openTarm(cfg)
	default:
		return nil, fmt.Errorf("unsupported serial driver: %s", cfg.Driver)
	}
}

// IsSimulated reports whether p is the simulated transport
func IsSimulated(p Port) bool {
	_, ok := p.(*Simulator)
	return ok
}

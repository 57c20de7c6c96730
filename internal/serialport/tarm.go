package serialport

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/tarm/serial"
)

// tarm fixes the read timeout when the port is opened, so the port polls at
// this interval and Read loops until the requested timeout has passed.
const tarmPollInterval = 100 * time.Millisecond

type tarmPort struct {
	port    *serial.Port
	mu      sync.Mutex
	timeout time.Duration
}

func openTarm(cfg Config) (Port, error) {
	port, err := serial.OpenPort(&serial.Config{
		Name:        cfg.Name,
		Baud:        cfg.Baud,
		Size:        8,
		Parity:      serial.ParityNone,
		StopBits:    serial.Stop1,
		ReadTimeout: tarmPollInterval,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", cfg.Name, err)
	}

	if cfg.Logger != nil {
		cfg.Logger.Info().
			Str("port", cfg.Name).
			Int("baud", cfg.Baud).
			Str("driver", DriverTarm).
			Msg("Opened serial port")
	}
	return &tarmPort{port: port, timeout: cfg.ReadTimeout}, nil
}

func (p *tarmPort) Read(b []byte) (int, error) {
	p.mu.Lock()
	deadline := time.Now().Add(p.timeout)
	p.mu.Unlock()

	for {
		n, err := p.port.Read(b)
		if err != nil && !errors.Is(err, io.EOF) {
			return n, err
		}
		if n > 0 || !time.Now().Before(deadline) {
			return n, nil
		}
	}
}

func (p *tarmPort) Write(b []byte) (int, error) {
	return p.port.Write(b)
}

// ResetInputBuffer maps to Flush, which discards unread input
func (p *tarmPort) ResetInputBuffer() error {
	return p.port.Flush()
}

func (p *tarmPort) SetReadTimeout(t time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.timeout = t
	return nil
}

func (p *tarmPort) Close() error {
	return p.port.Close()
}

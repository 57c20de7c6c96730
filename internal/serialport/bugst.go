package serialport

import (
	"fmt"

	"go.bug.st/serial"
)

// openBugst opens a real port through go.bug.st/serial. Its Port already
// satisfies our interface, including the (0, nil) read timeout behaviour.
func openBugst(cfg Config) (Port, error) {
	mode := &serial.Mode{
		BaudRate: cfg.Baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}

	port, err := serial.Open(cfg.Name, mode)
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", cfg.Name, err)
	}

	if err := port.SetReadTimeout(cfg.ReadTimeout); err != nil {
		port.Close()
		return nil, fmt.Errorf("failed to set read timeout on %s: %w", cfg.Name, err)
	}

	if cfg.Logger != nil {
		cfg.Logger.Info().
			Str("port", cfg.Name).
			Int("baud", cfg.Baud).
			Str("driver", DriverBugst).
			Msg("Opened serial port")
	}
	return port, nil
}

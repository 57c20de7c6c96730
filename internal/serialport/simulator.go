package serialport

import (
	"encoding/hex"
	"errors"
	"sync"
	"time"

	"github.com/loopholelabs/logging/types"
)

var ErrClosed = errors.New("port closed")

// Simulator stands in for a camera when no hardware is attached.
// Writes are logged and discarded; reads fill the buffer with zeros at once.
type Simulator struct {
	log    types.Logger
	mu     sync.Mutex
	closed bool
	writes int
}

// NewSimulator creates a simulated port
func NewSimulator(log types.Logger) *Simulator {
	if log != nil {
		log.Info().Str("port", Simulated).Msg("Using simulated serial port")
	}
	return &Simulator{log: log}
}

func (s *Simulator) Write(b []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, ErrClosed
	}
	s.writes++
	if s.log != nil {
		s.log.Debug().
			Int("length", len(b)).
			Str("bytes", hex.EncodeToString(b)).
			Msg("Simulated write")
	}
	return len(b), nil
}

func (s *Simulator) Read(b []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, ErrClosed
	}
	clear(b)
	return len(b), nil
}

func (s *Simulator) ResetInputBuffer() error { return nil }

func (s *Simulator) SetReadTimeout(time.Duration) error { return nil }

// Writes returns how many frames have been written
func (s *Simulator) Writes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writes
}

func (s *Simulator) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

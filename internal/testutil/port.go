package testutil

import (
	"sync"
	"time"
)

// ScriptedPort is an in-memory serial port for tests.
//
// Each call to Reply queues the chunks the "device" sends back after the
// next Write. A nil or empty chunk makes one Read time out. Stale bytes sit
// in the input buffer until ResetInputBuffer discards them.
type ScriptedPort struct {
	mu       sync.Mutex
	replies  [][][]byte
	input    [][]byte
	writes   [][]byte
	timeouts []time.Duration
	resets   int
	closed   bool
	writeLag time.Duration
	WriteErr error
}

func NewScriptedPort() *ScriptedPort {
	return &ScriptedPort{}
}

// Reply queues the response chunks for the next exchange
func (p *ScriptedPort) Reply(chunks ...[]byte) *ScriptedPort {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.replies = append(p.replies, chunks)
	return p
}

// Stale puts bytes in the input buffer ahead of any write
func (p *ScriptedPort) Stale(b []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.input = append(p.input, b)
}

// SetWriteLag delays every following Write by d before it reaches the device
func (p *ScriptedPort) SetWriteLag(d time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.writeLag = d
}

func (p *ScriptedPort) Write(b []byte) (int, error) {
	p.mu.Lock()
	lag := p.writeLag
	p.mu.Unlock()
	if lag > 0 {
		time.Sleep(lag)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.WriteErr != nil {
		return 0, p.WriteErr
	}
	p.writes = append(p.writes, append([]byte(nil), b...))
	if len(p.replies) > 0 {
		p.input = append(p.input, p.replies[0]...)
		p.replies = p.replies[1:]
	}
	return len(b), nil
}

func (p *ScriptedPort) Read(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.input) == 0 {
		return 0, nil
	}
	chunk := p.input[0]
	n := copy(b, chunk)
	if n < len(chunk) {
		p.input[0] = chunk[n:]
	} else {
		p.input = p.input[1:]
	}
	return n, nil
}

func (p *ScriptedPort) ResetInputBuffer() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.resets++
	p.input = nil
	return nil
}

func (p *ScriptedPort) SetReadTimeout(t time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.timeouts = append(p.timeouts, t)
	return nil
}

func (p *ScriptedPort) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

// Writes returns a copy of every frame written so far
func (p *ScriptedPort) Writes() [][]byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([][]byte(nil), p.writes...)
}

func (p *ScriptedPort) Timeouts() []time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]time.Duration(nil), p.timeouts...)
}

func (p *ScriptedPort) Resets() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.resets
}

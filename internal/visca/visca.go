package visca

import (
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/loopholelabs/logging/types"

	"visca-bridge/internal/metrics"
	"visca-bridge/internal/serialport"
)

// Controller manages VISCA communication with PTZ cameras on one serial bus
type Controller struct {
	port      serialport.Port
	mu        sync.Mutex
	simulated bool

	readTimeout       time.Duration
	completionTimeout time.Duration
	writeTimeout      time.Duration
	maxEscalations    int

	// result of a write that outlived the write timeout; guarded by mu
	pending <-chan error

	log     types.Logger
	metrics *metrics.Metrics
}

// Config for VISCA controller
type Config struct {
	Port serialport.Port

	ReadTimeout       time.Duration // per reply, and for the first Ack/Completion read
	CompletionTimeout time.Duration // re-armed read while waiting for a late Completion
	WriteTimeout      time.Duration
	MaxEscalations    int // long-timeout retries of the Completion read; 0 disables

	Logger  types.Logger
	Metrics *metrics.Metrics
}

// VersionInfo is the reply to a CAM_VersionInq
type VersionInfo struct {
	Vendor    int `json:"vendor"`
	Model     int `json:"model"`
	Version   int `json:"version"`
	MaxSocket int `json:"max_socket"`
}

// NewController creates a new VISCA controller on an open port
func NewController(cfg Config) (*Controller, error) {
	if cfg.Port == nil {
		return nil, fmt.Errorf("serial port is required")
	}
	if cfg.MaxEscalations < 0 {
		return nil, fmt.Errorf("max escalations must not be negative")
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = time.Second
	}
	if cfg.CompletionTimeout == 0 {
		cfg.CompletionTimeout = 10 * time.Second
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = 2 * time.Second
	}

	return &Controller{
		port:              cfg.Port,
		simulated:         serialport.IsSimulated(cfg.Port),
		readTimeout:       cfg.ReadTimeout,
		completionTimeout: cfg.CompletionTimeout,
		writeTimeout:      cfg.WriteTimeout,
		maxEscalations:    cfg.MaxEscalations,
		log:               cfg.Logger,
		metrics:           cfg.Metrics,
	}, nil
}

// Close closes the serial port
func (c *Controller) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.port == nil {
		return nil
	}
	err := c.port.Close()
	c.port = nil
	return err
}

// Simulated reports whether the controller drives the simulated transport
func (c *Controller) Simulated() bool {
	return c.simulated
}

// exchange performs one write and its matching read. With expected > 0 it
// reads exactly that many bytes, otherwise it waits for Ack then Completion.
// validate checks a fixed-length reply for the inquiry reply shape.
func (c *Controller) exchange(op string, addr int, msg []byte, expected int, validate bool) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	start := time.Now()
	reply, err := c.doExchange(addr, msg, expected)
	if err == nil && validate {
		if err = c.checkReply(addr, reply); err != nil {
			reply = nil
		}
	}
	c.metrics.ObserveExchange(op, time.Since(start), err)

	if c.log != nil {
		c.log.Trace().
			Str("op", op).
			Int("address", addr).
			Str("sent", hex.EncodeToString(msg)).
			Str("received", hex.EncodeToString(reply)).
			Int("expected", expected).
			Err(err).
			Msg("VISCA exchange")
	}
	return reply, err
}

func (c *Controller) doExchange(addr int, msg []byte, expected int) ([]byte, error) {
	if c.port == nil {
		return nil, newError(ErrPortClosed, "serial port not open", nil)
	}

	if err := c.drainPending(); err != nil {
		return nil, err
	}

	// Residual bytes from an earlier exchange must not be taken as this reply
	if !c.simulated {
		if err := c.port.ResetInputBuffer(); err != nil {
			return nil, newError(err, fmt.Sprintf("failed to discard stale input: %v", err), nil)
		}
	}

	if err := c.write(msg); err != nil {
		return nil, err
	}

	if expected > 0 {
		buf := make([]byte, expected)
		n, err := c.readFull(buf, c.readTimeout)
		if err != nil {
			return nil, newError(err, fmt.Sprintf("read failed: %v", err), buf[:n])
		}
		if n != expected {
			if !c.simulated {
				if derr := deviceError(addr, buf[:n]); derr != nil {
					return nil, derr
				}
			}
			return nil, newError(ErrShortRead, "incorrect response", buf[:n])
		}
		return buf, nil
	}

	return c.awaitCompletion(addr)
}

// write is bounded by the write timeout. A write that outlives it keeps
// running and is recorded as pending, so the next exchange waits for it
// before touching the port.
func (c *Controller) write(msg []byte) error {
	port := c.port
	result := make(chan error, 1)
	go func() {
		n, err := port.Write(msg)
		if err == nil && n != len(msg) {
			err = fmt.Errorf("incomplete write: wrote %d of %d bytes", n, len(msg))
		}
		result <- err
	}()

	select {
	case <-time.After(c.writeTimeout):
		c.pending = result
		return newError(ErrWriteTimeout, "write timeout", nil)
	case err := <-result:
		if err != nil {
			return newError(err, fmt.Sprintf("failed to send command: %v", err), nil)
		}
		return nil
	}
}

// drainPending waits for a timed-out write to land. Its replies are then
// discarded by the input reset that follows.
func (c *Controller) drainPending() error {
	if c.pending == nil {
		return nil
	}
	select {
	case <-c.pending:
		c.pending = nil
		if c.log != nil {
			c.log.Debug().Msg("Late write finished")
		}
	case <-time.After(c.completionTimeout):
		return newError(ErrWriteTimeout, "previous write still pending", nil)
	}

	// Give the camera time to answer the late frame so its Ack is not left
	// in flight for this exchange to read
	if !c.simulated {
		buf := make([]byte, handshakeLen)
		if _, err := c.readFull(buf, c.readTimeout); err != nil {
			return newError(err, fmt.Sprintf("read failed: %v", err), nil)
		}
	}
	return nil
}

// readFull reads into buf until it is full or timeout has elapsed
func (c *Controller) readFull(buf []byte, timeout time.Duration) (int, error) {
	deadline := time.Now().Add(timeout)
	total := 0

	for total < len(buf) {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			break
		}
		if err := c.port.SetReadTimeout(remaining); err != nil {
			return total, err
		}
		n, err := c.port.Read(buf[total:])
		if err != nil {
			return total, err
		}
		if n == 0 {
			break
		}
		total += n
	}
	return total, nil
}

// awaitCompletion reads the Ack (y0 4z FF) and Completion (y0 5z FF) frames.
// Some devices hold the Completion back until a physical move finishes, so a
// short read is re-armed with the completion timeout up to maxEscalations times.
func (c *Controller) awaitCompletion(addr int) ([]byte, error) {
	buf := make([]byte, handshakeLen)
	n, err := c.readFull(buf, c.readTimeout)
	if err != nil {
		return nil, newError(err, fmt.Sprintf("read failed: %v", err), buf[:n])
	}

	if c.simulated {
		return buf[:n], nil
	}

	for escalation := 0; n < handshakeLen && escalation < c.maxEscalations; escalation++ {
		if derr := deviceError(addr, buf[:n]); derr != nil {
			return nil, derr
		}
		// A wrong Ack will not be fixed by waiting for the Completion
		if n >= 3 && !validHandshakeFrame(addr, buf[0:3], ackNibble) {
			return nil, newError(ErrBadAck, "incorrect acknowledgment", buf[:n])
		}

		c.metrics.Escalation()
		if c.log != nil {
			c.log.Debug().
				Int("address", addr).
				Int("received", n).
				Int64("timeout_ms", c.completionTimeout.Milliseconds()).
				Msg("Waiting for late completion")
		}

		m, err := c.readFull(buf[n:], c.completionTimeout)
		n += m
		if err != nil {
			return nil, newError(err, fmt.Sprintf("read failed: %v", err), buf[:n])
		}
	}

	if derr := deviceError(addr, buf[:n]); derr != nil {
		return nil, derr
	}
	if n < handshakeLen {
		return nil, newError(ErrShortRead, "incorrect response", buf[:n])
	}
	if !validHandshakeFrame(addr, buf[0:3], ackNibble) {
		return nil, newError(ErrBadAck, "incorrect acknowledgment", buf)
	}
	if !validHandshakeFrame(addr, buf[3:6], completionNibble) {
		return nil, newError(ErrBadCompletion, "incorrect completion", buf)
	}
	return buf, nil
}

func validHandshakeFrame(addr int, b []byte, nibble byte) bool {
	return b[0] == ReplyAddress(addr) && b[1]>>4 == nibble && b[2] == Terminator
}

// checkReply validates the shape of a fixed-length inquiry reply
func (c *Controller) checkReply(addr int, reply []byte) error {
	if c.simulated {
		return nil
	}
	if reply[0] != ReplyAddress(addr) || reply[1] != replyMarker || reply[len(reply)-1] != Terminator {
		return newError(ErrBadReply, "incorrect response", reply)
	}
	return nil
}

func checkAddress(addr int) error {
	if addr < 0 || addr > MaxAddress {
		return inputError("invalid camera address %d", addr)
	}
	return nil
}

func checkByte(name string, v int) error {
	if v < 0 || v > 0xFF {
		return inputError("invalid %s %d", name, v)
	}
	return nil
}

// Position reads the current pan and tilt
func (c *Controller) Position(addr int) (int, int, error) {
	if err := checkAddress(addr); err != nil {
		return 0, 0, err
	}
	reply, err := c.exchange("get position", addr, positionInquiry(addr), positionReplyLen, true)
	if err != nil {
		return 0, 0, Wrap(err, "get position failed")
	}
	pan := DecodeSigned(nibbles(reply[2:6]))
	tilt := DecodeSigned(nibbles(reply[6:10]))
	return pan, tilt, nil
}

// SetPosition moves to an absolute pan and tilt
func (c *Controller) SetPosition(addr int, pan, tilt, speed int) error {
	if err := checkAddress(addr); err != nil {
		return err
	}
	if pan < -0x8000 || pan > 0x7FFF {
		return inputError("invalid pan value %d", pan)
	}
	if tilt < -0x8000 || tilt > 0x7FFF {
		return inputError("invalid tilt value %d", tilt)
	}
	if err := checkByte("speed", speed); err != nil {
		return err
	}
	_, err := c.exchange("set position", addr, setPositionFrame(addr, pan, tilt, byte(speed)), 0, false)
	return Wrap(err, "set position failed")
}

// Zoom reads the current zoom
func (c *Controller) Zoom(addr int) (int, error) {
	if err := checkAddress(addr); err != nil {
		return 0, err
	}
	reply, err := c.exchange("get zoom", addr, zoomInquiry(addr), zoomReplyLen, true)
	if err != nil {
		return 0, Wrap(err, "get zoom failed")
	}
	return int(nibbles(reply[2:6])), nil
}

// SetZoom moves to an absolute zoom
func (c *Controller) SetZoom(addr int, zoom int) error {
	if err := checkAddress(addr); err != nil {
		return err
	}
	if zoom < 0 || zoom > 0xFFFF {
		return inputError("invalid zoom value %d", zoom)
	}
	_, err := c.exchange("set zoom", addr, setZoomFrame(addr, uint16(zoom)), 0, false)
	return Wrap(err, "set zoom failed")
}

// Slew starts or stops continuous pan and tilt motion
func (c *Controller) Slew(addr int, panDir PanDirection, panSpeed int, tiltDir TiltDirection, tiltSpeed int) error {
	if err := checkAddress(addr); err != nil {
		return err
	}
	if !panDir.valid() {
		return inputError("invalid pan direction")
	}
	if !tiltDir.valid() {
		return inputError("invalid tilt direction")
	}
	if err := checkByte("pan speed", panSpeed); err != nil {
		return err
	}
	if err := checkByte("tilt speed", tiltSpeed); err != nil {
		return err
	}
	_, err := c.exchange("slew", addr, slewFrame(addr, panDir, byte(panSpeed), tiltDir, byte(tiltSpeed)), 0, false)
	return Wrap(err, "slew failed")
}

// ZoomSlew starts or stops continuous zoom motion
func (c *Controller) ZoomSlew(addr int, dir ZoomDirection, speed int) error {
	if err := checkAddress(addr); err != nil {
		return err
	}
	if !dir.valid() {
		return inputError("invalid zoom direction")
	}
	if speed < 0 || speed > 0x0F {
		return inputError("invalid zoom speed %d", speed)
	}
	_, err := c.exchange("zoom slew", addr, zoomSlewFrame(addr, dir, byte(speed)), 0, false)
	return Wrap(err, "zoom slew failed")
}

// GotoPreset recalls a preset stored in the camera
func (c *Controller) GotoPreset(addr int, preset int) error {
	if err := checkAddress(addr); err != nil {
		return err
	}
	if err := checkByte("preset", preset); err != nil {
		return err
	}
	_, err := c.exchange("goto preset", addr, recallPresetFrame(addr, byte(preset)), 0, false)
	return Wrap(err, "goto preset failed")
}

// SetPreset stores the current position in a camera preset
func (c *Controller) SetPreset(addr int, preset int) error {
	if err := checkAddress(addr); err != nil {
		return err
	}
	if err := checkByte("preset", preset); err != nil {
		return err
	}
	_, err := c.exchange("set preset", addr, setPresetFrame(addr, byte(preset)), 0, false)
	return Wrap(err, "set preset failed")
}

// VersionInfo reads vendor, model, firmware version and socket count
func (c *Controller) VersionInfo(addr int) (VersionInfo, error) {
	if err := checkAddress(addr); err != nil {
		return VersionInfo{}, err
	}
	reply, err := c.exchange("version info", addr, versionInquiry(addr), versionReplyLen, true)
	if err != nil {
		return VersionInfo{}, Wrap(err, "get version info failed")
	}
	return VersionInfo{
		Vendor:    int(reply[2])<<8 | int(reply[3]),
		Model:     int(reply[4])<<8 | int(reply[5]),
		Version:   int(reply[6])<<8 | int(reply[7]),
		MaxSocket: int(reply[8]),
	}, nil
}

// Home returns pan and tilt to the home position
func (c *Controller) Home(addr int) error {
	if err := checkAddress(addr); err != nil {
		return err
	}
	_, err := c.exchange("home", addr, homeFrame(addr), 0, false)
	return Wrap(err, "home failed")
}

// Reset re-initialises the pan/tilt mechanism
func (c *Controller) Reset(addr int) error {
	if err := checkAddress(addr); err != nil {
		return err
	}
	_, err := c.exchange("reset", addr, resetFrame(addr), 0, false)
	return Wrap(err, "reset failed")
}

// Stop halts pan, tilt and zoom motion
func (c *Controller) Stop(addr int) error {
	if err := c.Slew(addr, PanStop, 0, TiltStop, 0); err != nil {
		return Wrap(err, "stop failed")
	}
	return Wrap(c.ZoomSlew(addr, ZoomStop, 0), "stop failed")
}

// SendRaw sends payload (everything after the address byte) and returns the
// reply. replyLen 0 expects Ack/Completion, otherwise exactly replyLen bytes.
func (c *Controller) SendRaw(addr int, payload []byte, replyLen int) ([]byte, error) {
	if err := checkAddress(addr); err != nil {
		return nil, err
	}
	if len(payload) == 0 {
		return nil, inputError("missing bytes to send")
	}
	if replyLen < 0 {
		return nil, inputError("invalid reply length %d", replyLen)
	}
	reply, err := c.exchange("send raw", addr, rawFrame(addr, payload), replyLen, false)
	if err != nil {
		return nil, Wrap(err, "send raw failed")
	}
	return reply, nil
}

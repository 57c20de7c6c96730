package ptz

import "visca-bridge/internal/visca"

// Camera defines the operations the command dispatcher needs from a PTZ
// camera bus. Every method addresses one camera (0-7) on the bus.
type Camera interface {
	// Position returns the current pan and tilt
	Position(addr int) (pan int, tilt int, err error)

	// SetPosition moves to an absolute pan/tilt at the given speed
	SetPosition(addr int, pan, tilt, speed int) error

	// Zoom returns the current zoom
	Zoom(addr int) (int, error)

	// SetZoom moves to an absolute zoom
	SetZoom(addr int, zoom int) error

	// Slew starts or stops continuous pan/tilt motion
	Slew(addr int, panDir visca.PanDirection, panSpeed int, tiltDir visca.TiltDirection, tiltSpeed int) error

	// ZoomSlew starts or stops continuous zoom motion
	ZoomSlew(addr int, dir visca.ZoomDirection, speed int) error

	// GotoPreset recalls a preset position
	GotoPreset(addr int, preset int) error

	// SetPreset saves current position to a preset
	SetPreset(addr int, preset int) error

	VersionInfo(addr int) (visca.VersionInfo, error)

	Home(addr int) error
	Reset(addr int) error

	// Stop stops all PTZ movement
	Stop(addr int) error

	// SendRaw sends a payload after the address byte; replyLen 0 expects Ack/Completion
	SendRaw(addr int, payload []byte, replyLen int) ([]byte, error)

	// Close closes the controller connection
	Close() error
}

var _ Camera = (*visca.Controller)(nil)

package command

import "visca-bridge/internal/visca"

// Command names accepted on the wire
const (
	NameMoveTo      = "moveto"
	NamePan         = "pan"
	NameTilt        = "tilt"
	NameZoom        = "zoom"
	NameSlew        = "slew"
	NameGoPreset    = "go-preset"
	NameSetPreset   = "set-preset"
	NameReport      = "report"
	NameVersionInfo = "version-info"
	NameAbout       = "about"
	NameSendRaw     = "send-raw"
	NameHome        = "home"
	NameReset       = "reset"
	NameStop        = "stop"
)

// DefaultCamera is used when a request names no camera
const DefaultCamera = 1

// Command is one parsed request. The concrete types below are the only
// implementations.
type Command interface {
	Name() string
	Address() int
}

// Target is the camera a command addresses
type Target struct {
	Camera int
}

func (t Target) Address() int { return t.Camera }

type Axis int

const (
	AxisPan Axis = iota
	AxisTilt
	AxisZoom
)

func (a Axis) String() string {
	switch a {
	case AxisPan:
		return "pan"
	case AxisTilt:
		return "tilt"
	case AxisZoom:
		return "zoom"
	}
	return "unknown"
}

// MoveTo sets an absolute position. Nil fields are left unchanged.
type MoveTo struct {
	Target
	Pan   *int
	Tilt  *int
	Zoom  *int
	Speed int
}

// Jog moves one axis by an offset from its current value
type Jog struct {
	Target
	Axis   Axis
	Offset int
}

// Slew starts or stops continuous pan/tilt motion
type Slew struct {
	Target
	PanDir    visca.PanDirection
	PanSpeed  int
	TiltDir   visca.TiltDirection
	TiltSpeed int
}

type ZoomSlew struct {
	Target
	Dir   visca.ZoomDirection
	Speed int
}

type GoPreset struct {
	Target
	Preset int
}

type SetPreset struct {
	Target
	Preset int
}

type Report struct {
	Target
}

type VersionInfo struct {
	Target
}

// About never touches the camera bus
type About struct{}

// SendRaw carries the payload after the address byte
type SendRaw struct {
	Target
	Payload     []byte
	ReplyLength int
}

type Home struct {
	Target
}

type Reset struct {
	Target
}

type Stop struct {
	Target
}

func (MoveTo) Name() string { return NameMoveTo }

// Name reports the command a jog was parsed from
func (j Jog) Name() string {
	switch j.Axis {
	case AxisTilt:
		return NameTilt
	case AxisZoom:
		return NameZoom
	}
	return NamePan
}

func (s Slew) Name() string { return NameSlew }

func (ZoomSlew) Name() string    { return NameZoom }
func (GoPreset) Name() string    { return NameGoPreset }
func (SetPreset) Name() string   { return NameSetPreset }
func (Report) Name() string      { return NameReport }
func (VersionInfo) Name() string { return NameVersionInfo }
func (About) Name() string       { return NameAbout }
func (SendRaw) Name() string     { return NameSendRaw }
func (Home) Name() string        { return NameHome }
func (Reset) Name() string       { return NameReset }
func (Stop) Name() string        { return NameStop }

func (About) Address() int { return DefaultCamera }

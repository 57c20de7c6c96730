package command

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"visca-bridge/internal/protocol"
	"visca-bridge/internal/visca"
)

var ErrUnknownCommand = errors.New("unknown command")

// ParamError reports a missing or malformed request parameter
type ParamError struct {
	Msg string
}

func (e *ParamError) Error() string { return e.Msg }

func missing(name string) error { return &ParamError{Msg: "missing " + name + " value"} }
func invalid(name string) error { return &ParamError{Msg: "invalid " + name + " value"} }

// Alternate command names used by older front ends
var aliases = map[string]string{
	"send_raw":     NameSendRaw,
	"version_info": NameVersionInfo,
	"go_preset":    NameGoPreset,
	"set_preset":   NameSetPreset,
}

// Canonical returns the canonical form of a command name
func Canonical(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	if c, ok := aliases[name]; ok {
		return c
	}
	return name
}

// Parse validates a request and builds its command. Unknown names return
// ErrUnknownCommand; bad parameters return a *ParamError.
func Parse(req protocol.Request) (Command, error) {
	p := params(req.Params)
	name := Canonical(req.Command)

	if name == NameAbout {
		return About{}, nil
	}

	switch name {
	case NameMoveTo, NamePan, NameTilt, NameZoom, NameSlew, NameGoPreset, NameSetPreset,
		NameReport, NameVersionInfo, NameSendRaw, NameHome, NameReset, NameStop:
	default:
		return nil, ErrUnknownCommand
	}

	t, err := p.target()
	if err != nil {
		return nil, err
	}

	switch name {
	case NameMoveTo:
		return p.moveTo(t)
	case NamePan:
		return p.pan(t)
	case NameTilt:
		return p.tilt(t)
	case NameZoom:
		return p.zoom(t)
	case NameSlew:
		return p.slew(t)
	case NameGoPreset:
		n, err := p.requiredInt("preset", "value", "preset")
		if err != nil {
			return nil, err
		}
		return GoPreset{Target: t, Preset: n}, nil
	case NameSetPreset:
		n, err := p.requiredInt("preset", "value", "preset")
		if err != nil {
			return nil, err
		}
		return SetPreset{Target: t, Preset: n}, nil
	case NameReport:
		return Report{Target: t}, nil
	case NameVersionInfo:
		return VersionInfo{Target: t}, nil
	case NameSendRaw:
		return p.sendRaw(t)
	case NameHome:
		return Home{Target: t}, nil
	case NameReset:
		return Reset{Target: t}, nil
	default:
		return Stop{Target: t}, nil
	}
}

type params map[string]any

// get returns the first non-nil value among keys
func (p params) get(keys ...string) (any, bool) {
	for _, k := range keys {
		if v, ok := p[k]; ok && v != nil {
			return v, true
		}
	}
	return nil, false
}

func (p params) target() (Target, error) {
	n, ok, err := p.optionalInt("camera", "camera")
	if err != nil {
		return Target{}, err
	}
	if !ok {
		return Target{Camera: DefaultCamera}, nil
	}
	if n < 0 || n > visca.MaxAddress {
		return Target{}, invalid("camera")
	}
	return Target{Camera: n}, nil
}

func (p params) optionalInt(name string, keys ...string) (int, bool, error) {
	v, ok := p.get(keys...)
	if !ok {
		return 0, false, nil
	}
	n, ok := toInt(v)
	if !ok {
		return 0, false, invalid(name)
	}
	return n, true, nil
}

func (p params) requiredInt(name string, keys ...string) (int, error) {
	n, ok, err := p.optionalInt(name, keys...)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, missing(name)
	}
	return n, nil
}

func (p params) speed(keys ...string) (int, error) {
	n, _, err := p.optionalInt("speed", keys...)
	return n, err
}

func (p params) moveTo(t Target) (Command, error) {
	cmd := MoveTo{Target: t}
	for _, f := range []struct {
		name string
		dst  **int
	}{
		{"pan", &cmd.Pan},
		{"tilt", &cmd.Tilt},
		{"zoom", &cmd.Zoom},
	} {
		n, ok, err := p.optionalInt(f.name, f.name)
		if err != nil {
			return nil, err
		}
		if ok {
			*f.dst = &n
		}
	}
	speed, err := p.speed("speed")
	if err != nil {
		return nil, err
	}
	cmd.Speed = speed
	return cmd, nil
}

// pan is a slew when value is a direction, otherwise a jog
func (p params) pan(t Target) (Command, error) {
	v, ok := p.get("value")
	if !ok {
		return nil, missing("pan")
	}
	speed, err := p.speed("speed")
	if err != nil {
		return nil, err
	}
	if s, isStr := v.(string); isStr {
		if dir, ok := visca.ParsePanDirection(strings.ToLower(s)); ok {
			return Slew{Target: t, PanDir: dir, PanSpeed: speed, TiltDir: visca.TiltStop}, nil
		}
	}
	n, ok := toInt(v)
	if !ok {
		return nil, invalid("pan")
	}
	return Jog{Target: t, Axis: AxisPan, Offset: n}, nil
}

func (p params) tilt(t Target) (Command, error) {
	v, ok := p.get("value")
	if !ok {
		return nil, missing("tilt")
	}
	speed, err := p.speed("speed")
	if err != nil {
		return nil, err
	}
	if s, isStr := v.(string); isStr {
		if dir, ok := visca.ParseTiltDirection(strings.ToLower(s)); ok {
			return Slew{Target: t, PanDir: visca.PanStop, TiltDir: dir, TiltSpeed: speed}, nil
		}
	}
	n, ok := toInt(v)
	if !ok {
		return nil, invalid("tilt")
	}
	return Jog{Target: t, Axis: AxisTilt, Offset: n}, nil
}

func (p params) zoom(t Target) (Command, error) {
	v, ok := p.get("value")
	if !ok {
		return nil, missing("zoom")
	}
	speed, err := p.speed("speed")
	if err != nil {
		return nil, err
	}
	if s, isStr := v.(string); isStr {
		if dir, ok := visca.ParseZoomDirection(strings.ToLower(s)); ok {
			return ZoomSlew{Target: t, Dir: dir, Speed: speed}, nil
		}
	}
	n, ok := toInt(v)
	if !ok {
		return nil, invalid("zoom")
	}
	return Jog{Target: t, Axis: AxisZoom, Offset: n}, nil
}

func (p params) slew(t Target) (Command, error) {
	cmd := Slew{Target: t, PanDir: visca.PanStop, TiltDir: visca.TiltStop}

	panV, hasPan := p.get("pan-value", "pan")
	tiltV, hasTilt := p.get("tilt-value", "tilt")
	if !hasPan && !hasTilt {
		return nil, &ParamError{Msg: "missing pan or tilt direction"}
	}

	if hasPan {
		s, _ := panV.(string)
		dir, ok := visca.ParsePanDirection(strings.ToLower(s))
		if !ok {
			return nil, &ParamError{Msg: "invalid pan direction"}
		}
		cmd.PanDir = dir
	}
	if hasTilt {
		s, _ := tiltV.(string)
		dir, ok := visca.ParseTiltDirection(strings.ToLower(s))
		if !ok {
			return nil, &ParamError{Msg: "invalid tilt direction"}
		}
		cmd.TiltDir = dir
	}

	var err error
	if cmd.PanSpeed, _, err = p.optionalInt("pan speed", "pan-speed", "speed"); err != nil {
		return nil, err
	}
	if cmd.TiltSpeed, _, err = p.optionalInt("tilt speed", "tilt-speed", "speed"); err != nil {
		return nil, err
	}
	return cmd, nil
}

func (p params) sendRaw(t Target) (Command, error) {
	v, ok := p.get("bytes-to-send", "bytes", "value")
	if !ok {
		return nil, missing("bytes")
	}
	s, isStr := v.(string)
	if !isStr {
		return nil, invalid("bytes")
	}
	b, err := ParseHex(s)
	if err != nil || len(b) == 0 {
		return nil, invalid("bytes")
	}
	// A leading 8x byte fills the address slot and is replaced by the camera address
	if b[0]&0xF0 == 0x80 {
		b = b[1:]
	}
	if len(b) == 0 {
		return nil, invalid("bytes")
	}

	n, _, err := p.optionalInt("reply length", "reply-length", "reply_length")
	if err != nil {
		return nil, err
	}
	if n < 0 {
		return nil, invalid("reply length")
	}
	return SendRaw{Target: t, Payload: b, ReplyLength: n}, nil
}

// ParseHex decodes hex bytes separated by spaces, commas or nothing, with an
// optional 0x prefix on each byte: "81 01 06 04 FF", "0x81,0x01", "810106".
// A single-digit field is one byte ("4" is 04); any other odd-length field is
// rejected.
func ParseHex(s string) ([]byte, error) {
	var sb strings.Builder
	for _, f := range strings.FieldsFunc(s, func(r rune) bool { return r == ' ' || r == ',' || r == ':' || r == '\t' }) {
		f = strings.TrimPrefix(strings.TrimPrefix(f, "0x"), "0X")
		switch {
		case len(f) == 1:
			f = "0" + f
		case len(f)%2 == 1:
			return nil, fmt.Errorf("odd-length hex field %q", f)
		}
		sb.WriteString(f)
	}
	return hex.DecodeString(sb.String())
}

// FormatHex renders bytes the way ParseHex reads them
func FormatHex(b []byte) string {
	return fmt.Sprintf("% X", b)
}

// toInt accepts JSON numbers, numeric strings and Go integers
func toInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return floatToInt(n)
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return int(i), true
		}
		f, err := n.Float64()
		if err != nil {
			return 0, false
		}
		return floatToInt(f)
	case string:
		s := strings.TrimSpace(n)
		if i, err := strconv.Atoi(s); err == nil {
			return i, true
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, false
		}
		return floatToInt(f)
	}
	return 0, false
}

func floatToInt(f float64) (int, bool) {
	if f != math.Trunc(f) || math.IsInf(f, 0) || math.Abs(f) > math.MaxInt32 {
		return 0, false
	}
	return int(f), true
}

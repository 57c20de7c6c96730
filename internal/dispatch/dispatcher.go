package dispatch

import (
	"errors"
	"strings"
	"sync"

	"github.com/loopholelabs/logging/types"

	"visca-bridge/internal/command"
	"visca-bridge/internal/metrics"
	"visca-bridge/internal/protocol"
	"visca-bridge/internal/ptz"
	"visca-bridge/internal/visca"
)

// Info is the static description returned by the about command
type Info struct {
	Name      string
	Version   string
	Port      string
	Baud      int
	Driver    string
	Simulated bool
}

func (i Info) fields() map[string]any {
	return map[string]any{
		"name":        i.Name,
		"version":     i.Version,
		"serial-port": i.Port,
		"baud":        i.Baud,
		"driver":      i.Driver,
		"simulated":   i.Simulated,
	}
}

// Dispatcher routes parsed commands to a camera and builds result envelopes.
// One command runs at a time, so multi-exchange commands such as a jog's
// read-then-write are atomic with respect to other requests.
type Dispatcher struct {
	cam     ptz.Camera
	mu      sync.Mutex
	info    Info
	log     types.Logger
	metrics *metrics.Metrics
}

func New(cam ptz.Camera, info Info, log types.Logger, m *metrics.Metrics) *Dispatcher {
	return &Dispatcher{
		cam:     cam,
		info:    info,
		log:     log,
		metrics: m,
	}
}

// Handle parses and executes one request. It never returns an error: every
// outcome is a result envelope.
func (d *Dispatcher) Handle(req protocol.Request) protocol.Result {
	name := command.Canonical(req.Command)

	cmd, err := command.Parse(req)
	if err != nil {
		if errors.Is(err, command.ErrUnknownCommand) {
			return d.finish("unknown", req.Command, protocol.Fail(err.Error()))
		}
		return d.finish(name, name, protocol.Fail(err.Error()))
	}
	return d.run(name, cmd)
}

// Execute runs an already parsed command
func (d *Dispatcher) Execute(cmd command.Command) protocol.Result {
	return d.run(cmd.Name(), cmd)
}

func (d *Dispatcher) run(name string, cmd command.Command) protocol.Result {
	if _, ok := cmd.(command.About); ok {
		return d.finish(name, name, protocol.OK(d.info.fields()))
	}

	d.mu.Lock()
	fields, err := d.execute(cmd)
	d.mu.Unlock()

	if err != nil {
		return d.finish(name, name, protocol.Fail(chain(err, name)...))
	}
	return d.finish(name, name, protocol.OK(fields))
}

func (d *Dispatcher) finish(label, name string, res protocol.Result) protocol.Result {
	d.metrics.ObserveCommand(label, res.Status())
	if d.log != nil && res.Status() != protocol.StatusOK {
		d.log.Debug().
			Str("command", name).
			Str("errors", strings.Join(res.Errors(), "; ")).
			Msg("command failed")
	}
	return res
}

// chain returns the causes of err, innermost first, ending with "<name> failed".
// Parameter errors carry a single cause and are not wrapped.
func chain(err error, name string) []string {
	if visca.IsInputError(err) {
		return visca.Context(err)
	}
	ctx := visca.Context(err)
	outer := name + " failed"
	if len(ctx) == 0 || ctx[len(ctx)-1] != outer {
		ctx = append(ctx, outer)
	}
	return ctx
}

func (d *Dispatcher) execute(cmd command.Command) (map[string]any, error) {
	addr := cmd.Address()

	switch c := cmd.(type) {
	case command.MoveTo:
		return nil, d.moveTo(c)

	case command.Jog:
		return nil, d.jog(c)

	case command.Slew:
		return nil, d.cam.Slew(addr, c.PanDir, c.PanSpeed, c.TiltDir, c.TiltSpeed)

	case command.ZoomSlew:
		return nil, d.cam.ZoomSlew(addr, c.Dir, c.Speed)

	case command.GoPreset:
		return nil, d.cam.GotoPreset(addr, c.Preset)

	case command.SetPreset:
		return nil, d.cam.SetPreset(addr, c.Preset)

	case command.Report:
		pan, tilt, err := d.cam.Position(addr)
		if err != nil {
			return nil, err
		}
		zoom, err := d.cam.Zoom(addr)
		if err != nil {
			return nil, err
		}
		return map[string]any{"camera": addr, "pan": pan, "tilt": tilt, "zoom": zoom}, nil

	case command.VersionInfo:
		v, err := d.cam.VersionInfo(addr)
		if err != nil {
			return nil, err
		}
		return map[string]any{
			"camera":     addr,
			"vendor":     v.Vendor,
			"model":      v.Model,
			"version":    v.Version,
			"max_socket": v.MaxSocket,
		}, nil

	case command.SendRaw:
		reply, err := d.cam.SendRaw(addr, c.Payload, c.ReplyLength)
		if err != nil {
			return nil, err
		}
		if c.ReplyLength == 0 {
			return nil, nil
		}
		return map[string]any{"response-bytes": command.FormatHex(reply)}, nil

	case command.Home:
		return nil, d.cam.Home(addr)

	case command.Reset:
		return nil, d.cam.Reset(addr)

	case command.Stop:
		return nil, d.cam.Stop(addr)
	}

	return nil, command.ErrUnknownCommand
}

// moveTo leaves absent fields unchanged. With only one of pan and tilt
// given, the other is read back from the camera first.
func (d *Dispatcher) moveTo(c command.MoveTo) error {
	addr := c.Address()

	if c.Pan != nil || c.Tilt != nil {
		var pan, tilt int
		if c.Pan == nil || c.Tilt == nil {
			var err error
			if pan, tilt, err = d.cam.Position(addr); err != nil {
				return err
			}
		}
		if c.Pan != nil {
			pan = *c.Pan
		}
		if c.Tilt != nil {
			tilt = *c.Tilt
		}
		if err := d.cam.SetPosition(addr, pan, tilt, c.Speed); err != nil {
			return err
		}
	}

	if c.Zoom != nil {
		return d.cam.SetZoom(addr, *c.Zoom)
	}
	return nil
}

func (d *Dispatcher) jog(c command.Jog) error {
	addr := c.Address()

	if c.Axis == command.AxisZoom {
		zoom, err := d.cam.Zoom(addr)
		if err != nil {
			return err
		}
		return jogFailed(c, d.cam.SetZoom(addr, zoom+c.Offset))
	}

	pan, tilt, err := d.cam.Position(addr)
	if err != nil {
		return err
	}
	if c.Axis == command.AxisPan {
		pan += c.Offset
	} else {
		tilt += c.Offset
	}
	return jogFailed(c, d.cam.SetPosition(addr, pan, tilt, 0))
}

// jogFailed names the jog on a set that failed after the read. An offset that
// lands out of range is a failed command, not a bad request parameter.
func jogFailed(c command.Jog, err error) error {
	if err == nil || !visca.IsInputError(err) {
		return err
	}
	return visca.Wrap(err, c.Name()+" failed")
}

package dispatch

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"visca-bridge/internal/command"
	"visca-bridge/internal/metrics"
	"visca-bridge/internal/protocol"
	"visca-bridge/internal/serialport"
	"visca-bridge/internal/visca"
)

// fakeCamera records calls and keeps a position per test
type fakeCamera struct {
	mu    sync.Mutex
	calls []string

	pan, tilt, zoom int
	lag             time.Duration

	errs map[string]error
	raw  []byte
}

func newFakeCamera() *fakeCamera {
	return &fakeCamera{errs: map[string]error{}}
}

func (f *fakeCamera) record(format string, args ...any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	call := fmt.Sprintf(format, args...)
	f.calls = append(f.calls, call)
	for prefix, err := range f.errs {
		if len(call) >= len(prefix) && call[:len(prefix)] == prefix {
			return err
		}
	}
	return nil
}

func (f *fakeCamera) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeCamera) Position(addr int) (int, int, error) {
	if err := f.record("Position(%d)", addr); err != nil {
		return 0, 0, err
	}
	f.mu.Lock()
	pan, tilt := f.pan, f.tilt
	f.mu.Unlock()
	time.Sleep(f.lag)
	return pan, tilt, nil
}

func (f *fakeCamera) SetPosition(addr int, pan, tilt, speed int) error {
	if err := f.record("SetPosition(%d, %d, %d, %d)", addr, pan, tilt, speed); err != nil {
		return err
	}
	f.mu.Lock()
	f.pan, f.tilt = pan, tilt
	f.mu.Unlock()
	return nil
}

func (f *fakeCamera) Zoom(addr int) (int, error) {
	if err := f.record("Zoom(%d)", addr); err != nil {
		return 0, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.zoom, nil
}

func (f *fakeCamera) SetZoom(addr int, zoom int) error {
	if err := f.record("SetZoom(%d, %d)", addr, zoom); err != nil {
		return err
	}
	f.mu.Lock()
	f.zoom = zoom
	f.mu.Unlock()
	return nil
}

func (f *fakeCamera) Slew(addr int, panDir visca.PanDirection, panSpeed int, tiltDir visca.TiltDirection, tiltSpeed int) error {
	return f.record("Slew(%d, %s, %d, %s, %d)", addr, panDir, panSpeed, tiltDir, tiltSpeed)
}

func (f *fakeCamera) ZoomSlew(addr int, dir visca.ZoomDirection, speed int) error {
	return f.record("ZoomSlew(%d, %s, %d)", addr, dir, speed)
}

func (f *fakeCamera) GotoPreset(addr int, preset int) error {
	return f.record("GotoPreset(%d, %d)", addr, preset)
}

func (f *fakeCamera) SetPreset(addr int, preset int) error {
	return f.record("SetPreset(%d, %d)", addr, preset)
}

func (f *fakeCamera) VersionInfo(addr int) (visca.VersionInfo, error) {
	if err := f.record("VersionInfo(%d)", addr); err != nil {
		return visca.VersionInfo{}, err
	}
	return visca.VersionInfo{Vendor: 0x0001, Model: 0x0513, Version: 0x0200, MaxSocket: 2}, nil
}

func (f *fakeCamera) Home(addr int) error  { return f.record("Home(%d)", addr) }
func (f *fakeCamera) Reset(addr int) error { return f.record("Reset(%d)", addr) }
func (f *fakeCamera) Stop(addr int) error  { return f.record("Stop(%d)", addr) }

func (f *fakeCamera) SendRaw(addr int, payload []byte, replyLen int) ([]byte, error) {
	if err := f.record("SendRaw(%d, % X, %d)", addr, payload, replyLen); err != nil {
		return nil, err
	}
	return f.raw, nil
}

func (f *fakeCamera) Close() error { return nil }

func setup(t *testing.T) (*Dispatcher, *fakeCamera, *prometheus.Registry) {
	t.Helper()
	cam := newFakeCamera()
	reg := prometheus.NewRegistry()
	m := metrics.New(reg, metrics.DefaultConfig())
	d := New(cam, Info{Name: "visca-bridge", Version: "test", Port: "sim", Baud: 9600, Simulated: true}, nil, m)
	return d, cam, reg
}

func handle(d *Dispatcher, cmd string, params map[string]any) protocol.Result {
	if params == nil {
		params = map[string]any{}
	}
	return d.Handle(protocol.Request{Command: cmd, Params: params})
}

func TestPanSlew(t *testing.T) {
	d, cam, _ := setup(t)

	res := handle(d, "pan", map[string]any{"camera": 1, "value": "left", "speed": 3})
	assert.Equal(t, protocol.Result{"status": "ok"}, res)
	assert.Equal(t, []string{"Slew(1, left, 3, stop, 0)"}, cam.Calls())
}

func TestPanJog(t *testing.T) {
	d, cam, _ := setup(t)
	cam.pan, cam.tilt = 10, 20

	res := handle(d, "pan", map[string]any{"camera": 1, "value": "5"})
	assert.Equal(t, protocol.StatusOK, res.Status())
	assert.Equal(t, []string{"Position(1)", "SetPosition(1, 15, 20, 0)"}, cam.Calls())
}

func TestTiltAndZoomJog(t *testing.T) {
	d, cam, _ := setup(t)
	cam.pan, cam.tilt, cam.zoom = 10, 20, 1000

	assert.Equal(t, protocol.StatusOK, handle(d, "tilt", map[string]any{"value": -25}).Status())
	assert.Equal(t, protocol.StatusOK, handle(d, "zoom", map[string]any{"camera": 2, "value": "+500"}).Status())
	assert.Equal(t, []string{
		"Position(1)", "SetPosition(1, 10, -5, 0)",
		"Zoom(2)", "SetZoom(2, 1500)",
	}, cam.Calls())
}

func TestJogOutOfRange(t *testing.T) {
	ctrl, err := visca.NewController(visca.Config{Port: serialport.NewSimulator(nil)})
	require.NoError(t, err)
	d := New(ctrl, Info{}, nil, nil)

	res := handle(d, "pan", map[string]any{"value": 40000})
	assert.Equal(t, protocol.StatusFail, res.Status())
	assert.Equal(t, []string{"invalid pan value 40000", "pan failed"}, res.Errors())

	res = handle(d, "zoom", map[string]any{"value": -1})
	assert.Equal(t, protocol.StatusFail, res.Status())
	assert.Equal(t, []string{"invalid zoom value -1", "zoom failed"}, res.Errors())
}

func TestReportFailure(t *testing.T) {
	d, cam, _ := setup(t)
	cam.pan, cam.tilt = 10, 20
	cam.errs["Zoom"] = visca.Wrap(errors.New("incorrect response"), "get zoom failed")

	res := handle(d, "report", nil)
	assert.Equal(t, protocol.StatusFail, res.Status())
	assert.Equal(t, []string{"incorrect response", "get zoom failed", "report failed"}, res.Errors())
	assert.NotContains(t, res, "pan")
	assert.NotContains(t, res, "tilt")
}

func TestReport(t *testing.T) {
	d, cam, _ := setup(t)
	cam.pan, cam.tilt, cam.zoom = -10, 20, 300

	res := handle(d, "report", map[string]any{"camera": "3"})
	assert.Equal(t, protocol.Result{"status": "ok", "camera": 3, "pan": -10, "tilt": 20, "zoom": 300}, res)
}

func TestUnknownCommand(t *testing.T) {
	d, cam, reg := setup(t)

	// Hold the lock: an unknown command must not wait for it
	d.mu.Lock()
	defer d.mu.Unlock()

	res := handle(d, "dance", nil)
	assert.Equal(t, protocol.Result{"status": "fail", "errors": []string{"unknown command"}}, res)
	assert.Empty(t, cam.Calls())
	expected := `
# HELP visca_dispatch_commands_total Dispatched commands
# TYPE visca_dispatch_commands_total counter
visca_dispatch_commands_total{command="unknown",status="fail"} 1
`
	assert.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "visca_dispatch_commands_total"))
}

func TestAboutSkipsLock(t *testing.T) {
	d, cam, _ := setup(t)
	d.mu.Lock()
	defer d.mu.Unlock()

	res := handle(d, "about", nil)
	assert.Equal(t, protocol.StatusOK, res.Status())
	assert.Equal(t, "visca-bridge", res["name"])
	assert.Equal(t, "sim", res["serial-port"])
	assert.Equal(t, true, res["simulated"])
	assert.Empty(t, cam.Calls())
}

func TestInputErrorsMakeNoCalls(t *testing.T) {
	d, cam, _ := setup(t)

	res := handle(d, "pan", map[string]any{"value": "sideways"})
	assert.Equal(t, protocol.Result{"status": "fail", "errors": []string{"invalid pan value"}}, res)

	res = handle(d, "slew", nil)
	assert.Equal(t, []string{"missing pan or tilt direction"}, res.Errors())

	assert.Empty(t, cam.Calls())
}

func TestMoveTo(t *testing.T) {
	d, cam, _ := setup(t)
	cam.pan, cam.tilt = 1, 2

	assert.Equal(t, protocol.StatusOK, handle(d, "moveto", map[string]any{"pan": 100, "tilt": -50, "zoom": 800, "speed": 12}).Status())
	assert.Equal(t, protocol.StatusOK, handle(d, "moveto", map[string]any{"zoom": 0}).Status())
	assert.Equal(t, protocol.StatusOK, handle(d, "moveto", map[string]any{"tilt": 7}).Status())
	assert.Equal(t, protocol.StatusOK, handle(d, "moveto", nil).Status())

	assert.Equal(t, []string{
		"SetPosition(1, 100, -50, 12)", "SetZoom(1, 800)",
		"SetZoom(1, 0)",
		"Position(1)", "SetPosition(1, 100, 7, 0)",
	}, cam.Calls())
}

func TestMoveToStopsOnFailure(t *testing.T) {
	d, cam, _ := setup(t)
	cam.errs["SetPosition"] = visca.Wrap(errors.New("incorrect acknowledgment"), "set position failed")

	res := handle(d, "moveto", map[string]any{"pan": 1, "tilt": 2, "zoom": 3})
	assert.Equal(t, []string{"incorrect acknowledgment", "set position failed", "moveto failed"}, res.Errors())
	assert.Equal(t, []string{"SetPosition(1, 1, 2, 0)"}, cam.Calls())
}

func TestSimpleCommands(t *testing.T) {
	d, cam, _ := setup(t)

	for _, r := range []protocol.Request{
		{Command: "slew", Params: map[string]any{"pan-value": "right", "pan-speed": 4, "tilt-value": "up", "tilt-speed": 2}},
		{Command: "zoom", Params: map[string]any{"value": "out", "speed": 5}},
		{Command: "go-preset", Params: map[string]any{"value": 3}},
		{Command: "set-preset", Params: map[string]any{"camera": 2, "value": "9"}},
		{Command: "home", Params: map[string]any{}},
		{Command: "reset", Params: map[string]any{}},
		{Command: "stop", Params: map[string]any{"camera": 4}},
	} {
		assert.Equal(t, protocol.StatusOK, d.Handle(r).Status(), r.Command)
	}
	assert.Equal(t, []string{
		"Slew(1, right, 4, up, 2)",
		"ZoomSlew(1, out, 5)",
		"GotoPreset(1, 3)",
		"SetPreset(2, 9)",
		"Home(1)",
		"Reset(1)",
		"Stop(4)",
	}, cam.Calls())
}

func TestVersionInfo(t *testing.T) {
	d, _, _ := setup(t)

	res := handle(d, "version_info", nil)
	assert.Equal(t, protocol.Result{
		"status": "ok", "camera": 1,
		"vendor": 1, "model": 0x0513, "version": 0x0200, "max_socket": 2,
	}, res)
}

func TestSendRaw(t *testing.T) {
	d, cam, _ := setup(t)
	cam.raw = []byte{0x90, 0x50, 0x00, 0x01, 0x05, 0x13, 0x02, 0x00, 0x02, 0xFF}

	res := handle(d, "send_raw", map[string]any{"bytes-to-send": "81 09 00 02 FF", "reply-length": 10})
	assert.Equal(t, protocol.Result{"status": "ok", "response-bytes": "90 50 00 01 05 13 02 00 02 FF"}, res)

	res = handle(d, "send_raw", map[string]any{"bytes-to-send": "81 01 06 04 FF", "reply-length": 0})
	assert.Equal(t, protocol.Result{"status": "ok"}, res)

	assert.Equal(t, []string{"SendRaw(1, 09 00 02 FF, 10)", "SendRaw(1, 01 06 04 FF, 0)"}, cam.Calls())
}

func TestStopErrorNotDuplicated(t *testing.T) {
	d, cam, _ := setup(t)
	cam.errs["Stop"] = visca.Wrap(visca.Wrap(errors.New("write timeout"), "slew failed"), "stop failed")

	res := handle(d, "stop", nil)
	assert.Equal(t, []string{"write timeout", "slew failed", "stop failed"}, res.Errors())
}

func TestExecute(t *testing.T) {
	d, cam, _ := setup(t)

	res := d.Execute(command.Home{Target: command.Target{Camera: 5}})
	assert.Equal(t, protocol.StatusOK, res.Status())
	assert.Equal(t, []string{"Home(5)"}, cam.Calls())
}

func TestConcurrentJogsAreAtomic(t *testing.T) {
	d, cam, _ := setup(t)
	cam.lag = time.Millisecond

	const n = 20
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			handle(d, "pan", map[string]any{"value": 1})
		}()
	}
	wg.Wait()

	assert.Equal(t, n, cam.pan)
}

func TestWithSimulatedController(t *testing.T) {
	ctrl, err := visca.NewController(visca.Config{Port: serialport.NewSimulator(nil)})
	require.NoError(t, err)
	d := New(ctrl, Info{}, nil, nil)

	res := handle(d, "report", nil)
	assert.Equal(t, protocol.Result{"status": "ok", "camera": 1, "pan": 0, "tilt": 0, "zoom": 0}, res)

	for _, r := range []protocol.Request{
		{Command: "pan", Params: map[string]any{"value": "-5"}},
		{Command: "zoom", Params: map[string]any{"value": "in", "speed": 3}},
		{Command: "moveto", Params: map[string]any{"pan": 10, "tilt": 10, "zoom": 10}},
		{Command: "go-preset", Params: map[string]any{"value": 1}},
		{Command: "stop", Params: map[string]any{}},
	} {
		assert.Equal(t, protocol.StatusOK, d.Handle(r).Status(), r.Command)
	}

	res = handle(d, "send-raw", map[string]any{"bytes-to-send": "09 00 02 FF", "reply-length": 4})
	assert.Equal(t, "00 00 00 00", res["response-bytes"])
}

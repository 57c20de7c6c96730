package visca

import "fmt"

const (
	Terminator byte = 0xFF
	MaxAddress      = 7

	addressBit byte = 0x80

	// High nibble of the second byte of a device reply
	ackNibble        byte = 0x4
	completionNibble byte = 0x5
	errorNibble      byte = 0x6

	replyMarker byte = 0x50

	handshakeLen = 6 // Ack (3) + Completion (3)
)

// Fixed reply lengths for the inquiries
const (
	positionReplyLen = 11 // y0 50 0p 0p 0p 0p 0t 0t 0t 0t FF
	zoomReplyLen     = 7  // y0 50 0z 0z 0z 0z FF
	versionReplyLen  = 10 // y0 50 GG GG HH HH JJ JJ KK FF
)

type PanDirection byte

const (
	PanLeft  PanDirection = 0x01
	PanRight PanDirection = 0x02
	PanStop  PanDirection = 0x03
)

type TiltDirection byte

const (
	TiltUp   TiltDirection = 0x01
	TiltDown TiltDirection = 0x02
	TiltStop TiltDirection = 0x03
)

type ZoomDirection byte

const (
	ZoomStop ZoomDirection = 0x00
	ZoomIn   ZoomDirection = 0x20 // tele, 0x2p
	ZoomOut  ZoomDirection = 0x30 // wide, 0x3p
)

// ParsePanDirection accepts "left", "right" or "stop"
func ParsePanDirection(s string) (PanDirection, bool) {
	switch s {
	case "left":
		return PanLeft, true
	case "right":
		return PanRight, true
	case "stop":
		return PanStop, true
	}
	return 0, false
}

// ParseTiltDirection accepts "up", "down" or "stop"
func ParseTiltDirection(s string) (TiltDirection, bool) {
	switch s {
	case "up":
		return TiltUp, true
	case "down":
		return TiltDown, true
	case "stop":
		return TiltStop, true
	}
	return 0, false
}

// ParseZoomDirection accepts "in", "out" or "stop"
func ParseZoomDirection(s string) (ZoomDirection, bool) {
	switch s {
	case "in":
		return ZoomIn, true
	case "out":
		return ZoomOut, true
	case "stop":
		return ZoomStop, true
	}
	return 0, false
}

func (d PanDirection) valid() bool  { return d >= PanLeft && d <= PanStop }
func (d TiltDirection) valid() bool { return d >= TiltUp && d <= TiltStop }
func (d ZoomDirection) valid() bool { return d == ZoomStop || d == ZoomIn || d == ZoomOut }

func (d PanDirection) String() string {
	switch d {
	case PanLeft:
		return "left"
	case PanRight:
		return "right"
	case PanStop:
		return "stop"
	}
	return fmt.Sprintf("pan(%#x)", byte(d))
}

func (d TiltDirection) String() string {
	switch d {
	case TiltUp:
		return "up"
	case TiltDown:
		return "down"
	case TiltStop:
		return "stop"
	}
	return fmt.Sprintf("tilt(%#x)", byte(d))
}

func (d ZoomDirection) String() string {
	switch d {
	case ZoomIn:
		return "in"
	case ZoomOut:
		return "out"
	case ZoomStop:
		return "stop"
	}
	return fmt.Sprintf("zoom(%#x)", byte(d))
}

// Header is the leading byte of every frame sent to addr
func Header(addr int) byte {
	return addressBit | byte(addr&0x0F)
}

// ReplyAddress is the leading byte of every reply from addr
func ReplyAddress(addr int) byte {
	return byte((addr | 0x08) << 4)
}

// EncodeSigned maps a signed 16-bit value onto its unsigned wire form
func EncodeSigned(v int) uint16 {
	if v < 0 {
		return uint16(0x10000 + v)
	}
	return uint16(v)
}

// DecodeSigned is the inverse of EncodeSigned
func DecodeSigned(v uint16) int {
	if v >= 0x8000 {
		return int(v) - 0x10000
	}
	return int(v)
}

// putNibbles spreads v over four bytes, most significant nibble first
func putNibbles(dst []byte, v uint16) {
	dst[0] = byte(v>>12) & 0x0F
	dst[1] = byte(v>>8) & 0x0F
	dst[2] = byte(v>>4) & 0x0F
	dst[3] = byte(v) & 0x0F
}

func nibbles(src []byte) uint16 {
	return uint16(src[0]&0x0F)<<12 | uint16(src[1]&0x0F)<<8 | uint16(src[2]&0x0F)<<4 | uint16(src[3]&0x0F)
}

// buildFrame constructs a fresh frame: [address byte] [payload...] [terminator]
func buildFrame(addr int, payload ...byte) []byte {
	msg := make([]byte, 0, len(payload)+2)
	msg = append(msg, Header(addr))
	msg = append(msg, payload...)
	msg = append(msg, Terminator)
	return msg
}

// 8x 09 06 12 FF
func positionInquiry(addr int) []byte {
	return buildFrame(addr, 0x09, 0x06, 0x12)
}

// 8x 01 06 02 VV WW 0Y 0Y 0Y 0Y 0Z 0Z 0Z 0Z FF
func setPositionFrame(addr int, pan, tilt int, speed byte) []byte {
	msg := buildFrame(addr, 0x01, 0x06, 0x02, speed, speed, 0, 0, 0, 0, 0, 0, 0, 0)
	putNibbles(msg[6:10], EncodeSigned(pan))
	putNibbles(msg[10:14], EncodeSigned(tilt))
	return msg
}

// 8x 09 04 47 FF
func zoomInquiry(addr int) []byte {
	return buildFrame(addr, 0x09, 0x04, 0x47)
}

// 8x 01 04 47 0p 0q 0r 0s FF
func setZoomFrame(addr int, zoom uint16) []byte {
	msg := buildFrame(addr, 0x01, 0x04, 0x47, 0, 0, 0, 0)
	putNibbles(msg[4:8], zoom)
	return msg
}

// 8x 01 06 01 VV WW XX YY FF. A stopped axis always sends speed zero.
func slewFrame(addr int, panDir PanDirection, panSpeed byte, tiltDir TiltDirection, tiltSpeed byte) []byte {
	if panDir == PanStop {
		panSpeed = 0
	}
	if tiltDir == TiltStop {
		tiltSpeed = 0
	}
	return buildFrame(addr, 0x01, 0x06, 0x01, panSpeed, tiltSpeed, byte(panDir), byte(tiltDir))
}

// 8x 01 04 07 pp FF
func zoomSlewFrame(addr int, dir ZoomDirection, speed byte) []byte {
	var p byte
	if dir != ZoomStop {
		p = byte(dir) + (speed & 0x0F)
	}
	return buildFrame(addr, 0x01, 0x04, 0x07, p)
}

// 8x 01 04 3F 02 pp FF
func recallPresetFrame(addr int, preset byte) []byte {
	return buildFrame(addr, 0x01, 0x04, 0x3F, 0x02, preset)
}

// 8x 01 04 3F 01 pp FF
func setPresetFrame(addr int, preset byte) []byte {
	return buildFrame(addr, 0x01, 0x04, 0x3F, 0x01, preset)
}

// 8x 09 00 02 FF
func versionInquiry(addr int) []byte {
	return buildFrame(addr, 0x09, 0x00, 0x02)
}

// 8x 01 06 04 FF
func homeFrame(addr int) []byte {
	return buildFrame(addr, 0x01, 0x06, 0x04)
}

// 8x 01 06 05 FF
func resetFrame(addr int) []byte {
	return buildFrame(addr, 0x01, 0x06, 0x05)
}

// rawFrame prepends the address byte to a caller supplied payload
func rawFrame(addr int, payload []byte) []byte {
	msg := make([]byte, 0, len(payload)+1)
	msg = append(msg, Header(addr))
	return append(msg, payload...)
}

package visca

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrPortClosed    = errors.New("serial port not open")
	ErrShortRead     = errors.New("incorrect response")
	ErrBadAck        = errors.New("incorrect acknowledgment")
	ErrBadCompletion = errors.New("incorrect completion")
	ErrBadReply      = errors.New("malformed reply")
	ErrWriteTimeout  = errors.New("write timeout")
	ErrDevice        = errors.New("device error")
	ErrInvalidParam  = errors.New("invalid parameter")
)

// Device error codes (y0 6z ee FF)
var deviceErrors = map[byte]string{
	0x01: "message length error",
	0x02: "syntax error",
	0x03: "command buffer full",
	0x04: "command cancelled",
	0x05: "no socket",
	0x41: "command not executable",
}

// Error carries the causal chain of a failed exchange.
// Context holds the innermost cause first; each wrapping operation appends its name.
type Error struct {
	Context []string
	Partial []byte
	Err     error
}

func newError(err error, cause string, partial []byte) *Error {
	e := &Error{Context: []string{cause}, Err: err}
	if len(partial) > 0 {
		e.Partial = append([]byte(nil), partial...)
	}
	return e
}

func inputError(format string, args ...any) *Error {
	return newError(ErrInvalidParam, fmt.Sprintf(format, args...), nil)
}

// Error renders the chain outermost first, e.g. "report failed: get zoom failed: incorrect response"
func (e *Error) Error() string {
	parts := make([]string, 0, len(e.Context))
	for i := len(e.Context) - 1; i >= 0; i-- {
		parts = append(parts, e.Context[i])
	}
	msg := strings.Join(parts, ": ")
	if len(e.Partial) > 0 {
		msg = fmt.Sprintf("%s (received % X)", msg, e.Partial)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Wrap appends context to err's chain. Errors that are not an *Error are
// converted, keeping their message as the innermost cause.
func Wrap(err error, context string) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		e.Context = append(e.Context, context)
		return e
	}
	return &Error{Context: []string{err.Error(), context}, Err: err}
}

// Context returns the chain of causes for err, innermost first
func Context(err error) []string {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return append([]string(nil), e.Context...)
	}
	return []string{err.Error()}
}

// IsInputError reports whether err was raised by parameter validation, before any I/O
func IsInputError(err error) bool {
	return errors.Is(err, ErrInvalidParam)
}

// deviceError looks for a device error frame at the start of b or where the
// completion would sit, and decodes it.
func deviceError(addr int, b []byte) *Error {
	for _, off := range []int{0, 3} {
		if len(b) < off+3 {
			break
		}
		if b[off] != ReplyAddress(addr) || b[off+1]>>4 != errorNibble {
			continue
		}
		code := b[off+2]
		name, ok := deviceErrors[code]
		if !ok {
			name = fmt.Sprintf("unknown error %02X", code)
		}
		return newError(ErrDevice, "device error: "+name, b)
	}
	return nil
}

package serial

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	bugst "go.bug.st/serial"

	"github.com/tarm/serial"
)

// Port abstracts the serial libraries for testability.
type Port interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	Close() error
}

// InputWaiter is implemented by ports that can report unread input bytes.
// Neither the tarm nor the bugst port exposes this, so with the built-in
// drivers the link guards on its own receive state; the link still consults
// InputWaiter for ports that provide it.
type InputWaiter interface {
	InputWaiting() (int, error)
}

// Supported drivers.
const (
	DriverTarm  = "tarm"
	DriverBugst = "bugst"
)

// ErrUnknownDriver is returned by OpenDriver for an unsupported driver name.
var ErrUnknownDriver = errors.New("serial: unknown driver")

// Open opens name with github.com/tarm/serial.
func Open(name string, baud int, readTimeout time.Duration) (Port, error) {
	cfg := &serial.Config{Name: name, Baud: baud, ReadTimeout: readTimeout}
	return serial.OpenPort(cfg)
}

// OpenBugst opens name with go.bug.st/serial (8N1). Its reads are
// interrupted by Close, which shortens link shutdown.
func OpenBugst(name string, baud int, readTimeout time.Duration) (Port, error) {
	mode := &bugst.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   bugst.NoParity,
		StopBits: bugst.OneStopBit,
	}
	p, err := bugst.Open(name, mode)
	if err != nil {
		return nil, err
	}
	if err := p.SetReadTimeout(readTimeout); err != nil {
		_ = p.Close()
		return nil, fmt.Errorf("set read timeout: %w", err)
	}
	return p, nil
}

// OpenDriver dispatches to the named driver.
func OpenDriver(driver, name string, baud int, readTimeout time.Duration) (Port, error) {
	switch driver {
	case DriverTarm, "":
		return Open(name, baud, readTimeout)
	case DriverBugst:
		return OpenBugst(name, baud, readTimeout)
	default:
		return nil, fmt.Errorf("%w %q", ErrUnknownDriver, driver)
	}
}

// IsTransient reports read errors that only mean "no data yet".
func IsTransient(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF)
}

// IsFatal reports read/write errors after which the device is gone or closed.
func IsFatal(err error) bool {
	if errors.Is(err, os.ErrClosed) {
		return true
	}
	var perr *os.PathError
	if errors.As(err, &perr) {
		return true
	}
	var berr *bugst.PortError
	if errors.As(err, &berr) {
		switch berr.Code() {
		case bugst.PortClosed, bugst.PortNotFound, bugst.InvalidSerialPort:
			return true
		}
	}
	return false
}

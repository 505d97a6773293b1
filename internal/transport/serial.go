package transport

import (
	"log/slog"
	"strings"

	"go.bug.st/serial"

	"linkprobe/internal/errors"
)

// serialHandle is a Handle backed by a local serial device.
type serialHandle struct {
	name string
	port serial.Port
}

// serialMode translates Settings into the serial library's mode.
func serialMode(s Settings) (*serial.Mode, error) {
	mode := &serial.Mode{
		BaudRate: s.BaudRate,
		DataBits: s.DataBits,
	}

	switch strings.ToLower(s.Parity) {
	case "", "none":
		mode.Parity = serial.NoParity
	case "odd":
		mode.Parity = serial.OddParity
	case "even":
		mode.Parity = serial.EvenParity
	case "mark":
		mode.Parity = serial.MarkParity
	case "space":
		mode.Parity = serial.SpaceParity
	default:
		return nil, errors.NewValidationError("parity", s.Parity, "expected none, odd, even, mark or space")
	}

	switch s.StopBits {
	case 0, 1:
		mode.StopBits = serial.OneStopBit
	case 1.5:
		mode.StopBits = serial.OnePointFiveStopBits
	case 2:
		mode.StopBits = serial.TwoStopBits
	default:
		return nil, errors.NewValidationError("stop_bits", s.StopBits, "expected 1, 1.5 or 2")
	}

	return mode, nil
}

func openSerial(device string, s Settings) (Handle, error) {
	mode, err := serialMode(s)
	if err != nil {
		return nil, err
	}

	port, err := serial.Open(device, mode)
	if err != nil {
		return nil, errors.NewTransportError("open", device, err)
	}

	if err := port.SetReadTimeout(s.readTimeout()); err != nil {
		port.Close()
		return nil, errors.NewTransportError("set_read_timeout", device, err)
	}

	slog.Debug("Serial port opened",
		"device", device,
		"baud_rate", s.BaudRate,
		"framing", s.Framing())

	return &serialHandle{name: device, port: port}, nil
}

func (h *serialHandle) Name() string {
	return h.name
}

func (h *serialHandle) Write(p []byte) (int, error) {
	n, err := h.port.Write(p)
	if err != nil {
		return n, errors.NewTransportError("write", h.name, err)
	}
	return n, nil
}

// ReadAvailable relies on the port's read timeout: the library returns
// 0, nil when the timeout expires with nothing received.
func (h *serialHandle) ReadAvailable(p []byte) (int, error) {
	n, err := h.port.Read(p)
	if err != nil {
		return n, errors.NewTransportError("read", h.name, err)
	}
	return n, nil
}

func (h *serialHandle) ResetInputBuffer() error {
	if err := h.port.ResetInputBuffer(); err != nil {
		return errors.NewTransportError("reset_input", h.name, err)
	}
	return nil
}

func (h *serialHandle) Close() error {
	if err := h.port.Close(); err != nil {
		return errors.NewTransportError("close", h.name, err)
	}
	return nil
}

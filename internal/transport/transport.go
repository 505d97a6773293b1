// Package transport defines the handle a link trial talks to and opens
// handles for serial devices, TCP serial bridges and simulated links.
package transport

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"linkprobe/internal/errors"
)

// Endpoint schemes understood by Open and OpenPair. Anything without a
// scheme is treated as a serial device name.
const (
	SchemeTCP = "tcp"
	SchemeSim = "sim"
)

// Default handle timings
const (
	DefaultReadTimeout = 20 * time.Millisecond
	DefaultDialTimeout = 5 * time.Second
)

// Handle is one open endpoint of the link under test.
//
// ReadAvailable blocks for at most the handle's read timeout and returns
// 0, nil when nothing arrived in that window. A Handle may be read from one
// goroutine while another goroutine writes to it.
type Handle interface {
	Name() string
	Write(p []byte) (int, error)
	ReadAvailable(p []byte) (int, error)
	ResetInputBuffer() error
	Close() error
}

// Settings configures how an endpoint is opened.
type Settings struct {
	BaudRate     int
	DataBits     int
	Parity       string  // none, odd, even, mark, space
	StopBits     float64 // 1, 1.5 or 2
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// DefaultSettings returns 115200 8N1 with the default poll timeout.
func DefaultSettings() Settings {
	return Settings{
		BaudRate:    115200,
		DataBits:    8,
		Parity:      "none",
		StopBits:    1,
		ReadTimeout: DefaultReadTimeout,
	}
}

// BitsPerChar returns the number of line bits one byte occupies on the wire:
// start bit, data bits, optional parity bit and stop bits.
func (s Settings) BitsPerChar() float64 {
	bits := 1 + float64(s.DataBits) + s.StopBits
	if s.Parity != "" && !strings.EqualFold(s.Parity, "none") {
		bits++
	}
	return bits
}

// Framing returns the conventional short form, e.g. "8N1".
func (s Settings) Framing() string {
	parity := "N"
	if s.Parity != "" {
		parity = strings.ToUpper(s.Parity[:1])
	}
	return fmt.Sprintf("%d%s%g", s.DataBits, parity, s.StopBits)
}

func (s Settings) readTimeout() time.Duration {
	if s.ReadTimeout <= 0 {
		return DefaultReadTimeout
	}
	return s.ReadTimeout
}

// Open opens a single endpoint. Simulated endpoints need their peer and can
// only be opened through OpenPair.
func Open(endpoint string, s Settings) (Handle, error) {
	scheme, rest := splitScheme(endpoint)
	switch scheme {
	case "":
		return openSerial(endpoint, s)
	case SchemeTCP:
		return openTCP(endpoint, rest, s)
	case SchemeSim:
		return nil, errors.NewValidationError("endpoint", endpoint, "simulated endpoints must be opened as a pair")
	default:
		return nil, errors.NewValidationError("endpoint", endpoint, fmt.Sprintf("unsupported scheme %q", scheme))
	}
}

// OpenPair opens both endpoints of the link. If opening the second endpoint
// fails the first is closed again.
func OpenPair(endpointA, endpointB string, s Settings) (Handle, Handle, error) {
	if endpointA == endpointB {
		return nil, nil, errors.NewValidationError("endpoint", endpointA, "both sides of the link refer to the same endpoint")
	}

	schemeA, _ := splitScheme(endpointA)
	schemeB, _ := splitScheme(endpointB)
	if schemeA == SchemeSim || schemeB == SchemeSim {
		if schemeA != schemeB {
			return nil, nil, errors.NewValidationError("endpoint", endpointB, "a simulated endpoint can only be paired with another simulated endpoint")
		}
		return openSimPair(endpointA, endpointB, s)
	}

	a, err := Open(endpointA, s)
	if err != nil {
		return nil, nil, err
	}
	b, err := Open(endpointB, s)
	if err != nil {
		a.Close()
		return nil, nil, err
	}
	return a, b, nil
}

// splitScheme separates "scheme://rest". Windows device names such as COM3
// and plain paths have no scheme.
func splitScheme(endpoint string) (string, string) {
	u, err := url.Parse(endpoint)
	if err != nil || u.Scheme == "" || !strings.Contains(endpoint, "://") {
		return "", endpoint
	}
	return strings.ToLower(u.Scheme), endpoint[len(u.Scheme)+3:]
}

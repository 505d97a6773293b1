package transport

import (
	"log/slog"
	"sort"

	"go.bug.st/serial"
	"go.bug.st/serial/enumerator"

	"linkprobe/internal/errors"
)

// PortInfo describes a serial endpoint found on this machine.
type PortInfo struct {
	Name         string `json:"name" yaml:"name"`
	IsUSB        bool   `json:"is_usb" yaml:"is_usb"`
	VID          string `json:"vid,omitempty" yaml:"vid,omitempty"`
	PID          string `json:"pid,omitempty" yaml:"pid,omitempty"`
	SerialNumber string `json:"serial_number,omitempty" yaml:"serial_number,omitempty"`
	Product      string `json:"product,omitempty" yaml:"product,omitempty"`
}

// ListPorts enumerates serial endpoints, with USB details when the platform
// provides them.
func ListPorts() ([]PortInfo, error) {
	details, err := enumerator.GetDetailedPortsList()
	if err == nil {
		ports := make([]PortInfo, 0, len(details))
		for _, d := range details {
			ports = append(ports, PortInfo{
				Name:         d.Name,
				IsUSB:        d.IsUSB,
				VID:          d.VID,
				PID:          d.PID,
				SerialNumber: d.SerialNumber,
				Product:      d.Product,
			})
		}
		sortPorts(ports)
		return ports, nil
	}

	slog.Debug("Detailed port enumeration failed, falling back to names only", "error", err)

	names, err := serial.GetPortsList()
	if err != nil {
		return nil, errors.NewTransportError("list_ports", "local", err)
	}

	ports := make([]PortInfo, 0, len(names))
	for _, name := range names {
		ports = append(ports, PortInfo{Name: name})
	}
	sortPorts(ports)
	return ports, nil
}

func sortPorts(ports []PortInfo) {
	sort.Slice(ports, func(i, j int) bool { return ports[i].Name < ports[j].Name })
}

package transport

import (
	"fmt"
	"strconv"

	"go.bug.st/serial/enumerator"
)

// PortInfo describes one serial port present on the system.
type PortInfo struct {
	Name         string
	USB          bool
	VendorID     uint16
	ProductID    uint16
	SerialNumber string
	Product      string
}

// Ports lists the serial ports of the system, including USB-serial
// adapters with their vendor and product IDs.
func Ports() ([]PortInfo, error) {
	list, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return nil, fmt.Errorf("enumerating serial ports: %w", err)
	}

	ports := make([]PortInfo, 0, len(list))
	for _, d := range list {
		info := PortInfo{
			Name:         d.Name,
			USB:          d.IsUSB,
			SerialNumber: d.SerialNumber,
			Product:      d.Product,
		}
		if d.IsUSB {
			info.VendorID = parseUSBID(d.VID)
			info.ProductID = parseUSBID(d.PID)
		}
		ports = append(ports, info)
	}
	return ports, nil
}

func parseUSBID(s string) uint16 {
	v, err := strconv.ParseUint(s, 16, 16)
	if err != nil {
		return 0
	}
	return uint16(v)
}

package transport

import (
	"fmt"
	"strconv"
	"strings"
)

// ParseBDAddr parses a Bluetooth device address written as six
// colon-separated hex octets, most significant first.
func ParseBDAddr(s string) ([6]byte, error) {
	var bd [6]byte
	parts := strings.Split(s, ":")
	if len(parts) != len(bd) {
		return bd, fmt.Errorf("invalid Bluetooth address %q", s)
	}
	for i, part := range parts {
		if len(part) != 2 {
			return bd, fmt.Errorf("invalid Bluetooth address %q", s)
		}
		v, err := strconv.ParseUint(part, 16, 8)
		if err != nil {
			return bd, fmt.Errorf("invalid Bluetooth address %q: %w", s, err)
		}
		bd[i] = byte(v)
	}
	return bd, nil
}

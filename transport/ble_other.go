//go:build !linux

package transport

import "errors"

func openBLE(addr string, _ Params) (Conn, error) {
	return nil, &Error{Op: "open", Kind: BLE, Addr: addr, Err: ErrIO,
		Cause: errors.New("Bluetooth LE is only supported on Linux")}
}

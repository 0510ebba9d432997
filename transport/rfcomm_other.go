//go:build !linux

package transport

import "errors"

func openRFCOMM(addr string, _ Params) (Conn, error) {
	return nil, &Error{Op: "open", Kind: Bluetooth, Addr: addr, Err: ErrIO,
		Cause: errors.New("RFCOMM sockets are only supported on Linux")}
}

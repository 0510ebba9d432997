//go:build linux

package transport

import (
	"os"

	"golang.org/x/sys/unix"
)

func openRFCOMM(addr string, p Params) (Conn, error) {
	fail := func(op string, err error) error {
		return &Error{Op: op, Kind: Bluetooth, Addr: addr, Err: classifySocket(err), Cause: err}
	}

	bd, err := ParseBDAddr(addr)
	if err != nil {
		return nil, &Error{Op: "open", Kind: Bluetooth, Addr: addr, Err: ErrIO, Cause: err}
	}

	channel := p.Channel
	if channel == 0 {
		channel = 1
	}

	fd, err := unix.Socket(unix.AF_BLUETOOTH, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, unix.BTPROTO_RFCOMM)
	if err != nil {
		return nil, fail("socket", err)
	}

	// The address is stored least significant byte first.
	sa := &unix.SockaddrRFCOMM{Channel: channel}
	for i := range bd {
		sa.Addr[i] = bd[len(bd)-1-i]
	}

	if err := unix.Connect(fd, sa); err != nil {
		unix.Close(fd)
		return nil, fail("connect", err)
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return nil, fail("connect", err)
	}

	return &fileConn{f: os.NewFile(uintptr(fd), "rfcomm:"+addr), kind: Bluetooth, addr: addr}, nil
}

//go:build linux

package transport

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"tinygo.org/x/bluetooth"
)

// bleMTU is the largest write without response every peripheral accepts.
const bleMTU = 20

type bleConn struct {
	dev  bluetooth.Device
	tx   bluetooth.DeviceCharacteristic
	addr string

	mu     sync.Mutex
	buf    []byte
	ready  chan struct{}
	closed bool
}

// openBLE connects to a GATT peripheral and streams bytes through a pair
// of characteristics: notifications on RX carry device output, writes
// without response on TX carry host commands.
func openBLE(addr string, p Params) (Conn, error) {
	fail := func(op string, err error) error {
		return &Error{Op: op, Kind: BLE, Addr: addr, Err: ErrIO, Cause: err}
	}

	mac, err := bluetooth.ParseMAC(addr)
	if err != nil {
		return nil, fail("open", err)
	}
	svcUUID, err := bluetooth.ParseUUID(p.Service)
	if err != nil {
		return nil, fail("open", fmt.Errorf("service: %w", err))
	}
	rxUUID, err := bluetooth.ParseUUID(p.RX)
	if err != nil {
		return nil, fail("open", fmt.Errorf("rx characteristic: %w", err))
	}
	txUUID, err := bluetooth.ParseUUID(p.TX)
	if err != nil {
		return nil, fail("open", fmt.Errorf("tx characteristic: %w", err))
	}

	adapter := bluetooth.DefaultAdapter
	if err := adapter.Enable(); err != nil {
		return nil, fail("enable adapter", err)
	}

	dev, err := adapter.Connect(bluetooth.Address{MACAddress: bluetooth.MACAddress{MAC: mac}}, bluetooth.ConnectionParams{})
	if err != nil {
		return nil, fail("connect", err)
	}

	svcs, err := dev.DiscoverServices([]bluetooth.UUID{svcUUID})
	if err != nil || len(svcs) == 0 {
		dev.Disconnect()
		return nil, fail("discover services", errors.Join(err, fmt.Errorf("service %s not found", p.Service)))
	}

	chars, err := svcs[0].DiscoverCharacteristics([]bluetooth.UUID{rxUUID, txUUID})
	if err != nil {
		dev.Disconnect()
		return nil, fail("discover characteristics", err)
	}

	c := &bleConn{dev: dev, addr: addr, ready: make(chan struct{}, 1)}
	var rx bluetooth.DeviceCharacteristic
	var haveRX, haveTX bool
	for _, ch := range chars {
		switch ch.UUID() {
		case rxUUID:
			rx, haveRX = ch, true
		case txUUID:
			c.tx, haveTX = ch, true
		}
	}
	if !haveRX || !haveTX {
		dev.Disconnect()
		return nil, fail("discover characteristics", errors.New("rx or tx characteristic missing"))
	}

	if err := rx.EnableNotifications(c.push); err != nil {
		dev.Disconnect()
		return nil, fail("enable notifications", err)
	}

	return c, nil
}

func (c *bleConn) push(data []byte) {
	c.mu.Lock()
	c.buf = append(c.buf, data...)
	c.mu.Unlock()

	select {
	case c.ready <- struct{}{}:
	default:
	}
}

func (c *bleConn) Read(p []byte, timeout time.Duration) (int, error) {
	timer := time.NewTimer(clampTimeout(timeout))
	defer timer.Stop()

	for {
		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			return 0, &Error{Op: "read", Kind: BLE, Addr: c.addr, Err: ErrDisconnected}
		}
		if len(c.buf) > 0 {
			n := copy(p, c.buf)
			c.buf = c.buf[n:]
			c.mu.Unlock()
			return n, nil
		}
		c.mu.Unlock()

		select {
		case <-c.ready:
		case <-timer.C:
			return 0, &Error{Op: "read", Kind: BLE, Addr: c.addr, Err: ErrTimeout}
		}
	}
}

func (c *bleConn) Write(p []byte) (int, error) {
	written := 0
	for written < len(p) {
		end := written + bleMTU
		if end > len(p) {
			end = len(p)
		}
		if _, err := c.tx.WriteWithoutResponse(p[written:end]); err != nil {
			return written, &Error{Op: "write", Kind: BLE, Addr: c.addr, Err: ErrIO, Cause: err}
		}
		written = end
	}
	return written, nil
}

func (c *bleConn) Flush() error {
	c.mu.Lock()
	c.buf = nil
	c.mu.Unlock()
	return nil
}

func (c *bleConn) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()

	if err := c.dev.Disconnect(); err != nil {
		return &Error{Op: "close", Kind: BLE, Addr: c.addr, Err: ErrIO, Cause: err}
	}
	return nil
}

package transport

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/gousb"
)

const usbWriteTimeout = 2 * time.Second

type usbConn struct {
	ctx  *gousb.Context
	dev  *gousb.Device
	done func()
	in   *gousb.InEndpoint
	out  *gousb.OutEndpoint

	kind    Kind
	addr    string
	report  int
	pending []byte
}

// openUSB claims the configured interface of the first device matching the
// descriptor's vendor and product ID, and, when addr is set, its serial
// number. HID devices are driven through their interrupt endpoints with
// fixed-size reports whose first byte carries the payload length.
func openUSB(addr string, p Params) (Conn, error) {
	kind := p.Kind
	fail := func(op string, err error) error {
		return &Error{Op: op, Kind: kind, Addr: addr, Err: classifyUSB(err), Cause: err}
	}

	uctx := gousb.NewContext()
	devs, err := uctx.OpenDevices(func(desc *gousb.DeviceDesc) bool {
		return uint16(desc.Vendor) == p.VendorID && uint16(desc.Product) == p.ProductID
	})
	if err != nil && len(devs) == 0 {
		uctx.Close()
		return nil, fail("enumerate", err)
	}

	var dev *gousb.Device
	for _, d := range devs {
		if dev == nil && matchSerial(d, addr) {
			dev = d
			continue
		}
		d.Close()
	}
	if dev == nil {
		uctx.Close()
		return nil, &Error{Op: "open", Kind: kind, Addr: addr, Err: ErrIO,
			Cause: fmt.Errorf("no device %04X:%04X", p.VendorID, p.ProductID)}
	}

	if err := dev.SetAutoDetach(true); err != nil {
		dev.Close()
		uctx.Close()
		return nil, fail("detach kernel driver", err)
	}

	cfg, err := dev.Config(1)
	if err != nil {
		dev.Close()
		uctx.Close()
		return nil, fail("config", err)
	}

	intf, err := cfg.Interface(p.Interface, 0)
	if err != nil {
		cfg.Close()
		dev.Close()
		uctx.Close()
		return nil, fail("claim interface", err)
	}

	done := func() {
		intf.Close()
		cfg.Close()
	}

	in, err := intf.InEndpoint(p.InEndpoint)
	if err != nil {
		done()
		dev.Close()
		uctx.Close()
		return nil, fail("in endpoint", err)
	}

	out, err := intf.OutEndpoint(p.OutEndpoint)
	if err != nil {
		done()
		dev.Close()
		uctx.Close()
		return nil, fail("out endpoint", err)
	}

	c := &usbConn{ctx: uctx, dev: dev, done: done, in: in, out: out, kind: kind, addr: addr}
	if kind == USBHID {
		c.report = p.ReportSize
		if c.report == 0 {
			c.report = 64
		}
	}
	return c, nil
}

func matchSerial(d *gousb.Device, serial string) bool {
	if serial == "" {
		return true
	}
	sn, err := d.SerialNumber()
	return err == nil && sn == serial
}

func (c *usbConn) Read(p []byte, timeout time.Duration) (int, error) {
	if len(c.pending) == 0 {
		if err := c.fill(clampTimeout(timeout)); err != nil {
			return 0, err
		}
	}

	n := copy(p, c.pending)
	c.pending = c.pending[n:]
	return n, nil
}

func (c *usbConn) fill(timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	size := c.in.Desc.MaxPacketSize
	if c.report > size {
		size = c.report
	}
	buf := make([]byte, size)

	n, err := c.in.ReadContext(ctx, buf)
	if err != nil {
		return &Error{Op: "read", Kind: c.kind, Addr: c.addr, Err: classifyUSB(err), Cause: err}
	}
	buf = buf[:n]

	if c.report > 0 {
		buf, err = unpackReport(buf)
		if err != nil {
			return &Error{Op: "read", Kind: c.kind, Addr: c.addr, Err: ErrIO, Cause: err}
		}
	}
	if len(buf) == 0 {
		return &Error{Op: "read", Kind: c.kind, Addr: c.addr, Err: ErrTimeout}
	}

	c.pending = append(c.pending, buf...)
	return nil
}

func (c *usbConn) Write(p []byte) (int, error) {
	chunks := [][]byte{p}
	if c.report > 0 {
		chunks = packReports(p, c.report)
	}

	written := 0
	for _, chunk := range chunks {
		ctx, cancel := context.WithTimeout(context.Background(), usbWriteTimeout)
		_, err := c.out.WriteContext(ctx, chunk)
		cancel()
		if err != nil {
			return written, &Error{Op: "write", Kind: c.kind, Addr: c.addr, Err: classifyUSB(err), Cause: err}
		}
		if c.report > 0 {
			written += int(chunk[0])
		} else {
			written += len(chunk)
		}
	}
	return written, nil
}

func (c *usbConn) Flush() error {
	c.pending = nil
	return nil
}

func (c *usbConn) Close() error {
	c.done()
	err := c.dev.Close()
	if cerr := c.ctx.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return &Error{Op: "close", Kind: c.kind, Addr: c.addr, Err: ErrIO, Cause: err}
	}
	return nil
}

// packReports splits p into HID reports of the given size. Each report is
// a length byte followed by up to size-1 payload bytes and zero padding.
func packReports(p []byte, size int) [][]byte {
	var reports [][]byte
	for len(p) > 0 {
		n := len(p)
		if n > size-1 {
			n = size - 1
		}
		r := make([]byte, size)
		r[0] = byte(n)
		copy(r[1:], p[:n])
		reports = append(reports, r)
		p = p[n:]
	}
	return reports
}

func unpackReport(r []byte) ([]byte, error) {
	if len(r) == 0 {
		return nil, nil
	}
	n := int(r[0])
	if n > len(r)-1 {
		return nil, fmt.Errorf("report declares %d bytes, has %d", n, len(r)-1)
	}
	return r[1 : 1+n], nil
}

func classifyUSB(err error) error {
	switch {
	case errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, gousb.TransferTimedOut),
		errors.Is(err, gousb.TransferCancelled),
		errors.Is(err, gousb.ErrorTimeout):
		return ErrTimeout
	case errors.Is(err, gousb.TransferNoDevice),
		errors.Is(err, gousb.ErrorNoDevice):
		return ErrDisconnected
	}
	return ErrIO
}

package transport

// DefaultIrCOMMPort is the tty the Linux IrCOMM layer exposes for the first
// discovered infrared peer.
const DefaultIrCOMMPort = "/dev/ircomm0"

// openIrDA reaches infrared dive computers through the IrCOMM tty
// emulation. Control lines have no meaning over infrared and are left alone.
func openIrDA(addr string, p Params) (Conn, error) {
	if addr == "" {
		addr = DefaultIrCOMMPort
	}
	if p.BaudRate == 0 {
		p.BaudRate = 9600
	}
	p.DTR, p.RTS = LineUntouched, LineUntouched
	p.FlowControl = NoFlowControl

	return openPort(IrDA, addr, p)
}

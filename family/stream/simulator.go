package stream

import (
	"encoding/binary"
	"sync"

	"go.tigermatt.uk/dive/internal/simlink"
	"go.tigermatt.uk/dive/registry"
)

// Device is the logic of an emulated stream dive computer.
type Device struct {
	mu sync.Mutex

	ident []byte
	dives [][]byte

	next int
	last []byte
	sent map[int]int
}

// NewDevice returns a device identifying as desc's model and holding dives
// in the order it transmits them.
func NewDevice(desc registry.Descriptor, serial uint32, dives ...[]byte) *Device {
	ident := make([]byte, 4, identLen)
	copy(ident, desc.ModelID)
	ident = binary.LittleEndian.AppendUint32(ident, serial)

	return &Device{ident: ident, dives: dives, sent: map[int]int{}}
}

func (d *Device) Handle(req []byte) []byte {
	d.mu.Lock()
	defer d.mu.Unlock()

	switch req[0] {
	case cmdHello:
		return append([]byte{cmdHello}, d.ident...)
	case cmdDump:
		d.next = 0
		return d.packet()
	case cmdACK:
		if d.last == nil {
			return nil
		}
		d.next++
		return d.packet()
	case cmdNAK:
		if d.last != nil && d.last[0] == cmdDump {
			d.sent[d.next]++
		}
		return d.last
	}
	return nil
}

func (d *Device) packet() []byte {
	if d.next >= len(d.dives) {
		d.last = binary.LittleEndian.AppendUint16([]byte{cmdEnd}, uint16(len(d.dives)))
		return d.last
	}
	d.sent[d.next]++
	d.last = append([]byte{cmdDump, byte(d.next)}, d.dives[d.next]...)
	return d.last
}

// Sent reports how many times dive i went on the wire.
func (d *Device) Sent(i int) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.sent[i]
}

// Simulator is a stream device behind an in-memory link. It is both the
// transport.Opener and the transport.Conn of a session.
type Simulator struct {
	*simlink.Link
	*Device
}

func NewSimulator(desc registry.Descriptor, serial uint32, dives ...[]byte) (*Simulator, error) {
	dev := NewDevice(desc, serial, dives...)
	link, err := simlink.New(desc.Framing, dev)
	if err != nil {
		return nil, err
	}
	return &Simulator{Link: link, Device: dev}, nil
}

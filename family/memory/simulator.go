package memory

import (
	"encoding/binary"
	"sync"

	"go.tigermatt.uk/dive/internal/simlink"
	"go.tigermatt.uk/dive/registry"
)

// Device is the logic of an emulated memory dive computer.
type Device struct {
	mu sync.Mutex

	ident []byte
	image []byte

	baud  []byte
	reads map[int]int
}

// NewDevice returns a device identifying as desc's model, holding image
// and answering reads of at most block bytes.
func NewDevice(desc registry.Descriptor, serial uint32, block int, image []byte) *Device {
	ident := make([]byte, 4, identLen)
	copy(ident, desc.ModelID)
	ident = binary.LittleEndian.AppendUint32(ident, serial)
	ident = binary.LittleEndian.AppendUint32(ident, uint32(len(image)))
	ident = append(ident, byte(block), 2, 10, 0)

	return &Device{ident: ident, image: image, reads: map[int]int{}}
}

func (d *Device) Handle(req []byte) []byte {
	d.mu.Lock()
	defer d.mu.Unlock()

	switch {
	case req[0] == cmdIdent:
		return append([]byte{cmdIdent}, d.ident...)
	case req[0] == cmdBaud && len(req) == 2:
		d.baud = append(d.baud, req[1])
		return req
	case req[0] == cmdRead && len(req) == readHeader+1:
		addr := int(binary.LittleEndian.Uint32(req[1:5]))
		n := int(req[5])
		if addr+n > len(d.image) {
			return nil
		}
		d.reads[addr]++
		return append(append([]byte(nil), req[:readHeader]...), d.image[addr:addr+n]...)
	}
	return nil
}

// Reads reports how many times the block at addr was read.
func (d *Device) Reads(addr int) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.reads[addr]
}

// BaudSwitches lists the baud codes the host asked for.
func (d *Device) BaudSwitches() []byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]byte(nil), d.baud...)
}

// Simulator is a memory device behind an in-memory link.
type Simulator struct {
	*simlink.Link
	*Device
}

func NewSimulator(desc registry.Descriptor, serial uint32, block int, image []byte) (*Simulator, error) {
	dev := NewDevice(desc, serial, block, image)
	link, err := simlink.New(desc.Framing, dev)
	if err != nil {
		return nil, err
	}
	return &Simulator{Link: link, Device: dev}, nil
}

package hdlc

import (
	"encoding/binary"
	"fmt"
)

// Frame layout (unescaped):
//
//	[0]        start marker 0x7E
//	[1]        address; bits 7..6 select the class
//	[2:4]      control; low nibble of byte 3 is the control flag
//	[4:4+n]    information, n = 0 (ACK/NACK), 4 (ALARM) or 8 (DATA/COMMAND)
//	[4+n:6+n]  fcs, little-endian, over [1:4+n]
//	[6+n]      stop marker 0x7E
const (
	MinFrameSize = 7
	MaxInfoSize  = 8
	MaxFrameSize = MinFrameSize + MaxInfoSize

	offAddress = 1
	offControl = 2
	offInfo    = 4
)

// Address class bits.
const (
	AddrData    byte = 0x40
	AddrCommand byte = 0x80
	AddrAlarm   byte = 0xC0
	classMask   byte = 0xC0
)

// Control flags carried in the low nibble of the second control byte.
const (
	CtrlNormal byte = 0x00
	CtrlACK    byte = 0x01
	CtrlNACK   byte = 0x05
	ctrlMask   byte = 0x0F
)

// DefaultValueWidth is the number of information bytes SetInformation
// callers use for scalar values.
const DefaultValueWidth = 2

// Class is the queue a frame belongs to, derived from the address bits.
type Class uint8

const (
	ClassUnknown Class = iota
	ClassData
	ClassCommand
	ClassAlarm
)

// ClassOf maps an address byte to its class.
func ClassOf(address byte) Class {
	switch address & classMask {
	case AddrAlarm:
		return ClassAlarm
	case AddrCommand:
		return ClassCommand
	case AddrData:
		return ClassData
	default:
		return ClassUnknown
	}
}

// Address returns the base address byte of the class (zero for unknown).
func (c Class) Address() byte {
	switch c {
	case ClassAlarm:
		return AddrAlarm
	case ClassCommand:
		return AddrCommand
	case ClassData:
		return AddrData
	default:
		return 0
	}
}

// InfoSize is the information width carried by frames of the class.
func (c Class) InfoSize() int {
	switch c {
	case ClassAlarm:
		return 4
	case ClassCommand, ClassData:
		return 8
	default:
		return 0
	}
}

func (c Class) String() string {
	switch c {
	case ClassAlarm:
		return "alarm"
	case ClassCommand:
		return "command"
	case ClassData:
		return "data"
	default:
		return "unknown"
	}
}

// Packet is an unescaped frame, markers included. The FCS is kept in sync
// with every mutation.
type Packet struct {
	raw []byte
}

// New builds an empty frame with the given information width.
func New(address byte, control [2]byte, infoSize int) *Packet {
	if infoSize < 0 || infoSize > MaxInfoSize {
		infoSize = 0
	}
	raw := make([]byte, MinFrameSize+infoSize)
	raw[0] = Flag
	raw[offAddress] = address
	raw[offControl] = control[0]
	raw[offControl+1] = control[1]
	raw[len(raw)-1] = Flag
	p := &Packet{raw: raw}
	p.updateFCS()
	return p
}

// NewClass builds a normal (information) frame for class c.
func NewClass(c Class) *Packet { return New(c.Address(), [2]byte{0x00, CtrlNormal}, c.InfoSize()) }

func NewData() *Packet    { return NewClass(ClassData) }
func NewCommand() *Packet { return NewClass(ClassCommand) }
func NewAlarm() *Packet   { return NewClass(ClassAlarm) }

// NewACK acknowledges a frame received with the given address.
func NewACK(address byte) *Packet { return New(address, [2]byte{0x00, CtrlACK}, 0) }

// NewNACK rejects a frame received with the given address.
func NewNACK(address byte) *Packet { return New(address, [2]byte{0x00, CtrlNACK}, 0) }

// Parse validates an unescaped frame (markers, FCS and, for classified
// addresses, the information width) and wraps a copy of it.
func Parse(frame []byte) (*Packet, error) {
	if len(frame) < MinFrameSize {
		return nil, fmt.Errorf("%w (%d bytes)", ErrShortFrame, len(frame))
	}
	if len(frame) > MaxFrameSize {
		return nil, fmt.Errorf("%w (%d bytes)", ErrOverflow, len(frame))
	}
	if frame[0] != Flag || frame[len(frame)-1] != Flag {
		return nil, ErrBadMarker
	}
	if !Verify(frame) {
		return nil, ErrChecksum
	}
	if want, ok := expectedInfoSize(frame); ok && len(frame)-MinFrameSize != want {
		return nil, fmt.Errorf("%w: %s frame with %d bytes, want %d",
			ErrInfoSize, ClassOf(frame[offAddress]), len(frame)-MinFrameSize, want)
	}
	raw := make([]byte, len(frame))
	copy(raw, frame)
	return &Packet{raw: raw}, nil
}

// expectedInfoSize is the information width a frame must carry: none for
// ACK/NACK, the class width otherwise. ok is false for unclassified addresses.
func expectedInfoSize(frame []byte) (int, bool) {
	c := ClassOf(frame[offAddress])
	if c == ClassUnknown {
		return 0, false
	}
	switch frame[offControl+1] & ctrlMask {
	case CtrlACK, CtrlNACK:
		return 0, true
	}
	return c.InfoSize(), true
}

func (p *Packet) infoEnd() int { return len(p.raw) - 3 }

func (p *Packet) updateFCS() {
	fcs := Checksum(p.raw[offAddress:p.infoEnd()])
	copy(p.raw[p.infoEnd():], fcs[:])
}

// SetInformation writes value little-endian into the leading width bytes of
// the information field and zero-fills the rest.
func (p *Packet) SetInformation(value uint64, width int) error {
	size := p.InfoSize()
	if width <= 0 || width > size {
		return fmt.Errorf("hdlc: information width %d out of range 1..%d", width, size)
	}
	var tmp [8]byte
	binary.LittleEndian.PutUint64(tmp[:], value)
	if width < 8 && value>>(8*uint(width)) != 0 {
		return fmt.Errorf("hdlc: value %d does not fit in %d bytes", value, width)
	}
	return p.SetInformationBytes(tmp[:width])
}

// SetInformationBytes copies b into the information field and zero-fills the rest.
func (p *Packet) SetInformationBytes(b []byte) error {
	size := p.InfoSize()
	if len(b) > size {
		return fmt.Errorf("hdlc: information of %d bytes exceeds %d", len(b), size)
	}
	info := p.raw[offInfo:p.infoEnd()]
	n := copy(info, b)
	clear(info[n:])
	p.updateFCS()
	return nil
}

func (p *Packet) Address() byte { return p.raw[offAddress] }
func (p *Packet) Class() Class  { return ClassOf(p.raw[offAddress]) }
func (p *Packet) InfoSize() int { return len(p.raw) - MinFrameSize }
func (p *Packet) Len() int      { return len(p.raw) }

func (p *Packet) Control() [2]byte {
	return [2]byte{p.raw[offControl], p.raw[offControl+1]}
}

// ControlFlag returns the low nibble of the second control byte.
func (p *Packet) ControlFlag() byte { return p.raw[offControl+1] & ctrlMask }

func (p *Packet) IsACK() bool  { return p.ControlFlag() == CtrlACK }
func (p *Packet) IsNACK() bool { return p.ControlFlag() == CtrlNACK }

// Information returns a copy of the information field.
func (p *Packet) Information() []byte {
	out := make([]byte, p.InfoSize())
	copy(out, p.raw[offInfo:p.infoEnd()])
	return out
}

// Value decodes the whole information field as a little-endian integer.
func (p *Packet) Value() uint64 {
	var tmp [8]byte
	copy(tmp[:], p.raw[offInfo:p.infoEnd()])
	return binary.LittleEndian.Uint64(tmp[:])
}

func (p *Packet) FCS() [2]byte {
	i := p.infoEnd()
	return [2]byte{p.raw[i], p.raw[i+1]}
}

// Bytes returns a copy of the unescaped frame.
func (p *Packet) Bytes() []byte {
	out := make([]byte, len(p.raw))
	copy(out, p.raw)
	return out
}

// Encode returns the byte-stuffed wire form.
func (p *Packet) Encode() []byte { return Encode(p.raw) }

// Clone returns an independent copy.
func (p *Packet) Clone() *Packet { return &Packet{raw: p.Bytes()} }

func (p *Packet) String() string {
	kind := "info"
	switch p.ControlFlag() {
	case CtrlACK:
		kind = "ack"
	case CtrlNACK:
		kind = "nack"
	}
	return fmt.Sprintf("%s/%s addr=0x%02X info=% X", p.Class(), kind, p.Address(), p.raw[offInfo:p.infoEnd()])
}

package hdlc

import "github.com/sigurn/crc16"

// CRC-16/X25: poly 0x1021, init 0xFFFF, reflected in/out, xorout 0xFFFF.
var x25Table = crc16.MakeTable(crc16.CRC16_X_25)

// Checksum returns the FCS of span in wire order (little-endian).
func Checksum(span []byte) [2]byte {
	v := crc16.Checksum(span, x25Table)
	return [2]byte{byte(v), byte(v >> 8)}
}

// Verify recomputes the FCS of an unescaped frame (markers included) over
// address..information and compares it with the received fcs field.
func Verify(frame []byte) bool {
	if len(frame) < MinFrameSize {
		return false
	}
	fcs := len(frame) - 3
	sum := Checksum(frame[1:fcs])
	return sum[0] == frame[fcs] && sum[1] == frame[fcs+1]
}

package hdlc

import "errors"

// Reserved byte values on the wire.
const (
	Flag   byte = 0x7E // start and stop marker
	Escape byte = 0x7D
	escXor byte = 0x20
)

// Framing errors. A frame failing with any of these is dropped by the receiver.
var (
	ErrBadMarker    = errors.New("hdlc: missing frame marker")
	ErrUnterminated = errors.New("hdlc: unterminated frame")
	ErrBadEscape    = errors.New("hdlc: escape before terminator")
	ErrShortFrame   = errors.New("hdlc: frame too short")
	ErrOverflow     = errors.New("hdlc: frame exceeds receive buffer")
	ErrInfoSize     = errors.New("hdlc: information width does not match class")
)

// ErrChecksum is returned by Parse when the FCS does not match.
var ErrChecksum = errors.New("hdlc: checksum mismatch")

// Encode byte-stuffs a raw frame. The first and last bytes are the markers
// and are copied literally; every Flag or Escape between them becomes
// Escape, b^0x20.
func Encode(body []byte) []byte {
	if len(body) == 0 {
		return nil
	}
	out := make([]byte, 0, len(body)+4)
	out = append(out, body[0])
	if len(body) == 1 {
		return out
	}
	for _, b := range body[1 : len(body)-1] {
		if b == Flag || b == Escape {
			out = append(out, Escape, b^escXor)
			continue
		}
		out = append(out, b)
	}
	return append(out, body[len(body)-1])
}

// Decode reverses Encode for the frame whose start marker sits at
// stuffed[start]. It scans up to the next marker and returns the unescaped
// frame with both markers in place.
func Decode(stuffed []byte, start int) ([]byte, error) {
	if start < 0 || start >= len(stuffed) || stuffed[start] != Flag {
		return nil, ErrBadMarker
	}
	out := make([]byte, 0, len(stuffed)-start)
	out = append(out, Flag)
	escaped := false
	for _, b := range stuffed[start+1:] {
		switch {
		case b == Flag:
			if escaped {
				return nil, ErrBadEscape
			}
			return append(out, Flag), nil
		case escaped:
			out = append(out, b^escXor)
			escaped = false
		case b == Escape:
			escaped = true
		default:
			out = append(out, b)
		}
	}
	return nil, ErrUnterminated
}

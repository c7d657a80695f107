package hdlc

// State of the receive-side frame search.
type State int

const (
	Idle State = iota
	InFrame
)

func (s State) String() string {
	if s == InFrame {
		return "in_frame"
	}
	return "idle"
}

// maxStuffed bounds the accumulated candidate: every body byte escaped plus
// both markers.
const maxStuffed = 2*(MaxFrameSize-2) + 2

// Deframer finds frames in a byte stream one byte at a time. It is not safe
// for concurrent use.
type Deframer struct {
	state State
	buf   []byte
}

// State reports whether a frame is being accumulated.
func (d *Deframer) State() State { return d.state }

// InFrame is shorthand for State() == InFrame.
func (d *Deframer) InFrame() bool { return d.state == InFrame }

// Reset drops any partial frame.
func (d *Deframer) Reset() {
	d.state = Idle
	d.buf = d.buf[:0]
}

// Feed consumes one byte. done is true when b terminated a candidate; frame
// then holds the unescaped frame (markers included) or err the framing
// failure. The buffer is cleared on every terminator.
//
// Two adjacent markers carry no body: the second one is taken as the start
// of the next frame so a receiver that joined mid-stream resynchronises.
// The deframer therefore stays InFrame after a marker until more bytes
// arrive; callers that gate on InFrame must bound it in time (the link
// drops a partial frame once the line has been quiet for its rx window).
func (d *Deframer) Feed(b byte) (frame []byte, done bool, err error) {
	switch d.state {
	case Idle:
		if b == Flag {
			d.buf = append(d.buf[:0], b)
			d.state = InFrame
		}
		return nil, false, nil
	default:
		if b != Flag {
			d.buf = append(d.buf, b)
			if len(d.buf) > maxStuffed {
				d.Reset()
				return nil, true, ErrOverflow
			}
			return nil, false, nil
		}
		if len(d.buf) == 1 {
			return nil, false, nil
		}
		d.buf = append(d.buf, b)
		frame, err = Decode(d.buf, 0)
		d.Reset()
		return frame, true, err
	}
}

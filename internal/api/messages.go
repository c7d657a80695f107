// Package api defines the JSON messages exchanged with user interfaces on the
// broadcast and request sockets, and turns requests into COMMAND payloads.
package api

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/kstaniek/go-hev-server/internal/hdlc"
)

// Message types.
const (
	TypeBroadcast     = "broadcast"
	TypeSetMode       = "setmode"
	TypeSetThresholds = "setthresholds"
	TypeSetup         = "setup"
	TypeAckMode       = "ackmode"
	TypeAckThresholds = "ackthresholds"
	TypeAck           = "ack"
	TypeNack          = "nack"
)

// MaxRequestSize is the most a request connection is read for.
const MaxRequestSize = 300

// MaxThresholds bounds the thresholds accepted in one request so a setup
// fits the command queue next to its mode change.
const MaxThresholds = 8

// COMMAND types carried in the first information byte.
const (
	CmdSetMode      byte = 0x01
	CmdSetThreshold byte = 0x02
)

// Modes maps ventilation mode names to their command parameter.
var Modes = map[string]uint32{
	"breathe": 0,
	"purge":   1,
	"flush":   2,
}

var (
	ErrUnknownType = errors.New("api: unknown request type")
	ErrUnknownMode = errors.New("api: unknown mode")
	ErrThresholds  = errors.New("api: invalid thresholds")
)

// ModeNames returns the known modes in sorted order.
func ModeNames() []string {
	out := make([]string, 0, len(Modes))
	for m := range Modes {
		out = append(out, m)
	}
	sort.Strings(out)
	return out
}

type Broadcast struct {
	Type    string   `json:"type"`
	Sensors []uint64 `json:"sensors"`
	Alarms  []string `json:"alarms"`
}

// NewBroadcast never yields null lists so UIs can iterate unconditionally.
func NewBroadcast(sensors []uint64, alarms []string) Broadcast {
	if sensors == nil {
		sensors = []uint64{}
	}
	if alarms == nil {
		alarms = []string{}
	}
	return Broadcast{Type: TypeBroadcast, Sensors: sensors, Alarms: alarms}
}

type Request struct {
	Type       string   `json:"type"`
	Mode       string   `json:"mode,omitempty"`
	Thresholds []uint32 `json:"thresholds,omitempty"`
}

type Reply struct {
	Type       string   `json:"type"`
	Mode       string   `json:"mode,omitempty"`
	Thresholds []uint32 `json:"thresholds,omitempty"`
	Error      string   `json:"error,omitempty"`
}

// DecodeRequest parses one request and checks the fields its type needs.
func DecodeRequest(b []byte) (Request, error) {
	var r Request
	if err := json.Unmarshal(b, &r); err != nil {
		return r, fmt.Errorf("decode request: %w", err)
	}
	switch r.Type {
	case TypeSetMode:
		return r, checkMode(r.Mode)
	case TypeSetThresholds:
		return r, checkThresholds(r.Thresholds)
	case TypeSetup:
		if err := checkMode(r.Mode); err != nil {
			return r, err
		}
		return r, checkThresholds(r.Thresholds)
	default:
		return r, fmt.Errorf("%w %q", ErrUnknownType, r.Type)
	}
}

func checkMode(m string) error {
	if _, ok := Modes[m]; !ok {
		return fmt.Errorf("%w %q", ErrUnknownMode, m)
	}
	return nil
}

func checkThresholds(th []uint32) error {
	if len(th) == 0 || len(th) > MaxThresholds {
		return fmt.Errorf("%w: %d values (1..%d)", ErrThresholds, len(th), MaxThresholds)
	}
	return nil
}

// CommandInfo lays out a COMMAND information field:
// [cmd, index, value (uint32 little-endian), 0, 0].
func CommandInfo(cmd, index byte, value uint32) []byte {
	info := make([]byte, hdlc.ClassCommand.InfoSize())
	info[0] = cmd
	info[1] = index
	binary.LittleEndian.PutUint32(info[2:6], value)
	return info
}

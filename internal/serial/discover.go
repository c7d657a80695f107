package serial

import (
	"errors"
	"fmt"
	"strings"

	"go.bug.st/serial/enumerator"
)

// ErrNoPort is returned by Discover when no candidate board is attached.
var ErrNoPort = errors.New("serial: no matching port found")

// listPorts is a hook for tests.
var listPorts = enumerator.GetDetailedPortsList

// USB vendor IDs of Arduino boards and the common CH340 clones.
var boardVIDs = map[string]struct{}{
	"2341": {},
	"2A03": {},
	"1A86": {},
}

// Discover returns the device name of the first USB serial port that looks
// like a microcontroller board.
func Discover() (string, error) {
	ports, err := listPorts()
	if err != nil {
		return "", fmt.Errorf("enumerate ports: %w", err)
	}
	for _, p := range ports {
		if matchBoard(p) {
			return p.Name, nil
		}
	}
	return "", ErrNoPort
}

func matchBoard(p *enumerator.PortDetails) bool {
	if p == nil || !p.IsUSB {
		return false
	}
	if strings.Contains(strings.ToUpper(p.Product), "ARDUINO") {
		return true
	}
	_, ok := boardVIDs[strings.ToUpper(p.VID)]
	return ok
}

package main

import (
	"os"

	"github.com/denisbrodbeck/machineid"
)

// machineID is a hook for tests.
var machineID = func() (string, error) { return machineid.ProtectedID("hev-server") }

// hostTag returns a short stable identifier for this host: the first eight
// characters of the app-scoped machine id, or the hostname when the id is
// unavailable (containers without /etc/machine-id).
func hostTag() string {
	if id, err := machineID(); err == nil && len(id) >= 8 {
		return id[:8]
	}
	if h, err := os.Hostname(); err == nil && h != "" {
		return h
	}
	return "unknown"
}

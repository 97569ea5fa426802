// Package accel exposes the accelerator capability probe and the device
// synchronization barrier used when timing asynchronous work.
package accel

import (
	"os/exec"
	"strings"
	"sync"
)

// Capabilities describes the accelerators visible to this process
type Capabilities struct {
	Available bool     `json:"available" yaml:"available"`
	Devices   []string `json:"devices,omitempty" yaml:"devices,omitempty"`
	Driver    string   `json:"driver,omitempty" yaml:"driver,omitempty"`
}

// Count returns the number of detected devices
func (c Capabilities) Count() int {
	return len(c.Devices)
}

var (
	probeOnce sync.Once
	probed    Capabilities

	// queryGPUs runs the vendor tool; replaced in tests.
	queryGPUs = func() ([]byte, error) {
		return exec.Command("nvidia-smi", "--query-gpu=name,driver_version", "--format=csv,noheader").Output()
	}
)

// Detect probes for accelerators once per process and caches the result.
// A missing or failing vendor tool means no accelerator.
func Detect() Capabilities {
	probeOnce.Do(func() {
		out, err := queryGPUs()
		if err != nil {
			return
		}
		probed = parseQuery(string(out))
	})
	return probed
}

// parseQuery parses "name, driver" CSV lines, one per device
func parseQuery(out string) Capabilities {
	var caps Capabilities
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		name, driver, _ := strings.Cut(line, ",")
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		caps.Devices = append(caps.Devices, name)
		if caps.Driver == "" {
			caps.Driver = strings.TrimSpace(driver)
		}
	}
	caps.Available = len(caps.Devices) > 0
	return caps
}

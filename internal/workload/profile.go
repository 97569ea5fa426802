// Package workload drives a synthetic iterative training-style loop through
// a timing tracker. It exists to exercise the tracker, sinks and exporters
// end to end and to produce reproducible timing data.
package workload

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/psantana5/phasetime/pkg/timing"
)

// PhaseSpec describes one phase executed on every step
type PhaseSpec struct {
	Name     string        `yaml:"name" json:"name"`
	Duration time.Duration `yaml:"duration" json:"duration"`
	// Jitter is a fraction of Duration applied uniformly in both directions
	Jitter float64 `yaml:"jitter,omitempty" json:"jitter,omitempty"`
	// Calls per step, default 1
	Calls int `yaml:"calls,omitempty" json:"calls,omitempty"`
	// Device phases are dispatched asynchronously to the device stream
	Device bool `yaml:"device,omitempty" json:"device,omitempty"`
	// Sync overrides the tracker's device synchronization default
	Sync *bool `yaml:"sync,omitempty" json:"sync,omitempty"`
	// FailEvery makes every Nth call of the phase fail
	FailEvery int `yaml:"fail_every,omitempty" json:"fail_every,omitempty"`
}

// Profile describes a complete synthetic run
type Profile struct {
	Name          string      `yaml:"name" json:"name"`
	Epochs        int         `yaml:"epochs" json:"epochs"`
	StepsPerEpoch int         `yaml:"steps_per_epoch" json:"steps_per_epoch"`
	Cumulative    bool        `yaml:"cumulative,omitempty" json:"cumulative,omitempty"`
	Phases        []PhaseSpec `yaml:"phases" json:"phases"`
}

// DefaultProfile mimics a model-based agent with a diffusion world model
func DefaultProfile() Profile {
	return Profile{
		Name:          "default",
		Epochs:        3,
		StepsPerEpoch: 5,
		Phases: []PhaseSpec{
			{Name: timing.EnvInteraction, Duration: 2 * time.Millisecond, Jitter: 0.2, Calls: 4},
			{Name: timing.ImaginationRollout, Duration: 3 * time.Millisecond, Jitter: 0.1, Device: true},
			{Name: timing.DiffusionSamplingTeacher, Duration: 4 * time.Millisecond, Jitter: 0.1, Device: true},
			{Name: timing.DiffusionSamplingStudent, Duration: time.Millisecond, Jitter: 0.1, Device: true},
			{Name: timing.DistillationOracleQuery, Duration: time.Millisecond, Jitter: 0.3},
			{Name: timing.WorldModelUpdate, Duration: 2 * time.Millisecond, Jitter: 0.1, Device: true},
			{Name: timing.PolicyValueUpdate, Duration: 3 * time.Millisecond, Jitter: 0.1, Device: true},
		},
	}
}

// LoadProfile reads a YAML profile from path
func LoadProfile(path string) (Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Profile{}, fmt.Errorf("failed to read profile: %w", err)
	}
	return ParseProfile(data)
}

// ParseProfile decodes and validates a YAML profile
func ParseProfile(data []byte) (Profile, error) {
	var p Profile
	if err := yaml.Unmarshal(data, &p); err != nil {
		return Profile{}, fmt.Errorf("failed to parse profile: %w", err)
	}
	if err := p.Validate(); err != nil {
		return Profile{}, err
	}
	return p, nil
}

// Validate checks the profile for values the runner cannot execute
func (p Profile) Validate() error {
	var errs []error
	if p.Epochs <= 0 {
		errs = append(errs, fmt.Errorf("epochs must be positive, got %d", p.Epochs))
	}
	if p.StepsPerEpoch <= 0 {
		errs = append(errs, fmt.Errorf("steps_per_epoch must be positive, got %d", p.StepsPerEpoch))
	}
	if len(p.Phases) == 0 {
		errs = append(errs, errors.New("profile has no phases"))
	}

	seen := make(map[string]bool)
	for i, ph := range p.Phases {
		switch {
		case ph.Name == "":
			errs = append(errs, fmt.Errorf("phase %d has no name", i))
		case ph.Name == timing.EpochWall:
			errs = append(errs, fmt.Errorf("phase %d: %s is recorded by the runner", i, timing.EpochWall))
		case seen[ph.Name]:
			errs = append(errs, fmt.Errorf("phase %q listed twice", ph.Name))
		}
		seen[ph.Name] = true

		if ph.Duration < 0 {
			errs = append(errs, fmt.Errorf("phase %q: negative duration", ph.Name))
		}
		if ph.Jitter < 0 || ph.Jitter > 1 {
			errs = append(errs, fmt.Errorf("phase %q: jitter must be within [0, 1]", ph.Name))
		}
		if ph.Calls < 0 || ph.FailEvery < 0 {
			errs = append(errs, fmt.Errorf("phase %q: calls and fail_every must not be negative", ph.Name))
		}
	}
	return errors.Join(errs...)
}

func (ph PhaseSpec) calls() int {
	if ph.Calls <= 0 {
		return 1
	}
	return ph.Calls
}

// Package activity maps a motion score onto a coarse activity label.
package activity

import "fmt"

// Label is one of the ordered activity classes still < talking < gesturing.
type Label string

const (
	Still     Label = "still"
	Talking   Label = "talking"
	Gesturing Label = "gesturing"
)

// Labels lists every label in ascending order of motion.
var Labels = []Label{Still, Talking, Gesturing}

// Thresholds are the lower bounds of the talking and gesturing bands.
type Thresholds struct {
	Talking   float64 `yaml:"talking" json:"talking"`
	Gesturing float64 `yaml:"gesturing" json:"gesturing"`
}

// DefaultThresholds returns the tuned boundaries for a 320px wide grayscale diff.
func DefaultThresholds() Thresholds {
	return Thresholds{
		Talking:   0.004,
		Gesturing: 0.015,
	}
}

// Classify returns the label for score. Boundaries are inclusive on the
// upper band: a score equal to Talking is talking, equal to Gesturing is gesturing.
func (t Thresholds) Classify(score float64) Label {
	switch {
	case score < t.Talking:
		return Still
	case score < t.Gesturing:
		return Talking
	default:
		return Gesturing
	}
}

// Validate checks that both thresholds are in [0,1] and ordered.
func (t Thresholds) Validate() error {
	if t.Talking < 0 || t.Talking > 1 {
		return fmt.Errorf("talking threshold %v out of range [0,1]", t.Talking)
	}
	if t.Gesturing < 0 || t.Gesturing > 1 {
		return fmt.Errorf("gesturing threshold %v out of range [0,1]", t.Gesturing)
	}
	if t.Talking >= t.Gesturing {
		return fmt.Errorf("talking threshold %v must be below gesturing threshold %v", t.Talking, t.Gesturing)
	}
	return nil
}

// Rank returns the position of l in Labels, or -1 for an unknown label.
func (l Label) Rank() int {
	for i, v := range Labels {
		if v == l {
			return i
		}
	}
	return -1
}

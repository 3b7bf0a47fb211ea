// Package sampling holds the per-run cadence and cooldown policy that decides
// when expensive analyses run and which anomaly verdicts become events.
package sampling

import (
	"fmt"

	"github.com/mikeyg42/videoscope/internal/activity"
)

// ShouldRun reports whether an analysis with the given stride runs on frameIndex.
// A non-positive stride disables the analysis.
func ShouldRun(frameIndex, stride int) bool {
	if stride <= 0 {
		return false
	}
	return frameIndex%stride == 0
}

// Gate converts the cooldown and overlay windows into frame counts.
type Gate struct {
	CooldownFrames int
	OverlayFrames  int
}

// NewGate derives a Gate from fps and the configured windows in seconds.
// Fractional frames are truncated. An unknown fps yields zero-length windows.
func NewGate(fps, cooldownSeconds, overlaySeconds float64) Gate {
	if fps <= 0 {
		return Gate{}
	}
	return Gate{
		CooldownFrames: int(fps * cooldownSeconds),
		OverlayFrames:  int(fps * overlaySeconds),
	}
}

// State is the orchestrator-owned memory of the latest sampled values.
// The zero value is ready to use.
type State struct {
	Activity      activity.Label
	Motion        float64
	HasActivity   bool
	Emotion       string
	Confidence    float64
	HasConfidence bool

	lastReported int
	reported     bool
	overlayUntil int
	overlayText  string
}

// NewState returns a state with the activity initialised to still and
// marked as not yet sampled.
func NewState() *State {
	return &State{Activity: activity.Still}
}

// SetActivity records the latest activity sample.
func (s *State) SetActivity(label activity.Label, motion float64) {
	s.Activity = label
	s.Motion = motion
	s.HasActivity = true
}

// SetEmotion records a new emotion sample. Empty labels are ignored so the
// previous value persists.
func (s *State) SetEmotion(label string, confidence float64, hasConfidence bool) bool {
	if label == "" {
		return false
	}
	s.Emotion = label
	s.Confidence = confidence
	s.HasConfidence = hasConfidence
	return true
}

// AcceptAnomaly applies the cooldown gate. When the verdict on frameIndex is
// accepted it is recorded as the last reported anomaly and the overlay window
// is opened with text.
func (s *State) AcceptAnomaly(g Gate, frameIndex int, text string) bool {
	if s.reported && frameIndex-s.lastReported < g.CooldownFrames {
		return false
	}
	s.reported = true
	s.lastReported = frameIndex
	s.overlayUntil = frameIndex + g.OverlayFrames
	s.overlayText = text
	return true
}

// LastReported returns the frame of the last accepted anomaly.
func (s *State) LastReported() (int, bool) { return s.lastReported, s.reported }

// Overlay returns the anomaly overlay text while frameIndex is inside the
// overlay window.
func (s *State) Overlay(frameIndex int) (string, bool) {
	if !s.reported || frameIndex > s.overlayUntil {
		return "", false
	}
	return s.overlayText, true
}

// AnomalyText formats the overlay banner for a verdict.
func AnomalyText(kind string, z float64) string {
	return fmt.Sprintf("ANOMALY: %s z=%.2f", kind, z)
}

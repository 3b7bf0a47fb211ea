// Package aggregate accumulates per-run counters and the anomaly event log.
package aggregate

import (
	"github.com/mikeyg42/videoscope/internal/activity"
	"github.com/mikeyg42/videoscope/internal/anomaly"
)

// AnomalyEvent is an accepted anomaly verdict bound to the frame it was seen on.
type AnomalyEvent struct {
	Frame    int            `json:"frame" db:"frame_index"`
	TimeSec  float64        `json:"time_sec" db:"time_sec"`
	Kind     anomaly.Kind   `json:"type" db:"kind"`
	Z        float64        `json:"z" db:"z_score"`
	Motion   float64        `json:"motion" db:"motion"`
	Activity activity.Label `json:"activity" db:"activity"`
}

// Context is the single-owner accumulator for one run. It is not safe for
// concurrent use.
type Context struct {
	FramesWithFace  int
	TotalDetections int
	Activities      *Counter
	Emotions        *Counter
	Anomalies       []AnomalyEvent
}

// NewContext returns an empty context.
func NewContext() *Context {
	return &Context{
		Activities: NewCounter(),
		Emotions:   NewCounter(),
	}
}

// RegisterFaces records n detections on one frame. Frames without faces
// are ignored.
func (c *Context) RegisterFaces(n int) {
	if n <= 0 {
		return
	}
	c.FramesWithFace++
	c.TotalDetections += n
}

// RegisterActivity counts one activity sample.
func (c *Context) RegisterActivity(label activity.Label) {
	c.Activities.Add(string(label))
}

// RegisterEmotion counts one emotion sample. Empty labels are ignored.
func (c *Context) RegisterEmotion(label string) {
	if label == "" {
		return
	}
	c.Emotions.Add(label)
}

// RegisterAnomaly appends ev to the event log.
func (c *Context) RegisterAnomaly(ev AnomalyEvent) {
	c.Anomalies = append(c.Anomalies, ev)
}

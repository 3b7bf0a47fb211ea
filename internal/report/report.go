// Package report assembles the end-of-run analysis document and defines
// where it gets persisted.
package report

import (
	"context"
	"encoding/json"
	"time"

	"github.com/mikeyg42/videoscope/internal/aggregate"
)

// SchemaVersion is bumped whenever a field changes meaning.
const SchemaVersion = "1"

// RunMeta identifies one analysis run.
type RunMeta struct {
	RunID       string
	InputVideo  string
	OutputVideo string
	Interrupted bool
}

// Report is the serialised analysis of one video.
type Report struct {
	SchemaVersion       string                   `json:"schema_version"`
	GeneratedAt         string                   `json:"generated_at"`
	RunID               string                   `json:"run_id"`
	InputVideo          string                   `json:"input_video"`
	OutputVideo         string                   `json:"output_video"`
	FPS                 float64                  `json:"fps"`
	TotalFramesAnalyzed int                      `json:"total_frames_analyzed"`
	FramesWithFace      int                      `json:"frames_with_face_detected"`
	TotalFaceDetections int                      `json:"total_face_detections"`
	Emotions            *aggregate.Counter       `json:"emotions"`
	Activities          *aggregate.Counter       `json:"activities"`
	AnomaliesCount      int                      `json:"anomalies_count"`
	Anomalies           []aggregate.AnomalyEvent `json:"anomalies"`
	Summary             Summary                  `json:"summary"`
	Interrupted         bool                     `json:"interrupted"`
}

// Sink persists a finished report.
type Sink interface {
	Persist(ctx context.Context, r *Report) error
}

// New builds the report for a run. now is stamped as generated_at in UTC.
func New(meta RunMeta, agg *aggregate.Context, processedFrames int, fps float64, now time.Time) *Report {
	if agg == nil {
		agg = aggregate.NewContext()
	}
	anomalies := make([]aggregate.AnomalyEvent, len(agg.Anomalies))
	copy(anomalies, agg.Anomalies)

	return &Report{
		SchemaVersion:       SchemaVersion,
		GeneratedAt:         now.UTC().Format(time.RFC3339),
		RunID:               meta.RunID,
		InputVideo:          meta.InputVideo,
		OutputVideo:         meta.OutputVideo,
		FPS:                 fps,
		TotalFramesAnalyzed: processedFrames,
		FramesWithFace:      agg.FramesWithFace,
		TotalFaceDetections: agg.TotalDetections,
		Emotions:            orEmpty(agg.Emotions),
		Activities:          orEmpty(agg.Activities),
		AnomaliesCount:      len(anomalies),
		Anomalies:           anomalies,
		Summary:             BuildSummary(processedFrames, fps, agg.Emotions, agg.Activities, anomalies),
		Interrupted:         meta.Interrupted,
	}
}

// MarshalIndent renders the report as two-space indented JSON.
func (r *Report) MarshalIndent() ([]byte, error) {
	return json.MarshalIndent(r, "", "  ")
}

func orEmpty(c *aggregate.Counter) *aggregate.Counter {
	if c == nil {
		return aggregate.NewCounter()
	}
	return c
}

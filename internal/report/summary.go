package report

import (
	"fmt"
	"strings"

	"github.com/mikeyg42/videoscope/internal/aggregate"
)

const (
	topK             = 3
	maxAnomalyCites  = 5
	noAnomaliesText  = "No relevant motion anomalies were detected."
	anomalyCiteFmt   = "%.1fs (%s, z=%.2f)"
	durationKnownFmt = "The video is approximately %.1fs long (%d frames)."
	durationUnknFmt  = "The video has %d analyzed frames."
)

// Summary is the structured and narrative digest of a run.
type Summary struct {
	DurationSec     *float64               `json:"duration_sec"`
	TopEmotions     []aggregate.LabelCount `json:"top_emotions"`
	TopActivities   []aggregate.LabelCount `json:"top_activities"`
	AnomalyExamples []string               `json:"anomaly_examples"`
	Text            string                 `json:"text"`
}

// BuildSummary digests the run counters. It has no side effects: the same
// inputs always produce an identical Summary. Nil counters are treated as empty.
func BuildSummary(processedFrames int, fps float64, emotions, activities *aggregate.Counter, anomalies []aggregate.AnomalyEvent) Summary {
	var duration *float64
	if fps > 0 {
		d := float64(processedFrames) / fps
		duration = &d
	}

	s := Summary{
		DurationSec:     duration,
		TopEmotions:     topOf(emotions),
		TopActivities:   topOf(activities),
		AnomalyExamples: make([]string, 0, maxAnomalyCites),
	}
	for i, a := range anomalies {
		if i == maxAnomalyCites {
			break
		}
		s.AnomalyExamples = append(s.AnomalyExamples, fmt.Sprintf(anomalyCiteFmt, a.TimeSec, a.Kind, a.Z))
	}

	parts := make([]string, 0, 4)
	if duration != nil {
		parts = append(parts, fmt.Sprintf(durationKnownFmt, *duration, processedFrames))
	} else {
		parts = append(parts, fmt.Sprintf(durationUnknFmt, processedFrames))
	}
	if len(s.TopActivities) > 0 {
		parts = append(parts, "Predominant activities (sampled): "+joinCounts(s.TopActivities)+".")
	}
	if len(s.TopEmotions) > 0 {
		parts = append(parts, "Predominant emotions (sampled): "+joinCounts(s.TopEmotions)+".")
	}
	if len(anomalies) > 0 {
		parts = append(parts, fmt.Sprintf(
			"%d motion anomalies were detected (deviation from the recent pattern). Examples: %s.",
			len(anomalies), strings.Join(s.AnomalyExamples, ", ")))
	} else {
		parts = append(parts, noAnomaliesText)
	}
	s.Text = strings.Join(parts, " ")

	return s
}

func topOf(c *aggregate.Counter) []aggregate.LabelCount {
	if c == nil {
		return []aggregate.LabelCount{}
	}
	return c.MostCommon(topK)
}

func joinCounts(entries []aggregate.LabelCount) string {
	items := make([]string, len(entries))
	for i, e := range entries {
		items[i] = fmt.Sprintf("%s (%d)", e.Label, e.Count)
	}
	return strings.Join(items, ", ")
}

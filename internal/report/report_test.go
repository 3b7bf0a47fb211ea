package report

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/mikeyg42/videoscope/internal/activity"
	"github.com/mikeyg42/videoscope/internal/aggregate"
	"github.com/mikeyg42/videoscope/internal/anomaly"
)

func sampleContext() *aggregate.Context {
	c := aggregate.NewContext()
	for i := 0; i < 37; i++ {
		c.RegisterActivity(activity.Still)
	}
	for i := 0; i < 3; i++ {
		c.RegisterActivity(activity.Gesturing)
	}
	c.RegisterEmotion("neutral")
	c.RegisterEmotion("happy")
	c.RegisterEmotion("neutral")
	c.RegisterFaces(1)
	c.RegisterFaces(2)
	c.RegisterAnomaly(aggregate.AnomalyEvent{
		Frame: 150, TimeSec: 5, Kind: anomaly.HighMotion, Z: 4.4721, Motion: 0.16, Activity: activity.Gesturing,
	})
	return c
}

func TestBuildSummaryNoAnomalies(t *testing.T) {
	acts := aggregate.NewCounter()
	for i := 0; i < 20; i++ {
		acts.Add("still")
	}

	s := BuildSummary(100, 25, nil, acts, nil)

	if s.DurationSec == nil || *s.DurationSec != 4 {
		t.Fatalf("DurationSec = %v, want 4", s.DurationSec)
	}
	want := "The video is approximately 4.0s long (100 frames). Predominant activities (sampled): still (20). No relevant motion anomalies were detected."
	if s.Text != want {
		t.Errorf("Text =\n%q\nwant\n%q", s.Text, want)
	}
	if len(s.AnomalyExamples) != 0 || len(s.TopEmotions) != 0 {
		t.Errorf("unexpected examples/emotions: %+v", s)
	}
}

func TestBuildSummaryUnknownFPS(t *testing.T) {
	s := BuildSummary(42, 0, nil, nil, nil)
	if s.DurationSec != nil {
		t.Fatalf("DurationSec = %v, want nil", *s.DurationSec)
	}
	if !strings.HasPrefix(s.Text, "The video has 42 analyzed frames.") {
		t.Errorf("Text = %q", s.Text)
	}

	data, err := json.Marshal(s)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Contains(data, []byte(`"duration_sec":null`)) {
		t.Errorf("duration_sec not null: %s", data)
	}
}

func TestBuildSummaryAnomalyExamples(t *testing.T) {
	var events []aggregate.AnomalyEvent
	for i := 0; i < 7; i++ {
		events = append(events, aggregate.AnomalyEvent{
			Frame: (i + 1) * 60, TimeSec: float64(i+1) * 2, Kind: anomaly.HighMotion, Z: 3.5,
		})
	}
	events[1].Kind = anomaly.LowMotion
	events[1].Z = -3.25

	s := BuildSummary(600, 30, nil, nil, events)

	if len(s.AnomalyExamples) != 5 {
		t.Fatalf("got %d examples, want 5", len(s.AnomalyExamples))
	}
	if s.AnomalyExamples[0] != "2.0s (high_motion, z=3.50)" {
		t.Errorf("example[0] = %q", s.AnomalyExamples[0])
	}
	if s.AnomalyExamples[1] != "4.0s (low_motion, z=-3.25)" {
		t.Errorf("example[1] = %q", s.AnomalyExamples[1])
	}
	if !strings.Contains(s.Text, "7 motion anomalies were detected (deviation from the recent pattern). Examples: 2.0s (high_motion, z=3.50), ") {
		t.Errorf("Text = %q", s.Text)
	}
	if !strings.HasSuffix(s.Text, "10.0s (high_motion, z=3.50).") {
		t.Errorf("Text suffix = %q", s.Text)
	}
}

func TestBuildSummaryTopKTies(t *testing.T) {
	emo := aggregate.NewCounter()
	for _, l := range []string{"sad", "happy", "fear", "neutral", "happy"} {
		emo.Add(l)
	}
	s := BuildSummary(10, 10, emo, nil, nil)
	got := []string{}
	for _, e := range s.TopEmotions {
		got = append(got, e.Label)
	}
	if strings.Join(got, ",") != "happy,sad,fear" {
		t.Fatalf("top emotions = %v", got)
	}
	if !strings.Contains(s.Text, "Predominant emotions (sampled): happy (2), sad (1), fear (1).") {
		t.Errorf("Text = %q", s.Text)
	}
}

func TestNewIsIdempotent(t *testing.T) {
	agg := sampleContext()
	meta := RunMeta{RunID: "run-1", InputVideo: "in.mp4", OutputVideo: "out.mp4"}
	now := time.Date(2026, 3, 4, 5, 6, 7, 0, time.FixedZone("x", 3600))

	a, err := New(meta, agg, 200, 30, now).MarshalIndent()
	if err != nil {
		t.Fatal(err)
	}
	b, err := New(meta, agg, 200, 30, now).MarshalIndent()
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(a, b) {
		t.Fatalf("reports differ:\n%s\n%s", a, b)
	}
}

func TestNewPayload(t *testing.T) {
	agg := sampleContext()
	now := time.Date(2026, 3, 4, 5, 6, 7, 0, time.FixedZone("x", 3600))
	r := New(RunMeta{RunID: "run-1", InputVideo: "in.mp4", OutputVideo: "out.mp4"}, agg, 200, 30, now)

	if r.GeneratedAt != "2026-03-04T04:06:07Z" {
		t.Errorf("GeneratedAt = %s", r.GeneratedAt)
	}
	if r.FramesWithFace != 2 || r.TotalFaceDetections != 3 {
		t.Errorf("face counts = %d/%d", r.FramesWithFace, r.TotalFaceDetections)
	}
	if r.AnomaliesCount != 1 || r.Anomalies[0].Frame != 150 {
		t.Errorf("anomalies = %+v", r.Anomalies)
	}

	// later registrations must not leak into an already built report
	agg.RegisterAnomaly(aggregate.AnomalyEvent{Frame: 999})
	if len(r.Anomalies) != 1 {
		t.Errorf("report shares the anomaly slice")
	}

	data, err := r.MarshalIndent()
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{
		`"schema_version": "1"`,
		`"activities": {`,
		`"still": 37`,
		`"type": "high_motion"`,
		`"frames_with_face_detected": 2`,
		`"interrupted": false`,
	} {
		if !bytes.Contains(data, []byte(want)) {
			t.Errorf("payload missing %s:\n%s", want, data)
		}
	}
	if bytes.Index(data, []byte(`"generated_at"`)) > bytes.Index(data, []byte(`"run_id"`)) {
		t.Errorf("generated_at must precede run_id")
	}
}

func TestNewEmptyRun(t *testing.T) {
	r := New(RunMeta{}, nil, 0, 0, time.Unix(0, 0))
	data, err := json.Marshal(r)
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{`"anomalies":[]`, `"emotions":{}`, `"activities":{}`} {
		if !bytes.Contains(data, []byte(want)) {
			t.Errorf("payload missing %s: %s", want, data)
		}
	}
}

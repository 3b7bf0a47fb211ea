// Package emotion classifies the facial expression in a face crop using a
// remote vision model. Classifiers take JPEG bytes so the package stays
// independent of the image library used to produce them.
package emotion

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Labels is the closed set of expressions the prompt asks for.
var Labels = []string{"neutral", "happy", "sad", "angry", "fear", "surprise", "disgust"}

// Prompt instructs the model to answer with a single JSON object.
const Prompt = "You are a facial emotion classifier.\n" +
	"Return ONLY valid JSON (no extra text) in the format:\n" +
	`{"emotion":"<label>","confidence":<float_0_1>}` + "\n" +
	"Allowed labels: neutral, happy, sad, angry, fear, surprise, disgust.\n" +
	"If the emotion cannot be inferred, use neutral with low confidence (e.g. 0.2)."

// Result is one classification.
type Result struct {
	Label         string  `json:"emotion"`
	Confidence    float64 `json:"confidence"`
	HasConfidence bool    `json:"-"`
}

// Classifier labels the face in a JPEG image.
type Classifier interface {
	AnalyzeJPEG(ctx context.Context, jpeg []byte) (Result, error)
}

// ParseReply extracts a Result from a model reply. Markdown code fences and
// text around the JSON object are tolerated. Confidence is clamped to [0,1];
// a missing confidence leaves HasConfidence false.
func ParseReply(text string) (Result, error) {
	obj := extractObject(text)
	if obj == "" {
		return Result{}, fmt.Errorf("emotion: no JSON object in reply %q", truncate(text, 80))
	}

	var raw struct {
		Emotion    *string         `json:"emotion"`
		Confidence json.RawMessage `json:"confidence"`
	}
	if err := json.Unmarshal([]byte(obj), &raw); err != nil {
		return Result{}, fmt.Errorf("emotion: decode reply: %w", err)
	}
	if raw.Emotion == nil || strings.TrimSpace(*raw.Emotion) == "" {
		return Result{}, ErrNoEmotion
	}

	res := Result{Label: strings.ToLower(strings.TrimSpace(*raw.Emotion))}
	conf, ok, err := parseConfidence(raw.Confidence)
	if err != nil {
		return Result{}, err
	}
	if ok {
		res.Confidence = clamp01(conf)
		res.HasConfidence = true
	}
	return res, nil
}

func parseConfidence(raw json.RawMessage) (float64, bool, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || string(raw) == "null" {
		return 0, false, nil
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return f, true, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			return 0, false, fmt.Errorf("emotion: confidence %q: %w", s, err)
		}
		return f, true, nil
	}
	return 0, false, fmt.Errorf("emotion: confidence %s is not a number", raw)
}

func extractObject(text string) string {
	start := strings.IndexByte(text, '{')
	end := strings.LastIndexByte(text, '}')
	if start < 0 || end < start {
		return ""
	}
	return text[start : end+1]
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

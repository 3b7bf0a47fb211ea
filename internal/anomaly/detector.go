// Package anomaly flags motion scores that deviate from the recent pattern
// using a sliding-window z-score.
package anomaly

// Kind names the direction of a deviation.
type Kind string

const (
	HighMotion Kind = "high_motion"
	LowMotion  Kind = "low_motion"
)

const (
	// DefaultWindowSize is the number of samples kept for the statistics.
	DefaultWindowSize = 60
	// DefaultZThreshold is the absolute z-score that triggers a verdict.
	DefaultZThreshold = 3.0
	// minWarmup is the lower bound of the warm-up gate.
	minWarmup = 15
	// stdFloor keeps the z-score finite on a uniform history.
	stdFloor = 1e-9
)

// Verdict describes one flagged sample.
type Verdict struct {
	Kind Kind    `json:"type"`
	Z    float64 `json:"z"`
	Mean float64 `json:"mean"`
	Std  float64 `json:"std"`
}

// Config holds the detector tunables.
type Config struct {
	WindowSize int     `yaml:"window_size" json:"window_size"`
	ZThreshold float64 `yaml:"z_threshold" json:"z_threshold"`
	EnableLow  bool    `yaml:"enable_low" json:"enable_low"`
}

// DefaultConfig returns the stock detector settings.
func DefaultConfig() Config {
	return Config{
		WindowSize: DefaultWindowSize,
		ZThreshold: DefaultZThreshold,
		EnableLow:  true,
	}
}

// Detector keeps a rolling history of scores and emits a Verdict when the
// newest score is at least ZThreshold standard deviations from the mean.
// The statistics include the sample being tested.
type Detector struct {
	cfg     Config
	history *History
}

// NewDetector builds a detector. Non-positive window sizes and thresholds
// fall back to the defaults.
func NewDetector(cfg Config) *Detector {
	if cfg.WindowSize <= 0 {
		cfg.WindowSize = DefaultWindowSize
	}
	if cfg.ZThreshold <= 0 {
		cfg.ZThreshold = DefaultZThreshold
	}
	return &Detector{
		cfg:     cfg,
		history: NewHistory(cfg.WindowSize),
	}
}

// MinSamples is the number of samples required before any verdict.
func (d *Detector) MinSamples() int {
	if q := d.cfg.WindowSize / 4; q > minWarmup {
		return q
	}
	return minWarmup
}

// Update records score and returns a verdict, or nil when the score is
// unremarkable or the history is still warming up.
func (d *Detector) Update(score float64) *Verdict {
	d.history.Push(score)
	if d.history.Len() < d.MinSamples() {
		return nil
	}

	mean, std := d.history.MeanStd()
	if std < stdFloor {
		std = stdFloor
	}
	z := (score - mean) / std

	switch {
	case z >= d.cfg.ZThreshold:
		return &Verdict{Kind: HighMotion, Z: z, Mean: mean, Std: std}
	case d.cfg.EnableLow && z <= -d.cfg.ZThreshold:
		return &Verdict{Kind: LowMotion, Z: z, Mean: mean, Std: std}
	}
	return nil
}

// Len reports how many samples the history holds.
func (d *Detector) Len() int { return d.history.Len() }

// Config returns the effective configuration.
func (d *Detector) Config() Config { return d.cfg }

// Reset drops the history.
func (d *Detector) Reset() { d.history.Clear() }

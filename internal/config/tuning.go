// Package config loads estimator tuning parameters from JSON files.
//
// All fields are pointers so a partial config file only overrides what it
// names; everything else keeps its default. The same schema is reusable
// for startup configuration and for recorded run metadata.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// maxConfigFileSize bounds how much of a config file is read (1MB).
const maxConfigFileSize = 1 * 1024 * 1024

// TuningConfig is the root tuning schema. Nil fields mean "use default".
type TuningConfig struct {
	// Cycle step
	DtSeconds *float64 `json:"dt_seconds,omitempty"`

	// Model process noise (white-noise acceleration density, sigma^2)
	CVProcessNoise   *float64 `json:"cv_process_noise,omitempty"`
	TurnProcessNoise *float64 `json:"turn_process_noise,omitempty"`

	// Coordinated-turn rate magnitude (rad/s); the model set runs one
	// left-turn and one right-turn hypothesis at this rate
	TurnRateRadps *float64 `json:"turn_rate_radps,omitempty"`

	// Position measurement variance per axis
	MeasurementNoise *float64 `json:"measurement_noise,omitempty"`

	// Mode-transition self-stay probability (diagonal of the transition
	// matrix; the remainder is spread evenly over the other models)
	SelfStayProbability *float64 `json:"self_stay_probability,omitempty"`

	// Initial mode probabilities; omitted means uniform. Values are
	// normalized by the estimator, so they need not sum to 1.
	InitialModeProbs []float64 `json:"initial_mode_probs,omitempty"`

	// Simulation seed for reproducible scenario runs
	SimSeed *uint64 `json:"sim_seed,omitempty"`
}

// Settings is a TuningConfig with every default resolved.
type Settings struct {
	DtSeconds           float64
	CVProcessNoise      float64
	TurnProcessNoise    float64
	TurnRateRadps       float64
	MeasurementNoise    float64
	SelfStayProbability float64
	InitialModeProbs    []float64
	SimSeed             uint64
}

// DefaultSettings returns the tuning defaults for planar traffic
// tracking.
func DefaultSettings() Settings {
	return Settings{
		DtSeconds:           0.1,
		CVProcessNoise:      0.05,
		TurnProcessNoise:    0.5,
		TurnRateRadps:       0.35, // ~20 deg/s
		MeasurementNoise:    0.2,
		SelfStayProbability: 0.95,
		InitialModeProbs:    nil, // uniform
		SimSeed:             1,
	}
}

// Settings resolves the config against the defaults.
func (c *TuningConfig) Settings() Settings {
	s := DefaultSettings()
	if c == nil {
		return s
	}
	if c.DtSeconds != nil {
		s.DtSeconds = *c.DtSeconds
	}
	if c.CVProcessNoise != nil {
		s.CVProcessNoise = *c.CVProcessNoise
	}
	if c.TurnProcessNoise != nil {
		s.TurnProcessNoise = *c.TurnProcessNoise
	}
	if c.TurnRateRadps != nil {
		s.TurnRateRadps = *c.TurnRateRadps
	}
	if c.MeasurementNoise != nil {
		s.MeasurementNoise = *c.MeasurementNoise
	}
	if c.SelfStayProbability != nil {
		s.SelfStayProbability = *c.SelfStayProbability
	}
	if c.InitialModeProbs != nil {
		s.InitialModeProbs = append([]float64(nil), c.InitialModeProbs...)
	}
	if c.SimSeed != nil {
		s.SimSeed = *c.SimSeed
	}
	return s
}

// Validate checks that resolved settings are within operating ranges.
func (s Settings) Validate() error {
	if s.DtSeconds <= 0 {
		return fmt.Errorf("dt_seconds must be positive, got %v", s.DtSeconds)
	}
	if s.CVProcessNoise <= 0 {
		return fmt.Errorf("cv_process_noise must be positive, got %v", s.CVProcessNoise)
	}
	if s.TurnProcessNoise <= 0 {
		return fmt.Errorf("turn_process_noise must be positive, got %v", s.TurnProcessNoise)
	}
	if s.TurnRateRadps <= 0 {
		return fmt.Errorf("turn_rate_radps must be positive, got %v", s.TurnRateRadps)
	}
	if s.MeasurementNoise <= 0 {
		return fmt.Errorf("measurement_noise must be positive, got %v", s.MeasurementNoise)
	}
	if s.SelfStayProbability <= 0 || s.SelfStayProbability >= 1 {
		return fmt.Errorf("self_stay_probability must be in (0, 1), got %v", s.SelfStayProbability)
	}
	for i, p := range s.InitialModeProbs {
		if p < 0 {
			return fmt.Errorf("initial_mode_probs[%d] must be non-negative, got %v", i, p)
		}
	}
	return nil
}

// LoadTuningConfig loads a TuningConfig from a JSON file. The path must
// have a .json extension and the file must be under the size cap. Fields
// omitted from the file keep their defaults, so partial configs are safe.
func LoadTuningConfig(path string) (*TuningConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if fileInfo.Size() > maxConfigFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxConfigFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg TuningConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	return &cfg, nil
}

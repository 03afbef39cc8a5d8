package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Profile is a deployment profile loaded from YAML. It overrides the
// environment configuration for review boards that tune thresholds or route
// stages to dedicated model backends.
type Profile struct {
	Name       string           `yaml:"name"`
	Thresholds ThresholdsConfig `yaml:"thresholds"`
	Backend    BackendConfig    `yaml:"backend"`
	// Routes maps a stage name to a model identifier, overriding the
	// default backend model for that stage.
	Routes map[string]string `yaml:"routes,omitempty"`
}

// ThresholdsConfig tunes the decision gates.
type ThresholdsConfig struct {
	MinConfidence       *float64 `yaml:"min_confidence,omitempty"`
	ConsensusThreshold  *float64 `yaml:"consensus_threshold,omitempty"`
	DispersionThreshold *float64 `yaml:"dispersion_threshold,omitempty"`
}

// BackendConfig overrides the model backend.
type BackendConfig struct {
	Endpoint    string `yaml:"endpoint,omitempty"`
	Model       string `yaml:"model,omitempty"`
	CallTimeout string `yaml:"call_timeout,omitempty"`
}

// LoadProfile reads a profile from a YAML file.
func LoadProfile(path string) (*Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read profile %s: %w", path, err)
	}

	var p Profile
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parse profile %s: %w", path, err)
	}
	if err := p.validate(); err != nil {
		return nil, fmt.Errorf("profile %s: %w", path, err)
	}
	return &p, nil
}

func (p *Profile) validate() error {
	for name, v := range map[string]*float64{
		"min_confidence":       p.Thresholds.MinConfidence,
		"consensus_threshold":  p.Thresholds.ConsensusThreshold,
		"dispersion_threshold": p.Thresholds.DispersionThreshold,
	} {
		if v != nil && (*v < 0 || *v > 1) {
			return fmt.Errorf("%s %v out of range [0,1]", name, *v)
		}
	}
	if p.Backend.CallTimeout != "" {
		if _, err := time.ParseDuration(p.Backend.CallTimeout); err != nil {
			return fmt.Errorf("call_timeout: %w", err)
		}
	}
	return nil
}

// Apply overlays the profile onto cfg. Unset profile fields leave cfg alone.
func (p *Profile) Apply(cfg *Config) {
	if p.Thresholds.MinConfidence != nil {
		cfg.MinConfidence = *p.Thresholds.MinConfidence
	}
	if p.Thresholds.ConsensusThreshold != nil {
		cfg.ConsensusThreshold = *p.Thresholds.ConsensusThreshold
	}
	if p.Thresholds.DispersionThreshold != nil {
		cfg.DispersionThreshold = *p.Thresholds.DispersionThreshold
	}
	if p.Backend.Endpoint != "" {
		cfg.ModelEndpoint = p.Backend.Endpoint
	}
	if p.Backend.Model != "" {
		cfg.Model = p.Backend.Model
	}
	if p.Backend.CallTimeout != "" {
		if d, err := time.ParseDuration(p.Backend.CallTimeout); err == nil {
			cfg.CallTimeout = d
		}
	}
}

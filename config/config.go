// Package config loads the optional YAML overlay that lets a sender or
// receiver invocation tune its otherwise-fixed parameters (window size,
// RTO, MSS, MSL, PLC probabilities) without touching the positional CLI
// contract spec §6 defines. Every field is a pointer so an absent key
// leaves the corresponding default untouched.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Overlay is the YAML document shape accepted via -config.
type Overlay struct {
	MaxWindow         *int     `yaml:"max_window"`
	RTOMillis         *int     `yaml:"rto_ms"`
	MSS               *int     `yaml:"mss"`
	MSLMillis         *int     `yaml:"msl_ms"`
	ForwardLoss       *float64 `yaml:"forward_loss"`
	ReverseLoss       *float64 `yaml:"reverse_loss"`
	ForwardCorruption *float64 `yaml:"forward_corruption"`
	ReverseCorruption *float64 `yaml:"reverse_corruption"`
}

// Load reads and parses the YAML overlay at path.
func Load(path string) (Overlay, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Overlay{}, fmt.Errorf("config: reading %s: %w", path, err)
	}
	var o Overlay
	if err := yaml.Unmarshal(raw, &o); err != nil {
		return Overlay{}, fmt.Errorf("config: parsing %s: %w", path, err)
	}
	return o, nil
}

// ApplyInt overwrites *dst with *src when src is non-nil.
func ApplyInt(dst *int, src *int) {
	if src != nil {
		*dst = *src
	}
}

// ApplyFloat overwrites *dst with *src when src is non-nil.
func ApplyFloat(dst *float64, src *float64) {
	if src != nil {
		*dst = *src
	}
}

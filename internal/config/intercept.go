package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// InterceptPattern selects requests the CDP platform pauses for inspection.
// Paused requests that no session tracks are continued unchanged.
type InterceptPattern struct {
	URLPattern   string `yaml:"url_pattern"`
	ResourceType string `yaml:"resource_type,omitempty"`
}

// InterceptConfig is the top-level YAML configuration for the CDP platform.
type InterceptConfig struct {
	Patterns []InterceptPattern `yaml:"patterns"`
}

// DefaultInterceptConfig pauses every request.
func DefaultInterceptConfig() *InterceptConfig {
	return &InterceptConfig{Patterns: []InterceptPattern{{URLPattern: "*"}}}
}

var resourceTypes = map[string]bool{
	"Document": true, "Stylesheet": true, "Image": true, "Media": true, "Font": true,
	"Script": true, "TextTrack": true, "XHR": true, "Fetch": true, "Prefetch": true,
	"EventSource": true, "WebSocket": true, "Manifest": true, "SignedExchange": true,
	"Ping": true, "CSPViolationReport": true, "Preflight": true, "Other": true,
}

// LoadIntercept reads and validates an intercept YAML file. A missing file
// yields DefaultInterceptConfig.
func LoadIntercept(path string) (*InterceptConfig, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return DefaultInterceptConfig(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("intercept config: %w", err)
	}
	var cfg InterceptConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("intercept config: %w", err)
	}
	if len(cfg.Patterns) == 0 {
		return DefaultInterceptConfig(), nil
	}
	for i, p := range cfg.Patterns {
		if strings.TrimSpace(p.URLPattern) == "" {
			return nil, fmt.Errorf("intercept config: patterns[%d] missing url_pattern", i)
		}
		if p.ResourceType != "" && !resourceTypes[p.ResourceType] {
			return nil, fmt.Errorf("intercept config: patterns[%d] unknown resource_type %q", i, p.ResourceType)
		}
	}
	return &cfg, nil
}

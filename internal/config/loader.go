package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"

	"github.com/eliteGoblin/focusd/site_gate/internal/domain"
)

// ErrUnsupportedFormat is returned for config files with an unknown extension.
var ErrUnsupportedFormat = errors.New("unsupported config format")

const schemaURL = "sitegate://config.schema.json"

const configSchema = `{
	"$schema": "http://json-schema.org/draft-07/schema#",
	"type": "object",
	"properties": {
		"activation": {
			"type": "object",
			"properties": {
				"holdSeconds": {"type": "integer", "minimum": 0},
				"timeSeconds": {"type": "integer", "minimum": 1}
			}
		},
		"sites": {
			"type": "array",
			"items": {
				"type": "object",
				"required": ["filter"],
				"properties": {
					"filter": {"type": "string", "minLength": 1, "pattern": "^[^\\s*]+$"},
					"strategy": {"enum": ["", "soft", "hard"]}
				}
			}
		},
		"softRoutines": {
			"type": "array",
			"items": {
				"type": "object",
				"required": ["label", "duration", "resetTime"],
				"properties": {
					"label": {"type": "string", "minLength": 1},
					"duration": {"type": "integer", "minimum": 0},
					"resetTime": {"type": "integer", "minimum": 0}
				}
			}
		}
	}
}`

var compiledSchema = jsonschema.MustCompileString(schemaURL, configSchema)

// LoadFile reads a human-edited config file, validates it and merges it
// against the defaults. Supported formats: .toml, .yaml/.yml, .json/.jsonc.
func LoadFile(path string) (domain.Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return domain.Config{}, fmt.Errorf("failed to read config: %w", err)
	}
	return Parse(filepath.Ext(path), data)
}

// Parse decodes config data in the format named by ext.
func Parse(ext string, data []byte) (domain.Config, error) {
	doc, err := decode(strings.ToLower(ext), data)
	if err != nil {
		return domain.Config{}, err
	}

	// Normalize through JSON so every format validates the same way.
	raw, err := json.Marshal(doc)
	if err != nil {
		return domain.Config{}, fmt.Errorf("failed to encode config: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var generic any
	if err := dec.Decode(&generic); err != nil {
		return domain.Config{}, fmt.Errorf("failed to normalize config: %w", err)
	}
	if err := compiledSchema.Validate(generic); err != nil {
		return domain.Config{}, fmt.Errorf("invalid config: %w", err)
	}

	cfg, _ := Enrich(raw)
	if err := Validate(cfg); err != nil {
		return domain.Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func decode(ext string, data []byte) (map[string]any, error) {
	doc := map[string]any{}
	switch ext {
	case ".toml":
		if _, err := toml.Decode(string(data), &doc); err != nil {
			return nil, fmt.Errorf("failed to decode toml: %w", err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("failed to decode yaml: %w", err)
		}
	case ".json", ".jsonc":
		if err := json.Unmarshal(jsonc.ToJSON(data), &doc); err != nil {
			return nil, fmt.Errorf("failed to decode json: %w", err)
		}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, ext)
	}
	return doc, nil
}

// Validate checks the invariants the engine relies on but never enforces:
// unique routine labels and duration <= resetTime.
func Validate(cfg domain.Config) error {
	seen := make(map[string]bool, len(cfg.SoftRoutines))
	for _, r := range cfg.SoftRoutines {
		if seen[r.Label] {
			return fmt.Errorf("duplicate soft routine label %q", r.Label)
		}
		seen[r.Label] = true
		if r.Duration > r.ResetTime {
			return fmt.Errorf("soft routine %q: duration %d exceeds resetTime %d", r.Label, r.Duration, r.ResetTime)
		}
	}
	if cfg.Activation.TimeSeconds <= 0 {
		return fmt.Errorf("activation.timeSeconds must be positive")
	}
	return nil
}

// Package rules holds the ordered product annotation rules used by the top
// products ranking. Rule sets are static once loaded.
package rules

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml"
	"gopkg.in/yaml.v3"
)

// DefaultNote is assigned when no rule matches.
const DefaultNote = "Likely discount/promotion effect"

// Rule attaches Note to any product whose name contains one of Patterns.
type Rule struct {
	Patterns []string `json:"patterns" yaml:"patterns" toml:"patterns"`
	Note     string   `json:"note" yaml:"note" toml:"note"`
}

// Set is an ordered rule list; the first matching rule wins.
type Set struct {
	Rules   []Rule `json:"rules" yaml:"rules" toml:"rules"`
	Default string `json:"default" yaml:"default" toml:"default"`
}

// Default returns the built-in rule set for marketplace beauty and home goods.
func Default() Set {
	return Set{
		Rules: []Rule{
			{Patterns: []string{"bulu mata"}, Note: "End-of-year beauty trend"},
			{Patterns: []string{"alis"}, Note: "Rising demand for beauty tools"},
			{Patterns: []string{"taplak", "meja makan"}, Note: "Home decoration ahead of holidays"},
			{Patterns: []string{"korean"}, Note: "Viral product on social media"},
			{Patterns: []string{"penjepit"}, Note: "Cheap practical beauty tool"},
		},
		Default: DefaultNote,
	}
}

// Annotate returns the note of the first rule with a case-insensitive substring
// match on name, or the default note.
func (s Set) Annotate(name string) string {
	low := strings.ToLower(name)
	for _, r := range s.Rules {
		for _, p := range r.Patterns {
			p = strings.ToLower(strings.TrimSpace(p))
			if p != "" && strings.Contains(low, p) {
				return r.Note
			}
		}
	}
	if s.Default == "" {
		return DefaultNote
	}
	return s.Default
}

// Validate rejects rules without a note or without any non-blank pattern.
func (s Set) Validate() error {
	for i, r := range s.Rules {
		if strings.TrimSpace(r.Note) == "" {
			return fmt.Errorf("rules: rule %d has no note", i+1)
		}
		ok := false
		for _, p := range r.Patterns {
			if strings.TrimSpace(p) != "" {
				ok = true
				break
			}
		}
		if !ok {
			return fmt.Errorf("rules: rule %d has no pattern", i+1)
		}
	}
	return nil
}

// Load reads a rule set from a .yaml/.yml, .toml or .json file.
func Load(path string) (Set, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Set{}, fmt.Errorf("rules: read %s: %w", path, err)
	}
	return Parse(filepath.Ext(path), data)
}

// Parse decodes data according to the file extension ext (with or without the dot).
func Parse(ext string, data []byte) (Set, error) {
	var s Set
	switch strings.TrimPrefix(strings.ToLower(ext), ".") {
	case "yaml", "yml":
		err := yaml.Unmarshal(data, &s)
		if err != nil {
			return Set{}, fmt.Errorf("rules: decode yaml: %w", err)
		}
	case "toml":
		err := toml.Unmarshal(data, &s)
		if err != nil {
			return Set{}, fmt.Errorf("rules: decode toml: %w", err)
		}
	case "json":
		err := json.Unmarshal(data, &s)
		if err != nil {
			return Set{}, fmt.Errorf("rules: decode json: %w", err)
		}
	default:
		return Set{}, fmt.Errorf("rules: unsupported format %q", ext)
	}
	if err := s.Validate(); err != nil {
		return Set{}, err
	}
	if s.Default == "" {
		s.Default = DefaultNote
	}
	return s, nil
}

// LoadOrDefault loads path when set and falls back to Default otherwise.
func LoadOrDefault(path string) (Set, error) {
	if strings.TrimSpace(path) == "" {
		return Default(), nil
	}
	return Load(path)
}

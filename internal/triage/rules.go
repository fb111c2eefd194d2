package triage

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Rule is one critical-condition category and the qualified symptom phrases
// that put a patient in it.
type Rule struct {
	Category string   `yaml:"category" json:"category"`
	Symptoms []string `yaml:"symptoms" json:"symptoms"`
}

// LoadRules reads the rules table from a YAML (or JSON) file. An empty or
// unreadable table is a startup error.
func LoadRules(path string) ([]Rule, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read triage rules: %w", err)
	}
	return ParseRules(raw)
}

// ParseRules decodes and cleans a rules table. YAML is a superset of JSON so
// both formats are accepted.
func ParseRules(raw []byte) ([]Rule, error) {
	var rules []Rule
	if err := yaml.Unmarshal(raw, &rules); err != nil {
		return nil, fmt.Errorf("parse triage rules: %w", err)
	}
	out := rules[:0]
	for _, r := range rules {
		r.Category = strings.TrimSpace(r.Category)
		if r.Category == "" {
			return nil, fmt.Errorf("parse triage rules: rule without category")
		}
		syms := r.Symptoms[:0]
		for _, s := range r.Symptoms {
			if s = strings.TrimSpace(s); s != "" {
				syms = append(syms, s)
			}
		}
		if len(syms) == 0 {
			return nil, fmt.Errorf("parse triage rules: category %q has no symptoms", r.Category)
		}
		r.Symptoms = syms
		out = append(out, r)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("parse triage rules: table is empty")
	}
	return out, nil
}

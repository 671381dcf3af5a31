// Package scoring implements the deterministic algorithmic scorer, tier
// assignment, and the aggregator/ranker. Everything here is pure: no I/O, no
// LLM calls, byte-identical output for identical input.
package scoring

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Rule awards Weight when any of the needles matches a candidate's skills.
type Rule struct {
	Any    []string `yaml:"any"`
	Weight int      `yaml:"weight"`
	Tag    string   `yaml:"tag"`
}

// Weights is the rule table driving the algorithmic scorer.
type Weights struct {
	Signals struct {
		SoldToFinance int `yaml:"sold_to_finance"`
		IsFounder     int `yaml:"is_founder"`
	} `yaml:"signals"`
	Experience struct {
		PerYear float64 `yaml:"per_year"`
		Cap     int     `yaml:"cap"`
	} `yaml:"experience"`
	SkillRules     []Rule `yaml:"skill_rules"`
	RedFlagPenalty int    `yaml:"red_flag_penalty"`
}

// DefaultWeights returns the built-in weight table used when no file is
// configured.
func DefaultWeights() Weights {
	var w Weights
	w.Signals.SoldToFinance = 20
	w.Signals.IsFounder = 10
	w.Experience.PerYear = 4
	w.Experience.Cap = 30
	w.RedFlagPenalty = 10
	w.SkillRules = []Rule{
		{Any: []string{"enterprise sales", "b2b sales"}, Weight: 15, Tag: "enterprise"},
		{Any: []string{"saas"}, Weight: 10, Tag: "saas"},
		{Any: []string{"quota", "pipeline"}, Weight: 5, Tag: "quota-carrying"},
	}
	return w
}

// LoadWeights reads a YAML weight table from path. An empty path yields
// DefaultWeights.
func LoadWeights(path string) (Weights, error) {
	if path == "" {
		return DefaultWeights(), nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return Weights{}, fmt.Errorf("op=scoring.LoadWeights: %w", err)
	}
	var w Weights
	if err := yaml.Unmarshal(b, &w); err != nil {
		return Weights{}, fmt.Errorf("op=scoring.LoadWeights: %w", err)
	}
	return w, nil
}

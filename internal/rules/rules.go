// Package rules derives candidate policy rules from observed risk
// patterns. Generated rules never self-activate: an administrator promotes
// them into the policy store after review.
package rules

import (
	"time"

	"go.uber.org/zap"
)

// Rule actions, from most permissive to most restrictive.
const (
	ActionAllow               = "allow"
	ActionRequireMFA          = "require_mfa"
	ActionRequireApproval     = "require_approval"
	ActionRequireVerification = "require_verification"
	ActionDeny                = "deny"
)

// Escalation thresholds on the pattern's observed risk score: below
// lowRisk the generated rule allows, below moderateRisk it uses the
// template's strictest non-deny action, otherwise it denies.
const (
	lowRiskThreshold      = 0.3
	moderateRiskThreshold = 0.7
)

// Rule is a generated candidate rule.
type Rule struct {
	ID         string            `json:"id"`
	Type       string            `json:"type"`
	CreatedAt  time.Time         `json:"created_at"`
	Conditions map[string]string `json:"conditions"`
	Action     string            `json:"action"`
}

// template is a fixed rule-family definition. Conditions lists the
// condition names the family understands; actions is ordered with the
// strictest non-deny action last.
type template struct {
	ruleType   string
	conditions []string
	actions    []string
}

var templates = map[string]template{
	"time_based": {
		ruleType:   "temporal",
		conditions: []string{"time_range", "day_of_week"},
		actions:    []string{ActionAllow, ActionDeny, ActionRequireApproval},
	},
	"location_based": {
		ruleType:   "spatial",
		conditions: []string{"location", "network_type"},
		actions:    []string{ActionAllow, ActionDeny, ActionRequireMFA},
	},
	"risk_based": {
		ruleType:   "risk",
		conditions: []string{"risk_score", "attempt_count"},
		actions:    []string{ActionAllow, ActionDeny, ActionRequireVerification},
	},
}

// knownTypes is the set of rule type names produced by the templates.
var knownTypes = func() map[string]bool {
	types := make(map[string]bool, len(templates))
	for _, t := range templates {
		types[t.ruleType] = true
	}
	return types
}()

// PatternData is the aggregated pattern input to rule generation.
// Conditions carries candidate condition values by name; RiskScore drives
// action escalation. A nil RiskScore is treated as maximum risk, so a
// pattern that omits it generates a deny rule.
type PatternData struct {
	RiskScore  *float64          `json:"risk_score,omitempty"`
	Conditions map[string]string `json:"conditions"`
}

// Generator builds candidate rules from pattern data.
type Generator struct {
	clock  func() time.Time
	logger *zap.Logger
}

// NewGenerator creates a Generator.
func NewGenerator(logger *zap.Logger) *Generator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Generator{clock: time.Now, logger: logger}
}

// SetClock replaces the wall clock used for rule IDs and timestamps.
func (g *Generator) SetClock(clock func() time.Time) {
	g.clock = clock
}

// Generate builds a rule from pattern data using the template for
// ruleType. An unknown ruleType yields nil, not an error. Condition names
// declared by the template are copied from the pattern data when present;
// absent conditions are omitted, not defaulted.
func (g *Generator) Generate(pattern PatternData, ruleType string) *Rule {
	tmpl, ok := templates[ruleType]
	if !ok {
		g.logger.Debug("no template for rule type", zap.String("rule_type", ruleType))
		return nil
	}

	now := g.clock().UTC()
	rule := &Rule{
		ID:         "rule_" + now.Format("20060102150405"),
		Type:       tmpl.ruleType,
		CreatedAt:  now,
		Conditions: make(map[string]string),
		Action:     ActionDeny,
	}

	for _, cond := range tmpl.conditions {
		if v, ok := pattern.Conditions[cond]; ok {
			rule.Conditions[cond] = v
		}
	}

	risk := 1.0
	if pattern.RiskScore != nil {
		risk = *pattern.RiskScore
	}
	switch {
	case risk < lowRiskThreshold:
		rule.Action = ActionAllow
	case risk < moderateRiskThreshold:
		// Strictest non-deny action is last in the template's action list.
		rule.Action = tmpl.actions[len(tmpl.actions)-1]
	}

	return rule
}

// Validate checks a candidate rule: required fields present, at least one
// condition, and a type belonging to the known template type set.
func Validate(r *Rule) bool {
	if r == nil || r.ID == "" || r.Type == "" || r.Action == "" {
		return false
	}
	if len(r.Conditions) == 0 {
		return false
	}
	return knownTypes[r.Type]
}

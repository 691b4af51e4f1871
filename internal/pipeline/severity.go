package pipeline

import "fleet-monitor/fueltheft/internal/domain"

// Classifier maps a drop to a severity tier using an ordered rule table.
type Classifier struct {
	rules []domain.SeverityRule
}

// NewClassifier uses rules in order; nil means domain.DefaultSeverityRules.
func NewClassifier(rules []domain.SeverityRule) *Classifier {
	if rules == nil {
		rules = domain.DefaultSeverityRules
	}
	return &Classifier{rules: rules}
}

// Classify returns the first matching tier, or medium when none matches.
func (c *Classifier) Classify(dropPercent, durationMinutes float64) domain.Severity {
	for _, rule := range c.rules {
		if rule.Matches(dropPercent, durationMinutes) {
			return rule.Severity
		}
	}
	return domain.SeverityMedium
}

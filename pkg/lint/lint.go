// Package lint checks generated artifacts against the semantic quality
// rule set. Rules have stable ids, fixed severities, and optional machine
// fix metadata.
package lint

import "sort"

// Severity levels; errors gate the pipeline exit code, warnings only under
// strict mode, info never.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
	SeverityInfo    Severity = "info"
)

// Issue is one lint finding.
type Issue struct {
	RuleID     string   `json:"rule_id"`
	Severity   Severity `json:"severity"`
	Message    string   `json:"message"`
	Suggestion string   `json:"suggestion,omitempty"`

	// Machine-applicable fix metadata.
	FixDelta    float64 `json:"fix_delta,omitempty"`
	FixParam    string  `json:"fix_param,omitempty"`
	FixTemplate string  `json:"fix_template,omitempty"`
}

// Options filter and gate the rule set.
type Options struct {
	DisabledRules []string
	OnlyRules     []string
	Strict        bool
}

func (o *Options) allows(ruleID string) bool {
	if o == nil {
		return true
	}
	if len(o.OnlyRules) > 0 {
		found := false
		for _, r := range o.OnlyRules {
			if r == ruleID {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	for _, r := range o.DisabledRules {
		if r == ruleID {
			return false
		}
	}
	return true
}

// filter applies the options and orders issues by severity then rule id.
func filter(issues []Issue, opts *Options) []Issue {
	out := issues[:0]
	for _, is := range issues {
		if opts.allows(is.RuleID) {
			out = append(out, is)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Severity != out[j].Severity {
			return severityRank(out[i].Severity) < severityRank(out[j].Severity)
		}
		return out[i].RuleID < out[j].RuleID
	})
	return out
}

func severityRank(s Severity) int {
	switch s {
	case SeverityError:
		return 0
	case SeverityWarning:
		return 1
	}
	return 2
}

// Failed reports whether the issue set fails the run under the severity
// policy: errors always fail, warnings fail in strict mode, info never.
func Failed(issues []Issue, strict bool) bool {
	for _, is := range issues {
		if is.Severity == SeverityError {
			return true
		}
		if strict && is.Severity == SeverityWarning {
			return true
		}
	}
	return false
}

package acquire

import (
	"context"
	"errors"
	"strings"

	"dropwatch/internal/config"
)

type Rule struct {
	Match string
	Kind  ErrorKind
}

// Classifier maps remote error text to an ErrorKind. Rules are matched in
// order, case-insensitively, as substrings; the first hit wins and anything
// unmatched is transient.
type Classifier struct {
	rules []Rule
}

// NewClassifier treats every marker as terminal. overrides are checked before
// the markers so a file-provided rule can reclassify a built-in marker.
func NewClassifier(markers []string, overrides ...Rule) *Classifier {
	rules := make([]Rule, 0, len(overrides)+len(markers))
	for _, r := range overrides {
		if strings.TrimSpace(r.Match) != "" {
			rules = append(rules, Rule{Match: strings.ToUpper(r.Match), Kind: r.Kind})
		}
	}
	for _, m := range markers {
		if strings.TrimSpace(m) != "" {
			rules = append(rules, Rule{Match: strings.ToUpper(m), Kind: KindTerminal})
		}
	}
	return &Classifier{rules: rules}
}

// RulesFromConfig converts YAML marker rules, rejecting unknown kinds.
func RulesFromConfig(in []config.MarkerRule) ([]Rule, error) {
	out := make([]Rule, 0, len(in))
	for _, r := range in {
		kind, err := ParseKind(r.Kind)
		if err != nil {
			return nil, err
		}
		out = append(out, Rule{Match: r.Match, Kind: kind})
	}
	return out, nil
}

func (c *Classifier) Classify(err error) ErrorKind {
	if err == nil {
		return KindTransient
	}
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTransient
	}
	msg := strings.ToUpper(err.Error())
	for _, r := range c.rules {
		if strings.Contains(msg, r.Match) {
			return r.Kind
		}
	}
	return KindTransient
}

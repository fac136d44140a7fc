package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Roster is the identity file: which identities exist, where each one
// delivers acquired units, and which one polls the catalog.
type Roster struct {
	Reader     string           `yaml:"reader"`
	Identities []RosterIdentity `yaml:"identities"`
}

type RosterIdentity struct {
	Name        string `yaml:"name"`
	DisplayName string `yaml:"display_name"`
	Destination string `yaml:"destination"`
	Token       string `yaml:"token,omitempty"`
	TokenEnc    string `yaml:"token_enc,omitempty"`
}

// MarkerRule maps an error substring to an error kind ("terminal" or "transient").
type MarkerRule struct {
	Match string `yaml:"match"`
	Kind  string `yaml:"kind"`
}

func LoadRoster(path string) (Roster, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Roster{}, fmt.Errorf("load roster %q: %w", path, err)
	}
	var roster Roster
	if err := yaml.Unmarshal(data, &roster); err != nil {
		return Roster{}, fmt.Errorf("parse roster %q: %w", path, err)
	}
	if len(roster.Identities) == 0 {
		return Roster{}, fmt.Errorf("roster %q: no identities", path)
	}
	seen := make(map[string]struct{}, len(roster.Identities))
	for _, id := range roster.Identities {
		if strings.TrimSpace(id.Name) == "" {
			return Roster{}, fmt.Errorf("roster %q: identity without name", path)
		}
		if _, dup := seen[id.Name]; dup {
			return Roster{}, fmt.Errorf("roster %q: duplicate identity %q", path, id.Name)
		}
		seen[id.Name] = struct{}{}
	}
	if roster.Reader == "" {
		roster.Reader = roster.Identities[0].Name
	}
	if _, ok := seen[roster.Reader]; !ok {
		return Roster{}, fmt.Errorf("roster %q: reader %q is not a listed identity", path, roster.Reader)
	}
	return roster, nil
}

// LoadMarkerRules reads a YAML document of the form
//
//	markers:
//	  - match: USAGE_LIMIT_EXCEEDED
//	    kind: terminal
func LoadMarkerRules(path string) ([]MarkerRule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load terminal markers %q: %w", path, err)
	}
	var doc struct {
		Markers []MarkerRule `yaml:"markers"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse terminal markers %q: %w", path, err)
	}
	out := make([]MarkerRule, 0, len(doc.Markers))
	for _, m := range doc.Markers {
		if strings.TrimSpace(m.Match) == "" {
			continue
		}
		if m.Kind == "" {
			m.Kind = "terminal"
		}
		out = append(out, m)
	}
	return out, nil
}

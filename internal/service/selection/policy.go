package selection

import (
	"fmt"
	"sort"
	"strings"

	"github.com/google/cel-go/cel"

	"dropwatch/internal/domain"
)

// Policy picks acquisition targets among newly discovered items.
type Policy struct {
	supplyCeiling int64
	filter        cel.Program
}

// NewPolicy builds a policy admitting items whose declared total supply is at
// most supplyCeiling. filterExpr is an optional CEL boolean expression over
// `item` (keys: id, title, cost, total, remaining, restriction,
// per_identity_limit) that must also hold.
func NewPolicy(supplyCeiling int64, filterExpr string) (*Policy, error) {
	p := &Policy{supplyCeiling: supplyCeiling}
	if strings.TrimSpace(filterExpr) == "" {
		return p, nil
	}
	env, err := cel.NewEnv(
		cel.Variable("item", cel.MapType(cel.StringType, cel.DynType)),
	)
	if err != nil {
		return nil, fmt.Errorf("create CEL env: %w", err)
	}
	ast, issues := env.Compile(filterExpr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("compile selection filter: %w", issues.Err())
	}
	prg, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("selection filter program: %w", err)
	}
	p.filter = prg
	return p, nil
}

// Select returns the limited-supply items within the ceiling, scarcest first.
// Items with equal totals keep their input order.
func (p *Policy) Select(items []domain.Item) []domain.Item {
	out := make([]domain.Item, 0, len(items))
	for _, item := range items {
		total, ok := item.TotalSupply()
		if !ok || total > p.supplyCeiling {
			continue
		}
		if p.filter != nil && !p.admit(item) {
			continue
		}
		out = append(out, item)
	}
	sort.SliceStable(out, func(i, j int) bool {
		ti, _ := out[i].TotalSupply()
		tj, _ := out[j].TotalSupply()
		return ti < tj
	})
	return out
}

func (p *Policy) admit(item domain.Item) bool {
	total, _ := item.TotalSupply()
	var perIdentity int64 = -1
	if item.PerIdentityLimit != nil {
		perIdentity = *item.PerIdentityLimit
	}
	out, _, err := p.filter.Eval(map[string]interface{}{
		"item": map[string]interface{}{
			"id":                 item.ID.String(),
			"title":              item.Title,
			"cost":               item.AcquisitionCost.InexactFloat64(),
			"total":              total,
			"remaining":          item.Remaining(),
			"restriction":        item.Restriction,
			"per_identity_limit": perIdentity,
		},
	})
	if err != nil {
		return false
	}
	allowed, ok := out.Value().(bool)
	return ok && allowed
}

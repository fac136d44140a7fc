package selection

import (
	"strconv"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"dropwatch/internal/domain"
)

func buildItems(totals []int64, unlimitedMask []bool) []domain.Item {
	items := make([]domain.Item, len(totals))
	for i, total := range totals {
		items[i] = limited(strconv.Itoa(i), total)
		if i < len(unlimitedMask) && unlimitedMask[i] {
			items[i] = unlimited(strconv.Itoa(i))
		}
	}
	return items
}

func TestSelectProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	const ceiling = 5000
	p, err := NewPolicy(ceiling, "")
	if err != nil {
		t.Fatalf("NewPolicy: %v", err)
	}

	totalsGen := gen.SliceOf(gen.Int64Range(0, 10000))
	maskGen := gen.SliceOf(gen.Bool())

	properties.Property("selected items are limited, within the ceiling and ascending", prop.ForAll(
		func(totals []int64, mask []bool) bool {
			got := p.Select(buildItems(totals, mask))
			var prev int64 = -1
			for _, item := range got {
				total, ok := item.TotalSupply()
				if !ok || total > ceiling || total < prev {
					return false
				}
				prev = total
			}
			return true
		},
		totalsGen, maskGen,
	))

	properties.Property("every qualifying item is selected", prop.ForAll(
		func(totals []int64, mask []bool) bool {
			items := buildItems(totals, mask)
			want := 0
			for _, item := range items {
				if total, ok := item.TotalSupply(); ok && total <= ceiling {
					want++
				}
			}
			return len(p.Select(items)) == want
		},
		totalsGen, maskGen,
	))

	properties.Property("selection is deterministic", prop.ForAll(
		func(totals []int64, mask []bool) bool {
			items := buildItems(totals, mask)
			a, b := p.Select(items), p.Select(items)
			if len(a) != len(b) {
				return false
			}
			for i := range a {
				if a[i].ID != b[i].ID {
					return false
				}
			}
			return true
		},
		totalsGen, maskGen,
	))

	properties.TestingRun(t)
}

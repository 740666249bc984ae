// internal/extract/policy.go
package extract

import (
	"fmt"
	"sort"
	"strings"
)

// Rounding selects how a calorie range is reduced to one value.
type Rounding string

const (
	RoundFloor Rounding = "floor"
	RoundCeil  Rounding = "ceil"
)

// DefaultMaxCalories is the largest single value accepted from a line.
const DefaultMaxCalories = 100000

// Policy holds the knobs that model outputs disagree on.
type Policy struct {
	Name string `yaml:"name" json:"name"`

	// RecordTotals keeps summary lines as ingredient records that are
	// excluded from the total. When false they are dropped.
	RecordTotals bool `yaml:"record_totals" json:"record_totals"`

	// AveragePairs averages the first two digit runs of a value that has
	// no explicit range marker ("100 200 calories").
	AveragePairs bool `yaml:"average_pairs" json:"average_pairs"`

	RangeRounding Rounding `yaml:"range_rounding" json:"range_rounding"`

	// ExcludePhrases turn a whole line into noise (lowercase substring match).
	ExcludePhrases []string `yaml:"exclude_phrases" json:"exclude_phrases"`

	// TotalGuardPhrases keep a record out of the total when its name
	// contains one of them.
	TotalGuardPhrases []string `yaml:"total_guard_phrases" json:"total_guard_phrases"`

	MaxCalories int `yaml:"max_calories" json:"max_calories"`
}

var defaultExcludePhrases = []string{
	"if unsweetened",
	"if sweetened",
	"add sugar",
	"added sugar",
	"depending on",
	"varies by",
}

var defaultTotalGuardPhrases = []string{
	"total",
	"estimated calories",
}

// DefaultPolicy records summary lines, excludes them from the total and
// floors range averages.
func DefaultPolicy() Policy {
	return Policy{
		Name:              "default",
		RecordTotals:      true,
		RangeRounding:     RoundFloor,
		ExcludePhrases:    append([]string(nil), defaultExcludePhrases...),
		TotalGuardPhrases: append([]string(nil), defaultTotalGuardPhrases...),
		MaxCalories:       DefaultMaxCalories,
	}
}

var policies = map[string]func() Policy{
	"default": DefaultPolicy,
	"strict": func() Policy {
		p := DefaultPolicy()
		p.Name = "strict"
		p.RecordTotals = false
		return p
	},
	"lenient": func() Policy {
		p := DefaultPolicy()
		p.Name = "lenient"
		p.AveragePairs = true
		return p
	},
	"ceiling": func() Policy {
		p := DefaultPolicy()
		p.Name = "ceiling"
		p.RangeRounding = RoundCeil
		return p
	},
}

// LookupPolicy returns a copy of a named policy. An empty name means default.
func LookupPolicy(name string) (Policy, error) {
	if name == "" {
		name = "default"
	}
	build, ok := policies[strings.ToLower(name)]
	if !ok {
		return Policy{}, fmt.Errorf("unknown extraction policy %q (known: %s)", name, strings.Join(PolicyNames(), ", "))
	}
	return build(), nil
}

// PolicyNames lists the built-in policies in sorted order.
func PolicyNames() []string {
	names := make([]string, 0, len(policies))
	for name := range policies {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Validate reports a configuration that cannot be applied.
func (p Policy) Validate() error {
	switch p.RangeRounding {
	case RoundFloor, RoundCeil:
	default:
		return fmt.Errorf("range_rounding must be %q or %q, got %q", RoundFloor, RoundCeil, p.RangeRounding)
	}
	if p.MaxCalories <= 0 {
		return fmt.Errorf("max_calories must be positive, got %d", p.MaxCalories)
	}
	return nil
}

// normalized lowercases phrase lists and fills zero values.
func (p Policy) normalized() Policy {
	if p.RangeRounding == "" {
		p.RangeRounding = RoundFloor
	}
	if p.MaxCalories <= 0 {
		p.MaxCalories = DefaultMaxCalories
	}
	p.ExcludePhrases = lowerAll(p.ExcludePhrases)
	p.TotalGuardPhrases = lowerAll(p.TotalGuardPhrases)
	return p
}

func lowerAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.ToLower(strings.TrimSpace(s))
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

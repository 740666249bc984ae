// internal/extract/aggregate.go
package extract

import "strings"

// Ingredient is one food item read from the response.
type Ingredient struct {
	Name     string `json:"name"`
	Calories int    `json:"calories"`

	// ExcludedFromTotal is set on summary records that are kept for
	// display but not summed.
	ExcludedFromTotal bool `json:"excluded_from_total,omitempty"`
}

// Result is the structured form of one model response.
//
// TotalCalories only sums records whose ExcludedFromTotal is false, so it
// can be smaller than the sum over Ingredients.
type Result struct {
	Ingredients   []Ingredient `json:"ingredients"`
	TotalCalories int          `json:"total_calories"`
}

// Empty reports whether nothing usable was found.
func (r Result) Empty() bool {
	return len(r.Ingredients) == 0
}

// ItemizedCalories sums every record, counted or not.
func (r Result) ItemizedCalories() int {
	sum := 0
	for _, ing := range r.Ingredients {
		sum += ing.Calories
	}
	return sum
}

// Entry is a line that made it through classification, extraction and
// normalization.
type Entry struct {
	Name          string
	Calories      int
	TotalExcluded bool
}

// Aggregate builds the result in entry order. A record is left out of the
// total when the classifier flagged it or its name carries a guard phrase,
// so a summary line is never counted twice.
func Aggregate(p Policy, entries []Entry) Result {
	guards := p.normalized().TotalGuardPhrases

	res := Result{Ingredients: make([]Ingredient, 0, len(entries))}
	for _, e := range entries {
		excluded := e.TotalExcluded || containsAny(strings.ToLower(e.Name), guards)
		res.Ingredients = append(res.Ingredients, Ingredient{
			Name:              e.Name,
			Calories:          e.Calories,
			ExcludedFromTotal: excluded,
		})
		if !excluded {
			res.TotalCalories += e.Calories
		}
	}
	return res
}

func containsAny(s string, phrases []string) bool {
	for _, p := range phrases {
		if strings.Contains(s, p) {
			return true
		}
	}
	return false
}

// internal/extract/classify.go
package extract

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Kind is the role a single response line plays.
type Kind int

const (
	Noise Kind = iota
	IngredientCandidate
	TotalSummary
)

func (k Kind) String() string {
	switch k {
	case IngredientCandidate:
		return "ingredient_candidate"
	case TotalSummary:
		return "total_summary"
	default:
		return "noise"
	}
}

// Classification is the verdict for one line. Label and Value are the
// two halves around the separator when the line has one.
type Classification struct {
	Kind Kind
	Rule string

	// TotalExcluded marks a summary line kept as a record but left out
	// of the total.
	TotalExcluded bool

	Label string
	Value string
}

// Recognizer names, in evaluation order.
const (
	RuleBlank          = "blank"
	RuleNoKeyword      = "no-calorie-keyword"
	RuleExcludedPhrase = "excluded-phrase"
	RuleNoNumber       = "no-number"
	RuleTotalSummary   = "total-summary"
	RuleLabelledValue  = "labelled-value"
	RuleUnlabelled     = "unlabelled"
)

var (
	calorieKeyword = regexp.MustCompile(`(?i)calorie`)
	totalWord      = regexp.MustCompile(`(?i)\btotal\b`)
	dashSeparator  = regexp.MustCompile(`\s[-–—]\s`)
)

type recognizer struct {
	name  string
	match func(c *Classifier, line string) (Classification, bool)
}

// recognizers run in order; the first match decides.
var recognizers = []recognizer{
	{RuleBlank, func(_ *Classifier, line string) (Classification, bool) {
		return noise(RuleBlank), line == ""
	}},
	{RuleNoKeyword, func(_ *Classifier, line string) (Classification, bool) {
		return noise(RuleNoKeyword), !calorieKeyword.MatchString(line)
	}},
	{RuleExcludedPhrase, func(c *Classifier, line string) (Classification, bool) {
		lower := strings.ToLower(line)
		for _, phrase := range c.excludePhrases {
			if strings.Contains(lower, phrase) {
				return noise(RuleExcludedPhrase), true
			}
		}
		return Classification{}, false
	}},
	{RuleNoNumber, func(_ *Classifier, line string) (Classification, bool) {
		return noise(RuleNoNumber), strings.IndexFunc(line, unicode.IsDigit) < 0
	}},
	{RuleTotalSummary, func(c *Classifier, line string) (Classification, bool) {
		if !totalWord.MatchString(line) {
			return Classification{}, false
		}
		if c.recordTotals {
			if label, value, ok := labelled(line); ok {
				return Classification{
					Kind:          IngredientCandidate,
					Rule:          RuleTotalSummary,
					TotalExcluded: true,
					Label:         label,
					Value:         value,
				}, true
			}
		}
		return Classification{Kind: TotalSummary, Rule: RuleTotalSummary}, true
	}},
	{RuleLabelledValue, func(_ *Classifier, line string) (Classification, bool) {
		label, value, ok := labelled(line)
		if !ok {
			return Classification{}, false
		}
		return Classification{
			Kind:  IngredientCandidate,
			Rule:  RuleLabelledValue,
			Label: label,
			Value: value,
		}, true
	}},
}

func noise(rule string) Classification {
	return Classification{Kind: Noise, Rule: rule}
}

// labelled splits a line around its separator. The label must still name
// something after normalization and the value must carry a digit.
func labelled(line string) (label, value string, ok bool) {
	label, value, ok = splitSeparator(line)
	if !ok || NormalizeName(label) == "" || strings.IndexFunc(value, unicode.IsDigit) < 0 {
		return "", "", false
	}
	return label, value, true
}

// splitSeparator cuts at the first colon, or else at the first dash that
// stands between spaces, which leaves bullets and "100-200" ranges alone.
// A spaced dash with digits on both sides ("200 - 250") is a range too.
func splitSeparator(line string) (string, string, bool) {
	if i := strings.IndexByte(line, ':'); i >= 0 {
		return line[:i], line[i+1:], true
	}
	for _, loc := range dashSeparator.FindAllStringIndex(line, -1) {
		before, _ := utf8.DecodeLastRuneInString(line[:loc[0]])
		after, _ := utf8.DecodeRuneInString(line[loc[1]:])
		if unicode.IsDigit(before) && unicode.IsDigit(after) {
			continue
		}
		return line[:loc[0]], line[loc[1]:], true
	}
	return "", "", false
}

// Classifier labels lines of a model response. It holds no mutable state.
type Classifier struct {
	recordTotals   bool
	excludePhrases []string
}

func NewClassifier(p Policy) *Classifier {
	p = p.normalized()
	return &Classifier{
		recordTotals:   p.RecordTotals,
		excludePhrases: p.ExcludePhrases,
	}
}

// Classify runs the recognizers over a single line.
func (c *Classifier) Classify(line string) Classification {
	line = strings.TrimSpace(line)
	for _, r := range recognizers {
		if cl, ok := r.match(c, line); ok {
			return cl
		}
	}
	return noise(RuleUnlabelled)
}

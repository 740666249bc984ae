// internal/extract/value.go
package extract

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var (
	ErrNoValue       = errors.New("no calorie value")
	ErrValueTooLarge = errors.New("calorie value out of range")
)

// A number is a digit run, optionally grouped by thousands, with an
// ignored decimal fraction. Group 1 is the integer part.
const numberPattern = `(\d{1,3}(?:,\d{3})+|\d+)(?:\.\d+)?`

var (
	rangeValue  = regexp.MustCompile(numberPattern + `\s*[-–—]\s*` + numberPattern)
	singleValue = regexp.MustCompile(numberPattern)
)

// Extractor reads a calorie value out of the value half of a line.
type Extractor struct {
	averagePairs bool
	rounding     Rounding
	max          int
}

func NewExtractor(p Policy) *Extractor {
	p = p.normalized()
	return &Extractor{
		averagePairs: p.AveragePairs,
		rounding:     p.RangeRounding,
		max:          p.MaxCalories,
	}
}

// Extract returns one non-negative calorie value. A range "N-M" is
// reduced to its midpoint, otherwise the first number wins.
func (e *Extractor) Extract(segment string) (int, error) {
	if m := rangeValue.FindStringSubmatch(segment); m != nil {
		return e.midpoint(m[1], m[2])
	}

	runs := singleValue.FindAllStringSubmatch(segment, 2)
	switch {
	case len(runs) == 0:
		return 0, ErrNoValue
	case len(runs) == 2 && e.averagePairs:
		return e.midpoint(runs[0][1], runs[1][1])
	default:
		return e.parse(runs[0][1])
	}
}

func (e *Extractor) midpoint(a, b string) (int, error) {
	lo, err := e.parse(a)
	if err != nil {
		return 0, err
	}
	hi, err := e.parse(b)
	if err != nil {
		return 0, err
	}
	if e.rounding == RoundCeil {
		return (lo + hi + 1) / 2, nil
	}
	return (lo + hi) / 2, nil
}

func (e *Extractor) parse(digits string) (int, error) {
	n, err := strconv.Atoi(strings.ReplaceAll(digits, ",", ""))
	if err != nil || n > e.max {
		return 0, fmt.Errorf("%w: %s", ErrValueTooLarge, digits)
	}
	return n, nil
}

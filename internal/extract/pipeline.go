// Package extract turns the free-text answer of a vision model into a list
// of (item, calories) records and a total.
//
// The flow is line oriented:
// raw text → lines → classification → value extraction → name normalization → aggregation
//
// Every step is a pure function of its input. A line that fails any step is
// dropped and logged; the pipeline itself never returns an error.
package extract

import (
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// ErrLineSkipped is wrapped by every per-line failure.
var ErrLineSkipped = errors.New("line skipped")

// LineSkippedError describes why one line did not produce a record.
type LineSkippedError struct {
	Line   int
	Rule   string
	Reason error
}

func (e *LineSkippedError) Error() string {
	if e.Reason != nil {
		return fmt.Sprintf("line %d skipped by %s: %v", e.Line, e.Rule, e.Reason)
	}
	return fmt.Sprintf("line %d skipped by %s", e.Line, e.Rule)
}

func (e *LineSkippedError) Unwrap() []error {
	if e.Reason != nil {
		return []error{ErrLineSkipped, e.Reason}
	}
	return []error{ErrLineSkipped}
}

// Pipeline wires the classifier, extractor and aggregator for one policy.
// It is safe for concurrent use.
type Pipeline struct {
	policy     Policy
	classifier *Classifier
	extractor  *Extractor
	logger     *zap.Logger
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithLogger sets the logger that receives skipped-line events.
func WithLogger(logger *zap.Logger) Option {
	return func(p *Pipeline) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// New builds a pipeline for the given policy.
func New(policy Policy, opts ...Option) *Pipeline {
	policy = policy.normalized()
	p := &Pipeline{
		policy:     policy,
		classifier: NewClassifier(policy),
		extractor:  NewExtractor(policy),
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run extracts with the default policy.
func Run(raw string) Result {
	return New(DefaultPolicy()).Run(raw)
}

// Policy returns the policy the pipeline was built with.
func (p *Pipeline) Policy() Policy {
	return p.policy
}

// Run parses a full model response.
func (p *Pipeline) Run(raw string) Result {
	lines := SplitLines(raw)
	entries := make([]Entry, 0, len(lines))

	for i, line := range lines {
		entry, err := p.line(i+1, line)
		if err != nil {
			var skipped *LineSkippedError
			if errors.As(err, &skipped) && skipped.Rule == RuleBlank {
				continue
			}
			p.logger.Debug("extract: line skipped",
				zap.Int("line", i+1),
				zap.String("text", line),
				zap.Error(err))
			continue
		}
		entries = append(entries, entry)
	}

	return Aggregate(p.policy, entries)
}

func (p *Pipeline) line(n int, line string) (Entry, error) {
	cl := p.classifier.Classify(line)
	if cl.Kind != IngredientCandidate {
		return Entry{}, &LineSkippedError{Line: n, Rule: cl.Rule}
	}

	calories, err := p.extractor.Extract(cl.Value)
	if err != nil {
		return Entry{}, &LineSkippedError{Line: n, Rule: cl.Rule, Reason: err}
	}

	name := NormalizeName(cl.Label)
	if name == "" {
		return Entry{}, &LineSkippedError{Line: n, Rule: cl.Rule, Reason: errors.New("empty name")}
	}

	return Entry{Name: name, Calories: calories, TotalExcluded: cl.TotalExcluded}, nil
}

// SplitLines breaks text on \r\n, \n or a lone \r. Blank lines are kept.
func SplitLines(raw string) []string {
	raw = strings.ReplaceAll(raw, "\r\n", "\n")
	raw = strings.ReplaceAll(raw, "\r", "\n")
	return strings.Split(raw, "\n")
}

// Package matcher maps column names written in SQL onto the columns of a
// normalized result. Strategies are tried in a fixed order and the first
// hit wins. When nothing matches the caller gets a column-mapping error;
// there is no positional fallback.
package matcher

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/sirupsen/logrus"

	dherrors "github.com/hmis-ug/dhis2sql/internal/errors"
	"github.com/hmis-ug/dhis2sql/internal/sanitize"
)

// Strategy tries to find expected among candidates.
type Strategy interface {
	Name() string
	TryMatch(expected string, candidates []string) (string, bool)
}

// Exact matches byte-for-byte.
type Exact struct{}

func (Exact) Name() string { return "exact" }

func (Exact) TryMatch(expected string, candidates []string) (string, bool) {
	for _, c := range candidates {
		if c == expected {
			return c, true
		}
	}
	return "", false
}

// Sanitized compares sanitized forms.
type Sanitized struct{}

func (Sanitized) Name() string { return "sanitized" }

func (Sanitized) TryMatch(expected string, candidates []string) (string, bool) {
	want := sanitize.Column(expected)
	for _, c := range candidates {
		if sanitize.Column(c) == want {
			return c, true
		}
	}
	return "", false
}

// CaseInsensitive compares sanitized forms ignoring case.
type CaseInsensitive struct{}

func (CaseInsensitive) Name() string { return "case_insensitive" }

func (CaseInsensitive) TryMatch(expected string, candidates []string) (string, bool) {
	want := sanitize.Column(expected)
	for _, c := range candidates {
		if strings.EqualFold(sanitize.Column(c), want) {
			return c, true
		}
	}
	return "", false
}

// Normalized compares lower-cased letters and digits only. It only
// accepts a unique hit.
type Normalized struct{}

func (Normalized) Name() string { return "normalized" }

func (Normalized) TryMatch(expected string, candidates []string) (string, bool) {
	want := alnum(expected)
	if want == "" {
		return "", false
	}
	var hit string
	n := 0
	for _, c := range candidates {
		if alnum(c) == want {
			hit = c
			n++
		}
	}
	return hit, n == 1
}

func alnum(s string) string {
	var b strings.Builder
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(unicode.ToLower(r))
		}
	}
	return b.String()
}

var aggregatePattern = regexp.MustCompile(`(?i)^\s*"?(SUM|COUNT|AVG|MIN|MAX)\s*\(\s*(DISTINCT\s+)?"?([^")]*)"?\s*\)"?\s*$`)

// Aggregate unwraps SUM(x) style names so they match x, and matches a bare
// name against wrapped candidates.
type Aggregate struct{}

func (Aggregate) Name() string { return "aggregate" }

func (Aggregate) TryMatch(expected string, candidates []string) (string, bool) {
	if inner, ok := Unwrap(expected); ok {
		if c, ok := (CaseInsensitive{}).TryMatch(inner, candidates); ok {
			return c, true
		}
	}
	want := strings.ToLower(sanitize.Column(expected))
	for _, c := range candidates {
		if inner, ok := Unwrap(c); ok && strings.ToLower(sanitize.Column(inner)) == want {
			return c, true
		}
	}
	return "", false
}

// Unwrap returns x for a name of the form FUNC(x).
func Unwrap(name string) (string, bool) {
	m := aggregatePattern.FindStringSubmatch(name)
	if m == nil || strings.TrimSpace(m[3]) == "" || m[3] == "*" {
		return "", false
	}
	return strings.TrimSpace(m[3]), true
}

// DefaultStrategies is the standard order.
var DefaultStrategies = []Strategy{Exact{}, Sanitized{}, CaseInsensitive{}, Normalized{}, Aggregate{}}

// Recorder receives the strategy that matched each column.
type Recorder interface {
	RecordMatch(strategy string)
}

// Matcher applies strategies in order.
type Matcher struct {
	strategies []Strategy
	logger     logrus.FieldLogger
	recorder   Recorder
}

// Option configures a Matcher.
type Option func(*Matcher)

// WithStrategies replaces the strategy order.
func WithStrategies(s ...Strategy) Option {
	return func(m *Matcher) { m.strategies = s }
}

// WithLogger sets the logger.
func WithLogger(l logrus.FieldLogger) Option {
	return func(m *Matcher) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithRecorder reports matched strategies to r.
func WithRecorder(r Recorder) Option {
	return func(m *Matcher) { m.recorder = r }
}

// New creates a Matcher with the default strategies.
func New(opts ...Option) *Matcher {
	m := &Matcher{strategies: DefaultStrategies, logger: logrus.StandardLogger()}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Match returns the candidate that expected refers to. It fails with a
// COLUMN_MAPPING error when no strategy matches.
func (m *Matcher) Match(expected string, candidates []string) (string, error) {
	for _, s := range m.strategies {
		if c, ok := s.TryMatch(expected, candidates); ok {
			if m.recorder != nil {
				m.recorder.RecordMatch(s.Name())
			}
			if s.Name() != (Exact{}).Name() {
				m.logger.WithFields(logrus.Fields{
					"column":   expected,
					"matched":  c,
					"strategy": s.Name(),
				}).Debug("column matched")
			}
			return c, nil
		}
	}
	m.logger.WithFields(logrus.Fields{
		"column":     expected,
		"candidates": candidates,
	}).Error("column could not be mapped to any result column")
	return "", dherrors.NewColumnMappingError(expected, candidates)
}

// Index is Match returning the candidate's position.
func (m *Matcher) Index(expected string, candidates []string) (int, error) {
	c, err := m.Match(expected, candidates)
	if err != nil {
		return -1, err
	}
	for i, cand := range candidates {
		if cand == c {
			return i, nil
		}
	}
	return -1, dherrors.NewColumnMappingError(expected, candidates)
}

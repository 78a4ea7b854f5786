// Package discovery finds references to a database identifier inside packed
// repositories. A static pattern catalog parameterised by the identifier is
// run per file, filtered by the file's classified source type; match
// confidence combines pattern strength with classifier confidence.
package discovery

import (
	"fmt"
	"regexp"

	"github.com/c360studio/dbworkflow/classify"
)

// Weights calibrates pattern strength. Exposed as configuration because the
// calibration is deployment-specific; the defaults are locked by tests.
type Weights struct {
	ExactIdentifier    float64 `yaml:"exact_identifier"`
	ConfigKey          float64 `yaml:"config_key"`
	ConnectionString   float64 `yaml:"connection_string"`
	SQLVerb            float64 `yaml:"sql_verb"`
	PunctuationBounded float64 `yaml:"punctuation_bounded"`

	// CommentFactor downweights matches on comment lines.
	CommentFactor float64 `yaml:"comment_factor"`
}

// DefaultWeights returns the locked default calibration. Exact identifier
// hits on non-comment lines score >= 0.8 after combination with a
// classifier confidence of >= 0.8.
func DefaultWeights() Weights {
	return Weights{
		ExactIdentifier:    1.0,
		ConfigKey:          0.95,
		ConnectionString:   0.9,
		SQLVerb:            0.85,
		PunctuationBounded: 0.8,
		CommentFactor:      0.5,
	}
}

// PatternKind names the shape a pattern matches.
type PatternKind string

const (
	KindExact            PatternKind = "exact_identifier"
	KindConfigKey        PatternKind = "config_key"
	KindConnectionString PatternKind = "connection_string"
	KindSQLVerb          PatternKind = "sql_verb"
	KindPunctuation      PatternKind = "punctuation_bounded"
)

// Pattern is one compiled shape of the catalog.
type Pattern struct {
	ID       string
	Kind     PatternKind
	Regexp   *regexp.Regexp
	Strength float64
}

// Catalog is the pattern set for one database identifier.
type Catalog struct {
	database string
	weights  Weights

	generic []Pattern
	sql     []Pattern
	config  []Pattern
}

// NewCatalog compiles the pattern catalog for a database identifier.
func NewCatalog(database string, weights Weights) *Catalog {
	quoted := regexp.QuoteMeta(database)

	c := &Catalog{database: database, weights: weights}

	c.generic = []Pattern{
		{
			ID:       "exact-identifier",
			Kind:     KindExact,
			Regexp:   regexp.MustCompile(`(?i)\b` + quoted + `\b`),
			Strength: weights.ExactIdentifier,
		},
		{
			ID:       "punctuation-bounded",
			Kind:     KindPunctuation,
			Regexp:   regexp.MustCompile(`(?i)["'` + "`" + `/.=:\-]` + quoted + `["'` + "`" + `/.=:\-]`),
			Strength: weights.PunctuationBounded,
		},
		{
			ID:       "connection-string",
			Kind:     KindConnectionString,
			Regexp:   regexp.MustCompile(`(?i)\w+://[^\s"']*` + quoted + `|(?:dbname|database|db)\s*=\s*["']?` + quoted),
			Strength: weights.ConnectionString,
		},
	}

	c.config = []Pattern{
		{
			ID:       "config-key",
			Kind:     KindConfigKey,
			Regexp:   regexp.MustCompile(`(?i)\b` + quoted + `_(?:HOST|PORT|URL|USER|PASSWORD|NAME|DSN)\b`),
			Strength: weights.ConfigKey,
		},
	}

	c.sql = []Pattern{
		{
			ID:       "sql-verb",
			Kind:     KindSQLVerb,
			Regexp:   regexp.MustCompile(`(?i)\b(?:USE|DROP\s+DATABASE|CREATE\s+DATABASE|ALTER\s+DATABASE|CONNECT\s+TO|GRANT\s+.*\s+ON)\s+["'` + "`" + `]?` + quoted),
			Strength: weights.SQLVerb,
		},
	}

	return c
}

// Database returns the identifier this catalog was compiled for.
func (c *Catalog) Database() string {
	return c.database
}

// For returns the union of patterns applicable to a source type, strongest
// first. Every type gets the generic shapes; configuration-like types add
// the config-key shape; SQL adds the SQL verbs.
func (c *Catalog) For(sourceType classify.SourceType) []Pattern {
	patterns := append([]Pattern{}, c.generic...)

	switch sourceType {
	case classify.Configuration, classify.Infrastructure, classify.Python, classify.Shell:
		patterns = append(patterns, c.config...)
	case classify.SQL:
		patterns = append(patterns, c.sql...)
		patterns = append(patterns, c.config...)
	}

	// Strongest first so the first hit on a line is the best one.
	for i := 1; i < len(patterns); i++ {
		for j := i; j > 0 && patterns[j].Strength > patterns[j-1].Strength; j-- {
			patterns[j], patterns[j-1] = patterns[j-1], patterns[j]
		}
	}
	return patterns
}

// Validate rejects nonsensical calibrations.
func (w Weights) Validate() error {
	for name, value := range map[string]float64{
		"exact_identifier":    w.ExactIdentifier,
		"config_key":          w.ConfigKey,
		"connection_string":   w.ConnectionString,
		"sql_verb":            w.SQLVerb,
		"punctuation_bounded": w.PunctuationBounded,
		"comment_factor":      w.CommentFactor,
	} {
		if value <= 0 || value > 1 {
			return fmt.Errorf("weight %s must be in (0, 1], got %v", name, value)
		}
	}
	return nil
}

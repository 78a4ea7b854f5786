// Package rules rewrites files that reference a decommissioned database.
// Rule packs are selected per source type; rules are pure content
// transformations, and writes happen only in ApplyAndCommit.
package rules

import (
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/c360studio/dbworkflow/classify"
)

// Action names a rule's transformation.
type Action string

const (
	// ActionCommentOut prefixes matched lines (or blocks) with the source
	// type's comment token, preserving indentation.
	ActionCommentOut Action = "comment_out"

	// ActionDeleteLine physically removes matched lines.
	ActionDeleteLine Action = "delete_line"

	// ActionInsertNotice inserts a deprecation comment above matched lines.
	ActionInsertNotice Action = "insert_deprecation_notice"

	// ActionReplaceWithException replaces the enclosing Python function body
	// with a raise statement, keeping the original body as comments.
	ActionReplaceWithException Action = "replace_with_exception"

	// ActionPrependHeader marks the file for the banner only; the engine
	// prepends it to every modified file regardless.
	ActionPrependHeader Action = "prepend_header"
)

// IsValid reports whether the action is known.
func (a Action) IsValid() bool {
	switch a {
	case ActionCommentOut, ActionDeleteLine, ActionInsertNotice,
		ActionReplaceWithException, ActionPrependHeader:
		return true
	}
	return false
}

// Rule is one transformation. Pattern is a regular expression template where
// {{db}} expands to the quoted database identifier; matching is
// case-insensitive.
type Rule struct {
	ID         string                `yaml:"id"`
	AppliesTo  []classify.SourceType `yaml:"applies_to"`
	Frameworks []string              `yaml:"frameworks,omitempty"`
	Pattern    string                `yaml:"pattern"`
	Action     Action                `yaml:"action"`

	// Replacement overrides the default notice text for
	// insert_deprecation_notice rules.
	Replacement string `yaml:"replacement,omitempty"`

	// Priority orders rules within a pack; higher runs first.
	Priority int `yaml:"priority"`
}

// Validate rejects malformed rules.
func (r Rule) Validate() error {
	if r.ID == "" {
		return fmt.Errorf("rule without id")
	}
	if len(r.AppliesTo) == 0 {
		return fmt.Errorf("rule %s: applies_to is empty", r.ID)
	}
	for _, st := range r.AppliesTo {
		if !st.IsValid() {
			return fmt.Errorf("rule %s: unknown source type %q", r.ID, st)
		}
	}
	if r.Pattern == "" {
		return fmt.Errorf("rule %s: pattern is empty", r.ID)
	}
	if !r.Action.IsValid() {
		return fmt.Errorf("rule %s: unknown action %q", r.ID, r.Action)
	}
	if _, err := compilePattern(r.Pattern, "probe"); err != nil {
		return fmt.Errorf("rule %s: %w", r.ID, err)
	}
	return nil
}

// compilePattern expands the {{db}} template and compiles the rule pattern
// case-insensitively.
func compilePattern(template, database string) (*regexp.Regexp, error) {
	expanded := strings.ReplaceAll(template, "{{db}}", regexp.QuoteMeta(database))
	re, err := regexp.Compile(`(?i)` + expanded)
	if err != nil {
		return nil, fmt.Errorf("compile pattern %q: %w", template, err)
	}
	return re, nil
}

// BuiltinRules returns the default rule packs for every source type.
func BuiltinRules() []Rule {
	return []Rule{
		{
			ID:        "infra-comment-block",
			AppliesTo: []classify.SourceType{classify.Infrastructure},
			Pattern:   `\b{{db}}\b`,
			Action:    ActionCommentOut,
			Priority:  100,
		},
		{
			ID:        "config-comment",
			AppliesTo: []classify.SourceType{classify.Configuration},
			Pattern:   `\b{{db}}\b|\b{{db}}_(?:HOST|PORT|URL|USER|PASSWORD|NAME|DSN)\b`,
			Action:    ActionCommentOut,
			Priority:  100,
		},
		{
			ID:        "sql-comment",
			AppliesTo: []classify.SourceType{classify.SQL},
			Pattern:   `\b{{db}}\b`,
			Action:    ActionCommentOut,
			Priority:  100,
		},
		{
			ID:        "python-raise",
			AppliesTo: []classify.SourceType{classify.Python},
			Pattern:   `\b{{db}}\b`,
			Action:    ActionReplaceWithException,
			Priority:  100,
		},
		{
			ID:        "shell-comment",
			AppliesTo: []classify.SourceType{classify.Shell},
			Pattern:   `\b{{db}}\b`,
			Action:    ActionCommentOut,
			Priority:  100,
		},
		{
			ID:        "docs-notice",
			AppliesTo: []classify.SourceType{classify.Documentation, classify.Mixed, classify.Unknown},
			Pattern:   `\b{{db}}\b`,
			Action:    ActionInsertNotice,
			Priority:  100,
		},
	}
}

// overlayFile is the YAML shape of a rule-pack overlay.
type overlayFile struct {
	Rules []Rule `yaml:"rules"`
}

// LoadOverlay parses a YAML rule overlay. Overlay rules sharing an ID with a
// built-in replace it; others extend the packs.
func LoadOverlay(path string) ([]Rule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rules overlay: %w", err)
	}

	var file overlayFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse rules overlay %s: %w", path, err)
	}
	if len(file.Rules) == 0 {
		return nil, fmt.Errorf("rules overlay %s defines no rules", path)
	}
	for _, r := range file.Rules {
		if err := r.Validate(); err != nil {
			return nil, fmt.Errorf("rules overlay %s: %w", path, err)
		}
	}
	return file.Rules, nil
}

// mergeRules overlays extras onto base: matching IDs replace, new IDs append.
// The result is sorted by descending priority, ties by ID.
func mergeRules(base, extras []Rule) []Rule {
	merged := append([]Rule{}, base...)
	for _, extra := range extras {
		replaced := false
		for i := range merged {
			if merged[i].ID == extra.ID {
				merged[i] = extra
				replaced = true
				break
			}
		}
		if !replaced {
			merged = append(merged, extra)
		}
	}

	sort.SliceStable(merged, func(i, j int) bool {
		if merged[i].Priority != merged[j].Priority {
			return merged[i].Priority > merged[j].Priority
		}
		return merged[i].ID < merged[j].ID
	})
	return merged
}

// appliesTo reports whether the rule covers the given classification.
func (r Rule) appliesTo(sourceType classify.SourceType, hints []string) bool {
	matched := false
	for _, st := range r.AppliesTo {
		if st == sourceType {
			matched = true
			break
		}
	}
	if !matched {
		return false
	}
	if len(r.Frameworks) == 0 {
		return true
	}
	for _, want := range r.Frameworks {
		for _, have := range hints {
			if want == have {
				return true
			}
		}
	}
	return false
}
